package post

import "fmt"

// ErrorKind tags every fallible operation's failure with one of the closed
// set of fault categories. Callers branch on the kind explicitly instead of
// string-matching error text.
type ErrorKind int

const (
	ErrUnknown ErrorKind = iota
	// ErrInputValidation: malformed time, empty or over-length button text,
	// invalid URL, non-numeric minutes. Always recovered by re-prompting.
	ErrInputValidation
	// ErrDestinationUnavailable: a destination vanished from the registry
	// between compose time and fire time. Recovered by skipping it.
	ErrDestinationUnavailable
	// ErrDeliveryFailure: the transport call failed for one destination.
	ErrDeliveryFailure
	// ErrSchedulerUnavailable: the timer facility is not running. Fatal for
	// oneshot/daily composition; immediate sends stay usable.
	ErrSchedulerUnavailable
	// ErrPersistence: snapshot unreadable or a write failed. Never crashes
	// the process; in-memory state wins until the next successful write.
	ErrPersistence
	// ErrRecoveryParse: one stored record's trigger failed to parse during
	// recovery. That record is skipped, recovery continues.
	ErrRecoveryParse
)

func (k ErrorKind) String() string {
	switch k {
	case ErrInputValidation:
		return "input_validation"
	case ErrDestinationUnavailable:
		return "destination_unavailable"
	case ErrDeliveryFailure:
		return "delivery_failure"
	case ErrSchedulerUnavailable:
		return "scheduler_unavailable"
	case ErrPersistence:
		return "persistence"
	case ErrRecoveryParse:
		return "recovery_parse"
	default:
		return "unknown"
	}
}

// Error carries an ErrorKind plus an optional cause.
type Error struct {
	Kind  ErrorKind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// E builds a kinded error.
func E(kind ErrorKind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// WrapErr attaches a kind to an underlying error.
func WrapErr(kind ErrorKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

// KindOf extracts the kind from err, or ErrUnknown.
func KindOf(err error) ErrorKind {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return ErrUnknown
		}
		err = u.Unwrap()
	}
	return ErrUnknown
}
