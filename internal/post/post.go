package post

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind classifies how a post is triggered. Immediate posts are executed on
// the spot and never persisted; oneshot and daily posts live in the job store
// and own a scheduler entry while enabled.
type Kind string

const (
	KindImmediate Kind = "immediate"
	KindOneShot   Kind = "oneshot"
	KindDaily     Kind = "daily"
)

type ContentType string

const (
	ContentText  ContentType = "text"
	ContentPhoto ContentType = "photo"
)

// Content is the message payload: either plain text or a photo reference
// with a caption.
type Content struct {
	Type    ContentType `json:"type"`
	Text    string      `json:"text,omitempty"`
	PhotoID string      `json:"photo_id,omitempty"`
	Caption string      `json:"caption,omitempty"`
}

// MaxCopyValueLen is the upper bound for a copy button's value. It matches
// the transport's callback answer text limit.
const MaxCopyValueLen = 256

// Buttons holds the optional post affordances: a "copy value" button and an
// "open link" button. Either, both, or neither may be set.
type Buttons struct {
	CopyLabel string `json:"copy_label,omitempty"`
	CopyValue string `json:"copy_value,omitempty"`
	LinkLabel string `json:"link_label,omitempty"`
	LinkURL   string `json:"link_url,omitempty"`
}

func (b Buttons) HasCopy() bool { return b.CopyLabel != "" }
func (b Buttons) HasLink() bool { return b.LinkLabel != "" }
func (b Buttons) IsZero() bool  { return !b.HasCopy() && !b.HasLink() }

// ValidLinkURL reports whether s is acceptable for the link button.
// Only http and https schemes are allowed.
func ValidLinkURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// Post is the durable record describing what to send, to whom, when, and
// with what auto-delete policy.
//
// Invariant: an enabled oneshot post has at most one live scheduler entry
// under JobName; an enabled daily post has exactly one recurring entry.
// Editing only ever replaces Content; trigger, destinations and buttons are
// immutable after creation.
type Post struct {
	ID           string   `json:"id"`
	Kind         Kind     `json:"kind"`
	Destinations []string `json:"destinations"`

	// SendAt is the absolute trigger instant (oneshot only).
	SendAt time.Time `json:"send_at,omitempty"`
	// DailyAt is the raw time-of-day string as typed by the operator
	// (daily only). It is re-parsed on every arm, so a record with an
	// unparseable value is skipped at recovery instead of crashing it.
	DailyAt string `json:"daily_at,omitempty"`

	DeleteMinutes int      `json:"delete_minutes"`
	Content       Content  `json:"content"`
	Buttons       *Buttons `json:"buttons,omitempty"`
	Enabled       bool     `json:"enabled"`

	// JobName is the scheduler's cancellation key, derived once from
	// kind+id at creation and stored rather than recomputed at call sites.
	JobName string `json:"job_name"`
}

// JobNameFor derives the stable scheduler key for a post.
func JobNameFor(kind Kind, id string) string {
	return string(kind) + ":" + id
}

// NewID returns a short opaque post id.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
