// Package timeparse turns operator-typed strings into absolute timestamps or
// daily time-of-day values. All functions are pure; "now" and the fixed UTC
// offset location are passed in by the caller.
package timeparse

import (
	"fmt"
	"strings"
	"time"
)

// TimeOfDay is a wall-clock time in the configured fixed offset.
type TimeOfDay struct {
	Hour   int
	Minute int
	Second int
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
}

// ParseAbsolute accepts "YYYY/MM/DD HH:MM" or "YYYY/MM/DD HH:MM:SS" in the
// given location. Any other shape fails.
func ParseAbsolute(text string, loc *time.Location) (time.Time, bool) {
	t := strings.TrimSpace(text)
	if t == "" {
		return time.Time{}, false
	}
	t = strings.ReplaceAll(t, "：", ":")
	for _, layout := range []string{"2006/01/02 15:04", "2006/01/02 15:04:05"} {
		if at, err := time.ParseInLocation(layout, t, loc); err == nil {
			return at, true
		}
	}
	return time.Time{}, false
}

// ParseTimeOfDay accepts "H", "H:M", "H:M:S" and the localized hour-marker
// variant ("20点30" means 20:30, "9点" means 9:00). Seconds default to 0.
func ParseTimeOfDay(text string) (TimeOfDay, bool) {
	t := strings.TrimSpace(text)
	if t == "" {
		return TimeOfDay{}, false
	}
	t = strings.ReplaceAll(t, "：", ":")
	t = strings.ReplaceAll(t, "点", ":")
	t = strings.ReplaceAll(t, "分", "")
	t = strings.ReplaceAll(t, " ", "")

	var parts []string
	for _, p := range strings.Split(t, ":") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 || len(parts) > 3 {
		return TimeOfDay{}, false
	}

	nums := make([]int, len(parts))
	for i, p := range parts {
		n, ok := parseUint(p)
		if !ok {
			return TimeOfDay{}, false
		}
		nums[i] = n
	}

	tod := TimeOfDay{Hour: nums[0]}
	if len(nums) > 1 {
		tod.Minute = nums[1]
	}
	if len(nums) > 2 {
		tod.Second = nums[2]
	}
	if tod.Hour > 23 || tod.Minute > 59 || tod.Second > 59 {
		return TimeOfDay{}, false
	}
	return tod, true
}

// ResolveOneShot resolves text to an absolute future instant. It first tries
// the absolute form, then the time-of-day form combined with today's date in
// loc. Instants not strictly after now are rejected.
func ResolveOneShot(text string, now time.Time, loc *time.Location) (time.Time, bool) {
	at, ok := ParseAbsolute(text, loc)
	if !ok {
		tod, todOK := ParseTimeOfDay(text)
		if !todOK {
			return time.Time{}, false
		}
		n := now.In(loc)
		at = time.Date(n.Year(), n.Month(), n.Day(), tod.Hour, tod.Minute, tod.Second, 0, loc)
	}
	if !at.After(now) {
		return time.Time{}, false
	}
	return at, true
}

// parseUint parses a plain non-negative decimal integer. Signs, spaces and
// any non-digit runes fail.
func parseUint(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
		if n > 1<<30 {
			return 0, false
		}
	}
	return n, true
}
