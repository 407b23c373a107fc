package timeparse

import (
	"testing"
	"time"
)

var loc = time.FixedZone("UTC+8", 8*3600)

func TestParseTimeOfDayVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want TimeOfDay
	}{
		{"20:30", TimeOfDay{20, 30, 0}},
		{"20:30:15", TimeOfDay{20, 30, 15}},
		{"21", TimeOfDay{21, 0, 0}},
		{"9点", TimeOfDay{9, 0, 0}},
		{"20点30", TimeOfDay{20, 30, 0}},
		{"20点30分", TimeOfDay{20, 30, 0}},
		{"20：30", TimeOfDay{20, 30, 0}},
		{" 7:05 ", TimeOfDay{7, 5, 0}},
		{"0:0:0", TimeOfDay{0, 0, 0}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseTimeOfDay(tt.in)
			if !ok {
				t.Fatalf("ParseTimeOfDay(%q) failed", tt.in)
			}
			if got != tt.want {
				t.Fatalf("ParseTimeOfDay(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseTimeOfDayInvalid(t *testing.T) {
	t.Parallel()
	for _, in := range []string{"", "abc", "12:xy", "1:2:3:4", "24:00", "12:60", "12:30:60", "-1:30", "1.5"} {
		if _, ok := ParseTimeOfDay(in); ok {
			t.Errorf("ParseTimeOfDay(%q) accepted, want rejection", in)
		}
	}
}

func TestParseTimeOfDayRoundTrip(t *testing.T) {
	t.Parallel()
	for _, in := range []string{"05:07:09", "23:59:59", "00:00:01"} {
		tod, ok := ParseTimeOfDay(in)
		if !ok {
			t.Fatalf("ParseTimeOfDay(%q) failed", in)
		}
		if tod.String() != in {
			t.Fatalf("round trip %q -> %q", in, tod.String())
		}
	}
}

func TestParseAbsolute(t *testing.T) {
	t.Parallel()
	at, ok := ParseAbsolute("2099/01/01 10:00", loc)
	if !ok {
		t.Fatal("expected parse to succeed")
	}
	want := time.Date(2099, 1, 1, 10, 0, 0, 0, loc)
	if !at.Equal(want) {
		t.Fatalf("got %v, want %v", at, want)
	}

	if _, ok := ParseAbsolute("2099-01-01 10:00", loc); ok {
		t.Fatal("dash-separated date should be rejected")
	}
	if _, ok := ParseAbsolute("10:00", loc); ok {
		t.Fatal("bare time should not parse as absolute")
	}
}

func TestResolveOneShot(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, loc)

	at, ok := ResolveOneShot("2099/01/01 10:00", now, loc)
	if !ok {
		t.Fatal("future absolute timestamp rejected")
	}
	if !at.Equal(time.Date(2099, 1, 1, 10, 0, 0, 0, loc)) {
		t.Fatalf("unexpected instant: %v", at)
	}

	if _, ok := ResolveOneShot("2000/01/01 10:00", now, loc); ok {
		t.Fatal("past timestamp accepted")
	}

	// Time-of-day resolves against today's date.
	at, ok = ResolveOneShot("20点30", now, loc)
	if !ok {
		t.Fatal("time-of-day form rejected")
	}
	if !at.Equal(time.Date(2026, 6, 1, 20, 30, 0, 0, loc)) {
		t.Fatalf("unexpected instant: %v", at)
	}

	// Earlier today is in the past.
	if _, ok := ResolveOneShot("9点", now, loc); ok {
		t.Fatal("past time-of-day accepted")
	}

	// Exactly now is rejected (strictly after).
	if _, ok := ResolveOneShot("12:00", now, loc); ok {
		t.Fatal("instant equal to now accepted")
	}

	if _, ok := ResolveOneShot("garbage", now, loc); ok {
		t.Fatal("garbage accepted")
	}
}
