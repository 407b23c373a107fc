package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"castbot/pkg/logx"
)

func TestRecordAndRecent(t *testing.T) {
	t.Parallel()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"), logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		err := s.Record(ctx, Run{
			At:     time.Date(2026, 6, 1, 12, i, 0, 0, time.UTC),
			PostID: "aa11",
			Kind:   "oneshot",
			Total:  2,
			Sent:   2,
			TookMS: 40,
		})
		if err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	runs, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}
	// Newest first.
	if !runs[0].At.After(runs[1].At) {
		t.Fatalf("runs not newest-first: %v then %v", runs[0].At, runs[1].At)
	}
	if runs[0].PostID != "aa11" || runs[0].Sent != 2 || runs[0].Kind != "oneshot" {
		t.Fatalf("run mangled: %+v", runs[0])
	}
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()
	if _, err := Open("  ", logx.Nop()); err == nil {
		t.Fatal("expected error for empty path")
	}
}
