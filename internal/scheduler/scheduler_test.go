package scheduler

import (
	"context"
	"testing"
	"time"

	"castbot/internal/timeparse"
	"castbot/pkg/logx"
)

func newStarted(t *testing.T) *Service {
	t.Helper()
	s := New(time.UTC, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	t.Cleanup(func() {
		s.Stop(context.Background())
		cancel()
	})
	return s
}

func TestArmOnceFires(t *testing.T) {
	t.Parallel()
	s := newStarted(t)

	fired := make(chan string, 1)
	err := s.ArmOnce("oneshot:aa11", time.Now().Add(50*time.Millisecond), func(context.Context) {
		fired <- "aa11"
	})
	if err != nil {
		t.Fatalf("arm: %v", err)
	}

	select {
	case got := <-fired:
		if got != "aa11" {
			t.Fatalf("payload mangled: %q", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("one-shot never fired")
	}
	// The entry is consumed: nothing left to cancel.
	if s.Cancel("oneshot:aa11") {
		t.Fatal("fired entry still cancellable")
	}
}

func TestArmOncePastClampsToMinimumDelay(t *testing.T) {
	t.Parallel()
	s := newStarted(t)

	fired := make(chan struct{}, 1)
	if err := s.ArmOnce("oneshot:past", time.Now().Add(-time.Hour), func(context.Context) {
		fired <- struct{}{}
	}); err != nil {
		t.Fatalf("arm: %v", err)
	}

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("past-due one-shot never fired (expected clamped 1s delay)")
	}
}

func TestArmOnceReplaceSuppressesStaleFire(t *testing.T) {
	t.Parallel()
	s := newStarted(t)

	fired := make(chan int, 2)
	if err := s.ArmOnce("oneshot:rep", time.Now().Add(60*time.Millisecond), func(context.Context) {
		fired <- 1
	}); err != nil {
		t.Fatalf("arm: %v", err)
	}
	if err := s.ArmOnce("oneshot:rep", time.Now().Add(120*time.Millisecond), func(context.Context) {
		fired <- 2
	}); err != nil {
		t.Fatalf("re-arm: %v", err)
	}

	select {
	case got := <-fired:
		if got != 2 {
			t.Fatalf("stale entry fired: %d", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("replacement never fired")
	}
	select {
	case got := <-fired:
		t.Fatalf("double fire: %d", got)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestCancelPreventsFire(t *testing.T) {
	t.Parallel()
	s := newStarted(t)

	fired := make(chan struct{}, 1)
	if err := s.ArmOnce("oneshot:cc", time.Now().Add(150*time.Millisecond), func(context.Context) {
		fired <- struct{}{}
	}); err != nil {
		t.Fatalf("arm: %v", err)
	}
	if !s.Cancel("oneshot:cc") {
		t.Fatal("cancel reported nothing removed")
	}
	if s.Cancel("oneshot:cc") {
		t.Fatal("second cancel reported removal")
	}

	select {
	case <-fired:
		t.Fatal("cancelled entry fired")
	case <-time.After(500 * time.Millisecond):
	}
}

func TestRearmAfterCancelFiresFresh(t *testing.T) {
	t.Parallel()
	s := newStarted(t)

	fired := make(chan int, 2)
	if err := s.ArmOnce("oneshot:rc", time.Now().Add(60*time.Millisecond), func(context.Context) {
		fired <- 1
	}); err != nil {
		t.Fatalf("arm: %v", err)
	}
	if !s.Cancel("oneshot:rc") {
		t.Fatal("cancel reported nothing removed")
	}
	if err := s.ArmOnce("oneshot:rc", time.Now().Add(80*time.Millisecond), func(context.Context) {
		fired <- 2
	}); err != nil {
		t.Fatalf("re-arm: %v", err)
	}

	select {
	case got := <-fired:
		if got != 2 {
			t.Fatalf("cancelled entry fired: %d", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("re-armed entry never fired")
	}
	select {
	case got := <-fired:
		t.Fatalf("double fire: %d", got)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestArmDailyUpsertAndCancel(t *testing.T) {
	t.Parallel()
	s := newStarted(t)

	tod := timeparse.TimeOfDay{Hour: 3, Minute: 30}
	if err := s.ArmDaily("daily:dd", tod, func(context.Context) {}); err != nil {
		t.Fatalf("arm daily: %v", err)
	}
	// Re-arming under the same name replaces, leaving exactly one entry.
	if err := s.ArmDaily("daily:dd", tod, func(context.Context) {}); err != nil {
		t.Fatalf("re-arm daily: %v", err)
	}
	if !s.Cancel("daily:dd") {
		t.Fatal("cancel reported nothing removed")
	}
	if s.Cancel("daily:dd") {
		t.Fatal("duplicate daily entry survived upsert")
	}
}

func TestArmRequiresRunningScheduler(t *testing.T) {
	t.Parallel()
	s := New(time.UTC, logx.Nop())
	if err := s.ArmOnce("x", time.Now().Add(time.Hour), func(context.Context) {}); err == nil {
		t.Fatal("expected error when scheduler not started")
	}
	if err := s.ArmDaily("x", timeparse.TimeOfDay{Hour: 1}, func(context.Context) {}); err == nil {
		t.Fatal("expected error when scheduler not started")
	}
}

func TestDailySpec(t *testing.T) {
	t.Parallel()
	got := dailySpec(timeparse.TimeOfDay{Hour: 20, Minute: 30})
	if got != "0 30 20 * * *" {
		t.Fatalf("dailySpec = %q", got)
	}
	got = dailySpec(timeparse.TimeOfDay{Hour: 6, Minute: 15, Second: 45})
	if got != "45 15 6 * * *" {
		t.Fatalf("dailySpec = %q", got)
	}
}
