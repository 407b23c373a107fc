package broadcast

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"castbot/internal/post"
	"castbot/internal/scheduler"
	"castbot/internal/store"
	kit "castbot/internal/transport"
	"castbot/pkg/logx"
)

// fakeAdapter records sends and fails destinations listed in failChats.
type fakeAdapter struct {
	sent      []kit.MessageRef
	deleted   []kit.MessageRef
	failChats map[int64]bool
	nextID    int
}

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                     { return nil }

func (f *fakeAdapter) send(to kit.ChatTarget) (kit.MessageRef, error) {
	if f.failChats[to.ChatID] {
		return kit.MessageRef{}, errors.New("chat not found")
	}
	f.nextID++
	ref := kit.MessageRef{ChatID: to.ChatID, MessageID: f.nextID}
	f.sent = append(f.sent, ref)
	return ref, nil
}

func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, _ string, _ *kit.SendOptions) (kit.MessageRef, error) {
	return f.send(to)
}

func (f *fakeAdapter) SendPhoto(_ context.Context, to kit.ChatTarget, _, _ string, _ *kit.SendOptions) (kit.MessageRef, error) {
	return f.send(to)
}

func (f *fakeAdapter) DeleteMessage(_ context.Context, ref kit.MessageRef) error {
	f.deleted = append(f.deleted, ref)
	return nil
}

func (f *fakeAdapter) EditMarkup(context.Context, kit.MessageRef, *kit.SendOptions) error {
	return nil
}

func (f *fakeAdapter) AnswerCallback(context.Context, string, string, bool) error { return nil }

// fakeArming captures the armed deletion job instead of running a timer.
type fakeArming struct {
	name string
	at   time.Time
	job  scheduler.Job
}

func (f *fakeArming) ArmOnce(name string, at time.Time, job scheduler.Job) error {
	f.name, f.at, f.job = name, at, job
	return nil
}

func newGroups(t *testing.T, ids map[string]string) *store.Groups {
	t.Helper()
	g := store.NewGroups(filepath.Join(t.TempDir(), "groups.json"), logx.Nop())
	for id, title := range ids {
		if err := g.Register(id, title); err != nil {
			t.Fatal(err)
		}
	}
	return g
}

func TestExecuteSchedulesDeletionForDelivered(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	arm := &fakeArming{}
	g := newGroups(t, map[string]string{"100": "A", "200": "B"})
	e := New(Config{RatePerSec: 1000}, ad, g, arm, nil, logx.Nop())

	p := post.Post{
		ID:            "aa11",
		Kind:          post.KindOneShot,
		Destinations:  []string{"100", "200"},
		DeleteMinutes: 1,
		Content:       post.Content{Type: post.ContentText, Text: "hi"},
	}
	r := e.Execute(context.Background(), p)

	if r.Sent != 2 || r.Failed != 0 {
		t.Fatalf("report: %d sent, %d failed", r.Sent, r.Failed)
	}
	if arm.job == nil {
		t.Fatal("no deletion job armed")
	}
	if !strings.HasPrefix(arm.name, "delete:aa11:") {
		t.Fatalf("deletion job name: %q", arm.name)
	}
	delay := time.Until(arm.at)
	if delay < 55*time.Second || delay > 61*time.Second {
		t.Fatalf("deletion delay not ~60s: %v", delay)
	}

	// Firing the job deletes exactly the delivered references.
	arm.job(context.Background())
	if len(ad.deleted) != 2 {
		t.Fatalf("deleted %d messages, want 2", len(ad.deleted))
	}
	for i, ref := range ad.sent {
		if ad.deleted[i] != ref {
			t.Fatalf("deleted %v, want %v", ad.deleted[i], ref)
		}
	}
}

func TestExecutePartialFailure(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{failChats: map[int64]bool{200: true}}
	arm := &fakeArming{}
	g := newGroups(t, map[string]string{"100": "A", "200": "B"})
	e := New(Config{RatePerSec: 1000}, ad, g, arm, nil, logx.Nop())

	p := post.Post{
		ID:            "bb22",
		Destinations:  []string{"100", "200"},
		DeleteMinutes: 5,
		Content:       post.Content{Type: post.ContentText, Text: "hi"},
	}
	r := e.Execute(context.Background(), p)

	if r.Sent != 1 || r.Failed != 1 {
		t.Fatalf("report: %d sent, %d failed", r.Sent, r.Failed)
	}
	if arm.job == nil {
		t.Fatal("deletion job should still be armed for the successful delivery")
	}
	arm.job(context.Background())
	if len(ad.deleted) != 1 || ad.deleted[0].ChatID != 100 {
		t.Fatalf("deletion covered wrong messages: %v", ad.deleted)
	}

	summary := e.Summary(r)
	if !strings.Contains(summary, "1 sent, 1 failed") {
		t.Fatalf("summary: %q", summary)
	}
	if !strings.Contains(summary, "B (200)") {
		t.Fatalf("summary missing failure reason: %q", summary)
	}
}

func TestExecuteSkipsUnregisteredDestinations(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	arm := &fakeArming{}
	g := newGroups(t, map[string]string{"100": "A"})
	e := New(Config{RatePerSec: 1000}, ad, g, arm, nil, logx.Nop())

	p := post.Post{
		ID:           "cc33",
		Destinations: []string{"100", "999"},
		Content:      post.Content{Type: post.ContentText, Text: "hi"},
	}
	r := e.Execute(context.Background(), p)

	if r.Sent != 1 || r.Failed != 1 {
		t.Fatalf("report: %d sent, %d failed", r.Sent, r.Failed)
	}
	var gone *Outcome
	for i := range r.Outcomes {
		if r.Outcomes[i].DestID == "999" {
			gone = &r.Outcomes[i]
		}
	}
	if gone == nil || post.KindOf(gone.Err) != post.ErrDestinationUnavailable {
		t.Fatalf("vanished destination not reported as unavailable: %+v", gone)
	}
	// No deletion job without DeleteMinutes.
	if arm.job != nil {
		t.Fatal("deletion job armed without delete_minutes")
	}
}

func TestExecuteNoDeletionWhenAllFail(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{failChats: map[int64]bool{100: true}}
	arm := &fakeArming{}
	g := newGroups(t, map[string]string{"100": "A"})
	e := New(Config{RatePerSec: 1000}, ad, g, arm, nil, logx.Nop())

	p := post.Post{
		ID:            "dd44",
		Destinations:  []string{"100"},
		DeleteMinutes: 1,
		Content:       post.Content{Type: post.ContentText, Text: "hi"},
	}
	r := e.Execute(context.Background(), p)
	if r.Sent != 0 || r.Failed != 1 {
		t.Fatalf("report: %d sent, %d failed", r.Sent, r.Failed)
	}
	if arm.job != nil {
		t.Fatal("deletion job armed although nothing was delivered")
	}
}
