// Package scheduler is castbot's in-process timer set, keyed by job name.
//
// Two arming modes exist: one-shot (an absolute instant) and daily-recurring
// (a time-of-day in the configured fixed offset). Arming under an existing
// name replaces the previous entry; Cancel removes all entries under a name.
// Callbacks run on a small worker pool and are never retried by the
// scheduler. At most one callback per name is in flight at a time.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"castbot/internal/post"
	"castbot/internal/timeparse"
	"castbot/pkg/logx"
)

// Job is a timer callback. Payload is whatever the closure captured at arm
// time.
type Job func(ctx context.Context)

type task struct {
	name string
	run  Job
}

type Service struct {
	mu  sync.Mutex
	log logx.Logger
	loc *time.Location

	parser cron.Parser
	c      *cron.Cron
	daily  map[string]cron.EntryID

	queue  chan task
	stopCh chan struct{}

	// One-shot timers, keyed by name. Each arm takes a fresh value from the
	// process-global verSeq; callbacks from timers that were replaced or
	// cancelled before firing see a mismatch and become no-ops. Global, not
	// per-name, so a name re-armed after cancel can never collide with a
	// stale in-flight fire.
	tmu     sync.Mutex
	verSeq  uint64
	timers  map[string]*time.Timer
	onceVer map[string]uint64
	onceJob map[string]Job

	// running tracks names whose callback is currently executing so a daily
	// entry cannot overlap itself.
	runMu   sync.Mutex
	running map[string]bool
}

func New(loc *time.Location, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		log:     log,
		loc:     loc,
		parser:  cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		daily:   map[string]cron.EntryID{},
		timers:  map[string]*time.Timer{},
		onceVer: map[string]uint64{},
		onceJob: map[string]Job{},
		running: map[string]bool{},
	}
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return
	}
	s.stopCh = make(chan struct{})
	s.queue = make(chan task, 64)
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))

	const workers = 2
	for i := 0; i < workers; i++ {
		go s.worker(ctx, s.stopCh, s.queue)
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.Int("workers", workers), logx.String("tz", s.loc.String()))
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh == nil {
		return
	}
	close(s.stopCh)
	s.stopCh = nil
	if s.c != nil {
		<-s.c.Stop().Done()
		s.c = nil
	}
	s.daily = map[string]cron.EntryID{}

	s.tmu.Lock()
	for _, t := range s.timers {
		_ = t.Stop()
	}
	s.timers = map[string]*time.Timer{}
	s.onceVer = map[string]uint64{}
	s.onceJob = map[string]Job{}
	s.tmu.Unlock()

	s.log.Info("scheduler stopped")
}

// Running reports whether the timer facility is live.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopCh != nil
}

// ArmOnce schedules a single invocation of job at the given instant,
// replacing any existing entry under name. A computed delay <= 0 is clamped
// to one second so a just-missed trigger still fires instead of being lost.
func (s *Service) ArmOnce(name string, at time.Time, job Job) error {
	if strings.TrimSpace(name) == "" || job == nil {
		return post.E(post.ErrSchedulerUnavailable, "arm once: name and job required")
	}
	if !s.Running() {
		return post.E(post.ErrSchedulerUnavailable, "scheduler not started")
	}
	s.cancelDaily(name)

	delay := time.Until(at)
	if delay <= 0 {
		delay = time.Second
	}

	s.tmu.Lock()
	if t, ok := s.timers[name]; ok {
		_ = t.Stop()
		delete(s.timers, name)
	}
	s.verSeq++
	ver := s.verSeq
	s.onceVer[name] = ver
	s.onceJob[name] = job

	localName := name
	localVer := ver
	timer := time.AfterFunc(delay, func() {
		// Ignore fires from timers that were replaced or cancelled.
		s.tmu.Lock()
		if s.onceVer[localName] != localVer {
			s.tmu.Unlock()
			return
		}
		run := s.onceJob[localName]
		delete(s.timers, localName)
		delete(s.onceVer, localName)
		delete(s.onceJob, localName)
		s.tmu.Unlock()
		if run == nil {
			return
		}
		s.enqueue(task{name: localName, run: run})
	})
	s.timers[name] = timer
	s.tmu.Unlock()

	s.log.Debug("one-shot armed", logx.String("name", name), logx.Time("at", at), logx.Duration("delay", delay))
	return nil
}

// ArmDaily schedules a recurring invocation at the given time-of-day, every
// day, in the configured fixed offset, replacing any existing entry under
// name.
func (s *Service) ArmDaily(name string, tod timeparse.TimeOfDay, job Job) error {
	if strings.TrimSpace(name) == "" || job == nil {
		return post.E(post.ErrSchedulerUnavailable, "arm daily: name and job required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return post.E(post.ErrSchedulerUnavailable, "scheduler not started")
	}
	s.cancelOnce(name)
	if id, ok := s.daily[name]; ok {
		s.c.Remove(id)
		delete(s.daily, name)
	}

	spec := dailySpec(tod)
	localName := name
	id, err := s.c.AddFunc(spec, func() {
		if !s.tryAcquire(localName) {
			s.log.Debug("daily fire skipped (previous run still running)", logx.String("name", localName))
			return
		}
		defer s.release(localName)
		s.enqueueWait(task{name: localName, run: job})
	})
	if err != nil {
		return post.WrapErr(post.ErrSchedulerUnavailable, "register daily entry", err)
	}
	s.daily[name] = id
	s.log.Debug("daily armed", logx.String("name", name), logx.String("spec", spec))
	return nil
}

// Cancel removes all live entries under name; a no-op if none exist. It
// returns whether anything was removed.
func (s *Service) Cancel(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	removed := s.cancelDaily(name)
	s.tmu.Lock()
	removed = s.cancelOnceLocked(name) || removed
	s.tmu.Unlock()
	if removed {
		s.log.Debug("entry cancelled", logx.String("name", name))
	}
	return removed
}

func (s *Service) cancelDaily(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.daily[name]
	if !ok {
		return false
	}
	if s.c != nil {
		s.c.Remove(id)
	}
	delete(s.daily, name)
	return true
}

func (s *Service) cancelOnce(name string) bool {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	return s.cancelOnceLocked(name)
}

func (s *Service) cancelOnceLocked(name string) bool {
	removed := false
	if t, ok := s.timers[name]; ok {
		_ = t.Stop()
		delete(s.timers, name)
		removed = true
	}
	if _, ok := s.onceJob[name]; ok {
		removed = true
	}
	// Dropping the version entry is what makes an already-fired AfterFunc
	// body a no-op: a missing key reads as 0, which never matches a live
	// version. Entries therefore do not accumulate per cancelled name.
	delete(s.onceVer, name)
	delete(s.onceJob, name)
	return removed
}

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan task) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case t := <-queue:
			s.runTask(ctx, t)
		}
	}
}

func (s *Service) runTask(ctx context.Context, t task) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in job callback", logx.String("name", t.name), logx.Any("panic", r))
		}
	}()
	t.run(ctx)
	s.log.Debug("job fired", logx.String("name", t.name), logx.Duration("took", time.Since(start)))
}

func (s *Service) enqueue(t task) {
	s.mu.Lock()
	q := s.queue
	s.mu.Unlock()
	if q == nil {
		return
	}
	select {
	case q <- t:
	default:
		s.log.Warn("job queue full; dropping fire", logx.String("name", t.name))
	}
}

// enqueueWait runs the task inline. Daily fires already hold the per-name
// running guard, so executing on the cron goroutine keeps "no overlap per
// name" without a second handoff.
func (s *Service) enqueueWait(t task) {
	s.runTask(context.Background(), t)
}

func (s *Service) tryAcquire(name string) bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.running[name] {
		return false
	}
	s.running[name] = true
	return true
}

func (s *Service) release(name string) {
	s.runMu.Lock()
	delete(s.running, name)
	s.runMu.Unlock()
}

// dailySpec renders a time-of-day as a seconds-precision cron expression.
func dailySpec(tod timeparse.TimeOfDay) string {
	return fmt.Sprintf("%d %d %d * * *", tod.Second, tod.Minute, tod.Hour)
}
