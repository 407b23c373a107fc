// Package bot wires the transport, stores, scheduler, wizard and broadcast
// executor into the running application. A single goroutine consumes all
// transport updates, which keeps per-operator conversation handling strictly
// ordered without extra locking.
package bot

import (
	"context"
	"sync"
	"time"

	"castbot/internal/broadcast"
	"castbot/internal/broadcast/history"
	"castbot/internal/config"
	"castbot/internal/post"
	"castbot/internal/scheduler"
	"castbot/internal/store"
	"castbot/internal/timeparse"
	kit "castbot/internal/transport"
	"castbot/internal/wizard"
	"castbot/pkg/logx"
)

// Scheduling is the slice of the scheduler the app drives.
type Scheduling interface {
	ArmOnce(name string, at time.Time, job scheduler.Job) error
	ArmDaily(name string, tod timeparse.TimeOfDay, job scheduler.Job) error
	Cancel(name string) bool
}

// Executing is the broadcast surface the app calls into.
type Executing interface {
	Execute(ctx context.Context, p post.Post) broadcast.Report
	Summary(r broadcast.Report) string
	Apply(cfg broadcast.Config)
}

// RunLog is the read side of the delivery history, shown by /debug.
type RunLog interface {
	Recent(ctx context.Context, n int) ([]history.Run, error)
}

// maxImmediateCopies bounds the in-memory copy-value table for immediate
// posts, which have no durable record to look values up in.
const maxImmediateCopies = 128

type App struct {
	log     logx.Logger
	logSvc  *logx.Service
	adapter kit.Adapter
	posts   *store.Posts
	groups  *store.Groups
	sched   Scheduling
	exec    Executing
	hist    RunLog
	wiz     *wizard.Engine
	loc     *time.Location

	opMu      sync.Mutex
	operators map[int64]bool

	copyMu     sync.Mutex
	copyValues map[string]string
	copyOrder  []string
}

type Deps struct {
	Log     logx.Logger
	LogSvc  *logx.Service // optional; enables logging hot reload
	Adapter kit.Adapter
	Posts   *store.Posts
	Groups  *store.Groups
	Sched   Scheduling
	Exec    Executing
	Hist    RunLog // optional
	Loc     *time.Location
}

func New(d Deps, operators []int64) *App {
	log := d.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	loc := d.Loc
	if loc == nil {
		loc = time.UTC
	}
	ops := make(map[int64]bool, len(operators))
	for _, id := range operators {
		ops[id] = true
	}
	return &App{
		log:        log.With(logx.String("svc", "bot")),
		logSvc:     d.LogSvc,
		adapter:    d.Adapter,
		posts:      d.Posts,
		groups:     d.Groups,
		sched:      d.Sched,
		exec:       d.Exec,
		hist:       d.Hist,
		wiz:        wizard.NewEngine(d.Groups, loc),
		loc:        loc,
		operators:  ops,
		copyValues: map[string]string{},
	}
}

func (a *App) isOperator(id int64) bool {
	a.opMu.Lock()
	defer a.opMu.Unlock()
	return a.operators[id]
}

// Run starts the transport and consumes updates until ctx is cancelled.
// cfgCh may be nil; when set, reloaded configs hot-apply the logging and
// broadcast sections.
func (a *App) Run(ctx context.Context, cfgCh <-chan *config.Config) error {
	updates := make(chan kit.Update, 64)
	if err := a.adapter.Start(ctx, updates); err != nil {
		return err
	}
	a.log.Info("update loop started")

	for {
		select {
		case <-ctx.Done():
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := a.adapter.Stop(stopCtx)
			cancel()
			return err
		case cfg, ok := <-cfgCh:
			if !ok {
				cfgCh = nil
				continue
			}
			a.applyConfig(cfg)
		case up := <-updates:
			a.handleUpdate(ctx, up)
		}
	}
}

func (a *App) applyConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	if a.logSvc != nil {
		a.logSvc.Apply(logx.Config{
			Level:   cfg.Logging.Level,
			Console: cfg.Logging.Console,
			File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
		})
	}
	a.exec.Apply(broadcast.Config{
		RatePerSec:       cfg.Broadcast.RatePerSec,
		MaxReportReasons: cfg.Broadcast.MaxReportReasons,
	})
	a.opMu.Lock()
	a.operators = make(map[int64]bool, len(cfg.Operators))
	for _, id := range cfg.Operators {
		a.operators[id] = true
	}
	a.opMu.Unlock()
	a.log.Info("runtime config applied",
		logx.String("level", cfg.Logging.Level), logx.Int("rate_per_sec", cfg.Broadcast.RatePerSec))
}

func (a *App) handleUpdate(ctx context.Context, up kit.Update) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Error("panic in update handler", logx.Any("panic", r))
		}
	}()
	switch up.Kind {
	case kit.UpdateMessage:
		if up.Message != nil {
			a.handleMessage(ctx, up.Message)
		}
	case kit.UpdateCallback:
		if up.Callback != nil {
			a.handleCallback(ctx, up.Callback)
		}
	}
}

// rememberCopyValue keeps copy-button values for immediate posts, which are
// executed and discarded rather than persisted. Oldest entries are evicted.
func (a *App) rememberCopyValue(id, value string) {
	a.copyMu.Lock()
	defer a.copyMu.Unlock()
	if _, ok := a.copyValues[id]; !ok {
		a.copyOrder = append(a.copyOrder, id)
	}
	a.copyValues[id] = value
	for len(a.copyOrder) > maxImmediateCopies {
		oldest := a.copyOrder[0]
		a.copyOrder = a.copyOrder[1:]
		delete(a.copyValues, oldest)
	}
}

// copyValueFor resolves a copy-button tap: durable posts first, then the
// immediate-post table.
func (a *App) copyValueFor(id string) (string, bool) {
	if p, ok := a.posts.Get(id); ok {
		if p.Buttons != nil && p.Buttons.CopyValue != "" {
			return p.Buttons.CopyValue, true
		}
		return "", false
	}
	a.copyMu.Lock()
	defer a.copyMu.Unlock()
	v, ok := a.copyValues[id]
	return v, ok
}
