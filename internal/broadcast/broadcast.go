// Package broadcast fans a post out to its destinations via the transport
// adapter, collecting per-destination outcomes. One destination's failure
// never aborts delivery to the others. When the post asks for auto-deletion
// and at least one delivery succeeded, a derived one-shot deletion job is
// armed for the delivered message references.
package broadcast

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"castbot/internal/broadcast/history"
	"castbot/internal/post"
	"castbot/internal/scheduler"
	"castbot/internal/store"
	kit "castbot/internal/transport"
	"castbot/pkg/logx"
)

type Config struct {
	RatePerSec       int
	MaxReportReasons int
}

// Outcome is the per-destination delivery result.
type Outcome struct {
	DestID string
	Title  string
	Ref    kit.MessageRef
	Err    error
}

// Report aggregates one execution of a post.
type Report struct {
	PostID   string
	Kind     post.Kind
	Total    int
	Sent     int
	Failed   int
	Outcomes []Outcome
	Took     time.Duration
}

// Arming is the slice of the scheduler the executor needs for chaining
// deletion jobs.
type Arming interface {
	ArmOnce(name string, at time.Time, job scheduler.Job) error
}

type Executor struct {
	adapter kit.Adapter
	groups  *store.Groups
	sched   Arming
	hist    *history.Store
	log     logx.Logger

	mu         sync.Mutex
	limiter    *rate.Limiter
	maxReasons int
}

func New(cfg Config, adapter kit.Adapter, groups *store.Groups, sched Arming, hist *history.Store, log logx.Logger) *Executor {
	if log.IsZero() {
		log = logx.Nop()
	}
	e := &Executor{adapter: adapter, groups: groups, sched: sched, hist: hist, log: log}
	e.Apply(cfg)
	return e
}

// Apply updates the rate limit and report bounds at runtime.
func (e *Executor) Apply(cfg Config) {
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 10
	}
	reasons := cfg.MaxReportReasons
	if reasons <= 0 {
		reasons = 10
	}
	e.mu.Lock()
	e.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	e.maxReasons = reasons
	e.mu.Unlock()
}

// Execute delivers p to every destination still present in the registry.
// Destinations that vanished since compose time are skipped and counted as
// failures of kind DestinationUnavailable.
func (e *Executor) Execute(ctx context.Context, p post.Post) Report {
	start := time.Now()
	live := e.groups.List()

	r := Report{PostID: p.ID, Kind: p.Kind, Total: len(p.Destinations)}
	opt := e.renderOptions(p)

	var delivered []kit.MessageRef
	for _, dest := range p.Destinations {
		title, ok := live[dest]
		if !ok {
			r.Failed++
			r.Outcomes = append(r.Outcomes, Outcome{
				DestID: dest,
				Err:    post.E(post.ErrDestinationUnavailable, "destination no longer registered"),
			})
			continue
		}
		ref, err := e.sendOne(ctx, dest, p.Content, opt)
		if err != nil {
			r.Failed++
			r.Outcomes = append(r.Outcomes, Outcome{DestID: dest, Title: title, Err: err})
			e.log.Warn("delivery failed",
				logx.String("post", p.ID), logx.String("dest", dest), logx.Err(err))
			continue
		}
		r.Sent++
		r.Outcomes = append(r.Outcomes, Outcome{DestID: dest, Title: title, Ref: ref})
		delivered = append(delivered, ref)
	}
	r.Took = time.Since(start)

	if p.DeleteMinutes > 0 && len(delivered) > 0 {
		e.armDeletion(p.ID, delivered, time.Duration(p.DeleteMinutes)*time.Minute)
	}
	e.recordRun(ctx, p, r)

	e.log.Info("broadcast finished",
		logx.String("post", p.ID), logx.String("kind", string(p.Kind)),
		logx.Int("sent", r.Sent), logx.Int("failed", r.Failed), logx.Duration("took", r.Took))
	return r
}

func (e *Executor) sendOne(ctx context.Context, dest string, c post.Content, opt *kit.SendOptions) (kit.MessageRef, error) {
	e.mu.Lock()
	lim := e.limiter
	e.mu.Unlock()
	if lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return kit.MessageRef{}, post.WrapErr(post.ErrDeliveryFailure, "rate limiter", err)
		}
	}

	chatID, err := strconv.ParseInt(dest, 10, 64)
	if err != nil {
		return kit.MessageRef{}, post.WrapErr(post.ErrDeliveryFailure, "bad destination id", err)
	}
	to := kit.ChatTarget{ChatID: chatID}

	var ref kit.MessageRef
	if c.Type == post.ContentPhoto {
		ref, err = e.adapter.SendPhoto(ctx, to, c.PhotoID, c.Caption, opt)
	} else {
		ref, err = e.adapter.SendText(ctx, to, c.Text, opt)
	}
	if err != nil {
		return kit.MessageRef{}, post.WrapErr(post.ErrDeliveryFailure, "send", err)
	}
	return ref, nil
}

// armDeletion chains a fire-and-forget one-shot job that deletes the
// delivered messages after the configured delay. The name is unique on
// purpose: deletion jobs are never cancelled, unlike the named post jobs.
func (e *Executor) armDeletion(postID string, refs []kit.MessageRef, delay time.Duration) {
	name := fmt.Sprintf("delete:%s:%d", postID, time.Now().UnixNano())
	pairs := append([]kit.MessageRef(nil), refs...)
	err := e.sched.ArmOnce(name, time.Now().Add(delay), func(ctx context.Context) {
		for _, ref := range pairs {
			if err := e.adapter.DeleteMessage(ctx, ref); err != nil {
				e.log.Warn("auto-delete failed",
					logx.String("post", postID), logx.Int64("chat_id", ref.ChatID),
					logx.Int("message_id", ref.MessageID), logx.Err(err))
			}
		}
	})
	if err != nil {
		e.log.Error("deletion job not armed", logx.String("post", postID), logx.Err(err))
		return
	}
	e.log.Debug("deletion job armed",
		logx.String("post", postID), logx.Int("messages", len(pairs)), logx.Duration("delay", delay))
}

func (e *Executor) recordRun(ctx context.Context, p post.Post, r Report) {
	if e.hist == nil {
		return
	}
	err := e.hist.Record(ctx, history.Run{
		At:     time.Now(),
		PostID: p.ID,
		Kind:   string(p.Kind),
		Total:  r.Total,
		Sent:   r.Sent,
		Failed: r.Failed,
		TookMS: r.Took.Milliseconds(),
	})
	if err != nil {
		e.log.Warn("history record failed", logx.String("post", p.ID), logx.Err(err))
	}
}

// renderOptions builds the adapter markup for the post's buttons. The link
// button is a plain URL button; the copy button carries "copy:<postID>" so
// the update loop can answer the tap with the stored value.
func (e *Executor) renderOptions(p post.Post) *kit.SendOptions {
	if p.Buttons == nil || p.Buttons.IsZero() {
		return &kit.SendOptions{}
	}
	rm := &tele.ReplyMarkup{}
	var btns []tele.Btn
	if p.Buttons.HasCopy() {
		btns = append(btns, tele.Btn{Text: p.Buttons.CopyLabel, Data: "copy:" + p.ID})
	}
	if p.Buttons.HasLink() {
		btns = append(btns, tele.Btn{Text: p.Buttons.LinkLabel, URL: p.Buttons.LinkURL})
	}
	rm.Inline(rm.Row(btns...))
	return &kit.SendOptions{ReplyMarkupAdapter: rm}
}

// Summary renders an operator-facing completion report, listing at most
// maxReasons failure reasons.
func (e *Executor) Summary(r Report) string {
	e.mu.Lock()
	maxReasons := e.maxReasons
	e.mu.Unlock()

	s := fmt.Sprintf("Done: %d sent, %d failed.", r.Sent, r.Failed)
	if r.Failed == 0 {
		return s
	}
	s += "\n\nFailures:"
	n := 0
	for _, o := range r.Outcomes {
		if o.Err == nil {
			continue
		}
		if n >= maxReasons {
			s += fmt.Sprintf("\n… and %d more", r.Failed-n)
			break
		}
		label := o.Title
		if label == "" {
			label = o.DestID
		} else {
			label = fmt.Sprintf("%s (%s)", o.Title, o.DestID)
		}
		s += fmt.Sprintf("\n• %s -> %v", label, o.Err)
		n++
	}
	return s
}
