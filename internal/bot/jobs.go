package bot

import (
	"context"
	"fmt"
	"time"

	"castbot/internal/post"
	"castbot/internal/timeparse"
	"castbot/pkg/logx"
)

// armPost registers the scheduler entry for a stored post. The job closure
// captures only the id and re-reads the record at fire time, so content edits
// between arm and fire are picked up.
func (a *App) armPost(p post.Post) error {
	switch p.Kind {
	case post.KindOneShot:
		return a.sched.ArmOnce(p.JobName, p.SendAt, a.jobFor(p.ID))
	case post.KindDaily:
		tod, ok := timeparse.ParseTimeOfDay(p.DailyAt)
		if !ok {
			return post.E(post.ErrRecoveryParse, fmt.Sprintf("unparseable daily trigger %q for post %s", p.DailyAt, p.ID))
		}
		return a.sched.ArmDaily(p.JobName, tod, a.jobFor(p.ID))
	default:
		return post.E(post.ErrInputValidation, fmt.Sprintf("post kind %q is not schedulable", p.Kind))
	}
}

func (a *App) jobFor(id string) func(ctx context.Context) {
	return func(ctx context.Context) {
		p, ok := a.posts.Get(id)
		if !ok {
			a.log.Warn("scheduled post vanished before firing", logx.String("post", id))
			return
		}
		if !p.Enabled {
			return
		}
		a.exec.Execute(ctx, p)
		if p.Kind == post.KindOneShot {
			// A fired one-shot is spent; it stays listed but disabled.
			if _, _, err := a.posts.Update(id, func(q *post.Post) { q.Enabled = false }); err != nil {
				a.log.Warn("could not mark one-shot as fired", logx.String("post", id), logx.Err(err))
			}
		}
	}
}

// Restore re-arms scheduler entries for the stored posts after a restart.
// One bad record never aborts the pass: past-due one-shots are skipped and
// disabled, unparseable daily triggers are logged and skipped.
func (a *App) Restore(now time.Time) {
	posts := a.posts.List()
	armed, skipped := 0, 0
	for _, p := range posts {
		if !p.Enabled {
			continue
		}
		switch p.Kind {
		case post.KindOneShot:
			if !p.SendAt.After(now) {
				skipped++
				a.log.Info("one-shot past due; not re-armed",
					logx.String("post", p.ID), logx.Time("send_at", p.SendAt))
				if _, _, err := a.posts.Update(p.ID, func(q *post.Post) { q.Enabled = false }); err != nil {
					a.log.Warn("could not disable past-due post", logx.String("post", p.ID), logx.Err(err))
				}
				continue
			}
			if err := a.armPost(p); err != nil {
				skipped++
				a.log.Error("one-shot not re-armed", logx.String("post", p.ID), logx.Err(err))
				continue
			}
			armed++
		case post.KindDaily:
			if err := a.armPost(p); err != nil {
				skipped++
				a.log.Error("daily not re-armed", logx.String("post", p.ID),
					logx.String("daily_at", p.DailyAt), logx.Err(err))
				continue
			}
			armed++
		}
	}
	a.log.Info("schedule restored",
		logx.Int("records", len(posts)), logx.Int("armed", armed), logx.Int("skipped", skipped))
}
