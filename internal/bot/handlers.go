package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"castbot/internal/post"
	kit "castbot/internal/transport"
	"castbot/internal/wizard"
	"castbot/pkg/logx"
)

// reply sends text to a chat and logs (never surfaces) send failures.
func (a *App) reply(ctx context.Context, chatID int64, text string, opt *kit.SendOptions) {
	if _, err := a.adapter.SendText(ctx, kit.ChatTarget{ChatID: chatID}, text, opt); err != nil {
		a.log.Warn("reply failed", logx.Int64("chat_id", chatID), logx.Err(err))
	}
}

func (a *App) answer(ctx context.Context, callbackID, text string, alert bool) {
	if err := a.adapter.AnswerCallback(ctx, callbackID, text, alert); err != nil {
		a.log.Warn("callback answer failed", logx.Err(err))
	}
}

// command extracts the leading bot command from a message, stripping any
// @botname suffix. Empty when the message is not a command.
func command(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	cmd := strings.Fields(text)[0]
	if i := strings.IndexByte(cmd, '@'); i > 0 {
		cmd = cmd[:i]
	}
	return cmd
}

func (a *App) handleMessage(ctx context.Context, m *kit.Message) {
	cmd := command(m.Text)

	// /id answers everywhere, for anyone. It exists so operators can find
	// chat ids without extra tooling.
	if cmd == "/id" {
		a.reply(ctx, m.ChatID, fmt.Sprintf("chat id: %d\nuser id: %d", m.ChatID, m.FromID), nil)
		return
	}

	if m.IsGroup {
		a.handleGroupMessage(ctx, m, cmd)
		return
	}
	if !a.isOperator(m.FromID) {
		return
	}

	switch cmd {
	case "/start":
		a.wiz.Reset(m.FromID)
		a.reply(ctx, m.ChatID, "Ready.", markup(mainMenu()))
		return
	case "/debug":
		a.reply(ctx, m.ChatID, a.debugText(ctx, m.FromID), nil)
		return
	case "/managegroups":
		a.showGroups(ctx, m.ChatID)
		return
	}

	switch strings.TrimSpace(m.Text) {
	case labelSendNow:
		a.startCompose(ctx, m, wizard.ModeImmediate)
	case labelSchedule:
		a.startCompose(ctx, m, wizard.ModeOneShot)
	case labelDaily:
		a.startCompose(ctx, m, wizard.ModeDaily)
	case labelMyPosts:
		a.showPosts(ctx, m.ChatID)
	case labelGroups:
		a.showGroups(ctx, m.ChatID)
	default:
		res := a.wiz.HandleMessage(m.FromID, wizard.Input{
			Text:    m.Text,
			PhotoID: m.PhotoID,
			Caption: m.Caption,
		})
		a.applyWizardResult(ctx, m.ChatID, res)
	}
}

func (a *App) handleGroupMessage(ctx context.Context, m *kit.Message, cmd string) {
	if !a.isOperator(m.FromID) {
		return
	}
	id := strconv.FormatInt(m.ChatID, 10)
	switch cmd {
	case "/register":
		title := m.ChatTitle
		if title == "" {
			title = id
		}
		if err := a.groups.Register(id, title); err != nil {
			a.reply(ctx, m.ChatID, "Registration failed, see logs.", nil)
			return
		}
		a.log.Info("destination registered", logx.String("dest", id), logx.String("title", title))
		a.reply(ctx, m.ChatID, "This chat now receives broadcasts.", nil)
	case "/unregister":
		title, ok, err := a.groups.Unregister(id)
		if err != nil {
			a.reply(ctx, m.ChatID, "Unregistration failed, see logs.", nil)
			return
		}
		if !ok {
			a.reply(ctx, m.ChatID, "This chat was not registered.", nil)
			return
		}
		a.log.Info("destination unregistered", logx.String("dest", id), logx.String("title", title))
		a.reply(ctx, m.ChatID, "This chat no longer receives broadcasts.", nil)
	}
}

func (a *App) startCompose(ctx context.Context, m *kit.Message, mode wizard.Mode) {
	groups := a.groups.List()
	if len(groups) == 0 {
		a.reply(ctx, m.ChatID, "No destinations registered yet. Use /register in a group first.", nil)
		return
	}
	a.wiz.StartCompose(m.FromID, mode)
	a.reply(ctx, m.ChatID, "Pick destinations, then hit Done.",
		markup(destKeyboard(groups, nil)))
}

func (a *App) showPosts(ctx context.Context, chatID int64) {
	posts := a.posts.List()
	if len(posts) == 0 {
		a.reply(ctx, chatID, "No scheduled posts.", nil)
		return
	}
	a.reply(ctx, chatID, "Scheduled posts:", markup(postsKeyboard(posts)))
}

func (a *App) showGroups(ctx context.Context, chatID int64) {
	groups := a.groups.List()
	if len(groups) == 0 {
		a.reply(ctx, chatID, "No destinations registered.", nil)
		return
	}
	a.reply(ctx, chatID, "Registered destinations (tap to remove):", markup(groupsKeyboard(groups)))
}

func (a *App) debugText(ctx context.Context, op int64) string {
	posts := a.posts.List()
	enabled := 0
	for _, p := range posts {
		if p.Enabled {
			enabled++
		}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "posts: %d (%d enabled)\ndestinations: %d\nsession: %v\ntz: %s",
		len(posts), enabled, len(a.groups.List()), a.wiz.Active(op), a.loc.String())

	if a.hist != nil {
		runs, err := a.hist.Recent(ctx, 5)
		if err != nil {
			a.log.Warn("history read failed", logx.Err(err))
		} else if len(runs) > 0 {
			b.WriteString("\n\nrecent runs:")
			for _, r := range runs {
				fmt.Fprintf(&b, "\n  %s %s %s: %d/%d sent",
					r.At.In(a.loc).Format("01/02 15:04"), r.Kind, r.PostID, r.Sent, r.Total)
			}
		}
	}
	return b.String()
}

// applyWizardResult turns a wizard step outcome into user-visible effects:
// prompts, persistence, scheduling, or an immediate broadcast.
func (a *App) applyWizardResult(ctx context.Context, chatID int64, res wizard.Result) {
	switch {
	case res.Post != nil:
		a.finalizePost(ctx, chatID, *res.Post)
	case res.EditTarget != "":
		content := *res.EditContent
		updated, found, err := a.posts.Update(res.EditTarget, func(p *post.Post) { p.Content = content })
		switch {
		case err != nil:
			a.reply(ctx, chatID, "Content update could not be saved, see logs.", nil)
		case !found:
			a.reply(ctx, chatID, "That post no longer exists.", nil)
		default:
			// An enabled, not-yet-fired one-shot is re-armed unchanged so the
			// new content takes effect with no double-fire risk.
			if updated.Kind == post.KindOneShot && updated.Enabled && updated.SendAt.After(time.Now()) {
				a.sched.Cancel(updated.JobName)
				if err := a.armPost(updated); err != nil {
					a.log.Error("re-arm after edit failed", logx.String("post", updated.ID), logx.Err(err))
				}
			}
			a.reply(ctx, chatID, "Content updated.", nil)
		}
	case res.Cancelled:
		text := res.Prompt
		if text == "" {
			text = "Cancelled."
		}
		a.reply(ctx, chatID, text, markup(mainMenu()))
	case res.Prompt != "":
		a.reply(ctx, chatID, res.Prompt, nil)
	}
}

func (a *App) finalizePost(ctx context.Context, chatID int64, p post.Post) {
	if p.Kind == post.KindImmediate {
		if p.Buttons != nil && p.Buttons.CopyValue != "" {
			a.rememberCopyValue(p.ID, p.Buttons.CopyValue)
		}
		r := a.exec.Execute(ctx, p)
		a.reply(ctx, chatID, a.exec.Summary(r), markup(mainMenu()))
		return
	}

	// Scheduled kinds: arm first so an unavailable scheduler never leaves an
	// unarmed record behind.
	if err := a.armPost(p); err != nil {
		a.log.Error("post not armed", logx.String("post", p.ID), logx.Err(err))
		a.reply(ctx, chatID, "Scheduling is unavailable right now; the post was not saved.", markup(mainMenu()))
		return
	}
	if err := a.posts.Append(p); err != nil {
		a.sched.Cancel(p.JobName)
		a.reply(ctx, chatID, "The post could not be saved; scheduling was rolled back.", markup(mainMenu()))
		return
	}
	a.reply(ctx, chatID, fmt.Sprintf("Saved. %s", postLabel(p)), markup(mainMenu()))
}

func (a *App) handleCallback(ctx context.Context, cb *kit.Callback) {
	data := cb.Data

	// Copy buttons sit on broadcast messages in groups; anyone may tap them.
	if strings.HasPrefix(data, cbCopyPrefix) {
		id := strings.TrimPrefix(data, cbCopyPrefix)
		if v, ok := a.copyValueFor(id); ok {
			a.answer(ctx, cb.ID, v, true)
		} else {
			a.answer(ctx, cb.ID, "Nothing to copy.", false)
		}
		return
	}

	if !a.isOperator(cb.FromID) {
		a.answer(ctx, cb.ID, "", false)
		return
	}
	ref := kit.MessageRef{ChatID: cb.ChatID, MessageID: cb.MessageID}

	switch {
	case strings.HasPrefix(data, cbDestPrefix):
		res := a.wiz.HandleAction(cb.FromID, wizard.ActionToggle, strings.TrimPrefix(data, cbDestPrefix))
		if res.RefreshKeyboard {
			rm := destKeyboard(a.groups.List(), a.wiz.Selection(cb.FromID))
			if err := a.adapter.EditMarkup(ctx, ref, markup(rm)); err != nil {
				a.log.Warn("keyboard refresh failed", logx.Err(err))
			}
		}
		a.answer(ctx, cb.ID, "", false)

	case data == cbDestDone:
		res := a.wiz.HandleAction(cb.FromID, wizard.ActionDone, "")
		a.answer(ctx, cb.ID, "", false)
		a.applyWizardResult(ctx, cb.ChatID, res)

	case data == cbDestCancel:
		res := a.wiz.HandleAction(cb.FromID, wizard.ActionCancel, "")
		a.answer(ctx, cb.ID, "", false)
		a.applyWizardResult(ctx, cb.ChatID, res)

	case strings.HasPrefix(data, cbPostPrefix):
		id := strings.TrimPrefix(data, cbPostPrefix)
		p, ok := a.posts.Get(id)
		if !ok {
			a.answer(ctx, cb.ID, "That post no longer exists.", false)
			return
		}
		a.answer(ctx, cb.ID, "", false)
		a.reply(ctx, cb.ChatID, describePost(p, a.groups.List(), a.loc), markup(postActionsKeyboard(p)))

	case strings.HasPrefix(data, cbEditPrefix):
		id := strings.TrimPrefix(data, cbEditPrefix)
		if _, ok := a.posts.Get(id); !ok {
			a.answer(ctx, cb.ID, "That post no longer exists.", false)
			return
		}
		a.wiz.StartEdit(cb.FromID, id)
		a.answer(ctx, cb.ID, "", false)
		a.reply(ctx, cb.ChatID, "Send the new content (text, or photo with caption).", nil)

	case strings.HasPrefix(data, cbTogglePrefix):
		a.togglePost(ctx, cb, ref, strings.TrimPrefix(data, cbTogglePrefix))

	case strings.HasPrefix(data, cbDeletePrefix):
		id := strings.TrimPrefix(data, cbDeletePrefix)
		p, ok := a.posts.Get(id)
		if !ok {
			a.answer(ctx, cb.ID, "Already gone.", false)
			return
		}
		if p.JobName != "" {
			a.sched.Cancel(p.JobName)
		}
		if _, _, err := a.posts.Delete(id); err != nil {
			a.answer(ctx, cb.ID, "Delete could not be saved, see logs.", true)
			return
		}
		a.log.Info("post deleted", logx.String("post", id))
		a.answer(ctx, cb.ID, "Deleted.", false)

	case data == cbPostsBack:
		a.answer(ctx, cb.ID, "", false)
		a.showPosts(ctx, cb.ChatID)

	case strings.HasPrefix(data, cbGroupDrop):
		id := strings.TrimPrefix(data, cbGroupDrop)
		title, ok, err := a.groups.Unregister(id)
		switch {
		case err != nil:
			a.answer(ctx, cb.ID, "Removal could not be saved, see logs.", true)
			return
		case !ok:
			a.answer(ctx, cb.ID, "Already gone.", false)
		default:
			a.log.Info("destination removed", logx.String("dest", id), logx.String("title", title))
			a.answer(ctx, cb.ID, "Removed.", false)
		}
		if err := a.adapter.EditMarkup(ctx, ref, markup(groupsKeyboard(a.groups.List()))); err != nil {
			a.log.Warn("keyboard refresh failed", logx.Err(err))
		}

	case data == cbGroupClear:
		if err := a.groups.Clear(); err != nil {
			a.answer(ctx, cb.ID, "Removal could not be saved, see logs.", true)
			return
		}
		a.log.Info("all destinations removed")
		a.answer(ctx, cb.ID, "All destinations removed.", false)
		if err := a.adapter.EditMarkup(ctx, ref, markup(groupsKeyboard(nil))); err != nil {
			a.log.Warn("keyboard refresh failed", logx.Err(err))
		}

	default:
		a.answer(ctx, cb.ID, "", false)
	}
}

// togglePost flips Enabled, cancelling or re-arming the scheduler entry
// before the store write so the entry can never outlive a disabled record.
func (a *App) togglePost(ctx context.Context, cb *kit.Callback, ref kit.MessageRef, id string) {
	p, ok := a.posts.Get(id)
	if !ok {
		a.answer(ctx, cb.ID, "That post no longer exists.", false)
		return
	}

	if p.Enabled {
		if p.JobName != "" {
			a.sched.Cancel(p.JobName)
		}
		if _, _, err := a.posts.Update(id, func(q *post.Post) { q.Enabled = false }); err != nil {
			a.answer(ctx, cb.ID, "Change could not be saved, see logs.", true)
			return
		}
		p.Enabled = false
		a.answer(ctx, cb.ID, "Disabled.", false)
	} else {
		if p.Kind == post.KindOneShot && !p.SendAt.After(time.Now().In(a.loc)) {
			a.answer(ctx, cb.ID, "Its send time has already passed.", true)
			return
		}
		if err := a.armPost(p); err != nil {
			a.log.Error("re-arm failed", logx.String("post", id), logx.Err(err))
			a.answer(ctx, cb.ID, "Scheduling is unavailable right now.", true)
			return
		}
		if _, _, err := a.posts.Update(id, func(q *post.Post) { q.Enabled = true }); err != nil {
			a.sched.Cancel(p.JobName)
			a.answer(ctx, cb.ID, "Change could not be saved, see logs.", true)
			return
		}
		p.Enabled = true
		a.answer(ctx, cb.ID, "Enabled.", false)
	}

	if err := a.adapter.EditMarkup(ctx, ref, markup(postActionsKeyboard(p))); err != nil {
		a.log.Warn("keyboard refresh failed", logx.Err(err))
	}
}
