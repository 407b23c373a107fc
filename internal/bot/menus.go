package bot

import (
	"fmt"
	"sort"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"castbot/internal/post"
	kit "castbot/internal/transport"
)

// Reply-keyboard labels. The update loop matches operator messages against
// these before falling through to the wizard.
const (
	labelSendNow  = "📨 Send now"
	labelSchedule = "⏰ Schedule once"
	labelDaily    = "🔁 Daily post"
	labelMyPosts  = "📋 My posts"
	labelGroups   = "👥 Groups"
)

// Callback-data prefixes for inline keyboards.
const (
	cbDestPrefix   = "dest:"
	cbDestDone     = "dest_done"
	cbDestCancel   = "dest_cancel"
	cbPostPrefix   = "post:"
	cbEditPrefix   = "edit:"
	cbTogglePrefix = "toggle:"
	cbDeletePrefix = "del:"
	cbPostsBack    = "posts_back"
	cbGroupDrop    = "grpdel:"
	cbGroupClear   = "grp_clear"
	cbCopyPrefix   = "copy:"
)

func mainMenu() *tele.ReplyMarkup {
	rm := &tele.ReplyMarkup{ResizeKeyboard: true}
	rm.Reply(
		rm.Row(tele.Btn{Text: labelSendNow}),
		rm.Row(tele.Btn{Text: labelSchedule}, tele.Btn{Text: labelDaily}),
		rm.Row(tele.Btn{Text: labelMyPosts}, tele.Btn{Text: labelGroups}),
	)
	return rm
}

// destKeyboard renders the destination picker with the current selection
// checked. Destinations are sorted by title for a stable layout.
func destKeyboard(groups map[string]string, selected map[string]bool) *tele.ReplyMarkup {
	type entry struct{ id, title string }
	entries := make([]entry, 0, len(groups))
	for id, title := range groups {
		entries = append(entries, entry{id, title})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].title != entries[j].title {
			return entries[i].title < entries[j].title
		}
		return entries[i].id < entries[j].id
	})

	rm := &tele.ReplyMarkup{}
	rows := make([]tele.Row, 0, len(entries)+1)
	for _, e := range entries {
		label := e.title
		if selected[e.id] {
			label = "✅ " + label
		}
		rows = append(rows, rm.Row(tele.Btn{Text: label, Data: cbDestPrefix + e.id}))
	}
	rows = append(rows, rm.Row(
		tele.Btn{Text: "Done", Data: cbDestDone},
		tele.Btn{Text: "Cancel", Data: cbDestCancel},
	))
	rm.Inline(rows...)
	return rm
}

func postsKeyboard(posts []post.Post) *tele.ReplyMarkup {
	rm := &tele.ReplyMarkup{}
	rows := make([]tele.Row, 0, len(posts))
	for _, p := range posts {
		rows = append(rows, rm.Row(tele.Btn{Text: postLabel(p), Data: cbPostPrefix + p.ID}))
	}
	rm.Inline(rows...)
	return rm
}

func postLabel(p post.Post) string {
	state := "⏸"
	if p.Enabled {
		state = "▶"
	}
	return fmt.Sprintf("%s %s · %s · %d dest", state, string(p.Kind), triggerLabel(p), len(p.Destinations))
}

func triggerLabel(p post.Post) string {
	switch p.Kind {
	case post.KindOneShot:
		return p.SendAt.Format("2006/01/02 15:04")
	case post.KindDaily:
		return "daily " + p.DailyAt
	default:
		return "now"
	}
}

func postActionsKeyboard(p post.Post) *tele.ReplyMarkup {
	toggle := "Enable"
	if p.Enabled {
		toggle = "Disable"
	}
	rm := &tele.ReplyMarkup{}
	rm.Inline(
		rm.Row(
			tele.Btn{Text: "Edit content", Data: cbEditPrefix + p.ID},
			tele.Btn{Text: toggle, Data: cbTogglePrefix + p.ID},
		),
		rm.Row(
			tele.Btn{Text: "Delete", Data: cbDeletePrefix + p.ID},
			tele.Btn{Text: "Back", Data: cbPostsBack},
		),
	)
	return rm
}

func groupsKeyboard(groups map[string]string) *tele.ReplyMarkup {
	type entry struct{ id, title string }
	entries := make([]entry, 0, len(groups))
	for id, title := range groups {
		entries = append(entries, entry{id, title})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].title < entries[j].title })

	rm := &tele.ReplyMarkup{}
	rows := make([]tele.Row, 0, len(entries)+1)
	for _, e := range entries {
		rows = append(rows, rm.Row(tele.Btn{
			Text: fmt.Sprintf("✖ %s (%s)", e.title, e.id),
			Data: cbGroupDrop + e.id,
		}))
	}
	if len(entries) > 0 {
		rows = append(rows, rm.Row(tele.Btn{Text: "🗑 Remove all", Data: cbGroupClear}))
	}
	rm.Inline(rows...)
	return rm
}

// describePost renders the detail view for the management screen.
func describePost(p post.Post, groups map[string]string, loc *time.Location) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Post %s (%s)\n", p.ID, string(p.Kind))
	switch p.Kind {
	case post.KindOneShot:
		fmt.Fprintf(&b, "Fires at: %s\n", p.SendAt.In(loc).Format("2006/01/02 15:04:05"))
	case post.KindDaily:
		fmt.Fprintf(&b, "Fires daily at: %s\n", p.DailyAt)
	}
	if p.DeleteMinutes > 0 {
		fmt.Fprintf(&b, "Auto-delete: %d min\n", p.DeleteMinutes)
	}
	fmt.Fprintf(&b, "Enabled: %v\n", p.Enabled)

	b.WriteString("Destinations:")
	for _, d := range p.Destinations {
		title, ok := groups[d]
		if !ok {
			title = "gone"
		}
		fmt.Fprintf(&b, "\n  • %s (%s)", title, d)
	}
	b.WriteString("\n")

	if p.Content.Type == post.ContentPhoto {
		fmt.Fprintf(&b, "Content: photo, caption %q\n", p.Content.Caption)
	} else {
		fmt.Fprintf(&b, "Content: %q\n", p.Content.Text)
	}
	if p.Buttons != nil && !p.Buttons.IsZero() {
		if p.Buttons.HasCopy() {
			fmt.Fprintf(&b, "Copy button: %s\n", p.Buttons.CopyLabel)
		}
		if p.Buttons.HasLink() {
			fmt.Fprintf(&b, "Link button: %s -> %s\n", p.Buttons.LinkLabel, p.Buttons.LinkURL)
		}
	}
	return b.String()
}

func markup(rm *tele.ReplyMarkup) *kit.SendOptions {
	return &kit.SendOptions{ReplyMarkupAdapter: rm}
}
