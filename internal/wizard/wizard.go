// Package wizard drives the per-operator compose and edit flows as an
// explicit state machine. Each operator owns at most one session; starting a
// new flow discards any prior incomplete one. Sessions are transient and
// never persisted.
package wizard

import (
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"castbot/internal/post"
	"castbot/internal/store"
	"castbot/internal/timeparse"
)

type Mode int

const (
	ModeIdle Mode = iota
	ModeImmediate
	ModeOneShot
	ModeDaily
	ModeEdit
)

func (m Mode) String() string {
	switch m {
	case ModeImmediate:
		return "immediate"
	case ModeOneShot:
		return "oneshot"
	case ModeDaily:
		return "daily"
	case ModeEdit:
		return "edit"
	default:
		return "idle"
	}
}

type Step int

const (
	StepNone Step = iota
	StepChooseDestinations
	StepAskTrigger
	StepAskDeleteMinutes
	StepAskButtonEnable
	StepAskCopyLabel
	StepAskCopyValue
	StepAskLinkLabel
	StepAskLinkURL
	StepAwaitContent
)

// Action is the closed set of selection events a destination keyboard can
// emit. Unknown callback strings never reach the engine.
type Action int

const (
	ActionToggle Action = iota
	ActionDone
	ActionCancel
)

// Input is one incoming operator message.
type Input struct {
	Text    string
	PhotoID string
	Caption string
}

// draft accumulates the post fields gathered so far.
type draft struct {
	sendAt        time.Time
	dailyAt       string // raw operator input, re-parsed at arm time
	deleteMinutes int
	buttons       post.Buttons
	hasButtons    bool
}

// Session is one operator's in-progress wizard.
type Session struct {
	Mode     Mode
	Step     Step
	Selected map[string]bool
	Target   string // post id, edit flow only

	d draft
}

// Result tells the caller how to react to an event.
type Result struct {
	// Prompt is the next message to show the operator (a step prompt or a
	// re-prompt after invalid input). Empty when nothing should be said.
	Prompt string
	// RefreshKeyboard asks the caller to redraw the destination keyboard.
	RefreshKeyboard bool
	// Cancelled is set when the session was discarded.
	Cancelled bool
	// Post is the completed record (compose flows). The caller persists and
	// arms it; Immediate posts are executed and never persisted.
	Post *post.Post
	// EditTarget/EditContent describe a completed edit flow.
	EditTarget  string
	EditContent *post.Content
}

const (
	promptTrigger = "Send time?\nAccepted: YYYY/MM/DD HH:MM[:SS], or a time of day like 20:30 / 20点30 / 9点 (today)."
	promptDaily   = "Daily send time? e.g. 20:30 / 20点30 / 9点"
	promptDelete  = "Auto-delete after how many minutes? Enter 0 to keep messages."
	promptButtons = "Attach buttons? Reply \"configure\" to set them up or \"skip\" to continue."
	promptContent = "Send the content now (text, or photo with caption)."
)

// Engine is the conversation state machine, keyed by operator id. Operators
// never share session state; each event for an operator is processed under
// the engine lock in arrival order.
type Engine struct {
	groups *store.Groups
	loc    *time.Location
	now    func() time.Time

	mu       sync.Mutex
	sessions map[int64]*Session
}

func NewEngine(groups *store.Groups, loc *time.Location) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{
		groups:   groups,
		loc:      loc,
		now:      time.Now,
		sessions: map[int64]*Session{},
	}
}

// StartCompose opens a fresh compose session for the operator, discarding
// any prior incomplete session.
func (e *Engine) StartCompose(op int64, mode Mode) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sessions[op] = &Session{Mode: mode, Step: StepChooseDestinations, Selected: map[string]bool{}}
}

// StartEdit opens the single-step content-edit flow for a post.
func (e *Engine) StartEdit(op int64, postID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sessions[op] = &Session{Mode: ModeEdit, Step: StepAwaitContent, Target: postID}
}

// Reset discards the operator's session, if any.
func (e *Engine) Reset(op int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.sessions, op)
}

// Active reports the operator's current mode (ModeIdle when no session).
func (e *Engine) Active(op int64) Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.sessions[op]; ok {
		return s.Mode
	}
	return ModeIdle
}

// Selection returns a copy of the operator's working destination set.
func (e *Engine) Selection(op int64) map[string]bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := map[string]bool{}
	if s, ok := e.sessions[op]; ok {
		for id := range s.Selected {
			out[id] = true
		}
	}
	return out
}

// HandleAction processes a destination-keyboard event. destID is only
// meaningful for ActionToggle.
func (e *Engine) HandleAction(op int64, act Action, destID string) Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.sessions[op]
	if !ok || s.Step != StepChooseDestinations {
		return Result{}
	}

	switch act {
	case ActionToggle:
		// Idempotent per toggle pair: the same id toggled twice restores
		// the original set.
		if s.Selected[destID] {
			delete(s.Selected, destID)
		} else {
			s.Selected[destID] = true
		}
		return Result{RefreshKeyboard: true}

	case ActionCancel:
		delete(e.sessions, op)
		return Result{Cancelled: true}

	case ActionDone:
		if len(s.Selected) == 0 {
			return Result{Prompt: "Select at least one destination."}
		}
		switch s.Mode {
		case ModeImmediate:
			s.Step = StepAskDeleteMinutes
			return Result{Prompt: promptDelete}
		case ModeOneShot:
			s.Step = StepAskTrigger
			return Result{Prompt: promptTrigger}
		case ModeDaily:
			s.Step = StepAskTrigger
			return Result{Prompt: promptDaily}
		}
	}
	return Result{}
}

// HandleMessage processes an operator message for the current step. Invalid
// input re-prompts the same step and never advances.
func (e *Engine) HandleMessage(op int64, in Input) Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.sessions[op]
	if !ok {
		return Result{}
	}
	text := strings.TrimSpace(in.Text)

	switch s.Step {
	case StepAskTrigger:
		if s.Mode == ModeDaily {
			if _, ok := timeparse.ParseTimeOfDay(text); !ok {
				return Result{Prompt: "Bad time format. " + promptDaily}
			}
			s.d.dailyAt = text
		} else {
			at, ok := timeparse.ResolveOneShot(text, e.now(), e.loc)
			if !ok {
				return Result{Prompt: "Bad time, or not in the future. " + promptTrigger}
			}
			s.d.sendAt = at
		}
		s.Step = StepAskDeleteMinutes
		return Result{Prompt: promptDelete}

	case StepAskDeleteMinutes:
		n, ok := parseMinutes(text)
		if !ok {
			return Result{Prompt: "Enter a whole number of minutes, or 0."}
		}
		s.d.deleteMinutes = n
		s.Step = StepAskButtonEnable
		return Result{Prompt: promptButtons}

	case StepAskButtonEnable:
		switch strings.ToLower(text) {
		case "skip":
			s.Step = StepAwaitContent
			return Result{Prompt: promptContent}
		case "configure":
			s.Step = StepAskCopyLabel
			return Result{Prompt: "Copy button label?"}
		default:
			return Result{Prompt: promptButtons}
		}

	case StepAskCopyLabel:
		if text == "" {
			return Result{Prompt: "Label cannot be empty. Copy button label?"}
		}
		s.d.buttons.CopyLabel = text
		s.Step = StepAskCopyValue
		return Result{Prompt: "Copy button value? (up to 256 characters)"}

	case StepAskCopyValue:
		if text == "" {
			return Result{Prompt: "Value cannot be empty. Copy button value?"}
		}
		if utf8.RuneCountInString(text) > post.MaxCopyValueLen {
			return Result{Prompt: "Value too long (max 256 characters). Copy button value?"}
		}
		s.d.buttons.CopyValue = text
		s.Step = StepAskLinkLabel
		return Result{Prompt: "Link button label?"}

	case StepAskLinkLabel:
		if text == "" {
			return Result{Prompt: "Label cannot be empty. Link button label?"}
		}
		s.d.buttons.LinkLabel = text
		s.Step = StepAskLinkURL
		return Result{Prompt: "Link URL? (must start with http:// or https://)"}

	case StepAskLinkURL:
		if text == "" || !post.ValidLinkURL(text) {
			return Result{Prompt: "URL must start with http:// or https://. Link URL?"}
		}
		s.d.buttons.LinkURL = text
		s.d.hasButtons = true
		s.Step = StepAwaitContent
		return Result{Prompt: promptContent}

	case StepAwaitContent:
		content, ok := contentFrom(in)
		if !ok {
			return Result{Prompt: "Send text or a photo."}
		}
		if s.Mode == ModeEdit {
			target := s.Target
			delete(e.sessions, op)
			return Result{EditTarget: target, EditContent: &content}
		}
		return e.completeLocked(op, s, content)
	}
	return Result{}
}

// completeLocked builds the final Post from the session. Destinations not
// present in the registry at completion time are excluded here, not at
// toggle time.
func (e *Engine) completeLocked(op int64, s *Session, content post.Content) Result {
	live := e.groups.List()
	var dests []string
	for id := range s.Selected {
		if _, ok := live[id]; ok {
			dests = append(dests, id)
		}
	}
	delete(e.sessions, op)
	if len(dests) == 0 {
		return Result{Cancelled: true, Prompt: "None of the selected destinations are registered anymore. Cancelled."}
	}

	id := post.NewID()
	p := post.Post{
		ID:            id,
		Destinations:  dests,
		DeleteMinutes: s.d.deleteMinutes,
		Content:       content,
		Enabled:       true,
	}
	if s.d.hasButtons {
		b := s.d.buttons
		p.Buttons = &b
	}
	switch s.Mode {
	case ModeImmediate:
		p.Kind = post.KindImmediate
	case ModeOneShot:
		p.Kind = post.KindOneShot
		p.SendAt = s.d.sendAt
		p.JobName = post.JobNameFor(post.KindOneShot, id)
	case ModeDaily:
		p.Kind = post.KindDaily
		p.DailyAt = s.d.dailyAt
		p.JobName = post.JobNameFor(post.KindDaily, id)
	}
	return Result{Post: &p}
}

func contentFrom(in Input) (post.Content, bool) {
	// Photo takes precedence when both are present.
	if in.PhotoID != "" {
		return post.Content{Type: post.ContentPhoto, PhotoID: in.PhotoID, Caption: in.Caption}, true
	}
	body := in.Text
	if body == "" {
		body = in.Caption
	}
	if body == "" {
		return post.Content{}, false
	}
	return post.Content{Type: post.ContentText, Text: body}, true
}

// parseMinutes accepts a non-negative integer literal, nothing else.
func parseMinutes(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
		if n > 1<<30 {
			return 0, false
		}
	}
	return n, true
}
