package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"worktracker/internal/engine"
	"worktracker/internal/i18n"
	"worktracker/internal/logfields"
	"worktracker/internal/mattermost"
	"worktracker/internal/metrics"
	"worktracker/internal/model"
)

var (
	ErrPromptNotFound  = errors.New("prompt not found or expired")
	ErrPromptForbidden = errors.New("prompt belongs to another user")
)

// Messenger is the part of the chat client the prompter and the leave
// workflow post through.
type Messenger interface {
	SendDMPost(ctx context.Context, userID string, post *mattermost.Post) (*mattermost.Post, error)
	CreatePost(ctx context.Context, post *mattermost.Post) (*mattermost.Post, error)
	UpdatePost(ctx context.Context, postID string, post *mattermost.Post) (*mattermost.Post, error)
}

type promptKind string

const (
	promptConfirm promptKind = "confirm"
	promptCheckIn promptKind = "checkin"
)

type answer struct {
	yes bool
	at  time.Time
}

type prompt struct {
	id     string
	kind   promptKind
	userID string
	asked  time.Time
	answer chan answer
}

// Prompter asks users over direct messages and waits for the answer posted
// back through the interactive callbacks. A prompt nobody answers within the
// timeout counts as declined.
type Prompter struct {
	mm       Messenger
	botURL   string
	timeout  time.Duration
	recorder metrics.Recorder

	mu      sync.Mutex
	pending map[string]*prompt
}

func NewPrompter(mm Messenger, botURL string, timeout time.Duration, recorder metrics.Recorder) *Prompter {
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	return &Prompter{
		mm:       mm,
		botURL:   botURL,
		timeout:  timeout,
		recorder: recorder,
		pending:  map[string]*prompt{},
	}
}

var _ engine.Confirmer = (*Prompter)(nil)

// Confirm asks the user whether the transition described by r should happen.
func (p *Prompter) Confirm(ctx context.Context, u *model.User, r *engine.Rule) (bool, error) {
	pr := p.open(promptConfirm, u.ID, time.Now())
	defer p.close(pr.id)

	data := map[string]any{"From": i18n.T(ctx, "state."+string(r.From)), "To": i18n.T(ctx, "state."+string(r.To))}
	post, err := p.mm.SendDMPost(ctx, u.ID, &mattermost.Post{
		Message: i18n.T(ctx, "prompt.confirm.text", data),
		Props: mattermost.Props{Attachments: []mattermost.Attachment{{
			Actions: []mattermost.Action{
				p.button(ctx, "prompt.confirm.yes", "good", pr.id, "yes"),
				p.button(ctx, "prompt.confirm.no", "danger", pr.id, "no"),
			},
		}}},
	})
	if err != nil {
		return false, fmt.Errorf("send confirmation: %w", err)
	}

	a, ok := p.wait(ctx, pr)
	p.recorder.IncPromptAnswer(string(promptConfirm), ok && a.yes)
	switch {
	case !ok:
		p.finish(ctx, post, i18n.T(ctx, "prompt.expired"))
		return false, nil
	case a.yes:
		p.finish(ctx, post, i18n.T(ctx, "prompt.confirm.accepted", data))
	default:
		p.finish(ctx, post, i18n.T(ctx, "prompt.confirm.declined"))
	}
	return a.yes, nil
}

// RequestCheckIn asks the user when they started working today. ok is false
// when the user did not answer in time.
func (p *Prompter) RequestCheckIn(ctx context.Context, u *model.User, now time.Time) (time.Time, bool) {
	pr := p.open(promptCheckIn, u.ID, now)
	defer p.close(pr.id)

	post, err := p.mm.SendDMPost(ctx, u.ID, &mattermost.Post{
		Message: i18n.T(ctx, "prompt.checkin.text"),
		Props: mattermost.Props{Attachments: []mattermost.Attachment{{
			Actions: []mattermost.Action{
				p.button(ctx, "prompt.checkin.now", "primary", pr.id, "now"),
				p.button(ctx, "prompt.checkin.other", "default", pr.id, "dialog"),
			},
		}}},
	})
	if err != nil {
		slog.Error("Failed to send check-in prompt", logfields.User(u.ID), logfields.Error(err))
		return time.Time{}, false
	}

	a, ok := p.wait(ctx, pr)
	p.recorder.IncPromptAnswer(string(promptCheckIn), ok && a.yes)
	if !ok || !a.yes {
		p.finish(ctx, post, i18n.T(ctx, "prompt.expired"))
		return time.Time{}, false
	}
	p.finish(ctx, post, i18n.T(ctx, "prompt.checkin.recorded", map[string]any{"Time": a.at.Format("15:04")}))
	return a.at, true
}

// Answer records a yes/no answer. For a check-in prompt yes means the user
// started when the prompt was sent.
func (p *Prompter) Answer(id, userID string, yes bool) error {
	pr, err := p.lookup(id, userID)
	if err != nil {
		return err
	}
	p.deliver(pr, answer{yes: yes, at: pr.asked})
	return nil
}

// AnswerCheckIn records a check-in time given as HH:MM on the day the prompt
// was sent.
func (p *Prompter) AnswerCheckIn(id, userID, clock string) error {
	pr, err := p.lookup(id, userID)
	if err != nil {
		return err
	}
	if pr.kind != promptCheckIn {
		return fmt.Errorf("prompt %s is not a check-in prompt", id)
	}
	t, err := time.Parse("15:04", clock)
	if err != nil {
		return fmt.Errorf("parse time %q: %w", clock, err)
	}
	day := pr.asked
	at := time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, day.Location())
	if at.After(pr.asked) {
		return fmt.Errorf("check-in time %s is in the future", clock)
	}
	p.deliver(pr, answer{yes: true, at: at})
	return nil
}

// Pending reports whether a prompt is waiting for an answer.
func (p *Prompter) Pending(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.pending[id]
	return ok
}

func (p *Prompter) button(ctx context.Context, labelID, style, promptID, value string) mattermost.Action {
	return mattermost.Action{
		Name:  i18n.T(ctx, labelID),
		Type:  "button",
		Style: style,
		Integration: mattermost.Integration{
			URL:     p.botURL + "/api/worktracker/prompt",
			Context: map[string]any{"prompt_id": promptID, "answer": value},
		},
	}
}

func (p *Prompter) open(kind promptKind, userID string, now time.Time) *prompt {
	pr := &prompt{
		id:     uuid.NewString(),
		kind:   kind,
		userID: userID,
		asked:  now,
		answer: make(chan answer, 1),
	}
	p.mu.Lock()
	p.pending[pr.id] = pr
	p.mu.Unlock()
	return pr
}

func (p *Prompter) close(id string) {
	p.mu.Lock()
	delete(p.pending, id)
	p.mu.Unlock()
}

func (p *Prompter) lookup(id, userID string) (*prompt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pr, ok := p.pending[id]
	if !ok {
		return nil, ErrPromptNotFound
	}
	if pr.userID != userID {
		return nil, ErrPromptForbidden
	}
	return pr, nil
}

// deliver hands the answer to the waiting prompt. Later answers are dropped.
func (p *Prompter) deliver(pr *prompt, a answer) {
	select {
	case pr.answer <- a:
	default:
	}
}

func (p *Prompter) wait(ctx context.Context, pr *prompt) (answer, bool) {
	timer := time.NewTimer(p.timeout)
	defer timer.Stop()
	select {
	case a := <-pr.answer:
		return a, true
	case <-timer.C:
		slog.Info("Prompt expired", logfields.User(pr.userID), slog.String("kind", string(pr.kind)))
		return answer{}, false
	case <-ctx.Done():
		return answer{}, false
	}
}

// finish replaces the prompt's buttons with a closing line.
func (p *Prompter) finish(ctx context.Context, post *mattermost.Post, message string) {
	if post == nil || post.ID == "" {
		return
	}
	ctx = context.WithoutCancel(ctx)
	_, err := p.mm.UpdatePost(ctx, post.ID, &mattermost.Post{
		ChannelID: post.ChannelID,
		Message:   message,
		Props:     mattermost.Props{Attachments: []mattermost.Attachment{}},
	})
	if err != nil {
		slog.Warn("Failed to close prompt", logfields.Error(err))
	}
}
