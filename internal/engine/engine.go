package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"worktracker/internal/config"
	"worktracker/internal/logfields"
	"worktracker/internal/metrics"
	"worktracker/internal/model"
)

// Confirmer asks a human to approve a transition. An error or a timeout
// counts as a decline.
type Confirmer interface {
	Confirm(ctx context.Context, u *model.User, r *Rule) (bool, error)
}

// CheckInResolver supplies the check-in time for a user about to start work.
type CheckInResolver func(ctx context.Context, u *model.User, now time.Time) (time.Time, bool)

// Result is the outcome of one evaluation.
type Result struct {
	From    model.UserState
	To      model.UserState
	Status  string
	Rule    *Rule
	Changed bool
}

// Engine evaluates the transition table for one user at a time. Callers
// serialize evaluations per user.
type Engine struct {
	rules       []*Rule
	mapper      *StatusMapper
	store       Store
	schedule    *config.Schedule
	calendar    Calendar
	confirmer   Confirmer
	interactive bool
	checkIn     CheckInResolver
	recorder    metrics.Recorder
}

type Option func(*Engine)

func WithConfirmer(c Confirmer) Option {
	return func(e *Engine) {
		e.confirmer = c
		e.interactive = c != nil
	}
}

// WithInteractive turns confirmation round-trips on or off.
func WithInteractive(on bool) Option {
	return func(e *Engine) { e.interactive = on }
}

func WithCalendar(c Calendar) Option {
	return func(e *Engine) { e.calendar = c }
}

func WithCheckInResolver(r CheckInResolver) Option {
	return func(e *Engine) { e.checkIn = r }
}

func WithRecorder(r metrics.Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

func New(rules []*Rule, mapper *StatusMapper, store Store, schedule *config.Schedule, opts ...Option) *Engine {
	e := &Engine{
		rules:    rules,
		mapper:   mapper,
		store:    store,
		schedule: schedule,
		calendar: schedule,
		recorder: metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Rules() []*Rule { return e.rules }

// Canonical maps a raw presence status.
func (e *Engine) Canonical(raw string) string {
	if e.mapper == nil {
		return raw
	}
	return e.mapper.Canonical(raw)
}

// Run canonicalizes raw and evaluates the table for u at now.
func (e *Engine) Run(ctx context.Context, u *model.User, raw string, now time.Time) (Result, error) {
	return e.Evaluate(ctx, u, e.Canonical(raw), now)
}

// Evaluate applies at most one rule for the canonical status. Conditions and
// callbacks run against a copy of u; u only takes the new state after the
// state write succeeded, so a failed write leaves it untouched.
func (e *Engine) Evaluate(ctx context.Context, u *model.User, status string, now time.Time) (Result, error) {
	started := time.Now()
	defer func() { e.recorder.ObserveEvaluationDuration(time.Since(started)) }()

	res := Result{From: u.State(), To: u.State(), Status: status}
	work := u.Clone()
	env := &Env{
		User:     work,
		Now:      now,
		Status:   status,
		Store:    e.store,
		Schedule: e.schedule,
		Calendar: e.calendar,
	}

	if IsActiveStatus(status) && work.State().RequiresCheckIn() && work.CheckIn() == nil {
		work.EnsureCheckIn(now)
	}

	for _, r := range e.rules {
		if r.From != work.State() || !r.ClientStatus.Match(status) {
			continue
		}
		if err := CheckSafety(r.From, r.To); err != nil {
			slog.Warn("Skipping unsafe rule", logfields.User(u.ID), logfields.Rule(r.String()), logfields.Error(err))
			e.recorder.IncEvaluation(metrics.OutcomeUnsafe)
			continue
		}
		env.Rule = r
		ok, err := e.check(ctx, env, r)
		if err != nil {
			e.recorder.IncEvaluation(metrics.OutcomeError)
			return res, fmt.Errorf("evaluate %s: %w", r, err)
		}
		if !ok {
			continue
		}
		if r.RequiresConfirmation && e.interactive && e.confirmer != nil {
			confirmed, err := e.confirmer.Confirm(ctx, u, r)
			if err != nil {
				slog.Info("Confirmation not answered", logfields.User(u.ID), logfields.Rule(r.String()), logfields.Error(err))
			}
			if !confirmed {
				e.recorder.IncEvaluation(metrics.OutcomeDeclined)
				continue
			}
		}

		env.CheckIn = e.resolveCheckIn(ctx, work, status, now)
		before := work.Clone()
		err = e.store.Transact(ctx, func(ctx context.Context) error {
			if err := e.saveBreakAbsence(ctx, u, work); err != nil {
				return err
			}
			if err := e.apply(ctx, env, r); err != nil {
				return fmt.Errorf("apply %s: %w", r, err)
			}
			if err := e.store.UpdateUserState(ctx, work); err != nil {
				return fmt.Errorf("update user state: %w", err)
			}
			return nil
		})
		if err != nil {
			work.Restore(before)
			if errors.Is(err, ErrUnsafeTransition) || errors.Is(err, model.ErrIllegalTransition) {
				slog.Warn("Rule not applicable", logfields.User(u.ID), logfields.Rule(r.String()), logfields.Error(err))
				e.recorder.IncEvaluation(metrics.OutcomeUnsafe)
				continue
			}
			e.recorder.IncEvaluation(metrics.OutcomeError)
			return res, err
		}

		u.Restore(work)
		res.To = u.State()
		res.Rule = r
		res.Changed = true
		e.recorder.IncEvaluation(metrics.OutcomeTransition)
		e.recorder.IncTransition(string(res.From), string(res.To))
		slog.Info("State transition",
			logfields.User(u.ID),
			logfields.From(string(res.From)),
			logfields.To(string(res.To)),
			logfields.Status(status),
			logfields.Rule(r.String()))
		return res, nil
	}

	// Conditions with side effects (break_exceeded) may have accrued absence.
	if work.AbsenceTime() != u.AbsenceTime() {
		err := e.store.Transact(ctx, func(ctx context.Context) error {
			if err := e.saveBreakAbsence(ctx, u, work); err != nil {
				return err
			}
			if err := e.store.UpdateUserState(ctx, work); err != nil {
				return fmt.Errorf("update user state: %w", err)
			}
			return nil
		})
		if err != nil {
			return res, err
		}
		u.Restore(work)
	}
	e.recorder.IncEvaluation(metrics.OutcomeNoMatch)
	slog.Debug("No transition matched", logfields.User(u.ID), logfields.State(string(u.State())), logfields.Status(status))
	return res, nil
}

// saveBreakAbsence writes the absence accrued on the open break of work
// when it differs from the stored user's.
func (e *Engine) saveBreakAbsence(ctx context.Context, stored, work *model.User) error {
	b := work.CurrentBreak()
	if b == nil || b.ID == "" {
		return nil
	}
	if old := stored.CurrentBreak(); old != nil && old.ID == b.ID && old.Absence == b.Absence {
		return nil
	}
	if err := e.store.UpdateBreakAbsence(ctx, b.ID, b.Absence); err != nil {
		return fmt.Errorf("update break absence: %w", err)
	}
	return nil
}

// resolveCheckIn asks for the check-in time of a user who has not worked yet
// today and is about to start. nil means now.
func (e *Engine) resolveCheckIn(ctx context.Context, u *model.User, status string, now time.Time) *time.Time {
	if e.checkIn == nil || u.State() != model.StateOffline || !IsActiveStatus(status) {
		return nil
	}
	if u.CheckOut() != nil || u.DailyWorkTime() != 0 {
		return nil
	}
	t, ok := e.checkIn(ctx, u, now)
	if !ok || t.After(now) {
		return nil
	}
	return &t
}

func (e *Engine) check(ctx context.Context, env *Env, r *Rule) (bool, error) {
	for i, c := range r.conditions {
		ok, err := c(ctx, env)
		if err != nil {
			return false, fmt.Errorf("condition %s: %w", r.Conditions[i], err)
		}
		slog.Debug("Condition evaluated", logfields.User(env.User.ID), logfields.Condition(r.Conditions[i]), slog.Bool("result", ok))
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// apply runs the callbacks in order and records the transition on the copy.
func (e *Engine) apply(ctx context.Context, env *Env, r *Rule) error {
	for i, a := range r.actions {
		if err := a(ctx, env); err != nil {
			return fmt.Errorf("callback %s: %w", r.Callbacks[i], err)
		}
	}
	return env.User.Transition(r.To, env.Now)
}
