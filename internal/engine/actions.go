package engine

import (
	"context"
	"fmt"
	"log/slog"

	"worktracker/internal/logfields"
	"worktracker/internal/model"
)

func registerActions(r *Registry) {
	r.RegisterAction("start_work", startWork)
	r.RegisterAction("end_work", endWork)
	r.RegisterAction("start_break", startBreak)
	r.RegisterAction("end_break", endBreak)
	r.RegisterAction("extend_break", extendBreak)
	r.RegisterAction("start_overtime", startOvertime)
	r.RegisterAction("end_overtime", endOvertime)
	r.RegisterAction("start_holiday_work", startHolidayWork)
	r.RegisterAction("begin_unauthorized_absence", beginUnauthorizedAbsence)
	r.RegisterAction("end_unauthorized_absence", endUnauthorizedAbsence)
}

// guard is the structural check every action runs before touching anything.
func guard(env *Env, action string) error {
	if env.Rule == nil {
		return nil
	}
	if err := CheckSafety(env.User.State(), env.Rule.To); err != nil {
		slog.Warn("Action refused",
			logfields.Action(action),
			logfields.User(env.User.ID),
			logfields.From(string(env.User.State())),
			logfields.To(string(env.Rule.To)))
		return err
	}
	return nil
}

func illegal(env *Env, action string) error {
	return fmt.Errorf("%s from %s: %w", action, env.User.State(), model.ErrIllegalTransition)
}

func startWork(ctx context.Context, env *Env) error {
	return beginSession(ctx, env, "start_work", false)
}

func startHolidayWork(ctx context.Context, env *Env) error {
	return beginSession(ctx, env, "start_holiday_work", true)
}

func beginSession(ctx context.Context, env *Env, action string, holiday bool) error {
	if err := guard(env, action); err != nil {
		return err
	}
	u := env.User
	if u.State() != model.StateOffline {
		return illegal(env, action)
	}
	start := env.Now
	if env.CheckIn != nil && !env.CheckIn.After(env.Now) {
		start = *env.CheckIn
	}
	id, err := env.Store.LogWorkStart(ctx, u.ID, start, holiday)
	if err != nil {
		return fmt.Errorf("log work start: %w", err)
	}
	u.StartWork(start, holiday)
	u.SetWorkLogID(id)
	slog.Info("Work started", logfields.User(u.ID), slog.Time("check_in", start), slog.Bool("holiday", holiday))
	return nil
}

// endWork closes the session: the open break, the work log with its hours
// and the cumulative balance are persisted before the user is reset.
func endWork(ctx context.Context, env *Env) error {
	if err := guard(env, "end_work"); err != nil {
		return err
	}
	u := env.User
	if u.CheckIn() == nil {
		return illegal(env, "end_work")
	}
	caps := env.Schedule.Caps

	if closed, ok := u.PreviewEndBreak(env.Now, caps); ok && closed.ID != "" {
		if err := env.Store.LogBreakEnd(ctx, closed); err != nil {
			return fmt.Errorf("log break end: %w", err)
		}
	}

	logID := u.WorkLogID()
	if logID == "" {
		id, err := env.Store.LogWorkStart(ctx, u.ID, *u.CheckIn(), u.IsHolidayWork())
		if err != nil {
			return fmt.Errorf("log work start: %w", err)
		}
		logID = id
	}
	prev, err := env.Store.GetLastCumulativeBalance(ctx, u.ID)
	if err != nil {
		return fmt.Errorf("get last cumulative balance: %w", err)
	}
	closure := CloseSession(u, env.Now, env.Schedule, prev)
	closure.WorkLogID = logID
	if err := env.Store.LogWorkEnd(ctx, closure); err != nil {
		return fmt.Errorf("log work end: %w", err)
	}

	u.EndWork(env.Now, caps)
	slog.Info("Work ended",
		logfields.User(u.ID),
		slog.Float64("total_hours", closure.TotalHours),
		slog.Float64("effective_hours", closure.EffectiveHours),
		slog.Float64("break_hours", closure.BreakHours),
		slog.Float64("absence_hours", closure.AbsenceHours),
		slog.Float64("balance", closure.Balance),
		slog.Float64("cumulative_balance", closure.CumulativeBalance))
	return nil
}

// startBreak opens a break of the rule's target type. A break opened because
// the platform reported the user idle starts when the inactivity began.
func startBreak(ctx context.Context, env *Env) error {
	if err := guard(env, "start_break"); err != nil {
		return err
	}
	u := env.User
	if env.Rule == nil || !env.Rule.To.IsBreak() {
		return fmt.Errorf("start_break needs a break target state: %w", model.ErrIllegalTransition)
	}
	switch u.State() {
	case model.StateWorking, model.StateOvertime, model.StateHolidayWork:
	default:
		return illegal(env, "start_break")
	}
	if u.CurrentBreak() != nil {
		return illegal(env, "start_break")
	}

	start := env.Now
	if env.Status == StatusIdle && env.Schedule.IdleDelay > 0 {
		start = env.Now.Add(-env.Schedule.IdleDelay)
		if last := u.LastStateChange(); start.Before(last) {
			start = last
		}
		if ci := u.CheckIn(); ci != nil && start.Before(*ci) {
			start = *ci
		}
	}

	id, err := env.Store.LogBreakStart(ctx, model.BreakLog{UserID: u.ID, Type: env.Rule.To, Start: start})
	if err != nil {
		return fmt.Errorf("log break start: %w", err)
	}
	u.StartBreak(env.Rule.To, start)
	u.SetBreakID(id)
	return nil
}

// endBreak closes the open break. Without an open break it does nothing.
func endBreak(ctx context.Context, env *Env) error {
	if err := guard(env, "end_break"); err != nil {
		return err
	}
	u := env.User
	closed, ok := u.PreviewEndBreak(env.Now, env.Schedule.Caps)
	if !ok {
		return nil
	}
	if closed.ID != "" {
		if err := env.Store.LogBreakEnd(ctx, closed); err != nil {
			return fmt.Errorf("log break end: %w", err)
		}
	}
	u.EndBreak(env.Now, env.Schedule.Caps)
	slog.Debug("Break ended",
		logfields.User(u.ID),
		slog.String("type", string(closed.Type)),
		slog.Duration("excess", closed.Excess))
	return nil
}

func extendBreak(ctx context.Context, env *Env) error {
	if err := guard(env, "extend_break"); err != nil {
		return err
	}
	u := env.User
	b := u.CurrentBreak()
	if b == nil || u.State() != model.StateShortBreak {
		return illegal(env, "extend_break")
	}
	if b.ID != "" {
		if err := env.Store.LogBreakExtension(ctx, b.ID, model.StateExtendedBreak); err != nil {
			return fmt.Errorf("log break extension: %w", err)
		}
	}
	u.ExtendBreak()
	return nil
}

func startOvertime(_ context.Context, env *Env) error {
	if err := guard(env, "start_overtime"); err != nil {
		return err
	}
	if !env.User.StartOvertime() {
		return illegal(env, "start_overtime")
	}
	return nil
}

func endOvertime(_ context.Context, env *Env) error {
	if err := guard(env, "end_overtime"); err != nil {
		return err
	}
	if !env.User.EndOvertime() {
		return illegal(env, "end_overtime")
	}
	return nil
}

// beginUnauthorizedAbsence flags the user absent. An offline user is checked
// in at the scheduled work start, and the time since then is absence.
func beginUnauthorizedAbsence(ctx context.Context, env *Env) error {
	if err := guard(env, "begin_unauthorized_absence"); err != nil {
		return err
	}
	u := env.User
	switch u.State() {
	case model.StateOffline:
		workStart, _ := env.Schedule.WorkWindow(env.Now)
		if workStart.After(env.Now) {
			workStart = env.Now
		}
		id, err := env.Store.LogWorkStart(ctx, u.ID, workStart, false)
		if err != nil {
			return fmt.Errorf("log work start: %w", err)
		}
		u.BeginAbsence(workStart, env.Now)
		u.SetWorkLogID(id)
	case model.StateWorking, model.StateOvertime, model.StateHolidayWork, model.StateReturningFromBreak:
		u.BeginAbsence(env.Now, env.Now)
	default:
		return illegal(env, "begin_unauthorized_absence")
	}
	slog.Warn("Unauthorized absence detected",
		logfields.User(u.ID),
		logfields.Status(env.Status),
		slog.Duration("absence", u.AbsenceTime()))
	return nil
}

func endUnauthorizedAbsence(_ context.Context, env *Env) error {
	if err := guard(env, "end_unauthorized_absence"); err != nil {
		return err
	}
	if !env.User.EndAbsence(env.Now) {
		return illegal(env, "end_unauthorized_absence")
	}
	return nil
}

