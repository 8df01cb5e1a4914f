package engine

import (
	"context"
	"fmt"
	"time"

	"worktracker/internal/model"
)

// Canonical presence statuses produced by the status mapping.
const (
	StatusWorking    = "WORKING"
	StatusOnline     = "ONLINE"
	StatusIdle       = "IDLE"
	StatusShortBreak = "SHORT_BREAK"
	StatusOffline    = "OFFLINE"
)

// IsActiveStatus reports whether a canonical status means the user is at work.
func IsActiveStatus(s string) bool { return s == StatusWorking || s == StatusOnline }

func isIdleStatus(s string) bool { return s == StatusIdle || s == StatusShortBreak }

func registerConditions(r *Registry) {
	r.RegisterCondition("is_work_time", isWorkTime)
	r.RegisterCondition("is_lunch_time", isLunchTime)
	r.RegisterCondition("is_break_time", isBreakTime)
	r.RegisterCondition("is_buffer_time", isBufferTime)
	r.RegisterCondition("break_exceeded", breakExceeded)
	r.RegisterCondition("idle_time_exceeded", idleTimeExceeded)
	r.RegisterCondition("is_overtime", isOvertime)
	r.RegisterCondition("is_regular_work", isRegularWork)
	r.RegisterCondition("is_holiday_or_weekend", isHolidayOrWeekend)
	r.RegisterCondition("is_authorized_absence", isAuthorizedAbsence)
	r.RegisterCondition("is_unauthorized_absence", isUnauthorizedAbsence)
	r.RegisterCondition("has_not_worked_today", hasNotWorkedToday)

	r.RegisterCondition("is_not_work_time", not(isWorkTime))
	r.RegisterCondition("is_not_lunch_time", not(isLunchTime))
	r.RegisterCondition("is_not_buffer_time", not(isBufferTime))
	r.RegisterCondition("is_not_holiday_or_weekend", not(isHolidayOrWeekend))
	r.RegisterCondition("is_within_work_hours", either(isWorkTime, isBufferTime))
}

func not(c Condition) Condition {
	return func(ctx context.Context, env *Env) (bool, error) {
		ok, err := c(ctx, env)
		return !ok && err == nil, err
	}
}

func either(a, b Condition) Condition {
	return func(ctx context.Context, env *Env) (bool, error) {
		ok, err := a(ctx, env)
		if err != nil || ok {
			return ok, err
		}
		return b(ctx, env)
	}
}

func within(t, from, to time.Time) bool {
	return !t.Before(from) && !t.After(to)
}

func near(t, mark time.Time, margin time.Duration) bool {
	return within(t, mark.Add(-margin), mark.Add(margin))
}

func isWorkTime(_ context.Context, env *Env) (bool, error) {
	start, end := env.Schedule.WorkWindow(env.Now)
	return within(env.Schedule.In(env.Now), start, end), nil
}

// isLunchTime uses the lunch window widened by its buffers. A user who already
// had lunch in this session is never in lunch time again.
func isLunchTime(_ context.Context, env *Env) (bool, error) {
	if env.User.HasTakenLunch() {
		return false, nil
	}
	start, end := env.Schedule.LunchWindow(env.Now)
	return within(env.Schedule.In(env.Now), start.Add(-env.Schedule.LunchPreBuffer), end.Add(env.Schedule.LunchPostBuffer)), nil
}

func isBreakTime(ctx context.Context, env *Env) (bool, error) {
	if !isIdleStatus(env.Status) {
		return false, nil
	}
	work, _ := isWorkTime(ctx, env)
	if !work {
		return false, nil
	}
	lunch, _ := isLunchTime(ctx, env)
	return !lunch, nil
}

func isBufferTime(_ context.Context, env *Env) (bool, error) {
	s := env.Schedule
	now := s.In(env.Now)
	workStart, workEnd := s.WorkWindow(now)
	lunchStart, lunchEnd := s.LunchWindow(now)
	return near(now, workStart, s.WorkPreBuffer) ||
		near(now, workEnd, s.WorkPostBuffer) ||
		near(now, lunchStart, s.LunchPreBuffer) ||
		near(now, lunchEnd, s.LunchPostBuffer), nil
}

// breakExceeded compares the open break against the extended cap first. Past
// that cap the overrun is accrued into the user's absence time as a side
// effect, counting only what was not accrued before. Short breaks then fall
// back to the short cap. Lunch breaks are measured against the lunch cap and
// their excess is settled when they close.
func breakExceeded(_ context.Context, env *Env) (bool, error) {
	b := env.User.CurrentBreak()
	if b == nil {
		return false, nil
	}
	caps := env.Schedule.Caps
	elapsed := b.Duration(env.Now)
	if b.Type == model.StateLunchBreak {
		return elapsed > caps.Lunch, nil
	}
	if elapsed > caps.Extended {
		env.User.AccrueBreakAbsence(env.Now, caps.Extended)
		return true, nil
	}
	if b.Type == model.StateExtendedBreak {
		return false, nil
	}
	return elapsed > caps.Short, nil
}

func idleTimeExceeded(_ context.Context, env *Env) (bool, error) {
	return env.Now.Sub(env.User.LastStateChange()) > env.Schedule.IdleBuffer, nil
}

func isOvertime(_ context.Context, env *Env) (bool, error) {
	if env.User.CheckIn() == nil {
		return false, nil
	}
	return env.User.EffectiveWorkTime(env.Now) > env.Schedule.RegularDay, nil
}

func isRegularWork(_ context.Context, env *Env) (bool, error) {
	if env.User.WorkDuration(env.Now) <= 0 {
		return false, nil
	}
	return env.User.EffectiveWorkTime(env.Now) <= env.Schedule.RegularDay, nil
}

func isHolidayOrWeekend(_ context.Context, env *Env) (bool, error) {
	cal := env.Calendar
	if cal == nil {
		cal = env.Schedule
	}
	return cal.IsHoliday(env.Now), nil
}

func hasNotWorkedToday(_ context.Context, env *Env) (bool, error) {
	return env.User.CheckOut() == nil && env.User.DailyWorkTime() == 0, nil
}

// isAuthorizedAbsence only applies to an offline user reported offline.
// Approved full-day leave authorizes the absence; time-bounded leave only
// inside its bound. Without leave, being away is fine outside work hours,
// during lunch and before the offline-check deadline.
func isAuthorizedAbsence(ctx context.Context, env *Env) (bool, error) {
	if env.User.State() != model.StateOffline || env.Status != StatusOffline {
		return false, nil
	}
	s := env.Schedule
	now := s.In(env.Now)
	workStart, workEnd := s.WorkWindow(now)

	leave, err := env.Store.CheckUserLeave(ctx, env.User.ID, now)
	if err != nil {
		return false, fmt.Errorf("check user leave: %w", err)
	}
	for _, l := range leave {
		if l.Type.FullDay() {
			return true, nil
		}
		from, to, bounded := l.Window(now, workStart, workEnd)
		if !bounded || within(now, from, to) {
			return true, nil
		}
	}

	if !within(now, workStart, workEnd) {
		return true, nil
	}
	lunchStart, lunchEnd := s.LunchWindow(now)
	if within(now, lunchStart, lunchEnd) {
		return true, nil
	}
	return !now.After(s.OfflineDeadline.On(now)), nil
}

func isUnauthorizedAbsence(ctx context.Context, env *Env) (bool, error) {
	if env.User.State() != model.StateOffline || env.Status != StatusOffline {
		return false, nil
	}
	ok, err := isAuthorizedAbsence(ctx, env)
	if err != nil {
		return false, err
	}
	return !ok, nil
}
