package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"worktracker/internal/i18n"
	"worktracker/internal/model"
)

// Summary is a user's day so far.
type Summary struct {
	UserID            string
	Name              string
	State             model.UserState
	Now               time.Time
	CheckIn           *time.Time
	CheckOut          *time.Time
	Worked            time.Duration
	Effective         time.Duration
	Breaks            time.Duration
	Absence           time.Duration
	BreakLogs         []model.BreakLog
	CumulativeBalance float64
}

// Summary reports the user's current session and today's breaks. It returns
// nil for users the tracker does not know.
func (t *Tracker) Summary(ctx context.Context, userID string) (*Summary, error) {
	now := t.now()
	var s *Summary
	err := t.do(ctx, userID, func(ctx context.Context, a *actor) error {
		u, err := t.load(ctx, a)
		if err != nil || u == nil {
			return err
		}
		s = &Summary{
			UserID:    u.ID,
			Name:      u.Name,
			State:     u.State(),
			Now:       now,
			CheckIn:   u.CheckIn(),
			CheckOut:  u.CheckOut(),
			Worked:    u.WorkDuration(now),
			Effective: u.EffectiveWorkTime(now),
			Breaks:    u.TotalBreakTime(now),
			Absence:   u.AbsenceTime(),
		}
		return nil
	})
	if err != nil || s == nil {
		return nil, err
	}

	local := t.schedule.In(now)
	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, local.Location())
	if s.BreakLogs, err = t.store.GetUserBreakLogs(ctx, userID, dayStart, dayStart.AddDate(0, 0, 1)); err != nil {
		return nil, fmt.Errorf("get break logs: %w", err)
	}
	if s.CumulativeBalance, err = t.store.GetLastCumulativeBalance(ctx, userID); err != nil {
		return nil, fmt.Errorf("get cumulative balance: %w", err)
	}

	// Checked out: the closed work logs hold the day's accounting.
	if s.CheckIn == nil && s.CheckOut != nil {
		day := local.Format(time.DateOnly)
		logs, err := t.store.GetWorkLogs(ctx, userID, day, day)
		if err != nil {
			return nil, fmt.Errorf("get work logs: %w", err)
		}
		for _, l := range logs {
			if l.End == nil {
				continue
			}
			s.Worked += hours(l.TotalHours)
			s.Effective += hours(l.EffectiveHours)
			s.Breaks += hours(l.BreakHours)
			s.Absence += hours(l.AbsenceHours)
		}
	}
	return s, nil
}

// FormatSummary renders s as a Markdown message.
func FormatSummary(ctx context.Context, s *Summary, loc *time.Location) string {
	clock := func(t *time.Time) string {
		if t == nil {
			return "-"
		}
		return t.In(loc).Format("15:04")
	}
	row := func(labelID, value string) string {
		return fmt.Sprintf("| **%s** | %s |\n", i18n.T(ctx, labelID), value)
	}

	var b strings.Builder
	b.WriteString("#### " + i18n.T(ctx, "summary.title", map[string]any{"User": s.Name}) + "\n| | |\n|:--|:--|\n")
	b.WriteString(row("summary.state", i18n.T(ctx, "state."+string(s.State))))
	b.WriteString(row("summary.check_in", clock(s.CheckIn)))
	b.WriteString(row("summary.check_out", clock(s.CheckOut)))
	b.WriteString(row("summary.total", formatHours(s.Worked)))
	b.WriteString(row("summary.effective", formatHours(s.Effective)))
	b.WriteString(row("summary.breaks", formatHours(s.Breaks)))
	b.WriteString(row("summary.absence", formatHours(s.Absence)))
	b.WriteString(row("summary.balance", fmt.Sprintf("%+.2f h", s.CumulativeBalance)))

	if len(s.BreakLogs) == 0 {
		b.WriteString("\n" + i18n.T(ctx, "summary.no_breaks"))
		return b.String()
	}
	b.WriteString("\n| " + i18n.T(ctx, "summary.break_type") + " | " + i18n.T(ctx, "summary.break_from") +
		" | " + i18n.T(ctx, "summary.break_to") + " | " + i18n.T(ctx, "summary.break_excess") + " |\n|:--|:--|:--|:--|\n")
	for _, bl := range s.BreakLogs {
		fmt.Fprintf(&b, "| %s | %s | %s | %s |\n",
			i18n.T(ctx, "state."+string(bl.Type)), clock(&bl.Start), clock(bl.End), formatHours(bl.Excess))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func hours(h float64) time.Duration {
	return time.Duration(h * float64(time.Hour))
}

func formatHours(d time.Duration) string {
	d = d.Round(time.Minute)
	return fmt.Sprintf("%dh %02dm", int(d.Hours()), int(d.Minutes())%60)
}
