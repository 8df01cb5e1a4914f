package engine

import (
	"math"
	"time"

	"worktracker/internal/config"
	"worktracker/internal/model"
)

// CloseSession computes the end-of-work accounting for u at now without
// changing it. Lunch breaks count as break time up to their cap and their
// excess as absence; other breaks count in full as break time, so their
// overrun is not subtracted a second time. Holiday work has no standard day, so all of it
// counts towards the balance.
func CloseSession(u *model.User, now time.Time, s *config.Schedule, previousCumulative float64) model.WorkLogClosure {
	c := u.Clone()
	c.EndBreak(now, s.Caps)

	total := c.WorkDuration(now)
	breaks := c.TotalBreakTime(now)
	absence := c.AbsenceTime()
	effective := total - breaks - c.AbsenceOutsideBreaks()
	if effective < 0 {
		effective = 0
	}

	standard := s.RegularDay
	if c.IsHolidayWork() {
		standard = 0
	}
	balance := round2(effective.Hours() - standard.Hours())

	return model.WorkLogClosure{
		WorkLogID:         c.WorkLogID(),
		UserID:            c.ID,
		End:               now,
		TotalHours:        round2(total.Hours()),
		BreakHours:        round2(breaks.Hours()),
		AbsenceHours:      round2(absence.Hours()),
		EffectiveHours:    round2(effective.Hours()),
		Balance:           balance,
		CumulativeBalance: round2(previousCumulative + balance),
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
