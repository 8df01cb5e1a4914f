package config

import (
	"fmt"
	"strings"
	"time"

	"worktracker/internal/model"
)

// Clock is a time of day.
type Clock struct {
	Hour   int
	Minute int
}

// ParseClock parses "HH:MM".
func ParseClock(s string) (Clock, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return Clock{}, fmt.Errorf("parse time of day %q: %w", s, err)
	}
	return Clock{Hour: t.Hour(), Minute: t.Minute()}, nil
}

// On returns the instant of c on the calendar day of t, in t's location.
func (c Clock) On(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), c.Hour, c.Minute, 0, 0, t.Location())
}

func (c Clock) String() string { return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute) }

// Schedule is the work calendar the engine evaluates time conditions against.
type Schedule struct {
	Location *time.Location

	WorkStart  Clock
	WorkEnd    Clock
	LunchStart Clock
	LunchEnd   Clock

	WorkPreBuffer   time.Duration
	WorkPostBuffer  time.Duration
	LunchPreBuffer  time.Duration
	LunchPostBuffer time.Duration

	Caps model.BreakCaps

	IdleBuffer      time.Duration
	IdleDelay       time.Duration
	RegularDay      time.Duration
	OfflineDeadline Clock

	Holidays map[string]bool // YYYY-MM-DD
}

func DefaultSchedule() Schedule {
	return Schedule{
		Location:        time.Local,
		WorkStart:       Clock{7, 0},
		WorkEnd:         Clock{18, 0},
		LunchStart:      Clock{12, 45},
		LunchEnd:        Clock{14, 30},
		WorkPreBuffer:   60 * time.Minute,
		WorkPostBuffer:  60 * time.Minute,
		LunchPreBuffer:  30 * time.Minute,
		LunchPostBuffer: 30 * time.Minute,
		Caps: model.BreakCaps{
			Short:    15 * time.Minute,
			Extended: 30 * time.Minute,
			Lunch:    60 * time.Minute,
		},
		IdleBuffer:      5 * time.Minute,
		RegularDay:      8 * time.Hour,
		OfflineDeadline: Clock{9, 30},
		Holidays:        map[string]bool{},
	}
}

// In converts t to the schedule's location.
func (s *Schedule) In(t time.Time) time.Time {
	if s.Location == nil {
		return t
	}
	return t.In(s.Location)
}

// WorkWindow returns the scheduled work start and end on the day of t.
func (s *Schedule) WorkWindow(t time.Time) (start, end time.Time) {
	t = s.In(t)
	return s.WorkStart.On(t), s.WorkEnd.On(t)
}

// LunchWindow returns the scheduled lunch start and end on the day of t.
func (s *Schedule) LunchWindow(t time.Time) (start, end time.Time) {
	t = s.In(t)
	return s.LunchStart.On(t), s.LunchEnd.On(t)
}

// IsHoliday reports whether t falls on a weekend or a configured holiday.
func (s *Schedule) IsHoliday(t time.Time) bool {
	t = s.In(t)
	if wd := t.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return true
	}
	return s.Holidays[t.Format(time.DateOnly)]
}

func parseHolidays(s string) (map[string]bool, error) {
	out := map[string]bool{}
	for _, d := range strings.Split(s, ",") {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}
		if _, err := time.Parse(time.DateOnly, d); err != nil {
			return nil, fmt.Errorf("invalid holiday %q: %w", d, err)
		}
		out[d] = true
	}
	return out, nil
}
