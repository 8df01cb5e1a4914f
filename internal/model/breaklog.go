package model

import "time"

// BreakCaps holds the standard duration of each break type.
type BreakCaps struct {
	Short    time.Duration
	Extended time.Duration
	Lunch    time.Duration
}

// Standard returns the standard duration for a break type.
func (c BreakCaps) Standard(t UserState) time.Duration {
	switch t {
	case StateLunchBreak:
		return c.Lunch
	case StateExtendedBreak:
		return c.Extended
	default:
		return c.Short
	}
}

// Excess returns max(0, d - standard(t)).
func (c BreakCaps) Excess(t UserState, d time.Duration) time.Duration {
	if over := d - c.Standard(t); over > 0 {
		return over
	}
	return 0
}

// BreakLog is one break period. It is appended to the owning user's break list
// when the break starts and closed exactly once.
type BreakLog struct {
	ID     string        `bson:"_id,omitempty" json:"id"`
	UserID string        `bson:"user_id" json:"user_id"`
	Type   UserState     `bson:"type" json:"type"`
	Start  time.Time     `bson:"start" json:"start"`
	End    *time.Time    `bson:"end,omitempty" json:"end,omitempty"`
	Excess time.Duration `bson:"excess" json:"excess"`
	// Absence is the part of this break already moved into the user's absence time.
	Absence time.Duration `bson:"absence" json:"absence"`
}

// Open reports whether the break has not been closed yet.
func (b *BreakLog) Open() bool { return b.End == nil }

// Duration returns the break length, measuring open breaks up to now.
func (b *BreakLog) Duration(now time.Time) time.Duration {
	end := now
	if b.End != nil {
		end = *b.End
	}
	if d := end.Sub(b.Start); d > 0 {
		return d
	}
	return 0
}

// close ends the break and computes its excess. Closing an already closed
// break is a no-op.
func (b *BreakLog) close(end time.Time, caps BreakCaps) bool {
	if b.End != nil {
		return false
	}
	if end.Before(b.Start) {
		end = b.Start
	}
	b.End = &end
	b.Excess = caps.Excess(b.Type, end.Sub(b.Start))
	return true
}
