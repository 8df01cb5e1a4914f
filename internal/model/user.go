package model

import (
	"errors"
	"time"
)

// ErrIllegalTransition is returned when a state change would leave the user
// in an inconsistent shape.
var ErrIllegalTransition = errors.New("illegal state transition")

// User is a tracked person. Identity fields are plain data; the attendance
// state is only changed through the methods below so that its invariants hold:
// the user holds an open break exactly when the state is a break state, and a
// check-in time exists in every state except OFFLINE and ON_LEAVE.
type User struct {
	ID         string
	PresenceID string
	Name       string
	FullName   string
	Department string
	Role       string
	Admin      bool
	Remote     bool

	state           UserState
	resume          UserState
	checkIn         *time.Time
	checkOut        *time.Time
	dailyWork       time.Duration
	weeklyWork      time.Duration
	overtime        bool
	holidayWork     bool
	breaks          []BreakLog
	currentBreak    int
	absence         time.Duration
	lastStateChange time.Time
	workLogID       string
	mobile          bool
	mobileTime      time.Duration
	pcTime          time.Duration
	usageCursor     time.Time
}

func NewUser(id, presenceID, name string, now time.Time) *User {
	return &User{
		ID:              id,
		PresenceID:      presenceID,
		Name:            name,
		state:           StateOffline,
		currentBreak:    -1,
		lastStateChange: now,
	}
}

func (u *User) State() UserState              { return u.state }
func (u *User) LastStateChange() time.Time    { return u.lastStateChange }
func (u *User) DailyWorkTime() time.Duration  { return u.dailyWork }
func (u *User) WeeklyWorkTime() time.Duration { return u.weeklyWork }
func (u *User) AbsenceTime() time.Duration    { return u.absence }
func (u *User) IsOvertime() bool              { return u.overtime }
func (u *User) IsHolidayWork() bool           { return u.holidayWork }
func (u *User) WorkLogID() string             { return u.workLogID }
func (u *User) IsMobile() bool                { return u.mobile }

func (u *User) CheckIn() *time.Time  { return copyTime(u.checkIn) }
func (u *User) CheckOut() *time.Time { return copyTime(u.checkOut) }

// DeviceTime returns the accumulated mobile and desktop time of the session.
func (u *User) DeviceTime() DeviceUsage {
	return DeviceUsage{Mobile: u.mobileTime, PC: u.pcTime}
}

// Breaks returns a copy of the break list of the current session.
func (u *User) Breaks() []BreakLog {
	out := make([]BreakLog, len(u.breaks))
	for i, b := range u.breaks {
		b.End = copyTime(b.End)
		out[i] = b
	}
	return out
}

// CurrentBreak returns the open break, or nil. The pointer refers into the
// user's break list and is only valid until the next mutating call.
func (u *User) CurrentBreak() *BreakLog {
	if u.currentBreak < 0 || u.currentBreak >= len(u.breaks) {
		return nil
	}
	return &u.breaks[u.currentBreak]
}

// HasTakenLunch reports whether a lunch break was taken in the current session.
func (u *User) HasTakenLunch() bool {
	for _, b := range u.breaks {
		if b.Type == StateLunchBreak {
			return true
		}
	}
	return false
}

// StartWork checks the user in. It is legal only from OFFLINE.
func (u *User) StartWork(now time.Time, holiday bool) bool {
	if u.state != StateOffline {
		return false
	}
	t := now
	u.checkIn = &t
	u.checkOut = nil
	u.breaks = nil
	u.currentBreak = -1
	u.absence = 0
	u.overtime = false
	u.holidayWork = holiday
	u.usageCursor = now
	if holiday {
		u.state = StateHolidayWork
	} else {
		u.state = StateWorking
	}
	return true
}

// EndWork checks the user out. Any open break is closed first, the session
// length is added to the daily and weekly totals and the session counters are
// cleared. The daily total survives until ResetDay.
func (u *User) EndWork(now time.Time, caps BreakCaps) bool {
	if u.checkIn == nil {
		return false
	}
	u.EndBreak(now, caps)
	if d := now.Sub(*u.checkIn); d > 0 {
		u.dailyWork += d
		u.weeklyWork += d
	}
	t := now
	u.checkOut = &t
	u.checkIn = nil
	u.state = StateOffline
	u.resume = ""
	u.breaks = nil
	u.currentBreak = -1
	u.absence = 0
	u.overtime = false
	u.holidayWork = false
	u.workLogID = ""
	u.mobileTime = 0
	u.pcTime = 0
	return true
}

// StartBreak opens a break of type t from a working state.
func (u *User) StartBreak(t UserState, now time.Time) bool {
	if !t.IsBreak() || u.currentBreak >= 0 {
		return false
	}
	switch u.state {
	case StateWorking, StateOvertime, StateHolidayWork:
	default:
		return false
	}
	u.breaks = append(u.breaks, BreakLog{UserID: u.ID, Type: t, Start: now})
	u.currentBreak = len(u.breaks) - 1
	u.resume = u.state
	u.state = t
	return true
}

// SetBreakID records the persisted identifier of the open break.
func (u *User) SetBreakID(id string) {
	if b := u.CurrentBreak(); b != nil {
		b.ID = id
	}
}

// EndBreak closes the open break. Lunch and extended break excess moves into
// the absence time, topping up whatever was already accrued while the break
// was running. Short break excess stays break time.
func (u *User) EndBreak(now time.Time, caps BreakCaps) bool {
	b := u.CurrentBreak()
	if b == nil {
		return false
	}
	b.close(now, caps)
	if b.Type == StateLunchBreak || b.Type == StateExtendedBreak {
		if delta := b.Excess - b.Absence; delta > 0 {
			b.Absence += delta
			u.absence += delta
		}
	}
	u.currentBreak = -1
	u.state = u.resume
	if u.state == "" || u.state.IsBreak() {
		u.state = StateWorking
	}
	u.resume = ""
	return true
}

// PreviewEndBreak returns the open break as EndBreak would close it at now,
// leaving the user unchanged.
func (u *User) PreviewEndBreak(now time.Time, caps BreakCaps) (BreakLog, bool) {
	if u.CurrentBreak() == nil {
		return BreakLog{}, false
	}
	c := u.Clone()
	idx := c.currentBreak
	c.EndBreak(now, caps)
	return c.breaks[idx], true
}

// ExtendBreak turns a running short break into an extended one.
func (u *User) ExtendBreak() bool {
	b := u.CurrentBreak()
	if b == nil || u.state != StateShortBreak {
		return false
	}
	b.Type = StateExtendedBreak
	u.state = StateExtendedBreak
	return true
}

// AccrueBreakAbsence moves the part of the open break beyond limit into the
// absence time. Only the not yet accrued part is added, so repeated calls
// never count the same minutes twice. It returns the amount added.
func (u *User) AccrueBreakAbsence(now time.Time, limit time.Duration) time.Duration {
	b := u.CurrentBreak()
	if b == nil {
		return 0
	}
	want := b.Duration(now) - limit
	delta := want - b.Absence
	if delta <= 0 {
		return 0
	}
	b.Absence += delta
	u.absence += delta
	return delta
}

func (u *User) StartOvertime() bool {
	if u.state != StateWorking {
		return false
	}
	u.overtime = true
	u.state = StateOvertime
	return true
}

func (u *User) EndOvertime() bool {
	if u.state != StateOvertime {
		return false
	}
	u.overtime = false
	u.state = StateWorking
	return true
}

// BeginAbsence marks the user as absent without authorization. Coming from
// OFFLINE, the check-in is set to the scheduled start and the time since then
// is counted as absence.
func (u *User) BeginAbsence(scheduledStart, now time.Time) bool {
	switch u.state {
	case StateOffline:
		t := scheduledStart
		u.checkIn = &t
		u.checkOut = nil
		u.breaks = nil
		u.currentBreak = -1
		u.absence = 0
		u.usageCursor = now
		if d := now.Sub(scheduledStart); d > 0 {
			u.absence += d
		}
	case StateWorking, StateOvertime, StateHolidayWork, StateReturningFromBreak:
	default:
		return false
	}
	u.state = StateUnauthorizedAbsence
	return true
}

// EndAbsence closes an unauthorized absence, adding the time since the last
// state change to the absence counter.
func (u *User) EndAbsence(now time.Time) bool {
	if u.state != StateUnauthorizedAbsence {
		return false
	}
	if d := now.Sub(u.lastStateChange); d > 0 {
		u.absence += d
	}
	u.state = StateWorking
	return true
}

func (u *User) AccrueAbsence(d time.Duration) {
	if d > 0 {
		u.absence += d
	}
}

// MarkOnLeave puts an offline user on approved leave.
func (u *User) MarkOnLeave(now time.Time) bool {
	if u.state != StateOffline {
		return u.state == StateOnLeave
	}
	u.state = StateOnLeave
	u.lastStateChange = now
	return true
}

// ClearLeave returns a user on leave to OFFLINE.
func (u *User) ClearLeave(now time.Time) bool {
	if u.state != StateOnLeave {
		return false
	}
	u.state = StateOffline
	u.lastStateChange = now
	return true
}

// Transition records the move to state to. It refuses moves that would break
// the break or check-in invariants.
func (u *User) Transition(to UserState, now time.Time) error {
	if !to.Valid() {
		return ErrIllegalTransition
	}
	if to.IsBreak() != (u.CurrentBreak() != nil) {
		return ErrIllegalTransition
	}
	if to.RequiresCheckIn() && u.checkIn == nil {
		return ErrIllegalTransition
	}
	u.state = to
	u.lastStateChange = now
	return nil
}

// EnsureCheckIn sets the check-in time when it is missing.
func (u *User) EnsureCheckIn(t time.Time) {
	if u.checkIn == nil {
		u.checkIn = &t
	}
}

func (u *User) SetWorkLogID(id string) { u.workLogID = id }

func (u *User) SetMobile(mobile bool) { u.mobile = mobile }

// AccrueDeviceTime adds the time since the last call to the mobile or desktop
// counter and advances the usage cursor. The last state change time stays put
// because idle and absence measurements run from it. It returns the delta
// added.
func (u *User) AccrueDeviceTime(now time.Time) time.Duration {
	from := u.usageCursor
	if from.IsZero() {
		from = u.lastStateChange
	}
	u.usageCursor = now
	if u.checkIn == nil {
		return 0
	}
	d := now.Sub(from)
	if d <= 0 {
		return 0
	}
	if u.mobile {
		u.mobileTime += d
	} else {
		u.pcTime += d
	}
	return d
}

// ResetDay clears the daily total. A session in progress is left alone.
func (u *User) ResetDay() {
	u.dailyWork = 0
	if u.state == StateOffline {
		u.checkOut = nil
	}
}

func (u *User) ResetWeek() {
	u.weeklyWork = 0
}

// TotalBreakTime sums break durations. Lunch breaks count up to their cap,
// their excess being absence; every other break counts in full. The open
// break is measured up to now.
func (u *User) TotalBreakTime(now time.Time) time.Duration {
	var total time.Duration
	for i := range u.breaks {
		d := u.breaks[i].Duration(now)
		if u.breaks[i].Type == StateLunchBreak {
			d -= u.breaks[i].Absence
		}
		if d > 0 {
			total += d
		}
	}
	return total
}

// AbsenceOutsideBreaks is the absence time not already part of TotalBreakTime:
// everything except the overrun of non-lunch breaks.
func (u *User) AbsenceOutsideBreaks() time.Duration {
	d := u.absence
	for _, b := range u.breaks {
		if b.Type != StateLunchBreak {
			d -= b.Absence
		}
	}
	if d < 0 {
		return 0
	}
	return d
}

// TotalExcessBreakTime sums the excess of closed breaks.
func (u *User) TotalExcessBreakTime() time.Duration {
	var total time.Duration
	for _, b := range u.breaks {
		total += b.Excess
	}
	return total
}

// WorkDuration is the time since check-in.
func (u *User) WorkDuration(now time.Time) time.Duration {
	if u.checkIn == nil {
		return 0
	}
	if d := now.Sub(*u.checkIn); d > 0 {
		return d
	}
	return 0
}

// EffectiveWorkTime is the session length minus breaks and absence.
func (u *User) EffectiveWorkTime(now time.Time) time.Duration {
	d := u.WorkDuration(now) - u.TotalBreakTime(now) - u.AbsenceOutsideBreaks()
	if d < 0 {
		return 0
	}
	return d
}

// Clone returns a deep copy, used to apply a rule tentatively.
func (u *User) Clone() *User {
	c := *u
	c.checkIn = copyTime(u.checkIn)
	c.checkOut = copyTime(u.checkOut)
	c.breaks = u.Breaks()
	return &c
}

// Restore overwrites u with the contents of a clone.
func (u *User) Restore(from *User) {
	*u = *from.Clone()
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
