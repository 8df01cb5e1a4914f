package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCaps = BreakCaps{Short: 15 * time.Minute, Extended: 30 * time.Minute, Lunch: 60 * time.Minute}

func at(hour, min int) time.Time {
	return time.Date(2025, 3, 12, hour, min, 0, 0, time.UTC)
}

func checkedIn(t *testing.T, hour, min int) *User {
	t.Helper()
	u := NewUser("u1", "mm-u1", "alice", at(hour, min))
	require.True(t, u.StartWork(at(hour, min), false))
	return u
}

func TestStartWork_OnlyFromOffline(t *testing.T) {
	u := checkedIn(t, 9, 0)
	assert.Equal(t, StateWorking, u.State())
	require.NotNil(t, u.CheckIn())
	assert.Equal(t, at(9, 0), *u.CheckIn())

	assert.False(t, u.StartWork(at(10, 0), false))
	assert.Equal(t, at(9, 0), *u.CheckIn())
}

func TestStartWork_Holiday(t *testing.T) {
	u := NewUser("u1", "", "alice", at(8, 0))
	require.True(t, u.StartWork(at(10, 0), true))
	assert.Equal(t, StateHolidayWork, u.State())
	assert.True(t, u.IsHolidayWork())
}

func TestShortBreak_ExcessStaysBreakTime(t *testing.T) {
	u := checkedIn(t, 9, 0)
	require.True(t, u.StartBreak(StateShortBreak, at(10, 0)))
	require.NotNil(t, u.CurrentBreak())

	require.True(t, u.EndBreak(at(10, 20), testCaps))
	assert.Nil(t, u.CurrentBreak())
	assert.Equal(t, StateWorking, u.State())

	breaks := u.Breaks()
	require.Len(t, breaks, 1)
	assert.Equal(t, 5*time.Minute, breaks[0].Excess)
	assert.Zero(t, u.AbsenceTime())
	assert.Equal(t, 20*time.Minute, u.TotalBreakTime(at(11, 0)))
}

func TestLunchBreak_ExcessMovesToAbsence(t *testing.T) {
	u := checkedIn(t, 9, 0)
	require.True(t, u.StartBreak(StateLunchBreak, at(13, 0)))
	require.True(t, u.EndBreak(at(14, 30), testCaps))

	assert.Equal(t, 30*time.Minute, u.AbsenceTime())
	assert.Equal(t, 60*time.Minute, u.TotalBreakTime(at(15, 0)))
	assert.True(t, u.HasTakenLunch())
}

func TestEndBreak_IsIdempotent(t *testing.T) {
	u := checkedIn(t, 9, 0)
	require.True(t, u.StartBreak(StateLunchBreak, at(13, 0)))
	require.True(t, u.EndBreak(at(14, 30), testCaps))
	assert.False(t, u.EndBreak(at(15, 0), testCaps))
	assert.Equal(t, 30*time.Minute, u.AbsenceTime())
	assert.Equal(t, at(14, 30), *u.Breaks()[0].End)
}

func TestAccrueBreakAbsence_NoDoubleCounting(t *testing.T) {
	u := checkedIn(t, 9, 0)
	require.True(t, u.StartBreak(StateShortBreak, at(10, 0)))

	assert.Equal(t, 10*time.Minute, u.AccrueBreakAbsence(at(10, 40), testCaps.Extended))
	assert.Zero(t, u.AccrueBreakAbsence(at(10, 40), testCaps.Extended))
	assert.Equal(t, 10*time.Minute, u.AbsenceTime())

	require.True(t, u.ExtendBreak())
	assert.Equal(t, StateExtendedBreak, u.State())

	require.True(t, u.EndBreak(at(10, 50), testCaps))
	// 50 minutes against a 30 minute cap: 20 minutes of absence in total.
	assert.Equal(t, 20*time.Minute, u.AbsenceTime())
	// The extended break counts in full as break time and its overrun is not
	// subtracted again from the effective time.
	assert.Equal(t, 50*time.Minute, u.TotalBreakTime(at(11, 0)))
	assert.Zero(t, u.AbsenceOutsideBreaks())
	assert.Equal(t, 2*time.Hour-50*time.Minute, u.EffectiveWorkTime(at(11, 0)))
}

func TestEndBreak_ResumesOvertime(t *testing.T) {
	u := checkedIn(t, 9, 0)
	require.True(t, u.StartOvertime())
	require.True(t, u.StartBreak(StateShortBreak, at(18, 0)))
	require.True(t, u.EndBreak(at(18, 5), testCaps))
	assert.Equal(t, StateOvertime, u.State())
}

func TestEndWork_ClosesBreakAndAccumulates(t *testing.T) {
	u := checkedIn(t, 9, 0)
	require.True(t, u.StartBreak(StateShortBreak, at(17, 50)))
	require.True(t, u.EndWork(at(18, 0), testCaps))

	assert.Equal(t, StateOffline, u.State())
	assert.Nil(t, u.CheckIn())
	assert.Nil(t, u.CurrentBreak())
	assert.Empty(t, u.Breaks())
	assert.Zero(t, u.AbsenceTime())
	assert.Equal(t, 9*time.Hour, u.DailyWorkTime())
	assert.Equal(t, 9*time.Hour, u.WeeklyWorkTime())

	u.ResetDay()
	assert.Zero(t, u.DailyWorkTime())
	assert.Equal(t, 9*time.Hour, u.WeeklyWorkTime())
	u.ResetWeek()
	assert.Zero(t, u.WeeklyWorkTime())
}

func TestBeginAbsence_FromOffline(t *testing.T) {
	u := NewUser("u1", "", "alice", at(7, 0))
	require.True(t, u.BeginAbsence(at(7, 0), at(9, 30)))

	assert.Equal(t, StateUnauthorizedAbsence, u.State())
	require.NotNil(t, u.CheckIn())
	assert.Equal(t, at(7, 0), *u.CheckIn())
	assert.Equal(t, 150*time.Minute, u.AbsenceTime())
}

func TestEndAbsence_AccruesSinceLastChange(t *testing.T) {
	u := checkedIn(t, 9, 0)
	require.True(t, u.BeginAbsence(at(7, 0), at(11, 0)))
	require.NoError(t, u.Transition(StateUnauthorizedAbsence, at(11, 0)))

	require.True(t, u.EndAbsence(at(11, 45)))
	assert.Equal(t, 45*time.Minute, u.AbsenceTime())
	assert.Equal(t, StateWorking, u.State())
}

func TestTransition_RejectsInvariantViolations(t *testing.T) {
	u := NewUser("u1", "", "alice", at(8, 0))
	assert.ErrorIs(t, u.Transition(StateWorking, at(8, 0)), ErrIllegalTransition)

	u = checkedIn(t, 9, 0)
	assert.ErrorIs(t, u.Transition(StateShortBreak, at(10, 0)), ErrIllegalTransition)
	assert.ErrorIs(t, u.Transition(UserState("NAPPING"), at(10, 0)), ErrIllegalTransition)
	assert.Equal(t, StateWorking, u.State())

	require.NoError(t, u.Transition(StateWorking, at(10, 0)))
	assert.Equal(t, at(10, 0), u.LastStateChange())
}

func TestEffectiveWorkTime(t *testing.T) {
	u := checkedIn(t, 9, 0)
	require.True(t, u.StartBreak(StateLunchBreak, at(13, 0)))
	require.True(t, u.EndBreak(at(13, 20), testCaps))
	u.AccrueAbsence(10 * time.Minute)

	assert.Equal(t, 9*time.Hour, u.WorkDuration(at(18, 0)))
	assert.Equal(t, 9*time.Hour-30*time.Minute, u.EffectiveWorkTime(at(18, 0)))
}

func TestAccrueDeviceTime_UsesSeparateCursor(t *testing.T) {
	u := checkedIn(t, 9, 0)
	require.NoError(t, u.Transition(StateWorking, at(9, 0)))

	assert.Equal(t, time.Hour, u.AccrueDeviceTime(at(10, 0)))
	u.SetMobile(true)
	assert.Equal(t, 30*time.Minute, u.AccrueDeviceTime(at(10, 30)))

	usage := u.DeviceTime()
	assert.Equal(t, time.Hour, usage.PC)
	assert.Equal(t, 30*time.Minute, usage.Mobile)
	assert.Equal(t, at(9, 0), u.LastStateChange())
}

func TestCloneRestore(t *testing.T) {
	u := checkedIn(t, 9, 0)
	require.True(t, u.StartBreak(StateShortBreak, at(10, 0)))
	saved := u.Clone()

	require.True(t, u.EndWork(at(12, 0), testCaps))
	assert.Equal(t, StateShortBreak, saved.State())
	require.NotNil(t, saved.CurrentBreak())
	assert.True(t, saved.CurrentBreak().Open())

	u.Restore(saved)
	assert.Equal(t, StateShortBreak, u.State())
	assert.Equal(t, at(9, 0), *u.CheckIn())
	require.NotNil(t, u.CurrentBreak())

	// Mutating the restored user must not leak into the saved copy.
	require.True(t, u.EndBreak(at(10, 5), testCaps))
	assert.True(t, saved.CurrentBreak().Open())
}

func TestFromRecord_RebindsOpenBreak(t *testing.T) {
	u := checkedIn(t, 9, 0)
	require.True(t, u.StartBreak(StateLunchBreak, at(13, 0)))
	require.NoError(t, u.Transition(StateLunchBreak, at(13, 0)))

	back := FromRecord(u.Record(), u.Breaks())
	require.NotNil(t, back.CurrentBreak())
	assert.Equal(t, StateLunchBreak, back.CurrentBreak().Type)
	assert.Equal(t, StateLunchBreak, back.State())

	require.True(t, back.EndBreak(at(13, 30), testCaps))
	assert.Equal(t, StateWorking, back.State())
}

func TestFromRecord_SynthesizesMissingBreak(t *testing.T) {
	checkIn := at(9, 0)
	rec := UserRecord{ID: "u1", State: StateShortBreak, CheckIn: &checkIn, LastStateChange: at(10, 0)}

	u := FromRecord(rec, nil)
	require.NotNil(t, u.CurrentBreak())
	assert.Equal(t, at(10, 0), u.CurrentBreak().Start)
}

func TestFromRecord_ClosesStrayBreaks(t *testing.T) {
	checkIn := at(9, 0)
	rec := UserRecord{ID: "u1", State: StateWorking, CheckIn: &checkIn, LastStateChange: at(10, 30)}
	stray := BreakLog{Type: StateShortBreak, Start: at(10, 0)}

	u := FromRecord(rec, []BreakLog{stray})
	assert.Nil(t, u.CurrentBreak())
	require.Len(t, u.Breaks(), 1)
	require.NotNil(t, u.Breaks()[0].End)
	assert.Equal(t, at(10, 30), *u.Breaks()[0].End)
}

func TestParseUserState(t *testing.T) {
	st, err := ParseUserState("LUNCH_BREAK")
	require.NoError(t, err)
	assert.Equal(t, StateLunchBreak, st)

	_, err = ParseUserState("lunch")
	assert.Error(t, err)

	assert.Len(t, AllStates(), 11)
}
