package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"worktracker/internal/config"
	"worktracker/internal/engine"
	"worktracker/internal/model"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func at(hour, min int) time.Time {
	return time.Date(2025, 3, 12, hour, min, 0, 0, time.UTC)
}

var caps = model.BreakCaps{Short: 15 * time.Minute, Extended: 30 * time.Minute, Lunch: time.Hour}

func TestSQLiteStore_UserRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	u := model.NewUser("u1", "mm-u1", "alice", at(0, 0))
	u.FullName = "Alice Liddell"
	u.Admin = true
	require.True(t, u.StartWork(at(9, 0), false))
	require.NoError(t, u.Transition(model.StateWorking, at(9, 0)))
	id, err := s.LogBreakStart(ctx, model.BreakLog{UserID: u.ID, Type: model.StateShortBreak, Start: at(10, 0)})
	require.NoError(t, err)
	require.True(t, u.StartBreak(model.StateShortBreak, at(10, 0)))
	u.SetBreakID(id)
	require.NoError(t, u.Transition(model.StateShortBreak, at(10, 0)))
	u.SetMobile(true)
	u.AccrueDeviceTime(at(10, 5))
	require.NoError(t, s.UpdateUserState(ctx, u))

	got, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Alice Liddell", got.FullName)
	assert.True(t, got.Admin)
	assert.Equal(t, model.StateShortBreak, got.State())
	require.NotNil(t, got.CheckIn())
	assert.Equal(t, at(9, 0), *got.CheckIn())
	require.NotNil(t, got.CurrentBreak())
	assert.Equal(t, id, got.CurrentBreak().ID)
	assert.True(t, got.IsMobile())
	assert.Equal(t, model.DeviceUsage{Mobile: 65 * time.Minute}, got.DeviceTime())

	state, err := s.GetUserCurrentState(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, model.StateShortBreak, state)

	// Updating is an upsert.
	require.True(t, got.EndBreak(at(10, 10), caps))
	require.NoError(t, got.Transition(model.StateWorking, at(10, 10)))
	require.NoError(t, s.UpdateUserState(ctx, got))
	all, err := s.GetAllUsers(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, model.StateWorking, all[0].State())
}

func TestSQLiteStore_MissingUser(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	u, err := s.GetUser(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, u)

	state, err := s.GetUserCurrentState(ctx, "nobody")
	require.NoError(t, err)
	assert.Equal(t, model.StateOffline, state)
}

func TestSQLiteStore_WorkLogs(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	prev, err := s.GetLastCumulativeBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, prev)

	first, err := s.LogWorkStart(ctx, "u1", at(8, 0), false)
	require.NoError(t, err)
	require.NoError(t, s.LogWorkEnd(ctx, model.WorkLogClosure{
		WorkLogID: first, UserID: "u1", End: at(17, 0),
		TotalHours: 9, EffectiveHours: 9, Balance: 1, CumulativeBalance: 1,
	}))
	second, err := s.LogWorkStart(ctx, "u1", at(18, 0), false)
	require.NoError(t, err)
	require.NoError(t, s.UpdateDeviceUsage(ctx, second, 10*time.Minute, 20*time.Minute))

	prev, err = s.GetLastCumulativeBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1.0, prev, "open work logs do not count")

	logs, err := s.GetWorkLogs(ctx, "u1", "2025-03-12", "2025-03-12")
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, first, logs[0].ID)
	require.NotNil(t, logs[0].End)
	assert.Equal(t, at(17, 0), *logs[0].End)
	assert.Equal(t, 9.0, logs[0].TotalHours)
	assert.Nil(t, logs[1].End)
	assert.Equal(t, 10*time.Minute, logs[1].MobileTime)
	assert.Equal(t, 20*time.Minute, logs[1].PCTime)

	require.NoError(t, s.UpdateWorkBalance(ctx, first, 1.5, 1.5))
	prev, err = s.GetLastCumulativeBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1.5, prev)

	err = s.LogWorkEnd(ctx, model.WorkLogClosure{WorkLogID: "missing", End: at(19, 0)})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.UpdateWorkBalance(ctx, "missing", 0, 0), ErrNotFound)
}

func TestSQLiteStore_Breaks(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	none, err := s.GetActiveBreak(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, none)

	id, err := s.LogBreakStart(ctx, model.BreakLog{UserID: "u1", Type: model.StateShortBreak, Start: at(10, 0)})
	require.NoError(t, err)
	require.NoError(t, s.LogBreakExtension(ctx, id, model.StateExtendedBreak))

	active, err := s.GetActiveBreak(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, model.StateExtendedBreak, active.Type)

	end := at(10, 40)
	require.NoError(t, s.LogBreakEnd(ctx, model.BreakLog{
		ID: id, UserID: "u1", Type: model.StateExtendedBreak, Start: at(10, 0),
		End: &end, Excess: 10 * time.Minute, Absence: 10 * time.Minute,
	}))
	active, err = s.GetActiveBreak(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, active)

	logs, err := s.GetUserBreakLogs(ctx, "u1", at(0, 0), at(23, 0))
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, 10*time.Minute, logs[0].Excess)
	assert.Equal(t, end, *logs[0].End)

	logs, err = s.GetUserBreakLogs(ctx, "u1", at(11, 0), at(23, 0))
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestSQLiteStore_Leave(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	sick := &model.LeaveRequest{UserID: "u1", Type: model.LeaveTypeSick, Dates: []string{"2025-03-12", "2025-03-13"}, Status: model.LeaveStatusPending}
	require.NoError(t, s.CreateLeaveRequest(ctx, sick))
	require.NotEmpty(t, sick.ID)

	on, err := s.IsUserOnLeave(ctx, "u1", "2025-03-12")
	require.NoError(t, err)
	assert.False(t, on, "pending requests do not count")

	now := at(8, 0)
	sick.Status = model.LeaveStatusApproved
	sick.ApproverID = "boss"
	sick.ApprovedAt = &now
	require.NoError(t, s.UpdateLeaveRequest(ctx, sick))

	on, err = s.IsUserOnLeave(ctx, "u1", "2025-03-13")
	require.NoError(t, err)
	assert.True(t, on)
	on, err = s.IsUserOnLeave(ctx, "u1", "2025-03-14")
	require.NoError(t, err)
	assert.False(t, on)

	late := &model.LeaveRequest{UserID: "u2", Type: model.LeaveTypeLateArrival, Dates: []string{"2025-03-12"}, ExpectedTime: "10:00", Status: model.LeaveStatusApproved}
	require.NoError(t, s.CreateLeaveRequest(ctx, late))
	on, err = s.IsUserOnLeave(ctx, "u2", "2025-03-12")
	require.NoError(t, err)
	assert.False(t, on, "a late arrival is not a day off")

	got, err := s.CheckUserLeave(ctx, "u2", at(9, 0))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, model.LeaveTypeLateArrival, got[0].Type)
	assert.Equal(t, "10:00", got[0].ExpectedTime)

	got, err = s.CheckUserLeave(ctx, "u2", at(9, 0).AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Empty(t, got)

	byID, err := s.GetLeaveRequestByID(ctx, sick.ID)
	require.NoError(t, err)
	require.NotNil(t, byID)
	assert.Equal(t, "boss", byID.ApproverID)
	require.NotNil(t, byID.ApprovedAt)
	assert.Equal(t, now, *byID.ApprovedAt)

	missing, err := s.GetLeaveRequestByID(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	inRange, err := s.GetLeaveRequestsByDateRange(ctx, "2025-03-13", "2025-03-31", "")
	require.NoError(t, err)
	require.Len(t, inRange, 1)
	assert.Equal(t, sick.ID, inRange[0].ID)

	forUser, err := s.GetLeaveRequestsByDateRange(ctx, "2025-03-01", "2025-03-31", "u2")
	require.NoError(t, err)
	require.Len(t, forUser, 1)
	assert.Equal(t, late.ID, forUser[0].ID)
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "worktracker.db")

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	u := model.NewUser("u1", "", "alice", at(0, 0))
	require.NoError(t, s.UpdateUserState(ctx, u))
	require.NoError(t, s.Close(ctx))

	s, err = NewSQLiteStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(ctx) })
	got, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "alice", got.Name)
}

func TestSQLiteStore_EngineWorkday(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	schedule := config.DefaultSchedule()
	schedule.Location = time.UTC
	rules, err := engine.DefaultRules(engine.DefaultRegistry())
	require.NoError(t, err)
	e := engine.New(rules, nil, s, &schedule)

	u := model.NewUser("u1", "", "alice", at(0, 0))
	require.NoError(t, s.UpdateUserState(ctx, u))

	step := func(status string, now time.Time) {
		t.Helper()
		u, err = s.GetUser(ctx, "u1")
		require.NoError(t, err)
		_, err = e.Evaluate(ctx, u, status, now)
		require.NoError(t, err)
	}
	step("WORKING", at(9, 0))
	step("IDLE", at(13, 0))

	u, err = s.GetUser(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, model.StateLunchBreak, u.State())
	require.NotNil(t, u.CurrentBreak())

	step("WORKING", at(13, 20))
	step("OFFLINE", at(18, 0))

	state, err := s.GetUserCurrentState(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, model.StateOffline, state)

	logs, err := s.GetWorkLogs(ctx, "u1", "2025-03-12", "2025-03-12")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, 9.0, logs[0].TotalHours)
	assert.Equal(t, 8.67, logs[0].EffectiveHours)
	assert.Equal(t, 0.67, logs[0].Balance)

	breaks, err := s.GetUserBreakLogs(ctx, "u1", at(0, 0), at(23, 59))
	require.NoError(t, err)
	require.Len(t, breaks, 1)
	assert.Equal(t, model.StateLunchBreak, breaks[0].Type)
	require.NotNil(t, breaks[0].End)
	assert.Equal(t, at(13, 20), *breaks[0].End)
}

func newWorkdayEngine(t *testing.T, st engine.Store) *engine.Engine {
	t.Helper()
	schedule := config.DefaultSchedule()
	schedule.Location = time.UTC
	rules, err := engine.DefaultRules(engine.DefaultRegistry())
	require.NoError(t, err)
	return engine.New(rules, nil, st, &schedule)
}

func TestSQLiteStore_TransactRollsBack(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	boom := errors.New("boom")
	err := s.Transact(ctx, func(ctx context.Context) error {
		_, err := s.LogWorkStart(ctx, "u1", at(9, 0), false)
		require.NoError(t, err)
		return s.Transact(ctx, func(ctx context.Context) error {
			require.NoError(t, s.UpdateUserState(ctx, model.NewUser("u1", "", "alice", at(0, 0))))
			return boom
		})
	})
	require.ErrorIs(t, err, boom)

	logs, err := s.GetWorkLogs(ctx, "u1", "2025-03-12", "2025-03-12")
	require.NoError(t, err)
	assert.Empty(t, logs)
	u, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, u)
}

func TestSQLiteStore_BreakAbsenceSurvivesReload(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	e := newWorkdayEngine(t, s)
	require.NoError(t, s.UpdateUserState(ctx, model.NewUser("u1", "", "alice", at(0, 0))))

	step := func(status string, now time.Time) *model.User {
		t.Helper()
		u, err := s.GetUser(ctx, "u1")
		require.NoError(t, err)
		_, err = e.Evaluate(ctx, u, status, now)
		require.NoError(t, err)
		return u
	}
	step("WORKING", at(9, 0))
	step("IDLE", at(10, 0))
	u := step("IDLE", at(10, 35))
	require.Equal(t, model.StateExtendedBreak, u.State())
	assert.Equal(t, 5*time.Minute, u.AbsenceTime())

	open, err := s.GetActiveBreak(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, 5*time.Minute, open.Absence)

	u = step("IDLE", at(10, 36))
	require.Equal(t, model.StateUnauthorizedAbsence, u.State())
	assert.Equal(t, 6*time.Minute, u.AbsenceTime())
}

// stateWriteFailure fails the first write of an OFFLINE user.
type stateWriteFailure struct {
	*SQLiteStore
	failed bool
}

func (f *stateWriteFailure) UpdateUserState(ctx context.Context, u *model.User) error {
	if !f.failed && u.State() == model.StateOffline {
		f.failed = true
		return errors.New("disk full")
	}
	return f.SQLiteStore.UpdateUserState(ctx, u)
}

func TestSQLiteStore_FailedCloseIsRetriedOnce(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	st := &stateWriteFailure{SQLiteStore: s}
	e := newWorkdayEngine(t, st)
	require.NoError(t, s.UpdateUserState(ctx, model.NewUser("u1", "", "alice", at(0, 0))))

	step := func(status string, now time.Time) (*model.User, error) {
		t.Helper()
		u, err := s.GetUser(ctx, "u1")
		require.NoError(t, err)
		_, err = e.Evaluate(ctx, u, status, now)
		return u, err
	}
	_, err := step("WORKING", at(8, 0))
	require.NoError(t, err)

	u, err := step("OFFLINE", at(17, 0))
	require.ErrorContains(t, err, "disk full")
	assert.Equal(t, model.StateWorking, u.State())

	bal, err := s.GetLastCumulativeBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, bal, "the failed close left no closed work log")

	u, err = step("OFFLINE", at(17, 1))
	require.NoError(t, err)
	assert.Equal(t, model.StateOffline, u.State())

	bal, err = s.GetLastCumulativeBalance(ctx, "u1")
	require.NoError(t, err)
	assert.InDelta(t, 1.02, bal, 0.01)

	logs, err := s.GetWorkLogs(ctx, "u1", "2025-03-12", "2025-03-12")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.NotNil(t, logs[0].End)
	assert.Equal(t, at(17, 1), *logs[0].End)
}

func TestSQLiteStore_EngineChecksEveryLeaveRequest(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	e := newWorkdayEngine(t, s)
	require.NoError(t, s.UpdateUserState(ctx, model.NewUser("u1", "", "alice", at(0, 0))))

	for _, r := range []*model.LeaveRequest{
		{UserID: "u1", Type: model.LeaveTypeLateArrival, Dates: []string{"2025-03-12"}, ExpectedTime: "10:00", Status: model.LeaveStatusApproved},
		{UserID: "u1", Type: model.LeaveTypeEarlyDeparture, Dates: []string{"2025-03-12"}, ExpectedTime: "15:00", Status: model.LeaveStatusApproved},
	} {
		require.NoError(t, s.CreateLeaveRequest(ctx, r))
	}
	reqs, err := s.CheckUserLeave(ctx, "u1", at(16, 0))
	require.NoError(t, err)
	require.Len(t, reqs, 2)

	u, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	res, err := e.Evaluate(ctx, u, "OFFLINE", at(16, 0))
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Equal(t, model.StateOffline, u.State())
}
