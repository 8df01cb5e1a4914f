package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"worktracker/internal/model"
)

// SQLiteStore implements the same contract as AttendanceStore on an embedded
// SQLite database. Times are stored as Unix nanoseconds, durations as
// nanoseconds.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the database at path. Use ":memory:" for an in-memory
// database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One connection: writes are serialized by SQLite anyway and an in-memory
	// database only exists on the connection that created it.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		presence_id TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL DEFAULT '',
		full_name TEXT NOT NULL DEFAULT '',
		department TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT '',
		admin INTEGER NOT NULL DEFAULT 0,
		remote INTEGER NOT NULL DEFAULT 0,
		state TEXT NOT NULL,
		resume_state TEXT NOT NULL DEFAULT '',
		check_in INTEGER,
		check_out INTEGER,
		daily_work INTEGER NOT NULL DEFAULT 0,
		weekly_work INTEGER NOT NULL DEFAULT 0,
		overtime INTEGER NOT NULL DEFAULT 0,
		holiday_work INTEGER NOT NULL DEFAULT 0,
		absence INTEGER NOT NULL DEFAULT 0,
		last_state_change INTEGER NOT NULL,
		work_log_id TEXT NOT NULL DEFAULT '',
		mobile INTEGER NOT NULL DEFAULT 0,
		mobile_time INTEGER NOT NULL DEFAULT 0,
		pc_time INTEGER NOT NULL DEFAULT 0,
		usage_cursor INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS work_logs (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		date TEXT NOT NULL,
		start_time INTEGER NOT NULL,
		end_time INTEGER,
		holiday INTEGER NOT NULL DEFAULT 0,
		total_hours REAL NOT NULL DEFAULT 0,
		break_hours REAL NOT NULL DEFAULT 0,
		absence_hours REAL NOT NULL DEFAULT 0,
		effective_hours REAL NOT NULL DEFAULT 0,
		balance REAL NOT NULL DEFAULT 0,
		cumulative_balance REAL NOT NULL DEFAULT 0,
		mobile_time INTEGER NOT NULL DEFAULT 0,
		pc_time INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_work_logs_user_date ON work_logs(user_id, date);
	CREATE INDEX IF NOT EXISTS idx_work_logs_user_end ON work_logs(user_id, end_time);
	CREATE TABLE IF NOT EXISTS break_logs (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		type TEXT NOT NULL,
		start_time INTEGER NOT NULL,
		end_time INTEGER,
		excess INTEGER NOT NULL DEFAULT 0,
		absence INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_break_logs_user_start ON break_logs(user_id, start_time);
	CREATE TABLE IF NOT EXISTS leave_requests (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		username TEXT NOT NULL DEFAULT '',
		team_id TEXT NOT NULL DEFAULT '',
		channel_id TEXT NOT NULL DEFAULT '',
		approval_channel_id TEXT NOT NULL DEFAULT '',
		post_id TEXT NOT NULL DEFAULT '',
		approval_post_id TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL,
		dates TEXT NOT NULL,
		expected_time TEXT NOT NULL DEFAULT '',
		start_time TEXT NOT NULL DEFAULT '',
		end_time TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		approver_id TEXT NOT NULL DEFAULT '',
		approver_username TEXT NOT NULL DEFAULT '',
		approved_at INTEGER,
		reject_reason TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_leave_requests_user ON leave_requests(user_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txKey struct{}

// q returns the transaction carried by ctx, or the database.
func (s *SQLiteStore) q(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return s.db
}

// Transact runs fn in a transaction. Every store call made with the context
// handed to fn joins it. Nested calls join the outer transaction.
func (s *SQLiteStore) Transact(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLiteStore) Close(context.Context) error { return s.db.Close() }

const userColumns = `id, presence_id, name, full_name, department, role, admin, remote,
	state, resume_state, check_in, check_out, daily_work, weekly_work, overtime,
	holiday_work, absence, last_state_change, work_log_id, mobile, mobile_time,
	pc_time, usage_cursor, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (model.UserRecord, error) {
	var (
		r                              model.UserRecord
		checkIn, checkOut              sql.NullInt64
		lastChange, cursor, updatedAt  int64
		daily, weekly, absence         int64
		mobileTime, pcTime             int64
		state, resume                  string
		admin, remote, overtime, hwork bool
		mobile                         bool
	)
	err := row.Scan(&r.ID, &r.PresenceID, &r.Name, &r.FullName, &r.Department, &r.Role, &admin, &remote,
		&state, &resume, &checkIn, &checkOut, &daily, &weekly, &overtime,
		&hwork, &absence, &lastChange, &r.WorkLogID, &mobile, &mobileTime,
		&pcTime, &cursor, &updatedAt)
	if err != nil {
		return r, err
	}
	r.Admin, r.Remote, r.Overtime, r.HolidayWork, r.Mobile = admin, remote, overtime, hwork, mobile
	r.State, r.ResumeState = model.UserState(state), model.UserState(resume)
	r.CheckIn, r.CheckOut = fromNullNanos(checkIn), fromNullNanos(checkOut)
	r.DailyWork, r.WeeklyWork, r.Absence = time.Duration(daily), time.Duration(weekly), time.Duration(absence)
	r.MobileTime, r.PCTime = time.Duration(mobileTime), time.Duration(pcTime)
	r.LastStateChange = fromNanos(lastChange)
	if cursor != 0 {
		r.UsageCursor = fromNanos(cursor)
	}
	r.UpdatedAt = fromNanos(updatedAt)
	return r, nil
}

func (s *SQLiteStore) GetAllUsers(ctx context.Context) ([]*model.User, error) {
	rows, err := s.q(ctx).QueryContext(ctx, "SELECT "+userColumns+" FROM users ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	var records []model.UserRecord
	for rows.Next() {
		r, err := scanUser(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan user: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	_ = rows.Close()

	users := make([]*model.User, 0, len(records))
	for _, r := range records {
		u, err := s.hydrate(ctx, r)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, nil
}

func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	r, err := scanUser(s.q(ctx).QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	return s.hydrate(ctx, r)
}

func (s *SQLiteStore) hydrate(ctx context.Context, r model.UserRecord) (*model.User, error) {
	from, to, ok := sessionBreaks(r)
	if !ok {
		return model.FromRecord(r, nil), nil
	}
	breaks, err := s.GetUserBreakLogs(ctx, r.ID, from, to)
	if err != nil {
		return nil, err
	}
	return model.FromRecord(r, breaks), nil
}

func (s *SQLiteStore) GetUserCurrentState(ctx context.Context, id string) (model.UserState, error) {
	var state string
	err := s.q(ctx).QueryRowContext(ctx, "SELECT state FROM users WHERE id = ?", id).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return model.StateOffline, nil
	}
	if err != nil {
		return "", fmt.Errorf("query user state: %w", err)
	}
	return model.UserState(state), nil
}

func (s *SQLiteStore) UpdateUserState(ctx context.Context, u *model.User) error {
	r := u.Record()
	var cursor int64
	if !r.UsageCursor.IsZero() {
		cursor = r.UsageCursor.UnixNano()
	}
	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			presence_id = excluded.presence_id,
			name = excluded.name,
			full_name = excluded.full_name,
			department = excluded.department,
			role = excluded.role,
			admin = excluded.admin,
			remote = excluded.remote,
			state = excluded.state,
			resume_state = excluded.resume_state,
			check_in = excluded.check_in,
			check_out = excluded.check_out,
			daily_work = excluded.daily_work,
			weekly_work = excluded.weekly_work,
			overtime = excluded.overtime,
			holiday_work = excluded.holiday_work,
			absence = excluded.absence,
			last_state_change = excluded.last_state_change,
			work_log_id = excluded.work_log_id,
			mobile = excluded.mobile,
			mobile_time = excluded.mobile_time,
			pc_time = excluded.pc_time,
			usage_cursor = excluded.usage_cursor,
			updated_at = excluded.updated_at`,
		r.ID, r.PresenceID, r.Name, r.FullName, r.Department, r.Role, r.Admin, r.Remote,
		string(r.State), string(r.ResumeState), nullNanos(r.CheckIn), nullNanos(r.CheckOut),
		int64(r.DailyWork), int64(r.WeeklyWork), r.Overtime,
		r.HolidayWork, int64(r.Absence), r.LastStateChange.UnixNano(), r.WorkLogID, r.Mobile,
		int64(r.MobileTime), int64(r.PCTime), cursor, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LogWorkStart(ctx context.Context, userID string, start time.Time, holiday bool) (string, error) {
	id := uuid.NewString()
	now := time.Now().UnixNano()
	_, err := s.q(ctx).ExecContext(ctx,
		"INSERT INTO work_logs (id, user_id, date, start_time, holiday, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		id, userID, start.Format(time.DateOnly), start.UnixNano(), holiday, now, now)
	if err != nil {
		return "", fmt.Errorf("insert work log: %w", err)
	}
	return id, nil
}

// LogWorkEnd closes the work log and records its balances in one transaction.
func (s *SQLiteStore) LogWorkEnd(ctx context.Context, c model.WorkLogClosure) error {
	return s.Transact(ctx, func(ctx context.Context) error {
		res, err := s.q(ctx).ExecContext(ctx, `
			UPDATE work_logs SET end_time = ?, total_hours = ?, break_hours = ?, absence_hours = ?,
				effective_hours = ?, updated_at = ?
			WHERE id = ?`,
			c.End.UnixNano(), c.TotalHours, c.BreakHours, c.AbsenceHours, c.EffectiveHours, time.Now().UnixNano(), c.WorkLogID)
		if err != nil {
			return fmt.Errorf("close work log: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("close work log %s: %w", c.WorkLogID, ErrNotFound)
		}
		return updateWorkBalance(ctx, s.q(ctx), c.WorkLogID, c.Balance, c.CumulativeBalance)
	})
}

func (s *SQLiteStore) UpdateWorkBalance(ctx context.Context, workLogID string, balance, cumulative float64) error {
	return updateWorkBalance(ctx, s.q(ctx), workLogID, balance, cumulative)
}

func updateWorkBalance(ctx context.Context, db querier, workLogID string, balance, cumulative float64) error {
	res, err := db.ExecContext(ctx,
		"UPDATE work_logs SET balance = ?, cumulative_balance = ?, updated_at = ? WHERE id = ?",
		balance, cumulative, time.Now().UnixNano(), workLogID)
	if err != nil {
		return fmt.Errorf("update work balance: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update work balance %s: %w", workLogID, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) GetLastCumulativeBalance(ctx context.Context, userID string) (float64, error) {
	var v float64
	err := s.q(ctx).QueryRowContext(ctx,
		"SELECT cumulative_balance FROM work_logs WHERE user_id = ? AND end_time IS NOT NULL ORDER BY end_time DESC LIMIT 1",
		userID).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query last work log: %w", err)
	}
	return v, nil
}

func (s *SQLiteStore) UpdateDeviceUsage(ctx context.Context, workLogID string, mobile, pc time.Duration) error {
	_, err := s.q(ctx).ExecContext(ctx,
		"UPDATE work_logs SET mobile_time = ?, pc_time = ?, updated_at = ? WHERE id = ?",
		int64(mobile), int64(pc), time.Now().UnixNano(), workLogID)
	if err != nil {
		return fmt.Errorf("update device usage: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetWorkLogs(ctx context.Context, userID, from, to string) ([]*model.WorkLog, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT id, user_id, date, start_time, end_time, holiday, total_hours, break_hours, absence_hours,
			effective_hours, balance, cumulative_balance, mobile_time, pc_time, created_at, updated_at
		FROM work_logs WHERE user_id = ? AND date >= ? AND date <= ? ORDER BY start_time`,
		userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("query work logs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var logs []*model.WorkLog
	for rows.Next() {
		var (
			l                       model.WorkLog
			start, created, updated int64
			end                     sql.NullInt64
			mobileTime, pcTime      int64
		)
		if err := rows.Scan(&l.ID, &l.UserID, &l.Date, &start, &end, &l.Holiday, &l.TotalHours, &l.BreakHours,
			&l.AbsenceHours, &l.EffectiveHours, &l.Balance, &l.CumulativeBalance, &mobileTime, &pcTime,
			&created, &updated); err != nil {
			return nil, fmt.Errorf("scan work log: %w", err)
		}
		l.Start, l.End = fromNanos(start), fromNullNanos(end)
		l.MobileTime, l.PCTime = time.Duration(mobileTime), time.Duration(pcTime)
		l.CreatedAt, l.UpdatedAt = fromNanos(created), fromNanos(updated)
		logs = append(logs, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate work logs: %w", err)
	}
	return logs, nil
}

func (s *SQLiteStore) LogBreakStart(ctx context.Context, b model.BreakLog) (string, error) {
	id := uuid.NewString()
	_, err := s.q(ctx).ExecContext(ctx,
		"INSERT INTO break_logs (id, user_id, type, start_time) VALUES (?, ?, ?, ?)",
		id, b.UserID, string(b.Type), b.Start.UnixNano())
	if err != nil {
		return "", fmt.Errorf("insert break log: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) LogBreakEnd(ctx context.Context, b model.BreakLog) error {
	_, err := s.q(ctx).ExecContext(ctx,
		"UPDATE break_logs SET type = ?, end_time = ?, excess = ?, absence = ? WHERE id = ?",
		string(b.Type), nullNanos(b.End), int64(b.Excess), int64(b.Absence), b.ID)
	if err != nil {
		return fmt.Errorf("close break log: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateBreakAbsence(ctx context.Context, breakID string, absence time.Duration) error {
	_, err := s.q(ctx).ExecContext(ctx, "UPDATE break_logs SET absence = ? WHERE id = ?", int64(absence), breakID)
	if err != nil {
		return fmt.Errorf("update break absence: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LogBreakExtension(ctx context.Context, breakID string, t model.UserState) error {
	_, err := s.q(ctx).ExecContext(ctx, "UPDATE break_logs SET type = ? WHERE id = ?", string(t), breakID)
	if err != nil {
		return fmt.Errorf("extend break log: %w", err)
	}
	return nil
}

const breakColumns = "id, user_id, type, start_time, end_time, excess, absence"

func scanBreak(row scanner) (model.BreakLog, error) {
	var (
		b               model.BreakLog
		typ             string
		start           int64
		end             sql.NullInt64
		excess, absence int64
	)
	if err := row.Scan(&b.ID, &b.UserID, &typ, &start, &end, &excess, &absence); err != nil {
		return b, err
	}
	b.Type = model.UserState(typ)
	b.Start, b.End = fromNanos(start), fromNullNanos(end)
	b.Excess, b.Absence = time.Duration(excess), time.Duration(absence)
	return b, nil
}

func (s *SQLiteStore) GetActiveBreak(ctx context.Context, userID string) (*model.BreakLog, error) {
	b, err := scanBreak(s.q(ctx).QueryRowContext(ctx,
		"SELECT "+breakColumns+" FROM break_logs WHERE user_id = ? AND end_time IS NULL ORDER BY start_time DESC LIMIT 1",
		userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query active break: %w", err)
	}
	return &b, nil
}

// GetUserBreakLogs returns the breaks that started in [from, to), oldest first.
func (s *SQLiteStore) GetUserBreakLogs(ctx context.Context, userID string, from, to time.Time) ([]model.BreakLog, error) {
	rows, err := s.q(ctx).QueryContext(ctx,
		"SELECT "+breakColumns+" FROM break_logs WHERE user_id = ? AND start_time >= ? AND start_time < ? ORDER BY start_time",
		userID, from.UnixNano(), to.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("query break logs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var breaks []model.BreakLog
	for rows.Next() {
		b, err := scanBreak(rows)
		if err != nil {
			return nil, fmt.Errorf("scan break log: %w", err)
		}
		breaks = append(breaks, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate break logs: %w", err)
	}
	return breaks, nil
}

const leaveColumns = `id, user_id, username, team_id, channel_id, approval_channel_id, post_id,
	approval_post_id, type, dates, expected_time, start_time, end_time, reason, status,
	approver_id, approver_username, approved_at, reject_reason, created_at, updated_at`

func scanLeave(row scanner) (*model.LeaveRequest, error) {
	var (
		r                  model.LeaveRequest
		typ, status, dates string
		approvedAt         sql.NullInt64
		created, updated   int64
	)
	if err := row.Scan(&r.ID, &r.UserID, &r.Username, &r.TeamID, &r.ChannelID, &r.ApprovalChannelID, &r.PostID,
		&r.ApprovalPostID, &typ, &dates, &r.ExpectedTime, &r.StartTime, &r.EndTime, &r.Reason, &status,
		&r.ApproverID, &r.ApproverUsername, &approvedAt, &r.RejectReason, &created, &updated); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(dates), &r.Dates); err != nil {
		return nil, fmt.Errorf("decode leave dates: %w", err)
	}
	r.Type, r.Status = model.LeaveType(typ), model.LeaveStatus(status)
	r.ApprovedAt = fromNullNanos(approvedAt)
	r.CreatedAt, r.UpdatedAt = fromNanos(created), fromNanos(updated)
	return &r, nil
}

func (s *SQLiteStore) queryLeave(ctx context.Context, where string, args ...any) ([]*model.LeaveRequest, error) {
	rows, err := s.q(ctx).QueryContext(ctx, "SELECT "+leaveColumns+" FROM leave_requests WHERE "+where+" ORDER BY created_at", args...)
	if err != nil {
		return nil, fmt.Errorf("query leave requests: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*model.LeaveRequest
	for rows.Next() {
		r, err := scanLeave(rows)
		if err != nil {
			return nil, fmt.Errorf("scan leave request: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate leave requests: %w", err)
	}
	return out, nil
}

const coversDate = "EXISTS (SELECT 1 FROM json_each(leave_requests.dates) WHERE json_each.value = ?)"

func (s *SQLiteStore) IsUserOnLeave(ctx context.Context, userID, date string) (bool, error) {
	types := make([]string, len(fullDayLeave))
	args := []any{userID, string(model.LeaveStatusApproved), date}
	for i, t := range fullDayLeave {
		types[i] = "?"
		args = append(args, string(t))
	}
	var n int
	err := s.q(ctx).QueryRowContext(ctx,
		"SELECT COUNT(*) FROM leave_requests WHERE user_id = ? AND status = ? AND "+coversDate+
			" AND type IN ("+strings.Join(types, ", ")+")",
		args...).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("count leave requests: %w", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) CheckUserLeave(ctx context.Context, userID string, at time.Time) ([]*model.LeaveRequest, error) {
	return s.queryLeave(ctx, "user_id = ? AND status = ? AND "+coversDate,
		userID, string(model.LeaveStatusApproved), at.Format(time.DateOnly))
}

func (s *SQLiteStore) CreateLeaveRequest(ctx context.Context, req *model.LeaveRequest) error {
	req.ID = uuid.NewString()
	req.CreatedAt = time.Now()
	req.UpdatedAt = req.CreatedAt
	return s.writeLeave(ctx, "INSERT INTO leave_requests ("+leaveColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)", req)
}

func (s *SQLiteStore) UpdateLeaveRequest(ctx context.Context, req *model.LeaveRequest) error {
	req.UpdatedAt = time.Now()
	return s.writeLeave(ctx, "REPLACE INTO leave_requests ("+leaveColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)", req)
}

func (s *SQLiteStore) writeLeave(ctx context.Context, query string, r *model.LeaveRequest) error {
	dates, err := json.Marshal(r.Dates)
	if err != nil {
		return fmt.Errorf("encode leave dates: %w", err)
	}
	_, err = s.q(ctx).ExecContext(ctx, query,
		r.ID, r.UserID, r.Username, r.TeamID, r.ChannelID, r.ApprovalChannelID, r.PostID,
		r.ApprovalPostID, string(r.Type), string(dates), r.ExpectedTime, r.StartTime, r.EndTime, r.Reason, string(r.Status),
		r.ApproverID, r.ApproverUsername, nullNanos(r.ApprovedAt), r.RejectReason, r.CreatedAt.UnixNano(), r.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("write leave request: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetLeaveRequestByID(ctx context.Context, id string) (*model.LeaveRequest, error) {
	r, err := scanLeave(s.q(ctx).QueryRowContext(ctx, "SELECT "+leaveColumns+" FROM leave_requests WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query leave request: %w", err)
	}
	return r, nil
}

func (s *SQLiteStore) GetLeaveRequestsByDateRange(ctx context.Context, from, to, userID string) ([]*model.LeaveRequest, error) {
	where := "EXISTS (SELECT 1 FROM json_each(leave_requests.dates) WHERE json_each.value >= ? AND json_each.value <= ?)"
	args := []any{from, to}
	if userID != "" {
		where += " AND user_id = ?"
		args = append(args, userID)
	}
	return s.queryLeave(ctx, where, args...)
}

func nullNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func fromNullNanos(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}
