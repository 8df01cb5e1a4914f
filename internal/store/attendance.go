package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"worktracker/internal/model"
)

// AttendanceStore persists users, work logs, breaks and leave requests in MongoDB.
type AttendanceStore struct {
	db       *MongoDB
	users    *mongo.Collection
	workLogs *mongo.Collection
	breaks   *mongo.Collection
	leave    *mongo.Collection
}

func NewAttendanceStore(ctx context.Context, db *MongoDB) (*AttendanceStore, error) {
	s := &AttendanceStore{
		db:       db,
		users:    db.Collection("users"),
		workLogs: db.Collection("work_logs"),
		breaks:   db.Collection("break_logs"),
		leave:    db.Collection("leave_requests"),
	}

	if _, err := s.workLogs.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "date", Value: 1}}},
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "end", Value: -1}}},
	}); err != nil {
		return nil, fmt.Errorf("create work_logs indexes: %w", err)
	}

	if _, err := s.breaks.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "start", Value: 1}}},
	}); err != nil {
		return nil, fmt.Errorf("create break_logs indexes: %w", err)
	}

	if _, err := s.leave.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "dates", Value: 1}}},
		{Keys: bson.D{{Key: "dates", Value: 1}}},
		{Keys: bson.D{{Key: "team_id", Value: 1}, {Key: "dates", Value: 1}}},
	}); err != nil {
		return nil, fmt.Errorf("create leave_requests indexes: %w", err)
	}

	return s, nil
}

func (s *AttendanceStore) Ping(ctx context.Context) error { return s.db.Ping(ctx) }

func (s *AttendanceStore) Close(ctx context.Context) error { return s.db.Close(ctx) }

func (s *AttendanceStore) Transact(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.db.Transact(ctx, fn)
}

// GetAllUsers loads every known user with the breaks of their current session.
func (s *AttendanceStore) GetAllUsers(ctx context.Context) ([]*model.User, error) {
	cursor, err := s.users.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("find users: %w", err)
	}
	var records []model.UserRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("decode users: %w", err)
	}
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

// GetUser returns the user, or nil if not found.
func (s *AttendanceStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	var r model.UserRecord
	err := s.users.FindOne(ctx, bson.M{"_id": id}).Decode(&r)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	return s.hydrate(ctx, r)
}

func (s *AttendanceStore) hydrate(ctx context.Context, r model.UserRecord) (*model.User, error) {
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

// GetUserCurrentState returns the persisted state, OFFLINE for unknown users.
func (s *AttendanceStore) GetUserCurrentState(ctx context.Context, id string) (model.UserState, error) {
	var r struct {
		State model.UserState `bson:"state"`
	}
	opts := options.FindOne().SetProjection(bson.M{"state": 1})
	err := s.users.FindOne(ctx, bson.M{"_id": id}, opts).Decode(&r)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return model.StateOffline, nil
	}
	if err != nil {
		return "", fmt.Errorf("find user state: %w", err)
	}
	return r.State, nil
}

// UpdateUserState upserts the user document.
func (s *AttendanceStore) UpdateUserState(ctx context.Context, u *model.User) error {
	r := u.Record()
	r.UpdatedAt = time.Now()
	_, err := s.users.ReplaceOne(ctx, bson.M{"_id": r.ID}, r, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("replace user: %w", err)
	}
	return nil
}

func (s *AttendanceStore) LogWorkStart(ctx context.Context, userID string, start time.Time, holiday bool) (string, error) {
	now := time.Now()
	log := model.WorkLog{
		ID:        uuid.NewString(),
		UserID:    userID,
		Date:      start.Format(time.DateOnly),
		Start:     start,
		Holiday:   holiday,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := s.workLogs.InsertOne(ctx, log); err != nil {
		return "", fmt.Errorf("insert work log: %w", err)
	}
	return log.ID, nil
}

// LogWorkEnd closes the work log with its hours and balances in a single
// document update.
func (s *AttendanceStore) LogWorkEnd(ctx context.Context, c model.WorkLogClosure) error {
	res, err := s.workLogs.UpdateOne(ctx, bson.M{"_id": c.WorkLogID}, bson.M{"$set": bson.M{
		"end":                c.End,
		"total_hours":        c.TotalHours,
		"break_hours":        c.BreakHours,
		"absence_hours":      c.AbsenceHours,
		"effective_hours":    c.EffectiveHours,
		"balance":            c.Balance,
		"cumulative_balance": c.CumulativeBalance,
		"updated_at":         time.Now(),
	}})
	if err != nil {
		return fmt.Errorf("close work log: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("close work log %s: %w", c.WorkLogID, ErrNotFound)
	}
	return nil
}

func (s *AttendanceStore) UpdateWorkBalance(ctx context.Context, workLogID string, balance, cumulative float64) error {
	res, err := s.workLogs.UpdateOne(ctx, bson.M{"_id": workLogID}, bson.M{"$set": bson.M{
		"balance":            balance,
		"cumulative_balance": cumulative,
		"updated_at":         time.Now(),
	}})
	if err != nil {
		return fmt.Errorf("update work balance: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("update work balance %s: %w", workLogID, ErrNotFound)
	}
	return nil
}

// GetLastCumulativeBalance returns the cumulative balance of the user's most
// recently closed work log, 0 when there is none.
func (s *AttendanceStore) GetLastCumulativeBalance(ctx context.Context, userID string) (float64, error) {
	var log model.WorkLog
	opts := options.FindOne().SetSort(bson.D{{Key: "end", Value: -1}})
	err := s.workLogs.FindOne(ctx, bson.M{
		"user_id": userID,
		"end":     bson.M{"$exists": true},
	}, opts).Decode(&log)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("find last work log: %w", err)
	}
	return log.CumulativeBalance, nil
}

func (s *AttendanceStore) UpdateDeviceUsage(ctx context.Context, workLogID string, mobile, pc time.Duration) error {
	_, err := s.workLogs.UpdateOne(ctx, bson.M{"_id": workLogID}, bson.M{"$set": bson.M{
		"mobile_time": mobile,
		"pc_time":     pc,
		"updated_at":  time.Now(),
	}})
	if err != nil {
		return fmt.Errorf("update device usage: %w", err)
	}
	return nil
}

// GetWorkLogs returns the user's work logs between two dates (YYYY-MM-DD), inclusive.
func (s *AttendanceStore) GetWorkLogs(ctx context.Context, userID, from, to string) ([]*model.WorkLog, error) {
	opts := options.Find().SetSort(bson.D{{Key: "start", Value: 1}})
	cursor, err := s.workLogs.Find(ctx, bson.M{
		"user_id": userID,
		"date":    bson.M{"$gte": from, "$lte": to},
	}, opts)
	if err != nil {
		return nil, fmt.Errorf("find work logs: %w", err)
	}
	var results []*model.WorkLog
	if err := cursor.All(ctx, &results); err != nil {
		return nil, fmt.Errorf("decode work logs: %w", err)
	}
	return results, nil
}

func (s *AttendanceStore) LogBreakStart(ctx context.Context, b model.BreakLog) (string, error) {
	b.ID = uuid.NewString()
	b.End = nil
	if _, err := s.breaks.InsertOne(ctx, b); err != nil {
		return "", fmt.Errorf("insert break log: %w", err)
	}
	return b.ID, nil
}

func (s *AttendanceStore) LogBreakEnd(ctx context.Context, b model.BreakLog) error {
	_, err := s.breaks.UpdateOne(ctx, bson.M{"_id": b.ID}, bson.M{"$set": bson.M{
		"type":    b.Type,
		"end":     b.End,
		"excess":  b.Excess,
		"absence": b.Absence,
	}})
	if err != nil {
		return fmt.Errorf("close break log: %w", err)
	}
	return nil
}

func (s *AttendanceStore) UpdateBreakAbsence(ctx context.Context, breakID string, absence time.Duration) error {
	_, err := s.breaks.UpdateOne(ctx, bson.M{"_id": breakID}, bson.M{"$set": bson.M{"absence": absence}})
	if err != nil {
		return fmt.Errorf("update break absence: %w", err)
	}
	return nil
}

func (s *AttendanceStore) LogBreakExtension(ctx context.Context, breakID string, t model.UserState) error {
	_, err := s.breaks.UpdateOne(ctx, bson.M{"_id": breakID}, bson.M{"$set": bson.M{"type": t}})
	if err != nil {
		return fmt.Errorf("extend break log: %w", err)
	}
	return nil
}

// GetActiveBreak returns the user's most recent open break, or nil.
func (s *AttendanceStore) GetActiveBreak(ctx context.Context, userID string) (*model.BreakLog, error) {
	var b model.BreakLog
	opts := options.FindOne().SetSort(bson.D{{Key: "start", Value: -1}})
	err := s.breaks.FindOne(ctx, bson.M{
		"user_id": userID,
		"end":     bson.M{"$exists": false},
	}, opts).Decode(&b)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find active break: %w", err)
	}
	return &b, nil
}

// GetUserBreakLogs returns the breaks that started in [from, to), oldest first.
func (s *AttendanceStore) GetUserBreakLogs(ctx context.Context, userID string, from, to time.Time) ([]model.BreakLog, error) {
	opts := options.Find().SetSort(bson.D{{Key: "start", Value: 1}})
	cursor, err := s.breaks.Find(ctx, bson.M{
		"user_id": userID,
		"start":   bson.M{"$gte": from, "$lt": to},
	}, opts)
	if err != nil {
		return nil, fmt.Errorf("find break logs: %w", err)
	}
	var results []model.BreakLog
	if err := cursor.All(ctx, &results); err != nil {
		return nil, fmt.Errorf("decode break logs: %w", err)
	}
	return results, nil
}

// IsUserOnLeave reports whether approved full-day leave covers date (YYYY-MM-DD).
func (s *AttendanceStore) IsUserOnLeave(ctx context.Context, userID, date string) (bool, error) {
	n, err := s.leave.CountDocuments(ctx, bson.M{
		"user_id": userID,
		"dates":   date,
		"status":  model.LeaveStatusApproved,
		"type":    bson.M{"$in": fullDayLeave},
	})
	if err != nil {
		return false, fmt.Errorf("count leave requests: %w", err)
	}
	return n > 0, nil
}

// CheckUserLeave returns the approved leave requests covering the day of at.
func (s *AttendanceStore) CheckUserLeave(ctx context.Context, userID string, at time.Time) ([]*model.LeaveRequest, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cursor, err := s.leave.Find(ctx, bson.M{
		"user_id": userID,
		"dates":   at.Format(time.DateOnly),
		"status":  model.LeaveStatusApproved,
	}, opts)
	if err != nil {
		return nil, fmt.Errorf("find leave requests: %w", err)
	}
	var results []*model.LeaveRequest
	if err := cursor.All(ctx, &results); err != nil {
		return nil, fmt.Errorf("decode leave requests: %w", err)
	}
	return results, nil
}

// CreateLeaveRequest inserts a new leave request and sets the ID on the struct.
func (s *AttendanceStore) CreateLeaveRequest(ctx context.Context, req *model.LeaveRequest) error {
	req.ID = uuid.NewString()
	req.CreatedAt = time.Now()
	req.UpdatedAt = req.CreatedAt
	if _, err := s.leave.InsertOne(ctx, req); err != nil {
		return fmt.Errorf("insert leave request: %w", err)
	}
	return nil
}

// GetLeaveRequestByID retrieves a leave request, or nil if not found.
func (s *AttendanceStore) GetLeaveRequestByID(ctx context.Context, id string) (*model.LeaveRequest, error) {
	var req model.LeaveRequest
	err := s.leave.FindOne(ctx, bson.M{"_id": id}).Decode(&req)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find leave request: %w", err)
	}
	return &req, nil
}

func (s *AttendanceStore) UpdateLeaveRequest(ctx context.Context, req *model.LeaveRequest) error {
	req.UpdatedAt = time.Now()
	if _, err := s.leave.ReplaceOne(ctx, bson.M{"_id": req.ID}, req); err != nil {
		return fmt.Errorf("replace leave request: %w", err)
	}
	return nil
}

// GetLeaveRequestsByDateRange returns leave requests that overlap with a date range, optionally filtered by user.
func (s *AttendanceStore) GetLeaveRequestsByDateRange(ctx context.Context, from, to, userID string) ([]*model.LeaveRequest, error) {
	filter := bson.M{"dates": bson.M{"$elemMatch": bson.M{"$gte": from, "$lte": to}}}
	if userID != "" {
		filter["user_id"] = userID
	}
	cursor, err := s.leave.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("find leave requests: %w", err)
	}
	var results []*model.LeaveRequest
	if err := cursor.All(ctx, &results); err != nil {
		return nil, fmt.Errorf("decode leave requests: %w", err)
	}
	return results, nil
}
