package service

import (
	"context"
	"time"

	"worktracker/internal/engine"
	"worktracker/internal/mattermost"
	"worktracker/internal/model"
)

// Store is the persistence the tracker and the leave workflow run on. Both
// store backends implement it.
type Store interface {
	engine.Store

	Ping(ctx context.Context) error
	Close(ctx context.Context) error

	GetAllUsers(ctx context.Context) ([]*model.User, error)
	GetUser(ctx context.Context, id string) (*model.User, error)
	GetUserCurrentState(ctx context.Context, id string) (model.UserState, error)

	UpdateWorkBalance(ctx context.Context, workLogID string, balance, cumulative float64) error
	UpdateDeviceUsage(ctx context.Context, workLogID string, mobile, pc time.Duration) error
	GetWorkLogs(ctx context.Context, userID, from, to string) ([]*model.WorkLog, error)

	GetActiveBreak(ctx context.Context, userID string) (*model.BreakLog, error)
	GetUserBreakLogs(ctx context.Context, userID string, from, to time.Time) ([]model.BreakLog, error)

	IsUserOnLeave(ctx context.Context, userID, date string) (bool, error)
	CreateLeaveRequest(ctx context.Context, req *model.LeaveRequest) error
	GetLeaveRequestByID(ctx context.Context, id string) (*model.LeaveRequest, error)
	UpdateLeaveRequest(ctx context.Context, req *model.LeaveRequest) error
	GetLeaveRequestsByDateRange(ctx context.Context, from, to, userID string) ([]*model.LeaveRequest, error)
}

// PresenceSource reports the current presence of a batch of users.
type PresenceSource interface {
	GetUserStatuses(ctx context.Context, userIDs []string) ([]mattermost.Status, error)
}

// Directory resolves chat user profiles, used to register users on their
// first presence event.
type Directory interface {
	GetUser(ctx context.Context, userID string) (*mattermost.User, error)
}

type Notifier interface {
	SendDM(ctx context.Context, userID, message string) error
}

// CheckInRequester asks a user for the time they started working.
type CheckInRequester interface {
	RequestCheckIn(ctx context.Context, u *model.User, now time.Time) (time.Time, bool)
}

type checkInKey struct{}

func withCheckIn(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, checkInKey{}, t)
}

// CheckInResolver returns the engine's check-in source: a time the tracker
// already collected for this evaluation, or else whatever fallback answers.
// fallback may be nil.
func CheckInResolver(fallback CheckInRequester) engine.CheckInResolver {
	return func(ctx context.Context, u *model.User, now time.Time) (time.Time, bool) {
		if t, ok := ctx.Value(checkInKey{}).(time.Time); ok {
			return t, true
		}
		if fallback == nil {
			return time.Time{}, false
		}
		return fallback.RequestCheckIn(ctx, u, now)
	}
}
