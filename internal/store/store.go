// Package store holds the persistence backends: MongoDB, the default, and an
// embedded SQLite database. Lookups that find nothing return (nil, nil).
package store

import (
	"errors"
	"time"

	"worktracker/internal/model"
)

// ErrNotFound is returned when a write targets a row that must exist.
var ErrNotFound = errors.New("not found")

// fullDayLeave lists the leave types that excuse a whole day.
var fullDayLeave = []model.LeaveType{model.LeaveTypeAnnual, model.LeaveTypeEmergency, model.LeaveTypeSick}

// farFuture bounds open-ended break queries. It stays within the range of
// Unix nanoseconds.
var farFuture = time.Date(2200, 1, 1, 0, 0, 0, 0, time.UTC)

// sessionBreaks returns the window in which the breaks of the user's current
// session started. ok is false when there is no session to load breaks for.
func sessionBreaks(r model.UserRecord) (from, to time.Time, ok bool) {
	if r.CheckIn == nil {
		return r.LastStateChange, farFuture, r.State.IsBreak()
	}
	return *r.CheckIn, farFuture, true
}
