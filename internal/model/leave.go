package model

import (
	"slices"
	"time"
)

type LeaveType string

const (
	LeaveTypeAnnual         LeaveType = "leave"
	LeaveTypeEmergency      LeaveType = "emergency"
	LeaveTypeSick           LeaveType = "sick"
	LeaveTypeWorkPermit     LeaveType = "work_permit"
	LeaveTypeLateArrival    LeaveType = "late_arrival"
	LeaveTypeEarlyDeparture LeaveType = "early_departure"
)

type LeaveStatus string

const (
	LeaveStatusPending  LeaveStatus = "pending"
	LeaveStatusApproved LeaveStatus = "approved"
	LeaveStatusRejected LeaveStatus = "rejected"
)

// FullDay reports whether the leave type excuses the whole day.
func (t LeaveType) FullDay() bool {
	return t == LeaveTypeAnnual || t == LeaveTypeEmergency || t == LeaveTypeSick
}

func (t LeaveType) Valid() bool {
	switch t {
	case LeaveTypeAnnual, LeaveTypeEmergency, LeaveTypeSick,
		LeaveTypeWorkPermit, LeaveTypeLateArrival, LeaveTypeEarlyDeparture:
		return true
	}
	return false
}

type LeaveRequest struct {
	ID                string      `bson:"_id,omitempty" json:"id"`
	UserID            string      `bson:"user_id" json:"user_id"`
	Username          string      `bson:"username" json:"username"`
	TeamID            string      `bson:"team_id" json:"team_id"`
	ChannelID         string      `bson:"channel_id" json:"channel_id"`
	ApprovalChannelID string      `bson:"approval_channel_id" json:"approval_channel_id"`
	PostID            string      `bson:"post_id" json:"post_id"`
	ApprovalPostID    string      `bson:"approval_post_id" json:"approval_post_id"`
	Type              LeaveType   `bson:"type" json:"type"`
	Dates             []string    `bson:"dates" json:"dates"`                           // YYYY-MM-DD
	ExpectedTime      string      `bson:"expected_time,omitempty" json:"expected_time"` // HH:MM, late arrival / early departure
	StartTime         string      `bson:"start_time,omitempty" json:"start_time"`       // HH:MM, work permits
	EndTime           string      `bson:"end_time,omitempty" json:"end_time"`
	Reason            string      `bson:"reason" json:"reason"`
	Status            LeaveStatus `bson:"status" json:"status"`
	ApproverID        string      `bson:"approver_id,omitempty" json:"approver_id"`
	ApproverUsername  string      `bson:"approver_username,omitempty" json:"approver_username"`
	ApprovedAt        *time.Time  `bson:"approved_at,omitempty" json:"approved_at"`
	RejectReason      string      `bson:"reject_reason,omitempty" json:"reject_reason"`
	CreatedAt         time.Time   `bson:"created_at" json:"created_at"`
	UpdatedAt         time.Time   `bson:"updated_at" json:"updated_at"`
}

// Covers reports whether the request includes the given date (YYYY-MM-DD).
func (r *LeaveRequest) Covers(date string) bool {
	return slices.Contains(r.Dates, date)
}

// Window returns the time range excused by a time-bounded request on the day
// of ref. workStart and workEnd bound late arrivals and early departures.
// ok is false when the request is not time-bounded and excuses the whole day.
func (r *LeaveRequest) Window(ref, workStart, workEnd time.Time) (from, to time.Time, ok bool) {
	switch r.Type {
	case LeaveTypeLateArrival:
		if t, err := clockOn(ref, r.ExpectedTime); err == nil {
			return workStart, t, true
		}
	case LeaveTypeEarlyDeparture:
		if t, err := clockOn(ref, r.ExpectedTime); err == nil {
			return t, workEnd, true
		}
	case LeaveTypeWorkPermit:
		start, err1 := clockOn(ref, r.StartTime)
		end, err2 := clockOn(ref, r.EndTime)
		if err1 == nil && err2 == nil {
			return start, end, true
		}
	}
	return time.Time{}, time.Time{}, false
}

func clockOn(ref time.Time, hhmm string) (time.Time, error) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(ref.Year(), ref.Month(), ref.Day(), t.Hour(), t.Minute(), 0, 0, ref.Location()), nil
}
