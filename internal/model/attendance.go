package model

import "time"

const (
	AttendanceChannel         = "attendance"
	AttendanceApprovalChannel = "attendance-approval"
)

// WorkLog is one check-in to check-out session. Device usage for the session
// is accumulated on the same document.
type WorkLog struct {
	ID                string        `bson:"_id,omitempty" json:"id"`
	UserID            string        `bson:"user_id" json:"user_id"`
	Date              string        `bson:"date" json:"date"` // YYYY-MM-DD
	Start             time.Time     `bson:"start" json:"start"`
	End               *time.Time    `bson:"end,omitempty" json:"end,omitempty"`
	Holiday           bool          `bson:"holiday" json:"holiday"`
	TotalHours        float64       `bson:"total_hours" json:"total_hours"`
	BreakHours        float64       `bson:"break_hours" json:"break_hours"`
	AbsenceHours      float64       `bson:"absence_hours" json:"absence_hours"`
	EffectiveHours    float64       `bson:"effective_hours" json:"effective_hours"`
	Balance           float64       `bson:"balance" json:"balance"`
	CumulativeBalance float64       `bson:"cumulative_balance" json:"cumulative_balance"`
	MobileTime        time.Duration `bson:"mobile_time" json:"mobile_time"`
	PCTime            time.Duration `bson:"pc_time" json:"pc_time"`
	CreatedAt         time.Time     `bson:"created_at" json:"created_at"`
	UpdatedAt         time.Time     `bson:"updated_at" json:"updated_at"`
}

// WorkLogClosure is the end-of-session accounting. The store writes it and
// the user's new cumulative balance in one atomic operation.
type WorkLogClosure struct {
	WorkLogID         string
	UserID            string
	End               time.Time
	TotalHours        float64
	BreakHours        float64
	AbsenceHours      float64
	EffectiveHours    float64
	Balance           float64
	CumulativeBalance float64
}

// DeviceUsage is the time split between mobile and desktop clients.
type DeviceUsage struct {
	Mobile time.Duration
	PC     time.Duration
}
