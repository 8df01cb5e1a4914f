package model

import "time"

// UserRecord is the persisted form of a User.
type UserRecord struct {
	ID              string        `bson:"_id" json:"id"`
	PresenceID      string        `bson:"presence_id" json:"presence_id"`
	Name            string        `bson:"name" json:"name"`
	FullName        string        `bson:"full_name" json:"full_name"`
	Department      string        `bson:"department" json:"department"`
	Role            string        `bson:"role" json:"role"`
	Admin           bool          `bson:"admin" json:"admin"`
	Remote          bool          `bson:"remote" json:"remote"`
	State           UserState     `bson:"state" json:"state"`
	ResumeState     UserState     `bson:"resume_state,omitempty" json:"resume_state,omitempty"`
	CheckIn         *time.Time    `bson:"check_in,omitempty" json:"check_in,omitempty"`
	CheckOut        *time.Time    `bson:"check_out,omitempty" json:"check_out,omitempty"`
	DailyWork       time.Duration `bson:"daily_work" json:"daily_work"`
	WeeklyWork      time.Duration `bson:"weekly_work" json:"weekly_work"`
	Overtime        bool          `bson:"overtime" json:"overtime"`
	HolidayWork     bool          `bson:"holiday_work" json:"holiday_work"`
	Absence         time.Duration `bson:"absence" json:"absence"`
	LastStateChange time.Time     `bson:"last_state_change" json:"last_state_change"`
	WorkLogID       string        `bson:"work_log_id,omitempty" json:"work_log_id,omitempty"`
	Mobile          bool          `bson:"mobile" json:"mobile"`
	MobileTime      time.Duration `bson:"mobile_time" json:"mobile_time"`
	PCTime          time.Duration `bson:"pc_time" json:"pc_time"`
	UsageCursor     time.Time     `bson:"usage_cursor" json:"usage_cursor"`
	UpdatedAt       time.Time     `bson:"updated_at" json:"updated_at"`
}

// Record captures the persisted fields of the user. Breaks are stored separately.
func (u *User) Record() UserRecord {
	return UserRecord{
		ID:              u.ID,
		PresenceID:      u.PresenceID,
		Name:            u.Name,
		FullName:        u.FullName,
		Department:      u.Department,
		Role:            u.Role,
		Admin:           u.Admin,
		Remote:          u.Remote,
		State:           u.state,
		ResumeState:     u.resume,
		CheckIn:         copyTime(u.checkIn),
		CheckOut:        copyTime(u.checkOut),
		DailyWork:       u.dailyWork,
		WeeklyWork:      u.weeklyWork,
		Overtime:        u.overtime,
		HolidayWork:     u.holidayWork,
		Absence:         u.absence,
		LastStateChange: u.lastStateChange,
		WorkLogID:       u.workLogID,
		Mobile:          u.mobile,
		MobileTime:      u.mobileTime,
		PCTime:          u.pcTime,
		UsageCursor:     u.usageCursor,
	}
}

// FromRecord rebuilds a User from its record and the breaks of its current
// session. When the stored state is a break state the last open break
// becomes the current break; one is synthesized from the last state change
// if none was stored. Open breaks in any other state are closed at the last
// state change.
func FromRecord(r UserRecord, breaks []BreakLog) *User {
	u := &User{
		ID:              r.ID,
		PresenceID:      r.PresenceID,
		Name:            r.Name,
		FullName:        r.FullName,
		Department:      r.Department,
		Role:            r.Role,
		Admin:           r.Admin,
		Remote:          r.Remote,
		state:           r.State,
		resume:          r.ResumeState,
		checkIn:         copyTime(r.CheckIn),
		checkOut:        copyTime(r.CheckOut),
		dailyWork:       r.DailyWork,
		weeklyWork:      r.WeeklyWork,
		overtime:        r.Overtime,
		holidayWork:     r.HolidayWork,
		absence:         r.Absence,
		lastStateChange: r.LastStateChange,
		workLogID:       r.WorkLogID,
		mobile:          r.Mobile,
		mobileTime:      r.MobileTime,
		pcTime:          r.PCTime,
		usageCursor:     r.UsageCursor,
		currentBreak:    -1,
	}
	if !u.state.Valid() {
		u.state = StateOffline
	}
	for _, b := range breaks {
		b.End = copyTime(b.End)
		u.breaks = append(u.breaks, b)
	}

	open := -1
	for i := range u.breaks {
		if u.breaks[i].Open() {
			open = i
		}
	}
	if u.state.IsBreak() {
		if open < 0 {
			u.breaks = append(u.breaks, BreakLog{UserID: u.ID, Type: u.state, Start: u.lastStateChange})
			open = len(u.breaks) - 1
		}
		u.currentBreak = open
		if u.checkIn == nil {
			t := u.breaks[open].Start
			u.checkIn = &t
		}
	}
	for i := range u.breaks {
		if i != u.currentBreak && u.breaks[i].Open() {
			end := u.lastStateChange
			if end.Before(u.breaks[i].Start) {
				end = u.breaks[i].Start
			}
			u.breaks[i].End = &end
		}
	}
	if u.state.RequiresCheckIn() && u.checkIn == nil {
		t := u.lastStateChange
		u.checkIn = &t
	}
	return u
}
