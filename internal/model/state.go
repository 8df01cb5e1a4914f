package model

import "fmt"

// UserState is the attendance state of a user. Exactly one value holds per user at any instant.
type UserState string

const (
	StateOffline             UserState = "OFFLINE"
	StateOnline              UserState = "ONLINE"
	StateWorking             UserState = "WORKING"
	StateShortBreak          UserState = "SHORT_BREAK"
	StateLunchBreak          UserState = "LUNCH_BREAK"
	StateExtendedBreak       UserState = "EXTENDED_BREAK"
	StateOvertime            UserState = "OVERTIME"
	StateHolidayWork         UserState = "HOLIDAY_WORK"
	StateUnauthorizedAbsence UserState = "UNAUTHORIZED_ABSENCE"
	StateReturningFromBreak  UserState = "RETURNING_FROM_BREAK"
	StateOnLeave             UserState = "ON_LEAVE"
)

var allStates = []UserState{
	StateOffline,
	StateOnline,
	StateWorking,
	StateShortBreak,
	StateLunchBreak,
	StateExtendedBreak,
	StateOvertime,
	StateHolidayWork,
	StateUnauthorizedAbsence,
	StateReturningFromBreak,
	StateOnLeave,
}

// AllStates returns every state of the enumeration in declaration order.
func AllStates() []UserState {
	out := make([]UserState, len(allStates))
	copy(out, allStates)
	return out
}

// ParseUserState converts a stored or configured name into a UserState.
func ParseUserState(s string) (UserState, error) {
	st := UserState(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown user state %q", s)
	}
	return st, nil
}

func (s UserState) Valid() bool {
	for _, st := range allStates {
		if st == s {
			return true
		}
	}
	return false
}

// IsBreak reports whether the state is one of the break states, i.e. the
// states in which the user holds an open BreakLog.
func (s UserState) IsBreak() bool {
	return s == StateShortBreak || s == StateLunchBreak || s == StateExtendedBreak
}

// RequiresCheckIn reports whether a check-in time must exist in this state.
func (s UserState) RequiresCheckIn() bool {
	return s != StateOffline && s != StateOnLeave
}

func (s UserState) String() string { return string(s) }
