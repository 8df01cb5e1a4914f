package engine

import (
	"errors"
	"fmt"

	"worktracker/internal/model"
)

// ErrUnsafeTransition is returned for a (from, to) pair that can never be
// taken, whatever the transition table says.
var ErrUnsafeTransition = errors.New("unsafe transition")

type edge struct {
	from, to model.UserState
}

var denied = map[edge]struct{}{
	{model.StateOffline, model.StateShortBreak}:                {},
	{model.StateOffline, model.StateLunchBreak}:                {},
	{model.StateOffline, model.StateExtendedBreak}:             {},
	{model.StateOffline, model.StateOvertime}:                  {},
	{model.StateOffline, model.StateReturningFromBreak}:        {},
	{model.StateUnauthorizedAbsence, model.StateOvertime}:      {},
	{model.StateUnauthorizedAbsence, model.StateShortBreak}:    {},
	{model.StateUnauthorizedAbsence, model.StateLunchBreak}:    {},
	{model.StateUnauthorizedAbsence, model.StateExtendedBreak}: {},
	{model.StateHolidayWork, model.StateLunchBreak}:            {},
	{model.StateHolidayWork, model.StateOvertime}:              {},
	{model.StateReturningFromBreak, model.StateShortBreak}:     {},
	{model.StateReturningFromBreak, model.StateExtendedBreak}:  {},
	{model.StateReturningFromBreak, model.StateLunchBreak}:     {},
	{model.StateOnLeave, model.StateShortBreak}:                {},
	{model.StateOnLeave, model.StateLunchBreak}:                {},
	{model.StateOnLeave, model.StateExtendedBreak}:             {},
	{model.StateOnLeave, model.StateOvertime}:                  {},
	{model.StateOnLeave, model.StateUnauthorizedAbsence}:       {},
}

var priorities = map[edge]int{
	{model.StateWorking, model.StateLunchBreak}:                10,
	{model.StateWorking, model.StateOvertime}:                  9,
	{model.StateWorking, model.StateShortBreak}:                8,
	{model.StateReturningFromBreak, model.StateWorking}:        8,
	{model.StateWorking, model.StateOffline}:                   7,
	{model.StateWorking, model.StateHolidayWork}:               6,
	{model.StateShortBreak, model.StateExtendedBreak}:          5,
	{model.StateShortBreak, model.StateWorking}:                4,
	{model.StateExtendedBreak, model.StateUnauthorizedAbsence}: 3,
	{model.StateOnline, model.StateWorking}:                    2,
	{model.StateOffline, model.StateWorking}:                   1,
}

// CheckSafety rejects pairs on the deny-list.
func CheckSafety(from, to model.UserState) error {
	if _, ok := denied[edge{from, to}]; ok {
		return fmt.Errorf("%w: %s -> %s", ErrUnsafeTransition, from, to)
	}
	return nil
}

// Priority returns the static weight of a transition. Unlisted pairs weigh 0.
func Priority(from, to model.UserState) int {
	return priorities[edge{from, to}]
}
