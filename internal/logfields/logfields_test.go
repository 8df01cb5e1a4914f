package logfields

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHelperKeyNames(t *testing.T) {
	cases := []struct {
		name string
		key  string
		val  string
		attr slog.Attr
	}{
		{"User", KeyUser, "u1", User("u1")},
		{"State", KeyState, "WORKING", State("WORKING")},
		{"From", KeyFrom, "OFFLINE", From("OFFLINE")},
		{"To", KeyTo, "WORKING", To("WORKING")},
		{"Status", KeyStatus, "IDLE", Status("IDLE")},
		{"Rule", KeyRule, "OFFLINE->WORKING", Rule("OFFLINE->WORKING")},
		{"Condition", KeyCondition, "is_work_time", Condition("is_work_time")},
		{"Action", KeyAction, "start_work", Action("start_work")},
		{"Job", KeyJob, "tick", Job("tick")},
		{"Error", KeyError, "boom", Error(errors.New("boom"))},
		{"NilError", KeyError, "", Error(nil)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.key, tc.attr.Key)
			assert.Equal(t, tc.val, tc.attr.Value.String())
		})
	}
}
