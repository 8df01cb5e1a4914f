package engine

import (
	"context"
	"sort"
	"time"

	"worktracker/internal/config"
	"worktracker/internal/model"
)

// Store is the persistence surface the conditions and actions use.
type Store interface {
	// Transact runs fn so that the writes made with the context handed to fn
	// commit together or not at all.
	Transact(ctx context.Context, fn func(ctx context.Context) error) error
	UpdateUserState(ctx context.Context, u *model.User) error
	LogWorkStart(ctx context.Context, userID string, start time.Time, holiday bool) (string, error)
	// LogWorkEnd closes the work log and records the user's new cumulative
	// balance in one atomic write.
	LogWorkEnd(ctx context.Context, c model.WorkLogClosure) error
	LogBreakStart(ctx context.Context, b model.BreakLog) (string, error)
	LogBreakEnd(ctx context.Context, b model.BreakLog) error
	LogBreakExtension(ctx context.Context, breakID string, t model.UserState) error
	UpdateBreakAbsence(ctx context.Context, breakID string, absence time.Duration) error
	GetLastCumulativeBalance(ctx context.Context, userID string) (float64, error)
	// CheckUserLeave returns the approved leave requests covering the day of at.
	CheckUserLeave(ctx context.Context, userID string, at time.Time) ([]*model.LeaveRequest, error)
}

// Env is everything a condition or action may look at for one evaluation.
type Env struct {
	User   *model.User
	Now    time.Time
	Status string
	Rule   *Rule
	// CheckIn is the resolved check-in time for a user starting work, if any.
	CheckIn  *time.Time
	Store    Store
	Schedule *config.Schedule
	Calendar Calendar
}

// Calendar decides which days are holidays.
type Calendar interface {
	IsHoliday(t time.Time) bool
}

// Condition is a named predicate. It may perform I/O, and a few conditions
// have documented side effects on the user.
type Condition func(ctx context.Context, env *Env) (bool, error)

// Action is a named callback that persists and then mutates the user.
type Action func(ctx context.Context, env *Env) error

// Registry maps the names used in transition tables to their functions.
type Registry struct {
	conditions map[string]Condition
	actions    map[string]Action
}

func NewRegistry() *Registry {
	return &Registry{
		conditions: map[string]Condition{},
		actions:    map[string]Action{},
	}
}

// DefaultRegistry returns a registry holding the built-in conditions and actions.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	registerConditions(r)
	registerActions(r)
	return r
}

func (r *Registry) RegisterCondition(name string, c Condition) {
	r.conditions[name] = c
}

func (r *Registry) RegisterAction(name string, a Action) {
	r.actions[name] = a
}

func (r *Registry) Condition(name string) (Condition, bool) {
	c, ok := r.conditions[name]
	return c, ok
}

func (r *Registry) Action(name string) (Action, bool) {
	a, ok := r.actions[name]
	return a, ok
}

// Names lists the registered condition and action names, sorted.
func (r *Registry) Names() (conditions, actions []string) {
	for n := range r.conditions {
		conditions = append(conditions, n)
	}
	for n := range r.actions {
		actions = append(actions, n)
	}
	sort.Strings(conditions)
	sort.Strings(actions)
	return conditions, actions
}
