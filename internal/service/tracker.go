package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"worktracker/internal/config"
	"worktracker/internal/engine"
	"worktracker/internal/i18n"
	"worktracker/internal/logfields"
	"worktracker/internal/mattermost"
	"worktracker/internal/metrics"
	"worktracker/internal/model"
)

// Tracker feeds presence events and periodic ticks into the engine. Every
// user has an actor goroutine that runs that user's work one job at a time;
// the actor owns the cached user and its break monitor.
type Tracker struct {
	engine    *engine.Engine
	store     Store
	schedule  *config.Schedule
	presence  PresenceSource
	directory Directory
	notifier  Notifier
	checkIns  CheckInRequester
	recorder  metrics.Recorder

	debounce       time.Duration
	warnLead       time.Duration
	promptCooldown time.Duration
	now            func() time.Time
	afterFunc      func(time.Duration, func()) stopper

	mu          sync.Mutex
	ctx         context.Context
	actors      map[string]*actor
	wg          sync.WaitGroup
	reconcileCh chan struct{}
}

type stopper interface{ Stop() bool }

type job func(ctx context.Context)

type actor struct {
	userID string
	jobs   chan job

	// guarded by Tracker.mu
	lastEvent time.Time

	// owned by the actor goroutine
	user       *model.User
	lastStatus string
	lastPrompt time.Time
	monitor    *breakMonitor
}

// breakMonitor warns before an open break reaches its cap and re-evaluates
// the user once it has.
type breakMonitor struct {
	state  model.UserState
	start  time.Time
	warn   stopper
	expire stopper
}

func (m *breakMonitor) stop() {
	if m.warn != nil {
		m.warn.Stop()
	}
	if m.expire != nil {
		m.expire.Stop()
	}
}

type TrackerOption func(*Tracker)

// WithDebounce drops a second event for the same user arriving within d of
// the last accepted one.
func WithDebounce(d time.Duration) TrackerOption {
	return func(t *Tracker) { t.debounce = d }
}

// WithBreakWarning sends a direct message lead before a break reaches its cap.
func WithBreakWarning(n Notifier, lead time.Duration) TrackerOption {
	return func(t *Tracker) {
		t.notifier = n
		t.warnLead = lead
	}
}

// WithDirectory registers unknown users from the chat directory.
func WithDirectory(d Directory) TrackerOption {
	return func(t *Tracker) { t.directory = d }
}

// WithCheckInRequests asks users found online without a check-in for their
// start time during reconciliation, at most once per cooldown.
func WithCheckInRequests(r CheckInRequester, cooldown time.Duration) TrackerOption {
	return func(t *Tracker) {
		t.checkIns = r
		t.promptCooldown = cooldown
	}
}

func WithTrackerRecorder(r metrics.Recorder) TrackerOption {
	return func(t *Tracker) { t.recorder = r }
}

func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) { t.now = now }
}

// NewTracker returns a tracker. presence may be nil, in which case
// reconciliation uses the last status seen for each user.
func NewTracker(eng *engine.Engine, store Store, schedule *config.Schedule, presence PresenceSource, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		engine:      eng,
		store:       store,
		schedule:    schedule,
		presence:    presence,
		recorder:    metrics.NoopRecorder{},
		now:         time.Now,
		afterFunc:   func(d time.Duration, f func()) stopper { return time.AfterFunc(d, f) },
		ctx:         context.Background(),
		actors:      map[string]*actor{},
		reconcileCh: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start runs the reconciliation loop and queues the startup pass. Actors and
// the loop stop when ctx is cancelled; Wait blocks until they have.
func (t *Tracker) Start(ctx context.Context) {
	t.mu.Lock()
	t.ctx = ctx
	t.mu.Unlock()

	t.wg.Add(1)
	go t.reconcileLoop(ctx)
	t.requestReconcile()
}

func (t *Tracker) Wait() { t.wg.Wait() }

// HandlePresence queues a presence event for the user's actor and schedules a
// reconciliation pass. It reports false when the event was debounced.
func (t *Tracker) HandlePresence(ev mattermost.PresenceEvent) bool {
	now := t.now()
	a, ctx := t.actor(ev.UserID)

	t.mu.Lock()
	if t.debounce > 0 && !a.lastEvent.IsZero() && now.Sub(a.lastEvent) < t.debounce {
		t.mu.Unlock()
		t.recorder.IncDebounced()
		slog.Debug("Ignoring duplicate status change", logfields.User(ev.UserID), logfields.RawStatus(ev.Status))
		return false
	}
	a.lastEvent = now
	t.mu.Unlock()

	t.submit(ctx, a, func(ctx context.Context) { t.handleEvent(ctx, a, ev, now) })
	t.requestReconcile()
	return true
}

func (t *Tracker) handleEvent(ctx context.Context, a *actor, ev mattermost.PresenceEvent, now time.Time) {
	u, err := t.load(ctx, a)
	if err != nil {
		slog.Error("Failed to load user", logfields.User(ev.UserID), logfields.Error(err))
		return
	}
	if u == nil {
		slog.Warn("Presence event for unknown user", logfields.User(ev.UserID))
		return
	}
	a.lastStatus = ev.Status

	onLeave, err := t.store.IsUserOnLeave(ctx, u.ID, t.day(now))
	if err != nil {
		slog.Error("Failed to check leave", logfields.User(u.ID), logfields.Error(err))
		return
	}
	if onLeave {
		slog.Info("User is on leave, ignoring status change", logfields.User(u.ID), logfields.RawStatus(ev.Status))
		return
	}

	if err := t.setDevice(ctx, u, ev.Mobile, now); err != nil {
		slog.Error("Failed to record device change", logfields.User(u.ID), logfields.Error(err))
	}

	slog.Info("Status change", logfields.User(u.ID), logfields.UserName(u.Name), logfields.RawStatus(ev.Status))
	if _, err := t.engine.Run(ctx, u, ev.Status, now); err != nil {
		slog.Error("Evaluation failed", logfields.User(u.ID), logfields.RawStatus(ev.Status), logfields.Error(err))
	}
	t.watchBreak(a, u)
}

// setDevice closes the usage interval on the previous device before
// switching.
func (t *Tracker) setDevice(ctx context.Context, u *model.User, mobile bool, now time.Time) error {
	if u.IsMobile() == mobile {
		return nil
	}
	work := u.Clone()
	work.AccrueDeviceTime(now)
	work.SetMobile(mobile)
	if err := t.persistUsage(ctx, work); err != nil {
		return err
	}
	u.Restore(work)
	return nil
}

func (t *Tracker) persistUsage(ctx context.Context, u *model.User) error {
	if id := u.WorkLogID(); id != "" {
		usage := u.DeviceTime()
		if err := t.store.UpdateDeviceUsage(ctx, id, usage.Mobile, usage.PC); err != nil {
			return fmt.Errorf("update device usage: %w", err)
		}
	}
	if err := t.store.UpdateUserState(ctx, u); err != nil {
		return fmt.Errorf("update user state: %w", err)
	}
	return nil
}

// Reconcile drives every known user not on leave with their current
// presence. A failure for one user is logged and does not stop the others.
func (t *Tracker) Reconcile(ctx context.Context) error {
	started := time.Now()
	defer func() { t.recorder.ObserveReconcileDuration(time.Since(started)) }()

	users, err := t.store.GetAllUsers(ctx)
	if err != nil {
		return fmt.Errorf("get all users: %w", err)
	}

	statuses := map[string]string{}
	if t.presence != nil && len(users) > 0 {
		ids := make([]string, 0, len(users))
		for _, u := range users {
			ids = append(ids, presenceKey(u))
		}
		list, err := t.presence.GetUserStatuses(ctx, ids)
		if err != nil {
			return fmt.Errorf("get user statuses: %w", err)
		}
		for _, s := range list {
			statuses[s.UserID] = s.Status
		}
	}

	now := t.now()
	var wg sync.WaitGroup
	for _, u := range users {
		raw, known := statuses[presenceKey(u)]
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			err := t.do(ctx, id, func(ctx context.Context, a *actor) error {
				return t.reconcileUser(ctx, a, raw, known, now)
			})
			if err != nil {
				t.recorder.IncReconcileError()
				slog.Error("Failed to reconcile user", logfields.User(id), logfields.Error(err))
			}
		}(u.ID)
	}
	wg.Wait()
	slog.Debug("Reconciliation finished", slog.Int("users", len(users)), slog.Duration("took", time.Since(started)))
	return nil
}

func (t *Tracker) reconcileUser(ctx context.Context, a *actor, raw string, known bool, now time.Time) error {
	u, err := t.load(ctx, a)
	if err != nil || u == nil {
		return err
	}
	if known {
		a.lastStatus = raw
	} else {
		raw = a.lastStatus
	}
	if raw == "" {
		slog.Debug("No presence known", logfields.User(u.ID))
		return nil
	}

	onLeave, err := t.store.IsUserOnLeave(ctx, u.ID, t.day(now))
	if err != nil {
		return fmt.Errorf("check leave: %w", err)
	}
	if onLeave {
		return nil
	}

	status := t.engine.Canonical(raw)
	if t.checkIns != nil && engine.IsActiveStatus(status) && needsCheckIn(u) {
		if !a.lastPrompt.IsZero() && now.Sub(a.lastPrompt) < t.promptCooldown {
			return nil
		}
		a.lastPrompt = now
		at, ok := t.checkIns.RequestCheckIn(ctx, u, now)
		if !ok {
			slog.Info("No check-in time provided", logfields.User(u.ID))
			return nil
		}
		ctx = withCheckIn(ctx, at)
	}

	if _, err := t.engine.Evaluate(ctx, u, status, now); err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	t.watchBreak(a, u)
	return nil
}

// needsCheckIn reports whether u is offline and has not started work today.
func needsCheckIn(u *model.User) bool {
	return u.State() == model.StateOffline && u.CheckIn() == nil && u.CheckOut() == nil && u.DailyWorkTime() == 0
}

func presenceKey(u *model.User) string {
	if u.PresenceID != "" {
		return u.PresenceID
	}
	return u.ID
}

// Tick accrues device time for every user and persists the counters.
func (t *Tracker) Tick(ctx context.Context) {
	users, err := t.store.GetAllUsers(ctx)
	if err != nil {
		slog.Error("Failed to list users for usage tick", logfields.Error(err))
		return
	}
	now := t.now()
	var active int
	for _, u := range users {
		err := t.do(ctx, u.ID, func(ctx context.Context, a *actor) error {
			cur, err := t.load(ctx, a)
			if err != nil || cur == nil {
				return err
			}
			if cur.State().RequiresCheckIn() {
				active++
			}
			work := cur.Clone()
			if work.AccrueDeviceTime(now) == 0 {
				cur.Restore(work)
				return nil
			}
			if err := t.persistUsage(ctx, work); err != nil {
				return err
			}
			cur.Restore(work)
			return nil
		})
		if err != nil {
			slog.Error("Usage tick failed", logfields.User(u.ID), logfields.Error(err))
		}
	}
	t.recorder.SetActiveUsers(active)
}

// ResetDay clears daily totals and puts users with full-day leave today on
// leave, taking everyone else off it.
func (t *Tracker) ResetDay(ctx context.Context) {
	now := t.now()
	day := t.day(now)
	t.forEachUser(ctx, "daily reset", func(ctx context.Context, u *model.User) (bool, error) {
		onLeave, err := t.store.IsUserOnLeave(ctx, u.ID, day)
		if err != nil {
			return false, fmt.Errorf("check leave: %w", err)
		}
		u.ResetDay()
		if onLeave {
			u.MarkOnLeave(now)
		} else {
			u.ClearLeave(now)
		}
		return true, nil
	})
}

func (t *Tracker) ResetWeek(ctx context.Context) {
	t.forEachUser(ctx, "weekly reset", func(ctx context.Context, u *model.User) (bool, error) {
		u.ResetWeek()
		return true, nil
	})
}

// RefreshLeave applies today's approved leave to an offline user.
func (t *Tracker) RefreshLeave(ctx context.Context, userID string) error {
	now := t.now()
	return t.do(ctx, userID, func(ctx context.Context, a *actor) error {
		return t.mutate(ctx, a, func(ctx context.Context, u *model.User) (bool, error) {
			onLeave, err := t.store.IsUserOnLeave(ctx, u.ID, t.day(now))
			if err != nil {
				return false, fmt.Errorf("check leave: %w", err)
			}
			if !onLeave || u.State() != model.StateOffline {
				return false, nil
			}
			return u.MarkOnLeave(now), nil
		})
	})
}

// forEachUser applies fn to every stored user inside that user's actor.
func (t *Tracker) forEachUser(ctx context.Context, what string, fn func(context.Context, *model.User) (bool, error)) {
	users, err := t.store.GetAllUsers(ctx)
	if err != nil {
		slog.Error("Failed to list users", slog.String("task", what), logfields.Error(err))
		return
	}
	for _, u := range users {
		err := t.do(ctx, u.ID, func(ctx context.Context, a *actor) error {
			return t.mutate(ctx, a, fn)
		})
		if err != nil {
			slog.Error("Task failed for user", slog.String("task", what), logfields.User(u.ID), logfields.Error(err))
		}
	}
	slog.Info("Task finished", slog.String("task", what), slog.Int("users", len(users)))
}

// mutate applies fn to a copy of the actor's user and adopts it once
// persisted. fn reports whether anything changed.
func (t *Tracker) mutate(ctx context.Context, a *actor, fn func(context.Context, *model.User) (bool, error)) error {
	u, err := t.load(ctx, a)
	if err != nil || u == nil {
		return err
	}
	work := u.Clone()
	changed, err := fn(ctx, work)
	if err != nil || !changed {
		return err
	}
	if err := t.store.UpdateUserState(ctx, work); err != nil {
		return fmt.Errorf("update user state: %w", err)
	}
	u.Restore(work)
	t.watchBreak(a, u)
	return nil
}

// watchBreak arms, keeps or cancels the break monitor for the user's
// current state. Runs on the actor.
func (t *Tracker) watchBreak(a *actor, u *model.User) {
	b := u.CurrentBreak()
	if m := a.monitor; m != nil {
		if b != nil && m.state == u.State() && m.start.Equal(b.Start) {
			return
		}
		m.stop()
		a.monitor = nil
	}
	if b == nil {
		return
	}
	limit := t.schedule.Caps.Standard(u.State())
	if limit <= 0 {
		return
	}

	m := &breakMonitor{state: u.State(), start: b.Start}
	left := limit - t.now().Sub(b.Start)
	if t.notifier != nil && t.warnLead > 0 && left > t.warnLead {
		m.warn = t.afterFunc(left-t.warnLead, func() {
			t.submit(t.rootContext(), a, func(ctx context.Context) { t.warnBreak(ctx, a, m) })
		})
	}
	m.expire = t.afterFunc(max(left, 0)+time.Second, func() {
		t.submit(t.rootContext(), a, func(ctx context.Context) { t.expireBreak(ctx, a, m) })
	})
	a.monitor = m
}

func (t *Tracker) warnBreak(ctx context.Context, a *actor, m *breakMonitor) {
	if a.monitor != m || a.user == nil {
		return
	}
	msg := i18n.T(ctx, "break.warning", map[string]any{
		"Break":   i18n.T(ctx, "state."+string(m.state)),
		"Minutes": int(t.warnLead.Minutes()),
	})
	if err := t.notifier.SendDM(ctx, a.userID, msg); err != nil {
		slog.Error("Failed to send break warning", logfields.User(a.userID), logfields.Error(err))
	}
}

// expireBreak re-evaluates a user whose break reached its cap with the last
// status they reported.
func (t *Tracker) expireBreak(ctx context.Context, a *actor, m *breakMonitor) {
	if a.monitor != m || a.user == nil {
		return
	}
	a.monitor = nil
	if a.lastStatus == "" {
		return
	}
	u := a.user
	if _, err := t.engine.Run(ctx, u, a.lastStatus, t.now()); err != nil {
		slog.Error("Break expiry evaluation failed", logfields.User(u.ID), logfields.Error(err))
	}
	t.watchBreak(a, u)
}

// load returns the actor's user, reading it from the store or registering it
// from the directory on first use. It returns nil for unknown users.
func (t *Tracker) load(ctx context.Context, a *actor) (*model.User, error) {
	if a.user != nil {
		return a.user, nil
	}
	u, err := t.store.GetUser(ctx, a.userID)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if u == nil && t.directory != nil {
		if u, err = t.register(ctx, a.userID); err != nil {
			return nil, err
		}
	}
	a.user = u
	return u, nil
}

func (t *Tracker) register(ctx context.Context, userID string) (*model.User, error) {
	profile, err := t.directory.GetUser(ctx, userID)
	if err != nil {
		if mattermost.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get user profile: %w", err)
	}
	if profile.IsBot {
		return nil, nil
	}
	u := model.NewUser(profile.ID, profile.ID, profile.Username, t.now())
	u.FullName = profile.FullName()
	u.Role = profile.Position
	u.Admin = profile.IsAdmin()
	if err := t.store.UpdateUserState(ctx, u); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	slog.Info("Registered user", logfields.User(u.ID), logfields.UserName(u.Name))
	return u, nil
}

func (t *Tracker) day(now time.Time) string {
	return t.schedule.In(now).Format(time.DateOnly)
}

func (t *Tracker) rootContext() context.Context {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ctx
}

// actor returns the user's actor, starting it on first use, together with
// the context it runs under.
func (t *Tracker) actor(userID string) (*actor, context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	a, ok := t.actors[userID]
	if !ok {
		a = &actor{userID: userID, jobs: make(chan job, 64)}
		t.actors[userID] = a
		t.wg.Add(1)
		go t.runActor(t.ctx, a)
	}
	return a, t.ctx
}

func (t *Tracker) runActor(ctx context.Context, a *actor) {
	defer t.wg.Done()
	for {
		select {
		case <-ctx.Done():
			if a.monitor != nil {
				a.monitor.stop()
			}
			return
		case j := <-a.jobs:
			j(ctx)
		}
	}
}

func (t *Tracker) submit(ctx context.Context, a *actor, j job) bool {
	select {
	case a.jobs <- j:
		return true
	case <-ctx.Done():
		return false
	}
}

// do runs fn on the user's actor and waits for it.
func (t *Tracker) do(ctx context.Context, userID string, fn func(context.Context, *actor) error) error {
	a, actx := t.actor(userID)
	done := make(chan error, 1)
	if !t.submit(ctx, a, func(jctx context.Context) { done <- fn(jctx, a) }) {
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-actx.Done():
		return actx.Err()
	}
}

func (t *Tracker) requestReconcile() {
	select {
	case t.reconcileCh <- struct{}{}:
	default:
	}
}

func (t *Tracker) reconcileLoop(ctx context.Context) {
	defer t.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.reconcileCh:
			if err := t.Reconcile(ctx); err != nil {
				slog.Error("Reconciliation failed", logfields.Error(err))
			}
		}
	}
}
