package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"worktracker/internal/config"
	"worktracker/internal/engine"
	"worktracker/internal/mattermost"
	"worktracker/internal/model"
	"worktracker/internal/store"
)

// 2025-03-12 is a Wednesday.
func at(hour, min int) time.Time {
	return time.Date(2025, 3, 12, hour, min, 0, 0, time.UTC)
}

const today = "2025-03-12"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(t time.Time) *testClock { return &testClock{now: t} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeChat stands in for the Mattermost client.
type fakeChat struct {
	mu       sync.Mutex
	seq      int
	posts    []*mattermost.Post
	updates  map[string]*mattermost.Post
	dms      []string
	statuses map[string]string
	users    map[string]*mattermost.User
	channels map[string]*mattermost.ChannelInfo

	sent chan *mattermost.Post
}

func newFakeChat() *fakeChat {
	return &fakeChat{
		updates:  map[string]*mattermost.Post{},
		statuses: map[string]string{},
		users:    map[string]*mattermost.User{},
		channels: map[string]*mattermost.ChannelInfo{},
		sent:     make(chan *mattermost.Post, 16),
	}
}

func (f *fakeChat) create(post *mattermost.Post) *mattermost.Post {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	cp := *post
	cp.ID = fmt.Sprintf("post-%d", f.seq)
	f.posts = append(f.posts, &cp)
	return &cp
}

func (f *fakeChat) SendDMPost(_ context.Context, userID string, post *mattermost.Post) (*mattermost.Post, error) {
	cp := *post
	cp.ChannelID = "dm-" + userID
	created := f.create(&cp)
	f.sent <- created
	return created, nil
}

func (f *fakeChat) CreatePost(_ context.Context, post *mattermost.Post) (*mattermost.Post, error) {
	return f.create(post), nil
}

func (f *fakeChat) UpdatePost(_ context.Context, postID string, post *mattermost.Post) (*mattermost.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *post
	cp.ID = postID
	f.updates[postID] = &cp
	return &cp, nil
}

func (f *fakeChat) SendDM(_ context.Context, userID, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dms = append(f.dms, userID+": "+message)
	return nil
}

func (f *fakeChat) GetUserStatuses(_ context.Context, ids []string) ([]mattermost.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []mattermost.Status
	for _, id := range ids {
		if s, ok := f.statuses[id]; ok {
			out = append(out, mattermost.Status{UserID: id, Status: s})
		}
	}
	return out, nil
}

func (f *fakeChat) GetUser(_ context.Context, userID string) (*mattermost.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return nil, &mattermost.APIError{StatusCode: 404, Body: "not found"}
	}
	return u, nil
}

func (f *fakeChat) GetChannel(_ context.Context, channelID string) (*mattermost.ChannelInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.channels[channelID]
	if !ok {
		return nil, &mattermost.APIError{StatusCode: 404, Body: "not found"}
	}
	return c, nil
}

func (f *fakeChat) GetChannelByName(_ context.Context, teamID, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.channels {
		if c.TeamID == teamID && c.Name == name {
			return c.ID, nil
		}
	}
	return "", &mattermost.APIError{StatusCode: 404, Body: "not found"}
}

func (f *fakeChat) setStatus(userID, status string) {
	f.mu.Lock()
	f.statuses[userID] = status
	f.mu.Unlock()
}

func (f *fakeChat) update(postID string) *mattermost.Post {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.updates[postID]
}

func (f *fakeChat) allPosts() []*mattermost.Post {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*mattermost.Post(nil), f.posts...)
}

func (f *fakeChat) allDMs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.dms...)
}

// countingRecorder counts the metrics the service layer reports.
type countingRecorder struct {
	mu              sync.Mutex
	evaluations     int
	transitions     int
	debounced       int
	reconcileErrors int
	reconciles      int
	activeUsers     int
	promptAnswers   map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{promptAnswers: map[string]int{}}
}

func (r *countingRecorder) IncTransition(string, string) {
	r.mu.Lock()
	r.transitions++
	r.mu.Unlock()
}

func (r *countingRecorder) IncEvaluation(string) {}

func (r *countingRecorder) ObserveEvaluationDuration(time.Duration) {
	r.mu.Lock()
	r.evaluations++
	r.mu.Unlock()
}

func (r *countingRecorder) IncDebounced() {
	r.mu.Lock()
	r.debounced++
	r.mu.Unlock()
}

func (r *countingRecorder) IncReconcileError() {
	r.mu.Lock()
	r.reconcileErrors++
	r.mu.Unlock()
}

func (r *countingRecorder) ObserveReconcileDuration(time.Duration) {
	r.mu.Lock()
	r.reconciles++
	r.mu.Unlock()
}

func (r *countingRecorder) SetActiveUsers(n int) {
	r.mu.Lock()
	r.activeUsers = n
	r.mu.Unlock()
}

func (r *countingRecorder) IncPromptAnswer(kind string, confirmed bool) {
	r.mu.Lock()
	r.promptAnswers[fmt.Sprintf("%s/%t", kind, confirmed)]++
	r.mu.Unlock()
}

func (r *countingRecorder) snapshot() countingRecorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	return countingRecorder{
		evaluations:     r.evaluations,
		transitions:     r.transitions,
		debounced:       r.debounced,
		reconcileErrors: r.reconcileErrors,
		reconciles:      r.reconciles,
		activeUsers:     r.activeUsers,
	}
}

// fakeTimers captures the break monitor's timers so tests fire them by hand.
type fakeTimers struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

func (ft *fakeTimers) afterFunc(d time.Duration, f func()) stopper {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	t := &fakeTimer{d: d, f: f}
	ft.timers = append(ft.timers, t)
	return t
}

func (ft *fakeTimers) active() []*fakeTimer {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	var out []*fakeTimer
	for _, t := range ft.timers {
		if !t.stopped {
			out = append(out, t)
		}
	}
	return out
}

// failingStore fails leave lookups for one user.
type failingStore struct {
	*store.SQLiteStore
	failUser string
}

func (s *failingStore) IsUserOnLeave(ctx context.Context, userID, date string) (bool, error) {
	if userID == s.failUser {
		return false, fmt.Errorf("leave lookup unavailable")
	}
	return s.SQLiteStore.IsUserOnLeave(ctx, userID, date)
}

type fixedCheckIn struct {
	mu    sync.Mutex
	at    time.Time
	ok    bool
	calls int
}

func (f *fixedCheckIn) RequestCheckIn(context.Context, *model.User, time.Time) (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.at, f.ok
}

func (f *fixedCheckIn) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testSchedule() *config.Schedule {
	s := config.DefaultSchedule()
	s.Location = time.UTC
	return &s
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func newTestEngine(t *testing.T, st engine.Store, rec *countingRecorder, opts ...engine.Option) *engine.Engine {
	t.Helper()
	rules, err := engine.DefaultRules(engine.DefaultRegistry())
	require.NoError(t, err)
	mapping, err := engine.LoadStatusMapping("")
	require.NoError(t, err)
	opts = append([]engine.Option{engine.WithRecorder(rec)}, opts...)
	return engine.New(rules, engine.NewStatusMapper("mattermost", mapping), st, testSchedule(), opts...)
}

func seedUser(t *testing.T, st Store, id string, setup func(u *model.User)) {
	t.Helper()
	u := model.NewUser(id, id, id+"-name", at(0, 0))
	if setup != nil {
		setup(u)
	}
	require.NoError(t, st.UpdateUserState(context.Background(), u))
}

func seedLeave(t *testing.T, st Store, userID string, typ model.LeaveType, status model.LeaveStatus, dates ...string) {
	t.Helper()
	require.NoError(t, st.CreateLeaveRequest(context.Background(), &model.LeaveRequest{
		UserID:   userID,
		Username: userID + "-name",
		Type:     typ,
		Dates:    dates,
		Status:   status,
	}))
}

func stateOf(t *testing.T, st Store, id string) model.UserState {
	t.Helper()
	s, err := st.GetUserCurrentState(context.Background(), id)
	require.NoError(t, err)
	return s
}

// flush waits until every job queued on the user's actor so far has run.
func flush(t *testing.T, tr *Tracker, userID string) {
	t.Helper()
	require.NoError(t, tr.do(context.Background(), userID, func(context.Context, *actor) error { return nil }))
}
