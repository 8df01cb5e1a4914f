package config

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := fromEnv()
	require.NoError(t, err)

	assert.Equal(t, "3000", cfg.Port)
	assert.Equal(t, "mongo", cfg.StoreDriver)
	assert.True(t, cfg.Interactive)
	assert.Equal(t, time.Second, cfg.DebounceWindow)
	assert.Equal(t, Clock{7, 0}, cfg.Schedule.WorkStart)
	assert.Equal(t, Clock{12, 45}, cfg.Schedule.LunchStart)
	assert.Equal(t, 15*time.Minute, cfg.Schedule.Caps.Short)
	assert.Equal(t, 8*time.Hour, cfg.Schedule.RegularDay)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("WORK_START_TIME", "08:30")
	t.Setenv("SHORT_BREAK_CAP", "10m")
	t.Setenv("REGULAR_DAILY_HOURS", "7.5")
	t.Setenv("STORE_DRIVER", "SQLite")
	t.Setenv("HOLIDAYS", "2025-12-25, 2025-12-26")
	t.Setenv("TIMEZONE", "Europe/Rome")
	t.Setenv("INTERACTIVE", "false")

	cfg, err := fromEnv()
	require.NoError(t, err)

	assert.Equal(t, Clock{8, 30}, cfg.Schedule.WorkStart)
	assert.Equal(t, 10*time.Minute, cfg.Schedule.Caps.Short)
	assert.Equal(t, 7*time.Hour+30*time.Minute, cfg.Schedule.RegularDay)
	assert.Equal(t, "sqlite", cfg.StoreDriver)
	assert.False(t, cfg.Interactive)
	assert.Equal(t, "Europe/Rome", cfg.Schedule.Location.String())
	assert.True(t, cfg.Schedule.Holidays["2025-12-26"])
}

func TestFromEnv_ReportsEveryError(t *testing.T) {
	t.Setenv("WORK_START_TIME", "seven")
	t.Setenv("IDLE_BUFFER", "five minutes")
	t.Setenv("STORE_DRIVER", "postgres")

	_, err := fromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WORK_START_TIME")
	assert.Contains(t, err.Error(), "IDLE_BUFFER")
	assert.Contains(t, err.Error(), "STORE_DRIVER")
}

func TestSchedule_IsHoliday(t *testing.T) {
	s := DefaultSchedule()
	s.Location = time.UTC
	s.Holidays = map[string]bool{"2025-12-25": true}

	assert.True(t, s.IsHoliday(time.Date(2025, 12, 25, 10, 0, 0, 0, time.UTC)))  // Thursday, holiday
	assert.True(t, s.IsHoliday(time.Date(2025, 12, 27, 10, 0, 0, 0, time.UTC)))  // Saturday
	assert.False(t, s.IsHoliday(time.Date(2025, 12, 22, 10, 0, 0, 0, time.UTC))) // Monday
}

func TestSchedule_Windows(t *testing.T) {
	s := DefaultSchedule()
	s.Location = time.UTC
	ref := time.Date(2025, 3, 12, 15, 4, 0, 0, time.UTC)

	start, end := s.WorkWindow(ref)
	assert.Equal(t, time.Date(2025, 3, 12, 7, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2025, 3, 12, 18, 0, 0, 0, time.UTC), end)

	ls, le := s.LunchWindow(ref)
	assert.Equal(t, "12:45", Clock{ls.Hour(), ls.Minute()}.String())
	assert.Equal(t, "14:30", Clock{le.Hour(), le.Minute()}.String())
}

func TestFileWatcher_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "status_mapping.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mattermost: {}\n"), 0o644))

	var reloads atomic.Int32
	w, err := NewFileWatcher(path, func() error {
		reloads.Add(1)
		return nil
	})
	require.NoError(t, err)
	w.debounce = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		_ = w.Stop()
	})
	require.NoError(t, w.Start(ctx))

	require.NoError(t, os.WriteFile(path, []byte("mattermost:\n  away: SHORT_BREAK\n"), 0o644))
	assert.Eventually(t, func() bool { return reloads.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)
}
