package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"worktracker/internal/logfields"
)

// Scheduler wraps gocron for the tracker's periodic jobs: the usage tick,
// the reconciliation pass and the daily and weekly resets.
type Scheduler struct {
	scheduler gocron.Scheduler
	tracker   *Tracker
}

// NewScheduler creates a scheduler whose calendar jobs run in loc.
func NewScheduler(tracker *Tracker, loc *time.Location) (*Scheduler, error) {
	if loc == nil {
		loc = time.Local
	}
	s, err := gocron.NewScheduler(gocron.WithLocation(loc))
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	return &Scheduler{scheduler: s, tracker: tracker}, nil
}

// Schedule registers the jobs. Their runs see a context derived from ctx.
func (s *Scheduler) Schedule(ctx context.Context, syncInterval, reconcileInterval time.Duration) error {
	midnight := gocron.NewAtTimes(gocron.NewAtTime(0, 0, 0))
	jobs := []struct {
		name string
		def  gocron.JobDefinition
		run  func(context.Context)
	}{
		{"usage-tick", gocron.DurationJob(syncInterval), s.tracker.Tick},
		{"reconcile", gocron.DurationJob(reconcileInterval), func(ctx context.Context) {
			if err := s.tracker.Reconcile(ctx); err != nil {
				slog.Error("Scheduled reconciliation failed", logfields.Error(err))
			}
		}},
		{"daily-reset", gocron.DailyJob(1, midnight), s.tracker.ResetDay},
		{"weekly-reset", gocron.WeeklyJob(1, gocron.NewWeekdays(time.Monday), midnight), s.tracker.ResetWeek},
	}
	for _, j := range jobs {
		_, err := s.scheduler.NewJob(
			j.def,
			gocron.NewTask(s.execute, j.name, j.run),
			gocron.WithName(j.name),
			gocron.WithContext(ctx),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return fmt.Errorf("failed to create %s job: %w", j.name, err)
		}
	}
	return nil
}

func (s *Scheduler) execute(ctx context.Context, name string, run func(context.Context)) {
	started := time.Now()
	slog.Debug("Running scheduled job", logfields.Job(name))
	run(ctx)
	slog.Debug("Scheduled job finished", logfields.Job(name), logfields.DurationMS(float64(time.Since(started).Milliseconds())))
}

// Start begins the scheduler.
func (s *Scheduler) Start() {
	slog.Info("Starting scheduler")
	s.scheduler.Start()
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() error {
	slog.Info("Stopping scheduler")
	return s.scheduler.Shutdown()
}

// Jobs lists the names of the registered jobs.
func (s *Scheduler) Jobs() []string {
	var names []string
	for _, j := range s.scheduler.Jobs() {
		names = append(names, j.Name())
	}
	return names
}
