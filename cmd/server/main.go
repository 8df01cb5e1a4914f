package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"worktracker/internal/config"
	"worktracker/internal/engine"
	"worktracker/internal/handler"
	"worktracker/internal/i18n"
	"worktracker/internal/logfields"
	"worktracker/internal/mattermost"
	"worktracker/internal/metrics"
	"worktracker/internal/service"
	"worktracker/internal/store"
)

// A check-in question is not asked again within this window.
const checkInCooldown = 30 * time.Minute

var CLI struct {
	Verbose bool `short:"v" help:"Enable debug logging."`

	Serve    struct{} `cmd:"" default:"1" help:"Run the attendance tracker."`
	Validate struct{} `cmd:"" help:"Check the transition table and status mapping, then exit."`
}

func main() {
	kctx := kong.Parse(&CLI,
		kong.Name("worktracker"),
		kong.Description("Presence driven attendance tracking for Mattermost."),
	)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", logfields.Error(err))
		os.Exit(1)
	}

	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		slog.Warn("Unknown log level, using info", slog.String("level", cfg.LogLevel))
	}
	if CLI.Verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	switch kctx.Command() {
	case "validate":
		err = validate(cfg)
	default:
		err = serve(cfg)
	}
	if err != nil {
		slog.Error("Exiting", logfields.Error(err))
		os.Exit(1)
	}
}

func loadEngineConfig(cfg *config.Config) ([]*engine.Rule, *engine.StatusMapper, error) {
	reg := engine.DefaultRegistry()
	var (
		rules []*engine.Rule
		err   error
	)
	if cfg.TransitionsPath != "" {
		rules, err = engine.LoadRulesFile(cfg.TransitionsPath, reg)
	} else {
		rules, err = engine.DefaultRules(reg)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load transitions: %w", err)
	}
	mapping, err := engine.LoadStatusMapping(cfg.StatusMappingPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load status mapping: %w", err)
	}
	return rules, engine.NewStatusMapper(cfg.PresenceSource, mapping), nil
}

func validate(cfg *config.Config) error {
	rules, _, err := loadEngineConfig(cfg)
	if err != nil {
		return err
	}
	for _, r := range rules {
		slog.Debug("Rule", logfields.Rule(r.String()), slog.Int("weight", r.Weight()))
	}
	fmt.Printf("ok: %d transition rules\n", len(rules))
	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (service.Store, error) {
	switch cfg.StoreDriver {
	case "sqlite":
		return store.NewSQLiteStore(cfg.SQLitePath)
	default:
		db, err := store.NewMongoDB(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return nil, err
		}
		st, err := store.NewAttendanceStore(ctx, db)
		if err != nil {
			db.Close(context.Background())
			return nil, err
		}
		return st, nil
	}
}

func serve(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := i18n.Init(cfg.Locale); err != nil {
		return fmt.Errorf("load translations: %w", err)
	}

	rules, mapper, err := loadEngineConfig(cfg)
	if err != nil {
		return err
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.StoreDriver, err)
	}
	defer st.Close(context.Background())

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec := metrics.NewPrometheusRecorder(reg)

	mm := mattermost.NewClient(cfg.MattermostURL, cfg.MattermostToken, cfg.MattermostRateLimit)

	if path := cfg.StatusMappingPath; path != "" {
		watcher, err := config.NewFileWatcher(path, func() error {
			m, err := engine.LoadStatusMapping(path)
			if err != nil {
				return err
			}
			mapper.Replace(m)
			slog.Info("Status mapping reloaded", logfields.Path(path))
			return nil
		})
		if err != nil {
			return err
		}
		if err := watcher.Start(ctx); err != nil {
			return err
		}
		defer watcher.Stop()
	}

	prompter := service.NewPrompter(mm, cfg.BotURL, cfg.ConfirmTimeout, rec)
	engineOpts := []engine.Option{engine.WithRecorder(rec)}
	trackerOpts := []service.TrackerOption{
		service.WithDebounce(cfg.DebounceWindow),
		service.WithBreakWarning(mm, cfg.BreakWarningLead),
		service.WithDirectory(mm),
		service.WithTrackerRecorder(rec),
	}
	if cfg.Interactive {
		engineOpts = append(engineOpts,
			engine.WithConfirmer(prompter),
			engine.WithCheckInResolver(service.CheckInResolver(prompter)),
		)
		trackerOpts = append(trackerOpts, service.WithCheckInRequests(prompter, checkInCooldown))
	} else {
		engineOpts = append(engineOpts,
			engine.WithInteractive(false),
			engine.WithCheckInResolver(service.CheckInResolver(nil)),
		)
	}
	eng := engine.New(rules, mapper, st, &cfg.Schedule, engineOpts...)

	var presence service.PresenceSource
	if cfg.PresenceSource == "mattermost" {
		presence = mm
	}
	tracker := service.NewTracker(eng, st, &cfg.Schedule, presence, trackerOpts...)

	leave := service.NewLeaveService(st, mm, mm, mm, cfg.BotURL, cfg.Schedule.Location)
	leave.SetObserver(tracker)

	sched, err := service.NewScheduler(tracker, cfg.Schedule.Location)
	if err != nil {
		return err
	}
	if err := sched.Schedule(ctx, cfg.SyncInterval, cfg.ReconcileInterval); err != nil {
		return err
	}

	tracker.Start(ctx)
	sched.Start()

	if cfg.PresenceSource == "mattermost" {
		go func() {
			err := mm.PresenceStream().Run(ctx, func(ev mattermost.PresenceEvent) {
				tracker.HandlePresence(ev)
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("Presence stream stopped", logfields.Error(err))
			}
		}()
	}

	mux := http.NewServeMux()
	handler.NewAttendanceHandler(tracker, leave, prompter, mm, cfg.BotURL, cfg.Schedule.Location).RegisterRoutes(mux)
	handler.NewPresenceHandler(tracker, cfg.PresenceToken).RegisterRoutes(mux)
	handler.NewHealthHandler(st, metrics.HTTPHandler(reg)).RegisterRoutes(mux)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler.LoggingMiddleware(mux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("Worktracker started",
			slog.String("port", cfg.Port),
			slog.String("env", cfg.Env),
			slog.String("store", cfg.StoreDriver),
			slog.String("presence", strings.ToLower(cfg.PresenceSource)),
			slog.Int("rules", len(rules)),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			stop()
			slog.Error("Server error", logfields.Error(err))
		}
	}

	slog.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown failed", logfields.Error(err))
	}
	if err := sched.Stop(); err != nil {
		slog.Error("Scheduler shutdown failed", logfields.Error(err))
	}
	stop()
	tracker.Wait()
	return nil
}
