package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port     string
	Env      string
	BotURL   string
	Locale   string
	LogLevel string

	StoreDriver string
	MongoURI    string
	MongoDB     string
	SQLitePath  string

	MattermostURL       string
	MattermostToken     string
	MattermostRateLimit float64
	PresenceSource      string
	PresenceToken       string

	StatusMappingPath string
	TransitionsPath   string

	Interactive       bool
	ConfirmTimeout    time.Duration
	SyncInterval      time.Duration
	ReconcileInterval time.Duration
	DebounceWindow    time.Duration
	BreakWarningLead  time.Duration

	Schedule Schedule
}

// Load reads the configuration from the environment, seeded from a .env file
// in the working directory when one exists. Malformed values are reported
// together.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return fromEnv()
}

func fromEnv() (*Config, error) {
	p := &envParser{}
	cfg := &Config{
		Port:     getEnv("PORT", "3000"),
		Env:      getEnv("ENV", "development"),
		BotURL:   strings.TrimRight(getEnv("BOT_URL", "http://worktracker:3000"), "/"),
		Locale:   getEnv("LOCALE", "en"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		StoreDriver: strings.ToLower(getEnv("STORE_DRIVER", "mongo")),
		MongoURI:    getEnv("MONGODB_URI", "mongodb://localhost:27017"),
		MongoDB:     getEnv("MONGODB_DATABASE", "worktracker"),
		SQLitePath:  getEnv("SQLITE_PATH", "worktracker.db"),

		MattermostURL:       strings.TrimRight(getEnv("MATTERMOST_URL", "http://localhost:8065"), "/"),
		MattermostToken:     getEnv("MATTERMOST_TOKEN", ""),
		MattermostRateLimit: p.float("MATTERMOST_RATE_LIMIT", 10),
		PresenceSource:      strings.ToLower(getEnv("PRESENCE_SOURCE", "mattermost")),
		PresenceToken:       getEnv("PRESENCE_WEBHOOK_TOKEN", ""),

		StatusMappingPath: getEnv("STATUS_MAPPING_PATH", ""),
		TransitionsPath:   getEnv("TRANSITIONS_PATH", ""),

		Interactive:       p.boolean("INTERACTIVE", true),
		ConfirmTimeout:    p.duration("CONFIRM_TIMEOUT", 3*time.Minute),
		SyncInterval:      p.duration("SYNC_INTERVAL", 60*time.Second),
		ReconcileInterval: p.duration("RECONCILE_INTERVAL", 5*time.Minute),
		DebounceWindow:    p.duration("DEBOUNCE_WINDOW", time.Second),
		BreakWarningLead:  p.duration("BREAK_WARNING_LEAD", 2*time.Minute),
	}

	s := DefaultSchedule()
	if tz := getEnv("TIMEZONE", ""); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			p.errs = append(p.errs, fmt.Errorf("TIMEZONE: %w", err))
		} else {
			s.Location = loc
		}
	}
	s.WorkStart = p.clock("WORK_START_TIME", s.WorkStart)
	s.WorkEnd = p.clock("WORK_END_TIME", s.WorkEnd)
	s.LunchStart = p.clock("LUNCH_START_TIME", s.LunchStart)
	s.LunchEnd = p.clock("LUNCH_END_TIME", s.LunchEnd)
	s.WorkPreBuffer = p.duration("WORK_PRE_BUFFER", s.WorkPreBuffer)
	s.WorkPostBuffer = p.duration("WORK_POST_BUFFER", s.WorkPostBuffer)
	s.LunchPreBuffer = p.duration("LUNCH_PRE_BUFFER", s.LunchPreBuffer)
	s.LunchPostBuffer = p.duration("LUNCH_POST_BUFFER", s.LunchPostBuffer)
	s.Caps.Short = p.duration("SHORT_BREAK_CAP", s.Caps.Short)
	s.Caps.Extended = p.duration("EXTENDED_BREAK_CAP", s.Caps.Extended)
	s.Caps.Lunch = p.duration("LUNCH_CAP", s.Caps.Lunch)
	s.IdleBuffer = p.duration("IDLE_BUFFER", s.IdleBuffer)
	s.IdleDelay = p.duration("PRESENCE_IDLE_DELAY", s.IdleDelay)
	s.RegularDay = p.hours("REGULAR_DAILY_HOURS", s.RegularDay)
	s.OfflineDeadline = p.clock("OFFLINE_CHECK_DEADLINE", s.OfflineDeadline)
	if h, err := parseHolidays(getEnv("HOLIDAYS", "")); err != nil {
		p.errs = append(p.errs, fmt.Errorf("HOLIDAYS: %w", err))
	} else {
		s.Holidays = h
	}
	cfg.Schedule = s

	switch cfg.StoreDriver {
	case "mongo", "sqlite":
	default:
		p.errs = append(p.errs, fmt.Errorf("STORE_DRIVER: unsupported driver %q", cfg.StoreDriver))
	}
	if !s.WorkStart.On(time.Now()).Before(s.WorkEnd.On(time.Now())) {
		p.errs = append(p.errs, errors.New("WORK_START_TIME must be before WORK_END_TIME"))
	}
	if !s.LunchStart.On(time.Now()).Before(s.LunchEnd.On(time.Now())) {
		p.errs = append(p.errs, errors.New("LUNCH_START_TIME must be before LUNCH_END_TIME"))
	}
	if s.Caps.Extended < s.Caps.Short {
		p.errs = append(p.errs, errors.New("EXTENDED_BREAK_CAP must not be shorter than SHORT_BREAK_CAP"))
	}

	if err := errors.Join(p.errs...); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envParser collects parse errors so every malformed variable is reported at once.
type envParser struct {
	errs []error
}

func (p *envParser) duration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid duration %q", key, v))
		return fallback
	}
	return d
}

// hours accepts a Go duration or a plain number of hours.
func (p *envParser) hours(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if h, err := strconv.ParseFloat(v, 64); err == nil && h > 0 {
		return time.Duration(h * float64(time.Hour))
	}
	return p.duration(key, fallback)
}

func (p *envParser) clock(key string, fallback Clock) Clock {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	c, err := ParseClock(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return c
}

func (p *envParser) boolean(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid boolean %q", key, v))
		return fallback
	}
	return b
}

func (p *envParser) float(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid number %q", key, v))
		return fallback
	}
	return f
}
