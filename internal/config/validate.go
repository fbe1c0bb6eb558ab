package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	logx "taskplanner/pkg/logx"
)

const (
	DefaultHorizonDays    = 7
	MaxHorizonDays        = 366
	DefaultReplanSchedule = "30m"
)

// Validate performs static checks. Checks that need other packages
// (schedule grammar) run through ConfigManager.SetValidator.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if !logx.ValidLevel(cfg.Logging.Level) {
		add(fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level))
	}

	add(durations(
		"http.read_timeout", cfg.HTTP.ReadTimeout,
		"http.write_timeout", cfg.HTTP.WriteTimeout,
		"http.idle_timeout", cfg.HTTP.IdleTimeout,
		"http.shutdown_timeout", cfg.HTTP.ShutdownTimeout,
		"calendar.cache_ttl", cfg.Calendar.CacheTTL,
		"replan.timeout", cfg.Replan.Timeout,
		"telegram.timeout", cfg.Telegram.Timeout,
	))

	if s := cfg.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "memory":
		case "file", "sqlite", "sqlite3":
			if strings.TrimSpace(s.Path) == "" {
				add(fmt.Errorf("storage.path is required for driver %q", s.Driver))
			}
		default:
			add(fmt.Errorf("storage.driver: unknown driver %q", s.Driver))
		}
		add(durations("storage.busy_timeout", s.BusyTimeout))
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Calendar.Driver)) {
	case "", "none":
	case "file":
		if strings.TrimSpace(cfg.Calendar.Path) == "" {
			add(errors.New("calendar.path is required for driver \"file\""))
		}
	default:
		add(fmt.Errorf("calendar.driver: unknown driver %q", cfg.Calendar.Driver))
	}
	if cfg.Calendar.MaxResults < 0 {
		add(errors.New("calendar.max_results must be >= 0"))
	}
	if cfg.Calendar.RatePerSec < 0 || cfg.Calendar.Burst < 0 {
		add(errors.New("calendar.rate_per_sec and calendar.burst must be >= 0"))
	}

	if cfg.Planner.HorizonDays < 0 || cfg.Planner.HorizonDays > MaxHorizonDays {
		add(fmt.Errorf("planner.horizon_days must be within 0..%d", MaxHorizonDays))
	}
	if _, err := cfg.Planner.Location(); err != nil {
		add(err)
	}

	if cfg.Telegram.ChatID != 0 && strings.TrimSpace(cfg.Telegram.Token) == "" {
		add(errors.New("telegram.token is required when telegram.chat_id is set"))
	}
	if cfg.Telegram.RatePerSec < 0 {
		add(errors.New("telegram.rate_per_sec must be >= 0"))
	}

	return errors.Join(errs...)
}

// durations validates (path, raw) pairs.
func durations(pairs ...string) error {
	var errs []error
	for i := 0; i+1 < len(pairs); i += 2 {
		if _, err := ParseDurationField(pairs[i], pairs[i+1]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Location resolves Timezone. Empty means the process local zone.
func (p PlannerConfig) Location() (*time.Location, error) {
	tz := strings.TrimSpace(p.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("planner.timezone: %w", err)
	}
	return loc, nil
}

func (p PlannerConfig) Horizon() int {
	if p.HorizonDays <= 0 {
		return DefaultHorizonDays
	}
	return p.HorizonDays
}

func (r ReplanConfig) ScheduleOrDefault() string {
	if s := strings.TrimSpace(r.Schedule); s != "" {
		return s
	}
	return DefaultReplanSchedule
}

// ParseDurationField parses an optional, non-negative Go duration.
// Empty means zero; key names the field in errors.
func ParseDurationField(key, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: must not be negative, got %s", key, raw)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def for empty or zero values.
func ParseDurationOrDefault(key, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(key, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}
