package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"taskplanner/internal/agenda"
	"taskplanner/internal/calendar"
	"taskplanner/internal/config"
	"taskplanner/internal/httpapi"
	"taskplanner/internal/notify"
	"taskplanner/internal/storage"
	logx "taskplanner/pkg/logx"
)

const (
	defaultBusyTimeout   = 1 * time.Second
	defaultReplanTimeout = 1 * time.Minute
	defaultReadTimeout   = 10 * time.Second
	defaultWriteTimeout  = 30 * time.Second
	defaultIdleTimeout   = 60 * time.Second
)

func mapLogConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		JSON:    l.JSON,
		File: logx.FileConfig{
			Enabled: l.File.Enabled,
			Path:    l.File.Path,
		},
	}
}

// mapStorageConfig falls back to the in-memory store when the section is absent.
func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{Driver: "memory"}, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "", "memory":
		return storage.Config{Driver: "memory"}, nil
	case "file":
		if path == "" {
			return storage.Config{}, errors.New("storage.path is required when storage.driver=file")
		}
		return storage.Config{Driver: "file", Path: path}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, errors.New("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, defaultBusyTimeout)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, nil
	default:
		return storage.Config{}, errors.New("unknown storage.driver: " + sc.Driver)
	}
}

func mapCalendarConfig(cfg *config.Config) (calendar.Config, error) {
	loc, err := cfg.Planner.Location()
	if err != nil {
		return calendar.Config{}, err
	}
	ttl, err := config.ParseDurationField("calendar.cache_ttl", cfg.Calendar.CacheTTL)
	if err != nil {
		return calendar.Config{}, err
	}
	c := cfg.Calendar
	return calendar.Config{
		Driver:     strings.TrimSpace(c.Driver),
		Path:       strings.TrimSpace(c.Path),
		MaxResults: c.MaxResults,
		Location:   loc,
		RatePerSec: c.RatePerSec,
		Burst:      c.Burst,
		CacheTTL:   ttl,
	}, nil
}

func mapTriggerConfig(cfg *config.Config) (agenda.TriggerConfig, error) {
	timeout, err := config.ParseDurationOrDefault("replan.timeout", cfg.Replan.Timeout, defaultReplanTimeout)
	if err != nil {
		return agenda.TriggerConfig{}, err
	}
	tc := agenda.TriggerConfig{
		Enabled:  cfg.Replan.Enabled,
		Schedule: cfg.Replan.ScheduleOrDefault(),
		Timeout:  timeout,
		Days:     cfg.Planner.Horizon(),
	}
	if tc.Enabled {
		if _, err := agenda.ParseSchedule(tc.Schedule); err != nil {
			return agenda.TriggerConfig{}, err
		}
	}
	return tc, nil
}

func mapServerConfig(cfg *config.Config) (httpapi.ServerConfig, error) {
	h := cfg.HTTP
	read, err := config.ParseDurationOrDefault("http.read_timeout", h.ReadTimeout, defaultReadTimeout)
	if err != nil {
		return httpapi.ServerConfig{}, err
	}
	write, err := config.ParseDurationOrDefault("http.write_timeout", h.WriteTimeout, defaultWriteTimeout)
	if err != nil {
		return httpapi.ServerConfig{}, err
	}
	idle, err := config.ParseDurationOrDefault("http.idle_timeout", h.IdleTimeout, defaultIdleTimeout)
	if err != nil {
		return httpapi.ServerConfig{}, err
	}
	shutdown, err := config.ParseDurationField("http.shutdown_timeout", h.ShutdownTimeout)
	if err != nil {
		return httpapi.ServerConfig{}, err
	}
	return httpapi.ServerConfig{
		Addr:            strings.TrimSpace(h.Addr),
		ReadTimeout:     read,
		WriteTimeout:    write,
		IdleTimeout:     idle,
		ShutdownTimeout: shutdown,
	}, nil
}

func mapNotifyConfig(cfg *config.Config) (notify.Config, error) {
	loc, err := cfg.Planner.Location()
	if err != nil {
		return notify.Config{}, err
	}
	return notify.Config{RatePerSec: cfg.Telegram.RatePerSec, Location: loc}, nil
}

// mapTelegramConfig reports false when the push is not configured.
func mapTelegramConfig(cfg *config.Config) (notify.TelegramConfig, bool, error) {
	if !cfg.Telegram.Enabled() {
		return notify.TelegramConfig{}, false, nil
	}
	timeout, err := config.ParseDurationField("telegram.timeout", cfg.Telegram.Timeout)
	if err != nil {
		return notify.TelegramConfig{}, false, err
	}
	return notify.TelegramConfig{
		Token:    strings.TrimSpace(cfg.Telegram.Token),
		ChatID:   cfg.Telegram.ChatID,
		ThreadID: cfg.Telegram.ThreadID,
		Timeout:  timeout,
	}, true, nil
}

// validateMapped rejects configs the components would refuse, so a bad
// hot reload never gets committed.
func validateMapped(_ context.Context, cfg *config.Config) error {
	var errs []error
	if _, err := mapStorageConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, err := mapCalendarConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, err := mapTriggerConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, err := mapServerConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, _, err := mapTelegramConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
