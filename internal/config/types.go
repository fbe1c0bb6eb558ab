package config

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	HTTP     HTTPConfig     `json:"http"`
	Storage  *StorageConfig `json:"storage,omitempty"`
	Calendar CalendarConfig `json:"calendar"`
	Planner  PlannerConfig  `json:"planner"`
	Replan   ReplanConfig   `json:"replan"`
	Telegram TelegramConfig `json:"telegram"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	JSON    bool        `json:"json,omitempty"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// HTTPConfig controls the REST API listener. An empty Addr disables it.
type HTTPConfig struct {
	Addr            string `json:"addr"`
	ReadTimeout     string `json:"read_timeout,omitempty"`
	WriteTimeout    string `json:"write_timeout,omitempty"`
	IdleTimeout     string `json:"idle_timeout,omitempty"`
	ShutdownTimeout string `json:"shutdown_timeout,omitempty"`
}

// StorageConfig controls task persistence.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/tasks.db" }
//
// Nil means the in-memory driver.
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
}

// CalendarConfig selects the source of busy events.
type CalendarConfig struct {
	Driver     string  `json:"driver"` // "none" | "file"
	Path       string  `json:"path,omitempty"`
	MaxResults int     `json:"max_results,omitempty"` // default 50
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
	Burst      int     `json:"burst,omitempty"`
	CacheTTL   string  `json:"cache_ttl,omitempty"`
}

type PlannerConfig struct {
	// HorizonDays is the default planning window when a request doesn't pass one.
	HorizonDays int `json:"horizon_days,omitempty"` // default 7
	// Timezone is an IANA name used for date-only and naive event times.
	Timezone string `json:"timezone,omitempty"`
}

// ReplanConfig controls the periodic agenda rebuild.
//
// Schedule accepts cron ("0 7 * * *", "@hourly", "@every 30m"),
// a Go duration ("30m") or HH:MM interval ("01:30").
type ReplanConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule,omitempty"`
	Timeout  string `json:"timeout,omitempty"`
}

// TelegramConfig controls agenda push. Token is never logged.
type TelegramConfig struct {
	Token      string  `json:"token"`
	ChatID     int64   `json:"chat_id"`
	ThreadID   int     `json:"thread_id,omitempty"`
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
	Timeout    string  `json:"timeout,omitempty"`
}

// Enabled reports whether agenda push can run at all.
func (t TelegramConfig) Enabled() bool { return t.Token != "" && t.ChatID != 0 }
