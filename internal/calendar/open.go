package calendar

import (
	"context"
	"fmt"
	"strings"
	"time"

	logx "taskplanner/pkg/logx"
)

// Open builds the configured provider, wrapped with throttling and caching
// when those are enabled.
func Open(cfg Config, log logx.Logger) (Provider, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = DefaultMaxResults
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}

	var p Provider
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "none":
		p = ProviderFunc(func(ctx context.Context, from, to time.Time) ([]Event, error) {
			return []Event{}, nil
		})
	case "file":
		fp, err := newFileProvider(cfg, log)
		if err != nil {
			return nil, err
		}
		p = fp
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownDriver, driver)
	}

	if cfg.RatePerSec > 0 {
		p = WithRateLimit(p, cfg.RatePerSec, cfg.Burst)
	}
	if cfg.CacheTTL > 0 {
		p = WithCache(p, cfg.CacheTTL)
	}
	log.Debug("calendar provider ready",
		logx.String("driver", driver),
		logx.Float64("rate_per_sec", cfg.RatePerSec),
		logx.Duration("cache_ttl", cfg.CacheTTL))
	return p, nil
}
