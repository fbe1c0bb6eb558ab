package calendar

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// WithRateLimit bounds how often the wrapped provider is called.
// Callers block (respecting ctx) until a token is available.
func WithRateLimit(p Provider, perSec float64, burst int) Provider {
	if burst <= 0 {
		burst = 1
	}
	lim := rate.NewLimiter(rate.Limit(perSec), burst)
	return ProviderFunc(func(ctx context.Context, from, to time.Time) ([]Event, error) {
		if err := lim.Wait(ctx); err != nil {
			return nil, err
		}
		return p.Events(ctx, from, to)
	})
}

// WithCache memoizes results per horizon for ttl.
// Horizons are keyed at minute granularity so repeated "next N days" requests
// within the same minute share one upstream call.
func WithCache(p Provider, ttl time.Duration) Provider {
	return &cachedProvider{next: p, ttl: ttl, now: time.Now, entries: map[cacheKey]cacheEntry{}}
}

type cacheKey struct{ from, to int64 }

type cacheEntry struct {
	events  []Event
	expires time.Time
}

// maxCacheEntries bounds memory when callers use many distinct horizons.
const maxCacheEntries = 64

type cachedProvider struct {
	next Provider
	ttl  time.Duration
	now  func() time.Time

	mu      sync.Mutex
	entries map[cacheKey]cacheEntry
}

func (c *cachedProvider) Events(ctx context.Context, from, to time.Time) ([]Event, error) {
	key := cacheKey{from: from.Truncate(time.Minute).Unix(), to: to.Truncate(time.Minute).Unix()}
	now := c.now()

	c.mu.Lock()
	if e, ok := c.entries[key]; ok && now.Before(e.expires) {
		c.mu.Unlock()
		return append([]Event(nil), e.events...), nil
	}
	c.mu.Unlock()

	events, err := c.next.Events(ctx, from, to)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	for k, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, k)
		}
	}
	if len(c.entries) < maxCacheEntries {
		c.entries[key] = cacheEntry{events: append([]Event(nil), events...), expires: now.Add(c.ttl)}
	}
	c.mu.Unlock()
	return events, nil
}
