package calendar

import (
	"context"
	"errors"
	"time"
)

// Event is a busy calendar entry. Start and End are kept as the provider
// returned them: either a date-time ("2024-05-01T09:00:00Z") or, for all-day
// events, a bare date ("2024-05-01"). Normalization to instants happens in
// the free-slot deriver.
type Event struct {
	ID      string `json:"id"`
	Summary string `json:"summary"`
	Start   string `json:"start"`
	End     string `json:"end"`
	AllDay  bool   `json:"all_day,omitempty"`
}

// Provider returns busy events overlapping [from, to).
type Provider interface {
	Events(ctx context.Context, from, to time.Time) ([]Event, error)
}

// DefaultMaxResults caps the number of events returned per call.
const DefaultMaxResults = 50

var ErrUnknownDriver = errors.New("unknown calendar driver")

// Config configures the calendar provider.
//
// Driver values:
//   - "none" (or empty): no calendar; every call returns an empty list
//   - "file": YAML or JSON file with calendar-API shaped events
type Config struct {
	Driver     string
	Path       string
	MaxResults int
	Location   *time.Location // interpretation of date-only / naive values when filtering

	RatePerSec float64       // 0 disables throttling
	Burst      int           // default 1
	CacheTTL   time.Duration // 0 disables caching
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, from, to time.Time) ([]Event, error)

func (f ProviderFunc) Events(ctx context.Context, from, to time.Time) ([]Event, error) {
	return f(ctx, from, to)
}
