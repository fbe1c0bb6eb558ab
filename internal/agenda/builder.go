package agenda

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"taskplanner/internal/calendar"
	"taskplanner/internal/freeslot"
	"taskplanner/internal/planner"
	"taskplanner/internal/storage"
	logx "taskplanner/pkg/logx"
)

// MaxDays bounds the planning horizon.
const MaxDays = 366

var ErrInvalidHorizon = errors.New("invalid planning horizon")

// Agenda is the result of one planning pass.
type Agenda struct {
	GeneratedAt time.Time
	From        time.Time
	To          time.Time
	Free        []planner.FreeInterval
	Result      planner.Result
}

// Entry is the flat form of an assignment served to clients.
type Entry struct {
	TaskID string    `json:"task_id"`
	Title  string    `json:"title"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
}

// Entries lists assignments in processing order.
func (a *Agenda) Entries() []Entry {
	if a == nil {
		return []Entry{}
	}
	out := make([]Entry, 0, len(a.Result.Assignments))
	for _, as := range a.Result.Assignments {
		out = append(out, Entry{TaskID: as.Task.ID, Title: as.Task.Title, Start: as.Start, End: as.End})
	}
	return out
}

// Builder composes the store, the calendar and the planner.
type Builder struct {
	store storage.Store
	now   func() time.Time

	mu  sync.RWMutex
	cal calendar.Provider
	loc *time.Location

	log logx.Logger
}

func NewBuilder(store storage.Store, cal calendar.Provider, loc *time.Location, log logx.Logger) *Builder {
	if loc == nil {
		loc = time.Local
	}
	return &Builder{store: store, cal: cal, loc: loc, now: time.Now, log: log}
}

// SetCalendar swaps the provider (config reload).
func (b *Builder) SetCalendar(p calendar.Provider) {
	b.mu.Lock()
	b.cal = p
	b.mu.Unlock()
}

// SetLocation changes the zone used for the horizon and naive event times.
func (b *Builder) SetLocation(loc *time.Location) {
	if loc == nil {
		return
	}
	b.mu.Lock()
	b.loc = loc
	b.mu.Unlock()
}

func (b *Builder) Location() *time.Location {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.loc
}

func (b *Builder) snapshot() (calendar.Provider, *time.Location) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cal, b.loc
}

// Horizon returns [now, now+days) in the builder's zone.
func (b *Builder) Horizon(days int) (time.Time, time.Time, error) {
	if days <= 0 || days > MaxDays {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: days must be within 1..%d, got %d", ErrInvalidHorizon, MaxDays, days)
	}
	from := b.now().In(b.Location())
	return from, from.AddDate(0, 0, days), nil
}

// Events returns the busy events inside the horizon.
func (b *Builder) Events(ctx context.Context, days int) ([]calendar.Event, error) {
	from, to, err := b.Horizon(days)
	if err != nil {
		return nil, err
	}
	cal, _ := b.snapshot()
	events, err := cal.Events(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("fetch calendar events: %w", err)
	}
	return events, nil
}

// Build runs one planning pass over the next days.
// Planner input errors are returned unwrapped.
func (b *Builder) Build(ctx context.Context, days int) (*Agenda, error) {
	started := time.Now()
	from, to, err := b.Horizon(days)
	if err != nil {
		return nil, err
	}
	cal, loc := b.snapshot()

	events, err := cal.Events(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("fetch calendar events: %w", err)
	}
	free := freeslot.Derive(events, from, to, loc)

	tasks, err := storage.PendingPlannerTasks(ctx, b.store)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}

	res, err := planner.Plan(tasks, free)
	if err != nil {
		return nil, err
	}

	b.log.Debug("agenda built",
		logx.Int("days", days),
		logx.Int("events", len(events)),
		logx.Int("free_intervals", len(free)),
		logx.Int("tasks", len(tasks)),
		logx.Int("assigned", len(res.Assignments)),
		logx.Int("unscheduled", len(res.Unscheduled)),
		logx.Duration("capacity", planner.Capacity(free)),
		logx.Duration("demand", res.Demand()),
		logx.Duration("took", time.Since(started)),
	)
	return &Agenda{GeneratedAt: from, From: from, To: to, Free: free, Result: res}, nil
}
