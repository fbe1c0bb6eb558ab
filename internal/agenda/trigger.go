package agenda

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"taskplanner/internal/eventbus"
	logx "taskplanner/pkg/logx"
)

// ErrBusy is returned when a build is already in flight.
var ErrBusy = errors.New("agenda build already running")

const defaultRefreshDelay = 2 * time.Second

// TriggerConfig controls periodic rebuilds.
type TriggerConfig struct {
	Enabled  bool
	Schedule string
	Timeout  time.Duration // 0 means no per-run timeout
	Days     int
}

// Trigger rebuilds the agenda on a cron schedule, keeps the latest result
// and publishes eventbus.TopicAgendaBuilt after each scheduled run.
// Runs never overlap.
type Trigger struct {
	builder *Builder
	bus     eventbus.Bus
	log     logx.Logger

	mu     sync.Mutex
	cfg    TriggerConfig
	tz     string
	c      *cron.Cron
	runCtx context.Context

	refreshDelay time.Duration

	running atomic.Bool
	latest  atomic.Pointer[Agenda]
}

func NewTrigger(b *Builder, bus eventbus.Bus, cfg TriggerConfig, log logx.Logger) *Trigger {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Trigger{builder: b, bus: bus, cfg: cfg, log: log, refreshDelay: defaultRefreshDelay}
}

// Start begins cron triggering. Jobs run with ctx.
func (t *Trigger) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.runCtx != nil {
		return nil
	}
	t.runCtx = ctx
	return t.startLocked()
}

func (t *Trigger) startLocked() error {
	cfg := t.cfg
	loc := t.builder.Location()
	t.tz = loc.String()
	if !cfg.Enabled {
		t.log.Info("replan disabled")
		return nil
	}
	ps, err := ParseSchedule(cfg.Schedule)
	if err != nil {
		return err
	}
	sched, err := ps.Schedule()
	if err != nil {
		return err
	}

	c := cron.New(cron.WithParser(cronParser), cron.WithLocation(loc))
	c.Schedule(sched, cron.FuncJob(t.fire))
	c.Start()
	t.c = c
	t.log.Info("replan scheduled",
		logx.String("schedule", ps.String()),
		logx.String("tz", t.tz),
		logx.Time("next", sched.Next(time.Now().In(loc))))
	return nil
}

// Apply updates the config and restarts cron when the schedule, the
// enabled flag or the builder's zone changed.
func (t *Trigger) Apply(cfg TriggerConfig) error {
	if cfg.Enabled {
		if _, err := ParseSchedule(cfg.Schedule); err != nil {
			return err
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	old := t.cfg
	t.cfg = cfg
	if t.runCtx == nil {
		return nil
	}
	if old.Enabled == cfg.Enabled && old.Schedule == cfg.Schedule && t.tz == t.builder.Location().String() {
		return nil
	}
	if t.c != nil {
		// An in-flight job finishes on its own; runs are serialized by the running flag.
		t.c.Stop()
		t.c = nil
	}
	t.log.Debug("replan restarting", logx.Bool("enabled", cfg.Enabled), logx.String("schedule", cfg.Schedule))
	return t.startLocked()
}

// Stop stops triggering and waits for a running job until ctx is done.
func (t *Trigger) Stop(ctx context.Context) {
	t.mu.Lock()
	c := t.c
	t.c = nil
	t.runCtx = nil
	t.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

// Next returns the next scheduled run, zero when not scheduled.
func (t *Trigger) Next() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.c == nil {
		return time.Time{}
	}
	for _, e := range t.c.Entries() {
		return e.Next
	}
	return time.Time{}
}

// Latest returns the most recent agenda, nil before the first run.
func (t *Trigger) Latest() *Agenda { return t.latest.Load() }

func (t *Trigger) config() (TriggerConfig, context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cfg, t.runCtx
}

func (t *Trigger) fire() {
	_, ctx := t.config()
	if ctx == nil {
		return
	}
	if _, err := t.RunNow(ctx); err != nil {
		if errors.Is(err, ErrBusy) {
			t.log.Debug("replan skipped; previous run still active")
			return
		}
		t.log.Warn("replan failed", logx.Err(err))
	}
}

// RunNow builds and publishes an agenda immediately.
func (t *Trigger) RunNow(ctx context.Context) (*Agenda, error) {
	return t.run(ctx, true)
}

func (t *Trigger) run(ctx context.Context, publish bool) (*Agenda, error) {
	if !t.running.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer t.running.Store(false)

	cfg, _ := t.config()
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}
	a, err := t.builder.Build(ctx, cfg.Days)
	if err != nil {
		return nil, err
	}
	t.latest.Store(a)
	if publish && t.bus != nil {
		t.bus.Publish(eventbus.Event{Type: eventbus.TopicAgendaBuilt, Data: a})
	}
	t.log.Info("agenda refreshed",
		logx.Int("assigned", len(a.Result.Assignments)),
		logx.Int("unscheduled", len(a.Result.Unscheduled)),
		logx.Bool("published", publish))
	return a, nil
}

// WatchTasks refreshes Latest (without publishing) shortly after task
// changes until ctx is done. Bursts of changes collapse into one run.
func (t *Trigger) WatchTasks(ctx context.Context) error {
	if t.bus == nil {
		<-ctx.Done()
		return nil
	}
	ch, unsub := t.bus.Subscribe(16, eventbus.TopicTasksChanged)
	defer unsub()

	var pending <-chan time.Time
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-ch:
			if !ok {
				return nil
			}
			if timer == nil {
				timer = time.NewTimer(t.refreshDelay)
			} else {
				timer.Reset(t.refreshDelay)
			}
			pending = timer.C
		case <-pending:
			pending = nil
			if _, err := t.run(ctx, false); err != nil && !errors.Is(err, ErrBusy) {
				t.log.Warn("agenda refresh after task change failed", logx.Err(err))
			}
		}
	}
}
