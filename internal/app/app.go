package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"taskplanner/internal/agenda"
	"taskplanner/internal/calendar"
	"taskplanner/internal/config"
	"taskplanner/internal/eventbus"
	"taskplanner/internal/httpapi"
	"taskplanner/internal/notify"
	rtsup "taskplanner/internal/runtime/supervisor"
	"taskplanner/internal/storage"
	logx "taskplanner/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	builder *agenda.Builder
	trigger *agenda.Trigger
	notif   *notify.Notifier
	http    *httpapi.Server

	// last applied telegram settings; the sender is rebuilt only when they change
	tg        notify.TelegramConfig
	tgEnabled bool
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfgm.SetValidator(validateMapped)
	cfg, err := cfgm.Load(context.Background())
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	log.Info("storage ready", logx.String("driver", sc.Driver))

	// Everything below owns store on failure.
	fail := func(err error) (*App, error) {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}

	cc, err := mapCalendarConfig(cfg)
	if err != nil {
		return fail(err)
	}
	cal, err := calendar.Open(cc, log.With(logx.String("comp", "calendar")))
	if err != nil {
		return fail(err)
	}

	builder := agenda.NewBuilder(store, cal, cc.Location, log.With(logx.String("comp", "agenda")))

	tc, err := mapTriggerConfig(cfg)
	if err != nil {
		return fail(err)
	}
	trigger := agenda.NewTrigger(builder, bus, tc, log.With(logx.String("comp", "replan")))

	nc, err := mapNotifyConfig(cfg)
	if err != nil {
		return fail(err)
	}
	tg, tgEnabled, err := mapTelegramConfig(cfg)
	if err != nil {
		return fail(err)
	}
	var sender notify.Sender
	if tgEnabled {
		s, err := notify.NewTelegramSender(tg)
		if err != nil {
			return fail(err)
		}
		sender = s
	}
	notif := notify.New(nc, sender, bus, log.With(logx.String("comp", "notify")))

	srvCfg, err := mapServerConfig(cfg)
	if err != nil {
		return fail(err)
	}

	a := &App{
		cfgm:      cfgm,
		log:       log,
		logs:      logSvc,
		bus:       bus,
		store:     store,
		builder:   builder,
		trigger:   trigger,
		notif:     notif,
		tg:        tg,
		tgEnabled: tgEnabled,
	}
	router := httpapi.NewRouter(httpapi.Deps{
		Store:      store,
		Builder:    builder,
		Latest:     trigger,
		Bus:        bus,
		Days:       func() int { return cfgm.Get().Planner.Horizon() },
		Goroutines: a.snapshot,
		Log:        log.With(logx.String("comp", "http")),
	})
	a.http = httpapi.NewServer(srvCfg, router, log.With(logx.String("comp", "http")))
	return a, nil
}

// snapshot reports the app supervisor's goroutines; empty before Start.
func (a *App) snapshot() rtsup.Snapshot {
	if a.sup == nil {
		return rtsup.Snapshot{}
	}
	return a.sup.Snapshot()
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	runCtx := a.sup.Context()

	if err := a.trigger.Start(runCtx); err != nil {
		return err
	}
	a.http.Start(runCtx)

	a.sup.GoRestart("notify.run", a.notif.Run)
	a.sup.GoRestart("agenda.watch_tasks", a.trigger.WatchTasks)

	// First agenda right away instead of waiting a full replan interval.
	if a.cfgm.Get().Replan.Enabled {
		a.sup.Go0("agenda.initial", func(c context.Context) {
			ag, err := a.trigger.RunNow(c)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					a.log.Warn("initial agenda build failed", logx.Err(err))
				}
				return
			}
			a.log.Info("initial agenda built",
				logx.Int("assigned", len(ag.Result.Assignments)),
				logx.Int("unscheduled", len(ag.Result.Unscheduled)))
		})
	}

	// Keep this debug-level to avoid noise on frequent replans.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
	a.sup.Go0("systemd.watchdog", a.watchdog)

	a.sdNotify(daemon.SdNotifyReady)
	a.log.Info("app started", logx.String("config", a.cfgm.Path()))
	return nil
}

// applyConfig pushes a committed config into the running components.
// Sections that fail to map keep their previous settings.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	changed := func(name string) bool {
		for _, s := range sections {
			if s == name {
				return true
			}
		}
		return false
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	a.sdNotify(daemon.SdNotifyReloading)
	defer a.sdNotify(daemon.SdNotifyReady)

	if changed("logging") {
		a.logs.Apply(mapLogConfig(newCfg))
	}

	if changed("storage") {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}

	if changed("planner") || changed("calendar") {
		if cc, err := mapCalendarConfig(newCfg); err != nil {
			a.log.Warn("invalid calendar config; keeping previous", logx.Err(err))
		} else if cal, err := calendar.Open(cc, a.log.With(logx.String("comp", "calendar"))); err != nil {
			a.log.Warn("calendar reopen failed; keeping previous", logx.Err(err))
		} else {
			// Zone first: the trigger compares it when deciding to restart cron.
			a.builder.SetLocation(cc.Location)
			a.builder.SetCalendar(cal)
		}
	}

	if changed("planner") || changed("replan") {
		if tc, err := mapTriggerConfig(newCfg); err != nil {
			a.log.Warn("invalid replan config; keeping previous", logx.Err(err))
		} else if err := a.trigger.Apply(tc); err != nil {
			a.log.Warn("replan apply failed", logx.Err(err))
		}
	}

	if changed("http") {
		if sc, err := mapServerConfig(newCfg); err != nil {
			a.log.Warn("invalid http config; keeping previous", logx.Err(err))
		} else {
			a.http.Reconfigure(ctx, sc)
		}
	}

	if changed("planner") || changed("telegram") {
		a.applyTelegram(newCfg)
	}

	a.log.Info("config reloaded", fields...)
}

func (a *App) applyTelegram(cfg *config.Config) {
	nc, err := mapNotifyConfig(cfg)
	if err != nil {
		a.log.Warn("invalid notify config; keeping previous", logx.Err(err))
		return
	}
	a.notif.Apply(nc)

	tg, enabled, err := mapTelegramConfig(cfg)
	if err != nil {
		a.log.Warn("invalid telegram config; keeping previous", logx.Err(err))
		return
	}
	if enabled == a.tgEnabled && tg == a.tg {
		return
	}
	a.tg, a.tgEnabled = tg, enabled
	if !enabled {
		a.notif.SetSender(nil)
		a.log.Info("telegram push disabled via config")
		return
	}
	s, err := notify.NewTelegramSender(tg)
	if err != nil {
		a.log.Warn("telegram sender rebuild failed; push disabled", logx.Err(err))
		a.notif.SetSender(nil)
		return
	}
	a.notif.SetSender(s)
	a.log.Info("telegram push enabled via config", logx.Int64("chat_id", tg.ChatID))
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sdNotify(daemon.SdNotifyStopping)

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	// Each step has an upper bound so one component can't stall the whole stop.
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", limit))

		stepCtx := ctx
		// respect the caller's deadline; never extend it
		if dl, ok := ctx.Deadline(); ok {
			limit = min(limit, time.Until(dl))
		}
		if limit > 0 {
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, limit)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("replan", 2*time.Second, func(c context.Context) error { a.trigger.Stop(c); return nil })
	step("http", 6*time.Second, func(c context.Context) error { a.http.Stop(c); return nil })
	// Supervised goroutines (notify, config watch/reload, task watcher) before the store closes.
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", 1*time.Second, func(c context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
