package app

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"serverpal/internal/activity"
	"serverpal/internal/alerter"
	"serverpal/internal/config"
	"serverpal/internal/content"
	"serverpal/internal/coordinator"
	"serverpal/internal/eventbus"
	"serverpal/internal/health"
	"serverpal/internal/notifier"
	"serverpal/internal/proactive"
	"serverpal/internal/probe"
	rtsup "serverpal/internal/runtime/supervisor"
	"serverpal/internal/storage"
	"serverpal/internal/task/scheduler"
	kit "serverpal/internal/transport"
	telegram "serverpal/internal/transport/telegram/adapter"
	"serverpal/internal/transport/telegram/router"
	"serverpal/internal/watchdog"
	logx "serverpal/pkg/logx"
	"serverpal/pkg/systemd"
	"serverpal/pkg/systemdmanager"
)

const (
	unitStateTTL     = 5 * time.Second
	unitStateTimeout = 5 * time.Second
)

type App struct {
	cfgm *config.ConfigManager
	set  settings
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	units io.Closer

	adapter  *telegram.Adapter
	coord    *coordinator.Coordinator
	activity *activity.Log
	chain    *content.Chain
	notif    *notifier.Service
	probe    *probe.Probe
	alerts   *alerter.Alerter
	engine   *proactive.Engine
	sched    *scheduler.Scheduler
	router   *router.Router
	health   *health.Server
	watchdog *watchdog.Watchdog

	updates chan kit.Update
}

// NewApp loads the config and constructs every component. Nothing runs
// until Start.
func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	set, err := resolveSettings(cfg)
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: set.pollTimeout,
	}, bootLog)
	if err != nil {
		return nil, err
	}

	// The Telegram sink warns when enabled without a target, so the target
	// is set before the final Apply.
	bootCfg := set.logging
	bootCfg.Telegram.Enabled = false
	logSvc, log := logx.New(bootCfg, ad)
	logSvc.SetTelegramTarget(set.logTarget.ChatID, set.logTarget.ThreadID)
	logSvc.Apply(set.logging)
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	log = log.With(logx.String("comp", "app"))

	a := &App{
		cfgm:    cfgm,
		set:     set,
		log:     log,
		logs:    logSvc,
		bus:     eventbus.New(),
		adapter: ad,
		updates: make(chan kit.Update, 256),
	}

	store, err := storage.Open(set.storage, log)
	if err != nil {
		return nil, err
	}
	if store != nil {
		a.store = store
		log.Info("storage enabled", logx.String("driver", set.storage.Driver))
	}

	a.activity = activity.New(set.activity, a.store, log)
	a.coord = coordinator.New(set.coordinator)
	a.chain = content.NewChainFromConfig(log, set.providers)
	a.notif = notifier.New(set.notifier, ad, log.With(logx.String("comp", "notifier")), a.bus)
	a.probe = probe.New(
		probe.NewHost(diskPath(cfg)),
		probe.NewGPU(),
		probe.NewServices(a.unitReader(), unitStateTimeout),
		set.alerter.Services,
		log,
	)

	var gen content.Generator
	if a.chain.Len() > 0 {
		gen = a.chain
		log.Info("content providers", logx.Strings("providers", a.chain.Names()))
	}
	alertDeps := alerter.Deps{Coordinator: a.coord, Probe: a.probe, Notifier: a.notif, Bus: a.bus}
	if set.useLLM {
		alertDeps.Generator = gen
	}
	a.alerts = alerter.New(set.alerter, alertDeps, log)
	a.engine = proactive.New(set.proactive, proactive.Deps{
		Coordinator: a.coord,
		Notifier:    a.notif,
		Generator:   gen,
		Activity:    a.activity,
		Probe:       a.probe,
		Bus:         a.bus,
	}, log)

	a.sched = scheduler.New(set.scheduler, log, a.bus)
	rep := &reports{
		coord:    a.coord,
		notif:    a.notif,
		probe:    a.probe,
		activity: a.activity,
		log:      log.With(logx.String("comp", "reports")),
		loc:      set.loc,
	}
	funcs := rep.funcs()
	for _, t := range set.tasks {
		fn, ok := funcs[t.Name]
		if !ok {
			return nil, fmt.Errorf("no implementation for task %q", t.Name)
		}
		if err := a.sched.Add(t.Name, t.Schedule, t.Enabled, fn); err != nil {
			return nil, err
		}
	}

	rdeps := router.Deps{
		Sender:      ad,
		Alerts:      a.alerts,
		Proactive:   a.engine,
		Tasks:       a.sched,
		Coordinator: a.coord,
		Probe:       a.probe,
		Activity:    a.activity,
	}
	if a.store != nil {
		rdeps.Audit = a.store
	}
	a.router = router.New(router.Config{Owners: cfg.Telegram.OwnerUserIDs}, rdeps, log)

	if set.healthEnabled {
		a.health = health.New(set.health, log)
	}
	a.watchdog = watchdog.New(watchdog.Config{
		Enabled: set.watchdog,
		Healthy: a.healthy,
	}, log)

	return a, nil
}

// unitReader prefers D-Bus and falls back to systemctl.
func (a *App) unitReader() probe.StateReader {
	ctx, cancel := context.WithTimeout(context.Background(), unitStateTimeout)
	defer cancel()
	m, err := systemdmanager.New(ctx, unitStateTTL)
	if err != nil {
		a.log.Info("systemd d-bus unavailable; using systemctl", logx.Err(err))
		return systemd.NewCLI()
	}
	a.units = m
	return m
}

func (a *App) healthy() bool {
	return a.sup != nil && a.sup.Err() == nil
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

func (a *App) registerHealth() {
	if a.health == nil {
		return
	}
	a.health.Register("coordinator", func() any { return a.coord.Status() })
	a.health.Register("alerter", func() any { return a.alerts.Status() })
	a.health.Register("proactive", func() any { return a.engine.Status() })
	a.health.Register("scheduler", func() any { return a.sched.Status() })
	a.health.Register("notifier", func() any { return a.notif.Snapshot() })
	a.health.Register("content", func() any { return a.chain.Names() })
	a.health.Register("supervisor", func() any { return a.sup.Snapshot() })
	a.health.Register("eventbus", func() any { return a.bus.Stats() })
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		_, err := resolveSettings(cfg)
		return err
	})

	if err := a.activity.Warm(a.sup.Context()); err != nil {
		a.log.Warn("activity warm-up failed", logx.Err(err))
	}

	loop := []rtsup.RestartOption{rtsup.WithRestartBackoff(time.Second, 30*time.Second)}
	if a.store != nil {
		a.sup.GoRestart("activity.flush", a.activity.Run, loop...)
	}
	a.sup.GoRestart("alerter", a.alerts.Run, loop...)
	a.sup.GoRestart("proactive", a.engine.Run, loop...)
	a.sup.GoRestart("scheduler", a.sched.Run, loop...)

	if a.bus != nil {
		events, unsub := a.bus.Subscribe(128)
		a.sup.Go0("eventbus.consume", func(c context.Context) {
			defer unsub()
			a.consumeEvents(c, events)
		})
	}

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	a.sup.Go("router", func(c context.Context) error { return a.router.Run(c, a.updates) })
	a.sup.Go0("router.menu", func(c context.Context) {
		mctx, cancel := context.WithTimeout(c, 10*time.Second)
		defer cancel()
		if err := a.router.RegisterMenu(mctx); err != nil {
			a.log.Warn("menu registration failed", logx.Err(err))
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	if a.health != nil {
		a.registerHealth()
		a.sup.Go("health", a.health.Run)
	}
	a.sup.Go("watchdog", a.watchdog.Run)

	if a.health != nil {
		a.health.SetReady(true)
	}
	a.watchdog.Ready()
	a.log.Info("app started",
		logx.Int("owners", len(a.set.notifier.Recipients)),
		logx.Int("tasks", len(a.set.tasks)),
		logx.Bool("storage", a.store != nil),
	)
	return nil
}

// reloadLoop applies logging changes live and reports every other changed
// section as needing a restart.
func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
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

			sections, attrs := config.SummarizeConfigChange(lastApplied, newCfg)
			lastApplied = newCfg
			if len(sections) == 0 {
				a.log.Info("config reloaded (no changes)")
				continue
			}
			target := groupLogTarget(newCfg)
			a.logs.SetTelegramTarget(target.ChatID, target.ThreadID)
			a.logs.Apply(loggingConfig(newCfg))

			eventbus.Publish(a.bus, eventbus.ConfigChanged, sections)
			fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
			a.log.Info("config reloaded", fields...)
			if restart := config.RestartRequired(sections); len(restart) > 0 {
				a.log.Warn("config changes need a restart to take effect", logx.Strings("sections", restart))
			}
		}
	}
}

func (a *App) Stop(ctx context.Context, reason string) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", reason))
	if a.health != nil {
		a.health.SetReady(false)
	}
	a.watchdog.Stopping()

	// Cancel first so every loop starts unwinding immediately.
	a.sup.Cancel()

	a.step(ctx, "adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	a.step(ctx, "supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	a.step(ctx, "activity", 2*time.Second, func(c context.Context) error { return a.activity.Flush(c) })
	a.step(ctx, "storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	a.step(ctx, "systemd", time.Second, func(context.Context) error {
		if a.units != nil {
			return a.units.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}

// step runs one shutdown step bounded by max and the caller's deadline, so
// one component cannot stall the whole stop.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < max {
			max = rem
		}
	}
	if max <= 0 {
		a.log.Warn("stop step skipped (deadline reached)", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

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
			logx.Duration("elapsed", time.Since(start)),
		)
	}
}
