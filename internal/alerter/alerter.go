// Package alerter turns probe readings into alerts. Each monitored condition
// is an issue with hysteresis; an episode is announced once and its recovery
// once, both through the coordinator.
package alerter

import (
	"context"
	"sync"
	"time"

	"serverpal/internal/content"
	"serverpal/internal/coordinator"
	"serverpal/internal/eventbus"
	"serverpal/internal/issue"
	"serverpal/internal/metrics"
	"serverpal/internal/notifier"
	"serverpal/internal/probe"
	logx "serverpal/pkg/logx"
)

const source = "alerter"

// Check is one threshold check configuration.
type Check struct {
	Enabled   bool
	Threshold issue.Threshold
}

type Config struct {
	Enabled         bool
	Interval        time.Duration
	GenerateTimeout time.Duration
	GPU             Check
	Disk            Check
	Memory          Check
	Services        []string
	Now             func() time.Time
}

func DefaultConfig() Config {
	return Config{
		Enabled:         true,
		Interval:        60 * time.Second,
		GenerateTimeout: 30 * time.Second,
		GPU:             Check{Enabled: true, Threshold: issue.Threshold{Breach: 80, Critical: 90, Margin: 10}},
		Disk:            Check{Enabled: true, Threshold: issue.Threshold{Breach: 90, Critical: 95, Margin: 5}},
		Memory:          Check{Enabled: true, Threshold: issue.Threshold{Breach: 90, Critical: 95, Margin: 5}},
	}
}

// Admitter is the coordinator surface the alerter needs.
type Admitter interface {
	Reserve(req coordinator.Request) (*coordinator.Reservation, coordinator.Decision)
}

// Dispatcher sends one message to every recipient.
type Dispatcher interface {
	Dispatch(ctx context.Context, m notifier.Message) notifier.Result
}

type Deps struct {
	Coordinator Admitter
	Probe       probe.Source
	Notifier    Dispatcher
	// Generator is nil for template-only alerts.
	Generator content.Generator
	Bus       eventbus.Bus
}

// AlertEvent is published on alert.fired and alert.recovered.
type AlertEvent struct {
	Key       string  `json:"key"`
	Kind      string  `json:"kind"`
	Subject   string  `json:"subject"`
	Value     float64 `json:"value"`
	Severity  string  `json:"severity"`
	Delivered bool    `json:"delivered"`
}

// check binds an issue key to its messages.
type check struct {
	key       string
	subject   string
	fired     string
	recovered string
	threshold issue.Threshold
	read      func(ctx context.Context) issue.Reading
}

type Alerter struct {
	cfg     Config
	deps    Deps
	log     logx.Logger
	tracker *issue.Tracker
	checks  []check

	mu       sync.Mutex
	enabled  bool
	lastTick time.Time
}

func New(cfg Config, deps Deps, log logx.Logger) *Alerter {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Alerter{
		cfg:     cfg,
		deps:    deps,
		log:     log.With(logx.String("comp", "alerter")),
		tracker: issue.NewTracker(cfg.Now),
		enabled: cfg.Enabled,
	}
	a.checks = a.buildChecks()
	return a
}

func (a *Alerter) buildChecks() []check {
	p := a.deps.Probe
	var out []check
	if a.cfg.GPU.Enabled {
		out = append(out, check{key: "gpu_temp", subject: "system", fired: content.KindGPUHot, recovered: content.KindGPUCool,
			threshold: a.cfg.GPU.Threshold, read: p.GPUTemperature})
	}
	if a.cfg.Disk.Enabled {
		out = append(out, check{key: "disk", subject: "system", fired: content.KindDiskFull, recovered: content.KindDiskOK,
			threshold: a.cfg.Disk.Threshold, read: p.DiskPercent})
	}
	if a.cfg.Memory.Enabled {
		out = append(out, check{key: "memory", subject: "system", fired: content.KindMemoryHigh, recovered: content.KindMemoryOK,
			threshold: a.cfg.Memory.Threshold, read: p.MemoryPercent})
	}
	for _, name := range a.cfg.Services {
		out = append(out, check{
			key:       "service:" + name,
			subject:   name,
			fired:     content.KindServiceDown,
			recovered: content.KindServiceUp,
			// Down is 1, up is 0; every down episode is critical.
			threshold: issue.Threshold{Breach: 1, Critical: 1},
			read:      func(ctx context.Context) issue.Reading { return p.ServiceDown(ctx, name) },
		})
	}
	return out
}

func (a *Alerter) SetEnabled(on bool) {
	a.mu.Lock()
	a.enabled = on
	a.mu.Unlock()
	a.log.Info("alerting toggled", logx.Bool("enabled", on))
}

func (a *Alerter) Enabled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.enabled
}

// Run ticks immediately and then every Interval until ctx is done.
func (a *Alerter) Run(ctx context.Context) error {
	a.log.Info("alerter started", logx.Duration("interval", a.cfg.Interval), logx.Int("checks", len(a.checks)))
	t := time.NewTicker(a.cfg.Interval)
	defer t.Stop()
	for {
		a.Tick(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

// Tick evaluates every check once.
func (a *Alerter) Tick(ctx context.Context) {
	if !a.Enabled() {
		return
	}
	a.mu.Lock()
	a.lastTick = a.cfg.Now()
	a.mu.Unlock()

	for _, c := range a.checks {
		if ctx.Err() != nil {
			return
		}
		a.evaluate(ctx, c)
	}
	metrics.ActiveIssues.Set(float64(len(a.tracker.Active())))
}

func (a *Alerter) evaluate(ctx context.Context, c check) {
	r := c.read(ctx)
	tr := a.tracker.Evaluate(c.key, r, c.threshold)
	is, _ := a.tracker.Get(c.key)

	switch tr {
	case issue.Fired:
		metrics.AlertTransitions.WithLabelValues(c.key, tr.String()).Inc()
		a.log.Info("issue fired", logx.String("key", c.key), logx.Float64("value", r.Value), logx.String("severity", is.Severity.String()))
	case issue.Recovered:
		metrics.AlertTransitions.WithLabelValues(c.key, tr.String()).Inc()
		a.recover(ctx, c, is)
		return
	}

	// Fired now, or still pending from an earlier denied attempt.
	if is.Active && !is.Notified {
		prio := coordinator.Alert
		if is.Severity == issue.SeverityCritical {
			prio = coordinator.Critical
		}
		delivered := a.send(ctx, c.fired, c.subject, is.LastValue, prio)
		if delivered {
			a.tracker.MarkNotified(c.key)
		}
		if tr == issue.Fired {
			eventbus.Publish(a.deps.Bus, eventbus.AlertFired, AlertEvent{
				Key: c.key, Kind: c.fired, Subject: c.subject, Value: is.LastValue,
				Severity: is.Severity.String(), Delivered: delivered,
			})
		}
	}
}

// recover announces the end of an episode that was announced, then resets
// the issue whether or not the recovery was delivered.
func (a *Alerter) recover(ctx context.Context, c check, is issue.Issue) {
	defer a.tracker.Reset(c.key)
	a.log.Info("issue recovered", logx.String("key", c.key), logx.Float64("value", is.LastValue), logx.Bool("notified", is.Notified))

	delivered := false
	if is.Notified {
		prio := coordinator.Info
		if is.Severity == issue.SeverityCritical {
			prio = coordinator.Alert
		}
		delivered = a.send(ctx, c.recovered, c.subject, is.LastValue, prio)
	}
	eventbus.Publish(a.deps.Bus, eventbus.AlertRecovered, AlertEvent{
		Key: c.key, Kind: c.recovered, Subject: c.subject, Value: is.LastValue,
		Severity: is.Severity.String(), Delivered: delivered,
	})
}

// send reserves, generates and dispatches one message. The reservation is
// committed when at least one recipient send was attempted.
func (a *Alerter) send(ctx context.Context, kind, subject string, value float64, prio coordinator.Priority) bool {
	req := coordinator.Request{
		Source:      source,
		Priority:    prio,
		MessageType: kind,
		DedupKey:    kind + "_" + subject,
	}
	res, d := a.deps.Coordinator.Reserve(req)
	metrics.RecordDecision(source, prio.String(), d.Allowed, d.Rule.String())
	if !d.Allowed {
		a.log.Debug("alert blocked by coordinator", logx.String("kind", kind), logx.String("subject", subject), logx.String("reason", d.Reason))
		eventbus.Publish(a.deps.Bus, eventbus.CoordinatorDenied, map[string]string{
			"source": source, "kind": kind, "reason": d.Reason,
		})
		return false
	}

	fallback := content.AlertFallback(kind, subject, value)
	var text string
	if a.deps.Generator == nil {
		text = fallback
	} else {
		snap := a.deps.Probe.Snapshot(ctx).String()
		out := content.Generate(ctx, a.deps.Generator, content.Request{
			Kind:   kind,
			System: content.AlertSystemPrompt,
			Prompt: content.AlertPrompt(kind, subject, value, snap),
		}, a.cfg.GenerateTimeout, fallback, a.log)
		text = content.FormatAlert(kind, out.Text)
	}

	result := a.deps.Notifier.Dispatch(ctx, notifier.Message{
		Source:   source,
		Priority: prio.String(),
		Kind:     kind,
		Text:     text,
	})
	if result.Attempted > 0 {
		if err := res.Commit(); err != nil {
			a.log.Warn("send recorded late", logx.String("kind", kind), logx.Err(err))
		}
	} else {
		res.Release()
	}
	a.log.Debug("alert dispatched", logx.String("kind", kind), logx.Int("delivered", result.Delivered), logx.Int("failed", result.Failed))
	return result.Delivered > 0
}

type Status struct {
	Enabled  bool          `json:"enabled"`
	LastTick time.Time     `json:"last_tick"`
	Checks   int           `json:"checks"`
	Active   []issue.Issue `json:"active"`
	Pending  []issue.Issue `json:"pending"`
}

func (a *Alerter) Status() Status {
	a.mu.Lock()
	st := Status{Enabled: a.enabled, LastTick: a.lastTick, Checks: len(a.checks)}
	a.mu.Unlock()
	st.Active = a.tracker.Active()
	st.Pending = a.tracker.Pending()
	return st
}
