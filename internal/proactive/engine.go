// Package proactive decides when to send unsolicited messages: a morning
// greeting, an evening summary, a weekly summary and occasional suggestions
// when the server sits idle. Every send still passes the coordinator.
package proactive

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"

	"serverpal/internal/activity"
	"serverpal/internal/content"
	"serverpal/internal/coordinator"
	"serverpal/internal/eventbus"
	"serverpal/internal/metrics"
	"serverpal/internal/notifier"
	"serverpal/internal/probe"
	logx "serverpal/pkg/logx"
)

const (
	source           = "proactive"
	morningWindow    = 30 * time.Minute
	eveningWindow    = 30 * time.Minute
	weeklyWindow     = 15 * time.Minute
	activityWindow   = 6 * time.Hour
	activityInPrompt = 15
)

type Config struct {
	Enabled         bool
	Tick            time.Duration
	Morning         Clock
	Evening         Clock
	WeeklyDay       time.Weekday
	WeeklyTime      Clock
	MinInterval     time.Duration
	DailyLimit      int
	IdleWindow      time.Duration
	IdleMinEvents   int
	IdleChance      float64
	Profile         map[string]string
	GenerateTimeout time.Duration

	Now      func() time.Time
	Rand     func() float64
	Location *time.Location
}

func DefaultConfig() Config {
	return Config{
		Enabled:         true,
		Tick:            15 * time.Minute,
		Morning:         Clock{Hour: 9},
		Evening:         Clock{Hour: 21},
		WeeklyDay:       time.Sunday,
		WeeklyTime:      Clock{Hour: 20},
		MinInterval:     120 * time.Minute,
		DailyLimit:      5,
		IdleWindow:      3 * time.Hour,
		IdleMinEvents:   2,
		IdleChance:      0.3,
		GenerateTimeout: 60 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Tick <= 0 {
		c.Tick = def.Tick
	}
	if c.MinInterval <= 0 {
		c.MinInterval = def.MinInterval
	}
	if c.DailyLimit <= 0 {
		c.DailyLimit = def.DailyLimit
	}
	if c.IdleWindow <= 0 {
		c.IdleWindow = def.IdleWindow
	}
	if c.IdleMinEvents <= 0 {
		c.IdleMinEvents = def.IdleMinEvents
	}
	if c.GenerateTimeout <= 0 {
		c.GenerateTimeout = def.GenerateTimeout
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Rand == nil {
		c.Rand = rand.Float64
	}
	if c.Location == nil {
		c.Location = time.Local
	}
	return c
}

type Admitter interface {
	Reserve(req coordinator.Request) (*coordinator.Reservation, coordinator.Decision)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, m notifier.Message) notifier.Result
}

// Activity is the part of the activity log the engine reads and writes.
type Activity interface {
	CountRecent(typ activity.EventType, window time.Duration) int
	ContextForLLM(window time.Duration, maxEvents int) string
	DailySummary(day time.Time) activity.Summary
	Record(e activity.Event) activity.Event
}

type Snapshotter interface {
	Snapshot(ctx context.Context) probe.Snapshot
}

// ProfileSource supplies the facts about the user that prompts include.
type ProfileSource interface {
	Profile(ctx context.Context) map[string]string
}

// StaticProfile is a fixed fact set, usually the proactive.profile config.
type StaticProfile map[string]string

func (p StaticProfile) Profile(context.Context) map[string]string { return p }

type Deps struct {
	Coordinator Admitter
	Notifier    Dispatcher
	Generator   content.Generator // nil: templates only
	Activity    Activity          // nil: never idle, no context
	Probe       Snapshotter       // nil: no metrics in prompts
	Profile     ProfileSource     // nil: Config.Profile
	Bus         eventbus.Bus
}

// Outcome reports one send attempt.
type Outcome struct {
	Type      MessageType `json:"type"`
	Sent      bool        `json:"sent"`
	Reason    string      `json:"reason,omitempty"`
	Delivered int         `json:"delivered"`
	Fallback  bool        `json:"fallback"`
}

type Engine struct {
	cfg  Config
	deps Deps
	log  logx.Logger

	mu            sync.Mutex
	enabled       bool
	running       bool
	lastDate      string
	messagesToday int
	morningSent   bool
	eveningSent   bool
	lastMessage   time.Time
}

func New(cfg Config, deps Deps, log logx.Logger) *Engine {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{cfg: cfg, deps: deps, log: log.With(logx.String("comp", "proactive")), enabled: cfg.Enabled}
}

func (e *Engine) now() time.Time { return e.cfg.Now().In(e.cfg.Location) }

func (e *Engine) SetEnabled(on bool) {
	e.mu.Lock()
	e.enabled = on
	e.mu.Unlock()
	e.log.Info("proactive toggled", logx.Bool("enabled", on))
}

// Run ticks immediately and then every Tick until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	e.running = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	e.log.Info("proactive engine started", logx.Duration("tick", e.cfg.Tick))
	t := time.NewTicker(e.cfg.Tick)
	defer t.Stop()
	for {
		e.Tick(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

// Tick runs one decision step and sends at most one message.
func (e *Engine) Tick(ctx context.Context) (Outcome, bool) {
	now := e.now()
	e.mu.Lock()
	if !e.enabled {
		e.mu.Unlock()
		return Outcome{}, false
	}
	e.rolloverLocked(now)
	if e.messagesToday >= e.cfg.DailyLimit {
		e.mu.Unlock()
		return Outcome{}, false
	}
	if !e.lastMessage.IsZero() && now.Sub(e.lastMessage) < e.cfg.MinInterval {
		e.mu.Unlock()
		return Outcome{}, false
	}
	morningSent, eveningSent := e.morningSent, e.eveningSent
	e.mu.Unlock()

	typ, ok := e.decide(now, morningSent, eveningSent)
	if !ok {
		return Outcome{}, false
	}
	return e.send(ctx, typ), true
}

func (e *Engine) rolloverLocked(now time.Time) {
	if d := now.Format("2006-01-02"); d != e.lastDate {
		e.lastDate = d
		e.messagesToday = 0
		e.morningSent = false
		e.eveningSent = false
	}
}

func inWindow(now time.Time, at Clock, window time.Duration) bool {
	y, m, d := now.Date()
	start := time.Date(y, m, d, at.Hour, at.Minute, 0, 0, now.Location())
	return !now.Before(start) && now.Before(start.Add(window))
}

func (e *Engine) decide(now time.Time, morningSent, eveningSent bool) (MessageType, bool) {
	if !morningSent && inWindow(now, e.cfg.Morning, morningWindow) {
		return MorningGreeting, true
	}
	if !eveningSent && inWindow(now, e.cfg.Evening, eveningWindow) {
		return DailySummary, true
	}
	if e.idle() && e.cfg.Rand() < e.cfg.IdleChance {
		return ServerIdle, true
	}
	if now.Weekday() == e.cfg.WeeklyDay && inWindow(now, e.cfg.WeeklyTime, weeklyWindow) {
		return WeeklySummary, true
	}
	return "", false
}

// idle: fewer than IdleMinEvents user messages within IdleWindow.
func (e *Engine) idle() bool {
	if e.deps.Activity == nil {
		return false
	}
	return e.deps.Activity.CountRecent(activity.UserActivity, e.cfg.IdleWindow) < e.cfg.IdleMinEvents
}

// TriggerNow sends typ immediately, ignoring the engine's own windows and
// limits. The coordinator still decides.
func (e *Engine) TriggerNow(ctx context.Context, typ string) (Outcome, error) {
	t, err := ParseType(typ)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: %q", err, typ)
	}
	return e.send(ctx, t), nil
}

func (e *Engine) send(ctx context.Context, t MessageType) Outcome {
	out := Outcome{Type: t}
	prio := t.Priority()
	req := coordinator.Request{Source: source, Priority: prio, MessageType: string(t), DedupKey: t.dedupKey()}
	res, d := e.deps.Coordinator.Reserve(req)
	metrics.RecordDecision(source, prio.String(), d.Allowed, d.Rule.String())
	if !d.Allowed {
		out.Reason = d.Reason
		e.log.Debug("proactive message blocked by coordinator", logx.String("type", string(t)), logx.String("reason", d.Reason))
		eventbus.Publish(e.deps.Bus, eventbus.CoordinatorDenied, map[string]string{
			"source": source, "kind": string(t), "reason": d.Reason,
		})
		return out
	}

	now := e.now()
	fallback := content.ProactiveFallback(string(t), now)
	text := fallback
	out.Fallback = true
	if e.deps.Generator != nil {
		gen := content.Generate(ctx, e.deps.Generator, content.Request{
			Kind:   string(t),
			System: content.ProactiveSystemPrompt,
			Prompt: content.ProactivePrompt(string(t), e.promptContext(ctx, now)),
		}, e.cfg.GenerateTimeout, fallback, e.log)
		out.Fallback = gen.Fallback
		if !gen.Fallback {
			text = content.FormatProactive(string(t), gen.Text)
		}
	}

	result := e.deliver(ctx, res, t, text)
	out.Delivered = result.Delivered
	if !result.OK() {
		out.Reason = "not delivered"
		e.log.Warn("proactive message not delivered", logx.String("type", string(t)), logx.Int("failed", result.Failed))
		return out
	}

	e.mu.Lock()
	e.rolloverLocked(now)
	e.lastMessage = now
	e.messagesToday++
	switch t {
	case MorningGreeting:
		e.morningSent = true
	case DailySummary:
		e.eveningSent = true
	}
	e.mu.Unlock()

	out.Sent = true
	metrics.ProactiveSent.WithLabelValues(string(t)).Inc()
	if e.deps.Activity != nil {
		e.deps.Activity.Record(activity.Event{
			Type:        activity.AITask,
			Subtype:     "proactive_message",
			Description: fmt.Sprintf("Sent %s message", t),
			Importance:  activity.Info,
			Source:      source,
		})
	}
	eventbus.Publish(e.deps.Bus, eventbus.ProactiveSent, out)
	e.log.Info("sent proactive message", logx.String("type", string(t)), logx.Bool("fallback", out.Fallback))
	return out
}

// SendManual delivers owner-written text through the coordinator at INFO
// priority. The engine's windows and counters are left alone.
func (e *Engine) SendManual(ctx context.Context, text string) (Outcome, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Outcome{}, ErrEmptyMessage
	}
	out := Outcome{Type: Manual}
	h := fnv.New32a()
	h.Write([]byte(text))
	req := coordinator.Request{
		Source:      source,
		Priority:    Manual.Priority(),
		MessageType: string(Manual),
		DedupKey:    fmt.Sprintf("%s_%08x", Manual.dedupKey(), h.Sum32()),
	}
	res, d := e.deps.Coordinator.Reserve(req)
	metrics.RecordDecision(source, req.Priority.String(), d.Allowed, d.Rule.String())
	if !d.Allowed {
		out.Reason = d.Reason
		return out, nil
	}

	result := e.deliver(ctx, res, Manual, text)
	out.Delivered = result.Delivered
	if !result.OK() {
		out.Reason = "not delivered"
		return out, nil
	}
	out.Sent = true
	if e.deps.Activity != nil {
		e.deps.Activity.Record(activity.Event{
			Type:        activity.AITask,
			Subtype:     "manual_message",
			Description: "Sent manual message",
			Importance:  activity.Info,
			Source:      source,
		})
	}
	eventbus.Publish(e.deps.Bus, eventbus.ProactiveSent, out)
	return out, nil
}

// deliver dispatches text and settles the reservation: committed when any
// send was attempted, released otherwise.
func (e *Engine) deliver(ctx context.Context, res *coordinator.Reservation, t MessageType, text string) notifier.Result {
	result := e.deps.Notifier.Dispatch(ctx, notifier.Message{
		Source:   source,
		Priority: t.Priority().String(),
		Kind:     string(t),
		Text:     text,
	})
	if result.Attempted == 0 {
		res.Release()
		return result
	}
	if err := res.Commit(); err != nil {
		e.log.Warn("send recorded late", logx.String("type", string(t)), logx.Err(err))
	}
	return result
}

func (e *Engine) promptContext(ctx context.Context, now time.Time) content.PromptContext {
	var src ProfileSource = StaticProfile(e.cfg.Profile)
	if e.deps.Profile != nil {
		src = e.deps.Profile
	}
	pc := content.PromptContext{Now: now, Profile: profileText(src.Profile(ctx))}
	if e.deps.Activity != nil {
		pc.Activity = e.deps.Activity.ContextForLLM(activityWindow, activityInPrompt)
		pc.Summary = e.deps.Activity.DailySummary(now).String()
	}
	if e.deps.Probe != nil {
		pc.Metrics = e.deps.Probe.Snapshot(ctx).String()
	}
	return pc
}

func profileText(p map[string]string) string {
	if len(p) == 0 {
		return ""
	}
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString("About the user:")
	for _, k := range keys {
		fmt.Fprintf(&b, "\n- %s: %s", k, p[k])
	}
	return b.String()
}

type Status struct {
	Enabled       bool      `json:"enabled"`
	Running       bool      `json:"running"`
	MessagesToday int       `json:"messages_today"`
	DailyLimit    int       `json:"daily_limit"`
	LastMessage   time.Time `json:"last_message,omitempty"`
	MorningSent   bool      `json:"morning_sent"`
	EveningSent   bool      `json:"evening_sent"`
}

func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rolloverLocked(e.now())
	return Status{
		Enabled:       e.enabled,
		Running:       e.running,
		MessagesToday: e.messagesToday,
		DailyLimit:    e.cfg.DailyLimit,
		LastMessage:   e.lastMessage,
		MorningSent:   e.morningSent,
		EveningSent:   e.eveningSent,
	}
}
