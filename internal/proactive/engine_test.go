package proactive

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"serverpal/internal/activity"
	"serverpal/internal/content"
	"serverpal/internal/coordinator"
	"serverpal/internal/notifier"
	logx "serverpal/pkg/logx"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

type fakeNotifier struct {
	mu   sync.Mutex
	msgs []notifier.Message
	fail bool
}

func (f *fakeNotifier) Dispatch(_ context.Context, m notifier.Message) notifier.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return notifier.Result{Attempted: 1, Failed: 1}
	}
	f.msgs = append(f.msgs, m)
	return notifier.Result{Attempted: 1, Delivered: 1}
}

type harness struct {
	clk   *clock
	coord *coordinator.Coordinator
	notif *fakeNotifier
	act   *activity.Log
	roll  float64
	e     *Engine
}

// 2025-06-02 is a Monday.
func at(day, hour, min int) time.Time {
	return time.Date(2025, 6, day, hour, min, 0, 0, time.UTC)
}

func newHarness(t *testing.T, start time.Time, mutate func(*Config)) *harness {
	t.Helper()
	h := &harness{clk: &clock{t: start}, notif: &fakeNotifier{}, roll: 0.99}
	h.coord = coordinator.New(coordinator.Config{Now: h.clk.Now, Location: time.UTC})
	h.act = activity.New(activity.Config{Now: h.clk.Now}, nil, logx.Nop())
	cfg := DefaultConfig()
	cfg.Now = h.clk.Now
	cfg.Location = time.UTC
	cfg.Rand = func() float64 { return h.roll }
	if mutate != nil {
		mutate(&cfg)
	}
	h.e = New(cfg, Deps{Coordinator: h.coord, Notifier: h.notif, Activity: h.act}, logx.Nop())
	return h
}

func (h *harness) busy() {
	h.act.Record(activity.Event{Type: activity.UserActivity, Description: "msg"})
	h.act.Record(activity.Event{Type: activity.UserActivity, Description: "msg"})
}

func TestMorningGreetingOncePerDay(t *testing.T) {
	t.Parallel()

	h := newHarness(t, at(2, 9, 5), nil)
	h.busy()
	out, ok := h.e.Tick(context.Background())
	if !ok || !out.Sent || out.Type != MorningGreeting {
		t.Fatalf("out=%+v ok=%v", out, ok)
	}
	m := h.notif.msgs[0]
	if m.Priority != "PROACTIVE" || !strings.HasPrefix(m.Text, "Good Morning!\n\nToday is June 02 2025, Monday.") {
		t.Fatalf("msg=%+v", m)
	}
	st := h.e.Status()
	if !st.MorningSent || st.MessagesToday != 1 || !st.LastMessage.Equal(at(2, 9, 5)) {
		t.Fatalf("status=%+v", st)
	}
	if got := h.act.CountRecent(activity.AITask, time.Hour); got != 1 {
		t.Fatalf("ai_task events=%d", got)
	}

	// Still inside the window but within min interval.
	h.clk.Set(at(2, 9, 20))
	if _, ok := h.e.Tick(context.Background()); ok {
		t.Fatalf("min interval not enforced")
	}
}

func TestWindowsBoundaries(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		now  time.Time
		want MessageType
		ok   bool
	}{
		{"morning start", at(2, 9, 0), MorningGreeting, true},
		{"morning last minute", at(2, 9, 29), MorningGreeting, true},
		{"morning over", at(2, 9, 30), "", false},
		{"evening", at(2, 21, 10), DailySummary, true},
		{"evening over", at(2, 21, 30), "", false},
		{"weekly sunday", at(8, 20, 14), WeeklySummary, true},
		{"weekly over", at(8, 20, 15), "", false},
		{"weekly wrong day", at(7, 20, 5), "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, tc.now, nil)
			got, ok := h.e.decide(tc.now, false, false)
			if got != tc.want || ok != tc.ok {
				t.Fatalf("decide=%q,%v want %q,%v", got, ok, tc.want, tc.ok)
			}
		})
	}
}

func TestIdleSuggestion(t *testing.T) {
	t.Parallel()

	h := newHarness(t, at(2, 14, 0), nil)
	h.roll = 0.5
	if _, ok := h.e.Tick(context.Background()); ok {
		t.Fatalf("roll above chance must not send")
	}
	h.roll = 0.1
	out, ok := h.e.Tick(context.Background())
	if !ok || out.Type != ServerIdle || !out.Sent || h.notif.msgs[0].Priority != "INFO" {
		t.Fatalf("out=%+v msgs=%+v", out, h.notif.msgs)
	}

	h2 := newHarness(t, at(2, 14, 0), nil)
	h2.roll = 0
	h2.busy()
	if _, ok := h2.e.Tick(context.Background()); ok {
		t.Fatalf("two user messages in the window means not idle")
	}
}

func TestDeniedSendKeepsState(t *testing.T) {
	t.Parallel()

	h := newHarness(t, at(2, 9, 5), nil)
	h.busy()
	h.coord.RecordSent(coordinator.Request{Source: "other", Priority: coordinator.Proactive, MessageType: "x"})
	out, ok := h.e.Tick(context.Background())
	if !ok || out.Sent || !strings.Contains(out.Reason, "cooldown") {
		t.Fatalf("out=%+v", out)
	}
	if st := h.e.Status(); st.MorningSent || st.MessagesToday != 0 || !st.LastMessage.IsZero() {
		t.Fatalf("state changed on denial: %+v", st)
	}
}

func TestFailedDispatchKeepsState(t *testing.T) {
	t.Parallel()

	h := newHarness(t, at(2, 9, 5), nil)
	h.busy()
	h.notif.fail = true
	out, _ := h.e.Tick(context.Background())
	if out.Sent || h.e.Status().MorningSent {
		t.Fatalf("state changed on failed dispatch: %+v", out)
	}
}

func TestDailyLimitAndRollover(t *testing.T) {
	t.Parallel()

	h := newHarness(t, at(2, 9, 5), func(c *Config) { c.DailyLimit = 1 })
	h.busy()
	if out, _ := h.e.Tick(context.Background()); !out.Sent {
		t.Fatalf("first send: %+v", out)
	}
	h.clk.Set(at(2, 21, 5))
	if _, ok := h.e.Tick(context.Background()); ok {
		t.Fatalf("daily limit not enforced")
	}
	h.clk.Set(at(3, 9, 5))
	h.busy()
	out, ok := h.e.Tick(context.Background())
	if !ok || !out.Sent || out.Type != MorningGreeting {
		t.Fatalf("after rollover: %+v", out)
	}
	if st := h.e.Status(); st.MessagesToday != 1 || !st.MorningSent || st.EveningSent {
		t.Fatalf("status=%+v", st)
	}
}

func TestTriggerNow(t *testing.T) {
	t.Parallel()

	h := newHarness(t, at(2, 14, 0), nil)
	if _, err := h.e.TriggerNow(context.Background(), "poem"); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("err=%v", err)
	}
	out, err := h.e.TriggerNow(context.Background(), " Check_In ")
	if err != nil || !out.Sent || out.Type != CheckIn {
		t.Fatalf("out=%+v err=%v", out, err)
	}
	if h.notif.msgs[0].Text != "Hello from your AI assistant!" {
		t.Fatalf("text=%q", h.notif.msgs[0].Text)
	}
	// A second INFO message inside the cooldown is refused by the coordinator.
	h.clk.Set(at(2, 14, 10))
	out, _ = h.e.TriggerNow(context.Background(), "check_in")
	if out.Sent || !strings.Contains(out.Reason, "Duplicate") && !strings.Contains(out.Reason, "cooldown") {
		t.Fatalf("out=%+v", out)
	}
}

func TestSendManual(t *testing.T) {
	t.Parallel()

	h := newHarness(t, at(2, 14, 0), nil)
	if _, err := h.e.SendManual(context.Background(), "  "); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("err=%v", err)
	}
	if _, err := ParseType(string(Manual)); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("manual must not be a decision type: %v", err)
	}

	out, err := h.e.SendManual(context.Background(), " Backup window moved to 02:00 ")
	if err != nil || !out.Sent || out.Type != Manual || out.Delivered != 1 {
		t.Fatalf("out=%+v err=%v", out, err)
	}
	m := h.notif.msgs[0]
	if m.Text != "Backup window moved to 02:00" || m.Priority != "INFO" || m.Kind != "manual" {
		t.Fatalf("msg=%+v", m)
	}
	if st := h.e.Status(); st.MessagesToday != 0 || !st.LastMessage.IsZero() {
		t.Fatalf("manual send changed engine state: %+v", st)
	}
	if st := h.coord.Status(); st.DailyCount != 1 {
		t.Fatalf("coordinator=%+v", st)
	}

	// The coordinator still gates manual text.
	h.clk.Set(at(2, 14, 1))
	out, _ = h.e.SendManual(context.Background(), "Another note")
	if out.Sent || !strings.Contains(out.Reason, "cooldown") {
		t.Fatalf("out=%+v", out)
	}
}

type profileFunc func(ctx context.Context) map[string]string

func (f profileFunc) Profile(ctx context.Context) map[string]string { return f(ctx) }

func TestProfileSourceOverridesConfig(t *testing.T) {
	t.Parallel()

	h := newHarness(t, at(2, 21, 5), func(c *Config) { c.Profile = map[string]string{"work": "static"} })
	h.busy()
	h.e.deps.Profile = profileFunc(func(context.Context) map[string]string {
		return map[string]string{"pet": "a cat named Byte"}
	})
	var prompt string
	h.e.deps.Generator = genFunc(func(_ context.Context, req content.Request) (string, error) {
		prompt = req.Prompt
		return "ok", nil
	})
	if out, _ := h.e.Tick(context.Background()); !out.Sent {
		t.Fatalf("out=%+v", out)
	}
	if !strings.Contains(prompt, "- pet: a cat named Byte") || strings.Contains(prompt, "static") {
		t.Fatalf("prompt=%q", prompt)
	}
}

type genFunc func(ctx context.Context, req content.Request) (string, error)

func (f genFunc) Generate(ctx context.Context, req content.Request) (string, error) {
	return f(ctx, req)
}

func TestGeneratedMessageGetsHeader(t *testing.T) {
	t.Parallel()

	h := newHarness(t, at(2, 21, 5), func(c *Config) { c.Profile = map[string]string{"work": "PhD on ontologies"} })
	h.busy()
	h.e.deps.Generator = genFunc(func(_ context.Context, req content.Request) (string, error) {
		if !strings.Contains(req.Prompt, "- work: PhD on ontologies") || !strings.Contains(req.Prompt, "Today's Summary") {
			t.Errorf("prompt=%q", req.Prompt)
		}
		return "Quiet day on the server.", nil
	})
	out, _ := h.e.Tick(context.Background())
	if !out.Sent || out.Fallback || h.notif.msgs[0].Text != "Daily Summary\n\nQuiet day on the server." {
		t.Fatalf("out=%+v msgs=%+v", out, h.notif.msgs)
	}
	if !h.e.Status().EveningSent {
		t.Fatalf("evening flag not set")
	}
}

func TestDisabled(t *testing.T) {
	t.Parallel()

	h := newHarness(t, at(2, 9, 5), func(c *Config) { c.Enabled = false })
	if _, ok := h.e.Tick(context.Background()); ok {
		t.Fatalf("disabled engine ticked")
	}
	h.e.SetEnabled(true)
	h.busy()
	if _, ok := h.e.Tick(context.Background()); !ok {
		t.Fatalf("enabled engine should decide")
	}
}
