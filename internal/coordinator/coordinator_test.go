package coordinator

import (
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock(t time.Time) *fakeClock { return &fakeClock{t: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

// noon on a Wednesday, outside default quiet hours.
func noon() time.Time { return time.Date(2025, 3, 12, 12, 0, 0, 0, time.UTC) }

func newTestCoordinator(clk *fakeClock, mut func(*Config)) *Coordinator {
	cfg := DefaultConfig()
	cfg.Now = clk.Now
	cfg.Location = time.UTC
	if mut != nil {
		mut(&cfg)
	}
	return New(cfg)
}

// fastConfig removes the cooldowns so only cap/quiet/dedup rules matter.
func fastConfig(cfg *Config) {
	cfg.GlobalMinInterval = time.Nanosecond
	for i := range cfg.Intervals {
		cfg.Intervals[i] = time.Nanosecond
	}
}

func send(t *testing.T, c *Coordinator, req Request) Decision {
	t.Helper()
	r, d := c.Reserve(req)
	if d.Allowed {
		if err := r.Commit(); err != nil {
			t.Fatalf("commit %+v: %v", req, err)
		}
	}
	return d
}

func TestDailyCountResetsOnDateChange(t *testing.T) {
	t.Parallel()

	clk := newClock(noon())
	c := newTestCoordinator(clk, func(cfg *Config) {
		fastConfig(cfg)
		cfg.MaxPerDay = 100
	})
	const n = 10
	for i := 0; i < n; i++ {
		req := Request{Source: "test", Priority: Info, MessageType: "m", DedupKey: "k" + string(rune('a'+i))}
		if d := c.CanSend(req); !d.Allowed {
			t.Fatalf("send %d denied: %s", i, d.Reason)
		}
		c.RecordSent(req)
		clk.Advance(time.Minute)
	}
	if got := c.Status().DailyCount; got != n {
		t.Fatalf("daily count=%d want %d", got, n)
	}

	clk.Set(time.Date(2025, 3, 13, 0, 0, 1, 0, time.UTC))
	st := c.Status()
	if st.DailyCount != 0 {
		t.Fatalf("daily count after rollover=%d", st.DailyCount)
	}
	if st.HistorySize != n {
		t.Fatalf("history should survive the date reset, size=%d", st.HistorySize)
	}
}

func TestEndToEndDailyLimit(t *testing.T) {
	t.Parallel()

	clk := newClock(noon())
	c := newTestCoordinator(clk, func(cfg *Config) {
		cfg.MaxPerDay = 2
		fastConfig(cfg)
	})

	for i, key := range []string{"a", "b"} {
		if d := send(t, c, Request{Source: "s", Priority: Info, MessageType: "t", DedupKey: key}); !d.Allowed {
			t.Fatalf("send %d denied: %s", i, d.Reason)
		}
		clk.Advance(time.Minute)
	}
	d := c.CanSend(Request{Source: "s", Priority: Info, MessageType: "t", DedupKey: "c"})
	if d.Allowed || d.Reason != "Daily limit reached (2)" || d.Rule != RuleDailyLimit {
		t.Fatalf("third INFO: %+v", d)
	}
	if d := c.CanSend(Request{Source: "s", Priority: Critical, MessageType: "down"}); !d.Allowed {
		t.Fatalf("CRITICAL should bypass the daily cap: %+v", d)
	}
}

func TestQuietHoursBoundaries(t *testing.T) {
	t.Parallel()

	cases := []struct {
		hour  int
		quiet bool
	}{
		{2, true},
		{10, false},
		{23, true},
		{8, false},
		{7, true},
		{22, false},
	}
	for _, tc := range cases {
		if got := inQuietHours(tc.hour, 23, 8); got != tc.quiet {
			t.Fatalf("hour %d: quiet=%v want %v", tc.hour, got, tc.quiet)
		}
	}
	if !inQuietHours(3, 1, 6) || inQuietHours(6, 1, 6) {
		t.Fatalf("non-wrapping window wrong")
	}
	if inQuietHours(5, 5, 5) {
		t.Fatalf("equal start and end disables quiet hours")
	}
}

func TestQuietHoursOnlyCritical(t *testing.T) {
	t.Parallel()

	clk := newClock(time.Date(2025, 3, 12, 23, 30, 0, 0, time.UTC))
	c := newTestCoordinator(clk, nil)

	d := c.CanSend(Request{Source: "proactive", Priority: Proactive, MessageType: "insight"})
	if d.Allowed || d.Rule != RuleQuietHours || d.Reason != "Quiet hours - only critical alerts allowed" {
		t.Fatalf("proactive during quiet hours: %+v", d)
	}
	if d := c.CanSend(Request{Source: "alerter", Priority: Critical, MessageType: "gpu_hot"}); !d.Allowed {
		t.Fatalf("critical during quiet hours: %+v", d)
	}
	if !c.Status().QuietHours || c.Status().QuietWindow != "23:00-08:00" {
		t.Fatalf("status=%+v", c.Status())
	}
}

func TestCriticalStillHitsGlobalCooldown(t *testing.T) {
	t.Parallel()

	clk := newClock(noon())
	c := newTestCoordinator(clk, nil)
	send(t, c, Request{Source: "scheduler", Priority: Info, MessageType: "report"})
	clk.Advance(30 * time.Second)

	d := c.CanSend(Request{Source: "alerter", Priority: Critical, MessageType: "service_down"})
	if d.Allowed || d.Rule != RuleGlobalCooldown {
		t.Fatalf("decision=%+v", d)
	}
	if d.Reason != "Global cooldown (1.5 min left)" {
		t.Fatalf("reason=%q", d.Reason)
	}
}

func TestPriorityCooldown(t *testing.T) {
	t.Parallel()

	clk := newClock(noon())
	c := newTestCoordinator(clk, nil)
	send(t, c, Request{Source: "alerter", Priority: Alert, MessageType: "disk_full", DedupKey: "disk_full_system"})
	clk.Advance(10 * time.Minute)

	d := c.CanSend(Request{Source: "alerter", Priority: Alert, MessageType: "memory_high"})
	if d.Allowed || d.Rule != RulePriorityCooldown || d.Reason != "Priority cooldown (20.0 min left)" {
		t.Fatalf("same priority: %+v", d)
	}
	if d := c.CanSend(Request{Source: "scheduler", Priority: Info, MessageType: "report"}); !d.Allowed {
		t.Fatalf("other priority should pass: %+v", d)
	}
}

func TestDuplicateWithinWindow(t *testing.T) {
	t.Parallel()

	for _, p := range []Priority{Alert, Proactive, Info} {
		clk := newClock(noon())
		c := newTestCoordinator(clk, fastConfig)
		req := Request{Source: "alerter", Priority: p, MessageType: "gpu_hot"}
		send(t, c, req)

		clk.Advance(29 * time.Minute)
		d := c.CanSend(req)
		if d.Allowed || !strings.Contains(d.Reason, "Duplicate") || d.Reason != "Duplicate message blocked (key: alerter_gpu_hot)" {
			t.Fatalf("%v within window: %+v", p, d)
		}

		clk.Advance(time.Minute)
		if d := c.CanSend(req); !d.Allowed {
			t.Fatalf("%v after window: %+v", p, d)
		}
	}
}

func TestCriticalBypassesDedup(t *testing.T) {
	t.Parallel()

	clk := newClock(noon())
	c := newTestCoordinator(clk, fastConfig)
	req := Request{Source: "alerter", Priority: Critical, MessageType: "service_down", DedupKey: "service_down_ollama"}
	send(t, c, req)
	clk.Advance(time.Minute)
	if d := c.CanSend(req); !d.Allowed {
		t.Fatalf("critical same key: %+v", d)
	}
}

func TestReservationCountsTowardRules(t *testing.T) {
	t.Parallel()

	clk := newClock(noon())
	c := newTestCoordinator(clk, func(cfg *Config) {
		fastConfig(cfg)
		cfg.MaxPerDay = 1
	})
	r, d := c.Reserve(Request{Source: "a", Priority: Info, MessageType: "x"})
	if !d.Allowed {
		t.Fatalf("first reserve: %+v", d)
	}
	if _, d := c.Reserve(Request{Source: "b", Priority: Info, MessageType: "y"}); d.Allowed || d.Rule != RuleDailyLimit {
		t.Fatalf("pending reservation must count toward the cap: %+v", d)
	}
	if st := c.Status(); st.Pending != 1 || st.DailyCount != 0 {
		t.Fatalf("status=%+v", st)
	}

	r.Release()
	r.Release()
	if err := r.Commit(); !errors.Is(err, ErrReservationDone) {
		t.Fatalf("commit after release: %v", err)
	}
	if _, d := c.Reserve(Request{Source: "b", Priority: Info, MessageType: "y"}); !d.Allowed {
		t.Fatalf("released slot should be free: %+v", d)
	}
}

func TestReservationExpires(t *testing.T) {
	t.Parallel()

	clk := newClock(noon())
	c := newTestCoordinator(clk, func(cfg *Config) {
		fastConfig(cfg)
		cfg.ReservationTTL = time.Minute
	})
	r, _ := c.Reserve(Request{Source: "a", Priority: Info, MessageType: "x"})
	clk.Advance(2 * time.Minute)
	if st := c.Status(); st.Pending != 0 {
		t.Fatalf("expired reservation still pending")
	}
	if err := r.Commit(); !errors.Is(err, ErrReservationExpired) {
		t.Fatalf("late commit: %v", err)
	}
	if st := c.Status(); st.DailyCount != 1 {
		t.Fatalf("late commit must still count: %+v", st)
	}
	if err := r.Commit(); !errors.Is(err, ErrReservationDone) {
		t.Fatalf("second commit: %v", err)
	}
	if st := c.Status(); st.DailyCount != 1 {
		t.Fatalf("second commit counted: %+v", st)
	}
}

func TestLateCommitStillBlocksDuplicate(t *testing.T) {
	t.Parallel()

	clk := newClock(noon())
	c := newTestCoordinator(clk, fastConfig)
	req := Request{Source: "alerter", Priority: Alert, MessageType: "disk_full", DedupKey: "disk_full_system"}
	r, d := c.Reserve(req)
	if !d.Allowed {
		t.Fatalf("reserve: %+v", d)
	}

	// A slow send outlives the hold while another producer polls.
	clk.Advance(11 * time.Minute)
	if d := c.CanSend(Request{Source: "proactive", Priority: Proactive, MessageType: "check_in"}); !d.Allowed {
		t.Fatalf("expired hold should not block others: %+v", d)
	}
	if err := r.Commit(); !errors.Is(err, ErrReservationExpired) {
		t.Fatalf("commit: %v", err)
	}
	if st := c.Status(); st.DailyCount != 1 || len(st.Recent) != 1 {
		t.Fatalf("status=%+v", st)
	}

	clk.Advance(20 * time.Minute)
	if d := c.CanSend(req); d.Allowed || d.Rule != RuleDuplicate {
		t.Fatalf("same key after a late commit: %+v", d)
	}
}

func TestConcurrentReserveAdmitsOne(t *testing.T) {
	t.Parallel()

	clk := newClock(noon())
	c := newTestCoordinator(clk, nil)

	const producers = 32
	var admitted atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			r, d := c.Reserve(Request{Source: "alerter", Priority: Alert, MessageType: "disk_full", DedupKey: "disk_full_system"})
			if d.Allowed {
				admitted.Add(1)
				r.Commit()
			}
		}()
	}
	close(start)
	wg.Wait()
	if admitted.Load() != 1 {
		t.Fatalf("admitted=%d want 1", admitted.Load())
	}
	if c.Status().DailyCount != 1 {
		t.Fatalf("daily count=%d", c.Status().DailyCount)
	}
}

func TestHistoryEvictionAndCapacity(t *testing.T) {
	t.Parallel()

	clk := newClock(noon())
	c := newTestCoordinator(clk, func(cfg *Config) {
		fastConfig(cfg)
		cfg.MaxPerDay = 1000
		cfg.HistoryCapacity = 4
	})
	for i := 0; i < 6; i++ {
		c.RecordSent(Request{Source: "s", Priority: Info, MessageType: "m"})
		clk.Advance(time.Minute)
	}
	if st := c.Status(); st.HistorySize != 4 || st.DailyCount != 6 {
		t.Fatalf("status=%+v", st)
	}
	clk.Advance(25 * time.Hour)
	if st := c.Status(); st.HistorySize != 0 {
		t.Fatalf("24h eviction failed, size=%d", st.HistorySize)
	}
}

func TestStatusRecentAndLastHour(t *testing.T) {
	t.Parallel()

	clk := newClock(noon())
	c := newTestCoordinator(clk, func(cfg *Config) {
		fastConfig(cfg)
		cfg.MaxPerDay = 1000
	})
	for i := 0; i < 7; i++ {
		c.RecordSent(Request{Source: "s", Priority: Info, MessageType: "m", DedupKey: string(rune('a' + i))})
		clk.Advance(15 * time.Minute)
	}
	st := c.Status()
	if len(st.Recent) != 5 {
		t.Fatalf("recent=%d", len(st.Recent))
	}
	if st.Recent[0].DedupKey != "g" || st.Recent[0].MinutesAgo != 15 {
		t.Fatalf("newest=%+v", st.Recent[0])
	}
	// records at -15, -30, -45 minutes are within the last hour; -60 is not.
	if st.MessagesLastHour != 3 {
		t.Fatalf("last hour=%d", st.MessagesLastHour)
	}
}

func TestTimeUntilCanSend(t *testing.T) {
	t.Parallel()

	clk := newClock(noon())
	c := newTestCoordinator(clk, nil)
	send(t, c, Request{Source: "alerter", Priority: Alert, MessageType: "disk_full"})

	if got := c.TimeUntilCanSend(Info); got != 2*time.Minute {
		t.Fatalf("info wait=%v want global cooldown 2m", got)
	}
	if got := c.TimeUntilCanSend(Alert); got != 30*time.Minute {
		t.Fatalf("alert wait=%v want 30m", got)
	}

	// 22:50 with a fresh proactive record: priority cooldown ends inside quiet
	// hours, so the wait extends to 08:00.
	clk.Set(time.Date(2025, 3, 12, 22, 50, 0, 0, time.UTC))
	send(t, c, Request{Source: "proactive", Priority: Proactive, MessageType: "insight"})
	want := time.Date(2025, 3, 13, 8, 0, 0, 0, time.UTC).Sub(clk.Now())
	if got := c.TimeUntilCanSend(Proactive); got != want {
		t.Fatalf("proactive wait=%v want %v", got, want)
	}
	if got := c.TimeUntilCanSend(Critical); got != 2*time.Minute {
		t.Fatalf("critical wait=%v", got)
	}

	st := c.Status()
	if len(st.Priorities) != 4 || st.Priorities[Proactive].Wait != want {
		t.Fatalf("priorities=%+v", st.Priorities)
	}
}

func TestDailyLimitWaitsForMidnight(t *testing.T) {
	t.Parallel()

	clk := newClock(time.Date(2025, 3, 12, 20, 0, 0, 0, time.UTC))
	c := newTestCoordinator(clk, func(cfg *Config) {
		fastConfig(cfg)
		cfg.MaxPerDay = 1
		cfg.QuietStart, cfg.QuietEnd = 0, 0
	})
	send(t, c, Request{Source: "s", Priority: Info, MessageType: "m"})
	if got := c.TimeUntilCanSend(Info); got != 4*time.Hour {
		t.Fatalf("wait=%v want 4h", got)
	}
}

func TestParsePriority(t *testing.T) {
	t.Parallel()

	p, err := ParsePriority("alert")
	if err != nil || p != Alert {
		t.Fatalf("ParsePriority: %v %v", p, err)
	}
	if _, err := ParsePriority("urgent"); err == nil {
		t.Fatalf("expected error")
	}
	if Priority(9).String() != "Priority(9)" || Info.String() != "INFO" {
		t.Fatalf("String")
	}
}
