// Package coordinator is the admission gate every message producer passes
// before it notifies a recipient. It keeps a short history of sent messages
// and applies a daily cap, quiet hours, a global cooldown, per-priority
// cooldowns and a dedup window. It performs no I/O.
package coordinator

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	historyRetention      = 24 * time.Hour
	defaultMaxPerDay      = 15
	defaultGlobalInterval = 2 * time.Minute
	defaultDedupWindow    = 30 * time.Minute
	defaultCapacity       = 256
	defaultReservationTTL = 10 * time.Minute
)

var (
	ErrReservationDone    = errors.New("coordinator: reservation already finished")
	ErrReservationExpired = errors.New("coordinator: reservation expired before commit")
)

type Config struct {
	MaxPerDay int

	// Quiet hours run from QuietStart (inclusive) to QuietEnd (exclusive),
	// wrapping midnight when start > end. Equal hours disable them.
	QuietStart int
	QuietEnd   int

	GlobalMinInterval time.Duration
	Intervals         Intervals
	DedupWindow       time.Duration
	HistoryCapacity   int

	// ReservationTTL drops reservations that were neither committed nor
	// released, so a crashed producer cannot block admission forever. A late
	// Commit still records the message.
	ReservationTTL time.Duration

	Now      func() time.Time
	Location *time.Location
}

func DefaultConfig() Config {
	return Config{
		MaxPerDay:         defaultMaxPerDay,
		QuietStart:        23,
		QuietEnd:          8,
		GlobalMinInterval: defaultGlobalInterval,
		Intervals:         DefaultIntervals(),
		DedupWindow:       defaultDedupWindow,
		HistoryCapacity:   defaultCapacity,
		ReservationTTL:    defaultReservationTTL,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxPerDay <= 0 {
		c.MaxPerDay = def.MaxPerDay
	}
	if c.GlobalMinInterval <= 0 {
		c.GlobalMinInterval = def.GlobalMinInterval
	}
	for i := range c.Intervals {
		if c.Intervals[i] <= 0 {
			c.Intervals[i] = def.Intervals[i]
		}
	}
	if c.DedupWindow <= 0 {
		c.DedupWindow = def.DedupWindow
	}
	if c.HistoryCapacity <= 0 {
		c.HistoryCapacity = def.HistoryCapacity
	}
	if c.ReservationTTL <= 0 {
		c.ReservationTTL = def.ReservationTTL
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Location == nil {
		c.Location = time.Local
	}
	c.QuietStart = ((c.QuietStart % 24) + 24) % 24
	c.QuietEnd = ((c.QuietEnd % 24) + 24) % 24
	return c
}

// Request identifies one message a producer wants to send.
type Request struct {
	Source      string
	Priority    Priority
	MessageType string
	// DedupKey defaults to "{Source}_{MessageType}".
	DedupKey string
}

func (r Request) key() string {
	if r.DedupKey != "" {
		return r.DedupKey
	}
	return r.Source + "_" + r.MessageType
}

type Decision struct {
	Allowed bool
	Reason  string
	Rule    Rule
}

// MessageRecord is one admitted message.
type MessageRecord struct {
	ID          string    `json:"id"`
	At          time.Time `json:"at"`
	Source      string    `json:"source"`
	Priority    Priority  `json:"priority"`
	MessageType string    `json:"message_type"`
	DedupKey    string    `json:"dedup_key"`
}

type Coordinator struct {
	cfg Config

	mu            sync.Mutex
	dailyCount    int
	lastResetDate string
	history       *ring
	pending       map[string]MessageRecord
}

func New(cfg Config) *Coordinator {
	cfg = cfg.withDefaults()
	return &Coordinator{
		cfg:     cfg,
		history: newRing(cfg.HistoryCapacity),
		pending: map[string]MessageRecord{},
	}
}

func (c *Coordinator) now() time.Time { return c.cfg.Now().In(c.cfg.Location) }

// CanSend reports whether req would be admitted now. It does not reserve;
// producers that go on to send should use Reserve instead.
func (c *Coordinator) CanSend(req Request) Decision {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.maintainLocked(now)
	d, _ := c.evalLocked(req, now, c.dailyCount+len(c.pending), true)
	return d
}

// RecordSent appends a record for req and increments the daily count.
func (c *Coordinator) RecordSent(req Request) MessageRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.maintainLocked(now)
	rec := newRecord(req, now)
	c.appendLocked(rec)
	return rec
}

// Reserve checks req and, when allowed, holds a provisional slot that counts
// toward every rule until it is committed or released. The check and the
// hold happen in one critical section, so two concurrent producers can
// never both pass the same cooldown or dedup rule.
func (c *Coordinator) Reserve(req Request) (*Reservation, Decision) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.maintainLocked(now)
	d, _ := c.evalLocked(req, now, c.dailyCount+len(c.pending), true)
	if !d.Allowed {
		return nil, d
	}
	rec := newRecord(req, now)
	c.pending[rec.ID] = rec
	return &Reservation{c: c, rec: rec}, d
}

// TimeUntilCanSend returns how long until the cap, quiet-hours and cooldown
// rules would admit a message of priority p. Dedup is not considered and
// pending reservations are assumed to commit.
func (c *Coordinator) TimeUntilCanSend(p Priority) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.maintainLocked(now)
	return c.waitLocked(p, now)
}

func (c *Coordinator) waitLocked(p Priority, now time.Time) time.Duration {
	req := Request{Priority: p}
	at := now
	today := dateKey(now)
	for i := 0; i < 8; i++ {
		count := c.dailyCount + len(c.pending)
		if dateKey(at) != today {
			count = 0
		}
		d, until := c.evalLocked(req, at, count, false)
		if d.Allowed {
			return at.Sub(now)
		}
		if !until.After(at) {
			until = at.Add(time.Minute)
		}
		at = until
	}
	return at.Sub(now)
}

// maintainLocked resets the daily count on a local-date change and evicts
// expired history and reservations.
func (c *Coordinator) maintainLocked(now time.Time) {
	if d := dateKey(now); d != c.lastResetDate {
		c.dailyCount = 0
		c.lastResetDate = d
	}
	c.history.evictBefore(now.Add(-historyRetention))
	for id, rec := range c.pending {
		if now.Sub(rec.At) >= c.cfg.ReservationTTL {
			delete(c.pending, id)
		}
	}
}

func (c *Coordinator) appendLocked(rec MessageRecord) {
	c.history.push(rec)
	c.dailyCount++
}

// evalLocked applies the rules in order at time at. until is the earliest
// time the failing rule stops blocking (zero when allowed or for dedup).
func (c *Coordinator) evalLocked(req Request, at time.Time, count int, dedup bool) (Decision, time.Time) {
	p := req.Priority
	if p != Critical && count >= c.cfg.MaxPerDay {
		y, m, d := at.Date()
		return deny(RuleDailyLimit, "Daily limit reached (%d)", c.cfg.MaxPerDay),
			time.Date(y, m, d+1, 0, 0, 0, 0, at.Location())
	}
	if p != Critical && c.quietAt(at) {
		return deny(RuleQuietHours, "Quiet hours - only critical alerts allowed"), c.quietEndAfter(at)
	}

	var lastAny, lastSame time.Time
	var dup bool
	key := req.key()
	c.eachLocked(func(rec MessageRecord) {
		if rec.At.After(lastAny) {
			lastAny = rec.At
		}
		if rec.Priority == p && rec.At.After(lastSame) {
			lastSame = rec.At
		}
		if rec.DedupKey == key && at.Sub(rec.At) < c.cfg.DedupWindow {
			dup = true
		}
	})

	if !lastAny.IsZero() {
		if until := lastAny.Add(c.cfg.GlobalMinInterval); at.Before(until) {
			return deny(RuleGlobalCooldown, "Global cooldown (%.1f min left)", until.Sub(at).Minutes()), until
		}
	}
	if p.Valid() && !lastSame.IsZero() {
		if until := lastSame.Add(c.cfg.Intervals[p]); at.Before(until) {
			return deny(RulePriorityCooldown, "Priority cooldown (%.1f min left)", until.Sub(at).Minutes()), until
		}
	}
	if dedup && p != Critical && dup {
		return deny(RuleDuplicate, "Duplicate message blocked (key: %s)", key), time.Time{}
	}
	return Decision{Allowed: true, Reason: "OK", Rule: RuleOK}, time.Time{}
}

// eachLocked visits history and pending reservations.
func (c *Coordinator) eachLocked(fn func(MessageRecord)) {
	c.history.newestFirst(func(rec MessageRecord) bool {
		fn(rec)
		return true
	})
	for _, rec := range c.pending {
		fn(rec)
	}
}

func (c *Coordinator) quietAt(t time.Time) bool {
	return inQuietHours(t.Hour(), c.cfg.QuietStart, c.cfg.QuietEnd)
}

func (c *Coordinator) quietEndAfter(t time.Time) time.Time {
	y, m, d := t.Date()
	end := time.Date(y, m, d, c.cfg.QuietEnd, 0, 0, 0, t.Location())
	if !end.After(t) {
		end = end.AddDate(0, 0, 1)
	}
	return end
}

// inQuietHours: start inclusive, end exclusive, wrapping midnight.
func inQuietHours(hour, start, end int) bool {
	switch {
	case start == end:
		return false
	case start > end:
		return hour >= start || hour < end
	default:
		return hour >= start && hour < end
	}
}

func deny(rule Rule, format string, args ...any) Decision {
	return Decision{Allowed: false, Reason: fmt.Sprintf(format, args...), Rule: rule}
}

func newRecord(req Request, at time.Time) MessageRecord {
	return MessageRecord{
		ID:          uuid.NewString(),
		At:          at,
		Source:      req.Source,
		Priority:    req.Priority,
		MessageType: req.MessageType,
		DedupKey:    req.key(),
	}
}

func dateKey(t time.Time) string { return t.Format("2006-01-02") }

// Reservation is a provisional admission returned by Reserve.
type Reservation struct {
	c    *Coordinator
	rec  MessageRecord
	done bool
}

func (r *Reservation) Record() MessageRecord { return r.rec }

// Commit turns the reservation into a history record stamped with the
// commit time and counts it toward the daily cap. A hold that expired while
// the producer was sending is still recorded and reported as
// ErrReservationExpired. Commit after Commit or Release records nothing and
// returns ErrReservationDone.
func (r *Reservation) Commit() error {
	if r == nil {
		return ErrReservationDone
	}
	c := r.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if r.done {
		return ErrReservationDone
	}
	r.done = true
	now := c.now()
	_, live := c.pending[r.rec.ID]
	delete(c.pending, r.rec.ID)
	c.maintainLocked(now)
	rec := r.rec
	rec.At = now
	c.appendLocked(rec)
	if !live {
		return ErrReservationExpired
	}
	return nil
}

// Release discards the reservation. It is a no-op after Commit.
func (r *Reservation) Release() {
	if r == nil {
		return
	}
	c := r.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if r.done {
		return
	}
	r.done = true
	delete(c.pending, r.rec.ID)
}
