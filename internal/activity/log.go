package activity

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"serverpal/internal/storage"
	logx "serverpal/pkg/logx"
)

const (
	defaultCapacity      = 2000
	defaultFlushInterval = 10 * time.Second
	defaultRetention     = 30 * 24 * time.Hour
	warmWindow           = 24 * time.Hour
)

type Config struct {
	Capacity      int
	FlushInterval time.Duration
	Retention     time.Duration
	Now           func() time.Time
}

func (c Config) withDefaults() Config {
	if c.Capacity <= 0 {
		c.Capacity = defaultCapacity
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = defaultFlushInterval
	}
	if c.Retention <= 0 {
		c.Retention = defaultRetention
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Log is safe for concurrent use. Record never blocks on storage; events are
// buffered and written by Run every FlushInterval.
type Log struct {
	cfg   Config
	store storage.Store
	log   logx.Logger

	mu      sync.Mutex
	events  []Event // ring, oldest at head
	head    int
	size    int
	pending []Event
	dropped int
}

// New creates a Log. store may be nil (memory only).
func New(cfg Config, store storage.Store, log logx.Logger) *Log {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Log{
		cfg:    cfg,
		store:  store,
		log:    log.With(logx.String("comp", "activity")),
		events: make([]Event, cfg.Capacity),
	}
}

func (l *Log) Retention() time.Duration { return l.cfg.Retention }

// Record appends e, filling ID, time, importance and source when unset.
func (l *Log) Record(e Event) Event {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = l.cfg.Now()
	}
	if e.Importance == "" {
		e.Importance = Info
	}
	if strings.TrimSpace(e.Source) == "" {
		e.Source = "system"
	}

	l.mu.Lock()
	l.pushLocked(e)
	if l.store != nil {
		l.pending = append(l.pending, e)
		if over := len(l.pending) - l.cfg.Capacity; over > 0 {
			l.pending = l.pending[over:]
			l.dropped += over
		}
	}
	l.mu.Unlock()

	if e.Importance == Debug {
		l.log.Debug("event", logx.String("type", string(e.Type)), logx.String("desc", e.Description))
	} else {
		l.log.Trace("event", logx.String("type", string(e.Type)), logx.String("desc", e.Description))
	}
	return e
}

func (l *Log) pushLocked(e Event) {
	n := len(l.events)
	if l.size < n {
		l.events[(l.head+l.size)%n] = e
		l.size++
		return
	}
	l.events[l.head] = e
	l.head = (l.head + 1) % n
}

// eachNewest visits events newest first until fn returns false.
func (l *Log) eachNewestLocked(fn func(Event) bool) {
	n := len(l.events)
	for i := l.size - 1; i >= 0; i-- {
		if !fn(l.events[(l.head+i)%n]) {
			return
		}
	}
}

// Warm loads the last day of persisted events into memory. Call it before
// Run; it is a no-op without storage.
func (l *Log) Warm(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	recs, err := l.store.RecentEvents(ctx, l.cfg.Now().Add(-warmWindow), l.cfg.Capacity)
	if err != nil {
		return err
	}
	l.mu.Lock()
	for _, r := range recs {
		l.pushLocked(fromRecord(r))
	}
	l.mu.Unlock()
	l.log.Debug("activity warmed", logx.Int("events", len(recs)))
	return nil
}

// Flush writes buffered events. On failure the batch is put back so the next
// flush retries it.
func (l *Log) Flush(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	l.mu.Lock()
	batch := l.pending
	l.pending = nil
	dropped := l.dropped
	l.dropped = 0
	l.mu.Unlock()

	if dropped > 0 {
		l.log.Warn("activity buffer overflow; events not persisted", logx.Int("dropped", dropped))
	}
	if len(batch) == 0 {
		return nil
	}
	recs := make([]storage.EventRecord, 0, len(batch))
	for _, e := range batch {
		recs = append(recs, e.record())
	}
	if err := l.store.AppendEvents(ctx, recs); err != nil {
		l.mu.Lock()
		l.pending = append(batch, l.pending...)
		if over := len(l.pending) - l.cfg.Capacity; over > 0 {
			l.pending = l.pending[over:]
			l.dropped += over
		}
		l.mu.Unlock()
		return err
	}
	return nil
}

// Run flushes every FlushInterval until ctx is done, then flushes once more.
func (l *Log) Run(ctx context.Context) error {
	if l.store == nil {
		<-ctx.Done()
		return nil
	}
	t := time.NewTicker(l.cfg.FlushInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			fctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			err := l.Flush(fctx)
			cancel()
			if err != nil {
				l.log.Warn("final flush failed", logx.Err(err))
			}
			return nil
		case <-t.C:
			if err := l.Flush(ctx); err != nil && !errors.Is(err, context.Canceled) {
				l.log.Warn("flush failed", logx.Err(err))
			}
		}
	}
}

// Cleanup removes events older than olderThan (Retention when <= 0) from
// memory and storage. It reports the number removed from storage, or from
// memory when there is no storage.
func (l *Log) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		olderThan = l.cfg.Retention
	}
	cutoff := l.cfg.Now().Add(-olderThan)

	l.mu.Lock()
	removed := 0
	n := len(l.events)
	for l.size > 0 && l.events[l.head].At.Before(cutoff) {
		l.events[l.head] = Event{}
		l.head = (l.head + 1) % n
		l.size--
		removed++
	}
	l.mu.Unlock()

	if l.store == nil {
		return removed, nil
	}
	if err := l.Flush(ctx); err != nil {
		l.log.Warn("flush before cleanup failed", logx.Err(err))
	}
	pruned, err := l.store.PruneEvents(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	l.log.Info("cleaned up old activity", logx.Int("deleted", pruned), logx.Duration("older_than", olderThan))
	return pruned, nil
}
