// Package eventbus carries in-process signals between serverpal components.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	CoordinatorDenied = "coordinator.denied"
	AlertFired        = "alert.fired"
	AlertRecovered    = "alert.recovered"
	ProactiveSent     = "proactive.sent"
	TaskFinished      = "task.finished"
	NotifierSent      = "notifier.sent"
	NotifierFailed    = "notifier.failed"
	ConfigChanged     = "config.changed"
)

const defaultBuffer = 8

// Event is a small in-memory signal. Time is stamped on publish when unset.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// Stats counts traffic since the bus was created.
type Stats struct {
	Subscribers int    `json:"subscribers"`
	Published   uint64 `json:"published"`
	Dropped     uint64 `json:"dropped"`
}

// Bus fans events out to subscribers. Publish never blocks: a subscriber
// whose buffer is full misses the event and the drop is counted.
type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
	Stats() Stats
}

func New() Bus {
	return &fanout{subs: make(map[uint64]chan Event)}
}

type fanout struct {
	mu        sync.RWMutex
	subs      map[uint64]chan Event
	next      uint64
	published atomic.Uint64
	dropped   atomic.Uint64
}

func (b *fanout) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.published.Add(1)

	// Held for the whole fan-out; unsubscribe closes under the write lock.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *fanout) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	b.next++
	id := b.next
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			close(ch)
		})
	}
}

func (b *fanout) Stats() Stats {
	b.mu.RLock()
	n := len(b.subs)
	b.mu.RUnlock()
	return Stats{Subscribers: n, Published: b.published.Load(), Dropped: b.dropped.Load()}
}

// Publish sends typ with data on b. A nil bus is a no-op.
func Publish(b Bus, typ string, data any) {
	if b == nil {
		return
	}
	b.Publish(Event{Type: typ, Data: data})
}
