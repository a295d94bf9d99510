package coordinator

import "time"

// ring is a fixed-capacity FIFO of records in insertion order. When full,
// push overwrites the oldest entry.
type ring struct {
	buf  []MessageRecord
	head int // index of the oldest entry
	n    int
}

func newRing(capacity int) *ring {
	if capacity <= 0 {
		capacity = 1
	}
	return &ring{buf: make([]MessageRecord, capacity)}
}

func (r *ring) len() int { return r.n }

func (r *ring) push(rec MessageRecord) {
	if r.n == len(r.buf) {
		r.buf[r.head] = rec
		r.head = (r.head + 1) % len(r.buf)
		return
	}
	r.buf[(r.head+r.n)%len(r.buf)] = rec
	r.n++
}

// evictBefore drops leading records older than cutoff. Records are pushed
// with non-decreasing timestamps, so eviction stops at the first kept one.
func (r *ring) evictBefore(cutoff time.Time) {
	for r.n > 0 && r.buf[r.head].At.Before(cutoff) {
		r.buf[r.head] = MessageRecord{}
		r.head = (r.head + 1) % len(r.buf)
		r.n--
	}
}

// at returns the i-th record, 0 being the oldest.
func (r *ring) at(i int) MessageRecord {
	return r.buf[(r.head+i)%len(r.buf)]
}

// newestFirst calls fn from newest to oldest until fn returns false.
func (r *ring) newestFirst(fn func(MessageRecord) bool) {
	for i := r.n - 1; i >= 0; i-- {
		if !fn(r.at(i)) {
			return
		}
	}
}
