// Package issue tracks monitored conditions (a metric over threshold or a
// service being down) as ACTIVE/INACTIVE states with hysteresis.
package issue

import (
	"sort"
	"sync"
	"time"
)

type Transition int

const (
	None Transition = iota
	Fired
	Recovered
)

func (t Transition) String() string {
	switch t {
	case Fired:
		return "fired"
	case Recovered:
		return "recovered"
	default:
		return "none"
	}
}

type Severity int

const (
	SeverityNone Severity = iota
	SeverityWarning
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityCritical:
		return "critical"
	default:
		return "none"
	}
}

func (s Severity) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Reading is one probe result. OK=false means the probe could not read the
// value and the reading carries no signal.
type Reading struct {
	Value float64
	OK    bool
}

func Value(v float64) Reading { return Reading{Value: v, OK: true} }

func Unknown() Reading { return Reading{} }

// Threshold fires at Value >= Breach and recovers at Value < Breach-Margin.
// Critical (0 = never) marks breaches at or above it as critical.
type Threshold struct {
	Breach   float64
	Critical float64
	Margin   float64
}

func (t Threshold) severity(v float64) Severity {
	if t.Critical > 0 && v >= t.Critical {
		return SeverityCritical
	}
	return SeverityWarning
}

type Issue struct {
	Key                string    `json:"key"`
	Active             bool      `json:"active"`
	Notified           bool      `json:"notified"`
	Severity           Severity  `json:"severity"`
	LastValue          float64   `json:"last_value"`
	LastTransitionTime time.Time `json:"last_transition_time"`
	LastEvaluated      time.Time `json:"last_evaluated"`
}

type Tracker struct {
	now func() time.Time

	mu     sync.Mutex
	issues map[string]*Issue
}

func NewTracker(now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{now: now, issues: map[string]*Issue{}}
}

// Evaluate feeds one reading into the issue for key, creating it on first
// use. While active, the severity only escalates; a new episode starts fresh.
func (t *Tracker) Evaluate(key string, r Reading, th Threshold) Transition {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	is := t.issues[key]
	if is == nil {
		is = &Issue{Key: key}
		t.issues[key] = is
	}
	if !r.OK {
		return None
	}
	is.LastValue = r.Value
	is.LastEvaluated = now

	switch {
	case !is.Active && r.Value >= th.Breach:
		is.Active = true
		is.Notified = false
		is.Severity = th.severity(r.Value)
		is.LastTransitionTime = now
		return Fired
	case is.Active && r.Value < th.Breach-th.Margin:
		is.Active = false
		is.LastTransitionTime = now
		return Recovered
	case is.Active:
		if s := th.severity(r.Value); s > is.Severity {
			is.Severity = s
		}
	}
	return None
}

// MarkNotified records that the current episode of key was delivered.
func (t *Tracker) MarkNotified(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if is := t.issues[key]; is != nil && is.Active {
		is.Notified = true
	}
}

// Reset clears notification state after a recovery was handled.
func (t *Tracker) Reset(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if is := t.issues[key]; is != nil && !is.Active {
		is.Notified = false
		is.Severity = SeverityNone
	}
}

func (t *Tracker) Get(key string) (Issue, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	is := t.issues[key]
	if is == nil {
		return Issue{}, false
	}
	return *is, true
}

// Pending lists active issues whose episode was not delivered yet.
func (t *Tracker) Pending() []Issue {
	return t.filter(func(is *Issue) bool { return is.Active && !is.Notified })
}

func (t *Tracker) Active() []Issue {
	return t.filter(func(is *Issue) bool { return is.Active })
}

func (t *Tracker) Snapshot() []Issue {
	return t.filter(func(*Issue) bool { return true })
}

func (t *Tracker) filter(keep func(*Issue) bool) []Issue {
	t.mu.Lock()
	out := make([]Issue, 0, len(t.issues))
	for _, is := range t.issues {
		if keep(is) {
			out = append(out, *is)
		}
	}
	t.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
