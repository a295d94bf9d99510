package scheduler

import (
	"context"
	"errors"
	"time"
)

var (
	ErrUnknownTask = errors.New("scheduler: unknown task")
	ErrTaskRunning = errors.New("scheduler: task already running")
)

const (
	defaultTick        = 60 * time.Second
	defaultTaskTimeout = 5 * time.Minute
)

type Config struct {
	Enabled     bool
	Tick        time.Duration
	TaskTimeout time.Duration
	Now         func() time.Time
	Location    *time.Location
}

// Func is a task callback. A returned error or a panic counts as failure.
type Func func(ctx context.Context) error

// Task is one registered task and its run bookkeeping.
type Task struct {
	Name     string
	Schedule Schedule
	Enabled  bool
	Run      Func

	LastRun     time.Time
	LastAttempt time.Time
	LastError   string
	Runs        uint64
	Failures    uint64
}

// TaskInfo is the status view of a task.
type TaskInfo struct {
	Name        string    `json:"name"`
	Schedule    string    `json:"schedule"`
	Describe    string    `json:"describe"`
	Enabled     bool      `json:"enabled"`
	Running     bool      `json:"running"`
	LastRun     time.Time `json:"last_run"`
	LastAttempt time.Time `json:"last_attempt"`
	LastError   string    `json:"last_error,omitempty"`
	Runs        uint64    `json:"runs"`
	Failures    uint64    `json:"failures"`
	Next        time.Time `json:"next"`
}

// TaskEvent is published on the bus after every invocation.
type TaskEvent struct {
	Name   string        `json:"name"`
	Manual bool          `json:"manual"`
	OK     bool          `json:"ok"`
	Error  string        `json:"error,omitempty"`
	Took   time.Duration `json:"took"`
	At     time.Time     `json:"at"`
}

// ShouldRunNow reports whether t is due at now. Times are compared in now's
// location.
func ShouldRunNow(t Task, now time.Time) bool {
	if !t.Enabled {
		return false
	}
	if !t.LastAttempt.IsZero() && sameMinute(t.LastAttempt, now) {
		return false
	}
	s := t.Schedule
	switch s.Kind {
	case KindInterval, KindHourly:
		every := s.Every
		if s.Kind == KindHourly || every <= 0 {
			every = time.Hour
		}
		return t.LastAttempt.IsZero() || now.Sub(t.LastAttempt) >= every
	case KindDaily:
		if now.Hour() != s.Hour || now.Minute() != s.Minute {
			return false
		}
		return t.LastRun.IsZero() || calendarDays(t.LastRun, now) > 0
	case KindWeekly:
		if now.Weekday() != s.Weekday || now.Hour() != s.Hour || now.Minute() != s.Minute {
			return false
		}
		return t.LastRun.IsZero() || calendarDays(t.LastRun, now) >= 7
	}
	return false
}

func sameMinute(a, b time.Time) bool {
	return a.Truncate(time.Minute).Equal(b.Truncate(time.Minute))
}

// calendarDays counts date boundaries from a to b in b's location.
func calendarDays(a, b time.Time) int {
	a = a.In(b.Location())
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	da := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}
