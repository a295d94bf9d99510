package scheduler

import (
	"sort"
	"time"

	"github.com/robfig/cron/v3"
)

// maxNextProbes bounds the search for the next eligible calendar slot.
const maxNextProbes = 8

type Status struct {
	Enabled  bool          `json:"enabled"`
	Tick     time.Duration `json:"tick"`
	LastTick time.Time     `json:"last_tick"`
	Timezone string        `json:"timezone"`
	Tasks    []TaskInfo    `json:"tasks"`
}

// Tasks lists registered tasks by name with their next eligible time.
func (s *Scheduler) Tasks() []TaskInfo {
	s.mu.Lock()
	now := s.now()
	out := make([]TaskInfo, 0, len(s.tasks))
	for _, e := range s.tasks {
		t := e.task
		out = append(out, TaskInfo{
			Name:        t.Name,
			Schedule:    t.Schedule.String(),
			Describe:    t.Schedule.Describe(),
			Enabled:     t.Enabled,
			Running:     e.running,
			LastRun:     t.LastRun,
			LastAttempt: t.LastAttempt,
			LastError:   t.LastError,
			Runs:        t.Runs,
			Failures:    t.Failures,
			Next:        NextEligible(t, now),
		})
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Scheduler) Status() Status {
	tasks := s.Tasks()
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Enabled:  s.enabled,
		Tick:     s.cfg.Tick,
		LastTick: s.lastTick,
		Timezone: s.cfg.Location.String(),
		Tasks:    tasks,
	}
}

// NextEligible returns the earliest time at or after now when ShouldRunNow
// would hold for t. It is zero for disabled tasks.
func NextEligible(t Task, now time.Time) time.Time {
	if !t.Enabled {
		return time.Time{}
	}
	if ShouldRunNow(t, now) {
		return now
	}
	switch t.Schedule.Kind {
	case KindInterval, KindHourly:
		every := t.Schedule.Every
		if t.Schedule.Kind == KindHourly || every <= 0 {
			every = time.Hour
		}
		next := cron.Every(every).Next(t.LastAttempt)
		if next.Before(now) {
			next = now.Truncate(time.Minute).Add(time.Minute)
		}
		return next
	}

	sched, err := cron.ParseStandard(t.Schedule.cronSpec())
	if err != nil {
		return time.Time{}
	}
	at := now
	for i := 0; i < maxNextProbes; i++ {
		at = sched.Next(at)
		if ShouldRunNow(t, at) {
			return at
		}
	}
	return time.Time{}
}
