package coordinator

import (
	"fmt"
	"time"
)

const recentInStatus = 5

type RecentRecord struct {
	MessageRecord
	MinutesAgo float64 `json:"minutes_ago"`
}

type PriorityStatus struct {
	Priority     Priority      `json:"priority"`
	Interval     time.Duration `json:"interval"`
	NextEligible time.Time     `json:"next_eligible"`
	Wait         time.Duration `json:"wait"`
}

// Status is a read-only diagnostic snapshot.
type Status struct {
	Now               time.Time        `json:"now"`
	DailyCount        int              `json:"daily_count"`
	DailyLimit        int              `json:"daily_limit"`
	Pending           int              `json:"pending"`
	QuietHours        bool             `json:"quiet_hours"`
	QuietWindow       string           `json:"quiet_window"`
	MessagesLastHour  int              `json:"messages_last_hour"`
	HistorySize       int              `json:"history_size"`
	Recent            []RecentRecord   `json:"recent"`
	Priorities        []PriorityStatus `json:"priorities"`
	GlobalMinInterval time.Duration    `json:"global_min_interval"`
}

func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.maintainLocked(now)

	st := Status{
		Now:               now,
		DailyCount:        c.dailyCount,
		DailyLimit:        c.cfg.MaxPerDay,
		Pending:           len(c.pending),
		QuietHours:        c.quietAt(now),
		QuietWindow:       fmt.Sprintf("%02d:00-%02d:00", c.cfg.QuietStart, c.cfg.QuietEnd),
		HistorySize:       c.history.len(),
		GlobalMinInterval: c.cfg.GlobalMinInterval,
	}
	c.history.newestFirst(func(rec MessageRecord) bool {
		if now.Sub(rec.At) < time.Hour {
			st.MessagesLastHour++
		}
		if len(st.Recent) < recentInStatus {
			st.Recent = append(st.Recent, RecentRecord{MessageRecord: rec, MinutesAgo: now.Sub(rec.At).Minutes()})
		}
		return true
	})
	for _, p := range Priorities() {
		w := c.waitLocked(p, now)
		st.Priorities = append(st.Priorities, PriorityStatus{
			Priority:     p,
			Interval:     c.cfg.Intervals[p],
			NextEligible: now.Add(w),
			Wait:         w,
		})
	}
	return st
}
