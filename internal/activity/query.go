package activity

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	noActivity     = "No notable activity on the server in the last few hours."
	importantInDay = 10
)

// Query filters Recent. Zero fields match everything.
type Query struct {
	Window        time.Duration
	Type          EventType
	MinImportance Importance
	Limit         int
}

// Recent returns matching events, newest first.
func (l *Log) Recent(q Query) []Event {
	now := l.cfg.Now()
	var out []Event
	l.mu.Lock()
	defer l.mu.Unlock()
	l.eachNewestLocked(func(e Event) bool {
		if q.Window > 0 && now.Sub(e.At) > q.Window {
			return false
		}
		if q.Type != "" && e.Type != q.Type {
			return true
		}
		if q.MinImportance != "" && !e.Importance.AtLeast(q.MinImportance) {
			return true
		}
		out = append(out, e)
		return q.Limit <= 0 || len(out) < q.Limit
	})
	return out
}

// CountRecent counts events of typ within window.
func (l *Log) CountRecent(typ EventType, window time.Duration) int {
	now := l.cfg.Now()
	n := 0
	l.mu.Lock()
	defer l.mu.Unlock()
	l.eachNewestLocked(func(e Event) bool {
		if now.Sub(e.At) > window {
			return false
		}
		if e.Type == typ {
			n++
		}
		return true
	})
	return n
}

type Summary struct {
	Date            string            `json:"date"`
	EventCounts     map[EventType]int `json:"event_counts"`
	TotalEvents     int               `json:"total_events"`
	ImportantEvents []Event           `json:"important_events"`
	ServiceActivity map[string]int    `json:"service_activity"`
}

// DailySummary aggregates the events of day's local calendar date.
func (l *Log) DailySummary(day time.Time) Summary {
	loc := day.Location()
	date := day.Format("2006-01-02")
	s := Summary{Date: date, EventCounts: map[EventType]int{}, ServiceActivity: map[string]int{}}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.eachNewestLocked(func(e Event) bool {
		if e.At.In(loc).Format("2006-01-02") != date {
			return true
		}
		s.EventCounts[e.Type]++
		s.TotalEvents++
		if e.Service != "" {
			s.ServiceActivity[e.Service]++
		}
		if e.Importance.AtLeast(Notable) && len(s.ImportantEvents) < importantInDay {
			s.ImportantEvents = append(s.ImportantEvents, e)
		}
		return true
	})
	return s
}

// String renders the summary for prompts.
func (s Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Date: %s\nTotal events: %d\n", s.Date, s.TotalEvents)
	if len(s.EventCounts) > 0 {
		b.WriteString("Event counts: ")
		b.WriteString(joinCounts(s.EventCounts))
		b.WriteString("\n")
	}
	if len(s.ServiceActivity) > 0 {
		b.WriteString("Service activity: ")
		b.WriteString(joinCounts(s.ServiceActivity))
		b.WriteString("\n")
	}
	for _, e := range s.ImportantEvents {
		fmt.Fprintf(&b, "- %s %s\n", e.At.Format("15:04"), e.Description)
	}
	return strings.TrimRight(b.String(), "\n")
}

func joinCounts[K ~string](m map[K]int) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, m[K(k)]))
	}
	return strings.Join(parts, ", ")
}

// ContextForLLM lists up to maxEvents info-or-higher events from window,
// newest first.
func (l *Log) ContextForLLM(window time.Duration, maxEvents int) string {
	if maxEvents <= 0 {
		maxEvents = 15
	}
	events := l.Recent(Query{Window: window, MinImportance: Info, Limit: maxEvents})
	if len(events) == 0 {
		return noActivity
	}
	lines := []string{fmt.Sprintf("## Server Activity (Last %d Hours)", int(window.Hours())), ""}
	for _, e := range events {
		line := fmt.Sprintf("- [%s] %s %s", e.At.Format("15:04"), e.Importance.emoji(), e.Description)
		if e.Service != "" {
			line += fmt.Sprintf(" (service: %s)", e.Service)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
