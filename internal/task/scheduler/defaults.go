package scheduler

import "time"

const (
	TaskDailyReport     = "daily_report"
	TaskWeeklySummary   = "weekly_summary"
	TaskActivityCleanup = "activity_cleanup"
)

// Builtin is a built-in task definition without its callback.
type Builtin struct {
	Name     string
	Schedule Schedule
	Enabled  bool
}

// Builtins lists the tasks registered at startup. The daily report and the
// weekly summary overlap with proactive messages and start disabled.
func Builtins() []Builtin {
	return []Builtin{
		{Name: TaskDailyReport, Schedule: Schedule{Kind: KindDaily, Hour: 9}},
		{Name: TaskWeeklySummary, Schedule: Schedule{Kind: KindWeekly, Weekday: time.Sunday, Hour: 20}},
		{Name: TaskActivityCleanup, Schedule: Schedule{Kind: KindDaily, Hour: 3, Minute: 30}, Enabled: true},
	}
}
