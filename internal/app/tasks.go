package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"serverpal/internal/activity"
	"serverpal/internal/coordinator"
	"serverpal/internal/notifier"
	"serverpal/internal/proactive"
	"serverpal/internal/task/scheduler"
	logx "serverpal/pkg/logx"
)

const taskSource = "scheduler"

var errNotDelivered = errors.New("report not delivered")

// reports implements the built-in scheduled tasks. Reports go through the
// coordinator like every other producer.
type reports struct {
	coord    proactive.Admitter
	notif    proactive.Dispatcher
	probe    proactive.Snapshotter
	activity *activity.Log
	log      logx.Logger
	now      func() time.Time
	loc      *time.Location
}

func (r *reports) clock() time.Time {
	now := time.Now
	if r.now != nil {
		now = r.now
	}
	if r.loc != nil {
		return now().In(r.loc)
	}
	return now()
}

// funcs maps built-in task names to their implementations.
func (r *reports) funcs() map[string]scheduler.Func {
	return map[string]scheduler.Func{
		scheduler.TaskDailyReport:     r.dailyReport,
		scheduler.TaskWeeklySummary:   r.weeklySummary,
		scheduler.TaskActivityCleanup: r.activityCleanup,
	}
}

func (r *reports) dailyReport(ctx context.Context) error {
	now := r.clock()
	var b strings.Builder
	fmt.Fprintf(&b, "📊 DAILY REPORT (%s)\n\n", now.Format("2006-01-02"))
	if r.probe != nil {
		b.WriteString(r.probe.Snapshot(ctx).String())
		b.WriteString("\n\n")
	}
	if r.activity != nil {
		b.WriteString(r.activity.DailySummary(now.AddDate(0, 0, -1)).String())
	}
	return r.send(ctx, scheduler.TaskDailyReport, strings.TrimSpace(b.String()))
}

func (r *reports) weeklySummary(ctx context.Context) error {
	now := r.clock()
	var b strings.Builder
	b.WriteString("📅 WEEKLY SUMMARY\n\n")
	total := 0
	for i := 6; i >= 0; i-- {
		day := now.AddDate(0, 0, -i)
		var s activity.Summary
		if r.activity != nil {
			s = r.activity.DailySummary(day)
		}
		total += s.TotalEvents
		fmt.Fprintf(&b, "%s %s: %d events\n", day.Format("Mon"), day.Format("01-02"), s.TotalEvents)
	}
	fmt.Fprintf(&b, "\nTotal: %d events", total)
	return r.send(ctx, scheduler.TaskWeeklySummary, b.String())
}

func (r *reports) activityCleanup(ctx context.Context) error {
	if r.activity == nil {
		return nil
	}
	n, err := r.activity.Cleanup(ctx, r.activity.Retention())
	if err != nil {
		return err
	}
	r.log.Info("activity cleanup", logx.Int("removed", n))
	return nil
}

// send reserves an INFO slot and dispatches text. A denied reservation is a
// skip, not a failure.
func (r *reports) send(ctx context.Context, kind, text string) error {
	res, d := r.coord.Reserve(coordinator.Request{
		Source:      taskSource,
		Priority:    coordinator.Info,
		MessageType: kind,
	})
	if !d.Allowed {
		r.log.Info("report skipped", logx.String("task", kind), logx.String("reason", d.Reason))
		return nil
	}
	result := r.notif.Dispatch(ctx, notifier.Message{
		Source:   taskSource,
		Priority: coordinator.Info.String(),
		Kind:     kind,
		Text:     text,
	})
	if result.Attempted > 0 {
		if err := res.Commit(); err != nil {
			r.log.Warn("send recorded late", logx.String("task", kind), logx.Err(err))
		}
	} else {
		res.Release()
	}
	if !result.OK() {
		return errNotDelivered
	}
	return nil
}
