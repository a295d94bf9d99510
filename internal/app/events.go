package app

import (
	"context"
	"fmt"
	"strings"

	"serverpal/internal/activity"
	"serverpal/internal/alerter"
	"serverpal/internal/eventbus"
	"serverpal/internal/task/scheduler"
	logx "serverpal/pkg/logx"
)

// mirrorEvent turns a bus event into an activity event. Proactive sends are
// recorded by the engine itself and are only logged here.
func mirrorEvent(e eventbus.Event) (activity.Event, bool) {
	switch e.Type {
	case eventbus.AlertFired, eventbus.AlertRecovered:
		ev, ok := e.Data.(alerter.AlertEvent)
		if !ok {
			return activity.Event{}, false
		}
		imp := activity.Important
		verb := "fired"
		if e.Type == eventbus.AlertRecovered {
			imp = activity.Notable
			verb = "recovered"
		} else if ev.Severity == "critical" {
			imp = activity.Critical
		}
		out := activity.Event{
			At:          e.Time,
			Type:        activity.Alert,
			Subtype:     ev.Kind,
			Description: fmt.Sprintf("Alert %s: %s (%.1f)", verb, ev.Subject, ev.Value),
			Importance:  imp,
			Source:      "alerter",
			Details:     map[string]any{"key": ev.Key, "severity": ev.Severity, "delivered": ev.Delivered},
		}
		if strings.HasPrefix(ev.Key, "service:") {
			out.Service = ev.Subject
		}
		return out, true
	case eventbus.TaskFinished:
		ev, ok := e.Data.(scheduler.TaskEvent)
		if !ok {
			return activity.Event{}, false
		}
		out := activity.Event{
			At:          ev.At,
			Type:        activity.ScheduledTask,
			Subtype:     ev.Name,
			Description: fmt.Sprintf("Task %s finished", ev.Name),
			Importance:  activity.Info,
			Source:      "scheduler",
			Details:     map[string]any{"manual": ev.Manual, "took_ms": ev.Took.Milliseconds()},
		}
		if !ev.OK {
			out.Description = fmt.Sprintf("Task %s failed: %s", ev.Name, ev.Error)
			out.Importance = activity.Important
		}
		return out, true
	}
	return activity.Event{}, false
}

// consumeEvents logs every bus event and mirrors the relevant ones into the
// activity log until ctx is done.
func (a *App) consumeEvents(ctx context.Context, events <-chan eventbus.Event) {
	log := a.log.With(logx.String("comp", "eventbus"))
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			if ev, ok := mirrorEvent(e); ok && a.activity != nil {
				a.activity.Record(ev)
			}
		}
	}
}
