// Package metrics defines the Prometheus metrics of serverpal.
//
// Metrics live in a package-level Registry served by the health server on
// /metrics. Names use the serverpal_ prefix and _total for counters.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var Registry = prometheus.NewRegistry()

var (
	// CoordinatorDecisions counts admission decisions by priority and rule.
	CoordinatorDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "serverpal_coordinator_decisions_total",
			Help: "Admission decisions by priority, outcome and rule.",
		},
		[]string{"source", "priority", "outcome", "rule"},
	)

	// MessagesSent counts messages delivered to at least one recipient.
	MessagesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "serverpal_messages_sent_total",
			Help: "Messages delivered to at least one recipient.",
		},
		[]string{"source", "priority"},
	)

	// DispatchResults counts per-recipient send attempts.
	DispatchResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "serverpal_dispatch_results_total",
			Help: "Per-recipient send attempts by result.",
		},
		[]string{"result"},
	)

	AlertTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "serverpal_alert_transitions_total",
			Help: "Issue transitions by check and direction.",
		},
		[]string{"check", "transition"},
	)

	ActiveIssues = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "serverpal_active_issues",
			Help: "Issues currently active.",
		},
	)

	ProactiveSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "serverpal_proactive_sent_total",
			Help: "Proactive messages sent by type.",
		},
		[]string{"type"},
	)

	TaskRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "serverpal_task_runs_total",
			Help: "Scheduled task runs by task and status.",
		},
		[]string{"task", "status"},
	)

	TaskDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "serverpal_task_duration_seconds",
			Help:    "Scheduled task run duration in seconds.",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 60, 300},
		},
		[]string{"task"},
	)

	// ContentFallbacks counts generations that fell back to a static template.
	ContentFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "serverpal_content_fallbacks_total",
			Help: "Content generations replaced by the static template.",
		},
		[]string{"kind"},
	)

	ProbeFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "serverpal_probe_failures_total",
			Help: "Probe reads that returned no signal.",
		},
		[]string{"probe"},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		CoordinatorDecisions,
		MessagesSent,
		DispatchResults,
		AlertTransitions,
		ActiveIssues,
		ProactiveSent,
		TaskRuns,
		TaskDurationSeconds,
		ContentFallbacks,
		ProbeFailures,
	)
}

func RecordDecision(source, priority string, allowed bool, rule string) {
	outcome := "denied"
	if allowed {
		outcome = "allowed"
	}
	CoordinatorDecisions.WithLabelValues(source, priority, outcome, rule).Inc()
}

func RecordSent(source, priority string) {
	MessagesSent.WithLabelValues(source, priority).Inc()
}

func RecordDispatch(ok bool) {
	if ok {
		DispatchResults.WithLabelValues("ok").Inc()
		return
	}
	DispatchResults.WithLabelValues("failed").Inc()
}

func RecordTaskRun(task string, err error, d time.Duration) {
	status := "ok"
	if err != nil {
		status = "failed"
	}
	TaskRuns.WithLabelValues(task, status).Inc()
	TaskDurationSeconds.WithLabelValues(task).Observe(d.Seconds())
}
