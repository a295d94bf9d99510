package app

import (
	"strings"
	"testing"
	"time"

	"serverpal/internal/config"
	"serverpal/internal/coordinator"
	"serverpal/internal/task/scheduler"
)

func baseConfig() *config.Config {
	return &config.Config{
		Telegram: config.TelegramConfig{Token: "t", OwnerUserIDs: []int64{10, 20}},
		Timezone: "UTC",
	}
}

func ptr[T any](v T) *T { return &v }

func TestResolveSettingsDefaults(t *testing.T) {
	t.Parallel()

	s, err := resolveSettings(baseConfig())
	if err != nil {
		t.Fatalf("resolveSettings: %v", err)
	}
	if s.loc != time.UTC {
		t.Fatalf("loc=%v", s.loc)
	}
	if s.pollTimeout != 10*time.Second {
		t.Fatalf("poll timeout=%v", s.pollTimeout)
	}
	if s.coordinator.QuietStart != 23 || s.coordinator.QuietEnd != 8 {
		t.Fatalf("quiet=%d-%d", s.coordinator.QuietStart, s.coordinator.QuietEnd)
	}
	if !s.alerter.Enabled || s.alerter.Disk.Threshold.Breach != 90 || s.alerter.Interval != time.Minute {
		t.Fatalf("alerter=%+v", s.alerter)
	}
	if !s.proactive.Enabled || s.proactive.Morning.Hour != 9 || s.proactive.IdleChance != 0.3 {
		t.Fatalf("proactive=%+v", s.proactive)
	}
	if !s.scheduler.Enabled || len(s.tasks) != len(scheduler.Builtins()) {
		t.Fatalf("scheduler=%+v tasks=%v", s.scheduler, s.tasks)
	}
	if len(s.notifier.Recipients) != 2 || s.notifier.Recipients[1].ChatID != 20 {
		t.Fatalf("recipients=%v", s.notifier.Recipients)
	}
	if s.storage.Driver != "" || !s.healthEnabled || s.watchdog {
		t.Fatalf("storage=%+v health=%v watchdog=%v", s.storage, s.healthEnabled, s.watchdog)
	}
}

func TestResolveSettingsOverrides(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	cfg.Coordinator.QuietHours = config.QuietHoursConfig{StartHour: ptr(0), EndHour: ptr(6)}
	cfg.Coordinator.Intervals.Alert = "10m"
	cfg.Alerting.Disk.Breach = 70
	cfg.Alerting.GPU.Enabled = ptr(false)
	cfg.Alerting.UseLLM = true
	cfg.Proactive.Morning = "07:30"
	cfg.Proactive.WeeklyDay = "sat"
	cfg.Proactive.IdleChance = ptr(0.0)
	cfg.Scheduler.Tasks = map[string]config.TaskConfig{
		scheduler.TaskDailyReport: {Enabled: ptr(true), Schedule: "daily 08:15"},
	}
	cfg.Storage = &config.StorageConfig{Driver: "SQLite", Path: "./db.sqlite"}
	cfg.Health.Enabled = ptr(false)
	cfg.LLM.Providers = []config.LLMProvider{{Name: "ollama", Model: "llama3"}}

	s, err := resolveSettings(cfg)
	if err != nil {
		t.Fatalf("resolveSettings: %v", err)
	}
	if s.coordinator.QuietStart != 0 || s.coordinator.QuietEnd != 6 {
		t.Fatalf("quiet=%d-%d", s.coordinator.QuietStart, s.coordinator.QuietEnd)
	}
	if s.coordinator.Intervals[coordinator.Alert] != 10*time.Minute {
		t.Fatalf("intervals=%v", s.coordinator.Intervals)
	}
	if s.alerter.Disk.Threshold.Breach != 70 || s.alerter.Disk.Threshold.Margin != 5 || s.alerter.GPU.Enabled || !s.useLLM {
		t.Fatalf("alerter=%+v useLLM=%v", s.alerter, s.useLLM)
	}
	if s.proactive.Morning.Hour != 7 || s.proactive.Morning.Minute != 30 || s.proactive.WeeklyDay != time.Saturday || s.proactive.IdleChance != 0 {
		t.Fatalf("proactive=%+v", s.proactive)
	}
	var daily scheduler.Builtin
	for _, b := range s.tasks {
		if b.Name == scheduler.TaskDailyReport {
			daily = b
		}
	}
	if !daily.Enabled || daily.Schedule.Hour != 8 || daily.Schedule.Minute != 15 {
		t.Fatalf("daily task=%+v", daily)
	}
	if s.storage.Driver != "sqlite" || s.storage.BusyTimeout != time.Second {
		t.Fatalf("storage=%+v", s.storage)
	}
	if s.healthEnabled {
		t.Fatalf("health should be disabled")
	}
	if len(s.providers) != 1 || s.providers[0].Endpoint == "" {
		t.Fatalf("providers=%+v", s.providers)
	}
}

func TestResolveSettingsErrors(t *testing.T) {
	t.Parallel()

	cases := map[string]func(*config.Config){
		"unknown task": func(c *config.Config) {
			c.Scheduler.Tasks = map[string]config.TaskConfig{"nightly_backup": {}}
		},
		"bad schedule": func(c *config.Config) {
			c.Scheduler.Tasks = map[string]config.TaskConfig{scheduler.TaskWeeklySummary: {Schedule: "weekly funday 10:00"}}
		},
		"sqlite without path": func(c *config.Config) {
			c.Storage = &config.StorageConfig{Driver: "sqlite"}
		},
		"bad clock":    func(c *config.Config) { c.Proactive.Evening = "25:00" },
		"bad timezone": func(c *config.Config) { c.Timezone = "Mars/Olympus" },
		"bad duration": func(c *config.Config) { c.Notifier.SendTimeout = "soon" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			cfg := baseConfig()
			mutate(cfg)
			if _, err := resolveSettings(cfg); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestGroupLogTarget(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	if got := groupLogTarget(cfg); got.ChatID != 0 {
		t.Fatalf("empty group_log: %+v", got)
	}
	cfg.Telegram.GroupLog = " -100123 "
	cfg.Logging.Telegram.ThreadID = 7
	if got := groupLogTarget(cfg); got.ChatID != -100123 || got.ThreadID != 7 {
		t.Fatalf("target=%+v", got)
	}
	cfg.Telegram.GroupLog = "logs"
	if got := groupLogTarget(cfg); got.ChatID != 0 {
		t.Fatalf("non-numeric group_log should clear target: %+v", got)
	}
}

func TestDiskPath(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	if got := diskPath(cfg); got != "/" {
		t.Fatalf("default disk path=%q", got)
	}
	cfg.Alerting.Disk.Path = "/data"
	if got := diskPath(cfg); !strings.HasPrefix(got, "/data") {
		t.Fatalf("disk path=%q", got)
	}
}
