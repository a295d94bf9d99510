package app

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"serverpal/internal/activity"
	"serverpal/internal/alerter"
	"serverpal/internal/config"
	"serverpal/internal/content"
	"serverpal/internal/coordinator"
	"serverpal/internal/health"
	"serverpal/internal/notifier"
	"serverpal/internal/proactive"
	"serverpal/internal/storage"
	"serverpal/internal/task/scheduler"
	kit "serverpal/internal/transport"
	logx "serverpal/pkg/logx"
)

// settings is the config resolved into each component's own Config. It is
// built once at startup; only logging is re-applied on reload.
type settings struct {
	loc *time.Location

	pollTimeout time.Duration
	logging     logx.Config
	logTarget   kit.ChatTarget

	coordinator coordinator.Config
	alerter     alerter.Config
	useLLM      bool
	proactive   proactive.Config
	scheduler   scheduler.Config
	tasks       []scheduler.Builtin
	notifier    notifier.Config
	providers   []content.ProviderConfig

	storage  storage.Config
	activity activity.Config

	healthEnabled bool
	health        health.Config
	watchdog      bool
}

func resolveSettings(cfg *config.Config) (settings, error) {
	var s settings
	if cfg == nil {
		return s, fmt.Errorf("config is nil")
	}
	loc, err := config.Location(cfg.Timezone)
	if err != nil {
		return s, err
	}
	s.loc = loc

	if s.pollTimeout, err = config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second); err != nil {
		return s, err
	}
	s.logging = loggingConfig(cfg)
	s.logTarget = groupLogTarget(cfg)

	steps := []func(*config.Config, *settings) error{
		mapCoordinator,
		mapAlerter,
		mapProactive,
		mapScheduler,
		mapNotifier,
		mapProviders,
		mapStorage,
		mapActivity,
		mapHealth,
	}
	for _, step := range steps {
		if err := step(cfg, &s); err != nil {
			return s, err
		}
	}
	s.watchdog = cfg.Watchdog.Enabled
	return s, nil
}

func loggingConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Telegram: logx.TelegramConfig{
			Enabled:    l.Telegram.Enabled,
			ThreadID:   l.Telegram.ThreadID,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}

// groupLogTarget parses telegram.group_log; a zero ChatID clears the target.
func groupLogTarget(cfg *config.Config) kit.ChatTarget {
	raw := strings.TrimSpace(cfg.Telegram.GroupLog)
	if raw == "" {
		return kit.ChatTarget{}
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return kit.ChatTarget{}
	}
	return kit.ChatTarget{ChatID: id, ThreadID: cfg.Logging.Telegram.ThreadID}
}

func mapCoordinator(cfg *config.Config, s *settings) error {
	c := cfg.Coordinator
	def := coordinator.DefaultConfig()
	out := coordinator.Config{
		MaxPerDay:       c.MaxMessagesPerDay,
		QuietStart:      config.IntOr(c.QuietHours.StartHour, def.QuietStart),
		QuietEnd:        config.IntOr(c.QuietHours.EndHour, def.QuietEnd),
		HistoryCapacity: c.HistoryCapacity,
		Location:        s.loc,
	}
	var err error
	if out.GlobalMinInterval, err = config.ParseDurationField("coordinator.global_min_interval", c.GlobalMinInterval); err != nil {
		return err
	}
	if out.DedupWindow, err = config.ParseDurationField("coordinator.dedup_window", c.DedupWindow); err != nil {
		return err
	}
	for _, iv := range []struct {
		p    coordinator.Priority
		path string
		raw  string
	}{
		{coordinator.Critical, "coordinator.intervals.critical", c.Intervals.Critical},
		{coordinator.Alert, "coordinator.intervals.alert", c.Intervals.Alert},
		{coordinator.Proactive, "coordinator.intervals.proactive", c.Intervals.Proactive},
		{coordinator.Info, "coordinator.intervals.info", c.Intervals.Info},
	} {
		if out.Intervals[iv.p], err = config.ParseDurationField(iv.path, iv.raw); err != nil {
			return err
		}
	}
	s.coordinator = out
	return nil
}

// mergeCheck overlays the configured non-zero values on a default check.
func mergeCheck(def alerter.Check, tc config.ThresholdConfig) alerter.Check {
	out := def
	out.Enabled = config.BoolOr(tc.Enabled, def.Enabled)
	if tc.Breach > 0 {
		out.Threshold.Breach = tc.Breach
	}
	if tc.Critical > 0 {
		out.Threshold.Critical = tc.Critical
	}
	if tc.Margin > 0 {
		out.Threshold.Margin = tc.Margin
	}
	return out
}

func mapAlerter(cfg *config.Config, s *settings) error {
	a := cfg.Alerting
	def := alerter.DefaultConfig()
	out := alerter.Config{
		Enabled:  config.BoolOr(a.Enabled, def.Enabled),
		GPU:      mergeCheck(def.GPU, a.GPU),
		Disk:     mergeCheck(def.Disk, a.Disk.ThresholdConfig),
		Memory:   mergeCheck(def.Memory, a.Memory),
		Services: append([]string(nil), a.Services...),
	}
	var err error
	if out.Interval, err = config.ParseDurationOrDefault("alerting.interval", a.Interval, def.Interval); err != nil {
		return err
	}
	if out.GenerateTimeout, err = config.ParseDurationOrDefault("alerting.generate_timeout", a.GenerateTimeout, def.GenerateTimeout); err != nil {
		return err
	}
	s.alerter = out
	s.useLLM = a.UseLLM
	return nil
}

// diskPath is the mount point the disk check reads.
func diskPath(cfg *config.Config) string {
	if p := strings.TrimSpace(cfg.Alerting.Disk.Path); p != "" {
		return p
	}
	return "/"
}

func parseClockOr(path, raw string, def proactive.Clock) (proactive.Clock, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	h, m, err := config.ParseClock(raw)
	if err != nil {
		return proactive.Clock{}, fmt.Errorf("%s: %w", path, err)
	}
	return proactive.Clock{Hour: h, Minute: m}, nil
}

func mapProactive(cfg *config.Config, s *settings) error {
	p := cfg.Proactive
	def := proactive.DefaultConfig()
	out := proactive.Config{
		Enabled:       config.BoolOr(p.Enabled, def.Enabled),
		WeeklyDay:     def.WeeklyDay,
		DailyLimit:    p.DailyLimit,
		IdleMinEvents: p.IdleMinEvents,
		IdleChance:    def.IdleChance,
		Profile:       p.Profile,
		Location:      s.loc,
	}
	if p.IdleChance != nil {
		out.IdleChance = *p.IdleChance
	}
	var err error
	if out.Morning, err = parseClockOr("proactive.morning", p.Morning, def.Morning); err != nil {
		return err
	}
	if out.Evening, err = parseClockOr("proactive.evening", p.Evening, def.Evening); err != nil {
		return err
	}
	if out.WeeklyTime, err = parseClockOr("proactive.weekly_time", p.WeeklyTime, def.WeeklyTime); err != nil {
		return err
	}
	if strings.TrimSpace(p.WeeklyDay) != "" {
		if out.WeeklyDay, err = config.ParseWeekday(p.WeeklyDay); err != nil {
			return fmt.Errorf("proactive.weekly_day: %w", err)
		}
	}
	if out.Tick, err = config.ParseDurationField("proactive.tick", p.Tick); err != nil {
		return err
	}
	if out.MinInterval, err = config.ParseDurationField("proactive.min_interval", p.MinInterval); err != nil {
		return err
	}
	if out.IdleWindow, err = config.ParseDurationField("proactive.idle_window", p.IdleWindow); err != nil {
		return err
	}
	if out.GenerateTimeout, err = config.ParseDurationField("llm.timeout", cfg.LLM.Timeout); err != nil {
		return err
	}
	s.proactive = out
	return nil
}

// mapScheduler resolves the scheduler and the built-in task table. Unknown
// task names under scheduler.tasks are rejected so typos do not go unnoticed.
func mapScheduler(cfg *config.Config, s *settings) error {
	sc := cfg.Scheduler
	out := scheduler.Config{
		Enabled:  config.BoolOr(sc.Enabled, true),
		Location: s.loc,
	}
	var err error
	if out.Tick, err = config.ParseDurationField("scheduler.tick", sc.Tick); err != nil {
		return err
	}
	if out.TaskTimeout, err = config.ParseDurationField("scheduler.task_timeout", sc.TaskTimeout); err != nil {
		return err
	}

	builtins := scheduler.Builtins()
	known := make(map[string]bool, len(builtins))
	for i := range builtins {
		b := &builtins[i]
		known[b.Name] = true
		tc, ok := sc.Tasks[b.Name]
		if !ok {
			continue
		}
		b.Enabled = config.BoolOr(tc.Enabled, b.Enabled)
		if strings.TrimSpace(tc.Schedule) != "" {
			sched, err := scheduler.ParseSchedule(tc.Schedule)
			if err != nil {
				return fmt.Errorf("scheduler.tasks.%s.schedule: %w", b.Name, err)
			}
			b.Schedule = sched
		}
	}
	for name := range sc.Tasks {
		if !known[name] {
			return fmt.Errorf("scheduler.tasks: unknown task %q", name)
		}
	}
	s.scheduler = out
	s.tasks = builtins
	return nil
}

func mapNotifier(cfg *config.Config, s *settings) error {
	n := cfg.Notifier
	out := notifier.Config{
		RatePerSec:  n.RatePerSec,
		HistorySize: n.HistorySize,
	}
	for _, id := range cfg.Telegram.OwnerUserIDs {
		out.Recipients = append(out.Recipients, kit.ChatTarget{ChatID: id})
	}
	var err error
	if out.SendTimeout, err = config.ParseDurationField("notifier.send_timeout", n.SendTimeout); err != nil {
		return err
	}
	s.notifier = out
	return nil
}

func mapProviders(cfg *config.Config, s *settings) error {
	timeout, err := config.ParseDurationField("llm.timeout", cfg.LLM.Timeout)
	if err != nil {
		return err
	}
	out := make([]content.ProviderConfig, 0, len(cfg.LLM.Providers))
	for _, p := range cfg.LLM.Providers {
		endpoint := strings.TrimSpace(p.Endpoint)
		if endpoint == "" {
			endpoint = config.DefaultProviderEndpoint(p.Name)
		}
		out = append(out, content.ProviderConfig{
			Name:        p.Name,
			Endpoint:    endpoint,
			APIKey:      p.APIKey,
			Model:       p.Model,
			MaxTokens:   cfg.LLM.MaxTokens,
			Temperature: cfg.LLM.Temperature,
			Timeout:     timeout,
		})
	}
	s.providers = out
	return nil
}

func mapStorage(cfg *config.Config, s *settings) error {
	if cfg.Storage == nil {
		return nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "", "none", "off", "disabled":
		return nil
	case "sqlite", "sqlite3":
		if path == "" {
			return fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return err
	}
	s.storage = storage.Config{Driver: driver, Path: path, BusyTimeout: busy}
	return nil
}

func mapActivity(cfg *config.Config, s *settings) error {
	ac := cfg.Activity
	out := activity.Config{Capacity: ac.Capacity}
	var err error
	if out.FlushInterval, err = config.ParseDurationField("activity.flush_interval", ac.FlushInterval); err != nil {
		return err
	}
	if out.Retention, err = config.ParseDurationField("activity.retention", ac.Retention); err != nil {
		return err
	}
	s.activity = out
	return nil
}

func mapHealth(cfg *config.Config, s *settings) error {
	h := cfg.Health
	out := health.Config{
		Addr:          strings.TrimSpace(h.Addr),
		Token:         h.Token,
		AllowInsecure: h.AllowInsecure,
	}
	var err error
	if out.ReadTimeout, err = config.ParseDurationField("health.read_timeout", h.ReadTimeout); err != nil {
		return err
	}
	if out.WriteTimeout, err = config.ParseDurationField("health.write_timeout", h.WriteTimeout); err != nil {
		return err
	}
	if out.IdleTimeout, err = config.ParseDurationField("health.idle_timeout", h.IdleTimeout); err != nil {
		return err
	}
	s.healthEnabled = config.BoolOr(h.Enabled, true)
	s.health = out
	return nil
}
