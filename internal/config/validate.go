package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Validate checks field syntax and ranges. Defaults for omitted fields are
// resolved by the consumers; Validate only rejects values that are present
// and wrong.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	dur := func(path, raw string) {
		_, err := ParseDurationField(path, raw)
		add(err)
	}

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		add(errors.New("telegram.token is required (or TELEGRAM_BOT_TOKEN)"))
	}
	if len(cfg.Telegram.OwnerUserIDs) == 0 {
		add(errors.New("telegram.owner_user_ids must list at least one user"))
	}
	dur("telegram.poll_timeout", cfg.Telegram.PollTimeout)

	_, err := Location(cfg.Timezone)
	add(err)

	c := cfg.Coordinator
	if c.MaxMessagesPerDay < 0 {
		add(errors.New("coordinator.max_messages_per_day must be >= 0"))
	}
	if c.HistoryCapacity < 0 {
		add(errors.New("coordinator.history_capacity must be >= 0"))
	}
	for _, h := range []struct {
		path string
		v    *int
	}{
		{"coordinator.quiet_hours.start_hour", c.QuietHours.StartHour},
		{"coordinator.quiet_hours.end_hour", c.QuietHours.EndHour},
	} {
		if h.v != nil && (*h.v < 0 || *h.v > 23) {
			add(fmt.Errorf("%s: hour must be in 0..23, got %d", h.path, *h.v))
		}
	}
	dur("coordinator.global_min_interval", c.GlobalMinInterval)
	dur("coordinator.dedup_window", c.DedupWindow)
	dur("coordinator.intervals.critical", c.Intervals.Critical)
	dur("coordinator.intervals.alert", c.Intervals.Alert)
	dur("coordinator.intervals.proactive", c.Intervals.Proactive)
	dur("coordinator.intervals.info", c.Intervals.Info)

	a := cfg.Alerting
	dur("alerting.interval", a.Interval)
	dur("alerting.generate_timeout", a.GenerateTimeout)
	add(validateThreshold("alerting.gpu", a.GPU))
	add(validateThreshold("alerting.disk", a.Disk.ThresholdConfig))
	add(validateThreshold("alerting.memory", a.Memory))
	for i, s := range a.Services {
		if strings.TrimSpace(s) == "" {
			add(fmt.Errorf("alerting.services[%d]: empty service name", i))
		}
	}

	p := cfg.Proactive
	dur("proactive.tick", p.Tick)
	dur("proactive.min_interval", p.MinInterval)
	dur("proactive.idle_window", p.IdleWindow)
	for _, t := range []struct{ path, v string }{
		{"proactive.morning", p.Morning},
		{"proactive.evening", p.Evening},
		{"proactive.weekly_time", p.WeeklyTime},
	} {
		if strings.TrimSpace(t.v) == "" {
			continue
		}
		if _, _, err := ParseClock(t.v); err != nil {
			add(fmt.Errorf("%s: %w", t.path, err))
		}
	}
	if strings.TrimSpace(p.WeeklyDay) != "" {
		if _, err := ParseWeekday(p.WeeklyDay); err != nil {
			add(fmt.Errorf("proactive.weekly_day: %w", err))
		}
	}
	if p.DailyLimit < 0 || p.IdleMinEvents < 0 {
		add(errors.New("proactive.daily_limit and proactive.idle_min_events must be >= 0"))
	}
	if p.IdleChance != nil && (*p.IdleChance < 0 || *p.IdleChance > 1) {
		add(fmt.Errorf("proactive.idle_chance must be in [0,1], got %v", *p.IdleChance))
	}

	dur("scheduler.tick", cfg.Scheduler.Tick)
	dur("scheduler.task_timeout", cfg.Scheduler.TaskTimeout)

	dur("notifier.send_timeout", cfg.Notifier.SendTimeout)
	if cfg.Notifier.RatePerSec < 0 || cfg.Notifier.HistorySize < 0 {
		add(errors.New("notifier.rate_per_sec and notifier.history_size must be >= 0"))
	}

	dur("llm.timeout", cfg.LLM.Timeout)
	for i, pr := range cfg.LLM.Providers {
		if strings.TrimSpace(pr.Name) == "" {
			add(fmt.Errorf("llm.providers[%d].name is required", i))
		}
		if strings.TrimSpace(pr.Model) == "" {
			add(fmt.Errorf("llm.providers[%d].model is required", i))
		}
		if strings.TrimSpace(pr.Endpoint) == "" && DefaultProviderEndpoint(pr.Name) == "" {
			add(fmt.Errorf("llm.providers[%d].endpoint is required for %q", i, pr.Name))
		}
	}

	if s := cfg.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none", "off", "disabled", "file", "sqlite":
		default:
			add(fmt.Errorf("storage.driver: unknown driver %q", s.Driver))
		}
		dur("storage.busy_timeout", s.BusyTimeout)
	}

	if cfg.Activity.Capacity < 0 {
		add(errors.New("activity.capacity must be >= 0"))
	}
	dur("activity.flush_interval", cfg.Activity.FlushInterval)
	dur("activity.retention", cfg.Activity.Retention)

	h := cfg.Health
	if addr := strings.TrimSpace(h.Addr); addr != "" {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			add(fmt.Errorf("health.addr: %w", err))
		}
	}
	dur("health.read_timeout", h.ReadTimeout)
	dur("health.write_timeout", h.WriteTimeout)
	dur("health.idle_timeout", h.IdleTimeout)

	return errors.Join(errs...)
}

func validateThreshold(path string, t ThresholdConfig) error {
	if t.Breach < 0 || t.Critical < 0 || t.Margin < 0 {
		return fmt.Errorf("%s: values must be >= 0", path)
	}
	if t.Breach > 0 && t.Critical > 0 && t.Critical < t.Breach {
		return fmt.Errorf("%s: critical (%v) must be >= breach (%v)", path, t.Critical, t.Breach)
	}
	return nil
}

// Location resolves an IANA timezone name. Empty means time.Local.
func Location(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("timezone: %w", err)
	}
	return loc, nil
}

// ParseClock parses "HH:MM" (24h).
func ParseClock(s string) (hour, minute int, err error) {
	hs, ms, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, 0, fmt.Errorf("invalid time %q (want HH:MM)", s)
	}
	hour, err1 := strconv.Atoi(hs)
	minute, err2 := strconv.Atoi(ms)
	if err1 != nil || err2 != nil || hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid time %q (want HH:MM)", s)
	}
	return hour, minute, nil
}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

// ParseWeekday accepts English day names or abbreviations, case-insensitive.
func ParseWeekday(s string) (time.Weekday, error) {
	d, ok := weekdays[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return 0, fmt.Errorf("invalid weekday %q", s)
	}
	return d, nil
}
