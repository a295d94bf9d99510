package config

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`

	// Timezone is an IANA name used for quiet hours, daily resets and
	// calendar schedules. Empty means the host's local zone.
	Timezone string `json:"timezone,omitempty"`

	Coordinator CoordinatorConfig `json:"coordinator"`
	Alerting    AlertingConfig    `json:"alerting"`
	Proactive   ProactiveConfig   `json:"proactive"`
	Scheduler   SchedulerConfig   `json:"scheduler"`
	Notifier    NotifierConfig    `json:"notifier"`
	LLM         LLMConfig         `json:"llm"`

	Storage  *StorageConfig `json:"storage,omitempty"`
	Activity ActivityConfig `json:"activity"`
	Health   HealthConfig   `json:"health"`
	Watchdog WatchdogConfig `json:"watchdog"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	GroupLog     string  `json:"group_log"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// CoordinatorConfig tunes the admission gate shared by every producer.
//
// Defaults (when omitted/zero):
//   - max_messages_per_day: 15
//   - quiet_hours: 23 -> 8 (end exclusive)
//   - global_min_interval: "2m"
//   - intervals: critical "5m", alert "30m", proactive "120m", info "240m"
//   - dedup_window: "30m"
//   - history_capacity: 256
type CoordinatorConfig struct {
	MaxMessagesPerDay int               `json:"max_messages_per_day,omitempty"`
	QuietHours        QuietHoursConfig  `json:"quiet_hours"`
	GlobalMinInterval string            `json:"global_min_interval,omitempty"`
	Intervals         PriorityIntervals `json:"intervals"`
	DedupWindow       string            `json:"dedup_window,omitempty"`
	HistoryCapacity   int               `json:"history_capacity,omitempty"`
}

// QuietHoursConfig uses pointers because 0 (midnight) is a valid hour.
type QuietHoursConfig struct {
	StartHour *int `json:"start_hour,omitempty"`
	EndHour   *int `json:"end_hour,omitempty"`
}

type PriorityIntervals struct {
	Critical  string `json:"critical,omitempty"`
	Alert     string `json:"alert,omitempty"`
	Proactive string `json:"proactive,omitempty"`
	Info      string `json:"info,omitempty"`
}

// AlertingConfig controls threshold alerting.
type AlertingConfig struct {
	// Enabled defaults to true when omitted.
	Enabled         *bool           `json:"enabled,omitempty"`
	Interval        string          `json:"interval,omitempty"`
	UseLLM          bool            `json:"use_llm,omitempty"`
	GenerateTimeout string          `json:"generate_timeout,omitempty"`
	GPU             ThresholdConfig `json:"gpu"`
	Disk            DiskThreshold   `json:"disk"`
	Memory          ThresholdConfig `json:"memory"`
	Services        []string        `json:"services,omitempty"`
}

// ThresholdConfig is one numeric check. Zero values fall back to the
// per-check defaults; Enabled=false turns the check off.
type ThresholdConfig struct {
	Enabled  *bool   `json:"enabled,omitempty"`
	Breach   float64 `json:"breach,omitempty"`
	Critical float64 `json:"critical,omitempty"`
	Margin   float64 `json:"margin,omitempty"`
}

type DiskThreshold struct {
	ThresholdConfig
	Path string `json:"path,omitempty"`
}

// ProactiveConfig controls unsolicited messages.
//
// Times are "HH:MM" in the configured timezone.
type ProactiveConfig struct {
	Enabled       *bool             `json:"enabled,omitempty"`
	Tick          string            `json:"tick,omitempty"`
	Morning       string            `json:"morning,omitempty"`
	Evening       string            `json:"evening,omitempty"`
	WeeklyDay     string            `json:"weekly_day,omitempty"`
	WeeklyTime    string            `json:"weekly_time,omitempty"`
	MinInterval   string            `json:"min_interval,omitempty"`
	DailyLimit    int               `json:"daily_limit,omitempty"`
	IdleWindow    string            `json:"idle_window,omitempty"`
	IdleMinEvents int               `json:"idle_min_events,omitempty"`
	IdleChance    *float64          `json:"idle_chance,omitempty"`
	Profile       map[string]string `json:"profile,omitempty"`
}

// SchedulerConfig controls the task scheduler.
type SchedulerConfig struct {
	Enabled     *bool                 `json:"enabled,omitempty"`
	Tick        string                `json:"tick,omitempty"`
	TaskTimeout string                `json:"task_timeout,omitempty"`
	Tasks       map[string]TaskConfig `json:"tasks,omitempty"`
}

// TaskConfig overrides a built-in task's schedule or enabled flag.
type TaskConfig struct {
	Enabled  *bool  `json:"enabled,omitempty"`
	Schedule string `json:"schedule,omitempty"`
}

// NotifierConfig controls recipient fan-out.
type NotifierConfig struct {
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
	SendTimeout string `json:"send_timeout,omitempty"`
	HistorySize int    `json:"history_size,omitempty"`
}

// LLMConfig lists content providers in fallback order.
type LLMConfig struct {
	Timeout     string        `json:"timeout,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	Providers   []LLMProvider `json:"providers,omitempty"`
}

type LLMProvider struct {
	Name     string `json:"name"`
	Endpoint string `json:"endpoint"`
	APIKey   string `json:"api_key,omitempty"`
	Model    string `json:"model"`
}

// StorageConfig controls activity persistence.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./serverpal.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

type ActivityConfig struct {
	Capacity      int    `json:"capacity,omitempty"`
	FlushInterval string `json:"flush_interval,omitempty"`
	Retention     string `json:"retention,omitempty"`
}

// HealthConfig controls the HTTP health/metrics server.
//
// Security note: binding to a non-loopback address requires a token or
// allow_insecure.
type HealthConfig struct {
	Enabled       *bool  `json:"enabled,omitempty"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:8765"
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	ReadTimeout   string `json:"read_timeout,omitempty"`
	WriteTimeout  string `json:"write_timeout,omitempty"`
	IdleTimeout   string `json:"idle_timeout,omitempty"`
}

type WatchdogConfig struct {
	Enabled bool `json:"enabled"`
}

// BoolOr returns *p, or def when p is nil.
func BoolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// IntOr returns *p, or def when p is nil.
func IntOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}
