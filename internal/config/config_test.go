package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalJSON = `{
  "telegram": {"token": "t", "owner_user_ids": [42]},
  "logging": {"level": "info", "console": true}
}`

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	_, err := Decode("c.json", []byte(`{"telegram": {"token": "t"}, "bogus": 1}`))
	if err == nil || !strings.Contains(err.Error(), "bogus") {
		t.Fatalf("expected unknown field error, got %v", err)
	}
}

func TestDecodeRejectsTrailingData(t *testing.T) {
	t.Parallel()

	if _, err := Decode("c.json", []byte(minimalJSON+` {}`)); err == nil {
		t.Fatalf("expected trailing data error")
	}
}

func TestDecodeYAML(t *testing.T) {
	t.Parallel()

	y := `
telegram:
  token: abc
  owner_user_ids: [1, 2]
coordinator:
  max_messages_per_day: 3
  quiet_hours:
    start_hour: 0
    end_hour: 6
alerting:
  services: [ollama, nginx]
`
	cfg, err := Decode("c.yaml", []byte(y))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cfg.Telegram.Token != "abc" || len(cfg.Telegram.OwnerUserIDs) != 2 {
		t.Fatalf("telegram=%+v", cfg.Telegram)
	}
	if IntOr(cfg.Coordinator.QuietHours.StartHour, 23) != 0 {
		t.Fatalf("explicit midnight start hour lost")
	}
	if cfg.Coordinator.MaxMessagesPerDay != 3 || len(cfg.Alerting.Services) != 2 {
		t.Fatalf("coordinator=%+v alerting=%+v", cfg.Coordinator, cfg.Alerting)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		LLM: LLMConfig{Providers: []LLMProvider{{Name: "groq", Endpoint: "http://proxy", Model: "old"}}},
	}
	err := ApplyEnv(cfg, envMap(map[string]string{
		"TELEGRAM_BOT_TOKEN":   "tok",
		"TELEGRAM_ADMIN_USERS": "1, 2,3",
		"ALERT_ENABLED":        "false",
		"ALERT_GPU_TEMP":       "75",
		"ALERT_CHECK_INTERVAL": "30",
		"CRITICAL_SERVICES":    "ollama,,nginx",
		"HEALTH_CHECK_PORT":    "9000",
		"OLLAMA_URL":           "http://gpu-box:11434",
		"GROQ_API_KEY":         "gk",
		"GROQ_MODEL":           "mixtral",
		"OPENAI_API_KEY":       "",
	}))
	if err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.Telegram.Token != "tok" || len(cfg.Telegram.OwnerUserIDs) != 3 || cfg.Telegram.OwnerUserIDs[2] != 3 {
		t.Fatalf("telegram=%+v", cfg.Telegram)
	}
	if BoolOr(cfg.Alerting.Enabled, true) {
		t.Fatalf("ALERT_ENABLED=false not applied")
	}
	if cfg.Alerting.GPU.Breach != 75 || cfg.Alerting.Interval != "30s" {
		t.Fatalf("alerting=%+v", cfg.Alerting)
	}
	if got := strings.Join(cfg.Alerting.Services, ","); got != "ollama,nginx" {
		t.Fatalf("services=%q", got)
	}
	if cfg.Health.Addr != "127.0.0.1:9000" {
		t.Fatalf("health.addr=%q", cfg.Health.Addr)
	}
	// groq keeps its position and custom endpoint; ollama is appended; empty OPENAI_API_KEY is ignored.
	if len(cfg.LLM.Providers) != 2 {
		t.Fatalf("providers=%+v", cfg.LLM.Providers)
	}
	g := cfg.LLM.Providers[0]
	if g.Name != "groq" || g.Endpoint != "http://proxy" || g.APIKey != "gk" || g.Model != "mixtral" {
		t.Fatalf("groq=%+v", g)
	}
	o := cfg.LLM.Providers[1]
	if o.Name != "ollama" || o.Endpoint != "http://gpu-box:11434" || o.Model != defaultOllamaModel {
		t.Fatalf("ollama=%+v", o)
	}
}

func TestApplyEnvErrors(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"TELEGRAM_ADMIN_USERS": "abc",
		"ALERT_ENABLED":        "maybe",
		"ALERT_DISK":           "ninety",
		"HEALTH_CHECK_PORT":    "70000",
	}
	for k, v := range cases {
		if err := ApplyEnv(&Config{}, envMap(map[string]string{k: v})); err == nil {
			t.Fatalf("%s=%q: expected error", k, v)
		}
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	bad := 24
	chance := 1.5
	cfg := &Config{
		Coordinator: CoordinatorConfig{
			QuietHours:        QuietHoursConfig{StartHour: &bad},
			GlobalMinInterval: "soon",
		},
		Alerting:  AlertingConfig{GPU: ThresholdConfig{Breach: 90, Critical: 80}},
		Proactive: ProactiveConfig{Morning: "9am", WeeklyDay: "funday", IdleChance: &chance},
		Storage:   &StorageConfig{Driver: "postgres"},
		Health:    HealthConfig{Addr: "nohostport"},
	}
	err := Validate(cfg)
	if err == nil {
		t.Fatalf("expected errors")
	}
	for _, want := range []string{
		"telegram.token", "owner_user_ids", "start_hour", "global_min_interval",
		"alerting.gpu", "proactive.morning", "weekly_day", "idle_chance",
		"storage.driver", "health.addr",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("missing %q in %v", want, err)
		}
	}

	ok, err := Decode("c.json", []byte(minimalJSON))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if err := Validate(ok); err != nil {
		t.Fatalf("minimal config should validate: %v", err)
	}
}

func TestParseClockAndWeekday(t *testing.T) {
	t.Parallel()

	h, m, err := ParseClock("09:05")
	if err != nil || h != 9 || m != 5 {
		t.Fatalf("ParseClock: %d %d %v", h, m, err)
	}
	for _, bad := range []string{"24:00", "9", "09:60", "aa:bb"} {
		if _, _, err := ParseClock(bad); err == nil {
			t.Fatalf("ParseClock(%q) should fail", bad)
		}
	}
	d, err := ParseWeekday("Sunday")
	if err != nil || d != time.Sunday {
		t.Fatalf("ParseWeekday: %v %v", d, err)
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()

	a, _ := Decode("c.json", []byte(minimalJSON))
	b, _ := Decode("c.json", []byte(minimalJSON))
	b.Logging.Level = "debug"
	b.LLM.Providers = []LLMProvider{{Name: "openai", APIKey: "secret", Model: "m"}}

	changed, attrs := SummarizeConfigChange(a, b)
	if strings.Join(changed, ",") != "llm,logging" {
		t.Fatalf("changed=%v", changed)
	}
	if len(attrs) == 0 {
		t.Fatalf("expected attrs")
	}
	if got := RestartRequired(changed); len(got) != 1 || got[0] != "llm" {
		t.Fatalf("restart required=%v", got)
	}

	same, _ := SummarizeConfigChange(a, a)
	if len(same) != 0 {
		t.Fatalf("identical configs changed=%v", same)
	}
}

func TestManagerLoadAppliesEnv(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{"telegram":{"owner_user_ids":[1]}}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	m := NewConfigManager(path)
	m.SetEnvLookup(envMap(map[string]string{"TELEGRAM_BOT_TOKEN": "from-env"}))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "from-env" || m.Get() != cfg {
		t.Fatalf("cfg=%+v", cfg.Telegram)
	}
}

func TestManagerPublishKeepsNewest(t *testing.T) {
	t.Parallel()

	m := NewConfigManager("unused.json")
	ch := m.Subscribe(1)
	first, second := &Config{Timezone: "a"}, &Config{Timezone: "b"}
	m.publish(first)
	m.publish(second)
	if got := <-ch; got != second {
		t.Fatalf("expected newest config, got %+v", got)
	}
	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatalf("channel should be closed after Unsubscribe")
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()

	d, err := ParseDurationOrDefault("x", "", 5*time.Second)
	if err != nil || d != 5*time.Second {
		t.Fatalf("default: %v %v", d, err)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatalf("negative duration should fail")
	}
	if d, err := ParseDurationField("activity.retention", "30d"); err != nil || d != 30*24*time.Hour {
		t.Fatalf("day suffix: %v %v", d, err)
	}
	if _, err := ParseDurationField("x", "1.5d"); err == nil {
		t.Fatalf("fractional days should fail")
	}
}

func TestDecodeYAMLRejectsMultipleDocuments(t *testing.T) {
	t.Parallel()

	data := []byte("telegram:\n  token: a\n---\ntelegram:\n  token: b\n")
	if _, err := Decode("config.yaml", data); err == nil {
		t.Fatalf("expected multi-document error")
	}
	cfg, err := Decode("config.yml", []byte(""))
	if err != nil || cfg.Telegram.Token != "" {
		t.Fatalf("empty yaml: %+v %v", cfg, err)
	}
}
