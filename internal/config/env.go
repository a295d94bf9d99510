package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	defaultOllamaURL   = "http://localhost:11434"
	defaultOllamaModel = "llama3.2:3b"
	defaultGroqURL     = "https://api.groq.com/openai"
	defaultGroqModel   = "llama-3.1-8b-instant"
	defaultOpenAIURL   = "https://api.openai.com"
	defaultOpenAIModel = "gpt-4o-mini"
)

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment.
// A missing file is not an error and existing variables are not overwritten.
func LoadDotEnv(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays environment variables onto cfg. Unset or empty variables
// leave the file value untouched.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if cfg == nil || lookup == nil {
		return nil
	}
	get := func(k string) (string, bool) {
		v, ok := lookup(k)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get("TELEGRAM_BOT_TOKEN"); ok {
		cfg.Telegram.Token = v
	}
	if v, ok := get("TELEGRAM_ADMIN_USERS"); ok {
		ids, err := parseIDList(v)
		if err != nil {
			return fmt.Errorf("TELEGRAM_ADMIN_USERS: %w", err)
		}
		cfg.Telegram.OwnerUserIDs = ids
	}

	if v, ok := get("ALERT_ENABLED"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("ALERT_ENABLED: %w", err)
		}
		cfg.Alerting.Enabled = &b
	}
	for _, e := range []struct {
		key string
		dst *float64
	}{
		{"ALERT_GPU_TEMP", &cfg.Alerting.GPU.Breach},
		{"ALERT_DISK", &cfg.Alerting.Disk.Breach},
		{"ALERT_MEMORY", &cfg.Alerting.Memory.Breach},
	} {
		v, ok := get(e.key)
		if !ok {
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", e.key, err)
		}
		*e.dst = f
	}
	if v, ok := get("ALERT_CHECK_INTERVAL"); ok {
		// Bare integers are seconds.
		if n, err := strconv.Atoi(v); err == nil {
			v = strconv.Itoa(n) + "s"
		}
		cfg.Alerting.Interval = v
	}
	if v, ok := get("CRITICAL_SERVICES"); ok {
		cfg.Alerting.Services = splitList(v)
	}

	if v, ok := get("HEALTH_CHECK_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return fmt.Errorf("HEALTH_CHECK_PORT: invalid port %q", v)
		}
		host := "127.0.0.1"
		if h, _, err := net.SplitHostPort(strings.TrimSpace(cfg.Health.Addr)); err == nil && h != "" {
			host = h
		}
		cfg.Health.Addr = net.JoinHostPort(host, strconv.Itoa(port))
	}

	if url, ok := get("OLLAMA_URL"); ok {
		model, _ := get("OLLAMA_MODEL")
		if model == "" {
			model, _ = get("DEFAULT_OLLAMA_MODEL")
		}
		upsertProvider(cfg, LLMProvider{Name: "ollama", Endpoint: url, Model: orDefault(model, defaultOllamaModel)})
	}
	if key, ok := get("GROQ_API_KEY"); ok {
		model, _ := get("GROQ_MODEL")
		upsertProvider(cfg, LLMProvider{Name: "groq", Endpoint: defaultGroqURL, APIKey: key, Model: orDefault(model, defaultGroqModel)})
	}
	if key, ok := get("OPENAI_API_KEY"); ok {
		model, _ := get("OPENAI_MODEL")
		upsertProvider(cfg, LLMProvider{Name: "openai", Endpoint: defaultOpenAIURL, APIKey: key, Model: orDefault(model, defaultOpenAIModel)})
	}
	return nil
}

// upsertProvider replaces the fields set in p on the provider with the same
// name, or appends p.
func upsertProvider(cfg *Config, p LLMProvider) {
	for i := range cfg.LLM.Providers {
		cur := &cfg.LLM.Providers[i]
		if !strings.EqualFold(cur.Name, p.Name) {
			continue
		}
		if p.APIKey != "" {
			cur.APIKey = p.APIKey
		}
		if p.Name == "ollama" || cur.Endpoint == "" {
			cur.Endpoint = p.Endpoint
		}
		cur.Model = p.Model
		return
	}
	cfg.LLM.Providers = append(cfg.LLM.Providers, p)
}

// DefaultProviderEndpoint returns the base URL for a well-known provider name.
func DefaultProviderEndpoint(name string) string {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "ollama":
		return defaultOllamaURL
	case "groq":
		return defaultGroqURL
	case "openai":
		return defaultOpenAIURL
	default:
		return ""
	}
}

func parseIDList(s string) ([]int64, error) {
	parts := splitList(s)
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid user id %q", p)
		}
		out = append(out, id)
	}
	return out, nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
