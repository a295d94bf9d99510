package content

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"

	"serverpal/internal/metrics"
	logx "serverpal/pkg/logx"
)

func fallbackCount(kind string) float64 {
	m := &dto.Metric{}
	if err := metrics.ContentFallbacks.WithLabelValues(kind).Write(m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

func chatServer(t *testing.T, status int, reply string, seen *chatRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" || r.Method != http.MethodPost {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if seen != nil {
			if err := json.NewDecoder(r.Body).Decode(seen); err != nil {
				t.Errorf("decode: %v", err)
			}
			if got := r.Header.Get("Authorization"); got != "Bearer k-123" {
				t.Errorf("authorization=%q", got)
			}
		}
		w.WriteHeader(status)
		if status == http.StatusOK {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": reply}}},
			})
			return
		}
		_, _ = w.Write([]byte(`{"error":{"message":"boom"}}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClientGenerate(t *testing.T) {
	t.Parallel()

	var seen chatRequest
	srv := chatServer(t, http.StatusOK, "  hi there  ", &seen)
	c, err := NewClient(ProviderConfig{Name: "ollama", Endpoint: srv.URL + "/v1/", APIKey: "k-123", Model: "llama3.2:3b"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	got, err := c.Generate(context.Background(), Request{Kind: KindCheckIn, System: "sys", Prompt: "hello"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "  hi there  " {
		t.Fatalf("got %q", got)
	}
	if seen.Model != "llama3.2:3b" || len(seen.Messages) != 2 || seen.Messages[0].Role != "system" || seen.Messages[1].Content != "hello" {
		t.Fatalf("request=%+v", seen)
	}
	if seen.MaxTokens != defaultMaxTokens || seen.Stream {
		t.Fatalf("request=%+v", seen)
	}
}

func TestClientRejectsBadConfig(t *testing.T) {
	t.Parallel()

	if _, err := NewClient(ProviderConfig{Name: "x", Model: "m"}); err == nil {
		t.Fatalf("missing endpoint must fail")
	}
	if _, err := NewClient(ProviderConfig{Name: "x", Endpoint: "http://h"}); err == nil {
		t.Fatalf("missing model must fail")
	}
}

func TestChainFallsThrough(t *testing.T) {
	t.Parallel()

	bad := chatServer(t, http.StatusInternalServerError, "", nil)
	good := chatServer(t, http.StatusOK, "from groq", nil)
	chain := NewChainFromConfig(logx.Nop(), []ProviderConfig{
		{Name: "ollama", Endpoint: bad.URL, Model: "m"},
		{Name: "broken"},
		{Name: "groq", Endpoint: good.URL, Model: "m"},
	})
	if chain.Len() != 2 || strings.Join(chain.Names(), ",") != "ollama,groq" {
		t.Fatalf("names=%v", chain.Names())
	}
	got, err := chain.Generate(context.Background(), Request{Prompt: "p"})
	if err != nil || got != "from groq" {
		t.Fatalf("got %q err=%v", got, err)
	}
	if chain.Name() != "groq" {
		t.Fatalf("last provider=%q", chain.Name())
	}
}

func TestChainErrors(t *testing.T) {
	t.Parallel()

	if _, err := NewChain(logx.Nop()).Generate(context.Background(), Request{}); !errors.Is(err, ErrNoProviders) {
		t.Fatalf("err=%v", err)
	}
	bad := chatServer(t, http.StatusTooManyRequests, "", nil)
	chain := NewChainFromConfig(logx.Nop(), []ProviderConfig{{Name: "a", Endpoint: bad.URL, Model: "m"}})
	_, err := chain.Generate(context.Background(), Request{})
	if err == nil || !strings.Contains(err.Error(), "status 429") {
		t.Fatalf("err=%v", err)
	}
}

type genFunc func(ctx context.Context, req Request) (string, error)

func (f genFunc) Generate(ctx context.Context, req Request) (string, error) { return f(ctx, req) }

func TestGenerateFallback(t *testing.T) {
	kind := "t_fallback_kind"
	before := fallbackCount(kind)

	res := Generate(context.Background(), genFunc(func(context.Context, Request) (string, error) {
		return "", errors.New("down")
	}), Request{Kind: kind}, time.Second, "static", logx.Nop())
	if !res.Fallback || res.Text != "static" {
		t.Fatalf("res=%+v", res)
	}
	res = Generate(context.Background(), genFunc(func(context.Context, Request) (string, error) {
		return "   ", nil
	}), Request{Kind: kind}, time.Second, "static", logx.Nop())
	if !res.Fallback {
		t.Fatalf("blank text must fall back: %+v", res)
	}
	if got := fallbackCount(kind); got != before+2 {
		t.Fatalf("fallbacks=%v want %v", got, before+2)
	}

	res = Generate(context.Background(), nil, Request{Kind: kind}, 0, "static", logx.Nop())
	if !res.Fallback || fallbackCount(kind) != before+2 {
		t.Fatalf("nil generator is a template path, not a failure")
	}

	res = Generate(context.Background(), genFunc(func(ctx context.Context, _ Request) (string, error) {
		if _, ok := ctx.Deadline(); !ok {
			t.Errorf("timeout not applied")
		}
		return " ok ", nil
	}), Request{Kind: kind}, time.Second, "static", logx.Nop())
	if res.Fallback || res.Text != "ok" {
		t.Fatalf("res=%+v", res)
	}
}

func TestFormatProactive(t *testing.T) {
	t.Parallel()

	cases := []struct {
		kind, in, want string
	}{
		{KindMorningGreeting, "Rise and shine", "Good Morning!\n\nRise and shine"},
		{KindDailySummary, "Daily Summary\n\nAll good", "Daily Summary\n\nAll good"},
		{"reminder", "x", "AI Assistant\n\nx"},
		{KindServerIdle, " idle ", "Suggestion\n\nidle"},
	}
	for _, tc := range cases {
		if got := FormatProactive(tc.kind, tc.in); got != tc.want {
			t.Fatalf("FormatProactive(%q, %q)=%q want %q", tc.kind, tc.in, got, tc.want)
		}
	}
}

func TestFallbackTexts(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 3, 9, 5, 0, 0, time.UTC)
	if got := ProactiveFallback(KindMorningGreeting, now); !strings.Contains(got, "Today is March 03 2025, Monday.") {
		t.Fatalf("morning=%q", got)
	}
	if got := ProactiveFallback(KindCheckIn, now); got != "Hello from your AI assistant!" {
		t.Fatalf("default=%q", got)
	}
	if got := AlertFallback(KindDiskFull, "system", 93.4); !strings.HasPrefix(got, "💾 Disk filling up: 93%") {
		t.Fatalf("disk=%q", got)
	}
	if got := FormatAlert(KindServiceDown, "ollama is down"); got != "🔴 ollama is down" {
		t.Fatalf("alert=%q", got)
	}
	if got := FormatAlert(KindGPUHot, "🌡️ hot already"); got != "🌡️ hot already" {
		t.Fatalf("alert=%q", got)
	}
}

func TestPromptsCarryContext(t *testing.T) {
	t.Parallel()

	pc := PromptContext{
		Now:      time.Date(2025, 3, 3, 21, 10, 0, 0, time.UTC),
		Profile:  "User likes ontologies",
		Activity: "## Server Activity (Last 12 Hours)",
		Summary:  "alert: 2",
	}
	p := ProactivePrompt(KindDailySummary, pc)
	for _, want := range []string{"2025-03-03 21:10", "User likes ontologies", "Server Activity", "alert: 2", "end-of-day"} {
		if !strings.Contains(p, want) {
			t.Fatalf("missing %q in %q", want, p)
		}
	}
	if p := AlertPrompt(KindServiceDown, "ollama", 1, "CPU: 3%"); !strings.Contains(p, "ollama service is not running") || !strings.Contains(p, "CPU: 3%") {
		t.Fatalf("alert prompt=%q", p)
	}
}
