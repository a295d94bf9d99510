package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	logx "serverpal/pkg/logx"
)

func get(t *testing.T, h http.Handler, path, auth string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if auth != "" {
		req.Header.Set("Authorization", "Bearer "+auth)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestReadyFlipsAfterSetReady(t *testing.T) {
	t.Parallel()

	s := New(Config{}, logx.Nop())
	h := s.Handler()
	if rec := get(t, h, "/ready", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("ready before start: %d", rec.Code)
	}
	s.SetReady(true)
	if rec := get(t, h, "/ready", ""); rec.Code != http.StatusOK {
		t.Fatalf("ready after start: %d", rec.Code)
	}
	if rec := get(t, h, "/live", ""); rec.Code != http.StatusOK {
		t.Fatalf("live: %d", rec.Code)
	}
}

func TestHealthIncludesComponents(t *testing.T) {
	t.Parallel()

	s := New(Config{}, logx.Nop())
	s.Register("coordinator", func() any { return map[string]int{"daily_count": 3} })
	s.Register("broken", func() any { panic("nope") })
	s.SetReady(true)

	rec := get(t, s.Handler(), "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("code=%d", rec.Code)
	}
	var rep struct {
		Status     string                     `json:"status"`
		Components map[string]json.RawMessage `json:"components"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &rep); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rep.Status != "ok" || len(rep.Components) != 2 {
		t.Fatalf("rep=%+v", rep)
	}
	if !strings.Contains(string(rep.Components["coordinator"]), `"daily_count": 3`) {
		t.Fatalf("coordinator=%s", rep.Components["coordinator"])
	}
	if !strings.Contains(string(rep.Components["broken"]), "panicked") {
		t.Fatalf("broken=%s", rep.Components["broken"])
	}
}

func TestTokenGuardsEverythingButLive(t *testing.T) {
	t.Parallel()

	s := New(Config{Token: "secret"}, logx.Nop())
	h := s.Handler()
	for _, path := range []string{"/health", "/ready", "/metrics"} {
		if rec := get(t, h, path, ""); rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s without token: %d", path, rec.Code)
		}
		if rec := get(t, h, path, "wrong"); rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s wrong token: %d", path, rec.Code)
		}
	}
	if rec := get(t, h, "/health?token=secret", ""); rec.Code != http.StatusOK {
		t.Fatalf("query token: %d", rec.Code)
	}
	if rec := get(t, h, "/live", ""); rec.Code != http.StatusOK {
		t.Fatalf("live: %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	rec := get(t, New(Config{}, logx.Nop()).Handler(), "/metrics", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Fatalf("code=%d body=%.200s", rec.Code, rec.Body.String())
	}
}

func TestRefusesInsecureBind(t *testing.T) {
	t.Parallel()

	s := New(Config{Addr: "0.0.0.0:0"}, logx.Nop())
	if err := s.Run(context.Background()); !errors.Is(err, ErrInsecureBind) {
		t.Fatalf("err=%v", err)
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()

	cases := map[string]bool{
		"127.0.0.1:8765": true,
		"localhost:80":   true,
		"[::1]:9000":     true,
		":8765":          false,
		"0.0.0.0:8765":   false,
		"10.0.0.5:8765":  false,
		"garbage":        false,
	}
	for addr, want := range cases {
		if got := isLoopbackAddr(addr); got != want {
			t.Fatalf("%s: got %v want %v", addr, got, want)
		}
	}
}
