// Package health serves liveness, readiness, component status and
// Prometheus metrics over HTTP.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"serverpal/internal/metrics"
	logx "serverpal/pkg/logx"
)

const defaultAddr = "127.0.0.1:8765"

var ErrInsecureBind = errors.New("health: non-loopback addr requires token or allow_insecure")

// Config controls the HTTP server.
//
// Security:
//   - Prefer binding to localhost (default).
//   - If binding to a non-loopback address, set Token or enable AllowInsecure.
type Config struct {
	Addr          string
	Token         string
	AllowInsecure bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// StatusFunc returns a JSON-encodable snapshot of one component.
type StatusFunc func() any

type Server struct {
	cfg     Config
	log     logx.Logger
	started time.Time
	ready   atomic.Bool

	mu         sync.RWMutex
	components map[string]StatusFunc
}

func New(cfg Config, log logx.Logger) *Server {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = defaultAddr
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 5 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{
		cfg:        cfg,
		log:        log.With(logx.String("comp", "health")),
		started:    time.Now(),
		components: map[string]StatusFunc{},
	}
}

// Register adds a component to /health. A later call with the same name
// replaces the earlier one.
func (s *Server) Register(name string, fn StatusFunc) {
	s.mu.Lock()
	s.components[name] = fn
	s.mu.Unlock()
}

func (s *Server) SetReady(ok bool) { s.ready.Store(ok) }

func (s *Server) Ready() bool { return s.ready.Load() }

// Handler builds the route table. Every route except /live honours the token.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	wrap := func(h http.HandlerFunc) http.HandlerFunc { return withAuth(s.cfg.Token, h) }

	mux.HandleFunc("/live", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
	})
	mux.HandleFunc("/ready", wrap(func(w http.ResponseWriter, r *http.Request) {
		if !s.Ready() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]bool{"ready": false})
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ready": true})
	}))
	mux.HandleFunc("/health", wrap(s.handleHealth))
	mux.Handle("/metrics", wrap(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}).ServeHTTP))
	return mux
}

type healthReport struct {
	Status     string         `json:"status"`
	Ready      bool           `json:"ready"`
	Time       time.Time      `json:"time"`
	Uptime     string         `json:"uptime"`
	Components map[string]any `json:"components"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	names := make([]string, 0, len(s.components))
	for name := range s.components {
		names = append(names, name)
	}
	sort.Strings(names)
	fns := make([]StatusFunc, len(names))
	for i, name := range names {
		fns[i] = s.components[name]
	}
	s.mu.RUnlock()

	rep := healthReport{
		Status:     "ok",
		Ready:      s.Ready(),
		Time:       time.Now(),
		Uptime:     time.Since(s.started).Round(time.Second).String(),
		Components: make(map[string]any, len(names)),
	}
	if !rep.Ready {
		rep.Status = "starting"
	}
	for i, name := range names {
		rep.Components[name] = safeStatus(fns[i])
	}
	writeJSON(w, http.StatusOK, rep)
}

// safeStatus keeps one misbehaving component from failing the whole report.
func safeStatus(fn StatusFunc) (out any) {
	defer func() {
		if r := recover(); r != nil {
			out = map[string]any{"error": "status panicked"}
		}
	}()
	return fn()
}

// Run listens and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	cur := s.cfg
	addr := strings.TrimSpace(cur.Addr)

	// Non-loopback binds need a token unless explicitly allowed.
	if !cur.AllowInsecure && cur.Token == "" && !isLoopbackAddr(addr) {
		s.log.Error("health refused to start", logx.String("addr", addr), logx.Err(ErrInsecureBind))
		return ErrInsecureBind
	}
	if cur.AllowInsecure && cur.Token == "" && !isLoopbackAddr(addr) {
		s.log.Warn("health running without token on non-loopback addr (insecure)", logx.String("addr", addr))
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.log.Error("health listen failed", logx.String("addr", addr), logx.Err(err))
		return err
	}
	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  cur.ReadTimeout,
		WriteTimeout: cur.WriteTimeout,
		IdleTimeout:  cur.IdleTimeout,
	}

	go func() {
		<-ctx.Done()
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(cctx)
		cancel()
	}()

	s.log.Info("health started", logx.String("addr", ln.Addr().String()), logx.Bool("token_set", cur.Token != ""))
	err = srv.Serve(ln)
	if ctx.Err() != nil {
		s.log.Info("health stopped")
		return nil
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("health server exited unexpectedly")
	}
	return err
}

func withAuth(token string, h http.HandlerFunc) http.HandlerFunc {
	tok := strings.TrimSpace(token)
	if tok == "" {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		// Accept either "Authorization: Bearer <token>" or ?token=<token>.
		if got := r.URL.Query().Get("token"); got != "" {
			if got == tok {
				h(w, r)
				return
			}
			unauthorized(w)
			return
		}
		const p = "Bearer "
		if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, p) && strings.TrimSpace(strings.TrimPrefix(ah, p)) == tok {
			h(w, r)
			return
		}
		unauthorized(w)
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		// empty host means all interfaces
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
