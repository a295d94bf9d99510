package notifier

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"serverpal/internal/eventbus"
	"serverpal/internal/metrics"
	kit "serverpal/internal/transport"
	logx "serverpal/pkg/logx"
)

const (
	defaultRatePerSec  = 3
	defaultSendTimeout = 10 * time.Second
	defaultHistorySize = 300
)

// Service fans a message out to the recipients. It is safe for concurrent use.
type Service struct {
	log    logx.Logger
	sender kit.Sender
	bus    eventbus.Bus
	now    func() time.Time

	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, sender kit.Sender, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		sender: sender,
		log:    log.With(logx.String("comp", "notifier")),
		bus:    bus,
		now:    time.Now,
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = defaultRatePerSec
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = defaultHistorySize
	}
	cfg.Recipients = append([]kit.ChatTarget(nil), cfg.Recipients...)
	s.cfg = cfg
	// Token bucket: burst = rate per sec, so a fan-out to a few owners is not delayed.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

func (s *Service) Recipients() []kit.ChatTarget {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]kit.ChatTarget(nil), s.cfg.Recipients...)
}

// Dispatch sends m to every recipient and reports the outcome.
func (s *Service) Dispatch(ctx context.Context, m Message) Result {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	s.mu.Unlock()

	var res Result
	text := strings.TrimSpace(m.Text)
	if s.sender == nil || text == "" {
		return res
	}
	opt := &kit.SendOptions{ParseMode: cfg.ParseMode, DisablePreview: true}

	for _, to := range cfg.Recipients {
		if err := lim.Wait(ctx); err != nil {
			s.log.Debug("dispatch cancelled", logx.String("source", m.Source), logx.Err(err))
			break
		}
		res.Attempted++
		callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		_, err := s.sender.SendText(callCtx, to, text, opt)
		cancel()
		metrics.RecordDispatch(err == nil)

		ev := NotificationEvent{Source: m.Source, Kind: m.Kind, ChatID: to.ChatID, ThreadID: to.ThreadID, At: s.now()}
		if err != nil {
			res.Failed++
			ev.Error = err.Error()
			s.log.Warn("send failed",
				logx.String("source", m.Source),
				logx.String("kind", m.Kind),
				logx.Int64("chat_id", to.ChatID),
				logx.Err(err),
			)
			eventbus.Publish(s.bus, eventbus.NotifierFailed, ev)
			continue
		}
		res.Delivered++
		eventbus.Publish(s.bus, eventbus.NotifierSent, ev)
	}

	if res.Delivered > 0 {
		metrics.RecordSent(m.Source, m.Priority)
	}
	if res.Attempted > 0 {
		s.appendHistory(HistoryItem{
			At:        s.now(),
			Source:    m.Source,
			Kind:      m.Kind,
			Priority:  m.Priority,
			Delivered: res.Delivered,
			Failed:    res.Failed,
		}, cfg.HistorySize)
	}
	return res
}

// Snapshot returns the delivery history, oldest first.
func (s *Service) Snapshot() []HistoryItem {
	s.hmu.Lock()
	out := append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return out
}

func (s *Service) appendHistory(it HistoryItem, max int) {
	s.hmu.Lock()
	s.history = append(s.history, it)
	if len(s.history) > max {
		s.history = s.history[len(s.history)-max:]
	}
	s.hmu.Unlock()
}
