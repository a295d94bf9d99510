// Package watchdog speaks the systemd notify protocol: READY once the app is
// up, WATCHDOG keep-alives while it is healthy, STOPPING on shutdown. Every
// call is a no-op when the process is not started by systemd.
package watchdog

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "serverpal/pkg/logx"
)

type Config struct {
	Enabled bool
	// Healthy gates keep-alives. Nil means always healthy.
	Healthy func() bool
}

type Watchdog struct {
	cfg Config
	log logx.Logger

	notify   func(state string) (bool, error)
	interval func() (time.Duration, error)
}

func New(cfg Config, log logx.Logger) *Watchdog {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Watchdog{
		cfg:      cfg,
		log:      log.With(logx.String("comp", "watchdog")),
		notify:   func(state string) (bool, error) { return daemon.SdNotify(false, state) },
		interval: func() (time.Duration, error) { return daemon.SdWatchdogEnabled(false) },
	}
}

func (w *Watchdog) Ready() { w.send(daemon.SdNotifyReady) }

func (w *Watchdog) Stopping() { w.send(daemon.SdNotifyStopping) }

func (w *Watchdog) send(state string) bool {
	if !w.cfg.Enabled {
		return false
	}
	sent, err := w.notify(state)
	if err != nil {
		w.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return false
	}
	return sent
}

// Run sends WATCHDOG=1 at half the interval systemd asked for. It returns
// immediately when the watchdog is not configured for this unit.
func (w *Watchdog) Run(ctx context.Context) error {
	if !w.cfg.Enabled {
		return nil
	}
	every, err := w.interval()
	if err != nil {
		w.log.Warn("watchdog interval unreadable", logx.Err(err))
		return nil
	}
	if every <= 0 {
		w.log.Debug("systemd watchdog not enabled for this unit")
		return nil
	}
	every /= 2
	w.log.Info("watchdog started", logx.Duration("interval", every))

	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if w.cfg.Healthy != nil && !w.cfg.Healthy() {
				w.log.Warn("unhealthy, skipping keep-alive")
				continue
			}
			w.send(daemon.SdNotifyWatchdog)
		}
	}
}
