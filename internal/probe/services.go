package probe

import (
	"context"
	"time"

	"serverpal/pkg/systemdmanager"
)

// StateReader is implemented by systemdmanager.Manager and systemd.CLI.
type StateReader interface {
	State(ctx context.Context, name string) (systemdmanager.UnitState, error)
}

// Services bounds each state lookup with a timeout.
type Services struct {
	reader  StateReader
	timeout time.Duration
}

func NewServices(r StateReader, timeout time.Duration) *Services {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Services{reader: r, timeout: timeout}
}

func (s *Services) State(ctx context.Context, name string) (systemdmanager.UnitState, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.reader.State(ctx, name)
}
