//go:build !linux

package systemdmanager

import (
	"context"
	"time"
)

type Manager struct{}

func New(ctx context.Context, cacheTTL time.Duration) (*Manager, error) {
	return nil, ErrUnsupported
}

func (m *Manager) Close() error { return nil }

func (m *Manager) State(ctx context.Context, name string) (UnitState, error) {
	return UnitState{}, ErrUnsupported
}
