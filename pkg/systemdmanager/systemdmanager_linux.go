//go:build linux

package systemdmanager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/dbus"
)

// Manager reads unit state from the system bus.
type Manager struct {
	mu    sync.RWMutex
	conn  *dbus.Conn
	cache *stateCache
	now   func() time.Time
}

// New connects to the systemd system bus. cacheTTL 0 uses the default,
// a negative value disables caching.
func New(ctx context.Context, cacheTTL time.Duration) (*Manager, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	conn, err := dbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to systemd: %w", err)
	}
	return &Manager{conn: conn, cache: newStateCache(cacheTTL), now: time.Now}, nil
}

func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.cache.clear()
	return nil
}

// State returns the unit state. A unit systemd does not know is returned
// with LoadState "not-found" and a nil error.
func (m *Manager) State(ctx context.Context, name string) (UnitState, error) {
	now := m.now()
	if st, ok := m.cache.get(name, now); ok {
		return st, nil
	}

	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()
	if conn == nil {
		return UnitState{}, fmt.Errorf("systemd connection is closed")
	}

	st, err := m.read(ctx, conn, name)
	if err != nil {
		return UnitState{}, err
	}
	m.cache.put(name, st, now)
	return st, nil
}

func (m *Manager) read(ctx context.Context, conn *dbus.Conn, name string) (UnitState, error) {
	unit := unitName(name)

	// ListUnitsByPatterns is cheap; the full property map is only fetched
	// for units that are down (to learn since when) or not listed.
	units, err := conn.ListUnitsByPatternsContext(ctx, nil, []string{unit})
	if err == nil && len(units) > 0 {
		u := units[0]
		for _, x := range units {
			if x.Name == unit {
				u = x
				break
			}
		}
		st := UnitState{Name: name, Active: u.ActiveState, SubState: u.SubState, LoadState: u.LoadState, Description: u.Description}
		if st.LoadState == "not-found" || st.SubState == "not-found" {
			return notFound(name), nil
		}
		if st.Running() {
			return st, nil
		}
		if props, perr := conn.GetUnitPropertiesContext(ctx, unit); perr == nil {
			st.Since = parseTimestamp(props, "StateChangeTimestamp")
		}
		return st, nil
	}

	props, err := conn.GetUnitPropertiesContext(ctx, unit)
	if err != nil {
		if isNoSuchUnitErr(err) {
			return notFound(name), nil
		}
		return UnitState{}, fmt.Errorf("failed to get status for %s: %w", name, err)
	}
	loadState, _ := props["LoadState"].(string)
	if loadState == "not-found" {
		return notFound(name), nil
	}
	active, _ := props["ActiveState"].(string)
	sub, _ := props["SubState"].(string)
	desc, _ := props["Description"].(string)
	return UnitState{
		Name:        name,
		Active:      active,
		SubState:    sub,
		LoadState:   loadState,
		Description: desc,
		Since:       parseTimestamp(props, "StateChangeTimestamp"),
	}, nil
}

func parseTimestamp(props map[string]interface{}, key string) time.Time {
	if ts, ok := props[key].(uint64); ok && ts > 0 {
		// microseconds since the Unix epoch
		return time.Unix(int64(ts/1_000_000), 0)
	}
	return time.Time{}
}
