// Package systemdmanager reads systemd unit state over D-Bus.
package systemdmanager

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

var ErrUnsupported = errors.New("systemdmanager: unsupported OS (linux only)")

// UnitState is the core state of one service unit.
type UnitState struct {
	Name        string    `json:"name"`
	Active      string    `json:"active"`     // active, inactive, failed, ...
	SubState    string    `json:"sub_state"`  // running, dead, ...
	LoadState   string    `json:"load_state"` // loaded, not-found, ...
	Description string    `json:"description,omitempty"`
	Since       time.Time `json:"since,omitempty"` // last state change, if known
}

// Found reports whether systemd knows the unit.
func (s UnitState) Found() bool { return s.LoadState != "not-found" }

// Running reports whether the unit is active.
func (s UnitState) Running() bool { return s.Active == "active" }

func notFound(name string) UnitState {
	return UnitState{Name: name, Active: "unknown", SubState: "not-found", LoadState: "not-found"}
}

// unitName appends ".service" unless the name already has a unit suffix.
func unitName(name string) string {
	if strings.Contains(name, ".") {
		return name
	}
	return name + ".service"
}

func isNoSuchUnitErr(err error) bool {
	if err == nil {
		return false
	}
	es := err.Error()
	return strings.Contains(es, "NoSuchUnit") || strings.Contains(es, "not-found")
}

const (
	defaultStateTTL      = 5 * time.Second
	maxStateCacheEntries = 256
)

type stateEntry struct {
	state   UnitState
	expires time.Time
}

// stateCache memoizes unit states for a short TTL so several readers in
// the same tick share one D-Bus round trip.
type stateCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]stateEntry
}

func newStateCache(ttl time.Duration) *stateCache {
	if ttl == 0 {
		ttl = defaultStateTTL
	}
	return &stateCache{ttl: ttl, entries: map[string]stateEntry{}}
}

func (c *stateCache) get(name string, now time.Time) (UnitState, bool) {
	if c.ttl < 0 {
		return UnitState{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	ent, ok := c.entries[name]
	if !ok || !now.Before(ent.expires) {
		return UnitState{}, false
	}
	return ent.state, true
}

func (c *stateCache) put(name string, st UnitState, now time.Time) {
	if c.ttl < 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[name] = stateEntry{state: st, expires: now.Add(c.ttl)}
	if len(c.entries) > maxStateCacheEntries {
		c.cleanupLocked(now)
		c.pruneLocked()
	}
}

func (c *stateCache) clear() {
	c.mu.Lock()
	clear(c.entries)
	c.mu.Unlock()
}

func (c *stateCache) cleanupLocked(now time.Time) {
	for k, ent := range c.entries {
		if !now.Before(ent.expires) {
			delete(c.entries, k)
		}
	}
}

// pruneLocked drops the earliest-expiring entries above the size cap.
func (c *stateCache) pruneLocked() {
	excess := len(c.entries) - maxStateCacheEntries
	if excess <= 0 {
		return
	}
	type kv struct {
		k string
		e time.Time
	}
	items := make([]kv, 0, len(c.entries))
	for k, ent := range c.entries {
		items = append(items, kv{k: k, e: ent.expires})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].e.Before(items[j].e) })
	for i := 0; i < excess; i++ {
		delete(c.entries, items[i].k)
	}
}
