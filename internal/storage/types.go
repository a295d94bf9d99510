package storage

import (
	"context"
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// If Driver is empty, "none", "off" or "disabled", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// EventRecord is one persisted activity event. Details is a JSON object.
type EventRecord struct {
	ID          string    `json:"id"`
	At          time.Time `json:"at"`
	Type        string    `json:"type"`
	Subtype     string    `json:"subtype,omitempty"`
	Description string    `json:"description"`
	Importance  string    `json:"importance"`
	Source      string    `json:"source,omitempty"`
	Service     string    `json:"service,omitempty"`
	Details     string    `json:"details,omitempty"`
}

// AuditEntry records an operator command.
type AuditEntry struct {
	At            time.Time `json:"at"`
	ActorID       int64     `json:"actor_id"`
	ActorUsername string    `json:"actor_username,omitempty"`
	ChatID        int64     `json:"chat_id"`
	Command       string    `json:"command"`
	Args          string    `json:"args,omitempty"`
	OK            bool      `json:"ok"`
	Error         string    `json:"error,omitempty"`
	TookMS        int64     `json:"took_ms"`
}

// Store is the persistence API used by the activity log and the router.
type Store interface {
	AppendEvents(ctx context.Context, events []EventRecord) error
	// RecentEvents returns events at or after since, oldest first, keeping
	// the newest limit entries (limit <= 0 means all).
	RecentEvents(ctx context.Context, since time.Time, limit int) ([]EventRecord, error)
	// PruneEvents deletes events older than before and reports how many.
	PruneEvents(ctx context.Context, before time.Time) (int, error)
	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}
