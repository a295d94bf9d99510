// Package activity keeps the server event log: a bounded in-memory window of
// recent events, optionally persisted through storage. It feeds the idle
// detection and the LLM prompts with "what happened on the server".
package activity

import (
	"encoding/json"
	"time"

	"serverpal/internal/storage"
)

type EventType string

const (
	ServiceEvent  EventType = "service_event"
	GPUActivity   EventType = "gpu_activity"
	UserActivity  EventType = "user_activity"
	SystemMetric  EventType = "system_metric"
	AITask        EventType = "ai_task"
	ScheduledTask EventType = "scheduled_task"
	FileOperation EventType = "file_operation"
	Alert         EventType = "alert"
)

type Importance string

const (
	Debug     Importance = "debug"
	Info      Importance = "info"
	Notable   Importance = "notable"
	Important Importance = "important"
	Critical  Importance = "critical"
)

var importanceRank = map[Importance]int{Debug: 0, Info: 1, Notable: 2, Important: 3, Critical: 4}

// AtLeast reports whether i ranks at or above min. Unknown values rank as info.
func (i Importance) AtLeast(min Importance) bool {
	r, ok := importanceRank[i]
	if !ok {
		r = importanceRank[Info]
	}
	return r >= importanceRank[min]
}

func (i Importance) emoji() string {
	switch i {
	case Debug:
		return "🔍"
	case Notable:
		return "📌"
	case Important:
		return "⚠️"
	case Critical:
		return "🚨"
	default:
		return "ℹ️"
	}
}

type Event struct {
	ID          string         `json:"id"`
	At          time.Time      `json:"at"`
	Type        EventType      `json:"type"`
	Subtype     string         `json:"subtype,omitempty"`
	Description string         `json:"description"`
	Importance  Importance     `json:"importance"`
	Source      string         `json:"source,omitempty"`
	Service     string         `json:"service,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
}

func (e Event) record() storage.EventRecord {
	rec := storage.EventRecord{
		ID:          e.ID,
		At:          e.At,
		Type:        string(e.Type),
		Subtype:     e.Subtype,
		Description: e.Description,
		Importance:  string(e.Importance),
		Source:      e.Source,
		Service:     e.Service,
	}
	if len(e.Details) > 0 {
		if b, err := json.Marshal(e.Details); err == nil {
			rec.Details = string(b)
		}
	}
	return rec
}

func fromRecord(rec storage.EventRecord) Event {
	e := Event{
		ID:          rec.ID,
		At:          rec.At,
		Type:        EventType(rec.Type),
		Subtype:     rec.Subtype,
		Description: rec.Description,
		Importance:  Importance(rec.Importance),
		Source:      rec.Source,
		Service:     rec.Service,
	}
	if rec.Details != "" {
		_ = json.Unmarshal([]byte(rec.Details), &e.Details)
	}
	return e
}
