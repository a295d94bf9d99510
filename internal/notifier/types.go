package notifier

import (
	"time"

	"serverpal/internal/transport"
)

type Config struct {
	Recipients  []transport.ChatTarget
	RatePerSec  int
	SendTimeout time.Duration
	HistorySize int
	// ParseMode is passed to the transport; empty sends plain text.
	ParseMode string
}

// Message is one notification for all recipients.
type Message struct {
	Source   string
	Priority string
	Kind     string
	Text     string
}

// Result counts per-recipient outcomes. Attempted is the number of sends
// actually issued; a cancelled context stops the fan-out early.
type Result struct {
	Attempted int
	Delivered int
	Failed    int
}

func (r Result) OK() bool { return r.Delivered > 0 }

type HistoryItem struct {
	At        time.Time `json:"at"`
	Source    string    `json:"source"`
	Kind      string    `json:"kind"`
	Priority  string    `json:"priority"`
	Delivered int       `json:"delivered"`
	Failed    int       `json:"failed"`
}

// NotificationEvent is emitted on the event bus for every recipient send.
type NotificationEvent struct {
	Source   string    `json:"source"`
	Kind     string    `json:"kind"`
	ChatID   int64     `json:"chat_id"`
	ThreadID int       `json:"thread_id,omitempty"`
	At       time.Time `json:"at"`
	Error    string    `json:"error,omitempty"`
}
