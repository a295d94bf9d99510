package proactive

import (
	"errors"
	"fmt"
	"strings"

	"serverpal/internal/content"
	"serverpal/internal/coordinator"
)

var (
	ErrUnknownType  = errors.New("proactive: unknown message type")
	ErrEmptyMessage = errors.New("proactive: empty message")
)

type MessageType string

const (
	MorningGreeting MessageType = content.KindMorningGreeting
	DailySummary    MessageType = content.KindDailySummary
	WeeklySummary   MessageType = content.KindWeeklySummary
	ServerIdle      MessageType = content.KindServerIdle
	ServerBusy      MessageType = content.KindServerBusy
	Insight         MessageType = content.KindInsight
	Reminder        MessageType = content.KindReminder
	Suggestion      MessageType = content.KindSuggestion
	CheckIn         MessageType = content.KindCheckIn

	// Manual is owner-written text sent through SendManual. It is not a
	// decision type and ParseType does not accept it.
	Manual MessageType = "manual"
)

// Types lists every message type in declaration order.
func Types() []MessageType {
	return []MessageType{MorningGreeting, DailySummary, WeeklySummary, ServerIdle, ServerBusy, Insight, Reminder, Suggestion, CheckIn}
}

func ParseType(s string) (MessageType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, t := range Types() {
		if string(t) == s {
			return t, nil
		}
	}
	return "", ErrUnknownType
}

// Priority: scheduled kinds are PROACTIVE, everything else INFO.
func (t MessageType) Priority() coordinator.Priority {
	switch t {
	case MorningGreeting, DailySummary, WeeklySummary:
		return coordinator.Proactive
	default:
		return coordinator.Info
	}
}

func (t MessageType) dedupKey() string { return "proactive_" + string(t) }

// Clock is a local wall-clock time of day.
type Clock struct {
	Hour   int
	Minute int
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}
