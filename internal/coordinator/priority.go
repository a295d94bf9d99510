package coordinator

import (
	"fmt"
	"strings"
	"time"
)

// Priority is a message class. Lower values are more urgent.
type Priority int

const (
	Critical Priority = iota
	Alert
	Proactive
	Info

	numPriorities
)

var priorityNames = [numPriorities]string{"CRITICAL", "ALERT", "PROACTIVE", "INFO"}

// Priorities lists every class, most urgent first.
func Priorities() []Priority { return []Priority{Critical, Alert, Proactive, Info} }

func (p Priority) Valid() bool { return p >= 0 && p < numPriorities }

func (p Priority) String() string {
	if !p.Valid() {
		return fmt.Sprintf("Priority(%d)", int(p))
	}
	return priorityNames[p]
}

func (p Priority) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func ParsePriority(s string) (Priority, error) {
	for i, n := range priorityNames {
		if strings.EqualFold(strings.TrimSpace(s), n) {
			return Priority(i), nil
		}
	}
	return 0, fmt.Errorf("unknown priority %q", s)
}

// Intervals is the per-priority minimum spacing between two messages of
// the same class.
type Intervals [numPriorities]time.Duration

func DefaultIntervals() Intervals {
	return Intervals{
		Critical:  5 * time.Minute,
		Alert:     30 * time.Minute,
		Proactive: 120 * time.Minute,
		Info:      240 * time.Minute,
	}
}

// Rule names the admission rule behind a Decision.
type Rule int

const (
	RuleOK Rule = iota
	RuleDailyLimit
	RuleQuietHours
	RuleGlobalCooldown
	RulePriorityCooldown
	RuleDuplicate
)

var ruleNames = [...]string{"ok", "daily_limit", "quiet_hours", "global_cooldown", "priority_cooldown", "duplicate"}

func (r Rule) String() string {
	if r < 0 || int(r) >= len(ruleNames) {
		return fmt.Sprintf("Rule(%d)", int(r))
	}
	return ruleNames[r]
}

func (r Rule) MarshalText() ([]byte, error) { return []byte(r.String()), nil }
