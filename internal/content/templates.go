package content

import (
	"fmt"
	"strings"
	"time"
)

// Message kinds shared by the alerter and the proactive engine.
const (
	KindMorningGreeting = "morning_greeting"
	KindDailySummary    = "daily_summary"
	KindWeeklySummary   = "weekly_summary"
	KindServerIdle      = "server_idle"
	KindServerBusy      = "server_busy"
	KindInsight         = "insight"
	KindReminder        = "reminder"
	KindSuggestion      = "suggestion"
	KindCheckIn         = "check_in"

	KindGPUHot      = "gpu_hot"
	KindGPUCool     = "gpu_cool"
	KindDiskFull    = "disk_full"
	KindDiskOK      = "disk_ok"
	KindMemoryHigh  = "memory_high"
	KindMemoryOK    = "memory_ok"
	KindServiceDown = "service_down"
	KindServiceUp   = "service_up"
)

const defaultHeader = "AI Assistant"

var proactiveHeaders = map[string]string{
	KindMorningGreeting: "Good Morning!",
	KindDailySummary:    "Daily Summary",
	KindServerIdle:      "Suggestion",
	KindWeeklySummary:   "Weekly Summary",
	KindCheckIn:         "Hello!",
	KindInsight:         "Observation",
	KindSuggestion:      "Suggestion",
}

var alertMarks = map[string]string{
	KindServiceDown: "🔴",
	KindServiceUp:   "🟢",
	KindGPUHot:      "🌡️",
	KindGPUCool:     "❄️",
	KindDiskFull:    "💾",
	KindDiskOK:      "✅",
	KindMemoryHigh:  "🧠",
	KindMemoryOK:    "✅",
}

// Header is the first line of a proactive message of kind.
func Header(kind string) string {
	if h, ok := proactiveHeaders[kind]; ok {
		return h
	}
	return defaultHeader
}

// FormatProactive prefixes text with the kind header unless the text already
// starts with one of the known headers.
func FormatProactive(kind, text string) string {
	text = strings.TrimSpace(text)
	for _, h := range proactiveHeaders {
		if strings.HasPrefix(text, h) {
			return text
		}
	}
	if strings.HasPrefix(text, defaultHeader) {
		return text
	}
	return Header(kind) + "\n\n" + text
}

// FormatAlert prefixes text with the alert mark unless it already has one.
func FormatAlert(kind, text string) string {
	text = strings.TrimSpace(text)
	for _, m := range alertMarks {
		if strings.HasPrefix(text, m) {
			return text
		}
	}
	if strings.HasPrefix(text, "⚠️") || strings.HasPrefix(text, "📢") {
		return text
	}
	mark, ok := alertMarks[kind]
	if !ok {
		mark = "📢"
	}
	return mark + " " + text
}

// ProactiveFallback is the static text used when generation fails.
func ProactiveFallback(kind string, now time.Time) string {
	switch kind {
	case KindMorningGreeting:
		return "Good Morning!\n\nToday is " + now.Format("January 02 2006, Monday") +
			". Server is running and waiting for you. Have a productive day!"
	case KindDailySummary:
		return "Daily Summary\n\nToday is complete. Server ran without issues. See you tomorrow!"
	case KindServerIdle:
		return "Suggestion\n\nThe server is currently idle and resources are available. Maybe this is a good time for an experiment or POC?"
	case KindWeeklySummary:
		return "Weekly Summary\n\nAnother week behind us. Recharge your energy for next week!"
	default:
		return "Hello from your AI assistant!"
	}
}

// AlertFallback is the static text for an alert or recovery.
func AlertFallback(kind, subject string, value float64) string {
	switch kind {
	case KindServiceDown:
		return fmt.Sprintf("🔴 %s service is currently not running.\n\nTo start: systemctl start %s", subject, subject)
	case KindServiceUp:
		return fmt.Sprintf("🟢 %s service is running again!", subject)
	case KindGPUHot:
		return fmt.Sprintf("🌡️ GPU temperature is high: %.0f°C\n\nCheck workload.", value)
	case KindGPUCool:
		return fmt.Sprintf("❄️ GPU temperature is back to normal: %.0f°C", value)
	case KindDiskFull:
		return fmt.Sprintf("💾 Disk filling up: %.0f%%\n\nCheck large directories and old logs.", value)
	case KindDiskOK:
		return fmt.Sprintf("✅ Disk usage is back to normal: %.0f%%", value)
	case KindMemoryHigh:
		return fmt.Sprintf("🧠 Memory usage is high: %.0f%%", value)
	case KindMemoryOK:
		return fmt.Sprintf("✅ Memory usage is back to normal: %.0f%%", value)
	default:
		return "📢 Notification: " + kind
	}
}

const ProactiveSystemPrompt = `You are the user's personal AI assistant. You send proactive and personalized messages.

Your task:
- Write personalized messages using information about the user
- Summarize server status and activities
- Be appropriate for time and context (morning greeting, evening summary, etc.)
- Reference the user's interests and goals
- Use a friendly but professional tone
- Be brief and concise (2-4 paragraphs max)
- Use emojis but don't overdo it

IMPORTANT:
- Address the user informally
- Provide information and suggestions, not requests or commands
- Don't make it feel like spam, add value
- Avoid unnecessary repetition`

const AlertSystemPrompt = `You are the user's personal AI assistant. You write informative messages about server status.

RULES:
- Be friendly and conversational, not robotic
- Keep it short and concise (2-3 paragraphs max)
- Address the user directly
- Explain the issue and suggest solutions
- Use emojis but don't overdo it
- Don't be overly dramatic, inform calmly

FORMAT:
- First line: Summarize the situation
- Second paragraph: What can be done`

// PromptContext is the material a proactive prompt is built from.
type PromptContext struct {
	Now      time.Time
	Profile  string
	Activity string
	Summary  string
	Metrics  string
}

func (pc PromptContext) base() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Current time: %s\n\n", pc.Now.Format("2006-01-02 15:04 (Monday)"))
	if pc.Profile != "" {
		b.WriteString(pc.Profile)
		b.WriteString("\n\n")
	}
	if pc.Activity != "" {
		b.WriteString(pc.Activity)
		b.WriteString("\n")
	}
	return b.String()
}

// ProactivePrompt builds the user prompt for kind.
func ProactivePrompt(kind string, pc PromptContext) string {
	base := pc.base()
	switch kind {
	case KindMorningGreeting:
		return base + `
Say good morning to the user and write a motivating message for today.
- If it's a weekday, focus on work/research
- If it's a weekend, focus on rest/hobbies
- Briefly summarize server status
- Provide a suggestion for today (based on their interests)`
	case KindDailySummary:
		return base + "\nToday's Summary:\n" + pc.Summary + `

Give the user a brief end-of-day summary:
- What happened on the server today
- How was GPU/system usage
- A suggestion for tomorrow`
	case KindServerIdle:
		return base + "\nSystem Metrics:\n" + pc.Metrics + `

The server is currently idle and resources are available.
Suggest to the user:
- Something from their interests
- A specific and actionable suggestion
- But don't be pushy, just a reminder`
	case KindWeeklySummary:
		return base + `
Give the user a weekly summary:
- What they did this week (if you have info)
- How the server performed
- Motivation for next week`
	case KindCheckIn:
		return base + `
Write a friendly "how are you" message to the user:
- Mention if you haven't talked in a while
- Ask about one of their interests
- Mention that you're there to help`
	default:
		return base + "\nWrite a brief and friendly message to the user."
	}
}

// AlertPrompt builds the user prompt for an alert or recovery.
func AlertPrompt(kind, subject string, value float64, snapshot string) string {
	base := "CURRENT SYSTEM STATE:\n" + snapshot + "\n\n"
	switch kind {
	case KindServiceDown:
		return base + fmt.Sprintf("SITUATION: %s service is not running!\n\nWrite a short, friendly message to inform the user. Remind what the service does and how to start it.", subject)
	case KindServiceUp:
		return base + fmt.Sprintf("SITUATION: %s service is running again!\n\nWrite a short \"good news\" message.", subject)
	case KindGPUHot:
		return base + fmt.Sprintf("SITUATION: GPU temperature is %.0f°C - high!\n\nWrite a warning message with possible causes and what can be done.", value)
	case KindDiskFull:
		return base + fmt.Sprintf("SITUATION: Disk usage is %.0f%% - running low!\n\nWrite a disk warning and suggest cleanup steps.", value)
	case KindMemoryHigh:
		return base + fmt.Sprintf("SITUATION: Memory usage is %.0f%% - high!\n\nWrite a short warning and suggest what to check.", value)
	default:
		return base + fmt.Sprintf("SITUATION: %s (%s, value %.0f)\n\nWrite a short status update.", kind, subject, value)
	}
}
