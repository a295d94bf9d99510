package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"serverpal/internal/proactive"
	kit "serverpal/internal/transport"
	logx "serverpal/pkg/logx"
)

var errUsage = errors.New("invalid arguments")

type Command struct {
	Name        string
	Aliases     []string
	Usage       string
	Description string
	Timeout     time.Duration
	Handle      HandlerFunc
}

type Request struct {
	Message *kit.Message
	Chat    kit.ChatTarget
	Command string
	Args    []string
	ReqID   string
	Logger  logx.Logger

	router *Router
}

func (q *Request) Reply(ctx context.Context, text string) {
	q.router.reply(ctx, q.Message, text)
}

func (q *Request) arg(i int) string {
	if i < len(q.Args) {
		return strings.ToLower(q.Args[i])
	}
	return ""
}

func newReqID() string { return uuid.NewString()[:8] }

// parseCommand splits "/cmd@bot a b" into ("cmd", [a b]). Text that is not a
// command yields an empty name.
func parseCommand(text string) (string, []string) {
	if !strings.HasPrefix(text, "/") {
		return "", nil
	}
	parts := strings.Fields(text)
	word := strings.TrimPrefix(parts[0], "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	return strings.ToLower(word), parts[1:]
}

func (r *Router) builtins() []Command {
	return []Command{
		{Name: "status", Aliases: []string{"s"}, Usage: "/status", Description: "Server, alert and message status", Handle: r.cmdStatus},
		{Name: "alerts", Usage: "/alerts [on|off]", Description: "Show or toggle threshold alerts", Handle: r.cmdAlerts},
		{Name: "proactive", Usage: "/proactive [on|off|now [type]|say <text>]", Description: "Show, toggle or trigger proactive messages", Handle: r.cmdProactive},
		{Name: "tasks", Usage: "/tasks", Description: "List scheduled tasks", Handle: r.cmdTasks},
		{Name: "task", Usage: "/task enable|disable|run <name>", Description: "Control a scheduled task", Handle: r.cmdTask},
		{Name: "help", Aliases: []string{"h", "start"}, Usage: "/help", Description: "Show commands", Handle: r.cmdHelp},
	}
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func (r *Router) cmdStatus(ctx context.Context, req *Request) error {
	var b strings.Builder
	b.WriteString("🤖 SERVER STATUS\n\n")
	if p := r.deps.Probe; p != nil {
		b.WriteString(p.Snapshot(ctx).String())
		b.WriteString("\n\n")
	}
	if a := r.deps.Alerts; a != nil {
		st := a.Status()
		fmt.Fprintf(&b, "Alerts: %s (%d checks, %d active)\n", onOff(st.Enabled), st.Checks, len(st.Active))
		for _, is := range st.Active {
			fmt.Fprintf(&b, "  - %s [%s] %.1f\n", is.Key, is.Severity, is.LastValue)
		}
	}
	if p := r.deps.Proactive; p != nil {
		st := p.Status()
		fmt.Fprintf(&b, "Proactive: %s (%d/%d today)\n", onOff(st.Enabled), st.MessagesToday, st.DailyLimit)
	}
	if c := r.deps.Coordinator; c != nil {
		st := c.Status()
		fmt.Fprintf(&b, "Messages today: %d/%d, last hour: %d\n", st.DailyCount, st.DailyLimit, st.MessagesLastHour)
		quiet := ""
		if st.QuietHours {
			quiet = " (active now)"
		}
		fmt.Fprintf(&b, "Quiet hours: %s%s\n", st.QuietWindow, quiet)
	}
	req.Reply(ctx, strings.TrimRight(b.String(), "\n"))
	return nil
}

func (r *Router) cmdAlerts(ctx context.Context, req *Request) error {
	a := r.deps.Alerts
	if a == nil {
		return errors.New("alerting is not configured")
	}
	switch req.arg(0) {
	case "":
	case "on":
		a.SetEnabled(true)
	case "off":
		a.SetEnabled(false)
	default:
		return fmt.Errorf("%w: usage /alerts [on|off]", errUsage)
	}
	req.Reply(ctx, "Alerts are "+onOff(a.Enabled()))
	return nil
}

func (r *Router) cmdProactive(ctx context.Context, req *Request) error {
	p := r.deps.Proactive
	if p == nil {
		return errors.New("proactive messages are not configured")
	}
	switch req.arg(0) {
	case "":
	case "on":
		p.SetEnabled(true)
	case "off":
		p.SetEnabled(false)
	case "now":
		typ := req.arg(1)
		if typ == "" {
			typ = string(proactive.CheckIn)
		}
		out, err := p.TriggerNow(ctx, typ)
		if err != nil {
			names := make([]string, 0, len(proactive.Types()))
			for _, t := range proactive.Types() {
				names = append(names, string(t))
			}
			return fmt.Errorf("%w (types: %s)", err, strings.Join(names, ", "))
		}
		if !out.Sent {
			req.Reply(ctx, fmt.Sprintf("Not sent: %s", out.Reason))
			return nil
		}
		req.Reply(ctx, fmt.Sprintf("Sent %s to %d recipient(s)", out.Type, out.Delivered))
		return nil
	case "say":
		out, err := p.SendManual(ctx, strings.Join(req.Args[1:], " "))
		if err != nil {
			return fmt.Errorf("%w: usage /proactive say <text>", errUsage)
		}
		if !out.Sent {
			req.Reply(ctx, fmt.Sprintf("Not sent: %s", out.Reason))
			return nil
		}
		req.Reply(ctx, fmt.Sprintf("Sent to %d recipient(s)", out.Delivered))
		return nil
	default:
		return fmt.Errorf("%w: usage /proactive [on|off|now [type]|say <text>]", errUsage)
	}
	st := p.Status()
	req.Reply(ctx, fmt.Sprintf("Proactive messages are %s (%d/%d today)", onOff(st.Enabled), st.MessagesToday, st.DailyLimit))
	return nil
}

const stampLayout = "02/01 15:04"

func (r *Router) cmdTasks(ctx context.Context, req *Request) error {
	t := r.deps.Tasks
	if t == nil {
		return errors.New("scheduler is not configured")
	}
	var b strings.Builder
	b.WriteString("⏰ SCHEDULED TASKS\n")
	b.WriteString(strings.Repeat("=", 30))
	b.WriteString("\n")
	for _, info := range t.Tasks() {
		mark := "⛔"
		if info.Enabled {
			mark = "✅"
		}
		last := "Not run yet"
		if !info.LastRun.IsZero() {
			last = info.LastRun.Format(stampLayout)
		}
		fmt.Fprintf(&b, "\n%s %s\n   Schedule: %s\n   Last run: %s\n", mark, info.Name, info.Describe, last)
		if info.LastError != "" {
			fmt.Fprintf(&b, "   Last error: %s\n", info.LastError)
		}
		if !info.Next.IsZero() {
			fmt.Fprintf(&b, "   Next: %s\n", info.Next.Format(stampLayout))
		}
	}
	req.Reply(ctx, strings.TrimRight(b.String(), "\n"))
	return nil
}

func (r *Router) cmdTask(ctx context.Context, req *Request) error {
	t := r.deps.Tasks
	if t == nil {
		return errors.New("scheduler is not configured")
	}
	action, name := req.arg(0), req.arg(1)
	if name == "" {
		return fmt.Errorf("%w: usage /task enable|disable|run <name>", errUsage)
	}
	var err error
	var done string
	switch action {
	case "enable":
		err, done = t.Enable(name), "enabled"
	case "disable":
		err, done = t.Disable(name), "disabled"
	case "run":
		err, done = t.RunNow(ctx, name), "finished"
	default:
		return fmt.Errorf("%w: usage /task enable|disable|run <name>", errUsage)
	}
	if err != nil {
		return err
	}
	req.Reply(ctx, fmt.Sprintf("Task %s %s", name, done))
	return nil
}

func (r *Router) cmdHelp(ctx context.Context, req *Request) error {
	var b strings.Builder
	b.WriteString("Commands:\n")
	for _, c := range r.Commands() {
		fmt.Fprintf(&b, "%s - %s\n", c.Usage, c.Description)
	}
	req.Reply(ctx, strings.TrimRight(b.String(), "\n"))
	return nil
}
