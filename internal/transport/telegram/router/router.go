// Package router turns inbound Telegram messages from the owners into
// operational commands. Every owner message counts as user activity, and
// every command execution is written to the audit log.
package router

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"serverpal/internal/activity"
	"serverpal/internal/alerter"
	"serverpal/internal/coordinator"
	"serverpal/internal/proactive"
	"serverpal/internal/probe"
	rtsup "serverpal/internal/runtime/supervisor"
	"serverpal/internal/storage"
	"serverpal/internal/task/scheduler"
	kit "serverpal/internal/transport"
	logx "serverpal/pkg/logx"
)

const (
	defaultWorkers = 2
	defaultTimeout = 90 * time.Second
)

type Config struct {
	Owners  []int64
	Workers int
	// Timeout bounds one command handler.
	Timeout time.Duration
}

type AlertsPort interface {
	SetEnabled(on bool)
	Enabled() bool
	Status() alerter.Status
}

type ProactivePort interface {
	SetEnabled(on bool)
	Status() proactive.Status
	TriggerNow(ctx context.Context, typ string) (proactive.Outcome, error)
	SendManual(ctx context.Context, text string) (proactive.Outcome, error)
}

type TasksPort interface {
	Tasks() []scheduler.TaskInfo
	Enable(name string) error
	Disable(name string) error
	RunNow(ctx context.Context, name string) error
}

type CoordinatorPort interface {
	Status() coordinator.Status
}

type SnapshotPort interface {
	Snapshot(ctx context.Context) probe.Snapshot
}

type ActivityPort interface {
	Record(e activity.Event) activity.Event
}

type AuditPort interface {
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
}

// Deps are the services commands act on. Nil ports disable the commands
// that need them.
type Deps struct {
	Sender      kit.Sender
	Alerts      AlertsPort
	Proactive   ProactivePort
	Tasks       TasksPort
	Coordinator CoordinatorPort
	Probe       SnapshotPort
	Activity    ActivityPort
	Audit       AuditPort
}

type Router struct {
	cfg  Config
	deps Deps
	log  logx.Logger
	now  func() time.Time

	commands map[string]*Command
	order    []string

	unauthorized atomic.Uint64
}

func New(cfg Config, deps Deps, log logx.Logger) *Router {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	cfg.Owners = append([]int64(nil), cfg.Owners...)
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Router{
		cfg:      cfg,
		deps:     deps,
		log:      log.With(logx.String("comp", "router")),
		now:      time.Now,
		commands: map[string]*Command{},
	}
	for _, c := range r.builtins() {
		r.register(c)
	}
	return r
}

func (r *Router) register(c Command) {
	cc := c
	r.commands[c.Name] = &cc
	r.order = append(r.order, c.Name)
	for _, a := range c.Aliases {
		if _, taken := r.commands[a]; !taken {
			r.commands[a] = &cc
		}
	}
}

// Commands lists registered commands in registration order.
func (r *Router) Commands() []Command {
	out := make([]Command, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, *r.commands[name])
	}
	return out
}

// Run consumes updates with a small worker pool until ctx is cancelled or
// updates is closed.
func (r *Router) Run(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.New(ctx, rtsup.WithLogger(r.log), rtsup.WithCancelOnError(false))
	r.log.Info("command dispatcher started", logx.Int("workers", r.cfg.Workers))
	for i := 0; i < r.cfg.Workers; i++ {
		sup.GoRestart(fmt.Sprintf("command.worker.%d", i), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case up, ok := <-updates:
					if !ok {
						return nil
					}
					r.Handle(c, up)
				}
			}
		}, rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}
	err := sup.Wait(context.Background())
	r.log.Info("command dispatcher stopped")
	return err
}

// Handle processes one update synchronously.
func (r *Router) Handle(ctx context.Context, up kit.Update) {
	if up.Kind != kit.UpdateMessage || up.Message == nil {
		return
	}
	msg := up.Message
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}
	if !r.isOwner(msg.FromID) {
		n := r.unauthorized.Add(1)
		r.log.Debug("ignored non-owner message", logx.Int64("from_id", msg.FromID), logx.Uint64("total", n))
		if strings.HasPrefix(text, "/") && !msg.IsGroup {
			r.reply(ctx, msg, "unauthorized")
		}
		return
	}

	name, args := parseCommand(text)
	r.recordActivity(msg, name)
	if name == "" {
		return
	}
	cmd, ok := r.commands[name]
	if !ok {
		r.reply(ctx, msg, "Unknown command. Try /help")
		return
	}

	req := &Request{
		Message: msg,
		Chat:    kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID},
		Command: cmd.Name,
		Args:    args,
		ReqID:   newReqID(),
		router:  r,
	}
	req.Logger = r.log.With(
		logx.String("rid", req.ReqID),
		logx.Int64("chat_id", msg.ChatID),
		logx.Int64("from_id", msg.FromID),
		logx.String("cmd", cmd.Name),
	)
	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = r.cfg.Timeout
	}
	final := Chain(cmd.Handle,
		MWAudit(r.deps.Audit, r.now),
		MWPanicRecover(r.log),
		MWRequestLog(r.log),
		MWTimeout(timeout),
	)
	if err := final(ctx, req); err != nil {
		req.Reply(ctx, "Error: "+err.Error())
	}
}

func (r *Router) recordActivity(msg *kit.Message, cmd string) {
	if r.deps.Activity == nil {
		return
	}
	desc := "Message from owner"
	sub := "message"
	if cmd != "" {
		desc = "Command /" + cmd
		sub = "command"
	}
	r.deps.Activity.Record(activity.Event{
		Type:        activity.UserActivity,
		Subtype:     sub,
		Description: desc,
		Importance:  activity.Info,
		Source:      "telegram",
		Details: map[string]any{
			"user_id":  msg.FromID,
			"username": msg.FromUsername,
			"chat_id":  msg.ChatID,
		},
	})
}

func (r *Router) isOwner(id int64) bool {
	for _, o := range r.cfg.Owners {
		if o == id {
			return true
		}
	}
	return false
}

func (r *Router) reply(ctx context.Context, msg *kit.Message, text string) {
	if r.deps.Sender == nil {
		return
	}
	to := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	if _, err := r.deps.Sender.SendText(ctx, to, text, &kit.SendOptions{DisablePreview: true}); err != nil {
		r.log.Warn("reply failed", logx.Int64("chat_id", msg.ChatID), logx.Err(err))
	}
}

// RegisterMenu publishes the command menu when the sender supports it.
func (r *Router) RegisterMenu(ctx context.Context) error {
	up, ok := r.deps.Sender.(kit.CommandMenuUpdater)
	if !ok {
		return nil
	}
	return up.UpdateMenuCommands(ctx, buildMenu(r.Commands()))
}
