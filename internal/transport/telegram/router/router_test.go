package router

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"serverpal/internal/activity"
	"serverpal/internal/alerter"
	"serverpal/internal/proactive"
	"serverpal/internal/storage"
	"serverpal/internal/task/scheduler"
	kit "serverpal/internal/transport"
	logx "serverpal/pkg/logx"
)

const owner = 42

type fakeSender struct {
	mu    sync.Mutex
	texts []string
	menu  []kit.BotCommand
}

func (f *fakeSender) SendText(_ context.Context, _ kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	f.texts = append(f.texts, text)
	f.mu.Unlock()
	return kit.MessageRef{}, nil
}

func (f *fakeSender) UpdateMenuCommands(_ context.Context, cmds []kit.BotCommand) error {
	f.menu = cmds
	return nil
}

func (f *fakeSender) last() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.texts) == 0 {
		return ""
	}
	return f.texts[len(f.texts)-1]
}

type fakeAlerts struct{ on bool }

func (f *fakeAlerts) SetEnabled(on bool)     { f.on = on }
func (f *fakeAlerts) Enabled() bool          { return f.on }
func (f *fakeAlerts) Status() alerter.Status { return alerter.Status{Enabled: f.on, Checks: 3} }

type fakeTasks struct {
	enabled map[string]bool
	ran     []string
	fail    error
}

func (f *fakeTasks) Tasks() []scheduler.TaskInfo {
	return []scheduler.TaskInfo{{Name: "activity_cleanup", Describe: "Daily at 03:30", Enabled: f.enabled["activity_cleanup"]}}
}

func (f *fakeTasks) set(name string, on bool) error {
	if _, ok := f.enabled[name]; !ok {
		return scheduler.ErrUnknownTask
	}
	f.enabled[name] = on
	return nil
}

func (f *fakeTasks) Enable(name string) error  { return f.set(name, true) }
func (f *fakeTasks) Disable(name string) error { return f.set(name, false) }
func (f *fakeTasks) RunNow(_ context.Context, name string) error {
	f.ran = append(f.ran, name)
	return f.fail
}

type fakeActivity struct{ events []activity.Event }

func (f *fakeActivity) Record(e activity.Event) activity.Event {
	f.events = append(f.events, e)
	return e
}

type fakeProactive struct {
	on     bool
	manual []string
}

func (f *fakeProactive) SetEnabled(on bool) { f.on = on }
func (f *fakeProactive) Status() proactive.Status {
	return proactive.Status{Enabled: f.on, DailyLimit: 5}
}

func (f *fakeProactive) TriggerNow(_ context.Context, typ string) (proactive.Outcome, error) {
	t, err := proactive.ParseType(typ)
	if err != nil {
		return proactive.Outcome{}, err
	}
	return proactive.Outcome{Type: t, Sent: true, Delivered: 1}, nil
}

func (f *fakeProactive) SendManual(_ context.Context, text string) (proactive.Outcome, error) {
	if strings.TrimSpace(text) == "" {
		return proactive.Outcome{}, proactive.ErrEmptyMessage
	}
	f.manual = append(f.manual, text)
	return proactive.Outcome{Type: proactive.Manual, Sent: true, Delivered: 2}, nil
}

type fakeAudit struct{ entries []storage.AuditEntry }

func (f *fakeAudit) AppendAudit(_ context.Context, e storage.AuditEntry) error {
	f.entries = append(f.entries, e)
	return nil
}

type fixture struct {
	r      *Router
	sender *fakeSender
	alerts *fakeAlerts
	tasks  *fakeTasks
	act    *fakeActivity
	audit  *fakeAudit
}

func newFixture() *fixture {
	f := &fixture{
		sender: &fakeSender{},
		alerts: &fakeAlerts{on: true},
		tasks:  &fakeTasks{enabled: map[string]bool{"activity_cleanup": true}},
		act:    &fakeActivity{},
		audit:  &fakeAudit{},
	}
	f.r = New(Config{Owners: []int64{owner}}, Deps{
		Sender:   f.sender,
		Alerts:   f.alerts,
		Tasks:    f.tasks,
		Activity: f.act,
		Audit:    f.audit,
	}, logx.Nop())
	return f
}

func (f *fixture) send(from int64, text string) {
	f.r.Handle(context.Background(), kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{
		ChatID: from, FromID: from, FromUsername: "op", Text: text,
	}})
}

func TestParseCommand(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		name string
		args []string
	}{
		{"/status", "status", nil},
		{"/Task@serverpal_bot run  daily_report", "task", []string{"run", "daily_report"}},
		{"hello there", "", nil},
	}
	for _, tc := range cases {
		name, args := parseCommand(tc.in)
		if name != tc.name || strings.Join(args, ",") != strings.Join(tc.args, ",") {
			t.Fatalf("%q: got %q %v", tc.in, name, args)
		}
	}
}

func TestNonOwnerIsRejected(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.send(7, "/alerts off")
	if !f.alerts.on {
		t.Fatalf("non-owner toggled alerts")
	}
	if f.sender.last() != "unauthorized" {
		t.Fatalf("reply=%q", f.sender.last())
	}
	if len(f.act.events) != 0 || len(f.audit.entries) != 0 {
		t.Fatalf("non-owner recorded: %v %v", f.act.events, f.audit.entries)
	}
}

func TestOwnerMessagesCountAsActivity(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.send(owner, "just chatting")
	f.send(owner, "/tasks")
	if len(f.act.events) != 2 {
		t.Fatalf("events=%d", len(f.act.events))
	}
	for _, e := range f.act.events {
		if e.Type != activity.UserActivity {
			t.Fatalf("event=%+v", e)
		}
	}
	if f.act.events[1].Subtype != "command" {
		t.Fatalf("second event=%+v", f.act.events[1])
	}
	if len(f.audit.entries) != 1 || f.audit.entries[0].Command != "tasks" || !f.audit.entries[0].OK {
		t.Fatalf("audit=%+v", f.audit.entries)
	}
}

func TestAlertsToggle(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.send(owner, "/alerts off")
	if f.alerts.on || f.sender.last() != "Alerts are off" {
		t.Fatalf("on=%v reply=%q", f.alerts.on, f.sender.last())
	}
	f.send(owner, "/alerts maybe")
	if !strings.HasPrefix(f.sender.last(), "Error: invalid arguments") {
		t.Fatalf("reply=%q", f.sender.last())
	}
	if e := f.audit.entries[len(f.audit.entries)-1]; e.OK || e.Args != "maybe" {
		t.Fatalf("audit=%+v", e)
	}
}

func TestTaskCommands(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.send(owner, "/task disable activity_cleanup")
	if f.tasks.enabled["activity_cleanup"] {
		t.Fatalf("task still enabled")
	}
	f.send(owner, "/task run activity_cleanup")
	if len(f.tasks.ran) != 1 || f.sender.last() != "Task activity_cleanup finished" {
		t.Fatalf("ran=%v reply=%q", f.tasks.ran, f.sender.last())
	}
	f.send(owner, "/task enable nope")
	if !strings.Contains(f.sender.last(), "unknown task") {
		t.Fatalf("reply=%q", f.sender.last())
	}

	f.tasks.fail = errors.New("disk busy")
	f.send(owner, "/task run activity_cleanup")
	if f.sender.last() != "Error: disk busy" {
		t.Fatalf("reply=%q", f.sender.last())
	}

	f.send(owner, "/tasks")
	if !strings.Contains(f.sender.last(), "Schedule: Daily at 03:30") {
		t.Fatalf("tasks=%q", f.sender.last())
	}
}

func TestUnknownCommand(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.send(owner, "/reboot")
	if f.sender.last() != "Unknown command. Try /help" {
		t.Fatalf("reply=%q", f.sender.last())
	}
}

func TestMissingPortIsAnError(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.send(owner, "/proactive now")
	if !strings.Contains(f.sender.last(), "not configured") {
		t.Fatalf("reply=%q", f.sender.last())
	}
}

func TestMenuListsPrimaryCommands(t *testing.T) {
	t.Parallel()

	f := newFixture()
	if err := f.r.RegisterMenu(context.Background()); err != nil {
		t.Fatalf("menu: %v", err)
	}
	var names []string
	for _, c := range f.sender.menu {
		names = append(names, c.Command)
	}
	if got := strings.Join(names, ","); got != "status,alerts,proactive,tasks,task,help" {
		t.Fatalf("menu=%s", got)
	}
}

func TestRunDrainsUpdates(t *testing.T) {
	t.Parallel()

	f := newFixture()
	updates := make(chan kit.Update, 2)
	updates <- kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: owner, FromID: owner, Text: "/alerts off"}}
	close(updates)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := f.r.Run(ctx, updates); err != nil {
		t.Fatalf("run: %v", err)
	}
	if f.alerts.on {
		t.Fatalf("update not handled")
	}
}

func TestCommandName(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"status":      "status",
		"Task-Run":    "task_run",
		"  a  b ":     "a_b",
		"weird!!name": "weirdname",
	}
	cases[strings.Repeat("x", 40)] = strings.Repeat("x", 32)
	for in, want := range cases {
		if got := commandName(in); got != want {
			t.Fatalf("%q: got %q want %q", in, got, want)
		}
	}
}

func TestBuildMenu(t *testing.T) {
	t.Parallel()

	menu := buildMenu([]Command{
		{Name: "status", Description: "Server\nstatus"},
		{Name: "Status"},
		{Name: "!!"},
		{Name: "task-run"},
	})
	if len(menu) != 2 {
		t.Fatalf("menu=%+v", menu)
	}
	if menu[0].Command != "status" || menu[0].Description != "🔒 Server status" {
		t.Fatalf("first=%+v", menu[0])
	}
	if menu[1].Command != "task_run" || menu[1].Description != "🔒 task_run" {
		t.Fatalf("second=%+v", menu[1])
	}
}

func TestProactiveSay(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	p := &fakeProactive{on: true}
	r := New(Config{Owners: []int64{owner}}, Deps{Sender: sender, Proactive: p}, logx.Nop())
	send := func(text string) {
		r.Handle(context.Background(), kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{
			ChatID: owner, FromID: owner, Text: text,
		}})
	}

	send("/proactive say Backup finished, Disk Swap tonight")
	if len(p.manual) != 1 || p.manual[0] != "Backup finished, Disk Swap tonight" {
		t.Fatalf("manual=%q", p.manual)
	}
	if sender.last() != "Sent to 2 recipient(s)" {
		t.Fatalf("reply=%q", sender.last())
	}

	send("/proactive say")
	if !strings.HasPrefix(sender.last(), "Error: invalid arguments") {
		t.Fatalf("reply=%q", sender.last())
	}
}
