package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"serverpal/internal/eventbus"
	"serverpal/internal/metrics"
	logx "serverpal/pkg/logx"
)

type entry struct {
	task    Task
	running bool
}

type Scheduler struct {
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	mu       sync.Mutex
	enabled  bool
	tasks    map[string]*entry
	lastTick time.Time
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Scheduler {
	if cfg.Tick <= 0 {
		cfg.Tick = defaultTick
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = defaultTaskTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Scheduler{
		cfg:     cfg,
		log:     log.With(logx.String("comp", "scheduler")),
		bus:     bus,
		enabled: cfg.Enabled,
		tasks:   map[string]*entry{},
	}
}

func (s *Scheduler) now() time.Time { return s.cfg.Now().In(s.cfg.Location) }

// Add registers or replaces a task by name. Bookkeeping of a replaced task
// is kept so a re-registration does not make it fire again.
func (s *Scheduler) Add(name string, sched Schedule, enabled bool, fn Func) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("scheduler: name required")
	}
	if fn == nil {
		return fmt.Errorf("scheduler: task %q has no callback", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.tasks[name]
	if e == nil {
		e = &entry{}
		s.tasks[name] = e
	}
	e.task.Name = name
	e.task.Schedule = sched
	e.task.Enabled = enabled
	e.task.Run = fn
	s.log.Debug("task registered",
		logx.String("task", name),
		logx.String("schedule", sched.String()),
		logx.Bool("enabled", enabled),
	)
	return nil
}

func (s *Scheduler) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[name]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	delete(s.tasks, name)
	s.log.Info("task removed", logx.String("task", name))
	return nil
}

func (s *Scheduler) Enable(name string) error  { return s.setEnabled(name, true) }
func (s *Scheduler) Disable(name string) error { return s.setEnabled(name, false) }

func (s *Scheduler) setEnabled(name string, on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.tasks[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	e.task.Enabled = on
	s.log.Info("task toggled", logx.String("task", name), logx.Bool("enabled", on))
	return nil
}

// SetEnabled pauses or resumes the tick loop. Manual runs still work.
func (s *Scheduler) SetEnabled(on bool) {
	s.mu.Lock()
	s.enabled = on
	s.mu.Unlock()
}

func (s *Scheduler) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// Run ticks until ctx is cancelled. The first check happens immediately.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info("scheduler started", logx.Duration("tick", s.cfg.Tick), logx.Int("tasks", s.count()))
	t := time.NewTicker(s.cfg.Tick)
	defer t.Stop()
	for {
		s.Tick(ctx)
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return nil
		case <-t.C:
		}
	}
}

// Tick runs every due task in name order and returns the names it ran.
func (s *Scheduler) Tick(ctx context.Context) []string {
	s.mu.Lock()
	if !s.enabled {
		s.mu.Unlock()
		return nil
	}
	now := s.now()
	s.lastTick = now
	var due []string
	for name, e := range s.tasks {
		if !e.running && ShouldRunNow(e.task, now) {
			due = append(due, name)
		}
	}
	s.mu.Unlock()
	sort.Strings(due)

	var ran []string
	for _, name := range due {
		if ctx.Err() != nil {
			break
		}
		if err := s.invoke(ctx, name, false); errors.Is(err, ErrTaskRunning) || errors.Is(err, ErrUnknownTask) {
			continue
		}
		ran = append(ran, name)
	}
	return ran
}

// RunNow invokes name immediately, regardless of schedule or enabled flag.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	return s.invoke(ctx, name, true)
}

func (s *Scheduler) invoke(ctx context.Context, name string, manual bool) (err error) {
	s.mu.Lock()
	e, ok := s.tasks[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	if e.running {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTaskRunning, name)
	}
	e.running = true
	at := s.now()
	e.task.LastAttempt = at
	fn := e.task.Run
	s.mu.Unlock()

	log := s.log.With(logx.String("task", name), logx.Bool("manual", manual))
	log.Info("task started")

	runCtx, cancel := context.WithTimeout(ctx, s.cfg.TaskTimeout)
	start := time.Now()
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
				log.Error("task panic", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			}
		}()
		err = fn(runCtx)
	}()
	cancel()
	took := time.Since(start)

	s.mu.Lock()
	e.running = false
	e.task.Runs++
	if err == nil {
		e.task.LastRun = at
		e.task.LastError = ""
	} else {
		e.task.Failures++
		e.task.LastError = err.Error()
	}
	s.mu.Unlock()

	metrics.RecordTaskRun(name, err, took)
	ev := TaskEvent{Name: name, Manual: manual, OK: err == nil, Took: took, At: at}
	if err != nil {
		ev.Error = err.Error()
		log.Error("task failed", logx.Duration("took", took), logx.Err(err))
	} else {
		log.Info("task finished", logx.Duration("took", took))
	}
	eventbus.Publish(s.bus, eventbus.TaskFinished, ev)
	return err
}

func (s *Scheduler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}
