package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/taponn/jobcore/internal/metrics"
	"github.com/taponn/jobcore/internal/tracing"
	"github.com/taponn/jobcore/pkg/types"
)

var (
	// ErrInvalidSchedule means a cron expression could not be parsed.
	ErrInvalidSchedule = errors.New("invalid cron expression")

	// ErrTaskNotFound is returned for operations on an unknown task name.
	ErrTaskNotFound = errors.New("scheduled task not found")
)

// RegistrationError explains why a task could not be scheduled.
type RegistrationError struct {
	Task       string
	Expression string
	Err        error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("failed to schedule task %s (%q): %v", e.Task, e.Expression, e.Err)
}

func (e *RegistrationError) Unwrap() error {
	return e.Err
}

// TaskFunc is the body of a scheduled task
type TaskFunc func(ctx context.Context) error

// Task pairs a name with its cron expression and body
type Task struct {
	Name     string
	Schedule string
	Run      TaskFunc
}

// Standard five-field expressions, an optional leading seconds field and
// descriptors such as @hourly or @every 10m.
var parser = cronlib.NewParser(
	cronlib.SecondOptional | cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule validates a cron expression
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
	}
	return sched, nil
}

// Config holds scheduler settings
type Config struct {
	Location    *time.Location
	TaskTimeout time.Duration
}

type task struct {
	name    string
	expr    string
	run     TaskFunc
	entryID cronlib.EntryID

	mu       sync.Mutex
	runs     int64
	failures int64
	lastErr  string
}

// Scheduler runs named tasks on cron schedules. A failing or panicking task
// is logged and never affects other tasks; a firing is skipped while the
// previous run of the same task is still going.
type Scheduler struct {
	cron    *cronlib.Cron
	timeout time.Duration
	metrics *metrics.Metrics
	tracer  *tracing.Tracer
	logger  *zap.Logger

	mu    sync.RWMutex
	tasks map[string]*task

	// base context for firings, cancelled when Shutdown gives up waiting
	ctx    context.Context
	cancel context.CancelFunc

	lifecycle sync.Mutex
	started   bool
}

// Option configures optional Scheduler collaborators
type Option func(*Scheduler)

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

func WithTracer(t *tracing.Tracer) Option {
	return func(s *Scheduler) { s.tracer = t }
}

// New creates a scheduler. Nothing fires until Start.
func New(cfg Config, logger *zap.Logger, opts ...Option) *Scheduler {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		timeout: cfg.TaskTimeout,
		logger:  logger,
		tasks:   make(map[string]*task),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(s)
	}

	cl := cronLogger{logger: logger}
	s.cron = cronlib.New(
		cronlib.WithParser(parser),
		cronlib.WithLocation(cfg.Location),
		cronlib.WithLogger(cl),
		cronlib.WithChain(cronlib.SkipIfStillRunning(cl)),
	)
	return s
}

// Init registers tasks and returns how many were scheduled. Invalid tasks
// are logged and skipped.
func (s *Scheduler) Init(tasks []Task) int {
	s.logger.Info("Initializing scheduled tasks", zap.Int("count", len(tasks)))

	registered := 0
	for _, t := range tasks {
		if err := s.Schedule(t.Name, t.Schedule, t.Run); err == nil {
			registered++
		}
	}

	s.logger.Info("Scheduled tasks initialized", zap.Int("registered", registered))
	return registered
}

// Schedule registers fn under name. Scheduling an existing name replaces the
// previous entry. An invalid expression leaves the scheduler unchanged.
func (s *Scheduler) Schedule(name, expr string, fn TaskFunc) error {
	if name == "" || fn == nil {
		err := &RegistrationError{Task: name, Expression: expr, Err: errors.New("task name and function are required")}
		s.logger.Error("Failed to schedule task", zap.Error(err))
		return err
	}

	sched, err := ParseSchedule(expr)
	if err != nil {
		regErr := &RegistrationError{Task: name, Expression: expr, Err: err}
		s.logger.Error("Failed to schedule task",
			zap.String("task", name),
			zap.String("schedule", expr),
			zap.Error(err),
		)
		return regErr
	}

	t := &task{name: name, expr: expr, run: fn}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.tasks[name]; ok {
		s.cron.Remove(old.entryID)
		s.logger.Info("Replacing scheduled task", zap.String("task", name))
	}
	t.entryID = s.cron.Schedule(sched, cronlib.FuncJob(func() {
		_ = s.execute(s.ctx, t, false)
	}))
	s.tasks[name] = t

	s.logger.Info("Scheduled task registered",
		zap.String("task", name),
		zap.String("schedule", expr),
	)
	return nil
}

// Stop removes a task. It reports whether the task existed.
func (s *Scheduler) Stop(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[name]
	if !ok {
		return false
	}
	s.cron.Remove(t.entryID)
	delete(s.tasks, name)

	s.logger.Info("Scheduled task stopped", zap.String("task", name))
	return true
}

// StopAll removes every task. The runner keeps going and accepts new tasks.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for name, t := range s.tasks {
		s.cron.Remove(t.entryID)
		delete(s.tasks, name)
		s.logger.Info("Scheduled task stopped", zap.String("task", name))
	}
	s.logger.Info("All scheduled tasks stopped")
}

// GetTasks returns the names of registered tasks, sorted
func (s *Scheduler) GetTasks() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Tasks describes every registered task, sorted by name
func (s *Scheduler) Tasks() []types.TaskInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.TaskInfo, 0, len(s.tasks))
	for _, t := range s.tasks {
		entry := s.cron.Entry(t.entryID)

		t.mu.Lock()
		out = append(out, types.TaskInfo{
			Name:           t.name,
			CronExpression: t.expr,
			Next:           entry.Next,
			Prev:           entry.Prev,
			Runs:           t.runs,
			Failures:       t.failures,
			LastError:      t.lastErr,
		})
		t.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// RunNow runs a task immediately on the caller's goroutine and returns its error.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.RLock()
	t, ok := s.tasks[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, name)
	}
	return s.execute(ctx, t, true)
}

// Start begins firing tasks. Calling Start twice is a no-op.
func (s *Scheduler) Start() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
	s.logger.Info("Scheduler started", zap.Int("tasks", len(s.GetTasks())))
}

// Shutdown stops firing and waits for running tasks until ctx is done, at
// which point their context is cancelled.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.lifecycle.Lock()
	if !s.started {
		s.lifecycle.Unlock()
		s.cancel()
		return nil
	}
	s.started = false
	s.lifecycle.Unlock()

	s.logger.Info("Stopping scheduler")
	done := s.cron.Stop()

	select {
	case <-done.Done():
		s.cancel()
		s.logger.Info("Scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		s.cancel()
		s.logger.Warn("Scheduler shutdown timeout exceeded, cancelling running tasks")
		return ctx.Err()
	}
}

// execute runs one firing of t; manual marks a RunNow call. Panics become
// errors; the error is logged and recorded, never propagated to other tasks.
func (s *Scheduler) execute(ctx context.Context, t *task, manual bool) (err error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	ctx, span := s.tracer.StartTask(ctx, t.name, manual)
	defer span.End()

	logger := s.logger.With(zap.String("task", t.name))
	logger.Info("Running scheduled task")
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
		duration := time.Since(start)

		t.mu.Lock()
		t.runs++
		if err != nil {
			t.failures++
			t.lastErr = err.Error()
		} else {
			t.lastErr = ""
		}
		t.mu.Unlock()

		if err != nil {
			tracing.EndTask(span, err)
			s.metrics.TaskRun(t.name, "failed", duration)
			logger.Error("Scheduled task failed", zap.Duration("duration", duration), zap.Error(err))
			return
		}
		tracing.EndTask(span, nil)
		s.metrics.TaskRun(t.name, "completed", duration)
		logger.Info("Scheduled task completed", zap.Duration("duration", duration))
	}()

	return t.run(ctx)
}
