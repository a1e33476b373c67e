// Package scheduler runs encodr's maintenance tasks on cron schedules.
// Tasks can also be triggered on demand; a task never runs twice at once.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jmylchreest/encodr/internal/metrics"
	"github.com/jmylchreest/encodr/internal/observability"
	"github.com/jmylchreest/encodr/internal/service/progress"
)

var (
	// ErrTaskNotFound is returned for an unknown task name.
	ErrTaskNotFound = errors.New("maintenance task not found")
	// ErrTaskRunning is returned when a task is triggered while already running.
	ErrTaskRunning = errors.New("maintenance task already running")
)

// Result summarises one task run.
type Result struct {
	// Removed counts files deleted or archived.
	Removed int    `json:"removed"`
	Message string `json:"message,omitempty"`
}

// Task is a unit of maintenance work.
type Task interface {
	Name() string
	Execute(ctx context.Context) (Result, error)
}

// TaskInfo describes a registered task and its last run.
type TaskInfo struct {
	Name       string     `json:"name"`
	Schedule   string     `json:"schedule"`
	Running    bool       `json:"running"`
	NextRun    *time.Time `json:"nextRun,omitempty"`
	LastRun    *time.Time `json:"lastRun,omitempty"`
	LastResult *Result    `json:"lastResult,omitempty"`
	LastError  string     `json:"lastError,omitempty"`
}

type entry struct {
	task     Task
	schedule string
	id       cron.EntryID

	running    bool
	lastRun    *time.Time
	lastResult *Result
	lastErr    string
}

// Scheduler owns the cron runner and the registered tasks.
type Scheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	parser  cron.Parser
	entries map[string]*entry

	progress *progress.Service
	logger   *slog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewScheduler creates a scheduler using six field cron expressions
// (seconds first). Descriptors such as @hourly are also accepted.
func NewScheduler() *Scheduler {
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:    cron.New(cron.WithParser(parser)),
		parser:  parser,
		entries: make(map[string]*entry),
		logger:  slog.Default(),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// WithLogger sets a custom logger.
func (s *Scheduler) WithLogger(logger *slog.Logger) *Scheduler {
	s.logger = observability.WithComponent(logger, "scheduler")
	return s
}

// WithProgress publishes every run as a maintenance operation.
func (s *Scheduler) WithProgress(svc *progress.Service) *Scheduler {
	s.progress = svc
	return s
}

// Add registers a task. An empty schedule registers it for on demand runs only.
func (s *Scheduler) Add(schedule string, task Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := task.Name()
	if _, ok := s.entries[name]; ok {
		return fmt.Errorf("maintenance task %q already registered", name)
	}

	e := &entry{task: task, schedule: schedule}
	if schedule != "" {
		sched, err := s.parser.Parse(schedule)
		if err != nil {
			return fmt.Errorf("invalid cron expression for %s: %w", name, err)
		}
		e.id = s.cron.Schedule(sched, cron.FuncJob(func() {
			if _, err := s.run(s.ctx, name); err != nil && !errors.Is(err, ErrTaskRunning) {
				s.logger.Warn("scheduled maintenance failed",
					slog.String("task", name),
					slog.Any("error", err))
			}
		}))
	}
	s.entries[name] = e
	return nil
}

// Start begins firing scheduled tasks.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
	s.logger.Info("scheduler started", slog.Int("tasks", len(s.entries)))
}

// Stop halts the cron runner, cancels running tasks and waits for them to
// return or for ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	cronCtx := s.cron.Stop()
	s.cancel()

	done := make(chan struct{})
	go func() {
		<-cronCtx.Done()
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunNow runs a task immediately and waits for it to finish.
func (s *Scheduler) RunNow(ctx context.Context, name string) (Result, error) {
	return s.run(ctx, name)
}

// Tasks lists the registered tasks ordered by name.
func (s *Scheduler) Tasks() []TaskInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]TaskInfo, 0, len(s.entries))
	for name, e := range s.entries {
		info := TaskInfo{
			Name:       name,
			Schedule:   e.schedule,
			Running:    e.running,
			LastRun:    e.lastRun,
			LastResult: e.lastResult,
			LastError:  e.lastErr,
		}
		if e.id != 0 {
			if next := s.cron.Entry(e.id).Next; !next.IsZero() {
				info.NextRun = &next
			}
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ValidateCron checks a six field cron expression.
func (s *Scheduler) ValidateCron(expr string) error {
	_, err := s.parser.Parse(expr)
	return err
}

func (s *Scheduler) run(ctx context.Context, name string) (Result, error) {
	s.mu.Lock()
	e, ok := s.entries[name]
	if !ok {
		s.mu.Unlock()
		return Result{}, fmt.Errorf("%w: %s", ErrTaskNotFound, name)
	}
	if e.running {
		s.mu.Unlock()
		return Result{}, fmt.Errorf("%w: %s", ErrTaskRunning, name)
	}
	e.running = true
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	var op *progress.OperationManager
	if s.progress != nil {
		if m, err := s.progress.StartOperation(progress.OpMaintenance, name, "running "+name); err == nil {
			op = m
			op.SetState(progress.StateRunning, "running "+name)
		}
	}

	logger := s.logger.With(slog.String("task", name))
	var err error
	done := observability.TimedOperationWithError(ctx, logger, "maintenance_"+name, &err)
	res, err := e.task.Execute(ctx)
	done()

	now := time.Now()
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.MaintenanceRunsTotal.WithLabelValues(name, status).Inc()
	if res.Removed > 0 {
		metrics.MaintenanceRemovedTotal.WithLabelValues(name).Add(float64(res.Removed))
	}

	if op != nil {
		op.SetMetadata("removed", res.Removed)
		if err != nil {
			op.Fail(err)
		} else {
			op.Complete(res.Message)
		}
	}

	s.mu.Lock()
	e.running = false
	e.lastRun = &now
	e.lastResult = &res
	e.lastErr = ""
	if err != nil {
		e.lastErr = err.Error()
	}
	s.mu.Unlock()

	return res, err
}
