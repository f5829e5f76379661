// Package scheduler runs named recurring background tasks. Each task
// starts after an initial delay and then runs on a fixed interval until
// its function asks to stop, it is cancelled, or the runner shuts down.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/inkwell/inkwell/internal/metrics"
)

// TaskFunc is the body of a recurring task. Returning false stops the
// task for good; returning an error records a failed run but keeps the
// schedule.
type TaskFunc func(ctx context.Context) (bool, error)

// Options controls how a task is executed.
type Options struct {
	// Async tasks run on their own; all other tasks are serialized so
	// only one of them executes at a time.
	Async bool
}

// Locker guards task runs across instances. A nil Locker means every
// instance runs every task.
type Locker interface {
	AcquireLock(ctx context.Context, name, token string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, name, token string) error
}

// EventKind classifies task lifecycle events.
type EventKind string

const (
	EventStarted   EventKind = "started"
	EventCompleted EventKind = "completed"
	EventFailed    EventKind = "failed"
	EventStopped   EventKind = "stopped"   // task function returned false
	EventCancelled EventKind = "cancelled" // operator cancelled the task
)

// Event describes one lifecycle transition of a task.
type Event struct {
	Task     string
	Kind     EventKind
	Err      error
	Duration time.Duration
	RunCount int64
}

// Observer receives task lifecycle events. It is called synchronously
// from the task goroutine, so it must be fast.
type Observer func(Event)

// State is the lifecycle state of a registered task.
type State string

const (
	StateScheduled State = "scheduled"
	StateRunning   State = "running"
	StateStopped   State = "stopped"
	StateCancelled State = "cancelled"
)

// Status is a point-in-time view of one task.
type Status struct {
	Name                string        `json:"name"`
	Async               bool          `json:"async"`
	InitialDelay        time.Duration `json:"initial_delay"`
	Interval            time.Duration `json:"interval"`
	State               State         `json:"state"`
	RunCount            int64         `json:"run_count"`
	FailCount           int64         `json:"fail_count"`
	SkippedTicks        int64         `json:"skipped_ticks"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	LastRunAt           *time.Time    `json:"last_run_at,omitempty"`
	LastDuration        time.Duration `json:"last_duration_ms"`
	LastError           string        `json:"last_error,omitempty"`
}

// Common errors.
var (
	ErrTaskNotFound   = errors.New("task not found")
	ErrTaskRegistered = errors.New("task already registered")
	ErrTaskDone       = errors.New("task is stopped or cancelled")
)

type task struct {
	name         string
	fn           TaskFunc
	initialDelay time.Duration
	interval     time.Duration
	async        bool

	mu                  sync.Mutex
	state               State
	runCount            int64
	failCount           int64
	skippedTicks        int64
	consecutiveFailures int
	lastRunAt           *time.Time
	lastDuration        time.Duration
	lastError           string

	trigger chan struct{}
	cancel  context.CancelFunc
	done    chan struct{}
}

// Runner owns a set of recurring tasks.
type Runner struct {
	logger   *slog.Logger
	metrics  metrics.Recorder
	locker   Locker
	observer Observer

	mu      sync.Mutex
	tasks   map[string]*task
	started bool
	rootCtx context.Context
	cancel  context.CancelFunc

	// syncMu serializes all non-async task runs.
	syncMu sync.Mutex
}

// New creates a task runner. locker and observer may be nil.
func New(logger *slog.Logger, recorder metrics.Recorder, locker Locker, observer Observer) *Runner {
	if recorder == nil {
		recorder = metrics.Noop{}
	}
	return &Runner{
		logger:   logger.With("component", "scheduler"),
		metrics:  recorder,
		locker:   locker,
		observer: observer,
		tasks:    make(map[string]*task),
	}
}

// Register adds a recurring task. The first run happens after
// initialDelay; subsequent runs tick every interval. Registering after
// Start schedules the task immediately.
func (r *Runner) Register(name string, initialDelay, interval time.Duration, fn TaskFunc, opts Options) error {
	if name == "" {
		return errors.New("task name must not be empty")
	}
	if fn == nil {
		return errors.New("task function must not be nil")
	}
	if interval <= 0 {
		return fmt.Errorf("task %q: interval must be positive", name)
	}
	if initialDelay < 0 {
		initialDelay = 0
	}

	t := &task{
		name:         name,
		fn:           fn,
		initialDelay: initialDelay,
		interval:     interval,
		async:        opts.Async,
		state:        StateScheduled,
		trigger:      make(chan struct{}, 1),
		done:         make(chan struct{}),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tasks[name]; exists {
		return ErrTaskRegistered
	}
	r.tasks[name] = t

	if r.started {
		r.launch(t)
	}

	return nil
}

// Start begins executing all registered tasks. It returns immediately;
// tasks run on their own goroutines until Shutdown.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return errors.New("scheduler already started")
	}
	r.started = true
	r.rootCtx, r.cancel = context.WithCancel(ctx)

	for _, t := range r.tasks {
		r.launch(t)
	}

	r.logger.Info("scheduler started", "tasks", len(r.tasks))
	return nil
}

// launch starts the task loop. Caller holds r.mu.
func (r *Runner) launch(t *task) {
	taskCtx, cancel := context.WithCancel(r.rootCtx)
	t.cancel = cancel
	go r.loop(taskCtx, t)
}

// loop drives one task: initial delay, then fixed-interval ticks.
// A tick that fires while the previous run is still going is skipped,
// not queued.
func (r *Runner) loop(ctx context.Context, t *task) {
	defer close(t.done)

	delay := time.NewTimer(t.initialDelay)
	defer delay.Stop()

	select {
	case <-ctx.Done():
		r.finish(t, StateCancelled)
		return
	case <-t.trigger:
		// Manual trigger before the initial delay elapsed
	case <-delay.C:
	}

	if !r.runTask(ctx, t) {
		r.finishAfterRun(ctx, t)
		return
	}

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.finish(t, StateCancelled)
			return
		case <-t.trigger:
		case <-ticker.C:
		}

		if !r.runTask(ctx, t) {
			r.finishAfterRun(ctx, t)
			return
		}

		// Drain a tick that fired while the run was in progress.
		select {
		case <-ticker.C:
			t.mu.Lock()
			t.skippedTicks++
			t.mu.Unlock()
		default:
		}
	}
}

// runTask executes one run with lease, serialization, panic recovery
// and event emission. Returns false when the task asked to stop.
func (r *Runner) runTask(ctx context.Context, t *task) bool {
	if !t.async {
		r.syncMu.Lock()
		defer r.syncMu.Unlock()
	}

	if ctx.Err() != nil {
		return false
	}

	if r.locker != nil {
		token := uuid.New().String()
		ttl := t.interval
		if ttl < 30*time.Second {
			ttl = 30 * time.Second
		}
		acquired, err := r.locker.AcquireLock(ctx, t.name, token, ttl)
		if err != nil {
			r.logger.Warn("lease acquire failed", "task", t.name, "error", err)
			return true
		}
		if !acquired {
			// Another instance holds the lease for this tick.
			return true
		}
		defer func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := r.locker.ReleaseLock(releaseCtx, t.name, token); err != nil {
				r.logger.Warn("lease release failed", "task", t.name, "error", err)
			}
		}()
	}

	t.mu.Lock()
	t.state = StateRunning
	runCount := t.runCount + 1
	t.mu.Unlock()

	r.emit(Event{Task: t.name, Kind: EventStarted, RunCount: runCount})

	start := time.Now()
	cont, err := r.invoke(ctx, t)
	duration := time.Since(start)

	now := time.Now()
	t.mu.Lock()
	t.state = StateScheduled
	t.runCount = runCount
	t.lastRunAt = &now
	t.lastDuration = duration
	if err != nil {
		t.failCount++
		t.consecutiveFailures++
		t.lastError = err.Error()
	} else {
		t.consecutiveFailures = 0
		t.lastError = ""
	}
	consecutive := t.consecutiveFailures
	t.mu.Unlock()

	if err != nil {
		r.metrics.TaskRun(t.name, "failure", duration)
		r.logger.Error("task run failed",
			"task", t.name,
			"run", runCount,
			"consecutive_failures", consecutive,
			"duration_ms", duration.Milliseconds(),
			"error", err,
		)
		r.emit(Event{Task: t.name, Kind: EventFailed, Err: err, Duration: duration, RunCount: runCount})
	} else {
		r.metrics.TaskRun(t.name, "success", duration)
		r.logger.Debug("task run completed",
			"task", t.name,
			"run", runCount,
			"duration_ms", duration.Milliseconds(),
		)
		r.emit(Event{Task: t.name, Kind: EventCompleted, Duration: duration, RunCount: runCount})
	}

	return cont
}

// invoke calls the task function, converting panics into errors so one
// bad run cannot take the process down or kill the schedule.
func (r *Runner) invoke(ctx context.Context, t *task) (cont bool, err error) {
	defer func() {
		if rvr := recover(); rvr != nil {
			cont = true
			err = fmt.Errorf("panic: %v", rvr)
		}
	}()
	return t.fn(ctx)
}

// finishAfterRun labels the terminal state after runTask declined
// another run: a run aborted because the context was cancelled counts
// as cancelled, a task that returned false counts as stopped.
func (r *Runner) finishAfterRun(ctx context.Context, t *task) {
	if ctx.Err() != nil {
		r.finish(t, StateCancelled)
		return
	}
	r.finish(t, StateStopped)
}

// finish records a terminal state and emits the matching event.
func (r *Runner) finish(t *task, state State) {
	t.mu.Lock()
	t.state = state
	runCount := t.runCount
	t.mu.Unlock()

	kind := EventStopped
	if state == StateCancelled {
		kind = EventCancelled
	}
	r.logger.Info("task finished", "task", t.name, "state", string(state))
	r.emit(Event{Task: t.name, Kind: kind, RunCount: runCount})
}

func (r *Runner) emit(ev Event) {
	if r.observer != nil {
		r.observer(ev)
	}
}

// Trigger requests an immediate out-of-band run of a task. The run is
// coalesced if one is already queued.
func (r *Runner) Trigger(name string) error {
	r.mu.Lock()
	t, ok := r.tasks[name]
	r.mu.Unlock()
	if !ok {
		return ErrTaskNotFound
	}

	t.mu.Lock()
	state := t.state
	t.mu.Unlock()
	if state == StateStopped || state == StateCancelled {
		return ErrTaskDone
	}

	select {
	case t.trigger <- struct{}{}:
	default:
	}
	return nil
}

// Cancel permanently stops a task. An in-flight run finishes first.
func (r *Runner) Cancel(name string) error {
	r.mu.Lock()
	t, ok := r.tasks[name]
	r.mu.Unlock()
	if !ok {
		return ErrTaskNotFound
	}

	t.mu.Lock()
	state := t.state
	t.mu.Unlock()
	if state == StateStopped || state == StateCancelled {
		return ErrTaskDone
	}

	if t.cancel != nil {
		t.cancel()
	}
	return nil
}

// Snapshot returns the current status of every registered task,
// ordered by name.
func (r *Runner) Snapshot() []Status {
	r.mu.Lock()
	tasks := make([]*task, 0, len(r.tasks))
	for _, t := range r.tasks {
		tasks = append(tasks, t)
	}
	r.mu.Unlock()

	statuses := make([]Status, 0, len(tasks))
	for _, t := range tasks {
		t.mu.Lock()
		statuses = append(statuses, Status{
			Name:                t.name,
			Async:               t.async,
			InitialDelay:        t.initialDelay,
			Interval:            t.interval,
			State:               t.state,
			RunCount:            t.runCount,
			FailCount:           t.failCount,
			SkippedTicks:        t.skippedTicks,
			ConsecutiveFailures: t.consecutiveFailures,
			LastRunAt:           t.lastRunAt,
			LastDuration:        t.lastDuration,
			LastError:           t.lastError,
		})
		t.mu.Unlock()
	}

	slices.SortFunc(statuses, func(a, b Status) int {
		return strings.Compare(a.Name, b.Name)
	})
	return statuses
}

// Status returns the state of a single task.
func (r *Runner) Status(name string) (Status, error) {
	for _, s := range r.Snapshot() {
		if s.Name == name {
			return s, nil
		}
	}
	return Status{}, ErrTaskNotFound
}

// Shutdown cancels all tasks and waits for in-flight runs to finish or
// the context to expire. It implements server.ShutdownFunc.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return nil
	}
	cancel := r.cancel
	tasks := make([]*task, 0, len(r.tasks))
	for _, t := range r.tasks {
		tasks = append(tasks, t)
	}
	r.mu.Unlock()

	r.logger.Info("scheduler shutdown initiated")
	cancel()

	for _, t := range tasks {
		select {
		case <-t.done:
		case <-ctx.Done():
			r.logger.Warn("scheduler shutdown timed out", "task", t.name)
			return ctx.Err()
		}
	}

	r.logger.Info("scheduler shutdown complete")
	return nil
}
