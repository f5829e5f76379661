package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/inkwell/inkwell/internal/metrics"
)

func newTestRunner(observer Observer) *Runner {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(logger, metrics.Noop{}, nil, observer)
}

// eventLog collects observer events safely across goroutines.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) record(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) kinds(task string) []EventKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	var kinds []EventKind
	for _, ev := range l.events {
		if ev.Task == task {
			kinds = append(kinds, ev.Kind)
		}
	}
	return kinds
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

func TestRunner_RecurringRuns(t *testing.T) {
	t.Parallel()

	var runs atomic.Int64
	r := newTestRunner(nil)

	err := r.Register("counter", 10*time.Millisecond, 20*time.Millisecond, func(ctx context.Context) (bool, error) {
		runs.Add(1)
		return true, nil
	}, Options{})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return runs.Load() >= 3 })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := r.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
}

func TestRunner_InitialDelayRespected(t *testing.T) {
	t.Parallel()

	var firstRun atomic.Int64
	start := time.Now()
	r := newTestRunner(nil)

	_ = r.Register("delayed", 80*time.Millisecond, time.Hour, func(ctx context.Context) (bool, error) {
		firstRun.CompareAndSwap(0, time.Since(start).Milliseconds())
		return true, nil
	}, Options{})

	_ = r.Start(context.Background())
	defer shutdownRunner(t, r)

	waitFor(t, 2*time.Second, func() bool { return firstRun.Load() > 0 })

	if got := firstRun.Load(); got < 70 {
		t.Errorf("first run after %dms, want at least ~80ms", got)
	}
}

func TestRunner_StopsWhenFuncReturnsFalse(t *testing.T) {
	t.Parallel()

	var runs atomic.Int64
	log := &eventLog{}
	r := newTestRunner(log.record)

	_ = r.Register("one-shot", 0, 10*time.Millisecond, func(ctx context.Context) (bool, error) {
		runs.Add(1)
		return false, nil
	}, Options{})

	_ = r.Start(context.Background())
	defer shutdownRunner(t, r)

	waitFor(t, 2*time.Second, func() bool {
		s, err := r.Status("one-shot")
		return err == nil && s.State == StateStopped
	})

	// Give the schedule a chance to misfire
	time.Sleep(50 * time.Millisecond)
	if got := runs.Load(); got != 1 {
		t.Errorf("runs = %d, want exactly 1", got)
	}

	kinds := log.kinds("one-shot")
	if len(kinds) == 0 || kinds[len(kinds)-1] != EventStopped {
		t.Errorf("expected final stopped event, got %v", kinds)
	}
}

func TestRunner_ErrorKeepsSchedule(t *testing.T) {
	t.Parallel()

	var runs atomic.Int64
	log := &eventLog{}
	r := newTestRunner(log.record)

	_ = r.Register("flaky", 0, 15*time.Millisecond, func(ctx context.Context) (bool, error) {
		n := runs.Add(1)
		if n == 1 {
			return true, errors.New("boom")
		}
		return true, nil
	}, Options{})

	_ = r.Start(context.Background())
	defer shutdownRunner(t, r)

	waitFor(t, 2*time.Second, func() bool { return runs.Load() >= 3 })

	s, err := r.Status("flaky")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if s.FailCount != 1 {
		t.Errorf("FailCount = %d, want 1", s.FailCount)
	}
	if s.ConsecutiveFailures != 0 {
		t.Errorf("ConsecutiveFailures = %d, want 0 after a success", s.ConsecutiveFailures)
	}

	hasFailed := false
	for _, k := range log.kinds("flaky") {
		if k == EventFailed {
			hasFailed = true
		}
	}
	if !hasFailed {
		t.Error("expected a failed event")
	}
}

func TestRunner_PanicRecovered(t *testing.T) {
	t.Parallel()

	var runs atomic.Int64
	r := newTestRunner(nil)

	_ = r.Register("panicky", 0, 15*time.Millisecond, func(ctx context.Context) (bool, error) {
		if runs.Add(1) == 1 {
			panic("kaboom")
		}
		return true, nil
	}, Options{})

	_ = r.Start(context.Background())
	defer shutdownRunner(t, r)

	// The panic must not kill the schedule
	waitFor(t, 2*time.Second, func() bool { return runs.Load() >= 2 })

	s, _ := r.Status("panicky")
	if s.FailCount != 1 {
		t.Errorf("FailCount = %d, want 1 (panic counted as failure)", s.FailCount)
	}
}

func TestRunner_Trigger(t *testing.T) {
	t.Parallel()

	var runs atomic.Int64
	r := newTestRunner(nil)

	_ = r.Register("manual", time.Hour, time.Hour, func(ctx context.Context) (bool, error) {
		runs.Add(1)
		return true, nil
	}, Options{})

	_ = r.Start(context.Background())
	defer shutdownRunner(t, r)

	if err := r.Trigger("manual"); err != nil {
		t.Fatalf("Trigger failed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return runs.Load() == 1 })

	if err := r.Trigger("missing"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("Trigger(missing) = %v, want ErrTaskNotFound", err)
	}
}

func TestRunner_Cancel(t *testing.T) {
	t.Parallel()

	log := &eventLog{}
	r := newTestRunner(log.record)

	_ = r.Register("doomed", time.Hour, time.Hour, func(ctx context.Context) (bool, error) {
		return true, nil
	}, Options{})

	_ = r.Start(context.Background())
	defer shutdownRunner(t, r)

	if err := r.Cancel("doomed"); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		s, err := r.Status("doomed")
		return err == nil && s.State == StateCancelled
	})

	kinds := log.kinds("doomed")
	if len(kinds) == 0 || kinds[len(kinds)-1] != EventCancelled {
		t.Errorf("expected cancelled event, got %v", kinds)
	}

	if err := r.Cancel("doomed"); !errors.Is(err, ErrTaskDone) {
		t.Errorf("second Cancel = %v, want ErrTaskDone", err)
	}
}

func TestRunner_SyncTasksSerialized(t *testing.T) {
	t.Parallel()

	var inFlight atomic.Int64
	var overlap atomic.Bool
	var runs atomic.Int64

	body := func(ctx context.Context) (bool, error) {
		if inFlight.Add(1) > 1 {
			overlap.Store(true)
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		runs.Add(1)
		return true, nil
	}

	r := newTestRunner(nil)
	_ = r.Register("sync-a", 0, 10*time.Millisecond, body, Options{})
	_ = r.Register("sync-b", 0, 10*time.Millisecond, body, Options{})

	_ = r.Start(context.Background())
	defer shutdownRunner(t, r)

	waitFor(t, 3*time.Second, func() bool { return runs.Load() >= 4 })

	if overlap.Load() {
		t.Error("sync tasks ran concurrently, want serialized execution")
	}
}

func TestRunner_AsyncTasksRunConcurrently(t *testing.T) {
	t.Parallel()

	var inFlight atomic.Int64
	var sawConcurrent atomic.Bool
	var runs atomic.Int64

	body := func(ctx context.Context) (bool, error) {
		if inFlight.Add(1) > 1 {
			sawConcurrent.Store(true)
		}
		time.Sleep(40 * time.Millisecond)
		inFlight.Add(-1)
		runs.Add(1)
		return true, nil
	}

	r := newTestRunner(nil)
	_ = r.Register("async-a", 0, 10*time.Millisecond, body, Options{Async: true})
	_ = r.Register("async-b", 0, 10*time.Millisecond, body, Options{Async: true})

	_ = r.Start(context.Background())
	defer shutdownRunner(t, r)

	waitFor(t, 3*time.Second, func() bool { return runs.Load() >= 4 })

	if !sawConcurrent.Load() {
		t.Error("async tasks never overlapped, want concurrent execution")
	}
}

func TestRunner_RegisterValidation(t *testing.T) {
	t.Parallel()

	r := newTestRunner(nil)
	noop := func(ctx context.Context) (bool, error) { return true, nil }

	if err := r.Register("", 0, time.Second, noop, Options{}); err == nil {
		t.Error("empty name should be rejected")
	}
	if err := r.Register("t", 0, time.Second, nil, Options{}); err == nil {
		t.Error("nil func should be rejected")
	}
	if err := r.Register("t", 0, 0, noop, Options{}); err == nil {
		t.Error("zero interval should be rejected")
	}

	if err := r.Register("dup", 0, time.Second, noop, Options{}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := r.Register("dup", 0, time.Second, noop, Options{}); !errors.Is(err, ErrTaskRegistered) {
		t.Errorf("duplicate Register = %v, want ErrTaskRegistered", err)
	}
}

func TestRunner_Snapshot(t *testing.T) {
	t.Parallel()

	r := newTestRunner(nil)
	noop := func(ctx context.Context) (bool, error) { return true, nil }

	_ = r.Register("zebra", time.Hour, time.Hour, noop, Options{})
	_ = r.Register("apple", time.Hour, time.Hour, noop, Options{Async: true})

	_ = r.Start(context.Background())
	defer shutdownRunner(t, r)

	snapshot := r.Snapshot()
	if len(snapshot) != 2 {
		t.Fatalf("snapshot length = %d, want 2", len(snapshot))
	}
	if snapshot[0].Name != "apple" || snapshot[1].Name != "zebra" {
		t.Errorf("snapshot not sorted by name: %s, %s", snapshot[0].Name, snapshot[1].Name)
	}
	if !snapshot[0].Async {
		t.Error("apple should be async")
	}
	if snapshot[0].State != StateScheduled {
		t.Errorf("state = %s, want scheduled", snapshot[0].State)
	}
}

func shutdownRunner(t *testing.T, r *Runner) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}

func TestRunner_ShutdownMidRunReportsCancelled(t *testing.T) {
	t.Parallel()

	log := &eventLog{}
	r := newTestRunner(log.record)

	running := make(chan struct{})
	_ = r.Register("blocker", time.Millisecond, time.Hour, func(ctx context.Context) (bool, error) {
		close(running)
		<-ctx.Done()
		return true, nil
	}, Options{})

	// Same sync group as blocker, so its first run queues behind it.
	_ = r.Register("waiter", 30*time.Millisecond, time.Hour, func(ctx context.Context) (bool, error) {
		return true, nil
	}, Options{})

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	<-running
	// Let waiter's initial delay elapse so it is queued on the blocker.
	time.Sleep(60 * time.Millisecond)

	shutdownRunner(t, r)

	status, err := r.Status("waiter")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.State != StateCancelled {
		t.Errorf("expected waiter state %s, got %s", StateCancelled, status.State)
	}

	kinds := log.kinds("waiter")
	if len(kinds) == 0 {
		t.Fatal("no events recorded for waiter")
	}
	if kinds[len(kinds)-1] != EventCancelled {
		t.Errorf("expected final event %s, got %s", EventCancelled, kinds[len(kinds)-1])
	}
	for _, k := range kinds {
		if k == EventStopped {
			t.Errorf("waiter reported stopped during shutdown")
		}
	}
}
