package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/inkwell/inkwell/internal/metrics"
	"github.com/inkwell/inkwell/internal/scheduler"
)

func newTaskTestServer(t *testing.T) (*httptest.Server, *scheduler.Runner) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	runner := scheduler.New(logger, metrics.Noop{}, nil, nil)

	noop := func(ctx context.Context) (bool, error) { return true, nil }
	if err := runner.Register("hourly-noop", time.Hour, time.Hour, noop, scheduler.Options{}); err != nil {
		t.Fatalf("failed to register task: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := runner.Start(ctx); err != nil {
		t.Fatalf("failed to start runner: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second)
		defer shutdownCancel()
		_ = runner.Shutdown(shutdownCtx)
	})

	h := NewTaskHandler(runner, logger)

	r := chi.NewRouter()
	r.Get("/tasks", h.List)
	r.Get("/tasks/{name}", h.Get)
	r.Post("/tasks/{name}/run", h.Trigger)
	r.Post("/tasks/{name}/cancel", h.Cancel)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return srv, runner
}

func TestTaskHandler_List(t *testing.T) {
	srv, _ := newTaskTestServer(t)

	resp, err := http.Get(srv.URL + "/tasks")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}

	var body struct {
		Data []scheduler.Status `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if len(body.Data) != 1 {
		t.Fatalf("expected 1 task, got %d", len(body.Data))
	}
	if body.Data[0].Name != "hourly-noop" {
		t.Errorf("unexpected task name: %s", body.Data[0].Name)
	}
}

func TestTaskHandler_GetUnknownTask(t *testing.T) {
	srv, _ := newTaskTestServer(t)

	resp, err := http.Get(srv.URL + "/tasks/missing")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", resp.StatusCode)
	}

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["code"] != "TASK_NOT_FOUND" {
		t.Errorf("unexpected error code: %s", body["code"])
	}
}

func TestTaskHandler_Trigger(t *testing.T) {
	srv, _ := newTaskTestServer(t)

	resp, err := http.Post(srv.URL+"/tasks/hourly-noop/run", "application/json", nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("expected status 202, got %d", resp.StatusCode)
	}

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["status"] != "triggered" {
		t.Errorf("unexpected status: %s", body["status"])
	}
}

func TestTaskHandler_CancelThenConflict(t *testing.T) {
	srv, _ := newTaskTestServer(t)

	resp, err := http.Post(srv.URL+"/tasks/hourly-noop/cancel", "application/json", nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}

	// Give the task loop a moment to observe the cancellation.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		second, err := http.Post(srv.URL+"/tasks/hourly-noop/cancel", "application/json", nil)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		code := second.StatusCode
		second.Body.Close()
		if code == http.StatusConflict {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("second cancel never returned 409")
}
