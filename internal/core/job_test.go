package core

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func succeedAfter(failures int) Handler {
	calls := 0
	return HandlerFunc(func(ctx context.Context, data any) (any, error) {
		calls++
		if calls <= failures {
			return nil, errors.New("transient failure")
		}
		return "ok", nil
	})
}

func fastRetry(maxRetries int) *RetryPolicy {
	return &RetryPolicy{MaxRetries: maxRetries, RetryDelay: time.Millisecond}
}

func TestNewJob_Defaults(t *testing.T) {
	job, err := NewJob(JobSpec{Handler: succeedAfter(0)})
	if err != nil {
		t.Fatalf("NewJob() error: %v", err)
	}
	if job.ID == "" {
		t.Error("expected a generated ID")
	}
	if job.State() != StatePending {
		t.Errorf("State() = %q, want %q", job.State(), StatePending)
	}
	if job.Priority != 0 {
		t.Errorf("Priority = %d, want 0", job.Priority)
	}
	if job.Retry.MaxRetries != DefaultMaxRetries {
		t.Errorf("MaxRetries = %d, want %d", job.Retry.MaxRetries, DefaultMaxRetries)
	}
	if job.Retry.RetryDelay != DefaultRetryDelay {
		t.Errorf("RetryDelay = %v, want %v", job.Retry.RetryDelay, DefaultRetryDelay)
	}
}

func TestNewJob_NoHandler(t *testing.T) {
	_, err := NewJob(JobSpec{ID: "j1"})
	if err == nil {
		t.Fatal("expected error for missing handler")
	}
	var engErr *EngineError
	if !errors.As(err, &engErr) || engErr.Code != ErrCodeValidationError {
		t.Errorf("error = %v, want validation_error", err)
	}
}

func TestExecute_Success(t *testing.T) {
	job, _ := NewJob(JobSpec{ID: "j1", Handler: succeedAfter(0)})

	result, err := job.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if result != "ok" {
		t.Errorf("result = %v, want %q", result, "ok")
	}
	if job.State() != StateCompleted {
		t.Errorf("State() = %q, want %q", job.State(), StateCompleted)
	}
	if job.Retries() != 0 {
		t.Errorf("Retries() = %d, want 0", job.Retries())
	}
	if job.Result() != "ok" {
		t.Errorf("Result() = %v, want %q", job.Result(), "ok")
	}
}

func TestExecute_RetriesThenSucceeds(t *testing.T) {
	// Fails exactly maxRetries times, then succeeds.
	job, _ := NewJob(JobSpec{ID: "j1", Handler: succeedAfter(2), Retry: fastRetry(2)})

	if _, err := job.Execute(context.Background()); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if job.State() != StateCompleted {
		t.Errorf("State() = %q, want %q", job.State(), StateCompleted)
	}
	if job.Retries() != 2 {
		t.Errorf("Retries() = %d, want 2", job.Retries())
	}
}

func TestExecute_RetriesExhausted(t *testing.T) {
	// Fails maxRetries+1 times: the job must fail with retries == maxRetries.
	job, _ := NewJob(JobSpec{ID: "j1", Handler: succeedAfter(3), Retry: fastRetry(2)})

	_, err := job.Execute(context.Background())
	if err == nil {
		t.Fatal("expected terminal error")
	}
	if job.State() != StateFailed {
		t.Errorf("State() = %q, want %q", job.State(), StateFailed)
	}
	if job.Retries() != 2 {
		t.Errorf("Retries() = %d, want 2", job.Retries())
	}
	if job.Err() == nil {
		t.Error("Err() = nil, want terminal error")
	}
}

func TestExecute_NotPending(t *testing.T) {
	job, _ := NewJob(JobSpec{ID: "j1", Handler: succeedAfter(0)})
	job.Cancel()

	if _, err := job.Execute(context.Background()); err == nil {
		t.Fatal("expected error executing a cancelled job")
	}
	if job.State() != StateCancelled {
		t.Errorf("State() = %q, want %q", job.State(), StateCancelled)
	}
}

func TestExecute_HandlerPanic(t *testing.T) {
	job, _ := NewJob(JobSpec{
		ID: "j1",
		Handler: HandlerFunc(func(ctx context.Context, data any) (any, error) {
			panic("boom")
		}),
		Retry: fastRetry(0),
	})

	_, err := job.Execute(context.Background())
	if err == nil {
		t.Fatal("expected error from panicking handler")
	}
	if job.State() != StateFailed {
		t.Errorf("State() = %q, want %q", job.State(), StateFailed)
	}
}

func TestExecute_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	job, _ := NewJob(JobSpec{
		ID:      "j1",
		Handler: succeedAfter(5),
		Retry:   &RetryPolicy{MaxRetries: 5, RetryDelay: time.Minute},
	})

	done := make(chan error, 1)
	go func() {
		_, err := job.Execute(ctx)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond) // let the first attempt fail
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected error after context cancellation")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Execute did not return after context cancellation")
	}
	if job.State() != StateFailed {
		t.Errorf("State() = %q, want %q", job.State(), StateFailed)
	}
}

func TestCancel_PendingOnly(t *testing.T) {
	job, _ := NewJob(JobSpec{ID: "j1", Handler: succeedAfter(0)})

	if !job.Cancel() {
		t.Error("Cancel() on pending job = false, want true")
	}
	if job.State() != StateCancelled {
		t.Errorf("State() = %q, want %q", job.State(), StateCancelled)
	}
	// Terminal: a second cancel is a no-op.
	if job.Cancel() {
		t.Error("Cancel() on cancelled job = true, want false")
	}
}

func TestCancel_RunningIsNoop(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	job, _ := NewJob(JobSpec{
		ID: "j1",
		Handler: HandlerFunc(func(ctx context.Context, data any) (any, error) {
			close(started)
			<-release
			return nil, nil
		}),
	})

	go job.Execute(context.Background())
	<-started

	if job.Cancel() {
		t.Error("Cancel() on running job = true, want false")
	}
	if job.State() != StateRunning {
		t.Errorf("State() = %q, want %q", job.State(), StateRunning)
	}
	close(release)
}

func TestJobMarshalJSON(t *testing.T) {
	job, _ := NewJob(JobSpec{ID: "test-id", Type: "agent.train", Handler: succeedAfter(0)})

	data, err := json.Marshal(job)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}

	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("Unmarshal output error: %v", err)
	}
	if m["id"] != "test-id" {
		t.Errorf("id = %v, want %q", m["id"], "test-id")
	}
	if m["type"] != "agent.train" {
		t.Errorf("type = %v, want %q", m["type"], "agent.train")
	}
	if m["state"] != StatePending {
		t.Errorf("state = %v, want %q", m["state"], StatePending)
	}

	// Not yet started or settled: these fields are omitted.
	for _, field := range []string{"started_at", "completed_at", "result", "error"} {
		if _, exists := m[field]; exists {
			t.Errorf("field %q should be omitted when empty", field)
		}
	}
}

func TestIsTerminalState(t *testing.T) {
	tests := []struct {
		state string
		want  bool
	}{
		{StatePending, false},
		{StateRunning, false},
		{StateCompleted, true},
		{StateFailed, true},
		{StateCancelled, true},
	}
	for _, tt := range tests {
		if got := IsTerminalState(tt.state); got != tt.want {
			t.Errorf("IsTerminalState(%q) = %v, want %v", tt.state, got, tt.want)
		}
	}
}
