package core

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Job states. A job starts pending, moves to running when an executor
// picks it up, and loops back to pending between retry attempts. The
// completed, failed and cancelled states are terminal.
const (
	StatePending   = "pending"
	StateRunning   = "running"
	StateCompleted = "completed"
	StateFailed    = "failed"
	StateCancelled = "cancelled"
)

// IsTerminalState reports whether a job in the given state will never
// transition again.
func IsTerminalState(state string) bool {
	return state == StateCompleted || state == StateFailed || state == StateCancelled
}

// Handler is a unit of asynchronous work. Implementations receive the
// job's payload verbatim and either produce a result or fail. Handlers
// run concurrently with each other; the engine never interrupts a
// running handler, so implementations that need mid-flight cancellation
// must honor the context themselves.
type Handler interface {
	Run(ctx context.Context, data any) (any, error)
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, data any) (any, error)

// Run calls f.
func (f HandlerFunc) Run(ctx context.Context, data any) (any, error) {
	return f(ctx, data)
}

// JobSpec is the submission contract: everything a caller provides to
// create a Job. ID is optional; a UUID is generated when absent.
type JobSpec struct {
	ID       string
	Type     string
	Handler  Handler
	Data     any
	Priority int
	Retry    *RetryPolicy
}

// Job is a single unit of deferred, retryable work. The identity and
// policy fields are fixed at construction; the execution fields are
// guarded by a mutex because callers may inspect a job while its
// executor mutates it.
type Job struct {
	ID       string
	Type     string
	Handler  Handler
	Data     any
	Priority int
	Retry    RetryPolicy

	mu          sync.Mutex
	state       string
	retries     int
	result      any
	err         error
	createdAt   time.Time
	startedAt   time.Time
	completedAt time.Time
}

// NewJob constructs a pending Job from a spec, applying policy
// defaults. It returns a validation error when the spec has no handler.
func NewJob(spec JobSpec) (*Job, error) {
	if spec.Handler == nil {
		return nil, NewValidationError("job handler is required", map[string]any{"id": spec.ID})
	}
	id := spec.ID
	if id == "" {
		id = NewID()
	}
	policy := DefaultRetryPolicy()
	if spec.Retry != nil {
		policy = *spec.Retry
		if policy.MaxRetries < 0 {
			return nil, NewValidationError("max_retries must not be negative", map[string]any{"id": id})
		}
		if policy.RetryDelay < 0 {
			return nil, NewValidationError("retry_delay must not be negative", map[string]any{"id": id})
		}
	}
	return &Job{
		ID:        id,
		Type:      spec.Type,
		Handler:   spec.Handler,
		Data:      spec.Data,
		Priority:  spec.Priority,
		Retry:     policy,
		state:     StatePending,
		createdAt: time.Now(),
	}, nil
}

// State returns the job's current state.
func (j *Job) State() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Retries returns how many retry attempts have been consumed so far.
func (j *Job) Retries() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.retries
}

// Result returns the handler's result once the job has completed.
func (j *Job) Result() any {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result
}

// Err returns the terminal error once the job has failed.
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// Cancel transitions a pending job to cancelled and reports whether the
// transition happened. Running and terminal jobs are left untouched; an
// in-flight handler cannot be aborted from outside.
func (j *Job) Cancel() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != StatePending {
		return false
	}
	j.state = StateCancelled
	j.completedAt = time.Now()
	return true
}

// Execute drives the job to settlement: it runs the handler, retries
// per the job's policy with exponential backoff, and records the
// outcome. Retrying is an explicit loop with an attempt counter; the
// pending -> running loop-back between attempts is the only non-forward
// transition the state machine permits.
//
// The context bounds the backoff waits (queue shutdown); it is also
// passed through to the handler.
func (j *Job) Execute(ctx context.Context) (any, error) {
	for {
		if err := j.toRunning(); err != nil {
			return nil, err
		}

		result, err := j.runHandler(ctx)
		if err == nil {
			j.mu.Lock()
			j.state = StateCompleted
			j.result = result
			j.completedAt = time.Now()
			j.mu.Unlock()
			return result, nil
		}

		j.mu.Lock()
		if j.retries < j.Retry.MaxRetries {
			j.retries++
			attempt := j.retries
			j.state = StatePending
			j.mu.Unlock()

			select {
			case <-time.After(CalculateBackoff(&j.Retry, attempt)):
			case <-ctx.Done():
				j.mu.Lock()
				j.state = StateFailed
				j.err = fmt.Errorf("retry aborted: %w", ctx.Err())
				j.completedAt = time.Now()
				j.mu.Unlock()
				return nil, j.Err()
			}
			continue
		}
		j.state = StateFailed
		j.err = err
		j.completedAt = time.Now()
		j.mu.Unlock()
		return nil, err
	}
}

// toRunning enforces the execute() precondition: only a pending job may
// start an attempt. A job cancelled during a backoff wait lands here.
func (j *Job) toRunning() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != StatePending {
		return NewConflictError(
			fmt.Sprintf("job %q is %s, not pending", j.ID, j.state),
			map[string]any{"job_id": j.ID, "state": j.state},
		)
	}
	j.state = StateRunning
	if j.startedAt.IsZero() {
		j.startedAt = time.Now()
	}
	return nil
}

// runHandler invokes the handler, converting a panic into a handler
// failure so one bad job cannot take the process down.
func (j *Job) runHandler(ctx context.Context) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = NewInternalError(fmt.Sprintf("handler panic: %v", r))
		}
	}()
	return j.Handler.Run(ctx, j.Data)
}

// Snapshot is a point-in-time, JSON-friendly view of a job.
type Snapshot struct {
	ID          string `json:"id"`
	Type        string `json:"type,omitempty"`
	State       string `json:"state"`
	Priority    int    `json:"priority"`
	Retries     int    `json:"retries"`
	MaxRetries  int    `json:"max_retries"`
	Result      any    `json:"result,omitempty"`
	Error       string `json:"error,omitempty"`
	CreatedAt   string `json:"created_at,omitempty"`
	StartedAt   string `json:"started_at,omitempty"`
	CompletedAt string `json:"completed_at,omitempty"`
}

// Snapshot captures the job's current state for introspection and the
// HTTP surface. The live Job keeps mutating; the snapshot does not.
func (j *Job) Snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	s := Snapshot{
		ID:         j.ID,
		Type:       j.Type,
		State:      j.state,
		Priority:   j.Priority,
		Retries:    j.retries,
		MaxRetries: j.Retry.MaxRetries,
		Result:     j.result,
		CreatedAt:  FormatTime(j.createdAt),
	}
	if j.err != nil {
		s.Error = j.err.Error()
	}
	if !j.startedAt.IsZero() {
		s.StartedAt = FormatTime(j.startedAt)
	}
	if !j.completedAt.IsZero() {
		s.CompletedAt = FormatTime(j.completedAt)
	}
	return s
}

// MarshalJSON serializes the job as its snapshot.
func (j *Job) MarshalJSON() ([]byte, error) {
	return json.Marshal(j.Snapshot())
}
