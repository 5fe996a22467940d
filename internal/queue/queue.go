// Package queue implements the bounded-concurrency priority job queue:
// pending jobs are admitted in ascending-priority order, executed up to
// a concurrency limit, retried per their policy, and reported through
// lifecycle events.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/time/rate"

	"github.com/tradehive/agentd/internal/core"
	"github.com/tradehive/agentd/internal/events"
)

// DefaultConcurrency is the running-job limit when none is configured.
const DefaultConcurrency = 5

// Stats is a point-in-time snapshot of the queue, not a live view.
// Pending and Running count live jobs; Completed, Failed and Cancelled
// are cumulative totals since the queue was created (terminal jobs are
// evicted from the live set).
type Stats struct {
	Pending     int  `json:"pending"`
	Running     int  `json:"running"`
	Completed   int  `json:"completed"`
	Failed      int  `json:"failed"`
	Cancelled   int  `json:"cancelled"`
	Concurrency int  `json:"concurrency"`
	Paused      bool `json:"paused"`
}

// Queue holds live jobs and drives them to settlement. One admission
// goroutine selects pending jobs in priority order; each admitted job
// executes on its own goroutine and owns itself until settlement,
// including the retry loop-backs, so the admission loop never offers
// the same job twice.
type Queue struct {
	concurrency int
	limiter     *rate.Limiter
	bus         *events.Bus
	logger      *slog.Logger

	mu         sync.Mutex
	jobs       []*core.Job // live set, kept sorted by ascending priority
	index      map[string]*core.Job
	admitted   map[string]struct{}
	running    int // admitted and not yet settled; never exceeds concurrency
	completed  int
	failed     int
	cancelled  int
	paused     bool
	loopActive bool
	closed     bool

	ctx    context.Context
	cancel context.CancelFunc
	wake   chan struct{}
	wg     sync.WaitGroup
}

// New creates a queue ready to accept jobs.
func New(opts ...Option) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		concurrency: DefaultConcurrency,
		bus:         events.NewBus(),
		logger:      slog.Default(),
		index:       make(map[string]*core.Job),
		admitted:    make(map[string]struct{}),
		ctx:         ctx,
		cancel:      cancel,
		wake:        make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Bus returns the queue's event bus.
func (q *Queue) Bus() *events.Bus { return q.bus }

// Enqueue constructs a job from a spec and adds it. Spec errors are
// returned synchronously, never deferred to events.
func (q *Queue) Enqueue(spec core.JobSpec) (*core.Job, error) {
	job, err := core.NewJob(spec)
	if err != nil {
		return nil, err
	}
	return q.Add(job)
}

// Add inserts a job into the live set, re-sorting by priority (stable,
// so equal priorities keep insertion order), and starts the admission
// loop if it is not running. The returned handle lets the caller track
// or cancel the job while it is pending.
func (q *Queue) Add(job *core.Job) (*core.Job, error) {
	if job == nil {
		return nil, core.NewValidationError("job must not be nil", nil)
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, core.NewConflictError("queue is closed", nil)
	}
	if _, dup := q.index[job.ID]; dup {
		q.mu.Unlock()
		return nil, core.NewConflictError(
			fmt.Sprintf("job %q already exists in the queue", job.ID),
			map[string]any{"job_id": job.ID},
		)
	}
	q.jobs = append(q.jobs, job)
	sort.SliceStable(q.jobs, func(i, j int) bool {
		return q.jobs[i].Priority < q.jobs[j].Priority
	})
	q.index[job.ID] = job
	q.mu.Unlock()

	q.bus.Publish(events.ForJob(events.KindJobAdded, job.ID, job.Type))
	q.ensureLoop()
	return job, nil
}

// GetJob returns the live job with the given id, or nil. Terminal jobs
// are evicted and no longer retrievable.
func (q *Queue) GetJob(id string) *core.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.index[id]
}

// Remove cancels and evicts a job that is still pending. It reports
// false for running or unknown jobs: an in-flight handler cannot be
// aborted.
func (q *Queue) Remove(id string) bool {
	q.mu.Lock()
	job := q.index[id]
	if job == nil || !job.Cancel() {
		q.mu.Unlock()
		return false
	}
	// A job cancelled during a retry backoff is still owned by its
	// executor, which evicts it on settlement.
	if _, owned := q.admitted[id]; !owned {
		q.evictLocked(id)
		q.cancelled++
	}
	q.mu.Unlock()

	q.bus.Publish(events.ForJob(events.KindJobRemoved, job.ID, job.Type))
	return true
}

// Start resumes admission after a pause and restarts the loop if
// pending work remains.
func (q *Queue) Start() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	wasPaused := q.paused
	q.paused = false
	q.mu.Unlock()

	if wasPaused {
		q.bus.Publish(events.New(events.KindResumed))
	}
	q.ensureLoop()
}

// Pause halts admission of new jobs. Already-running jobs finish.
func (q *Queue) Pause() {
	q.mu.Lock()
	if q.closed || q.paused {
		q.mu.Unlock()
		return
	}
	q.paused = true
	q.mu.Unlock()

	q.bus.Publish(events.New(events.KindPaused))
	q.signalWake()
}

// Clear cancels and evicts every pending job, returning how many were
// cancelled. Running jobs are unaffected. Each cancelled job gets its
// own job:removed event, then a single cleared event closes the batch.
func (q *Queue) Clear() int {
	q.mu.Lock()
	var removed []*core.Job
	for _, job := range q.jobs {
		if job.Cancel() {
			removed = append(removed, job)
		}
	}
	for _, job := range removed {
		// Jobs cancelled mid-backoff stay owned by their executor,
		// which evicts them on settlement.
		if _, owned := q.admitted[job.ID]; !owned {
			q.evictLocked(job.ID)
			q.cancelled++
		}
	}
	q.mu.Unlock()

	for _, job := range removed {
		q.bus.Publish(events.ForJob(events.KindJobRemoved, job.ID, job.Type))
	}
	q.bus.Publish(events.New(events.KindCleared))
	return len(removed)
}

// Stats snapshots the queue.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := Stats{
		Completed:   q.completed,
		Failed:      q.failed,
		Cancelled:   q.cancelled,
		Concurrency: q.concurrency,
		Paused:      q.paused,
	}
	for _, job := range q.jobs {
		switch job.State() {
		case core.StatePending:
			s.Pending++
		case core.StateRunning:
			s.Running++
		}
	}
	return s
}

// Close stops admission, aborts retry backoffs, and waits for in-flight
// handlers to return. A handler that ignores its context delays Close
// indefinitely.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	q.cancel()
	q.signalWake()
	q.wg.Wait()
}

// ensureLoop starts the admission loop when it is not running and
// pending work exists.
func (q *Queue) ensureLoop() {
	q.mu.Lock()
	if !q.closed && !q.paused && !q.loopActive && q.nextPendingLocked() != nil {
		q.loopActive = true
		q.wg.Add(1)
		go q.loop()
	}
	q.mu.Unlock()
	q.signalWake()
}

// signalWake nudges a loop blocked on a full concurrency limit. The
// channel is buffered so a signal sent while the loop is between checks
// is not lost.
func (q *Queue) signalWake() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// nextPendingLocked returns the highest-priority pending job not yet
// handed to an executor. Caller holds q.mu.
func (q *Queue) nextPendingLocked() *core.Job {
	for _, job := range q.jobs {
		if _, owned := q.admitted[job.ID]; owned {
			continue
		}
		if job.State() == core.StatePending {
			return job
		}
	}
	return nil
}

// evictLocked drops a job from the live set. Caller holds q.mu.
func (q *Queue) evictLocked(id string) {
	delete(q.index, id)
	delete(q.admitted, id)
	for i, job := range q.jobs {
		if job.ID == id {
			q.jobs = append(q.jobs[:i], q.jobs[i+1:]...)
			break
		}
	}
}

// exitLoopLocked marks the loop stopped. Caller holds q.mu; the lock is
// released here for symmetry with the call sites.
func (q *Queue) exitLoopLocked() {
	q.loopActive = false
	q.mu.Unlock()
}

// loop is the admission loop: while active it offers pending jobs to
// execution in priority order, blocking on the wake channel when all
// concurrency slots are taken. It exits when the queue pauses, closes,
// or runs out of admissible work; Add and Start restart it. An
// unexpected panic inside the loop is reported as an error event and
// the loop stops rather than crashing the process.
func (q *Queue) loop() {
	defer q.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			q.mu.Lock()
			q.loopActive = false
			q.mu.Unlock()
			q.logger.Error("admission loop aborted", "panic", r)
			evt := events.New(events.KindError)
			evt.Error = fmt.Sprintf("admission loop panic: %v", r)
			q.bus.Publish(evt)
		}
	}()

	for {
		q.mu.Lock()
		if q.closed || q.paused || q.nextPendingLocked() == nil {
			q.exitLoopLocked()
			return
		}
		if q.running >= q.concurrency {
			q.mu.Unlock()
			select {
			case <-q.wake:
			case <-q.ctx.Done():
				q.mu.Lock()
				q.exitLoopLocked()
				return
			}
			continue
		}
		q.mu.Unlock()

		if q.limiter != nil {
			if err := q.limiter.Wait(q.ctx); err != nil {
				q.mu.Lock()
				q.exitLoopLocked()
				return
			}
		}

		// Re-check under the lock: the queue may have paused or the
		// candidate may have been cancelled while unlocked.
		q.mu.Lock()
		if q.closed || q.paused {
			q.exitLoopLocked()
			return
		}
		job := q.nextPendingLocked()
		if job == nil {
			q.exitLoopLocked()
			return
		}
		if q.running >= q.concurrency {
			q.mu.Unlock()
			continue
		}
		q.admitted[job.ID] = struct{}{}
		q.running++
		q.mu.Unlock()

		q.bus.Publish(events.ForJob(events.KindJobStarted, job.ID, job.Type))
		q.wg.Add(1)
		go q.run(job)
	}
}

// run executes one admitted job to settlement. The concurrency slot is
// held across retries and backoff waits; it is released, and the job
// evicted, only when the job reaches a terminal state.
func (q *Queue) run(job *core.Job) {
	defer q.wg.Done()

	result, err := job.Execute(q.ctx)
	state := job.State()

	q.mu.Lock()
	q.running--
	q.evictLocked(job.ID)
	switch state {
	case core.StateCompleted:
		q.completed++
	case core.StateFailed:
		q.failed++
	case core.StateCancelled:
		q.cancelled++
	}
	q.mu.Unlock()

	switch state {
	case core.StateCompleted:
		evt := events.ForJob(events.KindJobCompleted, job.ID, job.Type)
		evt.Result = result
		evt.Retries = job.Retries()
		q.bus.Publish(evt)
	case core.StateFailed:
		q.logger.Warn("job failed", "job_id", job.ID, "type", job.Type, "retries", job.Retries(), "error", err)
		evt := events.ForJob(events.KindJobFailed, job.ID, job.Type)
		evt.Error = err.Error()
		evt.Retries = job.Retries()
		q.bus.Publish(evt)
	}
	// Cancelled settlements already emitted job:removed.

	q.signalWake()
}
