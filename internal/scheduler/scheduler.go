// Package scheduler maps absolute, relative and cron schedules onto
// queue submissions. It owns the timers that fire jobs into the queue
// and the bookkeeping needed to re-arm recurring schedules.
package scheduler

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tradehive/agentd/internal/core"
	"github.com/tradehive/agentd/internal/events"
	"github.com/tradehive/agentd/internal/queue"
)

// cronParser accepts standard five-field expressions, an optional
// leading seconds field for sub-minute schedules, and descriptors such
// as @hourly and @every 30s.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// entry is a not-yet-fired schedule: the prebuilt job and its armed
// timer live and die together.
type entry struct {
	job    *core.Job
	timer  *time.Timer
	fireAt time.Time
	cron   string
}

// cronState is what recurrence needs to rebuild the next occurrence:
// cron jobs are re-armed after each run, so the original spec is
// retained to construct a fresh Job per occurrence.
type cronState struct {
	expr     string
	schedule cron.Schedule
	spec     core.JobSpec
}

// ScheduleInfo is an introspection view of a schedule.
type ScheduleInfo struct {
	ID     string        `json:"id"`
	FireAt string        `json:"fire_at,omitempty"`
	Cron   string        `json:"cron,omitempty"`
	Job    core.Snapshot `json:"job"`
}

// Stats counts not-yet-fired schedules alongside the queue's own
// snapshot.
type Stats struct {
	Scheduled int         `json:"scheduled"`
	Queue     queue.Stats `json:"queue"`
}

// Scheduler hands jobs to its queue when their time comes. Recurrence
// is implemented by re-arming after each run settles, not by a
// persistent ticker: a cron schedule always has at most one armed
// occurrence.
type Scheduler struct {
	queue  *queue.Queue
	bus    *events.Bus
	logger *slog.Logger

	rescheduleOnFailure bool

	mu      sync.Mutex
	pending map[string]*entry
	crons   map[string]cronState
	closed  bool

	unsubs []func()
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the scheduler's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRescheduleOnFailure makes a recurring schedule re-arm after a
// failed run as well as after a completed one. By default a failed run
// ends the recurrence.
func WithRescheduleOnFailure(on bool) Option {
	return func(s *Scheduler) { s.rescheduleOnFailure = on }
}

// New creates a Scheduler submitting to q and listening on q's event
// bus for settlements that drive cron re-arming.
func New(q *queue.Queue, opts ...Option) *Scheduler {
	s := &Scheduler{
		queue:   q,
		bus:     q.Bus(),
		logger:  slog.Default(),
		pending: make(map[string]*entry),
		crons:   make(map[string]cronState),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.unsubs = append(s.unsubs,
		s.bus.Subscribe(events.KindJobCompleted, s.onCompleted),
		s.bus.Subscribe(events.KindJobFailed, s.onFailed),
	)
	return s
}

// Queue returns the owned queue.
func (s *Scheduler) Queue() *queue.Queue { return s.queue }

// ScheduleAt arms a one-shot timer that hands the job to the queue at
// the given time. A time in the past fires on the next tick, not
// synchronously. Returns the job handle.
func (s *Scheduler) ScheduleAt(spec core.JobSpec, at time.Time) (*core.Job, error) {
	return s.schedule(spec, at, "")
}

// ScheduleAfter is ScheduleAt with time = now + delay.
func (s *Scheduler) ScheduleAfter(spec core.JobSpec, delay time.Duration) (*core.Job, error) {
	return s.schedule(spec, time.Now().Add(delay), "")
}

// ScheduleCron parses a cron expression and arms its next occurrence.
// After each completed run the following occurrence is re-armed under
// the same schedule id. A malformed or exhausted expression is
// reported synchronously; nothing is armed.
func (s *Scheduler) ScheduleCron(spec core.JobSpec, expr string) (*core.Job, error) {
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, core.NewInvalidRequestError(
			fmt.Sprintf("Invalid cron expression: %s", expr),
			map[string]any{"expression": expr, "error": err.Error()},
		)
	}
	next := schedule.Next(time.Now())
	if next.IsZero() {
		return nil, core.NewInvalidRequestError(
			fmt.Sprintf("Cron expression %q has no future occurrence", expr),
			map[string]any{"expression": expr},
		)
	}
	if spec.ID == "" {
		spec.ID = core.NewID()
	}

	job, err2 := s.schedule(spec, next, expr)
	if err2 != nil {
		return nil, err2
	}

	s.mu.Lock()
	s.crons[spec.ID] = cronState{expr: expr, schedule: schedule, spec: spec}
	s.mu.Unlock()
	return job, nil
}

func (s *Scheduler) schedule(spec core.JobSpec, at time.Time, cronExpr string) (*core.Job, error) {
	job, err := core.NewJob(spec)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, core.NewConflictError("scheduler is closed", nil)
	}
	if _, dup := s.pending[job.ID]; dup {
		s.mu.Unlock()
		return nil, core.NewConflictError(
			fmt.Sprintf("schedule %q already exists", job.ID),
			map[string]any{"job_id": job.ID},
		)
	}
	if s.queue.GetJob(job.ID) != nil {
		s.mu.Unlock()
		return nil, core.NewConflictError(
			fmt.Sprintf("job %q is already live in the queue", job.ID),
			map[string]any{"job_id": job.ID},
		)
	}

	delay := time.Until(at)
	if delay < 0 {
		delay = 0
	}
	e := &entry{job: job, fireAt: at, cron: cronExpr}
	e.timer = time.AfterFunc(delay, func() { s.fire(job.ID) })
	s.pending[job.ID] = e
	s.mu.Unlock()

	evt := events.ForJob(events.KindScheduled, job.ID, job.Type)
	s.bus.Publish(evt)
	return job, nil
}

// fire moves a schedule's job into the queue and clears the schedule
// bookkeeping. Timer and entry are removed together; a schedule
// cancelled after its timer goroutine started finds no entry and does
// nothing.
func (s *Scheduler) fire(id string) {
	s.mu.Lock()
	e, ok := s.pending[id]
	if !ok || s.closed {
		s.mu.Unlock()
		return
	}
	delete(s.pending, id)
	s.mu.Unlock()

	if _, err := s.queue.Add(e.job); err != nil {
		s.logger.Error("failed to enqueue scheduled job", "job_id", id, "error", err)
		evt := events.New(events.KindError)
		evt.JobID = id
		evt.Error = err.Error()
		s.bus.Publish(evt)
	}
}

// Cancel disarms a not-yet-fired schedule, or falls back to removing
// the job from the queue if it already fired and is still pending
// there. Either way the recurrence, if any, ends.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	delete(s.crons, id)
	if e, ok := s.pending[id]; ok {
		e.timer.Stop()
		delete(s.pending, id)
		s.mu.Unlock()

		evt := events.ForJob(events.KindCancelled, id, e.job.Type)
		s.bus.Publish(evt)
		return true
	}
	s.mu.Unlock()
	return s.queue.Remove(id)
}

// GetJob checks the not-yet-fired schedules first, then the queue.
func (s *Scheduler) GetJob(id string) *core.Job {
	s.mu.Lock()
	if e, ok := s.pending[id]; ok {
		job := e.job
		s.mu.Unlock()
		return job
	}
	s.mu.Unlock()
	return s.queue.GetJob(id)
}

// GetSchedule returns an introspection view of a not-yet-fired
// schedule.
func (s *Scheduler) GetSchedule(id string) (ScheduleInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.pending[id]
	if !ok {
		return ScheduleInfo{}, false
	}
	return ScheduleInfo{
		ID:     id,
		FireAt: core.FormatTime(e.fireAt),
		Cron:   e.cron,
		Job:    e.job.Snapshot(),
	}, true
}

// Stats snapshots the scheduler and its queue.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	scheduled := len(s.pending)
	s.mu.Unlock()
	return Stats{Scheduled: scheduled, Queue: s.queue.Stats()}
}

// Close disarms every schedule and detaches from the bus. The queue is
// left running; closing it is its owner's call.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for id, e := range s.pending {
		e.timer.Stop()
		delete(s.pending, id)
	}
	s.crons = make(map[string]cronState)
	unsubs := s.unsubs
	s.unsubs = nil
	s.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
}

func (s *Scheduler) onCompleted(evt events.Event) {
	s.rearm(evt.JobID)
}

func (s *Scheduler) onFailed(evt events.Event) {
	if s.rescheduleOnFailure {
		s.rearm(evt.JobID)
		return
	}
	// The recurrence ends with the failed run.
	s.mu.Lock()
	_, wasCron := s.crons[evt.JobID]
	delete(s.crons, evt.JobID)
	s.mu.Unlock()
	if wasCron {
		s.logger.Warn("recurring job failed, not rescheduling", "job_id", evt.JobID)
	}
}

// rearm schedules the next occurrence of a recurring job after a run
// settles. Each occurrence is a fresh Job under the same schedule id.
func (s *Scheduler) rearm(id string) {
	s.mu.Lock()
	state, ok := s.crons[id]
	closed := s.closed
	s.mu.Unlock()
	if !ok || closed {
		return
	}

	next := state.schedule.Next(time.Now())
	if next.IsZero() {
		s.logger.Warn("cron expression exhausted, recurrence ends", "job_id", id, "expression", state.expr)
		s.mu.Lock()
		delete(s.crons, id)
		s.mu.Unlock()
		return
	}

	if _, err := s.schedule(state.spec, next, state.expr); err != nil {
		s.logger.Error("failed to re-arm recurring job", "job_id", id, "error", err)
		evt := events.New(events.KindError)
		evt.JobID = id
		evt.Error = err.Error()
		s.bus.Publish(evt)
	}
}
