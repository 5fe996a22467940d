// Package api implements the HTTP handlers in front of the job engine.
// Handlers translate between the JSON wire surface and the queue,
// scheduler and handler registry; they hold no state of their own.
package api

import (
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tradehive/agentd/internal/core"
	"github.com/tradehive/agentd/internal/queue"
	"github.com/tradehive/agentd/internal/scheduler"
	"github.com/tradehive/agentd/internal/trading"
)

// JobHandler serves immediate job submissions.
type JobHandler struct {
	queue    *queue.Queue
	registry *trading.Registry
}

// NewJobHandler creates a JobHandler.
func NewJobHandler(q *queue.Queue, reg *trading.Registry) *JobHandler {
	return &JobHandler{queue: q, registry: reg}
}

// Create handles POST /api/v1/jobs.
func (h *JobHandler) Create(w http.ResponseWriter, r *http.Request) {
	spec, engErr := h.specFromBody(r)
	if engErr != nil {
		WriteError(w, StatusForError(engErr), engErr)
		return
	}

	job, err := h.queue.Enqueue(*spec)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	w.Header().Set("Location", "/api/v1/jobs/"+job.ID)
	WriteJSON(w, http.StatusCreated, map[string]any{"job": job.Snapshot()})
}

// Get handles GET /api/v1/jobs/{id}.
func (h *JobHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job := h.queue.GetJob(id)
	if job == nil {
		engErr := core.NewNotFoundError("Job", id)
		WriteError(w, http.StatusNotFound, engErr)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"job": job.Snapshot()})
}

// Cancel handles DELETE /api/v1/jobs/{id}. Only pending jobs can be
// cancelled; a running or settled job is a conflict.
func (h *JobHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job := h.queue.GetJob(id)
	if job == nil {
		WriteError(w, http.StatusNotFound, core.NewNotFoundError("Job", id))
		return
	}
	if !h.queue.Remove(id) {
		engErr := core.NewConflictError(
			"Only pending jobs can be cancelled.",
			map[string]any{"job_id": id, "state": job.State()},
		)
		WriteError(w, http.StatusConflict, engErr)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"job": job.Snapshot()})
}

// specFromBody decodes a submission body into a JobSpec with the
// registered handler for its type resolved.
func (h *JobHandler) specFromBody(r *http.Request) (*core.JobSpec, *core.EngineError) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, core.NewInvalidRequestError("Failed to read request body.", map[string]any{"error": err.Error()})
	}
	req, engErr := core.ParseSubmitRequest(body)
	if engErr != nil {
		return nil, engErr
	}
	return specFromRequest(h.registry, req)
}

// specFromRequest resolves a validated submission into a JobSpec.
func specFromRequest(reg *trading.Registry, req *core.SubmitRequest) (*core.JobSpec, *core.EngineError) {
	handler, err := reg.Lookup(req.Type)
	if err != nil {
		if engErr, ok := err.(*core.EngineError); ok {
			return nil, engErr
		}
		return nil, core.NewInternalError(err.Error())
	}
	spec := &core.JobSpec{
		ID:      req.ID,
		Type:    req.Type,
		Handler: handler,
		Data:    req.Data,
		Retry:   req.RetryPolicyFromRequest(),
	}
	if req.Priority != nil {
		spec.Priority = *req.Priority
	}
	return spec, nil
}

// ScheduleHandler serves deferred and recurring submissions.
type ScheduleHandler struct {
	sched    *scheduler.Scheduler
	registry *trading.Registry
}

// NewScheduleHandler creates a ScheduleHandler.
func NewScheduleHandler(s *scheduler.Scheduler, reg *trading.Registry) *ScheduleHandler {
	return &ScheduleHandler{sched: s, registry: reg}
}

// Create handles POST /api/v1/schedules. Exactly one of time, delay and
// cron selects the schedule kind.
func (h *ScheduleHandler) Create(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		WriteError(w, http.StatusBadRequest,
			core.NewInvalidRequestError("Failed to read request body.", map[string]any{"error": err.Error()}))
		return
	}
	req, engErr := core.ParseScheduleRequest(body)
	if engErr != nil {
		WriteError(w, StatusForError(engErr), engErr)
		return
	}
	spec, engErr := specFromRequest(h.registry, &req.SubmitRequest)
	if engErr != nil {
		WriteError(w, StatusForError(engErr), engErr)
		return
	}

	var job *core.Job
	if req.Cron != "" {
		job, err = h.sched.ScheduleCron(*spec, req.Cron)
	} else {
		job, err = h.sched.ScheduleAt(*spec, req.FireTime(time.Now()))
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}

	info, _ := h.sched.GetSchedule(job.ID)
	w.Header().Set("Location", "/api/v1/schedules/"+job.ID)
	WriteJSON(w, http.StatusCreated, map[string]any{"schedule": info})
}

// Get handles GET /api/v1/schedules/{id}. A fired schedule's job is
// still reachable here until it is evicted from the queue.
func (h *ScheduleHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if info, ok := h.sched.GetSchedule(id); ok {
		WriteJSON(w, http.StatusOK, map[string]any{"schedule": info})
		return
	}
	if job := h.sched.GetJob(id); job != nil {
		WriteJSON(w, http.StatusOK, map[string]any{"schedule": scheduler.ScheduleInfo{ID: id, Job: job.Snapshot()}})
		return
	}
	WriteError(w, http.StatusNotFound, core.NewNotFoundError("Schedule", id))
}

// Cancel handles DELETE /api/v1/schedules/{id}. A schedule whose job
// has fired and is already running cannot be cancelled; that is a
// conflict, not an unknown id.
func (h *ScheduleHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if h.sched.Cancel(id) {
		WriteJSON(w, http.StatusOK, map[string]any{"cancelled": true, "id": id})
		return
	}
	if job := h.sched.GetJob(id); job != nil {
		engErr := core.NewConflictError(
			"Only armed or pending schedules can be cancelled.",
			map[string]any{"schedule_id": id, "state": job.State()},
		)
		WriteError(w, http.StatusConflict, engErr)
		return
	}
	WriteError(w, http.StatusNotFound, core.NewNotFoundError("Schedule", id))
}

// SystemHandler serves health and stats.
type SystemHandler struct {
	sched *scheduler.Scheduler
}

// NewSystemHandler creates a SystemHandler.
func NewSystemHandler(s *scheduler.Scheduler) *SystemHandler {
	return &SystemHandler{sched: s}
}

// Health handles GET /healthz.
func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": core.Version,
	})
}

// Stats handles GET /api/v1/stats.
func (h *SystemHandler) Stats(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.sched.Stats())
}
