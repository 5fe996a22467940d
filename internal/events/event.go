// Package events carries the engine's lifecycle notifications: an
// in-process bus external collaborators subscribe to, and an optional
// NATS forwarder for observers outside the process.
package events

import "github.com/tradehive/agentd/internal/core"

// Kind identifies a lifecycle event.
type Kind string

// Lifecycle event kinds. Job-scoped kinds carry the job's ID; the
// queue-scoped kinds (cleared, paused, resumed) do not.
const (
	KindJobAdded     Kind = "job:added"
	KindJobStarted   Kind = "job:started"
	KindJobCompleted Kind = "job:completed"
	KindJobFailed    Kind = "job:failed"
	KindJobRemoved   Kind = "job:removed"
	KindCleared      Kind = "cleared"
	KindPaused       Kind = "paused"
	KindResumed      Kind = "resumed"
	KindScheduled    Kind = "scheduled"
	KindCancelled    Kind = "cancelled"
	KindError        Kind = "error"
)

// Event is a single lifecycle notification. Publication happens after
// the state transition it reports, on the goroutine that performed the
// transition.
type Event struct {
	Kind    Kind   `json:"kind"`
	JobID   string `json:"job_id,omitempty"`
	JobType string `json:"job_type,omitempty"`
	Result  any    `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
	Retries int    `json:"retries,omitempty"`
	At      string `json:"at"`
}

// New builds an event stamped with the current time.
func New(kind Kind) Event {
	return Event{Kind: kind, At: core.NowFormatted()}
}

// ForJob builds a job-scoped event.
func ForJob(kind Kind, jobID, jobType string) Event {
	evt := New(kind)
	evt.JobID = jobID
	evt.JobType = jobType
	return evt
}
