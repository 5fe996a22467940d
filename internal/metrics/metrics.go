// Package metrics exposes Prometheus collectors for the job engine.
// Counters are fed from the event bus so the queue and scheduler stay
// free of instrumentation calls.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tradehive/agentd/internal/events"
)

var (
	buildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "agentd_build_info",
		Help: "Build information. Always 1, labeled with the version.",
	}, []string{"version"})

	jobsAdded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentd_jobs_added_total",
		Help: "Total jobs accepted into the queue.",
	})
	jobsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentd_jobs_started_total",
		Help: "Total job admissions to a worker slot.",
	})
	jobsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentd_jobs_completed_total",
		Help: "Total jobs that finished successfully.",
	})
	jobsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentd_jobs_failed_total",
		Help: "Total jobs that exhausted their retries.",
	})
	jobsRetried = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentd_jobs_retried_total",
		Help: "Total retry attempts across all jobs.",
	})
	jobsCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentd_jobs_cancelled_total",
		Help: "Total jobs cancelled or removed before running.",
	})

	jobsRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "agentd_jobs_running",
		Help: "Jobs currently executing.",
	})
	jobsPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "agentd_jobs_pending",
		Help: "Jobs waiting in the queue.",
	})
)

// Init sets the build info gauge. Call once at startup.
func Init(version string) {
	buildInfo.WithLabelValues(version).Set(1)
}

// Observe wires the collectors to the event bus. The returned function
// detaches them again. The observer remembers which jobs have started
// so that a removal balances the right gauge: a job cancelled after
// admission holds a worker slot, not a queue position.
func Observe(bus *events.Bus) func() {
	var mu sync.Mutex
	started := make(map[string]struct{})
	return bus.SubscribeAll(func(evt events.Event) {
		switch evt.Kind {
		case events.KindJobAdded:
			jobsAdded.Inc()
			jobsPending.Inc()
		case events.KindJobStarted:
			jobsStarted.Inc()
			jobsPending.Dec()
			jobsRunning.Inc()
			mu.Lock()
			started[evt.JobID] = struct{}{}
			mu.Unlock()
		case events.KindJobCompleted:
			jobsCompleted.Inc()
			jobsRunning.Dec()
			jobsRetried.Add(float64(evt.Retries))
			mu.Lock()
			delete(started, evt.JobID)
			mu.Unlock()
		case events.KindJobFailed:
			jobsFailed.Inc()
			jobsRunning.Dec()
			jobsRetried.Add(float64(evt.Retries))
			mu.Lock()
			delete(started, evt.JobID)
			mu.Unlock()
		case events.KindJobRemoved:
			jobsCancelled.Inc()
			mu.Lock()
			_, wasStarted := started[evt.JobID]
			delete(started, evt.JobID)
			mu.Unlock()
			if wasStarted {
				jobsRunning.Dec()
			} else {
				jobsPending.Dec()
			}
		}
	})
}

// ObserveArmed registers a gauge backed by the scheduler's count of
// armed timers. Call at most once.
func ObserveArmed(count func() int) {
	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "agentd_schedules_armed",
		Help: "Timers currently armed in the scheduler.",
	}, func() float64 { return float64(count()) })
}
