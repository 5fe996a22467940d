package server

import (
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tradehive/agentd/internal/api"
	"github.com/tradehive/agentd/internal/queue"
	"github.com/tradehive/agentd/internal/scheduler"
	"github.com/tradehive/agentd/internal/trading"
)

// NewRouter builds the chi router with all routes and middleware wired
// to the given engine components.
func NewRouter(q *queue.Queue, sched *scheduler.Scheduler, reg *trading.Registry) *chi.Mux {
	r := chi.NewRouter()

	r.Use(api.RequestID)
	r.Use(api.RequestLogger)
	r.Use(api.LimitBody)
	r.Use(api.ValidateContentType)

	jobH := api.NewJobHandler(q, reg)
	schedH := api.NewScheduleHandler(sched, reg)
	systemH := api.NewSystemHandler(sched)

	r.Get("/healthz", systemH.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/jobs", jobH.Create)
		r.Get("/jobs/{id}", jobH.Get)
		r.Delete("/jobs/{id}", jobH.Cancel)

		r.Post("/schedules", schedH.Create)
		r.Get("/schedules/{id}", schedH.Get)
		r.Delete("/schedules/{id}", schedH.Cancel)

		r.Get("/stats", systemH.Stats)
	})

	return r
}
