package queue

import (
	"log/slog"

	"golang.org/x/time/rate"

	"github.com/tradehive/agentd/internal/events"
)

// Option configures a Queue.
type Option func(*Queue)

// WithConcurrency sets the maximum number of jobs running at once.
func WithConcurrency(n int) Option {
	return func(q *Queue) {
		if n >= 1 {
			q.concurrency = n
		}
	}
}

// WithRateLimit caps admissions at perSecond jobs per second with the
// given burst. Zero disables rate limiting.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(q *Queue) {
		if perSecond <= 0 {
			q.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		q.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithBus makes the queue publish lifecycle events on an existing bus
// instead of its own.
func WithBus(bus *events.Bus) Option {
	return func(q *Queue) {
		if bus != nil {
			q.bus = bus
		}
	}
}

// WithLogger sets the queue's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) {
		if logger != nil {
			q.logger = logger
		}
	}
}
