package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"
)

// NATS subjects for forwarded lifecycle events.
const (
	subjectAll       = "agentd.events.all"
	subjectJobPrefix = "agentd.events.job."
)

func jobSubject(jobID string) string { return subjectJobPrefix + jobID }

// Forwarder republishes bus events to NATS so observers outside the
// process (dashboards, the persistence layer) can follow job
// lifecycles. Forwarding is best-effort: a publish failure is logged
// and dropped, never allowed to stall the engine.
type Forwarder struct {
	nc   *nats.Conn
	mu   sync.Mutex
	subs []*nats.Subscription
}

// NewForwarder creates a Forwarder on an established NATS connection.
func NewForwarder(nc *nats.Conn) *Forwarder {
	return &Forwarder{nc: nc}
}

// Attach subscribes the forwarder to every event on the bus and
// returns the unsubscribe function.
func (f *Forwarder) Attach(bus *Bus) func() {
	return bus.SubscribeAll(f.forward)
}

func (f *Forwarder) forward(evt Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		slog.Error("failed to marshal event", "error", err, "kind", evt.Kind)
		return
	}

	if evt.JobID != "" {
		if err := f.nc.Publish(jobSubject(evt.JobID), data); err != nil {
			slog.Warn("dropping job event, NATS publish failed", "error", err, "job_id", evt.JobID)
		}
	}
	if err := f.nc.Publish(subjectAll, data); err != nil {
		slog.Warn("dropping event, NATS publish failed", "error", err, "kind", evt.Kind)
	}
}

// SubscribeJob delivers forwarded events for one job over a channel.
// The channel is buffered; events are dropped with a warning when the
// consumer falls behind.
func (f *Forwarder) SubscribeJob(jobID string) (<-chan Event, func(), error) {
	return f.subscribe(jobSubject(jobID))
}

// SubscribeAll delivers every forwarded event over a channel.
func (f *Forwarder) SubscribeAll() (<-chan Event, func(), error) {
	return f.subscribe(subjectAll)
}

func (f *Forwarder) subscribe(subject string) (<-chan Event, func(), error) {
	ch := make(chan Event, 64)

	sub, err := f.nc.Subscribe(subject, func(msg *nats.Msg) {
		var evt Event
		if err := json.Unmarshal(msg.Data, &evt); err != nil {
			slog.Error("failed to unmarshal event", "error", err)
			return
		}
		select {
		case ch <- evt:
		default:
			slog.Warn("dropping event, subscriber channel full", "subject", subject)
		}
	})
	if err != nil {
		close(ch)
		return nil, nil, fmt.Errorf("subscribe to %s: %w", subject, err)
	}

	f.mu.Lock()
	f.subs = append(f.subs, sub)
	f.mu.Unlock()

	unsubscribe := func() {
		_ = sub.Unsubscribe()
		close(ch)
	}
	return ch, unsubscribe, nil
}

// Close unsubscribes all channel subscriptions.
func (f *Forwarder) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, sub := range f.subs {
		_ = sub.Unsubscribe()
	}
	f.subs = nil
	return nil
}
