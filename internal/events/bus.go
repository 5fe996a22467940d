package events

import (
	"sort"
	"sync"
)

// Subscriber receives published events. Subscribers run synchronously
// on the publisher's goroutine, so they must not block; anything slow
// belongs behind a channel or the NATS forwarder.
type Subscriber func(Event)

// Bus is the in-process observer registry: a list of registered
// callbacks guarded by a lock. Delivery is synchronous, at-least-once,
// and in state-transition order for any single job, because the
// goroutine that performs a transition publishes before it proceeds.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	byKind map[Kind]map[int]Subscriber
	all    map[int]Subscriber
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		byKind: make(map[Kind]map[int]Subscriber),
		all:    make(map[int]Subscriber),
	}
}

// Subscribe registers fn for one event kind and returns an unsubscribe
// function.
func (b *Bus) Subscribe(kind Kind, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	if b.byKind[kind] == nil {
		b.byKind[kind] = make(map[int]Subscriber)
	}
	b.byKind[kind][id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.byKind[kind], id)
	}
}

// SubscribeAll registers fn for every event kind.
func (b *Bus) SubscribeAll(fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.all[id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.all, id)
	}
}

// Publish delivers evt to the current subscribers of its kind, then to
// the subscribe-all set, in registration order. The lock is released
// before any callback runs so subscribers may themselves subscribe,
// unsubscribe, or publish.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	ids := make([]int, 0, len(b.byKind[evt.Kind])+len(b.all))
	subs := make(map[int]Subscriber, cap(ids))
	for id, fn := range b.byKind[evt.Kind] {
		ids = append(ids, id)
		subs[id] = fn
	}
	for id, fn := range b.all {
		ids = append(ids, id)
		subs[id] = fn
	}
	b.mu.RUnlock()

	sort.Ints(ids)
	for _, id := range ids {
		subs[id](evt)
	}
}
