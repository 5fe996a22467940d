package trading

import (
	"fmt"
	"sort"
	"sync"

	"github.com/tradehive/agentd/internal/core"
)

// Registry maps job type names to their handlers. Submissions with an
// unregistered type are rejected before a job is created.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]core.Handler
}

// NewRegistry returns a registry with the platform's job kinds
// registered.
func NewRegistry() *Registry {
	r := &Registry{handlers: make(map[string]core.Handler)}
	r.Register(TypeAgentCreate, AgentCreateHandler{})
	r.Register(TypeTrain, TrainingHandler{})
	r.Register(TypePredict, PredictionHandler{})
	r.Register(TypeExecute, ExecutionHandler{})
	r.Register(TypeMarketGet, MarketDataHandler{})
	return r
}

// Register adds or replaces the handler for a job type.
func (r *Registry) Register(jobType string, h core.Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[jobType] = h
}

// Lookup resolves a job type to its handler.
func (r *Registry) Lookup(jobType string) (core.Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[jobType]
	if !ok {
		return nil, core.NewValidationError(
			fmt.Sprintf("unknown job type %q", jobType),
			map[string]any{"type": jobType, "known": r.typesLocked()},
		)
	}
	return h, nil
}

// Types lists the registered job types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.typesLocked()
}

func (r *Registry) typesLocked() []string {
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
