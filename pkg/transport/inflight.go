package transport

import (
	"context"
	"sync"
)

// InFlightRegistry tracks runs whose completions are still executing,
// keyed by run ID, so a DELETE on the run can cancel them mid-flight.
//
// All methods are safe for concurrent use.
type InFlightRegistry struct {
	mu      sync.Mutex
	entries map[string]context.CancelFunc
}

// NewInFlightRegistry creates an empty registry.
func NewInFlightRegistry() *InFlightRegistry {
	return &InFlightRegistry{entries: make(map[string]context.CancelFunc)}
}

// Register records the cancel function for an executing run. The caller
// must pair it with Remove once the run finishes.
func (r *InFlightRegistry) Register(id string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[id] = cancel
}

// Cancel cancels the run with the given ID. It reports whether a run
// was actually in flight; the entry is removed either way.
func (r *InFlightRegistry) Cancel(id string) bool {
	r.mu.Lock()
	cancel, ok := r.entries[id]
	if ok {
		delete(r.entries, id)
	}
	r.mu.Unlock()

	if ok {
		cancel()
	}
	return ok
}

// Remove drops the entry without cancelling, for runs that finished
// normally.
func (r *InFlightRegistry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}
