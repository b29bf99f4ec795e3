package pipeline

import (
	"fmt"
	"sync"
)

// Registry manages registered workers, bucketed by role. Registration
// order is preserved within each role so analyst rosters are stable
// across runs.
type Registry struct {
	mu      sync.RWMutex
	workers map[string]Worker
	order   []string
}

// NewRegistry creates an empty worker registry.
func NewRegistry() *Registry {
	return &Registry{
		workers: make(map[string]Worker),
		order:   make([]string, 0),
	}
}

// Register adds a worker to the registry.
func (r *Registry) Register(w Worker) error {
	if w == nil {
		return fmt.Errorf("cannot register nil worker")
	}

	id := w.ID()
	if id == "" {
		return fmt.Errorf("worker ID cannot be empty")
	}

	switch w.Role() {
	case RoleAnalyst, RoleRisk, RoleDecision:
	default:
		return fmt.Errorf("worker %s has unknown role %q", id, w.Role())
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.workers[id]; exists {
		return fmt.Errorf("worker with ID %s already registered", id)
	}

	r.workers[id] = w
	r.order = append(r.order, id)
	return nil
}

// Unregister removes a worker from the registry.
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.workers[id]; !exists {
		return fmt.Errorf("worker with ID %s not found", id)
	}

	delete(r.workers, id)

	newOrder := make([]string, 0, len(r.order)-1)
	for _, workerID := range r.order {
		if workerID != id {
			newOrder = append(newOrder, workerID)
		}
	}
	r.order = newOrder

	return nil
}

// Get retrieves a worker by ID.
func (r *Registry) Get(id string) (Worker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	w, exists := r.workers[id]
	if !exists {
		return nil, fmt.Errorf("worker with ID %s not found", id)
	}

	return w, nil
}

// Has checks if a worker is registered.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.workers[id]
	return exists
}

// ByRole returns workers of the given role in registration order.
func (r *Registry) ByRole(role Role) []Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Worker, 0)
	for _, id := range r.order {
		if w, exists := r.workers[id]; exists && w.Role() == role {
			out = append(out, w)
		}
	}
	return out
}

// Analysts returns the analyst roster in registration order.
func (r *Registry) Analysts() []Worker {
	return r.ByRole(RoleAnalyst)
}

// Risk returns the sole risk worker.
func (r *Registry) Risk() (Worker, error) {
	workers := r.ByRole(RoleRisk)
	if len(workers) == 0 {
		return nil, ErrNoRiskWorker
	}
	return workers[0], nil
}

// Decision returns the sole decision worker.
func (r *Registry) Decision() (Worker, error) {
	workers := r.ByRole(RoleDecision)
	if len(workers) == 0 {
		return nil, ErrNoDecisionWorker
	}
	return workers[0], nil
}

// List returns all registered workers in registration order.
func (r *Registry) List() []Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	workers := make([]Worker, 0, len(r.order))
	for _, id := range r.order {
		if w, exists := r.workers[id]; exists {
			workers = append(workers, w)
		}
	}

	return workers
}

// ListIDs returns all registered worker IDs in registration order.
func (r *Registry) ListIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, len(r.order))
	copy(ids, r.order)
	return ids
}

// Count returns the number of registered workers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.workers)
}

// Clear removes all registered workers.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.workers = make(map[string]Worker)
	r.order = make([]string, 0)
}

// ValidateShape checks that the registry can serve a full pipeline run:
// at least one analyst, exactly one risk worker and exactly one decision
// worker.
func (r *Registry) ValidateShape() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var analysts, risk, decision int
	for _, w := range r.workers {
		switch w.Role() {
		case RoleAnalyst:
			analysts++
		case RoleRisk:
			risk++
		case RoleDecision:
			decision++
		}
	}

	if analysts == 0 {
		return ErrNoAnalysts
	}
	if risk == 0 {
		return ErrNoRiskWorker
	}
	if risk > 1 {
		return NewValidationError(fmt.Sprintf("expected exactly one risk worker, found %d", risk))
	}
	if decision == 0 {
		return ErrNoDecisionWorker
	}
	if decision > 1 {
		return NewValidationError(fmt.Sprintf("expected exactly one decision worker, found %d", decision))
	}

	return nil
}

// Clone creates a copy of the registry. Worker instances are shared; only
// the registration bookkeeping is copied.
func (r *Registry) Clone() *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clone := NewRegistry()
	for _, id := range r.order {
		if w, exists := r.workers[id]; exists {
			clone.workers[id] = w
			clone.order = append(clone.order, id)
		}
	}

	return clone
}
