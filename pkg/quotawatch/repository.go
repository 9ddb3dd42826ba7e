package quotawatch

import (
	"fmt"
	"sync"
)

// Repository holds the known providers in registration order. Order matters:
// listings and the monitor's auto-selection both follow it.
type Repository struct {
	mu    sync.RWMutex
	order []string
	byID  map[string]*Provider
}

// NewRepository creates a repository with the given providers, in order.
func NewRepository(providers ...*Provider) (*Repository, error) {
	r := &Repository{byID: make(map[string]*Provider)}
	for _, p := range providers {
		if err := r.Add(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Add registers a provider. Registering a duplicate ID is an error.
func (r *Repository) Add(p *Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[p.ID()]; exists {
		return fmt.Errorf("provider %s already registered", p.ID())
	}
	r.byID[p.ID()] = p
	r.order = append(r.order, p.ID())
	return nil
}

// Remove unregisters a provider. Removing an unknown ID is a no-op.
func (r *Repository) Remove(providerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[providerID]; !exists {
		return
	}
	delete(r.byID, providerID)
	for i, id := range r.order {
		if id == providerID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Get returns a provider by ID.
func (r *Repository) Get(providerID string) (*Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byID[providerID]
	return p, ok
}

// All returns every provider in registration order.
func (r *Repository) All() []*Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Provider, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

// Enabled returns the enabled providers in registration order.
func (r *Repository) Enabled() []*Provider {
	all := r.All()
	out := make([]*Provider, 0, len(all))
	for _, p := range all {
		if p.Enabled() {
			out = append(out, p)
		}
	}
	return out
}

// Len returns the number of registered providers.
func (r *Repository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
