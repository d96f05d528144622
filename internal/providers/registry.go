package providers

import (
	"sync"

	"github.com/systmms/keysync/pkg/provider"
)

// Registry maps each provider identity to its live instance. It is built
// once by the composition root and passed to whoever needs lookups.
type Registry struct {
	mu        sync.RWMutex
	providers map[provider.Identity]provider.Provider
}

// NewRegistry creates a new empty registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[provider.Identity]provider.Provider),
	}
}

// Register adds p, replacing any instance with the same identity. The
// replaced instance is not disconnected.
func (r *Registry) Register(p provider.Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Identity()] = p
}

// Get retrieves the instance registered for id.
func (r *Registry) Get(id provider.Identity) (provider.Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	return p, ok
}

// Unregister removes the instance for id, if any.
func (r *Registry) Unregister(id provider.Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.providers, id)
}

// List returns all registered instances in provider.Identities order.
func (r *Registry) List() []provider.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]provider.Provider, 0, len(r.providers))
	for _, id := range provider.Identities() {
		if p, ok := r.providers[id]; ok {
			out = append(out, p)
		}
	}
	return out
}
