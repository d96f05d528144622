package providers

import (
	"context"
	"sync"

	"github.com/systmms/keysync/pkg/provider"
)

// Guarded serialises the operations of one provider instance. Pure accessors
// are passed through without locking.
type Guarded struct {
	mu    sync.Mutex
	inner provider.Provider
}

// Guard wraps p so that at most one of its operations runs at a time.
// Guarding an already guarded provider returns it unchanged.
func Guard(p provider.Provider) *Guarded {
	if g, ok := p.(*Guarded); ok {
		return g
	}
	return &Guarded{inner: p}
}

// Unwrap returns the guarded provider.
func (g *Guarded) Unwrap() provider.Provider { return g.inner }

// Configure runs fn on the guarded provider while holding the operation
// lock, so state changes never interleave with a running operation.
func (g *Guarded) Configure(fn func(p provider.Provider)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn(g.inner)
}

// Identity implements provider.Provider.
func (g *Guarded) Identity() provider.Identity { return g.inner.Identity() }

// Name implements provider.Provider.
func (g *Guarded) Name() string { return g.inner.Name() }

// Scope implements provider.Provider.
func (g *Guarded) Scope() string { return g.inner.Scope() }

// IsAuthenticated implements provider.Provider.
func (g *Guarded) IsAuthenticated() bool { return g.inner.IsAuthenticated() }

// Account returns the inner provider's account, or "".
func (g *Guarded) Account() string {
	if a, ok := g.inner.(provider.AccountIdentifier); ok {
		return a.Account()
	}
	return ""
}

// Authenticate implements provider.Provider.
func (g *Guarded) Authenticate(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inner.Authenticate(ctx)
}

// TryRestoreSession delegates when the inner provider supports it.
func (g *Guarded) TryRestoreSession(ctx context.Context) (bool, error) {
	r, ok := g.inner.(provider.SessionRestorer)
	if !ok {
		return false, nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return r.TryRestoreSession(ctx)
}

// ListKeys implements provider.Provider.
func (g *Guarded) ListKeys(ctx context.Context) ([]provider.KeyMetadata, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inner.ListKeys(ctx)
}

// DeployKey implements provider.Provider.
func (g *Guarded) DeployKey(ctx context.Context, publicKey, title string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inner.DeployKey(ctx, publicKey, title)
}

// RemoveKey implements provider.Provider.
func (g *Guarded) RemoveKey(ctx context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inner.RemoveKey(ctx, id)
}

// Disconnect implements provider.Provider.
func (g *Guarded) Disconnect(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inner.Disconnect(ctx)
}
