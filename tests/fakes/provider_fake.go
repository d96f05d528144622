package fakes

import (
	"context"
	"fmt"
	"sync"

	"github.com/systmms/keysync/pkg/provider"
)

// FakeAccount is the account name reported by an authenticated FakeProvider.
const FakeAccount = "fake-user"

// FakeProvider is a manual fake implementation of provider.Provider.
//
// Keys live in memory. Errors can be injected per method and every call is
// counted, which lets tests check that caches avoid remote calls.
//
// Example usage:
//
//	fake := fakes.NewFakeProvider(provider.GitHub).
//	    WithKey(provider.KeyMetadata{ID: "1", Title: "laptop"}).
//	    WithError("ListKeys", errors.New("connection failed"))
type FakeProvider struct {
	id    provider.Identity
	scope string

	keys          []provider.KeyMetadata
	nextID        int
	authenticated bool
	stored        bool

	failOn    map[string]error
	callCount map[string]int

	mu sync.RWMutex
}

// NewFakeProvider creates an unauthenticated fake for id.
func NewFakeProvider(id provider.Identity) *FakeProvider {
	return &FakeProvider{
		id:        id,
		scope:     string(id),
		nextID:    1,
		failOn:    make(map[string]error),
		callCount: make(map[string]int),
	}
}

// WithScope overrides the scope, normally the identity string.
func (f *FakeProvider) WithScope(scope string) *FakeProvider {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scope = scope
	return f
}

// WithKey seeds a remote key.
func (f *FakeProvider) WithKey(k provider.KeyMetadata) *FakeProvider {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, k)
	return f
}

// WithError makes method fail with err until cleared with a nil err.
func (f *FakeProvider) WithError(method string, err error) *FakeProvider {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failOn, method)
	} else {
		f.failOn[method] = err
	}
	return f
}

// WithStoredSession makes TryRestoreSession succeed.
func (f *FakeProvider) WithStoredSession() *FakeProvider {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stored = true
	return f
}

// CallCount returns how many times method was called.
func (f *FakeProvider) CallCount(method string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.callCount[method]
}

func (f *FakeProvider) enter(method string) error {
	f.callCount[method]++
	return f.failOn[method]
}

// Identity implements provider.Provider.
func (f *FakeProvider) Identity() provider.Identity { return f.id }

// Name implements provider.Provider.
func (f *FakeProvider) Name() string { return f.id.DisplayName() }

// Scope implements provider.Provider.
func (f *FakeProvider) Scope() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.scope
}

// Account implements provider.AccountIdentifier. It is "fake-user" while
// authenticated.
func (f *FakeProvider) Account() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if !f.authenticated {
		return ""
	}
	return FakeAccount
}

// IsAuthenticated implements provider.Provider.
func (f *FakeProvider) IsAuthenticated() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.authenticated
}

// Authenticate implements provider.Provider.
func (f *FakeProvider) Authenticate(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("Authenticate"); err != nil {
		return err
	}
	f.authenticated = true
	f.stored = true
	return nil
}

// TryRestoreSession implements provider.SessionRestorer.
func (f *FakeProvider) TryRestoreSession(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("TryRestoreSession"); err != nil {
		return false, err
	}
	if !f.stored {
		return false, nil
	}
	f.authenticated = true
	return true, nil
}

// ListKeys implements provider.Provider.
func (f *FakeProvider) ListKeys(ctx context.Context) ([]provider.KeyMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("ListKeys"); err != nil {
		return nil, err
	}
	if !f.authenticated {
		return nil, provider.NewError(provider.ErrNotAuthenticated, f.id, "list keys", "not signed in")
	}
	out := make([]provider.KeyMetadata, len(f.keys))
	copy(out, f.keys)
	return out, nil
}

// DeployKey implements provider.Provider.
func (f *FakeProvider) DeployKey(ctx context.Context, publicKey, title string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("DeployKey"); err != nil {
		return err
	}
	if !f.authenticated {
		return provider.NewError(provider.ErrNotAuthenticated, f.id, "deploy key", "not signed in")
	}
	f.keys = append(f.keys, provider.KeyMetadata{ID: fmt.Sprintf("fake-%d", f.nextID), Title: title})
	f.nextID++
	return nil
}

// RemoveKey implements provider.Provider.
func (f *FakeProvider) RemoveKey(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("RemoveKey"); err != nil {
		return err
	}
	for i, k := range f.keys {
		if k.ID == id {
			f.keys = append(f.keys[:i], f.keys[i+1:]...)
			return nil
		}
	}
	return provider.NewError(provider.ErrNotFound, f.id, "remove key", "no key "+id)
}

// Disconnect implements provider.Provider.
func (f *FakeProvider) Disconnect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("Disconnect"); err != nil {
		return err
	}
	f.authenticated = false
	f.stored = false
	return nil
}

var (
	_ provider.Provider        = (*FakeProvider)(nil)
	_ provider.SessionRestorer = (*FakeProvider)(nil)
)
