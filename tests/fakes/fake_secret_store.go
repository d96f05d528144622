package fakes

import (
	"sync"

	"github.com/systmms/keysync/internal/secretstore"
)

// FakeSecretStore is an in-memory secretstore.Store.
type FakeSecretStore struct {
	mu      sync.Mutex
	Secrets map[string]map[string]string

	// SetErr, GetErr and DeleteErr are returned by the matching method if set.
	SetErr    error
	GetErr    error
	DeleteErr error
}

// NewFakeSecretStore creates an empty fake secret store.
func NewFakeSecretStore() *FakeSecretStore {
	return &FakeSecretStore{Secrets: make(map[string]map[string]string)}
}

// Set stores a secret.
func (f *FakeSecretStore) Set(service, account, secret string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SetErr != nil {
		return f.SetErr
	}
	if f.Secrets[service] == nil {
		f.Secrets[service] = make(map[string]string)
	}
	f.Secrets[service][account] = secret
	return nil
}

// Get returns a secret or secretstore.ErrNotFound.
func (f *FakeSecretStore) Get(service, account string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.GetErr != nil {
		return "", f.GetErr
	}
	if v, ok := f.Secrets[service][account]; ok {
		return v, nil
	}
	return "", secretstore.ErrNotFound
}

// Delete removes a secret.
func (f *FakeSecretStore) Delete(service, account string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.DeleteErr != nil {
		return f.DeleteErr
	}
	delete(f.Secrets[service], account)
	return nil
}

// Has reports whether a secret is stored for (service, account).
func (f *FakeSecretStore) Has(service, account string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.Secrets[service][account]
	return ok
}

// Len returns the total number of stored secrets.
func (f *FakeSecretStore) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, accounts := range f.Secrets {
		n += len(accounts)
	}
	return n
}

var _ secretstore.Store = (*FakeSecretStore)(nil)
