package secure

import (
	"sync"

	"github.com/awnumar/memguard"
)

// SecureBuffer keeps a credential encrypted in memory between uses.
// It wraps memguard.Enclave so live tokens and secret keys are not held as
// plaintext strings for the lifetime of a provider instance.
type SecureBuffer struct {
	mu        sync.RWMutex
	enclave   *memguard.Enclave
	destroyed bool
}

// NewSecureBuffer creates a protected buffer from secret bytes. memguard
// wipes data once it has been sealed.
func NewSecureBuffer(data []byte) (*SecureBuffer, error) {
	buf := &SecureBuffer{}
	if len(data) > 0 {
		buf.enclave = memguard.NewEnclave(data)
	}
	return buf, nil
}

// NewSecureString seals a copy of s.
func NewSecureString(s string) *SecureBuffer {
	buf, _ := NewSecureBuffer([]byte(s))
	return buf
}

// Open decrypts and returns the protected data in a locked buffer.
// The caller MUST call Destroy() on the returned LockedBuffer when done.
func (s *SecureBuffer) Open() (*memguard.LockedBuffer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.destroyed || s.enclave == nil {
		return memguard.NewBufferFromBytes([]byte{}), nil
	}
	return s.enclave.Open()
}

// Reveal returns the plaintext as a string. It is meant for the short moment
// a credential is placed on an outgoing request.
func (s *SecureBuffer) Reveal() (string, error) {
	if s == nil {
		return "", nil
	}
	locked, err := s.Open()
	if err != nil {
		return "", err
	}
	defer locked.Destroy()
	return string(locked.Bytes()), nil
}

// Empty reports whether the buffer holds no usable secret.
func (s *SecureBuffer) Empty() bool {
	if s == nil {
		return true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.destroyed || s.enclave == nil
}

// Destroy marks this SecureBuffer as destroyed and prevents further use.
// It is idempotent and safe on a nil receiver.
func (s *SecureBuffer) Destroy() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.enclave = nil
	s.destroyed = true
}
