// Package secretstore provides durable, OS secured storage for credentials
// keyed by (service, account).
package secretstore

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// ErrNotFound is returned by Get when no secret exists for the key.
var ErrNotFound = errors.New("secret not found")

// Store is the secret storage contract.
type Store interface {
	Set(service, account, secret string) error
	Get(service, account string) (string, error)
	Delete(service, account string) error
}

// Error wraps OS keyring failures with the key that was being accessed.
type Error struct {
	Op      string // "set", "get", "delete"
	Service string
	Account string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("keyring %s error for %s/%s: %v", e.Op, e.Service, e.Account, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Keyring stores secrets in the platform keychain: macOS Keychain, the
// Secret Service on Linux (gnome-keyring, KWallet) or Windows Credential
// Manager.
type Keyring struct {
	// Prefix is prepended to every service name so keysync entries are
	// grouped together in keychain UIs.
	Prefix string
}

// NewKeyring returns a Keyring using the "keysync" prefix.
func NewKeyring() *Keyring {
	return &Keyring{Prefix: "keysync"}
}

func (k *Keyring) service(s string) string {
	if k.Prefix == "" {
		return s
	}
	return k.Prefix + "." + s
}

// Set stores secret under (service, account).
func (k *Keyring) Set(service, account, secret string) error {
	if err := keyring.Set(k.service(service), account, secret); err != nil {
		return &Error{Op: "set", Service: service, Account: account, Err: err}
	}
	return nil
}

// Get retrieves the secret for (service, account).
func (k *Keyring) Get(service, account string) (string, error) {
	secret, err := keyring.Get(k.service(service), account)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", &Error{Op: "get", Service: service, Account: account, Err: err}
	}
	return secret, nil
}

// Delete removes the secret for (service, account). Deleting a missing
// secret is not an error.
func (k *Keyring) Delete(service, account string) error {
	if err := keyring.Delete(k.service(service), account); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil
		}
		return &Error{Op: "delete", Service: service, Account: account, Err: err}
	}
	return nil
}
