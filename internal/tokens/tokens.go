// Package tokens persists provider credentials in the secret store under a
// (scope, account) composite key.
//
// Secret values are never logged, not even at debug verbosity.
package tokens

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/systmms/keysync/internal/logging"
	"github.com/systmms/keysync/internal/secretstore"
)

// Token is the persisted form of an OAuth session or an API secret.
type Token struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
}

// Storage is a thin adapter over a secretstore.Store.
type Storage struct {
	store  secretstore.Store
	logger *logging.Logger
}

// NewStorage creates token storage backed by store.
func NewStorage(store secretstore.Store, logger *logging.Logger) *Storage {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Storage{store: store, logger: logger}
}

// Store saves a raw secret for (scope, account).
func (s *Storage) Store(scope, account, secret string) error {
	if scope == "" || account == "" {
		return fmt.Errorf("token storage requires both scope and account")
	}
	s.logger.Debug("Storing credential for %s/%s", scope, account)
	if err := s.store.Set(scope, account, secret); err != nil {
		return fmt.Errorf("failed to store credential for %s: %w", scope, err)
	}
	return nil
}

// Retrieve returns the secret for (scope, account). ok is false, with a nil
// error, when nothing is stored.
func (s *Storage) Retrieve(scope, account string) (secret string, ok bool, err error) {
	if scope == "" || account == "" {
		return "", false, nil
	}
	secret, err = s.store.Get(scope, account)
	if err != nil {
		if errors.Is(err, secretstore.ErrNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to retrieve credential for %s: %w", scope, err)
	}
	s.logger.Debug("Loaded credential for %s/%s: %s", scope, account, logging.Secret(secret))
	return secret, true, nil
}

// Delete removes the secret for (scope, account).
func (s *Storage) Delete(scope, account string) error {
	if scope == "" || account == "" {
		return nil
	}
	s.logger.Debug("Deleting credential for %s/%s", scope, account)
	if err := s.store.Delete(scope, account); err != nil {
		return fmt.Errorf("failed to delete credential for %s: %w", scope, err)
	}
	return nil
}

// StoreToken serialises an OAuth token for (scope, account).
func (s *Storage) StoreToken(scope, account string, tok Token) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("failed to encode token: %w", err)
	}
	return s.Store(scope, account, string(data))
}

// RetrieveToken loads an OAuth token stored with StoreToken.
func (s *Storage) RetrieveToken(scope, account string) (Token, bool, error) {
	raw, ok, err := s.Retrieve(scope, account)
	if err != nil || !ok {
		return Token{}, false, err
	}
	var tok Token
	if err := json.Unmarshal([]byte(raw), &tok); err != nil {
		return Token{}, false, fmt.Errorf("stored credential for %s is corrupt: %w", scope, err)
	}
	if tok.AccessToken == "" {
		return Token{}, false, nil
	}
	return tok, true, nil
}
