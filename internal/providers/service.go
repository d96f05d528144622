package providers

import (
	"context"
	"fmt"
	"time"

	"github.com/systmms/keysync/internal/cache"
	"github.com/systmms/keysync/internal/logging"
	"github.com/systmms/keysync/internal/metrics"
	"github.com/systmms/keysync/pkg/provider"
)

// KeyService fronts the registry with the key cache and operation metrics.
type KeyService struct {
	registry *Registry
	cache    *cache.Cache
	metrics  *metrics.ProviderMetrics
	logger   *logging.Logger
}

// NewKeyService creates a KeyService. cache and recorder may be nil.
func NewKeyService(registry *Registry, c *cache.Cache, recorder *metrics.ProviderMetrics, logger *logging.Logger) *KeyService {
	if logger == nil {
		logger = logging.Discard()
	}
	return &KeyService{registry: registry, cache: c, metrics: recorder, logger: logger}
}

// Registry returns the backing registry.
func (s *KeyService) Registry() *Registry { return s.registry }

// Provider looks up id in the registry.
func (s *KeyService) Provider(id provider.Identity) (provider.Provider, error) {
	p, ok := s.registry.Get(id)
	if !ok {
		return nil, fmt.Errorf("%s is not configured", id.DisplayName())
	}
	return p, nil
}

// RestoreSessions reloads stored sessions of every registered provider that
// supports it. Failures are logged and do not stop the others.
func (s *KeyService) RestoreSessions(ctx context.Context) {
	for _, p := range s.registry.List() {
		r, ok := p.(provider.SessionRestorer)
		if !ok || p.IsAuthenticated() {
			continue
		}
		start := time.Now()
		restored, err := r.TryRestoreSession(ctx)
		s.metrics.Observe(p.Identity(), "restore_session", err, time.Since(start))
		if err != nil {
			s.logger.Warn("Could not restore %s session: %v", p.Name(), err)
			continue
		}
		if restored {
			s.logger.Debug("Restored %s session", p.Name())
		}
	}
}

// Authenticate signs in to id and drops any cached listing.
func (s *KeyService) Authenticate(ctx context.Context, id provider.Identity) error {
	p, err := s.Provider(id)
	if err != nil {
		return err
	}
	err = s.observe(p, "authenticate", func() error { return p.Authenticate(ctx) })
	if err == nil {
		s.invalidate(p)
	}
	return err
}

// List returns the keys of id. The cached listing is used unless refresh is
// set or the entry is missing or stale; fromCache reports which happened.
func (s *KeyService) List(ctx context.Context, id provider.Identity, refresh bool) (keys []provider.KeyMetadata, fromCache bool, err error) {
	p, err := s.Provider(id)
	if err != nil {
		return nil, false, err
	}
	if !p.IsAuthenticated() {
		return nil, false, notAuthenticated(id, opListKeys)
	}

	if !refresh && s.cache != nil {
		if cached, ok := s.cache.Get(p.Scope()); ok {
			return cached, true, nil
		}
	}

	err = s.observe(p, "list_keys", func() error {
		var err error
		keys, err = p.ListKeys(ctx)
		return err
	})
	if err != nil {
		return nil, false, err
	}

	if s.cache != nil {
		if err := s.cache.Put(p.Scope(), keys); err != nil {
			s.logger.Warn("Failed to cache %s keys: %v", p.Name(), err)
		}
	}
	return keys, false, nil
}

// Deploy uploads publicKey to id and drops the cached listing.
func (s *KeyService) Deploy(ctx context.Context, id provider.Identity, publicKey, title string) error {
	p, err := s.Provider(id)
	if err != nil {
		return err
	}
	err = s.observe(p, "deploy_key", func() error { return p.DeployKey(ctx, publicKey, title) })
	if err == nil {
		s.invalidate(p)
	}
	return err
}

// Remove deletes keyID from id and drops the cached listing.
func (s *KeyService) Remove(ctx context.Context, id provider.Identity, keyID string) error {
	p, err := s.Provider(id)
	if err != nil {
		return err
	}
	err = s.observe(p, "remove_key", func() error { return p.RemoveKey(ctx, keyID) })
	if err == nil {
		s.invalidate(p)
	}
	return err
}

// Disconnect signs out of id and drops the cached listing.
func (s *KeyService) Disconnect(ctx context.Context, id provider.Identity) error {
	p, err := s.Provider(id)
	if err != nil {
		return err
	}
	s.invalidate(p)
	return s.observe(p, "disconnect", func() error { return p.Disconnect(ctx) })
}

func (s *KeyService) observe(p provider.Provider, op string, fn func() error) error {
	start := time.Now()
	err := fn()
	s.metrics.Observe(p.Identity(), op, err, time.Since(start))
	return err
}

func (s *KeyService) invalidate(p provider.Provider) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Clear(p.Scope()); err != nil {
		s.logger.Warn("Failed to clear cached %s keys: %v", p.Name(), err)
	}
}
