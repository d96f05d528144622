// Package cache keeps the most recent key listing of each provider in a
// single settings-backed JSON blob.
//
// The cache is advisory. Entries older than TTL are treated as absent and
// callers always tolerate a miss by fetching from the provider.
package cache

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/systmms/keysync/internal/config"
	"github.com/systmms/keysync/internal/logging"
	"github.com/systmms/keysync/pkg/provider"
)

// TTL is the maximum age of a usable entry.
const TTL = 24 * time.Hour

// entrySchema guards against hand edited or truncated blobs. A blob that
// fails validation is discarded as a whole.
const entrySchema = `{
  "type": "object",
  "additionalProperties": {
    "type": "object",
    "required": ["timestamp", "keys"],
    "properties": {
      "timestamp": {"type": "string", "format": "date-time"},
      "keys": {
        "type": "array",
        "items": {
          "type": "object",
          "required": ["id"],
          "properties": {
            "id": {"type": "string"},
            "title": {"type": "string"},
            "fingerprint": {"type": "string"},
            "key_type": {"type": "string"}
          }
        }
      }
    }
  }
}`

var schemaLoader = gojsonschema.NewStringLoader(entrySchema)

// Entry is one provider's cached listing.
type Entry struct {
	Timestamp time.Time              `json:"timestamp"`
	Keys      []provider.KeyMetadata `json:"keys"`
}

// Cache stores entries keyed by provider scope.
type Cache struct {
	mu       sync.Mutex
	settings config.Store
	key      string
	now      func() time.Time
	logger   *logging.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithLogger sets the logger used for discarded blobs.
func WithLogger(l *logging.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// New creates a cache stored under config.SettingKeyCache in settings.
func New(settings config.Store, opts ...Option) *Cache {
	c := &Cache{
		settings: settings,
		key:      config.SettingKeyCache,
		now:      time.Now,
		logger:   logging.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached keys for scope. ok is false when there is no entry
// or the entry is at least TTL old.
func (c *Cache) Get(scope string) (keys []provider.KeyMetadata, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, found := c.load()[scope]
	if !found {
		return nil, false
	}
	if c.now().Sub(entry.Timestamp) >= TTL {
		return nil, false
	}
	return entry.Keys, true
}

// Put replaces the entry for scope with keys, stamped with the current time.
func (c *Cache) Put(scope string, keys []provider.KeyMetadata) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if keys == nil {
		keys = []provider.KeyMetadata{}
	}
	entries := c.load()
	entries[scope] = Entry{Timestamp: c.now().UTC(), Keys: keys}
	return c.save(entries)
}

// Clear removes the entry for scope.
func (c *Cache) Clear(scope string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := c.load()
	if _, ok := entries[scope]; !ok {
		return nil
	}
	delete(entries, scope)
	return c.save(entries)
}

func (c *Cache) load() map[string]Entry {
	entries := make(map[string]Entry)
	raw := c.settings.GetString(c.key)
	if raw == "" {
		return entries
	}

	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewStringLoader(raw))
	if err != nil || !result.Valid() {
		c.logger.Debug("Discarding invalid key cache: %v", describeInvalid(result, err))
		return entries
	}
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		c.logger.Debug("Discarding unreadable key cache: %v", err)
		return make(map[string]Entry)
	}
	return entries
}

func (c *Cache) save(entries map[string]Entry) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to encode key cache: %w", err)
	}
	if err := c.settings.SetString(c.key, string(data)); err != nil {
		return fmt.Errorf("failed to save key cache: %w", err)
	}
	return nil
}

func describeInvalid(result *gojsonschema.Result, err error) string {
	if err != nil {
		return err.Error()
	}
	if result != nil && len(result.Errors()) > 0 {
		return result.Errors()[0].String()
	}
	return "unknown"
}
