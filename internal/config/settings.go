package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"gopkg.in/yaml.v3"

	dserrors "github.com/systmms/keysync/internal/errors"
)

// Well-known setting names. Provider specific keys are built with Key.
const (
	SettingOAuthPort = "oauth-port"
	SettingKeyCache  = "key-cache"
)

// Provider scoped setting suffixes.
const (
	Region       = "region"
	Username     = "username"
	AccessKeyID  = "access-key-id"
	ClientID     = "client-id"
	ClientSecret = "client-secret"
	InstanceURL  = "instance-url"
)

// Key builds a provider scoped setting name such as "aws-region".
func Key(provider, suffix string) string {
	return provider + "-" + suffix
}

// Store is the key/value settings contract the rest of keysync depends on.
type Store interface {
	GetString(key string) string
	SetString(key, value string) error
	GetBool(key string) bool
	SetBool(key string, value bool) error
	Delete(key string) error
}

// Settings is a flat string map persisted as YAML. Every mutation is written
// through to disk; Settings is safe for concurrent use.
type Settings struct {
	mu     sync.RWMutex
	path   string
	values map[string]string
}

// DefaultPath returns $XDG_CONFIG_HOME/keysync/settings.yaml or the
// platform equivalent.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate config directory: %w", err)
	}
	return filepath.Join(dir, "keysync", "settings.yaml"), nil
}

// NewMemorySettings returns settings that are never written to disk.
func NewMemorySettings() *Settings {
	return &Settings{values: make(map[string]string)}
}

// LoadSettings reads path. A missing file is not an error.
func LoadSettings(path string) (*Settings, error) {
	s := &Settings{path: path, values: make(map[string]string)}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, dserrors.UserError{
			Message:    "Failed to read settings file",
			Details:    err.Error(),
			Suggestion: "Check file permissions and path",
			Err:        err,
		}
	}

	if err := yaml.Unmarshal(data, &s.values); err != nil {
		return nil, dserrors.ConfigError{
			Field:      "path",
			Value:      path,
			Message:    "invalid YAML syntax in settings file",
			Suggestion: "Fix or delete the file; keysync recreates it on the next login",
		}
	}
	if s.values == nil {
		s.values = make(map[string]string)
	}
	return s, nil
}

// Path returns the backing file, empty for in-memory settings.
func (s *Settings) Path() string {
	return s.path
}

// GetString returns the value for key or "".
func (s *Settings) GetString(key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values[key]
}

// SetString stores value under key and saves.
func (s *Settings) SetString(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return s.saveLocked()
}

// GetBool parses the value for key; unparsable or missing values are false.
func (s *Settings) GetBool(key string) bool {
	b, err := strconv.ParseBool(s.GetString(key))
	return err == nil && b
}

// SetBool stores a boolean value.
func (s *Settings) SetBool(key string, value bool) error {
	return s.SetString(key, strconv.FormatBool(value))
}

// GetInt parses the value for key, returning def when missing or invalid.
func (s *Settings) GetInt(key string, def int) int {
	n, err := strconv.Atoi(s.GetString(key))
	if err != nil {
		return def
	}
	return n
}

// Delete removes key and saves.
func (s *Settings) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.values[key]; !ok {
		return nil
	}
	delete(s.values, key)
	return s.saveLocked()
}

// Keys returns all setting names in sorted order.
func (s *Settings) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Save writes the settings to disk.
func (s *Settings) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *Settings) saveLocked() error {
	if s.path == "" {
		return nil
	}
	data, err := yaml.Marshal(s.values)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace settings: %w", err)
	}
	return nil
}
