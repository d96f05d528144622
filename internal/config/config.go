package config

import (
	"github.com/systmms/keysync/internal/logging"
)

// Config holds the runtime configuration shared by all commands.
type Config struct {
	Path           string
	Logger         *logging.Logger
	NonInteractive bool
	Settings       *Settings
}

// Load opens the settings file at c.Path. A missing file yields empty
// settings that will be created on the first Save.
func (c *Config) Load() error {
	if c.Settings != nil {
		return nil
	}
	if c.Path == "" {
		path, err := DefaultPath()
		if err != nil {
			return err
		}
		c.Path = path
	}

	settings, err := LoadSettings(c.Path)
	if err != nil {
		return err
	}
	c.Settings = settings
	return nil
}
