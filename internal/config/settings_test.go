package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/keysync/internal/config"
	dserrors "github.com/systmms/keysync/internal/errors"
)

func TestSettingsRoundTripThroughFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "settings.yaml")

	s, err := config.LoadSettings(path)
	require.NoError(t, err)
	assert.Empty(t, s.Keys())

	require.NoError(t, s.SetString(config.Key("aws", config.Region), "eu-west-1"))
	require.NoError(t, s.SetBool("telemetry", true))

	reloaded, err := config.LoadSettings(path)
	require.NoError(t, err)
	assert.Equal(t, "eu-west-1", reloaded.GetString("aws-region"))
	assert.True(t, reloaded.GetBool("telemetry"))
	assert.False(t, reloaded.GetBool("missing"))
	assert.Equal(t, []string{"aws-region", "telemetry"}, reloaded.Keys())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestSettingsDelete(t *testing.T) {
	t.Parallel()

	s := config.NewMemorySettings()
	require.NoError(t, s.SetString("gitlab-username", "octo"))
	require.NoError(t, s.Delete("gitlab-username"))
	require.NoError(t, s.Delete("never-set"))
	assert.Equal(t, "", s.GetString("gitlab-username"))
}

func TestSettingsGetInt(t *testing.T) {
	t.Parallel()

	s := config.NewMemorySettings()
	assert.Equal(t, 8085, s.GetInt(config.SettingOAuthPort, 8085))
	require.NoError(t, s.SetString(config.SettingOAuthPort, "9000"))
	assert.Equal(t, 9000, s.GetInt(config.SettingOAuthPort, 8085))
	require.NoError(t, s.SetString(config.SettingOAuthPort, "nope"))
	assert.Equal(t, 8085, s.GetInt(config.SettingOAuthPort, 8085))
}

func TestLoadSettingsInvalidYAML(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("a: [unterminated"), 0o600))

	_, err := config.LoadSettings(path)
	var cfgErr dserrors.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "path", cfgErr.Field)
}

func TestConfigLoadUsesPath(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "settings.yaml")
	cfg := &config.Config{Path: path}
	require.NoError(t, cfg.Load())
	require.NotNil(t, cfg.Settings)
	assert.Equal(t, path, cfg.Settings.Path())
}
