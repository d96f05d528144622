package cache_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/keysync/internal/cache"
	"github.com/systmms/keysync/internal/config"
	"github.com/systmms/keysync/pkg/provider"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func sampleKeys() []provider.KeyMetadata {
	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	return []provider.KeyMetadata{
		{ID: "42", Title: "laptop", Fingerprint: "SHA256:abc", KeyType: provider.KeyTypeEd25519, CreatedAt: &created},
		{ID: "43", Title: "desktop"},
	}
}

func TestCacheTTLBoundary(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	clk := &clock{t: start}
	c := cache.New(config.NewMemorySettings(), cache.WithClock(clk.now))

	require.NoError(t, c.Put("github", sampleKeys()))

	clk.t = start.Add(cache.TTL - time.Second)
	keys, ok := c.Get("github")
	require.True(t, ok, "entry is usable before T+24h")
	assert.Len(t, keys, 2)
	assert.Equal(t, "laptop", keys[0].Title)
	require.NotNil(t, keys[0].CreatedAt)

	clk.t = start.Add(cache.TTL)
	_, ok = c.Get("github")
	assert.False(t, ok, "entry is absent at T+24h")

	clk.t = start.Add(cache.TTL + time.Hour)
	_, ok = c.Get("github")
	assert.False(t, ok, "entry is absent after T+24h")
}

func TestCachePutReplaces(t *testing.T) {
	t.Parallel()

	c := cache.New(config.NewMemorySettings())
	require.NoError(t, c.Put("aws", sampleKeys()))
	require.NoError(t, c.Put("aws", []provider.KeyMetadata{{ID: "APKA1"}}))

	keys, ok := c.Get("aws")
	require.True(t, ok)
	assert.Equal(t, []provider.KeyMetadata{{ID: "APKA1"}}, keys)
}

func TestCacheScopesAreIndependent(t *testing.T) {
	t.Parallel()

	c := cache.New(config.NewMemorySettings())
	require.NoError(t, c.Put("gitlab:https://gitlab.com", sampleKeys()))
	require.NoError(t, c.Put("gitlab:https://git.example.com", nil))

	require.NoError(t, c.Clear("gitlab:https://gitlab.com"))
	_, ok := c.Get("gitlab:https://gitlab.com")
	assert.False(t, ok)

	keys, ok := c.Get("gitlab:https://git.example.com")
	assert.True(t, ok)
	assert.Empty(t, keys)

	assert.NoError(t, c.Clear("never-cached"))
}

func TestCachePersistsInSettings(t *testing.T) {
	t.Parallel()

	settings := config.NewMemorySettings()
	require.NoError(t, cache.New(settings).Put("gcp", sampleKeys()))
	assert.Contains(t, settings.GetString(config.SettingKeyCache), `"gcp"`)

	keys, ok := cache.New(settings).Get("gcp")
	require.True(t, ok)
	assert.Len(t, keys, 2)
}

func TestCacheDiscardsInvalidBlob(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		blob string
	}{
		{"not json", "{{{"},
		{"wrong shape", `{"github": {"keys": "nope"}}`},
		{"missing timestamp", `{"github": {"keys": []}}`},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			settings := config.NewMemorySettings()
			require.NoError(t, settings.SetString(config.SettingKeyCache, tt.blob))

			c := cache.New(settings)
			_, ok := c.Get("github")
			assert.False(t, ok)

			require.NoError(t, c.Put("github", sampleKeys()))
			_, ok = c.Get("github")
			assert.True(t, ok)
		})
	}
}
