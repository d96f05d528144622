package providers_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/keysync/internal/config"
	"github.com/systmms/keysync/internal/oauth"
	"github.com/systmms/keysync/internal/providers"
	"github.com/systmms/keysync/pkg/provider"
)

func TestFactoryReceiverPort(t *testing.T) {
	t.Parallel()

	deps, _ := testDeps(t)
	assert.Equal(t, oauth.DefaultPort, providers.NewFactory(deps).Deps.Receiver.Port)

	require.NoError(t, deps.Settings.SetString(config.SettingOAuthPort, "9090"))
	assert.Equal(t, 9090, providers.NewFactory(deps).Deps.Receiver.Port)

	require.NoError(t, deps.Settings.SetString(config.SettingOAuthPort, "not-a-port"))
	assert.Equal(t, oauth.DefaultPort, providers.NewFactory(deps).Deps.Receiver.Port)

	deps.Receiver.Port = 7000
	assert.Equal(t, 7000, providers.NewFactory(deps).Deps.Receiver.Port, "an explicit port wins")
}

func TestFactoryCreate(t *testing.T) {
	t.Parallel()

	deps, _ := testDeps(t)
	require.NoError(t, deps.Settings.SetString(config.Key("gitlab", config.InstanceURL), "https://git.example.com/"))
	require.NoError(t, deps.Settings.SetString(config.Key("gitea", config.InstanceURL), "https://gitea.example.com"))
	require.NoError(t, deps.Settings.SetString(config.Key("aws", config.Region), "ap-south-1"))
	f := providers.NewFactory(deps)

	for _, id := range provider.Identities() {
		p, err := f.Create(id)
		require.NoError(t, err, id)
		assert.Equal(t, id, p.Identity())
		assert.False(t, p.IsAuthenticated())
	}

	gl, err := f.Create(provider.GitLab)
	require.NoError(t, err)
	assert.Equal(t, "gitlab:https://git.example.com", gl.Scope())

	aws, err := f.Create(provider.AWS)
	require.NoError(t, err)
	assert.Equal(t, "ap-south-1", aws.(*providers.AWSProvider).Region())

	_, err = f.Create(provider.Identity("sourceforge"))
	assert.Error(t, err)
}

func TestFactoryRegistrySkipsUnconfigured(t *testing.T) {
	t.Parallel()

	deps, _ := testDeps(t)
	registry, skipped := providers.NewFactory(deps).NewRegistry()

	require.Contains(t, skipped, provider.Gitea, "gitea has no default instance")
	assert.ErrorIs(t, skipped[provider.Gitea], provider.ErrInvalidFormat)
	assert.Len(t, skipped, 1)

	_, ok := registry.Get(provider.Gitea)
	assert.False(t, ok)

	list := registry.List()
	require.Len(t, list, len(provider.Identities())-1)
	for _, p := range list {
		_, guarded := p.(*providers.Guarded)
		assert.True(t, guarded, "%s is guarded", p.Identity())
	}

	gl, ok := registry.Get(provider.GitLab)
	require.True(t, ok)
	assert.Equal(t, "gitlab:https://gitlab.com", gl.Scope())
}
