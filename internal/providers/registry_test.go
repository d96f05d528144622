package providers_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/keysync/internal/providers"
	"github.com/systmms/keysync/pkg/provider"
	"github.com/systmms/keysync/tests/fakes"
)

func TestRegistryCreation(t *testing.T) {
	t.Parallel()

	registry := providers.NewRegistry()
	require.NotNil(t, registry)
	assert.Empty(t, registry.List(), "a new registry holds no providers")

	_, ok := registry.Get(provider.GitHub)
	assert.False(t, ok)
}

func TestRegistryListOrder(t *testing.T) {
	t.Parallel()

	registry := providers.NewRegistry()
	for _, id := range []provider.Identity{provider.GCP, provider.GitHub, provider.AWS, provider.Gitea} {
		registry.Register(fakes.NewFakeProvider(id))
	}

	var got []provider.Identity
	for _, p := range registry.List() {
		got = append(got, p.Identity())
	}
	assert.Equal(t, []provider.Identity{provider.GitHub, provider.Gitea, provider.AWS, provider.GCP}, got)
}

func TestRegistryRegisterReplaces(t *testing.T) {
	t.Parallel()

	registry := providers.NewRegistry()
	first := fakes.NewFakeProvider(provider.GitLab).WithScope("gitlab:https://gitlab.com")
	second := fakes.NewFakeProvider(provider.GitLab).WithScope("gitlab:https://git.example.com")

	registry.Register(first)
	registry.Register(second)

	p, ok := registry.Get(provider.GitLab)
	require.True(t, ok)
	assert.Same(t, second, p)
	assert.Len(t, registry.List(), 1)
}

func TestRegistryUnregister(t *testing.T) {
	t.Parallel()

	registry := providers.NewRegistry()
	registry.Register(fakes.NewFakeProvider(provider.Bitbucket))
	registry.Unregister(provider.Bitbucket)
	registry.Unregister(provider.AWS)

	_, ok := registry.Get(provider.Bitbucket)
	assert.False(t, ok)
	assert.Empty(t, registry.List())
}

func TestRegistriesAreIndependent(t *testing.T) {
	t.Parallel()

	a := providers.NewRegistry()
	b := providers.NewRegistry()
	a.Register(fakes.NewFakeProvider(provider.GitHub))

	_, ok := b.Get(provider.GitHub)
	assert.False(t, ok)
}
