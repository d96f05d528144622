package providers

import (
	"strconv"

	"github.com/systmms/keysync/internal/config"
	"github.com/systmms/keysync/internal/oauth"
	"github.com/systmms/keysync/pkg/provider"
)

// Factory builds provider instances from persisted settings.
type Factory struct {
	Deps Deps
}

// NewFactory creates a factory. The callback port comes from the oauth-port
// setting when deps.Receiver.Port is zero.
func NewFactory(deps Deps) *Factory {
	if deps.Receiver.Port == 0 {
		deps.Receiver.Port = oauth.DefaultPort
		if raw := deps.Settings.GetString(config.SettingOAuthPort); raw != "" {
			if port, err := strconv.Atoi(raw); err == nil && port > 0 && port < 65536 {
				deps.Receiver.Port = port
			}
		}
	}
	return &Factory{Deps: deps}
}

func (f *Factory) setting(id provider.Identity, suffix string) string {
	return f.Deps.Settings.GetString(config.Key(string(id), suffix))
}

func (f *Factory) oauthClient(id provider.Identity) OAuthClient {
	return OAuthClient{
		ClientID:     f.setting(id, config.ClientID),
		ClientSecret: f.setting(id, config.ClientSecret),
	}
}

// Create builds an unauthenticated instance of id.
func (f *Factory) Create(id provider.Identity) (provider.Provider, error) {
	switch id {
	case provider.GitHub:
		return NewGitHubProvider(GitHubConfig{OAuthClient: f.oauthClient(id)}, f.Deps), nil
	case provider.GitLab:
		return NewGitLabProvider(GitLabConfig{
			OAuthClient: f.oauthClient(id),
			InstanceURL: f.setting(id, config.InstanceURL),
		}, f.Deps)
	case provider.Gitea:
		return NewGiteaProvider(GiteaConfig{
			OAuthClient: f.oauthClient(id),
			InstanceURL: f.setting(id, config.InstanceURL),
		}, f.Deps)
	case provider.Bitbucket:
		return NewBitbucketProvider(BitbucketConfig{}, f.Deps), nil
	case provider.AWS:
		return NewAWSProvider(AWSConfig{Region: f.setting(id, config.Region)}, f.Deps)
	case provider.GCP:
		return NewGCPProvider(GCPConfig{OAuthClient: f.oauthClient(id)}, f.Deps), nil
	default:
		return nil, provider.NewError(provider.ErrInvalidFormat, id, "configure", "unknown provider")
	}
}

// NewRegistry builds a registry holding a guarded instance of every provider
// the settings allow. Providers that cannot be built, such as Gitea without
// an instance URL, are skipped and reported in skipped.
func (f *Factory) NewRegistry() (registry *Registry, skipped map[provider.Identity]error) {
	registry = NewRegistry()
	skipped = make(map[provider.Identity]error)
	for _, id := range provider.Identities() {
		p, err := f.Create(id)
		if err != nil {
			skipped[id] = err
			continue
		}
		registry.Register(Guard(p))
	}
	return registry, skipped
}
