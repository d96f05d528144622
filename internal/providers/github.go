package providers

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"github.com/systmms/keysync/internal/sshkey"
	"github.com/systmms/keysync/pkg/provider"
)

// GitHubScopes are requested during sign-in.
var GitHubScopes = []string{"read:user", "admin:public_key"}

// GitHubConfig configures a GitHubProvider.
type GitHubConfig struct {
	OAuthClient

	// BaseURL overrides the REST API root, for tests and GitHub Enterprise.
	BaseURL string

	// AuthURL and TokenURL override the OAuth endpoints.
	AuthURL  string
	TokenURL string
}

// GitHubProvider manages keys at /user/keys through go-github.
type GitHubProvider struct {
	config  GitHubConfig
	deps    Deps
	session *session
}

// NewGitHubProvider creates an unauthenticated GitHub provider.
func NewGitHubProvider(cfg GitHubConfig, deps Deps) *GitHubProvider {
	endpoint := endpoints.GitHub
	endpoint.AuthStyle = oauth2.AuthStyleInParams
	if cfg.AuthURL != "" {
		endpoint.AuthURL = cfg.AuthURL
	}
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}
	return &GitHubProvider{
		config:  cfg,
		deps:    deps,
		session: newSession(provider.GitHub, string(provider.GitHub), deps, cfg.OAuthClient, endpoint, GitHubScopes),
	}
}

// Identity implements provider.Provider.
func (p *GitHubProvider) Identity() provider.Identity { return provider.GitHub }

// Name implements provider.Provider.
func (p *GitHubProvider) Name() string { return provider.GitHub.DisplayName() }

// Scope implements provider.Provider.
func (p *GitHubProvider) Scope() string { return string(provider.GitHub) }

// Account returns the signed in login.
func (p *GitHubProvider) Account() string { return p.session.accountName() }

// IsAuthenticated implements provider.Provider.
func (p *GitHubProvider) IsAuthenticated() bool { return p.session.authenticated() }

// Authenticate runs the browser sign-in and resolves the login via GET /user.
func (p *GitHubProvider) Authenticate(ctx context.Context) error {
	return p.session.login(ctx, func(ctx context.Context, token string) (string, error) {
		client, err := p.client(token)
		if err != nil {
			return "", err
		}
		user, _, err := client.Users.Get(ctx, "")
		if err != nil {
			return "", err
		}
		return user.GetLogin(), nil
	}, githubStatus)
}

// TryRestoreSession implements provider.SessionRestorer.
func (p *GitHubProvider) TryRestoreSession(ctx context.Context) (bool, error) {
	return p.session.restore()
}

// ListKeys implements provider.Provider.
func (p *GitHubProvider) ListKeys(ctx context.Context) ([]provider.KeyMetadata, error) {
	client, err := p.authedClient(opListKeys)
	if err != nil {
		return nil, err
	}

	var keys []provider.KeyMetadata
	opts := &github.ListOptions{PerPage: 100}
	for {
		page, resp, err := client.Users.ListKeys(ctx, "", opts)
		if err != nil {
			return nil, wrapError(provider.GitHub, opListKeys, err, githubStatus)
		}
		for _, k := range page {
			keys = append(keys, githubKeyMetadata(k))
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return keys, nil
}

// DeployKey implements provider.Provider.
func (p *GitHubProvider) DeployKey(ctx context.Context, publicKey, title string) error {
	k, err := validateKey(provider.GitHub, publicKey)
	if err != nil {
		return err
	}
	client, err := p.authedClient(opDeployKey)
	if err != nil {
		return err
	}

	_, _, err = client.Users.CreateKey(ctx, &github.Key{
		Key:   github.String(k.String()),
		Title: github.String(keyTitle(title, k)),
	})
	return wrapError(provider.GitHub, opDeployKey, err, githubStatus)
}

// RemoveKey implements provider.Provider.
func (p *GitHubProvider) RemoveKey(ctx context.Context, id string) error {
	keyID, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
	if err != nil {
		return provider.NewError(provider.ErrNotFound, provider.GitHub, opRemoveKey, "key ids are numeric, got "+strconv.Quote(id))
	}
	client, err := p.authedClient(opRemoveKey)
	if err != nil {
		return err
	}

	_, err = client.Users.DeleteKey(ctx, keyID)
	return wrapError(provider.GitHub, opRemoveKey, err, githubStatus)
}

// Disconnect implements provider.Provider.
func (p *GitHubProvider) Disconnect(ctx context.Context) error {
	return p.session.forget()
}

func (p *GitHubProvider) authedClient(op string) (*github.Client, error) {
	token, err := p.session.token(op)
	if err != nil {
		return nil, err
	}
	return p.client(token)
}

func (p *GitHubProvider) client(token string) (*github.Client, error) {
	client := github.NewClient(p.deps.httpClient()).WithAuthToken(token)
	if p.config.BaseURL != "" {
		base, err := url.Parse(strings.TrimRight(p.config.BaseURL, "/") + "/")
		if err != nil {
			return nil, provider.NewError(provider.ErrAPI, provider.GitHub, "configure", "invalid API base URL").WithCause(err)
		}
		client.BaseURL = base
	}
	return client, nil
}

func githubKeyMetadata(k *github.Key) provider.KeyMetadata {
	md := provider.KeyMetadata{
		ID:    strconv.FormatInt(k.GetID(), 10),
		Title: k.GetTitle(),
	}
	md.Fingerprint, md.KeyType = sshkey.Describe(k.GetKey())
	if k.CreatedAt != nil {
		t := k.CreatedAt.Time
		md.CreatedAt = &t
	}
	return md
}

func githubStatus(err error) (int, string, bool) {
	var rle *github.RateLimitError
	if errors.As(err, &rle) {
		return 429, rle.Message, true
	}
	var er *github.ErrorResponse
	if errors.As(err, &er) && er.Response != nil {
		msg := er.Message
		for _, e := range er.Errors {
			if e.Message != "" {
				msg += ": " + e.Message
			}
		}
		return er.Response.StatusCode, msg, true
	}
	return 0, "", false
}
