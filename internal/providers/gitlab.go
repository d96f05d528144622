package providers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/xanzy/go-gitlab"
	"golang.org/x/oauth2"

	"github.com/systmms/keysync/internal/sshkey"
	"github.com/systmms/keysync/pkg/provider"
)

// DefaultGitLabInstance is used when no instance URL is configured.
const DefaultGitLabInstance = "https://gitlab.com"

// GitLabScopes are requested during sign-in.
var GitLabScopes = []string{"api"}

// GitLabConfig configures a GitLabProvider.
type GitLabConfig struct {
	OAuthClient

	// InstanceURL is the root of the GitLab installation.
	InstanceURL string
}

// GitLabProvider manages keys at /api/v4/user/keys through go-gitlab.
type GitLabProvider struct {
	instance *instance
	deps     Deps
	session  *session
}

// NewGitLabProvider creates an unauthenticated GitLab provider.
func NewGitLabProvider(cfg GitLabConfig, deps Deps) (*GitLabProvider, error) {
	raw := cfg.InstanceURL
	if raw == "" {
		raw = DefaultGitLabInstance
	}
	inst, err := parseInstance(provider.GitLab, raw, DefaultGitLabInstance)
	if err != nil {
		return nil, err
	}

	endpoint := oauth2.Endpoint{
		AuthURL:   inst.url + "/oauth/authorize",
		TokenURL:  inst.url + "/oauth/token",
		AuthStyle: oauth2.AuthStyleInParams,
	}
	return &GitLabProvider{
		instance: inst,
		deps:     deps,
		session:  newSession(provider.GitLab, inst.scope(provider.GitLab), deps, cfg.OAuthClient, endpoint, GitLabScopes),
	}, nil
}

// Identity implements provider.Provider.
func (p *GitLabProvider) Identity() provider.Identity { return provider.GitLab }

// Name implements provider.Provider.
func (p *GitLabProvider) Name() string { return p.instance.name(provider.GitLab) }

// Scope implements provider.Provider.
func (p *GitLabProvider) Scope() string { return p.instance.scope(provider.GitLab) }

// InstanceURL returns the normalised installation root.
func (p *GitLabProvider) InstanceURL() string { return p.instance.url }

// Account returns the signed in username.
func (p *GitLabProvider) Account() string { return p.session.accountName() }

// IsAuthenticated implements provider.Provider.
func (p *GitLabProvider) IsAuthenticated() bool { return p.session.authenticated() }

// Authenticate runs the browser sign-in and resolves the username via
// GET /api/v4/user.
func (p *GitLabProvider) Authenticate(ctx context.Context) error {
	return p.session.login(ctx, func(ctx context.Context, token string) (string, error) {
		client, err := p.client(token)
		if err != nil {
			return "", err
		}
		user, _, err := client.Users.CurrentUser(gitlab.WithContext(ctx))
		if err != nil {
			return "", err
		}
		return user.Username, nil
	}, gitlabStatus)
}

// TryRestoreSession implements provider.SessionRestorer.
func (p *GitLabProvider) TryRestoreSession(ctx context.Context) (bool, error) {
	return p.session.restore()
}

// ListKeys implements provider.Provider.
func (p *GitLabProvider) ListKeys(ctx context.Context) ([]provider.KeyMetadata, error) {
	client, err := p.authedClient(opListKeys)
	if err != nil {
		return nil, err
	}

	var keys []provider.KeyMetadata
	opts := &gitlab.ListSSHKeysOptions{}
	opts.PerPage = 100
	opts.Page = 1
	for {
		page, resp, err := client.Users.ListSSHKeys(opts, gitlab.WithContext(ctx))
		if err != nil {
			return nil, wrapError(provider.GitLab, opListKeys, err, gitlabStatus)
		}
		for _, k := range page {
			keys = append(keys, gitlabKeyMetadata(k))
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return keys, nil
}

// DeployKey implements provider.Provider.
func (p *GitLabProvider) DeployKey(ctx context.Context, publicKey, title string) error {
	k, err := validateKey(provider.GitLab, publicKey)
	if err != nil {
		return err
	}
	client, err := p.authedClient(opDeployKey)
	if err != nil {
		return err
	}

	_, _, err = client.Users.AddSSHKey(&gitlab.AddSSHKeyOptions{
		Title: gitlab.Ptr(keyTitle(title, k)),
		Key:   gitlab.Ptr(k.String()),
	}, gitlab.WithContext(ctx))
	return wrapError(provider.GitLab, opDeployKey, err, gitlabStatus)
}

// RemoveKey implements provider.Provider.
func (p *GitLabProvider) RemoveKey(ctx context.Context, id string) error {
	keyID, err := strconv.Atoi(strings.TrimSpace(id))
	if err != nil {
		return provider.NewError(provider.ErrNotFound, provider.GitLab, opRemoveKey, "key ids are numeric, got "+strconv.Quote(id))
	}
	client, err := p.authedClient(opRemoveKey)
	if err != nil {
		return err
	}

	_, err = client.Users.DeleteSSHKey(keyID, gitlab.WithContext(ctx))
	return wrapError(provider.GitLab, opRemoveKey, err, gitlabStatus)
}

// Disconnect implements provider.Provider.
func (p *GitLabProvider) Disconnect(ctx context.Context) error {
	return p.session.forget()
}

func (p *GitLabProvider) authedClient(op string) (*gitlab.Client, error) {
	token, err := p.session.token(op)
	if err != nil {
		return nil, err
	}
	return p.client(token)
}

func (p *GitLabProvider) client(token string) (*gitlab.Client, error) {
	client, err := gitlab.NewOAuthClient(token,
		gitlab.WithBaseURL(p.instance.url),
		gitlab.WithHTTPClient(p.deps.httpClient()),
	)
	if err != nil {
		return nil, provider.NewError(provider.ErrAPI, provider.GitLab, "configure", "failed to create GitLab client").WithCause(err)
	}
	return client, nil
}

func gitlabKeyMetadata(k *gitlab.SSHKey) provider.KeyMetadata {
	md := provider.KeyMetadata{
		ID:        strconv.Itoa(k.ID),
		Title:     k.Title,
		CreatedAt: k.CreatedAt,
	}
	md.Fingerprint, md.KeyType = sshkey.Describe(k.Key)
	return md
}

func gitlabStatus(err error) (int, string, bool) {
	// go-gitlab reports 404 as a bare sentinel, not an ErrorResponse.
	if errors.Is(err, gitlab.ErrNotFound) {
		return http.StatusNotFound, err.Error(), true
	}
	var er *gitlab.ErrorResponse
	if errors.As(err, &er) && er.Response != nil {
		return er.Response.StatusCode, er.Message, true
	}
	return 0, "", false
}
