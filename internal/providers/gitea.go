package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/systmms/keysync/internal/config"
	"github.com/systmms/keysync/internal/sshkey"
	"github.com/systmms/keysync/internal/transport"
	"github.com/systmms/keysync/pkg/provider"
)

const giteaPageSize = 50

// GiteaConfig configures a GiteaProvider.
type GiteaConfig struct {
	OAuthClient

	// InstanceURL is required; Gitea has no public default installation.
	InstanceURL string
}

// GiteaProvider manages keys at /api/v1/user/keys over the REST API.
type GiteaProvider struct {
	instance *instance
	deps     Deps
	session  *session
}

type giteaUser struct {
	Login string `json:"login"`
}

type giteaKey struct {
	ID          int64      `json:"id"`
	Key         string     `json:"key"`
	Title       string     `json:"title"`
	Fingerprint string     `json:"fingerprint"`
	CreatedAt   *time.Time `json:"created_at"`
}

// NewGiteaProvider creates an unauthenticated Gitea provider.
func NewGiteaProvider(cfg GiteaConfig, deps Deps) (*GiteaProvider, error) {
	if strings.TrimSpace(cfg.InstanceURL) == "" {
		return nil, provider.NewError(provider.ErrInvalidFormat, provider.Gitea, "configure",
			"no instance URL configured; set "+config.Key(string(provider.Gitea), config.InstanceURL))
	}
	inst, err := parseInstance(provider.Gitea, cfg.InstanceURL, "")
	if err != nil {
		return nil, err
	}

	endpoint := oauth2.Endpoint{
		AuthURL:   inst.url + "/login/oauth/authorize",
		TokenURL:  inst.url + "/login/oauth/access_token",
		AuthStyle: oauth2.AuthStyleInParams,
	}
	return &GiteaProvider{
		instance: inst,
		deps:     deps,
		session:  newSession(provider.Gitea, inst.scope(provider.Gitea), deps, cfg.OAuthClient, endpoint, nil),
	}, nil
}

// Identity implements provider.Provider.
func (p *GiteaProvider) Identity() provider.Identity { return provider.Gitea }

// Name implements provider.Provider.
func (p *GiteaProvider) Name() string { return p.instance.name(provider.Gitea) }

// Scope implements provider.Provider.
func (p *GiteaProvider) Scope() string { return p.instance.scope(provider.Gitea) }

// InstanceURL returns the normalised installation root.
func (p *GiteaProvider) InstanceURL() string { return p.instance.url }

// Account returns the signed in login.
func (p *GiteaProvider) Account() string { return p.session.accountName() }

// IsAuthenticated implements provider.Provider.
func (p *GiteaProvider) IsAuthenticated() bool { return p.session.authenticated() }

// Authenticate runs the browser sign-in and resolves the login via
// GET /api/v1/user.
func (p *GiteaProvider) Authenticate(ctx context.Context) error {
	return p.session.login(ctx, func(ctx context.Context, token string) (string, error) {
		var user giteaUser
		if err := p.client(token).GetJSON(ctx, "/api/v1/user", &user); err != nil {
			return "", err
		}
		return user.Login, nil
	}, nil)
}

// TryRestoreSession implements provider.SessionRestorer.
func (p *GiteaProvider) TryRestoreSession(ctx context.Context) (bool, error) {
	return p.session.restore()
}

// ListKeys implements provider.Provider.
func (p *GiteaProvider) ListKeys(ctx context.Context) ([]provider.KeyMetadata, error) {
	client, err := p.authedClient(opListKeys)
	if err != nil {
		return nil, err
	}

	var keys []provider.KeyMetadata
	for page := 1; ; page++ {
		var batch []giteaKey
		path := fmt.Sprintf("/api/v1/user/keys?page=%d&limit=%d", page, giteaPageSize)
		if err := client.GetJSON(ctx, path, &batch); err != nil {
			return nil, wrapError(provider.Gitea, opListKeys, err, nil)
		}
		for _, k := range batch {
			keys = append(keys, giteaKeyMetadata(k))
		}
		if len(batch) < giteaPageSize {
			break
		}
	}
	return keys, nil
}

// DeployKey implements provider.Provider.
func (p *GiteaProvider) DeployKey(ctx context.Context, publicKey, title string) error {
	k, err := validateKey(provider.Gitea, publicKey)
	if err != nil {
		return err
	}
	client, err := p.authedClient(opDeployKey)
	if err != nil {
		return err
	}

	body := map[string]string{"key": k.String(), "title": keyTitle(title, k)}
	err = client.PostJSON(ctx, "/api/v1/user/keys", body, nil)
	return wrapError(provider.Gitea, opDeployKey, err, nil)
}

// RemoveKey implements provider.Provider.
func (p *GiteaProvider) RemoveKey(ctx context.Context, id string) error {
	keyID, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
	if err != nil {
		return provider.NewError(provider.ErrNotFound, provider.Gitea, opRemoveKey, "key ids are numeric, got "+strconv.Quote(id))
	}
	client, err := p.authedClient(opRemoveKey)
	if err != nil {
		return err
	}

	err = client.Delete(ctx, "/api/v1/user/keys/"+url.PathEscape(strconv.FormatInt(keyID, 10)))
	return wrapError(provider.Gitea, opRemoveKey, err, nil)
}

// Disconnect implements provider.Provider.
func (p *GiteaProvider) Disconnect(ctx context.Context) error {
	return p.session.forget()
}

func (p *GiteaProvider) authedClient(op string) (*transport.Client, error) {
	token, err := p.session.token(op)
	if err != nil {
		return nil, err
	}
	return p.client(token), nil
}

func (p *GiteaProvider) client(token string) *transport.Client {
	return transport.NewClient(transport.ClientConfig{
		Doer:        p.deps.httpClient(),
		BaseURL:     p.instance.url,
		ServiceName: "gitea",
		Logger:      p.deps.Logger,
		BeforeRequest: func(req *http.Request) error {
			req.Header.Set("Authorization", "Bearer "+token)
			return nil
		},
	})
}

func giteaKeyMetadata(k giteaKey) provider.KeyMetadata {
	md := provider.KeyMetadata{
		ID:          strconv.FormatInt(k.ID, 10),
		Title:       k.Title,
		Fingerprint: k.Fingerprint,
		CreatedAt:   k.CreatedAt,
	}
	fp, kt := sshkey.Describe(k.Key)
	if fp != "" {
		md.Fingerprint = fp
	}
	md.KeyType = kt
	return md
}
