package providers

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/systmms/keysync/internal/config"
	"github.com/systmms/keysync/internal/logging"
	"github.com/systmms/keysync/internal/secure"
	"github.com/systmms/keysync/internal/sshkey"
	"github.com/systmms/keysync/internal/tokens"
	"github.com/systmms/keysync/internal/transport"
	"github.com/systmms/keysync/pkg/provider"
)

// DefaultBitbucketAPI is the Bitbucket Cloud REST root.
const DefaultBitbucketAPI = "https://api.bitbucket.org"

// BitbucketConfig configures a BitbucketProvider.
type BitbucketConfig struct {
	Username    string
	AppPassword string

	// BaseURL overrides DefaultBitbucketAPI.
	BaseURL string
}

// BitbucketProvider signs in with a username and app password over HTTP
// Basic auth and manages keys at /2.0/users/{uuid}/ssh-keys.
type BitbucketProvider struct {
	baseURL string
	deps    Deps
	logger  *logging.Logger

	mu sync.RWMutex

	// candidate credentials for the next Authenticate call
	username string
	password *secure.SecureBuffer

	// live session
	secret    *secure.SecureBuffer
	account   string
	accountID string
}

type bitbucketUser struct {
	Username string `json:"username"`
	UUID     string `json:"uuid"`
}

type bitbucketKey struct {
	UUID      string     `json:"uuid"`
	Key       string     `json:"key"`
	Label     string     `json:"label"`
	Comment   string     `json:"comment"`
	CreatedOn *time.Time `json:"created_on"`
	LastUsed  *time.Time `json:"last_used"`
}

type bitbucketKeyPage struct {
	Values []bitbucketKey `json:"values"`
	Next   string         `json:"next"`
}

// NewBitbucketProvider creates an unauthenticated Bitbucket provider.
func NewBitbucketProvider(cfg BitbucketConfig, deps Deps) *BitbucketProvider {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBitbucketAPI
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	p := &BitbucketProvider{
		baseURL: strings.TrimRight(base, "/"),
		deps:    deps,
		logger:  logger,
	}
	p.SetCredentials(cfg.Username, cfg.AppPassword)
	return p
}

// SetCredentials sets the username and app password checked by the next
// Authenticate call. The current session is left untouched.
func (p *BitbucketProvider) SetCredentials(username, appPassword string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.username = strings.TrimSpace(username)
	p.password.Destroy()
	p.password = secure.NewSecureString(strings.TrimSpace(appPassword))
}

// Identity implements provider.Provider.
func (p *BitbucketProvider) Identity() provider.Identity { return provider.Bitbucket }

// Name implements provider.Provider.
func (p *BitbucketProvider) Name() string { return provider.Bitbucket.DisplayName() }

// Scope implements provider.Provider.
func (p *BitbucketProvider) Scope() string { return string(provider.Bitbucket) }

// Account returns the signed in username.
func (p *BitbucketProvider) Account() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.account
}

// IsAuthenticated implements provider.Provider.
func (p *BitbucketProvider) IsAuthenticated() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return !p.secret.Empty() && p.account != "" && p.accountID != ""
}

// Authenticate validates the candidate credentials locally, resolves the
// account with GET /2.0/user and persists the app password.
func (p *BitbucketProvider) Authenticate(ctx context.Context) error {
	p.mu.RLock()
	username := p.username
	password, _ := p.password.Reveal()
	p.mu.RUnlock()

	if username == "" || password == "" {
		return provider.NewError(provider.ErrInvalidCredentialFormat, provider.Bitbucket, opAuthenticate,
			"both a username and an app password are required")
	}

	user, err := p.whoami(ctx, username, password)
	if err != nil {
		var se *transport.StatusError
		if errors.As(err, &se) && se.Unauthorized() {
			return provider.NewError(provider.ErrInvalidCredential, provider.Bitbucket, opAuthenticate,
				"Bitbucket rejected the username or app password").WithCause(err)
		}
		return wrapError(provider.Bitbucket, opAuthenticate, err, nil)
	}

	account := user.Username
	if account == "" {
		account = username
	}
	if err := p.deps.Tokens.StoreToken(p.Scope(), account, tokens.Token{AccessToken: password}); err != nil {
		return provider.NewError(provider.ErrAPI, provider.Bitbucket, opAuthenticate, "failed to save credentials").WithCause(err)
	}
	if err := p.deps.Settings.SetString(config.Key(string(provider.Bitbucket), config.Username), account); err != nil {
		p.logger.Warn("Failed to remember Bitbucket account: %v", err)
	}
	p.setSession(account, user.UUID, password)
	p.logger.Debug("Signed in to Bitbucket as %s", account)
	return nil
}

// TryRestoreSession reloads the stored app password and re-resolves the
// account UUID, which is not persisted.
func (p *BitbucketProvider) TryRestoreSession(ctx context.Context) (bool, error) {
	account := p.deps.Settings.GetString(config.Key(string(provider.Bitbucket), config.Username))
	if account == "" {
		return false, nil
	}
	tok, ok, err := p.deps.Tokens.RetrieveToken(p.Scope(), account)
	if err != nil {
		return false, provider.NewError(provider.ErrAPI, provider.Bitbucket, opRestore, "failed to read stored credentials").WithCause(err)
	}
	if !ok {
		return false, nil
	}

	user, err := p.whoami(ctx, account, tok.AccessToken)
	if err != nil {
		return false, wrapError(provider.Bitbucket, opRestore, err, nil)
	}
	p.setSession(account, user.UUID, tok.AccessToken)
	return true, nil
}

// ListKeys implements provider.Provider.
func (p *BitbucketProvider) ListKeys(ctx context.Context) ([]provider.KeyMetadata, error) {
	client, accountID, err := p.authedClient(opListKeys)
	if err != nil {
		return nil, err
	}

	var keys []provider.KeyMetadata
	path := p.keysPath(accountID) + "?pagelen=100"
	for path != "" {
		var page bitbucketKeyPage
		if err := client.GetJSON(ctx, path, &page); err != nil {
			return nil, wrapError(provider.Bitbucket, opListKeys, err, nil)
		}
		for _, k := range page.Values {
			keys = append(keys, bitbucketKeyMetadata(k))
		}
		path = p.relative(page.Next)
	}
	return keys, nil
}

// DeployKey implements provider.Provider.
func (p *BitbucketProvider) DeployKey(ctx context.Context, publicKey, title string) error {
	k, err := validateKey(provider.Bitbucket, publicKey)
	if err != nil {
		return err
	}
	client, accountID, err := p.authedClient(opDeployKey)
	if err != nil {
		return err
	}

	body := map[string]string{"key": k.String(), "label": keyTitle(title, k)}
	err = client.PostJSON(ctx, p.keysPath(accountID), body, nil)
	return wrapError(provider.Bitbucket, opDeployKey, err, nil)
}

// RemoveKey implements provider.Provider. id is the key UUID with or
// without braces.
func (p *BitbucketProvider) RemoveKey(ctx context.Context, id string) error {
	keyID, err := normaliseUUID(id)
	if err != nil {
		return provider.NewError(provider.ErrNotFound, provider.Bitbucket, opRemoveKey, "not a Bitbucket key id: "+id)
	}
	client, accountID, err := p.authedClient(opRemoveKey)
	if err != nil {
		return err
	}

	err = client.Delete(ctx, p.keysPath(accountID)+"/"+url.PathEscape(keyID))
	return wrapError(provider.Bitbucket, opRemoveKey, err, nil)
}

// Disconnect implements provider.Provider.
func (p *BitbucketProvider) Disconnect(ctx context.Context) error {
	p.mu.Lock()
	account := p.account
	p.secret.Destroy()
	p.secret = nil
	p.account, p.accountID = "", ""
	p.mu.Unlock()

	if account == "" {
		account = p.deps.Settings.GetString(config.Key(string(provider.Bitbucket), config.Username))
	}
	if account == "" {
		return nil
	}
	if err := p.deps.Tokens.Delete(p.Scope(), account); err != nil {
		return provider.NewError(provider.ErrAPI, provider.Bitbucket, opDisconnect, "failed to delete stored credentials").WithCause(err)
	}
	_ = p.deps.Settings.Delete(config.Key(string(provider.Bitbucket), config.Username))
	return nil
}

func (p *BitbucketProvider) setSession(account, accountID, secret string) {
	if id, err := normaliseUUID(accountID); err == nil {
		accountID = id
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.secret.Destroy()
	p.secret = secure.NewSecureString(secret)
	p.account = account
	p.accountID = accountID
}

func (p *BitbucketProvider) whoami(ctx context.Context, username, password string) (*bitbucketUser, error) {
	var user bitbucketUser
	if err := p.client(username, password).GetJSON(ctx, "/2.0/user", &user); err != nil {
		return nil, err
	}
	if user.UUID == "" {
		return nil, provider.NewError(provider.ErrAPI, provider.Bitbucket, opAuthenticate, "the account lookup returned no UUID")
	}
	return &user, nil
}

func (p *BitbucketProvider) authedClient(op string) (*transport.Client, string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.secret.Empty() || p.account == "" || p.accountID == "" {
		return nil, "", notAuthenticated(provider.Bitbucket, op)
	}
	secret, err := p.secret.Reveal()
	if err != nil {
		return nil, "", notAuthenticated(provider.Bitbucket, op)
	}
	return p.client(p.account, secret), p.accountID, nil
}

func (p *BitbucketProvider) client(username, password string) *transport.Client {
	return transport.NewClient(transport.ClientConfig{
		Doer:        p.deps.httpClient(),
		BaseURL:     p.baseURL,
		ServiceName: "bitbucket",
		Logger:      p.deps.Logger,
		BeforeRequest: func(req *http.Request) error {
			req.SetBasicAuth(username, password)
			return nil
		},
	})
}

func (p *BitbucketProvider) keysPath(accountID string) string {
	return "/2.0/users/" + url.PathEscape(accountID) + "/ssh-keys"
}

// relative turns an absolute "next" link back into a path on baseURL.
func (p *BitbucketProvider) relative(next string) string {
	if next == "" {
		return ""
	}
	if strings.HasPrefix(next, p.baseURL) {
		return strings.TrimPrefix(next, p.baseURL)
	}
	u, err := url.Parse(next)
	if err != nil {
		return ""
	}
	return u.RequestURI()
}

// normaliseUUID returns the "{...}" form Bitbucket uses for ids.
func normaliseUUID(s string) (string, error) {
	u, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return "", err
	}
	return "{" + u.String() + "}", nil
}

func bitbucketKeyMetadata(k bitbucketKey) provider.KeyMetadata {
	id := k.UUID
	if n, err := normaliseUUID(k.UUID); err == nil {
		id = n
	}
	md := provider.KeyMetadata{
		ID:        id,
		Title:     k.Label,
		CreatedAt: k.CreatedOn,
		LastUsed:  k.LastUsed,
	}
	if md.Title == "" {
		md.Title = k.Comment
	}
	md.Fingerprint, md.KeyType = sshkey.Describe(k.Key)
	return md
}
