package providers

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
	oauth2api "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/oslogin/v1"

	"github.com/systmms/keysync/internal/sshkey"
	"github.com/systmms/keysync/internal/tokens"
	"github.com/systmms/keysync/pkg/provider"
)

// GCPScopes are requested during sign-in.
var GCPScopes = []string{"openid", "email", "https://www.googleapis.com/auth/compute"}

// GCPConfig configures a GCPProvider.
type GCPConfig struct {
	OAuthClient

	// OSLoginEndpoint and UserinfoEndpoint override the API roots.
	OSLoginEndpoint  string
	UserinfoEndpoint string

	// TokenURL overrides the Google token endpoint.
	TokenURL string
	AuthURL  string
}

// GCPProvider manages OS Login keys of the signed in Google account.
//
// Access tokens are short lived, so a 401 triggers exactly one refresh with
// the stored refresh token before the call is retried. Disconnect keeps the
// stored token so TryRestoreSession can reconnect without a browser.
type GCPProvider struct {
	config  GCPConfig
	deps    Deps
	session *session
}

// NewGCPProvider creates an unauthenticated Google Cloud provider. Its
// callback receiver binds the wildcard address unless configured otherwise.
func NewGCPProvider(cfg GCPConfig, deps Deps) *GCPProvider {
	endpoint := endpoints.Google
	endpoint.AuthStyle = oauth2.AuthStyleInParams
	if cfg.AuthURL != "" {
		endpoint.AuthURL = cfg.AuthURL
	}
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}
	if deps.Receiver.BindAddress == "" {
		deps.Receiver.BindAddress = "0.0.0.0"
	}

	s := newSession(provider.GCP, string(provider.GCP), deps, cfg.OAuthClient, endpoint, GCPScopes)
	s.flow.AuthParams = []oauth2.AuthCodeOption{oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent")}
	return &GCPProvider{config: cfg, deps: deps, session: s}
}

// Identity implements provider.Provider.
func (p *GCPProvider) Identity() provider.Identity { return provider.GCP }

// Name implements provider.Provider.
func (p *GCPProvider) Name() string { return provider.GCP.DisplayName() }

// Scope implements provider.Provider.
func (p *GCPProvider) Scope() string { return string(provider.GCP) }

// Account returns the signed in email address.
func (p *GCPProvider) Account() string { return p.session.accountName() }

// IsAuthenticated implements provider.Provider.
func (p *GCPProvider) IsAuthenticated() bool { return p.session.authenticated() }

// Authenticate runs the browser sign-in and resolves the email address with
// the OAuth2 userinfo endpoint.
func (p *GCPProvider) Authenticate(ctx context.Context) error {
	return p.session.login(ctx, func(ctx context.Context, token string) (string, error) {
		return p.email(ctx, token)
	}, googleStatus)
}

// TryRestoreSession implements provider.SessionRestorer.
func (p *GCPProvider) TryRestoreSession(ctx context.Context) (bool, error) {
	return p.session.restore()
}

// ListKeys returns the keys of the OS Login profile. Key ids are the OS Login
// fingerprints.
func (p *GCPProvider) ListKeys(ctx context.Context) ([]provider.KeyMetadata, error) {
	var profile *oslogin.LoginProfile
	err := p.withRefresh(ctx, opListKeys, func(svc *oslogin.Service, user string) error {
		var err error
		profile, err = svc.Users.GetLoginProfile(user).Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(profile.SshPublicKeys))
	for id := range profile.SshPublicKeys {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	keys := make([]provider.KeyMetadata, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, gcpKeyMetadata(id, profile.SshPublicKeys[id]))
	}
	return keys, nil
}

// DeployKey imports the key into the OS Login profile. OS Login has no key
// labels, so title is not sent.
func (p *GCPProvider) DeployKey(ctx context.Context, publicKey, title string) error {
	k, err := validateKey(provider.GCP, publicKey)
	if err != nil {
		return err
	}
	return p.withRefresh(ctx, opDeployKey, func(svc *oslogin.Service, user string) error {
		_, err := svc.Users.ImportSshPublicKey(user, &oslogin.SshPublicKey{Key: k.String()}).Context(ctx).Do()
		return err
	})
}

// RemoveKey implements provider.Provider. id is the OS Login fingerprint.
func (p *GCPProvider) RemoveKey(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" || strings.Contains(id, "/") {
		return provider.NewError(provider.ErrNotFound, provider.GCP, opRemoveKey, "not an OS Login key fingerprint: "+id)
	}
	return p.withRefresh(ctx, opRemoveKey, func(svc *oslogin.Service, user string) error {
		_, err := svc.Users.SshPublicKeys.Delete(user + "/sshPublicKeys/" + id).Context(ctx).Do()
		return err
	})
}

// Disconnect clears the in-memory session and keeps the stored token.
func (p *GCPProvider) Disconnect(ctx context.Context) error {
	p.session.clear()
	return nil
}

// withRefresh runs call with the current token. On a 401 it refreshes once,
// persists the new token and retries once.
func (p *GCPProvider) withRefresh(ctx context.Context, op string, call func(svc *oslogin.Service, user string) error) error {
	token, err := p.session.token(op)
	if err != nil {
		return err
	}
	user := "users/" + p.session.accountName()

	svc, err := p.osLogin(ctx, token)
	if err != nil {
		return wrapError(provider.GCP, op, err, googleStatus)
	}
	err = call(svc, user)
	if !isUnauthorized(err) {
		return wrapError(provider.GCP, op, err, googleStatus)
	}

	fresh, refreshErr := p.refresh(ctx)
	if refreshErr != nil {
		p.deps.Logger.Debug("Google token refresh failed: %v", refreshErr)
		return provider.NewError(provider.ErrNotAuthenticated, provider.GCP, op,
			"session expired; run 'keysync login gcp'").WithCause(err)
	}

	svc, err = p.osLogin(ctx, fresh)
	if err != nil {
		return wrapError(provider.GCP, op, err, googleStatus)
	}
	err = call(svc, user)
	if isUnauthorized(err) {
		return provider.NewError(provider.ErrNotAuthenticated, provider.GCP, op,
			"session expired; run 'keysync login gcp'").WithCause(err)
	}
	return wrapError(provider.GCP, op, err, googleStatus)
}

// refresh exchanges the refresh token for a new access token and stores it.
func (p *GCPProvider) refresh(ctx context.Context) (string, error) {
	rt := p.session.refreshToken()
	if rt == "" {
		return "", errors.New("no refresh token stored")
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.deps.httpClient())
	tok, err := p.session.flow.Config.TokenSource(ctx, &oauth2.Token{RefreshToken: rt}).Token()
	if err != nil {
		return "", err
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = rt
	}

	stored := tokens.Token{AccessToken: tok.AccessToken, RefreshToken: tok.RefreshToken, Expiry: tok.Expiry}
	if err := p.session.persist(p.session.accountName(), stored); err != nil {
		return "", err
	}
	p.deps.Logger.Debug("Refreshed Google access token")
	return tok.AccessToken, nil
}

func (p *GCPProvider) osLogin(ctx context.Context, token string) (*oslogin.Service, error) {
	opts := []option.ClientOption{option.WithHTTPClient(p.bearerClient(token))}
	if p.config.OSLoginEndpoint != "" {
		opts = append(opts, option.WithEndpoint(p.config.OSLoginEndpoint))
	}
	return oslogin.NewService(ctx, opts...)
}

func (p *GCPProvider) email(ctx context.Context, token string) (string, error) {
	opts := []option.ClientOption{option.WithHTTPClient(p.bearerClient(token))}
	if p.config.UserinfoEndpoint != "" {
		opts = append(opts, option.WithEndpoint(p.config.UserinfoEndpoint))
	}
	svc, err := oauth2api.NewService(ctx, opts...)
	if err != nil {
		return "", err
	}
	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return "", err
	}
	return info.Email, nil
}

func (p *GCPProvider) bearerClient(token string) *http.Client {
	base := p.deps.httpClient()
	return &http.Client{
		Timeout: base.Timeout,
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}),
			Base:   base.Transport,
		},
	}
}

func gcpKeyMetadata(id string, k oslogin.SshPublicKey) provider.KeyMetadata {
	md := provider.KeyMetadata{ID: id, Title: id}
	if parsed, err := sshkey.Parse(k.Key); err == nil {
		md.Fingerprint = parsed.Fingerprint
		md.KeyType = parsed.Type
		if parsed.Comment != "" {
			md.Title = parsed.Comment
		}
	}
	return md
}

func isUnauthorized(err error) bool {
	var ge *googleapi.Error
	return errors.As(err, &ge) && ge.Code == http.StatusUnauthorized
}

func googleStatus(err error) (int, string, bool) {
	var ge *googleapi.Error
	if errors.As(err, &ge) {
		return ge.Code, ge.Message, true
	}
	return 0, "", false
}
