package providers

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/oauth2"

	"github.com/systmms/keysync/internal/config"
	"github.com/systmms/keysync/internal/logging"
	"github.com/systmms/keysync/internal/oauth"
	"github.com/systmms/keysync/internal/secure"
	"github.com/systmms/keysync/internal/sshkey"
	"github.com/systmms/keysync/internal/tokens"
	"github.com/systmms/keysync/internal/transport"
	"github.com/systmms/keysync/pkg/provider"
)

// Deps are the collaborators shared by every provider instance.
type Deps struct {
	Tokens   *tokens.Storage
	Settings config.Store

	// HTTPClient carries API traffic. Defaults to transport.NewHTTPClient.
	HTTPClient *http.Client

	Logger *logging.Logger

	// Receiver configures the OAuth callback listener. BindAddress is
	// chosen per provider when left empty.
	Receiver oauth.ReceiverConfig

	// OpenBrowser overrides browser.OpenURL.
	OpenBrowser func(url string) error
}

// OAuthClient identifies the registered OAuth application.
type OAuthClient struct {
	ClientID     string
	ClientSecret string
}

// session holds the live OAuth credentials of one provider instance.
// Token values stay sealed in secure buffers between requests.
type session struct {
	id     provider.Identity
	scope  string
	deps   Deps
	logger *logging.Logger

	flow oauth.Flow

	mu      sync.RWMutex
	access  *secure.SecureBuffer
	refresh *secure.SecureBuffer
	account string
}

func newSession(id provider.Identity, scope string, deps Deps, client OAuthClient, endpoint oauth2.Endpoint, scopes []string) *session {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	receiver := deps.Receiver
	receiver.ProviderName = id.DisplayName()

	return &session{
		id:     id,
		scope:  scope,
		deps:   deps,
		logger: logger,
		flow: oauth.Flow{
			Config: oauth2.Config{
				ClientID:     client.ClientID,
				ClientSecret: client.ClientSecret,
				Endpoint:     endpoint,
				Scopes:       scopes,
			},
			Receiver:    receiver,
			OpenBrowser: deps.OpenBrowser,
			HTTPClient:  deps.httpClient(),
			Logger:      logger,
		},
	}
}

// authenticated reports whether both a token and a resolved account are held.
func (s *session) authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.access.Empty() && s.account != ""
}

// accountName returns the resolved account identifier.
func (s *session) accountName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.account
}

// token returns the plaintext access token for one request.
func (s *session) token(op string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.access.Empty() || s.account == "" {
		return "", notAuthenticated(s.id, op)
	}
	tok, err := s.access.Reveal()
	if err != nil || tok == "" {
		return "", notAuthenticated(s.id, op)
	}
	return tok, nil
}

// refreshToken returns the plaintext refresh token, empty when none is held.
func (s *session) refreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rt, _ := s.refresh.Reveal()
	return rt
}

// login runs the browser flow, resolves the account with whoami and only then
// persists the credentials.
func (s *session) login(ctx context.Context, whoami func(ctx context.Context, accessToken string) (string, error), sdk statusFunc) error {
	if s.flow.Config.ClientID == "" {
		return provider.NewError(provider.ErrInvalidCredentialFormat, s.id, opAuthenticate,
			"no OAuth client id configured; set "+config.Key(string(s.id), config.ClientID))
	}

	tok, err := s.flow.Run(ctx)
	if err != nil {
		return wrapError(s.id, opAuthenticate, err, sdk)
	}

	account, err := whoami(ctx, tok.AccessToken)
	if err != nil {
		return wrapError(s.id, opAuthenticate, err, sdk)
	}
	account = strings.TrimSpace(account)
	if account == "" {
		return provider.NewError(provider.ErrAPI, s.id, opAuthenticate, "the account lookup returned no user name")
	}

	stored := tokens.Token{AccessToken: tok.AccessToken, RefreshToken: tok.RefreshToken, Expiry: tok.Expiry}
	if err := s.persist(account, stored); err != nil {
		return err
	}
	s.logger.Debug("Signed in to %s as %s", s.id.DisplayName(), account)
	return nil
}

// persist stores tok for account and makes it the live session.
func (s *session) persist(account string, tok tokens.Token) error {
	if err := s.deps.Tokens.StoreToken(s.scope, account, tok); err != nil {
		return provider.NewError(provider.ErrAPI, s.id, opAuthenticate, "failed to save credentials").WithCause(err)
	}
	if err := s.deps.Settings.SetString(config.Key(string(s.id), config.Username), account); err != nil {
		s.logger.Warn("Failed to remember %s account: %v", s.id.DisplayName(), err)
	}
	s.set(account, tok)
	return nil
}

func (s *session) set(account string, tok tokens.Token) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access.Destroy()
	s.refresh.Destroy()
	s.access = secure.NewSecureString(tok.AccessToken)
	s.refresh = secure.NewSecureString(tok.RefreshToken)
	s.account = account
}

// restore reloads the token stored for the remembered account.
func (s *session) restore() (bool, error) {
	account := s.deps.Settings.GetString(config.Key(string(s.id), config.Username))
	if account == "" {
		return false, nil
	}
	tok, ok, err := s.deps.Tokens.RetrieveToken(s.scope, account)
	if err != nil {
		return false, provider.NewError(provider.ErrAPI, s.id, opRestore, "failed to read stored credentials").WithCause(err)
	}
	if !ok {
		return false, nil
	}
	s.set(account, tok)
	s.logger.Debug("Restored %s session for %s", s.id.DisplayName(), account)
	return true, nil
}

// clear drops the in-memory credentials.
func (s *session) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access.Destroy()
	s.refresh.Destroy()
	s.access, s.refresh = nil, nil
	s.account = ""
}

// forget clears memory and deletes the persisted credentials.
func (s *session) forget() error {
	account := s.accountName()
	if account == "" {
		account = s.deps.Settings.GetString(config.Key(string(s.id), config.Username))
	}
	s.clear()
	if account == "" {
		return nil
	}
	if err := s.deps.Tokens.Delete(s.scope, account); err != nil {
		return provider.NewError(provider.ErrAPI, s.id, opDisconnect, "failed to delete stored credentials").WithCause(err)
	}
	if err := s.deps.Settings.Delete(config.Key(string(s.id), config.Username)); err != nil {
		s.logger.Warn("Failed to clear %s account setting: %v", s.id.DisplayName(), err)
	}
	return nil
}

// validateKey checks key text locally before any request is made.
func validateKey(id provider.Identity, publicKey string) (*sshkey.PublicKey, error) {
	k, err := sshkey.Parse(publicKey)
	if err != nil {
		return nil, provider.NewError(provider.ErrInvalidFormat, id, opDeployKey, err.Error()).WithCause(err)
	}
	return k, nil
}

// keyTitle falls back to the key comment, then to a generic label.
func keyTitle(title string, k *sshkey.PublicKey) string {
	if t := strings.TrimSpace(title); t != "" {
		return t
	}
	if k.Comment != "" {
		return k.Comment
	}
	return "keysync " + string(k.Type) + " key"
}

func (d Deps) httpClient() *http.Client {
	if d.HTTPClient != nil {
		return d.HTTPClient
	}
	return transport.NewHTTPClient(d.Logger)
}
