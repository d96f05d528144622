// Package oauth runs the OAuth2 authorization-code flow through a local
// callback receiver.
//
// Only one flow can be outstanding per machine: every flow binds the same
// fixed port, so a concurrent second flow fails with ErrFlowInProgress.
package oauth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/browser"
	"golang.org/x/oauth2"

	"github.com/systmms/keysync/internal/logging"
	"github.com/systmms/keysync/pkg/provider"
)

// DefaultTimeout bounds the wait for the browser redirect.
const DefaultTimeout = 60 * time.Second

// StateMismatch is the OAuthError code for a callback whose state parameter
// differs from the one sent.
const StateMismatch = "state_mismatch"

// Flow is one provider's authorization-code configuration.
type Flow struct {
	// Config carries client credentials, endpoints and scopes. RedirectURL
	// is overwritten with the receiver's address.
	Config oauth2.Config

	Receiver ReceiverConfig

	// Timeout defaults to DefaultTimeout.
	Timeout time.Duration

	// AuthParams are extra authorization URL parameters such as
	// oauth2.AccessTypeOffline.
	AuthParams []oauth2.AuthCodeOption

	// OpenBrowser launches the authorization URL. Defaults to browser.OpenURL.
	OpenBrowser func(url string) error

	// HTTPClient is used for the token exchange when set.
	HTTPClient *http.Client

	Logger *logging.Logger
}

// Run performs one complete flow and returns the exchanged token.
//
// Failures match provider.ErrBrowserLaunch, provider.ErrTimeout,
// provider.ErrCancelled or provider.ErrOAuth (as *provider.OAuthError);
// a busy callback port matches ErrFlowInProgress.
func (f *Flow) Run(ctx context.Context) (*oauth2.Token, error) {
	logger := f.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	timeout := f.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	open := f.OpenBrowser
	if open == nil {
		open = browser.OpenURL
	}

	state, err := NewState()
	if err != nil {
		return nil, err
	}

	receiver := NewReceiver(f.Receiver)
	if err := receiver.Start(); err != nil {
		return nil, err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = receiver.Stop(stopCtx)
	}()

	cfg := f.Config
	cfg.RedirectURL = receiver.RedirectURL()
	authURL := cfg.AuthCodeURL(state, f.AuthParams...)

	logger.Debug("Opening browser for %s sign-in, callback %s", f.Receiver.ProviderName, cfg.RedirectURL)
	if err := open(authURL); err != nil {
		return nil, fmt.Errorf("%w: %v", provider.ErrBrowserLaunch, err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cb, err := receiver.Wait(waitCtx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("sign-in %w: %v", provider.ErrCancelled, ctx.Err())
		}
		return nil, fmt.Errorf("no authorization callback within %s: %w", timeout, provider.ErrTimeout)
	}

	if subtle.ConstantTimeCompare([]byte(cb.State), []byte(state)) != 1 {
		return nil, &provider.OAuthError{
			Code:        StateMismatch,
			Description: "the callback was not issued for this sign-in",
		}
	}
	if cb.Error != "" {
		return nil, &provider.OAuthError{Code: cb.Error, Description: cb.ErrorDescription}
	}

	logger.Debug("Exchanging authorization code %s", logging.Secret(cb.Code))
	if f.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, f.HTTPClient)
	}
	tok, err := cfg.Exchange(ctx, cb.Code)
	if err != nil {
		return nil, ExchangeError(ctx, err)
	}
	return tok, nil
}

// ExchangeError maps a token endpoint failure onto the provider taxonomy.
func ExchangeError(ctx context.Context, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		code := re.ErrorCode
		if code == "" {
			code = "token_exchange_failed"
		}
		desc := re.ErrorDescription
		if desc == "" && re.Response != nil {
			desc = re.Response.Status
		}
		return &provider.OAuthError{Code: code, Description: desc}
	}
	if ctx.Err() != nil {
		return fmt.Errorf("token exchange %w: %v", provider.ErrCancelled, ctx.Err())
	}
	return fmt.Errorf("token exchange failed: %w", err)
}

// NewState returns a random CSRF token of 32 bytes, base64url encoded.
func NewState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
