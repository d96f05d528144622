package providers_test

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/systmms/keysync/internal/config"
	"github.com/systmms/keysync/internal/logging"
	"github.com/systmms/keysync/internal/oauth"
	"github.com/systmms/keysync/internal/providers"
	"github.com/systmms/keysync/internal/tokens"
	"github.com/systmms/keysync/tests/fakes"
)

// testDeps returns deps backed by in-memory stores. The callback receiver
// listens on a free port and the browser is simulated by approve.
func testDeps(t *testing.T) (providers.Deps, *fakes.FakeSecretStore) {
	t.Helper()
	store := fakes.NewFakeSecretStore()
	return providers.Deps{
		Tokens:      tokens.NewStorage(store, nil),
		Settings:    config.NewMemorySettings(),
		HTTPClient:  &http.Client{Timeout: 5 * time.Second},
		Logger:      logging.Discard(),
		Receiver:    oauth.ReceiverConfig{Port: 0},
		OpenBrowser: approve,
	}, store
}

// approve plays a browser whose user grants access: it follows the
// redirect_uri of the authorization URL with a code and the original state.
func approve(authURL string) error {
	u, err := url.Parse(authURL)
	if err != nil {
		return err
	}
	q := u.Query()
	cb := url.Values{"code": {"test-code"}, "state": {q.Get("state")}}

	go func() {
		resp, err := http.Get(q.Get("redirect_uri") + "?" + cb.Encode())
		if err == nil {
			resp.Body.Close()
		}
	}()
	return nil
}

// deny plays a browser whose user rejects the consent screen.
func deny(authURL string) error {
	u, err := url.Parse(authURL)
	if err != nil {
		return err
	}
	q := u.Query()
	cb := url.Values{"error": {"access_denied"}, "state": {q.Get("state")}}

	go func() {
		resp, err := http.Get(q.Get("redirect_uri") + "?" + cb.Encode())
		if err == nil {
			resp.Body.Close()
		}
	}()
	return nil
}

// writeToken answers an OAuth token request.
func writeToken(w http.ResponseWriter, access, refresh string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"access_token":  access,
		"refresh_token": refresh,
		"token_type":    "bearer",
		"expires_in":    3600,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func bearer(r *http.Request) string {
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}

// publicKey generates a fresh authorized_keys line of the given algorithm.
func publicKey(t *testing.T, algorithm, comment string) string {
	t.Helper()

	var pub interface{}
	switch algorithm {
	case "ed25519":
		p, _, err := ed25519.GenerateKey(rand.Reader)
		require.NoError(t, err)
		pub = p
	case "rsa":
		k, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)
		pub = &k.PublicKey
	case "ecdsa":
		k, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		require.NoError(t, err)
		pub = &k.PublicKey
	default:
		t.Fatalf("unknown algorithm %s", algorithm)
	}

	sshPub, err := ssh.NewPublicKey(pub)
	require.NoError(t, err)
	line := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(sshPub)))
	if comment != "" {
		line += " " + comment
	}
	return line
}
