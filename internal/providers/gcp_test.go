package providers_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/keysync/internal/providers"
	"github.com/systmms/keysync/pkg/provider"
)

const gcpEmail = "dev@example.com"

// gcpServer fakes the Google token endpoint, the userinfo endpoint and the
// OS Login API. Only the most recently issued access token is accepted.
type gcpServer struct {
	server *httptest.Server

	mu           sync.Mutex
	valid        string
	issued       int
	refreshes    int
	refreshFails bool
	rejectedAuth int
	keys         map[string]string
}

func newGCPServer(t *testing.T) *gcpServer {
	t.Helper()
	gs := &gcpServer{keys: make(map[string]string)}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", gs.token)
	mux.HandleFunc("GET /oauth2/v2/userinfo", gs.authed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"email": gcpEmail, "verified_email": true})
	}))
	mux.HandleFunc("/v1/", gs.authed(gs.oslogin))

	gs.server = httptest.NewServer(mux)
	t.Cleanup(gs.server.Close)
	return gs
}

func (gs *gcpServer) token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_request"})
		return
	}

	gs.mu.Lock()
	defer gs.mu.Unlock()
	if _, _, ok := r.BasicAuth(); ok || r.PostForm.Get("client_id") != "gcp-client" {
		gs.rejectedAuth++
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "invalid_client"})
		return
	}
	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		gs.issued++
		gs.valid = fmt.Sprintf("ya29.access-%d", gs.issued)
		writeToken(w, gs.valid, "1//refresh")
	case "refresh_token":
		gs.refreshes++
		if gs.refreshFails || r.PostForm.Get("refresh_token") != "1//refresh" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_grant", "error_description": "Token has been expired or revoked."})
			return
		}
		gs.issued++
		gs.valid = fmt.Sprintf("ya29.access-%d", gs.issued)
		writeToken(w, gs.valid, "")
	default:
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unsupported_grant_type"})
	}
}

func (gs *gcpServer) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		gs.mu.Lock()
		valid := gs.valid
		gs.mu.Unlock()
		if valid == "" || bearer(r) != valid {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": map[string]any{
				"code":    401,
				"message": "Request had invalid authentication credentials.",
				"status":  "UNAUTHENTICATED",
			}})
			return
		}
		next(w, r)
	}
}

func (gs *gcpServer) oslogin(w http.ResponseWriter, r *http.Request) {
	path, _ := url.PathUnescape(r.URL.Path)
	user := "/v1/users/" + gcpEmail

	gs.mu.Lock()
	defer gs.mu.Unlock()
	switch {
	case r.Method == http.MethodGet && path == user+"/loginProfile":
		writeJSON(w, http.StatusOK, gs.profile())
	case r.Method == http.MethodPost && path == user+":importSshPublicKey":
		var body struct {
			Key string `json:"key"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		sum := sha256.Sum256([]byte(body.Key))
		gs.keys[hex.EncodeToString(sum[:8])] = body.Key
		writeJSON(w, http.StatusOK, map[string]any{"loginProfile": gs.profile()})
	case r.Method == http.MethodDelete && strings.HasPrefix(path, user+"/sshPublicKeys/"):
		fp := strings.TrimPrefix(path, user+"/sshPublicKeys/")
		if _, ok := gs.keys[fp]; !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": map[string]any{"code": 404, "message": "Key not found."}})
			return
		}
		delete(gs.keys, fp)
		writeJSON(w, http.StatusOK, map[string]any{})
	default:
		writeJSON(w, http.StatusNotFound, map[string]any{"error": map[string]any{"code": 404, "message": "no route " + path}})
	}
}

func (gs *gcpServer) profile() map[string]any {
	keys := make(map[string]any, len(gs.keys))
	for fp, k := range gs.keys {
		keys[fp] = map[string]any{"key": k, "fingerprint": fp, "name": "users/" + gcpEmail + "/sshPublicKeys/" + fp}
	}
	return map[string]any{"name": "users/" + gcpEmail, "sshPublicKeys": keys}
}

// revoke invalidates the current access token as if it had expired.
func (gs *gcpServer) revoke() {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	gs.valid = "expired-" + gs.valid
}

func (gs *gcpServer) refreshCount() int {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	return gs.refreshes
}

func (gs *gcpServer) provider(deps providers.Deps) *providers.GCPProvider {
	return providers.NewGCPProvider(providers.GCPConfig{
		OAuthClient:      providers.OAuthClient{ClientID: "gcp-client", ClientSecret: "gcp-secret"},
		OSLoginEndpoint:  gs.server.URL + "/",
		UserinfoEndpoint: gs.server.URL + "/",
		AuthURL:          gs.server.URL + "/auth",
		TokenURL:         gs.server.URL + "/token",
	}, deps)
}

func TestGCPContract(t *testing.T) {
	gs := newGCPServer(t)
	var deps providers.Deps

	provider.RunContractTests(t, provider.ContractTest{
		CreateProvider: func(t *testing.T) provider.Provider {
			deps, _ = testDeps(t)
			return gs.provider(deps)
		},
		StoredCredential: func(t *testing.T, p provider.Provider) bool {
			_, ok, err := deps.Tokens.Retrieve("gcp", gcpEmail)
			require.NoError(t, err)
			return ok
		},
		RetainsCredentials: true,
	})
}

func TestGCPKeyLifecycle(t *testing.T) {
	t.Parallel()

	gs := newGCPServer(t)
	deps, _ := testDeps(t)
	var authURL *url.URL
	deps.OpenBrowser = func(raw string) error {
		authURL, _ = url.Parse(raw)
		return approve(raw)
	}
	p := gs.provider(deps)
	ctx := context.Background()

	require.NoError(t, p.Authenticate(ctx))
	assert.Equal(t, gcpEmail, p.Account())
	require.NotNil(t, authURL)
	assert.Equal(t, "offline", authURL.Query().Get("access_type"))
	assert.Equal(t, "consent", authURL.Query().Get("prompt"))
	assert.Contains(t, authURL.Query().Get("scope"), "https://www.googleapis.com/auth/compute")

	require.NoError(t, p.DeployKey(ctx, publicKey(t, "ed25519", "dev@workstation"), "ignored"))

	keys, err := p.ListKeys(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "dev@workstation", keys[0].Title)
	assert.Equal(t, provider.KeyTypeEd25519, keys[0].KeyType)
	assert.Contains(t, keys[0].Fingerprint, "SHA256:")

	require.NoError(t, p.RemoveKey(ctx, keys[0].ID))
	assert.ErrorIs(t, p.RemoveKey(ctx, keys[0].ID), provider.ErrNotFound)
	assert.ErrorIs(t, p.RemoveKey(ctx, "a/b"), provider.ErrNotFound)

	keys, err = p.ListKeys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
	assert.Equal(t, 0, gs.refreshCount())
}

func TestGCPRefreshesExpiredToken(t *testing.T) {
	t.Parallel()

	gs := newGCPServer(t)
	deps, _ := testDeps(t)
	p := gs.provider(deps)
	ctx := context.Background()
	require.NoError(t, p.Authenticate(ctx))

	gs.revoke()
	_, err := p.ListKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, gs.refreshCount())

	tok, ok, err := deps.Tokens.RetrieveToken("gcp", gcpEmail)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "ya29.access-2", tok.AccessToken, "the refreshed token is persisted")
	assert.Equal(t, "1//refresh", tok.RefreshToken)

	_, err = p.ListKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, gs.refreshCount(), "the refreshed token is reused")
}

func TestGCPRefreshFailure(t *testing.T) {
	t.Parallel()

	gs := newGCPServer(t)
	deps, _ := testDeps(t)
	p := gs.provider(deps)
	ctx := context.Background()
	require.NoError(t, p.Authenticate(ctx))

	gs.mu.Lock()
	gs.refreshFails = true
	gs.mu.Unlock()
	gs.revoke()

	_, err := p.ListKeys(ctx)
	assert.ErrorIs(t, err, provider.ErrNotAuthenticated)
	assert.Equal(t, 1, gs.refreshCount(), "exactly one refresh is attempted")

	gs.mu.Lock()
	defer gs.mu.Unlock()
	assert.Zero(t, gs.rejectedAuth, "client credentials travel in the form body")
}

func TestGCPDisconnectRetainsToken(t *testing.T) {
	t.Parallel()

	gs := newGCPServer(t)
	deps, store := testDeps(t)
	ctx := context.Background()

	p := gs.provider(deps)
	require.NoError(t, p.Authenticate(ctx))
	require.NoError(t, p.Disconnect(ctx))
	assert.False(t, p.IsAuthenticated())
	assert.Equal(t, 1, store.Len())

	restored, err := p.TryRestoreSession(ctx)
	require.NoError(t, err)
	assert.True(t, restored)
	_, err = p.ListKeys(ctx)
	assert.NoError(t, err)
}
