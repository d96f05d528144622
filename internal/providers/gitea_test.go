package providers_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/keysync/internal/providers"
	"github.com/systmms/keysync/pkg/provider"
)

type giteaServer struct {
	server *httptest.Server

	mu       sync.Mutex
	keys     []map[string]any
	next     int64
	requests int
}

func newGiteaServer(t *testing.T) *giteaServer {
	t.Helper()
	gs := &giteaServer{next: 1}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /login/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		writeToken(w, "gitea-token", "")
	})
	mux.HandleFunc("GET /api/v1/user", gs.authed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"id": 3, "login": "gopher"})
	}))
	mux.HandleFunc("GET /api/v1/user/keys", gs.authed(gs.list))
	mux.HandleFunc("POST /api/v1/user/keys", gs.authed(gs.create))
	mux.HandleFunc("DELETE /api/v1/user/keys/{id}", gs.authed(gs.remove))

	gs.server = httptest.NewServer(mux)
	t.Cleanup(gs.server.Close)
	return gs
}

func (gs *giteaServer) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		gs.mu.Lock()
		gs.requests++
		gs.mu.Unlock()
		if bearer(r) != "gitea-token" {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "token is required"})
			return
		}
		next(w, r)
	}
}

func (gs *giteaServer) list(w http.ResponseWriter, r *http.Request) {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if page < 1 || limit < 1 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": "bad paging"})
		return
	}
	start := (page - 1) * limit
	if start > len(gs.keys) {
		start = len(gs.keys)
	}
	end := start + limit
	if end > len(gs.keys) {
		end = len(gs.keys)
	}
	writeJSON(w, http.StatusOK, append([]map[string]any{}, gs.keys[start:end]...))
}

func (gs *giteaServer) create(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Key   string `json:"key"`
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"message": "bad body"})
		return
	}
	gs.mu.Lock()
	defer gs.mu.Unlock()
	gs.add(body.Title, body.Key)
	writeJSON(w, http.StatusCreated, gs.keys[len(gs.keys)-1])
}

func (gs *giteaServer) add(title, key string) {
	gs.keys = append(gs.keys, map[string]any{
		"id":          gs.next,
		"key":         key,
		"title":       title,
		"fingerprint": fmt.Sprintf("SHA256:server-%d", gs.next),
	})
	gs.next++
}

func (gs *giteaServer) remove(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(r.PathValue("id"), 10, 64)

	gs.mu.Lock()
	defer gs.mu.Unlock()
	for i, k := range gs.keys {
		if k["id"] == id {
			gs.keys = append(gs.keys[:i], gs.keys[i+1:]...)
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]any{"message": "key does not exist"})
}

func (gs *giteaServer) requestCount() int {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	return gs.requests
}

func (gs *giteaServer) provider(t *testing.T, deps providers.Deps) *providers.GiteaProvider {
	t.Helper()
	p, err := providers.NewGiteaProvider(providers.GiteaConfig{
		OAuthClient: providers.OAuthClient{ClientID: "gitea-client", ClientSecret: "gitea-secret"},
		InstanceURL: gs.server.URL,
	}, deps)
	require.NoError(t, err)
	return p
}

func TestGiteaContract(t *testing.T) {
	gs := newGiteaServer(t)
	var deps providers.Deps

	provider.RunContractTests(t, provider.ContractTest{
		CreateProvider: func(t *testing.T) provider.Provider {
			deps, _ = testDeps(t)
			return gs.provider(t, deps)
		},
		StoredCredential: func(t *testing.T, p provider.Provider) bool {
			_, ok, err := deps.Tokens.Retrieve(p.Scope(), "gopher")
			require.NoError(t, err)
			return ok
		},
	})
}

func TestGiteaKeyLifecycle(t *testing.T) {
	t.Parallel()

	gs := newGiteaServer(t)
	deps, _ := testDeps(t)
	p := gs.provider(t, deps)
	ctx := context.Background()

	require.NoError(t, p.Authenticate(ctx))
	assert.Equal(t, "gopher", p.Account())
	assert.Equal(t, "gitea:"+gs.server.URL, p.Scope())

	key := publicKey(t, "ed25519", "")
	require.NoError(t, p.DeployKey(ctx, key, "workstation"))

	keys, err := p.ListKeys(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "1", keys[0].ID)
	assert.Equal(t, "workstation", keys[0].Title)
	assert.Equal(t, provider.KeyTypeEd25519, keys[0].KeyType)
	assert.NotEqual(t, "SHA256:server-1", keys[0].Fingerprint, "a parsable key is fingerprinted locally")

	require.NoError(t, p.RemoveKey(ctx, "1"))
	assert.ErrorIs(t, p.RemoveKey(ctx, "1"), provider.ErrNotFound)
}

func TestGiteaListPages(t *testing.T) {
	t.Parallel()

	gs := newGiteaServer(t)
	for i := 0; i < 51; i++ {
		gs.add(fmt.Sprintf("key-%d", i), "opaque")
	}
	deps, _ := testDeps(t)
	p := gs.provider(t, deps)
	ctx := context.Background()
	require.NoError(t, p.Authenticate(ctx))

	keys, err := p.ListKeys(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 51)
	assert.Equal(t, "key-50", keys[50].Title)
	assert.Equal(t, "SHA256:server-51", keys[50].Fingerprint, "unparsable keys keep the server fingerprint")
}

func TestGiteaRequiresInstance(t *testing.T) {
	t.Parallel()

	deps, _ := testDeps(t)
	_, err := providers.NewGiteaProvider(providers.GiteaConfig{}, deps)
	assert.ErrorIs(t, err, provider.ErrInvalidFormat)
	assert.Contains(t, err.Error(), "gitea-instance-url")
}

func TestGiteaUnauthenticatedMakesNoRequests(t *testing.T) {
	t.Parallel()

	gs := newGiteaServer(t)
	deps, _ := testDeps(t)
	p := gs.provider(t, deps)
	ctx := context.Background()

	_, err := p.ListKeys(ctx)
	assert.ErrorIs(t, err, provider.ErrNotAuthenticated)
	assert.ErrorIs(t, p.DeployKey(ctx, publicKey(t, "ed25519", ""), "x"), provider.ErrNotAuthenticated)
	assert.ErrorIs(t, p.RemoveKey(ctx, "1"), provider.ErrNotAuthenticated)
	assert.Equal(t, 0, gs.requestCount())
}
