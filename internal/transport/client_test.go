package transport_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/keysync/internal/transport"
	"github.com/systmms/keysync/pkg/provider"
)

func TestClientGetJSON(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/user", r.URL.Path)
		assert.Equal(t, "token abc", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"login":"alice"}`)
	}))
	defer server.Close()

	client := transport.NewClient(transport.ClientConfig{
		Doer:        server.Client(),
		BaseURL:     server.URL + "/",
		ServiceName: "gitea",
		BeforeRequest: func(req *http.Request) error {
			req.Header.Set("Authorization", "token abc")
			return nil
		},
	})

	var user struct {
		Login string `json:"login"`
	}
	require.NoError(t, client.GetJSON(context.Background(), "/api/v1/user", &user))
	assert.Equal(t, "alice", user.Login)
}

func TestClientPostJSON(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"title":"laptop","key":"ssh-ed25519 AAAA"}`, string(body))
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"id":7}`)
	}))
	defer server.Close()

	client := transport.NewClient(transport.ClientConfig{Doer: server.Client(), BaseURL: server.URL})

	var created struct {
		ID int `json:"id"`
	}
	err := client.PostJSON(context.Background(), "/keys", map[string]string{"title": "laptop", "key": "ssh-ed25519 AAAA"}, &created)
	require.NoError(t, err)
	assert.Equal(t, 7, created.ID)
}

func TestClientStatusError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		body    string
		message string
	}{
		{"json message", http.StatusNotFound, `{"message":"Not Found"}`, "Not Found"},
		{"oauth error", http.StatusBadRequest, `{"error":"invalid_grant","error_description":"expired"}`, "invalid_grant: expired"},
		{"nested error", http.StatusForbidden, `{"type":"error","error":{"message":"Access denied"}}`, "Access denied"},
		{"list", http.StatusUnprocessableEntity, `{"message":["key is invalid","title missing"]}`, "key is invalid; title missing"},
		{"plain text", http.StatusBadGateway, `upstream down`, "Bad Gateway"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer server.Close()

			client := transport.NewClient(transport.ClientConfig{Doer: server.Client(), BaseURL: server.URL, ServiceName: "test"})
			err := client.Delete(context.Background(), "/thing")

			var se *transport.StatusError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.status, se.StatusCode)
			assert.Equal(t, tt.message, se.Message)
			assert.Equal(t, "/thing", se.Endpoint)
			assert.Equal(t, tt.body, string(se.Body))
		})
	}
}

func TestClientCancelled(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	client := transport.NewClient(transport.ClientConfig{Doer: server.Client(), BaseURL: server.URL})

	errCh := make(chan error, 1)
	go func() {
		_, err := client.Do(ctx, http.MethodGet, "/slow", nil, nil)
		errCh <- err
	}()
	cancel()

	err := <-errCh
	assert.ErrorIs(t, err, provider.ErrCancelled)
}

type failingDoer struct{}

func (failingDoer) Do(*http.Request) (*http.Response, error) {
	return nil, errors.New("dial tcp: connection refused")
}

func TestClientNetworkError(t *testing.T) {
	t.Parallel()

	client := transport.NewClient(transport.ClientConfig{Doer: failingDoer{}, BaseURL: "https://example.invalid", ServiceName: "gitea"})
	err := client.GetJSON(context.Background(), "/", nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, provider.ErrCancelled)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestBeforeRequestErrorStopsRequest(t *testing.T) {
	t.Parallel()

	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { calls++ }))
	defer server.Close()

	client := transport.NewClient(transport.ClientConfig{
		Doer:          server.Client(),
		BaseURL:       server.URL,
		BeforeRequest: func(*http.Request) error { return provider.ErrNotAuthenticated },
	})
	err := client.GetJSON(context.Background(), "/", nil)
	assert.ErrorIs(t, err, provider.ErrNotAuthenticated)
	assert.Zero(t, calls)
}
