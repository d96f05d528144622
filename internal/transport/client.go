// Package transport is the HTTP layer shared by provider adapters.
//
// Requests are never retried. Non-2xx responses become *StatusError and
// context cancellation becomes provider.ErrCancelled so adapters can map
// failures onto the provider error taxonomy with errors.Is.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/systmms/keysync/internal/logging"
	"github.com/systmms/keysync/pkg/provider"
)

// DefaultTimeout bounds every request made through a default client.
const DefaultTimeout = 30 * time.Second

// maxBody caps how much of a response is buffered.
const maxBody = 4 << 20

// Doer executes a single HTTP request. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Client issues requests relative to a base URL.
type Client struct {
	doer        Doer
	baseURL     string
	serviceName string
	logger      *logging.Logger

	// beforeRequest is called before each request (for auth headers, etc.)
	beforeRequest func(req *http.Request) error
}

// ClientConfig holds configuration for Client.
type ClientConfig struct {
	Doer          Doer
	BaseURL       string
	ServiceName   string
	Logger        *logging.Logger
	BeforeRequest func(req *http.Request) error
}

// NewClient creates a new Client with the given configuration.
func NewClient(cfg ClientConfig) *Client {
	c := &Client{
		doer:          cfg.Doer,
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		serviceName:   cfg.ServiceName,
		logger:        cfg.Logger,
		beforeRequest: cfg.BeforeRequest,
	}
	if c.doer == nil {
		c.doer = NewHTTPClient(c.logger)
	}
	if c.logger == nil {
		c.logger = logging.Discard()
	}
	return c
}

// BaseURL returns the URL paths are resolved against.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Do sends a request and reads the whole response. Any status outside 2xx is
// returned as a *StatusError together with the response.
func (c *Client) Do(ctx context.Context, method, path string, body []byte, headers map[string]string) (*Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if c.beforeRequest != nil {
		if err := c.beforeRequest(req); err != nil {
			return nil, err
		}
	}

	resp, err := c.doer.Do(req)
	if err != nil {
		return nil, c.requestError(ctx, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, c.requestError(ctx, err)
	}

	out := &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return out, newStatusError(c.serviceName, method, path, out)
	}
	return out, nil
}

// GetJSON performs a GET request and decodes the response into result.
func (c *Client) GetJSON(ctx context.Context, path string, result any) error {
	resp, err := c.Do(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return err
	}
	return c.decode(resp, result)
}

// PostJSON performs a POST request with a JSON body and decodes the response
// into result, which may be nil.
func (c *Client) PostJSON(ctx context.Context, path string, body, result any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request body: %w", err)
	}
	resp, err := c.Do(ctx, http.MethodPost, path, data, map[string]string{"Content-Type": "application/json"})
	if err != nil {
		return err
	}
	return c.decode(resp, result)
}

// Delete performs a DELETE request.
func (c *Client) Delete(ctx context.Context, path string) error {
	_, err := c.Do(ctx, http.MethodDelete, path, nil, nil)
	return err
}

func (c *Client) decode(resp *Response, result any) error {
	if result == nil || len(resp.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body, result); err != nil {
		return fmt.Errorf("decode %s response: %w", c.serviceName, err)
	}
	return nil
}

func (c *Client) requestError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s request %w: %v", c.serviceName, provider.ErrCancelled, ctxErr)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s request %w: %v", c.serviceName, provider.ErrCancelled, err)
	}
	return fmt.Errorf("%s request failed: %w", c.serviceName, err)
}

// NewHTTPClient returns an *http.Client with DefaultTimeout whose transport
// logs each exchange at debug level. SDK clients are built on top of it.
func NewHTTPClient(logger *logging.Logger) *http.Client {
	return &http.Client{
		Timeout:   DefaultTimeout,
		Transport: &LoggingTransport{Base: http.DefaultTransport, Logger: logger},
	}
}

// LoggingTransport logs method, URL and status of each request. Headers and
// bodies are never logged.
type LoggingTransport struct {
	Base   http.RoundTripper
	Logger *logging.Logger
}

// RoundTrip implements http.RoundTripper.
func (t *LoggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	start := time.Now()
	resp, err := base.RoundTrip(req)
	if err != nil {
		t.Logger.Debug("%s %s failed after %s: %v", req.Method, redactURL(req), time.Since(start), err)
		return nil, err
	}
	t.Logger.Debug("%s %s -> %d (%s)", req.Method, redactURL(req), resp.StatusCode, time.Since(start).Round(time.Millisecond))
	return resp, nil
}

// redactURL drops the query string, which may carry codes or tokens.
func redactURL(req *http.Request) string {
	u := *req.URL
	if u.RawQuery != "" {
		u.RawQuery = "REDACTED"
	}
	u.User = nil
	return u.String()
}
