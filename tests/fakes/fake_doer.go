package fakes

import (
	"bytes"
	"io"
	"net/http"
	"sync"

	"github.com/systmms/keysync/internal/transport"
)

// FakeDoer is a transport.Doer that answers from a handler and records each
// request body.
type FakeDoer struct {
	mu       sync.Mutex
	calls    int
	requests []*http.Request
	bodies   [][]byte

	// Handler produces the response; a nil handler answers 200 with an
	// empty body.
	Handler func(req *http.Request, body []byte) (*http.Response, error)
}

// NewFakeDoer creates a FakeDoer answering with handler.
func NewFakeDoer(handler func(req *http.Request, body []byte) (*http.Response, error)) *FakeDoer {
	return &FakeDoer{Handler: handler}
}

// Do implements transport.Doer.
func (f *FakeDoer) Do(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		body, _ = io.ReadAll(req.Body)
		req.Body.Close()
	}

	f.mu.Lock()
	f.calls++
	f.requests = append(f.requests, req)
	f.bodies = append(f.bodies, body)
	handler := f.Handler
	f.mu.Unlock()

	if handler == nil {
		return Respond(http.StatusOK, ""), nil
	}
	return handler(req, body)
}

// Calls returns the number of requests sent.
func (f *FakeDoer) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Request returns the i-th request and its body.
func (f *FakeDoer) Request(i int) (*http.Request, []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[i], f.bodies[i]
}

// Respond builds a response with the given status and body.
func Respond(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Header:     make(http.Header),
		Body:       io.NopCloser(bytes.NewBufferString(body)),
	}
}

var _ transport.Doer = (*FakeDoer)(nil)
