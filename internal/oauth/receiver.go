package oauth

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"strconv"
	"sync"
	"syscall"
	"time"
)

// DefaultPort is the fixed loopback port registered as the redirect URI with
// every OAuth application.
const DefaultPort = 8085

// ErrFlowInProgress is returned when the callback port is already bound,
// normally by another sign-in started from this machine.
var ErrFlowInProgress = errors.New("another sign-in is already in progress")

// ReceiverConfig holds configuration for the callback receiver.
type ReceiverConfig struct {
	// BindAddress is the interface to listen on. Loopback by default; the
	// wildcard address keeps the receiver reachable from sandboxed browsers.
	BindAddress string

	// Port is the port to listen on. Zero picks a free port.
	Port int

	// Path is the callback path, "/callback" by default.
	Path string

	// ProviderName is shown on the result pages.
	ProviderName string

	// SuccessPage and ErrorPage are rendered with a pageData value.
	SuccessPage *template.Template
	ErrorPage   *template.Template
}

// DefaultReceiverConfig returns the loopback receiver configuration.
func DefaultReceiverConfig() ReceiverConfig {
	return ReceiverConfig{
		BindAddress: "127.0.0.1",
		Port:        DefaultPort,
		Path:        "/callback",
		SuccessPage: successPage,
		ErrorPage:   errorPage,
	}
}

// Callback is the query of the single redirect a receiver accepts.
type Callback struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// Receiver is a short-lived HTTP listener that captures exactly one
// authorization redirect and then stops accepting callbacks.
type Receiver struct {
	config   ReceiverConfig
	listener net.Listener
	server   *http.Server

	result  chan Callback
	once    sync.Once
	stopped sync.Once
}

// NewReceiver creates a receiver. Missing fields take their defaults.
func NewReceiver(config ReceiverConfig) *Receiver {
	def := DefaultReceiverConfig()
	if config.BindAddress == "" {
		config.BindAddress = def.BindAddress
	}
	if config.Path == "" {
		config.Path = def.Path
	}
	if config.SuccessPage == nil {
		config.SuccessPage = def.SuccessPage
	}
	if config.ErrorPage == nil {
		config.ErrorPage = def.ErrorPage
	}
	return &Receiver{
		config: config,
		result: make(chan Callback, 1),
	}
}

// Start binds the listener and begins serving in the background.
func (r *Receiver) Start() error {
	addr := net.JoinHostPort(r.config.BindAddress, strconv.Itoa(r.config.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			return fmt.Errorf("%w: port %d: %v", ErrFlowInProgress, r.config.Port, err)
		}
		return fmt.Errorf("failed to start callback receiver on %s: %w", addr, err)
	}
	r.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc(r.config.Path, r.handleCallback)

	r.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	go func() {
		_ = r.server.Serve(ln)
	}()
	return nil
}

// RedirectURL is the redirect URI to register with the authorization request.
// It always names the loopback address, also for a wildcard bind.
func (r *Receiver) RedirectURL() string {
	port := r.config.Port
	if r.listener != nil {
		if tcp, ok := r.listener.Addr().(*net.TCPAddr); ok {
			port = tcp.Port
		}
	}
	return fmt.Sprintf("http://127.0.0.1:%d%s", port, r.config.Path)
}

// Wait blocks until a callback arrives or ctx is done.
func (r *Receiver) Wait(ctx context.Context) (Callback, error) {
	select {
	case cb := <-r.result:
		return cb, nil
	case <-ctx.Done():
		return Callback{}, ctx.Err()
	}
}

// Stop shuts the listener down. It is safe to call more than once.
func (r *Receiver) Stop(ctx context.Context) error {
	var err error
	r.stopped.Do(func() {
		if r.server != nil {
			err = r.server.Shutdown(ctx)
		}
	})
	return err
}

func (r *Receiver) handleCallback(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	cb := Callback{
		Code:             q.Get("code"),
		State:            q.Get("state"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	}

	if cb.Code == "" && cb.Error == "" {
		http.Error(w, "missing code or error parameter", http.StatusBadRequest)
		return
	}

	accepted := false
	r.once.Do(func() {
		r.result <- cb
		accepted = true
	})
	if !accepted {
		http.Error(w, "this sign-in has already completed", http.StatusGone)
		return
	}

	page := r.config.SuccessPage
	data := pageData{Provider: r.config.ProviderName}
	if cb.Error != "" {
		page = r.config.ErrorPage
		data.Error = cb.Error
		data.Description = cb.ErrorDescription
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = page.Execute(w, data)
}
