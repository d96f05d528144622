package providers

import (
	"context"
	"errors"
	"net/http"

	"github.com/systmms/keysync/internal/oauth"
	"github.com/systmms/keysync/internal/transport"
	"github.com/systmms/keysync/pkg/provider"
)

// Operation names used in errors and metrics.
const (
	opAuthenticate = "authenticate"
	opRestore      = "restore session"
	opListKeys     = "list keys"
	opDeployKey    = "deploy key"
	opRemoveKey    = "remove key"
	opDisconnect   = "disconnect"
)

func notAuthenticated(id provider.Identity, op string) error {
	return provider.NewError(provider.ErrNotAuthenticated, id, op,
		"not signed in; run 'keysync login "+string(id)+"'")
}

// statusKind maps an HTTP status onto the shared taxonomy.
func statusKind(status int) error {
	switch status {
	case http.StatusUnauthorized:
		return provider.ErrNotAuthenticated
	case http.StatusForbidden:
		return provider.ErrPermissionDenied
	case http.StatusNotFound, http.StatusGone:
		return provider.ErrNotFound
	default:
		return provider.ErrAPI
	}
}

// statusFunc extracts the HTTP status carried by an SDK specific error type.
type statusFunc func(err error) (status int, message string, ok bool)

// wrapError normalises err at the provider boundary. SDK adapters pass
// their own status extractor; transport errors are always understood.
func wrapError(id provider.Identity, op string, err error, sdk statusFunc) error {
	if err == nil {
		return nil
	}

	var pe *provider.Error
	if errors.As(err, &pe) {
		return err
	}

	if errors.Is(err, provider.ErrCancelled) || errors.Is(err, context.Canceled) {
		return provider.NewError(provider.ErrCancelled, id, op, "operation cancelled").WithCause(err)
	}

	var oe *provider.OAuthError
	if errors.As(err, &oe) {
		return provider.NewError(provider.ErrOAuth, id, op, oe.Error()).WithCause(err)
	}

	for _, kind := range []error{provider.ErrBrowserLaunch, provider.ErrTimeout} {
		if errors.Is(err, kind) {
			return provider.NewError(kind, id, op, "").WithCause(err)
		}
	}

	if errors.Is(err, oauth.ErrFlowInProgress) {
		return provider.NewError(provider.ErrAPI, id, op, "").WithCause(err)
	}

	var se *transport.StatusError
	if errors.As(err, &se) {
		return provider.NewError(statusKind(se.StatusCode), id, op, se.Message).WithCause(err)
	}

	if sdk != nil {
		if status, msg, ok := sdk(err); ok {
			return provider.NewError(statusKind(status), id, op, msg).WithCause(err)
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return provider.NewError(provider.ErrAPI, id, op, "request timed out").WithCause(err)
	}

	return provider.NewError(provider.ErrAPI, id, op, "").WithCause(err)
}
