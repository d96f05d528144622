package provider

import (
	"errors"
	"fmt"
)

// Error kinds shared by all providers. Every error returned from a Provider
// method matches exactly one of these with errors.Is.
var (
	ErrInvalidCredentialFormat = errors.New("invalid credential format")
	ErrBrowserLaunch           = errors.New("failed to launch browser")
	ErrTimeout                 = errors.New("timed out")
	ErrOAuth                   = errors.New("oauth error")
	ErrNotAuthenticated        = errors.New("not authenticated")
	ErrAPI                     = errors.New("api error")
	ErrPermissionDenied        = errors.New("permission denied")
	ErrInvalidCredential       = errors.New("invalid credential")
	ErrNotFound                = errors.New("not found")
	ErrQuotaExceeded           = errors.New("quota exceeded")
	ErrUnsupportedKeyType      = errors.New("unsupported key type")
	ErrInvalidFormat           = errors.New("invalid format")
	ErrCancelled               = errors.New("cancelled")
)

// Error is the normalised failure returned at the provider boundary.
//
// Kind is one of the sentinel errors above. Message is human readable and
// safe to show to the user. Err, when present, is the underlying cause.
type Error struct {
	Kind     error
	Provider Identity
	Op       string
	Message  string
	Err      error
}

// NewError builds an Error of the given kind.
func NewError(kind error, id Identity, op, message string) *Error {
	return &Error{Kind: kind, Provider: id, Op: op, Message: message}
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.Error()
		if e.Err != nil {
			msg += ": " + e.Err.Error()
		}
	}
	switch {
	case e.Provider != "" && e.Op != "":
		return fmt.Sprintf("%s %s: %s", e.Provider.DisplayName(), e.Op, msg)
	case e.Provider != "":
		return fmt.Sprintf("%s: %s", e.Provider.DisplayName(), msg)
	default:
		return msg
	}
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// WithCause returns a copy of e with Err set.
func (e *Error) WithCause(err error) *Error {
	cp := *e
	cp.Err = err
	return &cp
}

// OAuthError carries an error code reported by an OAuth2 authorization or
// token endpoint, such as "access_denied" or "state_mismatch".
type OAuthError struct {
	Code        string
	Description string
}

// Error implements the error interface.
func (e *OAuthError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("oauth error %s: %s", e.Code, e.Description)
	}
	return "oauth error " + e.Code
}

// Is matches ErrOAuth.
func (e *OAuthError) Is(target error) bool {
	return target == ErrOAuth
}

// KindOf returns the sentinel kind of err, or nil when err is not part of the
// taxonomy.
func KindOf(err error) error {
	for _, kind := range []error{
		ErrInvalidCredentialFormat, ErrBrowserLaunch, ErrTimeout, ErrOAuth,
		ErrNotAuthenticated, ErrPermissionDenied, ErrInvalidCredential,
		ErrNotFound, ErrQuotaExceeded, ErrUnsupportedKeyType, ErrInvalidFormat,
		ErrCancelled, ErrAPI,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
