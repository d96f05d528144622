package errors

import (
	"errors"
	"fmt"
	"strings"

	"github.com/systmms/keysync/pkg/provider"
)

// UserError represents an error that should be shown to the user with helpful context
type UserError struct {
	Message    string
	Suggestion string
	Details    string
	Err        error
}

func (e UserError) Error() string {
	var parts []string

	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}

	if e.Details != "" {
		parts = append(parts, "\n  Details: "+e.Details)
	}

	if e.Suggestion != "" {
		parts = append(parts, "\n  💡 Try: "+e.Suggestion)
	}

	return strings.Join(parts, "")
}

func (e UserError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error with helpful context
type ConfigError struct {
	Field      string
	Value      interface{}
	Message    string
	Suggestion string
}

func (e ConfigError) Error() string {
	msg := "Configuration error"
	if e.Field != "" {
		msg += fmt.Sprintf(" in field '%s'", e.Field)
	}
	if e.Value != nil {
		msg += fmt.Sprintf(" (value: %v)", e.Value)
	}
	msg += ": " + e.Message

	if e.Suggestion != "" {
		msg += "\n  💡 " + e.Suggestion
	}

	return msg
}

// ProviderError enhances a normalised provider error with a suggestion the
// user can act on without consulting logs.
func ProviderError(id provider.Identity, operation string, err error) error {
	if err == nil {
		return nil
	}
	return UserError{
		Message:    fmt.Sprintf("%s %s failed", id.DisplayName(), operation),
		Details:    err.Error(),
		Suggestion: getProviderSuggestion(id, err),
		Err:        err,
	}
}

// getProviderSuggestion returns helpful suggestions based on provider and error
func getProviderSuggestion(id provider.Identity, err error) string {
	login := fmt.Sprintf("keysync login %s", id)

	switch provider.KindOf(err) {
	case provider.ErrNotAuthenticated:
		return "Run '" + login + "' to connect your account"
	case provider.ErrInvalidCredentialFormat:
		if id == provider.AWS {
			return "Access key ids start with AKIA or ASIA and secret keys are 40 characters long"
		}
		return "Check the credentials you entered"
	case provider.ErrInvalidCredential:
		return "The credentials were rejected. Create a new key pair and run '" + login + "' again"
	case provider.ErrPermissionDenied:
		if id == provider.AWS {
			return "Grant iam:GetUser, iam:ListSSHPublicKeys, iam:UploadSSHPublicKey and iam:DeleteSSHPublicKey to this user"
		}
		return "Check that the granted scopes allow managing SSH keys"
	case provider.ErrQuotaExceeded:
		return "Remove an existing key before uploading a new one"
	case provider.ErrUnsupportedKeyType:
		return "Generate an RSA key with 'ssh-keygen -t rsa -b 4096'"
	case provider.ErrBrowserLaunch:
		return "Make sure a default web browser is configured"
	case provider.ErrTimeout:
		return "Complete the sign-in in your browser within 60 seconds, then retry"
	case provider.ErrCancelled:
		return ""
	case provider.ErrNotFound:
		return "Run 'keysync keys list " + string(id) + " --refresh' to see current key ids"
	}

	errStr := strings.ToLower(err.Error())
	if strings.Contains(errStr, "address already in use") {
		return "Another sign-in is in progress. Finish or wait for it before starting a new one"
	}
	if strings.Contains(errStr, "connection refused") || strings.Contains(errStr, "no such host") {
		return "Unable to connect. Check your network and provider configuration"
	}

	return ""
}

// SimplifyError simplifies complex error messages for users
func SimplifyError(err error) error {
	if err == nil {
		return nil
	}

	// Already a user-friendly error
	var userErr UserError
	if errors.As(err, &userErr) {
		return err
	}
	var cfgErr ConfigError
	if errors.As(err, &cfgErr) {
		return err
	}

	// Unwrap to get the root cause
	rootErr := err
	for {
		unwrapped := errors.Unwrap(rootErr)
		if unwrapped == nil {
			break
		}
		rootErr = unwrapped
	}

	errStr := rootErr.Error()

	if strings.Contains(errStr, "yaml:") {
		return ConfigError{
			Message:    "Invalid YAML format",
			Suggestion: "Check for indentation errors and missing quotes",
		}
	}

	if strings.Contains(errStr, "permission denied") {
		return UserError{
			Message:    "Permission denied",
			Suggestion: "Check file permissions or run with appropriate privileges",
			Err:        err,
		}
	}

	// Return original error if we can't simplify it
	return err
}
