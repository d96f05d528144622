// Package provider defines the contract shared by every remote account service
// that keysync can publish SSH public keys to.
//
// A provider is one remote service (GitHub, GitLab, Gitea, Bitbucket, AWS IAM,
// Google Cloud OS Login) capable of hosting a user's public keys. The set of
// providers is closed and fixed at compile time; see Identity.
//
// # Lifecycle
//
// A freshly constructed provider is never authenticated. Authenticate either
// runs an interactive OAuth2 authorization-code flow or validates configured
// API credentials, resolves the remote account identifier, and persists the
// resulting credentials. Disconnect clears in-memory state and, for every
// provider except GCP, deletes the persisted credentials as well.
//
//	p, _ := registry.Get(provider.GitHub)
//	if !p.IsAuthenticated() {
//	    if err := p.Authenticate(ctx); err != nil {
//	        return err
//	    }
//	}
//	keys, err := p.ListKeys(ctx)
//
// # Error Handling
//
// Providers normalise remote failures into the taxonomy defined in errors.go.
// Callers match with errors.Is against the sentinel kinds:
//
//	if errors.Is(err, provider.ErrNotAuthenticated) {
//	    // prompt for login
//	}
//
// # Concurrency
//
// A single provider instance is not required to be safe for concurrent use.
// Callers serialise operations per instance (internal/providers.Guard does this).
// Only one OAuth authorization flow may run per process because every flow
// binds the same loopback callback port.
package provider
