package provider

import (
	"context"
	"fmt"
	"time"
)

// Identity names one of the supported remote account services.
//
// The string form is stable: it is used as a persistence key prefix for
// settings and secrets as well as the CLI argument selecting a provider.
type Identity string

const (
	GitHub    Identity = "github"
	GitLab    Identity = "gitlab"
	Gitea     Identity = "gitea"
	Bitbucket Identity = "bitbucket"
	AWS       Identity = "aws"
	GCP       Identity = "gcp"
)

// Identities returns every supported identity in display order.
func Identities() []Identity {
	return []Identity{GitHub, GitLab, Gitea, Bitbucket, AWS, GCP}
}

// ParseIdentity converts a user supplied name into an Identity.
func ParseIdentity(s string) (Identity, error) {
	for _, id := range Identities() {
		if string(id) == s {
			return id, nil
		}
	}
	return "", fmt.Errorf("unknown provider %q", s)
}

// String implements fmt.Stringer.
func (i Identity) String() string {
	return string(i)
}

// DisplayName returns the human readable label for the identity.
func (i Identity) DisplayName() string {
	switch i {
	case GitHub:
		return "GitHub"
	case GitLab:
		return "GitLab"
	case Gitea:
		return "Gitea"
	case Bitbucket:
		return "Bitbucket"
	case AWS:
		return "AWS"
	case GCP:
		return "Google Cloud"
	default:
		return string(i)
	}
}

// SelfHostable reports whether the service may run on a user chosen host.
// Scopes and display names of self-hostable providers include the instance.
func (i Identity) SelfHostable() bool {
	return i == GitLab || i == Gitea
}

// KeyType is the public key algorithm family of a remote key.
type KeyType string

const (
	KeyTypeRSA     KeyType = "RSA"
	KeyTypeEd25519 KeyType = "Ed25519"
	KeyTypeECDSA   KeyType = "ECDSA"
)

// KeyMetadata is an immutable snapshot of one key as recorded by the remote
// service. It is rebuilt on every successful ListKeys call.
type KeyMetadata struct {
	// ID is the provider-native identifier: a numeric string, a UUID or a
	// fingerprint depending on the provider. It is the value RemoveKey accepts.
	ID string `json:"id"`

	// Title is the label shown by the remote service.
	Title string `json:"title"`

	Fingerprint string     `json:"fingerprint,omitempty"`
	KeyType     KeyType    `json:"key_type,omitempty"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`
	LastUsed    *time.Time `json:"last_used,omitempty"`
}

// Provider is the contract every remote account service implements.
type Provider interface {
	// Identity returns the provider kind. It never changes for an instance.
	Identity() Identity

	// Name returns the display label. Self-hosted instances include their host.
	Name() string

	// Scope returns the namespace string used for persisted secrets and cached
	// key listings ("gitlab:https://git.example.com"). Two instances of the
	// same kind pointing at different hosts never share a scope.
	Scope() string

	// Authenticate establishes or validates credentials. On success the
	// account identifier has been resolved remotely and the credentials have
	// been persisted to token storage.
	Authenticate(ctx context.Context) error

	// ListKeys returns the keys currently registered with the remote account.
	ListKeys(ctx context.Context) ([]KeyMetadata, error)

	// DeployKey uploads an authorized_keys formatted public key.
	DeployKey(ctx context.Context, publicKey, title string) error

	// RemoveKey deletes the key with the given provider-native id.
	RemoveKey(ctx context.Context, id string) error

	// IsAuthenticated inspects in-memory state only. It performs no I/O.
	IsAuthenticated() bool

	// Disconnect clears in-memory credentials and deletes persisted ones
	// unless the provider documents a retention policy.
	Disconnect(ctx context.Context) error
}

// SessionRestorer is implemented by providers that can reload previously
// persisted credentials without user interaction.
//
// TryRestoreSession returns true when a stored session was loaded. A missing
// session is not an error.
type SessionRestorer interface {
	TryRestoreSession(ctx context.Context) (bool, error)
}

// AccountIdentifier is implemented by providers that expose the resolved
// remote account name once authenticated.
type AccountIdentifier interface {
	Account() string
}
