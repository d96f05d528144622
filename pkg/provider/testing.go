package provider

import (
	"context"
	"testing"
	"time"
)

// ContractTest defines the lifecycle checks every provider must pass.
type ContractTest struct {
	// CreateProvider returns a new, unauthenticated provider instance.
	CreateProvider func(t *testing.T) Provider

	// Authenticate drives a simulated successful authentication. When nil
	// the provider's own Authenticate method is called.
	Authenticate func(t *testing.T, p Provider) error

	// StoredCredential reports whether persisted credentials for p can
	// still be retrieved. Used to check Disconnect's retention policy.
	StoredCredential func(t *testing.T, p Provider) bool

	// RetainsCredentials is true for providers whose Disconnect keeps the
	// persisted token so that a later session can be restored silently.
	RetainsCredentials bool
}

// RunContractTests runs the standard provider contract test suite
func RunContractTests(t *testing.T, contract ContractTest) {
	t.Run("Contract", func(t *testing.T) {
		t.Run("Identity", func(t *testing.T) {
			testProviderIdentity(t, contract)
		})

		t.Run("Lifecycle", func(t *testing.T) {
			testProviderLifecycle(t, contract)
		})

		t.Run("RequiresAuthentication", func(t *testing.T) {
			testProviderRequiresAuthentication(t, contract)
		})
	})
}

func testProviderIdentity(t *testing.T, contract ContractTest) {
	p := contract.CreateProvider(t)

	if _, err := ParseIdentity(string(p.Identity())); err != nil {
		t.Errorf("Provider.Identity() returned unknown identity %q", p.Identity())
	}
	if p.Name() == "" {
		t.Error("Provider.Name() returned empty string")
	}
	if p.Scope() == "" {
		t.Error("Provider.Scope() returned empty string")
	}
	if p.Name() != p.Name() || p.Scope() != p.Scope() {
		t.Error("Provider.Name()/Scope() not stable between calls")
	}
}

func testProviderLifecycle(t *testing.T, contract ContractTest) {
	p := contract.CreateProvider(t)

	if p.IsAuthenticated() {
		t.Fatal("Provider.IsAuthenticated() is true immediately after construction")
	}

	authenticate := contract.Authenticate
	if authenticate == nil {
		authenticate = func(t *testing.T, p Provider) error {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return p.Authenticate(ctx)
		}
	}
	if err := authenticate(t, p); err != nil {
		t.Fatalf("Authenticate() failed: %v", err)
	}
	if !p.IsAuthenticated() {
		t.Fatal("Provider.IsAuthenticated() is false after successful Authenticate()")
	}
	if contract.StoredCredential != nil && !contract.StoredCredential(t, p) {
		t.Error("credentials were not persisted by Authenticate()")
	}

	if err := p.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect() failed: %v", err)
	}
	if p.IsAuthenticated() {
		t.Error("Provider.IsAuthenticated() is true after Disconnect()")
	}

	if contract.StoredCredential != nil {
		stored := contract.StoredCredential(t, p)
		if contract.RetainsCredentials && !stored {
			t.Error("Disconnect() deleted credentials that should be retained")
		}
		if !contract.RetainsCredentials && stored {
			t.Error("Disconnect() left credentials in token storage")
		}
	}
}

func testProviderRequiresAuthentication(t *testing.T, contract ContractTest) {
	p := contract.CreateProvider(t)

	_, err := p.ListKeys(context.Background())
	if err == nil {
		t.Fatal("ListKeys() succeeded on an unauthenticated provider")
	}
	if KindOf(err) != ErrNotAuthenticated {
		t.Errorf("ListKeys() error kind = %v, want ErrNotAuthenticated (%v)", KindOf(err), err)
	}
}
