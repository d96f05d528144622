package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/systmms/keysync/internal/cache"
	"github.com/systmms/keysync/internal/config"
	dserrors "github.com/systmms/keysync/internal/errors"
	"github.com/systmms/keysync/internal/logging"
	"github.com/systmms/keysync/internal/metrics"
	"github.com/systmms/keysync/internal/providers"
	"github.com/systmms/keysync/internal/secretstore"
	"github.com/systmms/keysync/internal/tokens"
	"github.com/systmms/keysync/pkg/provider"
)

// runtime lazily assembles the key service for one command invocation.
type runtime struct {
	cfg *config.Config

	// Overrides used in tests; nil selects the real implementation.
	store       secretstore.Store
	registry    *providers.Registry
	openBrowser func(url string) error
	stderr      io.Writer

	service *providers.KeyService
	skipped map[provider.Identity]error
}

func newRuntime(cfg *config.Config) *runtime {
	return &runtime{cfg: cfg}
}

func (rt *runtime) logger() *logging.Logger {
	if rt.cfg.Logger == nil {
		rt.cfg.Logger = logging.New(false, false)
	}
	return rt.cfg.Logger
}

// settings loads the settings file without touching the secret store.
func (rt *runtime) settings() (*config.Settings, error) {
	if err := rt.cfg.Load(); err != nil {
		return nil, err
	}
	return rt.cfg.Settings, nil
}

// load builds the registry and key service and restores stored sessions.
func (rt *runtime) load(ctx context.Context) (*providers.KeyService, error) {
	if rt.service != nil {
		return rt.service, nil
	}
	settings, err := rt.settings()
	if err != nil {
		return nil, err
	}
	logger := rt.logger()

	store := rt.store
	if store == nil {
		store = secretstore.NewKeyring()
	}
	deps := providers.Deps{
		Tokens:      tokens.NewStorage(store, logger),
		Settings:    settings,
		Logger:      logger,
		OpenBrowser: rt.browser(),
	}

	registry := rt.registry
	if registry == nil {
		registry, rt.skipped = providers.NewFactory(deps).NewRegistry()
		for id, err := range rt.skipped {
			logger.Debug("Skipping %s: %v", id.DisplayName(), err)
		}
	}

	keyCache := cache.New(settings, cache.WithLogger(logger))
	rt.service = providers.NewKeyService(registry, keyCache, metrics.NewProviderMetrics(), logger)
	rt.service.RestoreSessions(ctx)
	return rt.service, nil
}

// browser returns the URL opener. In non-interactive mode the URL is
// printed instead of launched.
func (rt *runtime) browser() func(string) error {
	if rt.openBrowser != nil {
		return rt.openBrowser
	}
	if !rt.cfg.NonInteractive {
		return nil
	}
	return func(url string) error {
		_, err := fmt.Fprintf(rt.errOut(), "Open this URL to sign in:\n  %s\n", url)
		return err
	}
}

func (rt *runtime) errOut() io.Writer {
	if rt.stderr != nil {
		return rt.stderr
	}
	return os.Stderr
}

// provider resolves a registered provider, explaining why an unconfigured
// one is missing.
func (rt *runtime) provider(ctx context.Context, id provider.Identity) (*providers.KeyService, provider.Provider, error) {
	svc, err := rt.load(ctx)
	if err != nil {
		return nil, nil, err
	}
	p, err := svc.Provider(id)
	if err == nil {
		return svc, p, nil
	}
	if reason, ok := rt.skipped[id]; ok {
		return nil, nil, notConfigured(id, reason)
	}
	return nil, nil, err
}

func notConfigured(id provider.Identity, reason error) error {
	suggestion := ""
	if id.SelfHostable() {
		suggestion = fmt.Sprintf("Pass --instance-url to 'keysync login %s'", id)
	}
	return dserrors.UserError{
		Message:    id.DisplayName() + " is not configured",
		Details:    reason.Error(),
		Suggestion: suggestion,
		Err:        reason,
	}
}

// parseIdentity converts a provider argument into an Identity.
func parseIdentity(arg string) (provider.Identity, error) {
	id, err := provider.ParseIdentity(strings.ToLower(strings.TrimSpace(arg)))
	if err != nil {
		names := make([]string, 0, len(provider.Identities()))
		for _, id := range provider.Identities() {
			names = append(names, string(id))
		}
		return "", dserrors.UserError{
			Message:    err.Error(),
			Suggestion: "Use one of: " + strings.Join(names, ", "),
			Err:        err,
		}
	}
	return id, nil
}

// completeProviders offers provider names for the first argument.
func completeProviders(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	var names []string
	for _, id := range provider.Identities() {
		if strings.HasPrefix(string(id), toComplete) {
			names = append(names, string(id))
		}
	}
	return names, cobra.ShellCompDirectiveNoFileComp
}

// accountOf returns the signed in account name when p exposes one.
func accountOf(p provider.Provider) string {
	if a, ok := p.(provider.AccountIdentifier); ok {
		return a.Account()
	}
	return ""
}
