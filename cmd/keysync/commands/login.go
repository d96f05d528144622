package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/systmms/keysync/internal/config"
	dserrors "github.com/systmms/keysync/internal/errors"
	"github.com/systmms/keysync/internal/providers"
	"github.com/systmms/keysync/pkg/provider"
)

// loginOptions are the credential and configuration flags of login.
type loginOptions struct {
	// aws
	accessKeyID     string
	secretAccessKey string
	region          string
	profile         string

	// bitbucket
	username    string
	appPassword string

	// oauth providers
	instanceURL  string
	clientID     string
	clientSecret string
}

func NewLoginCommand(cfg *config.Config) *cobra.Command {
	return newLoginCommand(newRuntime(cfg))
}

func newLoginCommand(rt *runtime) *cobra.Command {
	var opts loginOptions

	cmd := &cobra.Command{
		Use:   "login <provider>",
		Short: "Sign in to a provider",
		Long: `Sign in to a provider and store the credentials in the OS keyring.

GitHub, GitLab, Gitea and Google Cloud open your browser for an OAuth
sign-in and receive the result on a local callback port (default 8085,
setting "oauth-port"). Bitbucket uses a username and app password, AWS an
IAM access key pair. Pass "-" as a secret value to read it from stdin.

Examples:
  keysync login github --client-id Iv1.abc --client-secret s3cr3t
  keysync login gitlab --instance-url https://git.example.com
  keysync login bitbucket --username alice --app-password -
  keysync login aws --profile work
  keysync login aws --access-key-id AKIA... --secret-access-key - --region eu-west-1`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completeProviders,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseIdentity(args[0])
			if err != nil {
				return err
			}
			return runLogin(cmd.Context(), rt, cmd.InOrStdin(), cmd.OutOrStdout(), id, opts)
		},
	}

	cmd.Flags().StringVar(&opts.accessKeyID, "access-key-id", "", "AWS access key id")
	cmd.Flags().StringVar(&opts.secretAccessKey, "secret-access-key", "", "AWS secret access key, or - to read stdin")
	cmd.Flags().StringVar(&opts.region, "region", "", "AWS region shown for the account")
	cmd.Flags().StringVar(&opts.profile, "profile", "", "Import AWS credentials from a shared config profile")
	cmd.Flags().StringVar(&opts.username, "username", "", "Bitbucket username")
	cmd.Flags().StringVar(&opts.appPassword, "app-password", "", "Bitbucket app password, or - to read stdin")
	cmd.Flags().StringVar(&opts.instanceURL, "instance-url", "", "Base URL of a self-hosted GitLab or Gitea")
	cmd.Flags().StringVar(&opts.clientID, "client-id", "", "OAuth application client id")
	cmd.Flags().StringVar(&opts.clientSecret, "client-secret", "", "OAuth application client secret")

	return cmd
}

func runLogin(ctx context.Context, rt *runtime, in io.Reader, out io.Writer, id provider.Identity, opts loginOptions) error {
	settings, err := rt.settings()
	if err != nil {
		return err
	}
	if err := opts.save(settings, id); err != nil {
		return err
	}

	svc, p, err := rt.provider(ctx, id)
	if err != nil {
		return err
	}
	if err := opts.apply(ctx, in, settings, p); err != nil {
		return err
	}

	if err := svc.Authenticate(ctx, id); err != nil {
		return dserrors.ProviderError(id, "sign-in", err)
	}

	account := accountOf(p)
	if account == "" {
		account = "unknown account"
	}
	_, _ = fmt.Fprintf(out, "✅ Signed in to %s as %s\n", p.Name(), account)
	return nil
}

// save persists the configuration flags that decide how the provider is
// built. It runs before the registry is created.
func (o loginOptions) save(settings *config.Settings, id provider.Identity) error {
	set := func(suffix, value string) error {
		if value == "" {
			return nil
		}
		return settings.SetString(config.Key(string(id), suffix), strings.TrimSpace(value))
	}

	if o.instanceURL != "" && !id.SelfHostable() {
		return dserrors.ConfigError{
			Field:      "instance-url",
			Value:      o.instanceURL,
			Message:    id.DisplayName() + " is not self-hostable",
			Suggestion: "Only gitlab and gitea accept --instance-url",
		}
	}
	if (o.clientID != "" || o.clientSecret != "") && !usesOAuth(id) {
		return dserrors.ConfigError{
			Field:      "client-id",
			Message:    id.DisplayName() + " does not sign in with OAuth",
			Suggestion: "Drop --client-id and --client-secret",
		}
	}

	for suffix, value := range map[string]string{
		config.InstanceURL:  o.instanceURL,
		config.ClientID:     o.clientID,
		config.ClientSecret: o.clientSecret,
	} {
		if err := set(suffix, value); err != nil {
			return err
		}
	}
	if id == provider.AWS {
		return set(config.Region, o.region)
	}
	return nil
}

// apply hands direct credentials to providers that do not use a browser.
func (o loginOptions) apply(ctx context.Context, in io.Reader, settings *config.Settings, p provider.Provider) error {
	g, guarded := p.(*providers.Guarded)
	inner := p
	if guarded {
		inner = g.Unwrap()
	}

	var set func(provider.Provider)
	switch inner.(type) {
	case *providers.AWSProvider:
		keyID, secret, region := o.accessKeyID, o.secretAccessKey, o.region
		if o.profile != "" {
			profile, err := providers.LoadAWSProfile(ctx, o.profile)
			if err != nil {
				return dserrors.ProviderError(provider.AWS, "profile import", err)
			}
			if keyID == "" {
				keyID = profile.AccessKeyID
			}
			if secret == "" {
				secret = profile.SecretAccessKey
			}
			if region == "" {
				region = profile.Region
			}
		}
		secret, err := readSecret(in, secret)
		if err != nil {
			return err
		}
		if region == "" {
			region = settings.GetString(config.Key(string(provider.AWS), config.Region))
		}
		set = func(p provider.Provider) {
			p.(*providers.AWSProvider).SetCredentials(keyID, secret, region)
		}

	case *providers.BitbucketProvider:
		password, err := readSecret(in, o.appPassword)
		if err != nil {
			return err
		}
		set = func(p provider.Provider) {
			p.(*providers.BitbucketProvider).SetCredentials(o.username, password)
		}

	default:
		return nil
	}

	// credentials are swapped under the operation lock
	if guarded {
		g.Configure(set)
	} else {
		set(inner)
	}
	return nil
}

func usesOAuth(id provider.Identity) bool {
	switch id {
	case provider.GitHub, provider.GitLab, provider.Gitea, provider.GCP:
		return true
	}
	return false
}

// readSecret returns value, or the first line of in when value is "-".
func readSecret(in io.Reader, value string) (string, error) {
	if value != "-" {
		return value, nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read secret from stdin: %w", err)
	}
	return strings.TrimSpace(line), nil
}
