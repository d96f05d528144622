package commands

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/systmms/keysync/internal/config"
	dserrors "github.com/systmms/keysync/internal/errors"
	"github.com/systmms/keysync/pkg/provider"
)

func NewKeysCommand(cfg *config.Config) *cobra.Command {
	return newKeysCommand(newRuntime(cfg))
}

func newKeysCommand(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "List, deploy and remove SSH public keys",
		Long: `Manage the SSH public keys registered with a provider account.

Listings are cached for 24 hours. Deploying or removing a key drops the
cached listing of that provider.`,
	}

	cmd.AddCommand(
		newKeysListCommand(rt),
		newKeysDeployCommand(rt),
		newKeysRemoveCommand(rt),
	)

	return cmd
}

func newKeysListCommand(rt *runtime) *cobra.Command {
	var refresh bool

	cmd := &cobra.Command{
		Use:               "list <provider>",
		Short:             "List the keys of a provider account",
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completeProviders,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseIdentity(args[0])
			if err != nil {
				return err
			}
			svc, p, err := rt.provider(cmd.Context(), id)
			if err != nil {
				return err
			}

			keys, cached, err := svc.List(cmd.Context(), id, refresh)
			if err != nil {
				return dserrors.ProviderError(id, "key listing", err)
			}
			if cached {
				rt.logger().Debug("Using cached %s listing", p.Name())
			}

			out := cmd.OutOrStdout()
			if len(keys) == 0 {
				_, _ = fmt.Fprintf(out, "No keys registered with %s\n", p.Name())
				return nil
			}
			printKeys(out, keys)
			if cached {
				_, _ = fmt.Fprintln(out, "\n(cached listing, pass --refresh to query the provider)")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&refresh, "refresh", false, "Ignore the cached listing")

	return cmd
}

func newKeysDeployCommand(rt *runtime) *cobra.Command {
	var title string

	cmd := &cobra.Command{
		Use:   "deploy <provider> <public-key-file>",
		Short: "Upload a public key to a provider account",
		Long: `Upload an authorized_keys formatted public key, such as ~/.ssh/id_ed25519.pub.

The title defaults to the key comment. AWS only accepts RSA keys.`,
		Args:              cobra.ExactArgs(2),
		ValidArgsFunction: completeProviders,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseIdentity(args[0])
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[1])
			if err != nil {
				return dserrors.UserError{
					Message:    "Cannot read public key file",
					Details:    err.Error(),
					Suggestion: "Pass the .pub file, e.g. ~/.ssh/id_ed25519.pub",
					Err:        err,
				}
			}
			svc, p, err := rt.provider(cmd.Context(), id)
			if err != nil {
				return err
			}

			if err := svc.Deploy(cmd.Context(), id, strings.TrimSpace(string(data)), title); err != nil {
				return dserrors.ProviderError(id, "key upload", err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "✅ Deployed %s to %s\n", args[1], p.Name())
			return nil
		},
	}

	cmd.Flags().StringVarP(&title, "title", "t", "", "Key title shown by the provider")

	return cmd
}

func newKeysRemoveCommand(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:               "remove <provider> <key-id>",
		Aliases:           []string{"rm"},
		Short:             "Remove a key from a provider account",
		Args:              cobra.ExactArgs(2),
		ValidArgsFunction: completeProviders,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseIdentity(args[0])
			if err != nil {
				return err
			}
			svc, p, err := rt.provider(cmd.Context(), id)
			if err != nil {
				return err
			}

			if err := svc.Remove(cmd.Context(), id, args[1]); err != nil {
				return dserrors.ProviderError(id, "key removal", err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "✅ Removed key %s from %s\n", args[1], p.Name())
			return nil
		},
	}

	return cmd
}

func printKeys(out io.Writer, keys []provider.KeyMetadata) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "ID\tTITLE\tTYPE\tFINGERPRINT\tCREATED\tLAST USED\n")
	for _, k := range keys {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			k.ID, orDash(k.Title), orDash(string(k.KeyType)), orDash(k.Fingerprint),
			formatTime(k.CreatedAt), formatTime(k.LastUsed))
	}
	_ = w.Flush()
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
