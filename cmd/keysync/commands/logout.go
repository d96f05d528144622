package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/systmms/keysync/internal/config"
	dserrors "github.com/systmms/keysync/internal/errors"
	"github.com/systmms/keysync/pkg/provider"
)

func NewLogoutCommand(cfg *config.Config) *cobra.Command {
	return newLogoutCommand(newRuntime(cfg))
}

func newLogoutCommand(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logout <provider>",
		Short: "Sign out of a provider",
		Long: `Clear the session of a provider and delete its stored credentials.

Google Cloud keeps its refresh token in the keyring so a later run can sign
in again without a browser; remove it with your platform's keychain tool.`,
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
			if err := svc.Disconnect(cmd.Context(), id); err != nil {
				return dserrors.ProviderError(id, "sign-out", err)
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Signed out of %s\n", p.Name())
			if id == provider.GCP {
				rt.logger().Info("The Google Cloud refresh token was kept for the next sign-in")
			}
			return nil
		},
	}

	return cmd
}
