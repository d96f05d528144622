package commands

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/systmms/keysync/internal/config"
	"github.com/systmms/keysync/pkg/provider"
)

func NewProvidersCommand(cfg *config.Config) *cobra.Command {
	return newProvidersCommand(newRuntime(cfg))
}

func newProvidersCommand(rt *runtime) *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "providers",
		Short: "List supported providers and their sign-in status",
		Long: `Display every supported provider, the scope its credentials are stored
under and whether a session is active.

Stored sessions are restored before the table is printed, so an account
that was signed in earlier shows as connected.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := rt.load(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintf(w, "PROVIDER\tNAME\tSTATUS\tACCOUNT\n")
			_, _ = fmt.Fprintf(w, "--------\t----\t------\t-------\n")
			for _, id := range provider.Identities() {
				p, ok := svc.Registry().Get(id)
				if !ok {
					_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", id, id.DisplayName(), "not configured", "-")
					continue
				}
				status, account := "signed out", "-"
				if p.IsAuthenticated() {
					status = "connected"
					if a := accountOf(p); a != "" {
						account = a
					}
				}
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", id, p.Name(), status, account)
			}
			_ = w.Flush()

			if verbose {
				printDetails(out, rt, svc.Registry().List())
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show storage scopes and configuration problems")

	return cmd
}

func printDetails(out io.Writer, rt *runtime, registered []provider.Provider) {
	_, _ = fmt.Fprintln(out)
	_, _ = fmt.Fprintln(out, "Storage scopes:")
	for _, p := range registered {
		_, _ = fmt.Fprintf(out, "  %-10s %s\n", p.Identity(), p.Scope())
	}
	for _, id := range provider.Identities() {
		if reason, ok := rt.skipped[id]; ok {
			_, _ = fmt.Fprintf(out, "  %-10s %v\n", id, reason)
		}
	}
}
