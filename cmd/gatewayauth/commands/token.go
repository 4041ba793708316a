package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/systmms/gatewayauth/internal/logging"
)

func NewTokenCommand(app *App) *cobra.Command {
	var show bool

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Resolve a usable bearer token",
		Long: `Resolve a bearer token through the configured sources.

Sources are tried in order: inline configuration, the secret store,
workload identity, then password exchange. Tokens from configuration or
the secret store are validated against the gateway first and replaced
through password exchange when rejected.

By default only the token fingerprint is printed. Use --show to print the
token itself, e.g. for scripting:

  export TOKEN=$(gatewayauth token --show)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, _, err := app.broker()
			if err != nil {
				return err
			}

			res, err := b.ResolveResult(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if show {
				_, _ = fmt.Fprintln(out, res.Token)
				return nil
			}
			_, _ = fmt.Fprintf(out, "%s source=%s refreshed=%t\n", logging.Fingerprint(res.Token), res.Source, res.Refreshed)
			return nil
		},
	}

	cmd.Flags().BoolVar(&show, "show", false, "Print the token instead of its fingerprint")

	return cmd
}
