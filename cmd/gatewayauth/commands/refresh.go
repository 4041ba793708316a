package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/systmms/gatewayauth/internal/logging"
)

func NewRefreshCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Force a password-exchange refresh",
		Long: `Obtain a new token through password exchange and persist it to the
secret store, regardless of whether the current token still works.

Workload identity is not consulted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, def, err := app.broker()
			if err != nil {
				return err
			}

			token, err := b.ForceRefresh(cmd.Context())
			if err != nil {
				return err
			}

			store := "not persisted"
			if def.Store != nil {
				store = "persisted to " + def.Store.Type
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Refreshed %s (%s)\n", logging.Fingerprint(token), store)
			return nil
		},
	}

	return cmd
}
