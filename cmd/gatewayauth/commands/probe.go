package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	dserrors "github.com/systmms/gatewayauth/internal/errors"
	"github.com/systmms/gatewayauth/internal/logging"
	"github.com/systmms/gatewayauth/internal/validator"
)

func NewProbeCommand(app *App) *cobra.Command {
	var token string

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Check a token against the gateway",
		Long: `Send the MCP initialize handshake with a token and report how the
gateway classified it: valid, auth_rejected, transient or rejected.

Without --token the token is resolved first, which may itself refresh
it. With --token nothing is resolved, refreshed or persisted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := app.definition()
			if err != nil {
				return err
			}
			if err := requireGateway(def); err != nil {
				return err
			}

			if token == "" {
				b, _, err := app.broker()
				if err != nil {
					return err
				}
				if token, err = b.Resolve(cmd.Context()); err != nil {
					return err
				}
			}

			out := app.validator(def).Probe(cmd.Context(), token, def.GatewayURL)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", logging.Fingerprint(token), out)

			switch {
			case out.Kind == validator.Valid:
				return nil
			case out.Kind == validator.AuthRejected:
				return fmt.Errorf("%w: %s", dserrors.ErrAuthRejected, out)
			case out.Transient:
				return fmt.Errorf("%w: %s", dserrors.ErrTransient, out)
			default:
				return fmt.Errorf("%w: %s", dserrors.ErrRequestRejected, out)
			}
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "Probe this token instead of resolving one")

	return cmd
}
