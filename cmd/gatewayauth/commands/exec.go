package commands

import (
	"github.com/spf13/cobra"

	"github.com/systmms/gatewayauth/internal/execenv"
	"github.com/systmms/gatewayauth/internal/secure"
)

func NewExecCommand(app *App) *cobra.Command {
	var (
		tokenVar     string
		keepExisting bool
		workingDir   string
	)

	cmd := &cobra.Command{
		Use:   "exec -- COMMAND [ARGS...]",
		Short: "Run a command with a resolved bearer token",
		Long: `Resolve a bearer token and run a command with it in the environment.

The token is exported as GATEWAY_BEARER_TOKEN (see --token-var) and the
gateway URL, when configured, as GATEWAY_URL. Nothing is written to disk
and the token is not printed.

Examples:
  gatewayauth exec -- sh -c 'curl -H "Authorization: Bearer $GATEWAY_BEARER_TOKEN" $GATEWAY_URL/health'
  gatewayauth exec --token-var MCP_TOKEN -- ./agent`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, def, err := app.broker()
			if err != nil {
				return err
			}

			plain, err := b.Resolve(cmd.Context())
			if err != nil {
				return err
			}
			token := secure.NewCredential(plain)
			defer token.Destroy()

			env := map[string]string{}
			if def.GatewayURL != "" {
				env["GATEWAY_URL"] = def.GatewayURL
			}

			return execenv.New(app.Config.Logger).Exec(cmd.Context(), execenv.Options{
				Command:      args,
				Token:        token,
				TokenVar:     tokenVar,
				Environment:  env,
				KeepExisting: keepExisting,
				WorkingDir:   workingDir,
				Stdin:        cmd.InOrStdin(),
				Stdout:       cmd.OutOrStdout(),
				Stderr:       cmd.ErrOrStderr(),
			})
		},
	}

	cmd.Flags().StringVar(&tokenVar, "token-var", execenv.DefaultTokenVar, "Environment variable to export the token as")
	cmd.Flags().BoolVar(&keepExisting, "keep-existing", false, "Do not override variables already set")
	cmd.Flags().StringVar(&workingDir, "working-dir", "", "Working directory for the command")

	return cmd
}
