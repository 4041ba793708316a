package commands

import (
	"github.com/spf13/cobra"
)

// NewCompletionCommand creates the completion command for generating shell completions.
func NewCompletionCommand(_ *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Long: `Generate shell completion scripts for gatewayauth.

To load completions:

Bash:
  $ source <(gatewayauth completion bash)

Zsh:
  $ gatewayauth completion zsh > "${fpath[1]}/_gatewayauth"

Fish:
  $ gatewayauth completion fish | source

PowerShell:
  PS> gatewayauth completion powershell | Out-String | Invoke-Expression
`,
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(out)
			case "zsh":
				return cmd.Root().GenZshCompletion(out)
			case "fish":
				return cmd.Root().GenFishCompletion(out, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(out)
			}
			return nil
		},
	}

	return cmd
}
