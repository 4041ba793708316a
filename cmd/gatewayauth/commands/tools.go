package commands

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/systmms/gatewayauth/internal/toolset"
)

type toolSummary struct {
	Name        string `json:"name"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
}

func NewToolsCommand(app *App) *cobra.Command {
	var (
		attempts   int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the tools the gateway exposes over MCP",
		Long: `Open an MCP session to the gateway and list every tool it advertises.

The token is probed before the session is opened. A rejected token is
refreshed and the whole setup retried within --max-attempts; any other
probe failure stops immediately.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, def, err := app.broker()
			if err != nil {
				return err
			}
			if err := requireGateway(def); err != nil {
				return err
			}

			loader := toolset.New(b,
				toolset.WithProbeConfig(def.ProbeConfig()),
				toolset.WithProber(app.validator(def)),
				toolset.WithHTTPClient(app.httpClient()),
				toolset.WithLogger(app.Config.Logger),
			)
			set, err := loader.Load(cmd.Context(), def.GatewayURL, maxAttempts(attempts, def))
			if err != nil {
				return err
			}
			defer func() { _ = set.Close() }()

			summaries := make([]toolSummary, 0, len(set.Tools))
			for _, tool := range set.Tools {
				summaries = append(summaries, toolSummary{Name: tool.Name, Title: tool.Title, Description: tool.Description})
			}

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(summaries)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintf(w, "TOOL\tDESCRIPTION\n")
			_, _ = fmt.Fprintf(w, "----\t-----------\n")
			for _, s := range summaries {
				_, _ = fmt.Fprintf(w, "%s\t%s\n", s.Name, s.Description)
			}
			_ = w.Flush()

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "\n%d tool(s)\n", len(summaries))
			return nil
		},
	}

	cmd.Flags().IntVar(&attempts, "max-attempts", 0, "Total setup attempts (default max_retries + 1)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}
