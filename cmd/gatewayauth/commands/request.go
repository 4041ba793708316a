package commands

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	dserrors "github.com/systmms/gatewayauth/internal/errors"
	"github.com/systmms/gatewayauth/internal/transport"
)

func NewRequestCommand(app *App) *cobra.Command {
	var (
		method   string
		data     string
		dataFile string
		headers  []string
		attempts int
	)

	cmd := &cobra.Command{
		Use:   "request <path|url>",
		Short: "Send an authenticated request to the gateway",
		Long: `Send a request with the resolved bearer token and print the response body.

A relative path is joined to gateway_url. When the gateway rejects the
token it is refreshed once and the request retried; transient failures
are retried with the same token. Both draw from --max-attempts, which
defaults to max_retries + 1.

Examples:
  gatewayauth request /mcp --method POST --data '{"jsonrpc":"2.0","id":"1","method":"tools/list"}'
  gatewayauth request https://gw.example.com/health`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, def, err := app.broker()
			if err != nil {
				return err
			}

			target := args[0]
			if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
				if err := requireGateway(def); err != nil {
					return err
				}
				target = strings.TrimRight(def.GatewayURL, "/") + "/" + strings.TrimLeft(target, "/")
			}

			req := &transport.Request{
				Method: strings.ToUpper(method),
				URL:    target,
				Header: http.Header{},
			}
			switch {
			case dataFile != "":
				body, err := os.ReadFile(dataFile)
				if err != nil {
					return dserrors.UserError{
						Message:    "Failed to read request body",
						Details:    err.Error(),
						Suggestion: "Check the --data-file path",
						Err:        err,
					}
				}
				req.Body = body
			case data != "":
				req.Body = []byte(data)
			}
			for _, h := range headers {
				name, value, ok := strings.Cut(h, ":")
				if !ok {
					return dserrors.UserError{
						Message:    fmt.Sprintf("Invalid header %q", h),
						Suggestion: "Use --header 'Name: value'",
					}
				}
				req.Header.Add(strings.TrimSpace(name), strings.TrimSpace(value))
			}

			client := transport.New(b,
				transport.WithHTTPClient(app.httpClient()),
				transport.WithTimeout(def.Timeout()),
				transport.WithLogger(app.Config.Logger),
				transport.WithMetrics(app.Metrics),
			)
			resp, err := client.Execute(cmd.Context(), req, maxAttempts(attempts, def))
			if err != nil {
				return err
			}

			app.Config.Logger.Debug("%s %s: %d after %d attempt(s)", req.Method, req.URL, resp.StatusCode, resp.Attempts)
			_, _ = cmd.OutOrStdout().Write(resp.Body)
			if len(resp.Body) > 0 && resp.Body[len(resp.Body)-1] != '\n' {
				_, _ = fmt.Fprintln(cmd.OutOrStdout())
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&method, "method", "X", http.MethodGet, "HTTP method")
	cmd.Flags().StringVarP(&data, "data", "d", "", "Request body")
	cmd.Flags().StringVar(&dataFile, "data-file", "", "Read the request body from a file")
	cmd.Flags().StringArrayVarP(&headers, "header", "H", nil, "Extra header 'Name: value' (repeatable)")
	cmd.Flags().IntVar(&attempts, "max-attempts", 0, "Total attempts including refresh and transient retries (default max_retries + 1)")

	return cmd
}
