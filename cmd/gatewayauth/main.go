package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/systmms/gatewayauth/cmd/gatewayauth/commands"
	"github.com/systmms/gatewayauth/internal/config"
	dserrors "github.com/systmms/gatewayauth/internal/errors"
	"github.com/systmms/gatewayauth/internal/execenv"
	"github.com/systmms/gatewayauth/internal/logging"
	"github.com/systmms/gatewayauth/internal/metrics"
	"github.com/systmms/gatewayauth/internal/secure"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	err := run()
	secure.Purge()
	if err == nil {
		return
	}

	// A child started by exec already reported its own failure.
	var exitErr *execenv.ExitError
	if errors.As(err, &exitErr) {
		os.Exit(exitErr.Code)
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", dserrors.SimplifyError(err))
	os.Exit(1)
}

func run() error {
	// Global flags
	var (
		configFile  string
		envFile     string
		noColor     bool
		debug       bool
		metricsAddr string
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &commands.App{
		Config:  &config.Config{},
		Metrics: metrics.New(),
	}

	rootCmd := &cobra.Command{
		Use:   "gatewayauth",
		Short: "Obtain and refresh bearer tokens for an MCP gateway",
		Long: `gatewayauth resolves a bearer token for an authenticated MCP gateway from
inline configuration, a secret store, workload identity or a password
exchange, validates it against the gateway, and refreshes it when the
gateway rejects it.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger := logging.New(debug, noColor)

			app.Config.Path = configFile
			app.Config.EnvFile = envFile
			app.Config.Logger = logger

			if metricsAddr != "" {
				metrics.InitMetrics()
				go func() {
					if err := metrics.Serve(cmd.Context(), metricsAddr, logger); err != nil {
						logger.Warn("Metrics endpoint stopped: %v", err)
					}
				}()
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file path (empty: environment only)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Dotenv file to load before reading GATEWAYAUTH_* variables")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while the command runs")

	rootCmd.AddCommand(
		commands.NewTokenCommand(app),
		commands.NewRefreshCommand(app),
		commands.NewProbeCommand(app),
		commands.NewRequestCommand(app),
		commands.NewToolsCommand(app),
		commands.NewExecCommand(app),
		commands.NewDoctorCommand(app),
		commands.NewCompletionCommand(app),
	)

	return rootCmd.ExecuteContext(ctx)
}
