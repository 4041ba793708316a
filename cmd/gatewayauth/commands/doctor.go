package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/spf13/cobra"

	"github.com/systmms/gatewayauth/internal/config"
	"github.com/systmms/gatewayauth/internal/credstore"
	dserrors "github.com/systmms/gatewayauth/internal/errors"
	"github.com/systmms/gatewayauth/internal/identity"
	"github.com/systmms/gatewayauth/internal/logging"
	"github.com/systmms/gatewayauth/internal/validator"
)

// Check is one doctor result.
type Check struct {
	Name        string
	Status      string // healthy, warning, error, skipped
	Message     string
	Suggestions []string
}

func NewDoctorCommand(app *App) *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, credentials and gateway connectivity",
		Long: `Verify that every configured piece is usable.

This command checks:
- Configuration file validity
- AWS caller identity, when an AWS backend is configured
- Secret store reachability
- Workload identity availability
- Password exchange configuration
- The resolved token against the gateway

Unavailable workload identity is a warning: the broker falls back to
password exchange.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := app.Config.Logger

			logger.Info("Checking gatewayauth configuration...")
			def, err := app.definition()
			if err != nil {
				logger.Error("Configuration error: %v", err)
				return fmt.Errorf("failed to load config: %w", err)
			}

			checks := []Check{
				{Name: "config", Status: "healthy", Message: configSummary(app.Config)},
				app.checkAWSIdentity(ctx, def),
				app.checkStore(ctx, def),
				app.checkWorkloadIdentity(ctx, def),
				app.checkPasswordExchange(def),
				app.checkGateway(ctx, def),
			}

			displayChecks(cmd.OutOrStdout(), checks, verbose)

			failed := 0
			ran := 0
			for _, c := range checks {
				if c.Status == "skipped" {
					continue
				}
				ran++
				if c.Status == "error" {
					failed++
				}
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "\nSummary: %d/%d checks healthy\n", ran-failed, ran)
			if failed > 0 {
				return fmt.Errorf("%d check(s) failed", failed)
			}

			logger.Info("All systems operational!")
			return nil
		},
	}

	cmd.Flags().BoolVar(&verbose, "verbose", false, "Show suggestions for failed checks")

	return cmd
}

func configSummary(cfg *config.Config) string {
	if cfg.Path == "" {
		return "loaded from environment"
	}
	return "loaded " + cfg.Path
}

// usesAWS reports whether any configured backend talks to AWS.
func usesAWS(def *config.Definition) bool {
	for _, b := range []*config.BlockConfig{def.Store, def.WorkloadIdentity, def.PasswordExchange} {
		if b == nil {
			continue
		}
		if strings.HasPrefix(b.Type, "aws.") || b.Type == "cognito" || b.Type == "agentcore" {
			return true
		}
	}
	return false
}

func (a *App) checkAWSIdentity(ctx context.Context, def *config.Definition) Check {
	check := Check{Name: "aws identity"}
	if !usesAWS(def) {
		check.Status = "skipped"
		check.Message = "no AWS backend configured"
		return check
	}

	client := a.STS
	if client == nil {
		cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(def.Region))
		if err != nil {
			return failed(check, err, "Configure AWS credentials via environment, shared config, or an IAM role")
		}
		client = sts.NewFromConfig(cfg)
	}

	out, err := client.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return failed(check, err, "Verify with: aws sts get-caller-identity")
	}

	check.Status = "healthy"
	check.Message = fmt.Sprintf("account %s as %s", aws.ToString(out.Account), aws.ToString(out.Arn))
	return check
}

func (a *App) checkStore(ctx context.Context, def *config.Definition) Check {
	check := Check{Name: "secret store"}
	if def.Store == nil {
		check.Status = "skipped"
		check.Message = "no secret store configured"
		return check
	}
	check.Name += " (" + def.Store.Type + ")"

	store, err := def.NewStore(a.Factories.Stores)
	if err != nil {
		return failed(check, err)
	}

	ctx, cancel := context.WithTimeout(ctx, def.Timeout())
	defer cancel()

	if v, ok := store.(credstore.Validator); ok {
		if err := v.Validate(ctx); err != nil {
			return failed(check, err, "Check that the credentials can list and read secrets")
		}
	}

	rec, err := store.Get(ctx, def.SecretName)
	switch {
	case errors.Is(err, credstore.ErrNotFound):
		check.Status = "healthy"
		check.Message = fmt.Sprintf("reachable; no record at %q yet", def.SecretName)
	case err != nil:
		return failed(check, err, "Check that secret_name exists and is readable")
	default:
		check.Status = "healthy"
		check.Message = fmt.Sprintf("record %q holds %s", def.SecretName, logging.Fingerprint(rec.Token))
	}
	return check
}

func (a *App) checkWorkloadIdentity(ctx context.Context, def *config.Definition) Check {
	check := Check{Name: "workload identity"}
	p, err := def.NewProvider(a.Factories.Providers, "workload_identity")
	if err != nil {
		return failed(check, err)
	}
	if p == nil {
		check.Status = "skipped"
		check.Message = "not configured"
		return check
	}
	check.Name += " (" + p.Name() + ")"

	ctx, cancel := context.WithTimeout(ctx, def.Timeout())
	defer cancel()

	token, err := p.Exchange(ctx)
	switch {
	case errors.Is(err, identity.ErrWorkloadIdentityUnavailable):
		check.Status = "warning"
		check.Message = "not available in this environment; password exchange will be used"
	case err != nil:
		return failed(check, err)
	default:
		check.Status = "healthy"
		check.Message = "issued " + logging.Fingerprint(token).String()
	}
	return check
}

func (a *App) checkPasswordExchange(def *config.Definition) Check {
	check := Check{Name: "password exchange"}
	p, err := def.NewProvider(a.Factories.Providers, "password_exchange")
	if err != nil {
		return failed(check, err)
	}
	if p == nil {
		check.Status = "warning"
		check.Message = "not configured; rejected tokens cannot be replaced"
		return check
	}
	check.Name += " (" + p.Name() + ")"
	check.Status = "healthy"
	check.Message = "configured (not exercised)"
	return check
}

func (a *App) checkGateway(ctx context.Context, def *config.Definition) Check {
	check := Check{Name: "gateway"}
	if def.GatewayURL == "" {
		check.Status = "skipped"
		check.Message = "no gateway_url configured"
		return check
	}

	b, _, err := a.broker()
	if err != nil {
		return failed(check, err)
	}
	token, err := b.Resolve(ctx)
	if err != nil {
		return failed(check, err)
	}

	out := a.validator(def).Probe(ctx, token, def.GatewayURL)
	switch {
	case out.Kind == validator.Valid:
		check.Status = "healthy"
	case out.Transient:
		check.Status = "warning"
	default:
		check.Status = "error"
	}
	check.Message = fmt.Sprintf("%s %s", logging.Fingerprint(token), out)
	return check
}

func failed(check Check, err error, suggestions ...string) Check {
	err = dserrors.SimplifyError(err)
	check.Status = "error"
	check.Message = err.Error()

	var cfgErr dserrors.ConfigError
	if errors.As(err, &cfgErr) && cfgErr.Suggestion != "" {
		suggestions = append([]string{cfgErr.Suggestion}, suggestions...)
	}
	check.Suggestions = suggestions
	return check
}

// displayChecks shows results in a formatted table
func displayChecks(out io.Writer, checks []Check, verbose bool) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintf(w, "CHECK\tSTATUS\tMESSAGE\n")
	_, _ = fmt.Fprintf(w, "-----\t------\t-------\n")

	for _, c := range checks {
		status := c.Status
		switch c.Status {
		case "healthy":
			status = "✓ " + status
		case "warning":
			status = "⚠ " + status
		case "error":
			status = "✗ " + status
		default:
			status = "- " + status
		}
		// Keep multi-line messages on one row.
		msg := strings.ReplaceAll(c.Message, "\n", " ")
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", c.Name, status, msg)
	}

	_ = w.Flush()

	if !verbose {
		return
	}
	for _, c := range checks {
		if c.Status == "error" && len(c.Suggestions) > 0 {
			_, _ = fmt.Fprintf(out, "\n%s suggestions:\n", c.Name)
			for _, s := range c.Suggestions {
				_, _ = fmt.Fprintf(out, "  • %s\n", s)
			}
		}
	}
}
