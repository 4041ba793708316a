package commands

import (
	"context"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/systmms/gatewayauth/internal/broker"
	"github.com/systmms/gatewayauth/internal/config"
	dserrors "github.com/systmms/gatewayauth/internal/errors"
	"github.com/systmms/gatewayauth/internal/metrics"
	"github.com/systmms/gatewayauth/internal/validator"
)

// STSClientAPI is the caller-identity lookup doctor performs.
type STSClientAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// App is the state every command shares. main fills in the config path
// and logger before a command runs; tests fill in the rest.
type App struct {
	Config    *config.Config
	Metrics   *metrics.Metrics
	Factories config.Factories

	// STS answers doctor's identity check. Nil builds a client from the
	// default AWS configuration.
	STS STSClientAPI
	// HTTPClient carries probes, requests and MCP sessions. Nil means
	// http.DefaultClient.
	HTTPClient *http.Client
}

func (a *App) definition() (*config.Definition, error) {
	if a.Config.Definition == nil {
		if err := a.Config.Load(); err != nil {
			return nil, err
		}
	}
	return a.Config.Definition, nil
}

func (a *App) httpClient() *http.Client {
	if a.HTTPClient != nil {
		return a.HTTPClient
	}
	return http.DefaultClient
}

func (a *App) validator(def *config.Definition) *validator.Validator {
	return validator.New(def.ProbeConfig(),
		validator.WithHTTPClient(a.httpClient()),
		validator.WithLogger(a.Config.Logger),
		validator.WithMetrics(a.Metrics),
	)
}

func (a *App) broker() (*broker.Broker, *config.Definition, error) {
	def, err := a.definition()
	if err != nil {
		return nil, nil, err
	}

	bc, err := a.Config.BrokerConfig(a.Factories, a.Metrics)
	if err != nil {
		return nil, nil, err
	}
	if def.GatewayURL != "" {
		bc.Validator = a.validator(def)
	}

	b, err := broker.New(bc)
	if err != nil {
		return nil, nil, err
	}
	return b, def, nil
}

func requireGateway(def *config.Definition) error {
	if def.GatewayURL != "" {
		return nil
	}
	return dserrors.ConfigError{
		Field:      "gateway_url",
		Message:    "gateway_url is required for this command",
		Suggestion: "Set gateway_url in the config file or GATEWAYAUTH_GATEWAY_URL",
	}
}

// maxAttempts is the total try budget: the flag when set, otherwise the
// first try plus max_retries retries.
func maxAttempts(flag int, def *config.Definition) int {
	if flag > 0 {
		return flag
	}
	return def.MaxRetries + 1
}
