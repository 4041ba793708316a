package identity

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentcore"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentcore/types"
	"github.com/aws/smithy-go"

	"github.com/systmms/gatewayauth/internal/logging"
)

const (
	// DefaultIdentityProviderName is the credential provider used for the
	// machine-to-machine exchange.
	DefaultIdentityProviderName = "vgs-identity-provider"

	// WorkloadTokenEnv carries the workload access token the AgentCore
	// runtime injects into the process.
	WorkloadTokenEnv = "AGENTCORE_WORKLOAD_ACCESS_TOKEN"
)

// AgentCoreClientAPI is the subset of the AgentCore data plane used here.
type AgentCoreClientAPI interface {
	GetResourceOauth2Token(ctx context.Context, params *bedrockagentcore.GetResourceOauth2TokenInput, optFns ...func(*bedrockagentcore.Options)) (*bedrockagentcore.GetResourceOauth2TokenOutput, error)
}

// AgentCoreProvider exchanges the runtime's workload access token for an
// OAuth2 token issued by a named credential provider.
type AgentCoreProvider struct {
	mu           sync.Mutex
	client       AgentCoreClientAPI
	providerName string
	scopes       []string
	tokenEnv     string
	region       string
	logger       *logging.Logger
}

// AgentCoreOption configures the provider.
type AgentCoreOption func(*AgentCoreProvider)

// WithAgentCoreClient sets a custom client (for testing)
func WithAgentCoreClient(client AgentCoreClientAPI) AgentCoreOption {
	return func(p *AgentCoreProvider) {
		p.client = client
	}
}

// WithAgentCoreLogger sets the logger.
func WithAgentCoreLogger(logger *logging.Logger) AgentCoreOption {
	return func(p *AgentCoreProvider) {
		p.logger = logger
	}
}

// NewAgentCoreProvider creates a workload-identity provider.
//
// Settings: region, identity_provider_name, scopes, workload_token_env.
// The AWS client is created on first use so construction never fails
// outside the runtime.
func NewAgentCoreProvider(settings map[string]interface{}, opts ...AgentCoreOption) *AgentCoreProvider {
	p := &AgentCoreProvider{
		providerName: stringSetting(settings, "identity_provider_name", DefaultIdentityProviderName),
		scopes:       stringsSetting(settings, "scopes"),
		tokenEnv:     stringSetting(settings, "workload_token_env", WorkloadTokenEnv),
		region:       stringSetting(settings, "region", ""),
		logger:       logging.Discard(),
	}
	if p.scopes == nil {
		p.scopes = []string{}
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns "agentcore".
func (p *AgentCoreProvider) Name() string {
	return "agentcore"
}

// Exchange performs the M2M token exchange.
func (p *AgentCoreProvider) Exchange(ctx context.Context) (string, error) {
	workloadToken := os.Getenv(p.tokenEnv)
	if workloadToken == "" {
		return "", unavailable(p.Name(), fmt.Errorf("%s is not set", p.tokenEnv))
	}

	client, err := p.awsClient(ctx)
	if err != nil {
		return "", unavailable(p.Name(), err)
	}

	p.logger.Debug("AgentCore M2M exchange via %s", p.providerName)
	out, err := client.GetResourceOauth2Token(ctx, &bedrockagentcore.GetResourceOauth2TokenInput{
		WorkloadIdentityToken:          aws.String(workloadToken),
		ResourceCredentialProviderName: aws.String(p.providerName),
		Scopes:                         p.scopes,
		Oauth2Flow:                     types.Oauth2FlowType("M2M"),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			switch apiErr.ErrorCode() {
			case "AccessDeniedException", "UnauthorizedException":
				return "", &AuthError{Provider: p.Name(), Reason: apiErr.ErrorMessage(), Err: err}
			}
		}
		return "", fmt.Errorf("%s: token exchange: %w", p.Name(), err)
	}

	token := aws.ToString(out.AccessToken)
	if token == "" {
		return "", fmt.Errorf("%s: exchange returned no access token", p.Name())
	}
	return token, nil
}

// awsClient returns the injected client or builds one on first use.
// A failed build is retried on the next call.
func (p *AgentCoreProvider) awsClient(ctx context.Context) (AgentCoreClientAPI, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil {
		return p.client, nil
	}

	var cfgOpts []func(*config.LoadOptions) error
	if p.region != "" {
		cfgOpts = append(cfgOpts, config.WithRegion(p.region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, cfgOpts...)
	if err != nil {
		return nil, err
	}
	p.client = bedrockagentcore.NewFromConfig(cfg)
	return p.client, nil
}

// NewAgentCoreProviderFactory adapts NewAgentCoreProvider to the registry.
func NewAgentCoreProviderFactory(settings map[string]interface{}) (Provider, error) {
	return NewAgentCoreProvider(settings), nil
}
