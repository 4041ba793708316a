package identity

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"

	dserrors "github.com/systmms/gatewayauth/internal/errors"
	"github.com/systmms/gatewayauth/internal/logging"
	"github.com/systmms/gatewayauth/internal/secure"
)

// DefaultAuthFlow is the Cognito flow used for password exchange.
const DefaultAuthFlow = "USER_PASSWORD_AUTH"

// CognitoClientAPI is the subset of the Cognito user pool API used here.
// This allows for mocking in tests
type CognitoClientAPI interface {
	InitiateAuth(ctx context.Context, params *cognitoidentityprovider.InitiateAuthInput, optFns ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.InitiateAuthOutput, error)
}

// CognitoProvider exchanges a username and password for a Cognito access
// token.
type CognitoProvider struct {
	client       CognitoClientAPI
	clientID     string
	username     string
	password     *secure.Credential
	clientSecret *secure.Credential
	region       string
	authFlow     types.AuthFlowType
	logger       *logging.Logger
}

// CognitoOption is a functional option for configuring the provider
type CognitoOption func(*CognitoProvider)

// WithCognitoClient sets a custom Cognito client (for testing)
func WithCognitoClient(client CognitoClientAPI) CognitoOption {
	return func(p *CognitoProvider) {
		p.client = client
	}
}

// WithCognitoLogger sets the logger.
func WithCognitoLogger(logger *logging.Logger) CognitoOption {
	return func(p *CognitoProvider) {
		p.logger = logger
	}
}

// NewCognitoProvider creates a password-exchange provider.
//
// Required settings: client_id, username, password, region.
// Optional: client_secret, auth_flow.
func NewCognitoProvider(settings map[string]interface{}, opts ...CognitoOption) (*CognitoProvider, error) {
	p := &CognitoProvider{
		clientID: stringSetting(settings, "client_id", ""),
		username: stringSetting(settings, "username", ""),
		region:   stringSetting(settings, "region", ""),
		authFlow: types.AuthFlowType(stringSetting(settings, "auth_flow", DefaultAuthFlow)),
		logger:   logging.Discard(),
	}

	password := stringSetting(settings, "password", "")

	var missing []string
	if p.clientID == "" {
		missing = append(missing, "client_id")
	}
	if p.username == "" {
		missing = append(missing, "username")
	}
	if password == "" {
		missing = append(missing, "password")
	}
	if p.region == "" {
		missing = append(missing, "region")
	}
	if err := missingFields("password_exchange", missing,
		"Set them under password_exchange in the config file; the password may come from GATEWAYAUTH_COGNITO_PASSWORD"); err != nil {
		return nil, err
	}

	p.password = secure.NewCredential(password)
	p.clientSecret = secure.NewCredential(stringSetting(settings, "client_secret", ""))

	for _, opt := range opts {
		opt(p)
	}

	if p.client == nil {
		cfg, err := config.LoadDefaultConfig(context.Background(), config.WithRegion(p.region))
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		p.client = cognitoidentityprovider.NewFromConfig(cfg)
	}

	return p, nil
}

// Name returns "cognito".
func (p *CognitoProvider) Name() string {
	return "cognito"
}

// Exchange runs InitiateAuth and returns the access token.
func (p *CognitoProvider) Exchange(ctx context.Context) (string, error) {
	params := map[string]string{"USERNAME": p.username}

	err := p.password.Use(func(password string) error {
		params["PASSWORD"] = password
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("cognito: reading password: %w", err)
	}
	defer delete(params, "PASSWORD")

	if !p.clientSecret.Empty() {
		err := p.clientSecret.Use(func(secret string) error {
			params["SECRET_HASH"] = SecretHash(p.username, p.clientID, secret)
			return nil
		})
		if err != nil {
			return "", fmt.Errorf("cognito: reading client secret: %w", err)
		}
	}

	p.logger.Debug("Cognito %s exchange for user %s", p.authFlow, p.username)

	out, err := p.client.InitiateAuth(ctx, &cognitoidentityprovider.InitiateAuthInput{
		AuthFlow:       p.authFlow,
		ClientId:       aws.String(p.clientID),
		AuthParameters: params,
	})
	if err != nil {
		if reason, ok := cognitoAuthFailure(err); ok {
			return "", &AuthError{Provider: p.Name(), Reason: reason, Err: err}
		}
		return "", dserrors.ProviderError(p.Name(), "password exchange", err)
	}

	if out.AuthenticationResult == nil || aws.ToString(out.AuthenticationResult.AccessToken) == "" {
		return "", &AuthError{
			Provider: p.Name(),
			Reason:   fmt.Sprintf("challenge %q is not supported", out.ChallengeName),
		}
	}
	return aws.ToString(out.AuthenticationResult.AccessToken), nil
}

// Close wipes the held secrets.
func (p *CognitoProvider) Close() {
	p.password.Destroy()
	p.clientSecret.Destroy()
}

func cognitoAuthFailure(err error) (string, bool) {
	var notAuthorized *types.NotAuthorizedException
	var userNotFound *types.UserNotFoundException
	var notConfirmed *types.UserNotConfirmedException
	var resetRequired *types.PasswordResetRequiredException

	switch {
	case errors.As(err, &notAuthorized):
		return aws.ToString(notAuthorized.Message), true
	case errors.As(err, &userNotFound):
		return "user not found", true
	case errors.As(err, &notConfirmed):
		return "user not confirmed", true
	case errors.As(err, &resetRequired):
		return "password reset required", true
	}
	return "", false
}

// SecretHash computes the SECRET_HASH Cognito requires when the app client
// has a secret: base64(HMAC-SHA256(clientSecret, username+clientID)).
func SecretHash(username, clientID, clientSecret string) string {
	mac := hmac.New(sha256.New, []byte(clientSecret))
	mac.Write([]byte(username + clientID))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// NewCognitoProviderFactory adapts NewCognitoProvider to the registry.
func NewCognitoProviderFactory(settings map[string]interface{}) (Provider, error) {
	return NewCognitoProvider(settings)
}
