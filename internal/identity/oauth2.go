package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"

	"golang.org/x/oauth2"

	dserrors "github.com/systmms/gatewayauth/internal/errors"
	"github.com/systmms/gatewayauth/internal/secure"
)

// OAuth2PasswordProvider runs the OAuth2 resource owner password grant
// against a generic token endpoint.
type OAuth2PasswordProvider struct {
	config     oauth2.Config
	username   string
	password   *secure.Credential
	httpClient *http.Client
}

// OAuth2Option configures the password-grant provider.
type OAuth2Option func(*OAuth2PasswordProvider)

// WithOAuth2HTTPClient sets the client used to reach the token endpoint.
func WithOAuth2HTTPClient(client *http.Client) OAuth2Option {
	return func(p *OAuth2PasswordProvider) {
		p.httpClient = client
	}
}

// NewOAuth2PasswordProvider creates a password-grant provider.
//
// Required settings: token_url, client_id, username, password.
// Optional: client_secret, scopes.
func NewOAuth2PasswordProvider(settings map[string]interface{}, opts ...OAuth2Option) (*OAuth2PasswordProvider, error) {
	tokenURL := stringSetting(settings, "token_url", "")
	clientID := stringSetting(settings, "client_id", "")
	username := stringSetting(settings, "username", "")
	password := stringSetting(settings, "password", "")

	var missing []string
	for field, v := range map[string]string{
		"token_url": tokenURL, "client_id": clientID, "username": username, "password": password,
	} {
		if v == "" {
			missing = append(missing, field)
		}
	}
	sort.Strings(missing)
	if err := missingFields("password_exchange", missing, "Set them under password_exchange in the config file"); err != nil {
		return nil, err
	}

	p := &OAuth2PasswordProvider{
		config: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: stringSetting(settings, "client_secret", ""),
			Endpoint:     oauth2.Endpoint{TokenURL: tokenURL},
			Scopes:       stringsSetting(settings, "scopes"),
		},
		username: username,
		password: secure.NewCredential(password),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Name returns "oauth2.password".
func (p *OAuth2PasswordProvider) Name() string {
	return "oauth2.password"
}

// Exchange requests a token with the password grant.
func (p *OAuth2PasswordProvider) Exchange(ctx context.Context) (string, error) {
	if p.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	}

	var tok *oauth2.Token
	err := p.password.Use(func(password string) error {
		var err error
		tok, err = p.config.PasswordCredentialsToken(ctx, p.username, password)
		return err
	})
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil &&
			retrieveErr.Response.StatusCode >= 400 && retrieveErr.Response.StatusCode < 500 {
			return "", &AuthError{Provider: p.Name(), Reason: retrieveErr.ErrorCode, Err: err}
		}
		return "", dserrors.ProviderError(p.Name(), "password exchange", err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("%s: token endpoint returned no access_token", p.Name())
	}
	return tok.AccessToken, nil
}

// Close wipes the held password.
func (p *OAuth2PasswordProvider) Close() {
	p.password.Destroy()
}

// NewOAuth2PasswordProviderFactory adapts NewOAuth2PasswordProvider to the registry.
func NewOAuth2PasswordProviderFactory(settings map[string]interface{}) (Provider, error) {
	return NewOAuth2PasswordProvider(settings)
}
