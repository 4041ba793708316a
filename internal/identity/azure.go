package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
)

// AzureManagedIdentityProvider requests a token for the configured scope
// from the Azure managed identity endpoint.
type AzureManagedIdentityProvider struct {
	mu         sync.Mutex
	credential azcore.TokenCredential
	scope      string
	clientID   string
}

// AzureOption configures the managed identity provider.
type AzureOption func(*AzureManagedIdentityProvider)

// WithTokenCredential sets the credential (for testing)
func WithTokenCredential(cred azcore.TokenCredential) AzureOption {
	return func(p *AzureManagedIdentityProvider) {
		p.credential = cred
	}
}

// NewAzureManagedIdentityProvider creates a workload-identity provider.
//
// Required settings: scope. Optional: client_id for a user-assigned identity.
func NewAzureManagedIdentityProvider(settings map[string]interface{}, opts ...AzureOption) (*AzureManagedIdentityProvider, error) {
	p := &AzureManagedIdentityProvider{
		scope:    stringSetting(settings, "scope", ""),
		clientID: stringSetting(settings, "client_id", ""),
	}
	if err := missingFields("workload_identity", requiredScope(p.scope),
		"Set scope to the gateway's application ID URI, e.g. api://my-gateway/.default"); err != nil {
		return nil, err
	}

	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func requiredScope(scope string) []string {
	if scope == "" {
		return []string{"scope"}
	}
	return nil
}

// Name returns "azure.managed_identity".
func (p *AzureManagedIdentityProvider) Name() string {
	return "azure.managed_identity"
}

// Exchange asks the managed identity endpoint for a token.
func (p *AzureManagedIdentityProvider) Exchange(ctx context.Context) (string, error) {
	cred, err := p.tokenCredential()
	if err != nil {
		return "", unavailable(p.Name(), err)
	}

	tok, err := cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{p.scope}})
	if err != nil {
		var authErr *azidentity.AuthenticationFailedError
		if errors.As(err, &authErr) {
			return "", &AuthError{Provider: p.Name(), Err: err}
		}
		return "", unavailable(p.Name(), err)
	}
	if tok.Token == "" {
		return "", fmt.Errorf("%s: empty token", p.Name())
	}
	return tok.Token, nil
}

// tokenCredential returns the injected credential or builds the managed
// identity credential on first use.
func (p *AzureManagedIdentityProvider) tokenCredential() (azcore.TokenCredential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.credential != nil {
		return p.credential, nil
	}

	var opts *azidentity.ManagedIdentityCredentialOptions
	if p.clientID != "" {
		opts = &azidentity.ManagedIdentityCredentialOptions{ID: azidentity.ClientID(p.clientID)}
	}
	cred, err := azidentity.NewManagedIdentityCredential(opts)
	if err != nil {
		return nil, err
	}
	p.credential = cred
	return p.credential, nil
}

// NewAzureManagedIdentityProviderFactory adapts NewAzureManagedIdentityProvider to the registry.
func NewAzureManagedIdentityProviderFactory(settings map[string]interface{}) (Provider, error) {
	return NewAzureManagedIdentityProvider(settings)
}
