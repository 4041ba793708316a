package fakes

import (
	"context"
	"net/http"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"
)

// FakeAzureKeyVaultClient is an in-memory Key Vault.
type FakeAzureKeyVaultClient struct {
	mu sync.Mutex

	// Secrets maps secret names to their current value
	Secrets map[string]string
	// ContentTypes records the content type passed to SetSecret
	ContentTypes map[string]string
	// Errors maps secret names to errors to return
	Errors map[string]error
}

// NewFakeAzureKeyVaultClient creates an empty fake.
func NewFakeAzureKeyVaultClient() *FakeAzureKeyVaultClient {
	return &FakeAzureKeyVaultClient{
		Secrets:      make(map[string]string),
		ContentTypes: make(map[string]string),
		Errors:       make(map[string]error),
	}
}

// GetSecret mocks the GetSecret operation
func (f *FakeAzureKeyVaultClient) GetSecret(ctx context.Context, name string, version string, options *azsecrets.GetSecretOptions) (azsecrets.GetSecretResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err, ok := f.Errors[name]; ok {
		return azsecrets.GetSecretResponse{}, err
	}
	value, ok := f.Secrets[name]
	if !ok {
		return azsecrets.GetSecretResponse{}, &azcore.ResponseError{
			ErrorCode:  "SecretNotFound",
			StatusCode: http.StatusNotFound,
		}
	}

	resp := azsecrets.GetSecretResponse{}
	resp.Value = to.Ptr(value)
	return resp, nil
}

// SetSecret mocks the SetSecret operation
func (f *FakeAzureKeyVaultClient) SetSecret(ctx context.Context, name string, parameters azsecrets.SetSecretParameters, options *azsecrets.SetSecretOptions) (azsecrets.SetSecretResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err, ok := f.Errors[name]; ok {
		return azsecrets.SetSecretResponse{}, err
	}
	f.Secrets[name] = *parameters.Value
	if parameters.ContentType != nil {
		f.ContentTypes[name] = *parameters.ContentType
	}

	resp := azsecrets.SetSecretResponse{}
	resp.Value = parameters.Value
	return resp, nil
}

// FakeTokenCredential is an azcore.TokenCredential returning a fixed token.
type FakeTokenCredential struct {
	mu sync.Mutex

	Token string
	Err   error
	// Scopes records the scopes of the last request
	Scopes []string
}

// GetToken implements azcore.TokenCredential
func (f *FakeTokenCredential) GetToken(ctx context.Context, options policy.TokenRequestOptions) (azcore.AccessToken, error) {
	f.mu.Lock()
	f.Scopes = options.Scopes
	f.mu.Unlock()

	if f.Err != nil {
		return azcore.AccessToken{}, f.Err
	}
	return azcore.AccessToken{Token: f.Token}, nil
}
