package credstore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"

	dserrors "github.com/systmms/gatewayauth/internal/errors"
)

// AzureKeyVaultClientAPI defines the Key Vault operations the store uses.
// This allows for mocking in tests
type AzureKeyVaultClientAPI interface {
	GetSecret(ctx context.Context, name string, version string, options *azsecrets.GetSecretOptions) (azsecrets.GetSecretResponse, error)
	SetSecret(ctx context.Context, name string, parameters azsecrets.SetSecretParameters, options *azsecrets.SetSecretOptions) (azsecrets.SetSecretResponse, error)
}

// AzureKeyVaultStore keeps the record as a Key Vault secret.
type AzureKeyVaultStore struct {
	client   AzureKeyVaultClientAPI
	vaultURL string
}

// AzureOption configures the Key Vault store.
type AzureOption func(*AzureKeyVaultStore)

// WithAzureClient sets a custom Key Vault client (for testing)
func WithAzureClient(client AzureKeyVaultClientAPI) AzureOption {
	return func(s *AzureKeyVaultStore) {
		s.client = client
	}
}

// NewAzureKeyVaultStore creates a Key Vault backed store.
//
// Recognised settings: vault_url, tenant_id, client_id, client_secret,
// user_assigned_identity_id, use_managed_identity.
func NewAzureKeyVaultStore(settings map[string]interface{}, opts ...AzureOption) (*AzureKeyVaultStore, error) {
	vaultURL := stringSetting(settings, "vault_url", "")
	if vaultURL == "" {
		return nil, dserrors.ConfigError{
			Field:      "store.vault_url",
			Message:    "vault_url is required for Azure Key Vault",
			Suggestion: "Provide the Key Vault URL (e.g., https://my-vault.vault.azure.net/)",
		}
	}
	if u, err := url.Parse(vaultURL); err != nil || u.Scheme != "https" {
		return nil, dserrors.ConfigError{
			Field:      "store.vault_url",
			Value:      vaultURL,
			Message:    "Invalid vault_url format",
			Suggestion: "Use format: https://vault-name.vault.azure.net/",
		}
	}

	s := &AzureKeyVaultStore{vaultURL: vaultURL}
	for _, opt := range opts {
		opt(s)
	}

	if s.client == nil {
		cred, err := azureCredential(settings)
		if err != nil {
			return nil, fmt.Errorf("failed to create Azure credential: %w", err)
		}
		client, err := azsecrets.NewClient(vaultURL, cred, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create Key Vault client: %w", err)
		}
		s.client = client
	}

	return s, nil
}

func azureCredential(settings map[string]interface{}) (azcore.TokenCredential, error) {
	useManagedIdentity := true
	if v, ok := settings["use_managed_identity"].(bool); ok {
		useManagedIdentity = v
	}

	clientSecret := stringSetting(settings, "client_secret", "")
	switch {
	case clientSecret != "":
		return azidentity.NewClientSecretCredential(
			stringSetting(settings, "tenant_id", ""),
			stringSetting(settings, "client_id", ""),
			clientSecret, nil)
	case useManagedIdentity:
		var opts *azidentity.ManagedIdentityCredentialOptions
		if id := stringSetting(settings, "user_assigned_identity_id", ""); id != "" {
			opts = &azidentity.ManagedIdentityCredentialOptions{ID: azidentity.ClientID(id)}
		}
		return azidentity.NewManagedIdentityCredential(opts)
	default:
		return azidentity.NewDefaultAzureCredential(nil)
	}
}

// Name returns the backend name
func (s *AzureKeyVaultStore) Name() string {
	return "azure.keyvault"
}

// Get reads the current version of the secret.
func (s *AzureKeyVaultStore) Get(ctx context.Context, name string) (Record, error) {
	resp, err := s.client.GetSecret(ctx, name, "", nil)
	if err != nil {
		if isAzureNotFound(err) {
			return Record{}, ErrNotFound
		}
		return Record{}, &StoreError{Backend: s.Name(), Op: "get", Name: name, Err: err}
	}
	if resp.Value == nil {
		return Record{}, ErrNotFound
	}

	rec, err := Unmarshal(*resp.Value)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return Record{}, &StoreError{Backend: s.Name(), Op: "get", Name: name, Err: err}
	}
	return rec, err
}

// Put sets a new version. Key Vault creates the secret on first write.
func (s *AzureKeyVaultStore) Put(ctx context.Context, name string, rec Record) error {
	value, err := Marshal(rec)
	if err != nil {
		return &StoreError{Backend: s.Name(), Op: "put", Name: name, Err: err}
	}

	contentType := "application/json"
	_, err = s.client.SetSecret(ctx, name, azsecrets.SetSecretParameters{
		Value:       &value,
		ContentType: &contentType,
	}, nil)
	if err != nil {
		return &StoreError{Backend: s.Name(), Op: "put", Name: name, Err: err}
	}
	return nil
}

func isAzureNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}

// NewAzureKeyVaultStoreFactory adapts NewAzureKeyVaultStore to the registry.
func NewAzureKeyVaultStoreFactory(settings map[string]interface{}) (Store, error) {
	return NewAzureKeyVaultStore(settings)
}
