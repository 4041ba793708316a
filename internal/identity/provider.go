// Package identity exchanges an identity for an opaque bearer token.
//
// Two families exist. Workload-identity providers use whatever ambient
// identity the hosting runtime grants and fail with
// ErrWorkloadIdentityUnavailable when there is none. Password-exchange
// providers trade explicit credentials for a token. Callers never look
// inside the token.
package identity

import (
	"context"
	"errors"
	"fmt"
	"sort"

	dserrors "github.com/systmms/gatewayauth/internal/errors"
)

// ErrWorkloadIdentityUnavailable means the runtime has granted no ambient
// identity. It is an expected condition outside managed runtimes.
var ErrWorkloadIdentityUnavailable = errors.New("workload identity not available in this environment")

// Provider returns a fresh token on every Exchange.
type Provider interface {
	Name() string
	Exchange(ctx context.Context) (string, error)
}

// AuthError means the identity service refused the presented credentials.
// Retrying with the same credentials will not help.
type AuthError struct {
	Provider string
	Reason   string
	Err      error
}

func (e *AuthError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: credentials refused: %s", e.Provider, e.Reason)
	}
	return fmt.Sprintf("%s: credentials refused: %v", e.Provider, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// IsAuthError reports whether err is (or wraps) an AuthError.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

func unavailable(provider string, err error) error {
	if err == nil {
		return fmt.Errorf("%s: %w", provider, ErrWorkloadIdentityUnavailable)
	}
	return fmt.Errorf("%s: %w: %v", provider, ErrWorkloadIdentityUnavailable, err)
}

// Factory creates a provider from its settings block.
type Factory func(settings map[string]interface{}) (Provider, error)

// Registry maps provider type names to factories.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry creates a registry with the built-in providers.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}

	r.Register("cognito", NewCognitoProviderFactory)
	r.Register("oauth2.password", NewOAuth2PasswordProviderFactory)
	r.Register("agentcore", NewAgentCoreProviderFactory)
	r.Register("azure.managed_identity", NewAzureManagedIdentityProviderFactory)
	r.Register("spiffe", NewSPIFFEProviderFactory)

	return r
}

// Register adds or replaces a factory.
func (r *Registry) Register(providerType string, factory Factory) {
	r.factories[providerType] = factory
}

// Create builds the provider for providerType.
func (r *Registry) Create(field, providerType string, settings map[string]interface{}) (Provider, error) {
	factory, ok := r.factories[providerType]
	if !ok {
		return nil, dserrors.ConfigError{
			Field:      field + ".type",
			Value:      providerType,
			Message:    "unknown identity provider type",
			Suggestion: fmt.Sprintf("Use one of: %v", r.Types()),
		}
	}
	return factory(settings)
}

// Types lists registered provider names in sorted order.
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.factories))
	for name := range r.factories {
		types = append(types, name)
	}
	sort.Strings(types)
	return types
}

func stringSetting(settings map[string]interface{}, key, def string) string {
	if v, ok := settings[key].(string); ok && v != "" {
		return v
	}
	return def
}

func stringsSetting(settings map[string]interface{}, key string) []string {
	switch v := settings[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v != "" {
			return []string{v}
		}
	}
	return nil
}

// missingFields builds one ConfigError naming every missing field.
func missingFields(block string, missing []string, suggestion string) error {
	if len(missing) == 0 {
		return nil
	}
	return dserrors.ConfigError{
		Field:      block,
		Message:    fmt.Sprintf("missing required field(s): %v", missing),
		Suggestion: suggestion,
	}
}
