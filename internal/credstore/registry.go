package credstore

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	dserrors "github.com/systmms/gatewayauth/internal/errors"
)

// Factory creates a store from its settings block.
type Factory func(settings map[string]interface{}) (Store, error)

// Registry maps backend type names to factories.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry creates a registry with the built-in backends.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}

	r.Register("aws.secretsmanager", NewSecretsManagerStoreFactory)
	r.Register("aws.ssm", NewSSMStoreFactory)
	r.Register("gcp.secretmanager", NewGCPSecretManagerStoreFactory)
	r.Register("azure.keyvault", NewAzureKeyVaultStoreFactory)
	r.Register("keyring", NewKeyringStoreFactory)
	r.Register("file", NewBoltStoreFactory)
	r.Register("akeyless", NewAkeylessStoreFactory)
	r.Register("sql", NewSQLStoreFactory)
	r.Register("memory", NewMemoryStoreFactory)

	return r
}

// Register adds or replaces a factory.
func (r *Registry) Register(backend string, factory Factory) {
	r.factories[backend] = factory
}

// Create builds the store for backend.
func (r *Registry) Create(backend string, settings map[string]interface{}) (Store, error) {
	factory, ok := r.factories[backend]
	if !ok {
		return nil, dserrors.ConfigError{
			Field:      "store.type",
			Value:      backend,
			Message:    "unknown secret store type",
			Suggestion: fmt.Sprintf("Use one of: %v", r.Types()),
		}
	}
	return factory(settings)
}

// Types lists registered backend names in sorted order.
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

func durationSetting(settings map[string]interface{}, key string, def time.Duration) time.Duration {
	switch v := settings[key].(type) {
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
	case int:
		return time.Duration(v) * time.Second
	case float64:
		return time.Duration(v * float64(time.Second))
	}
	return def
}
