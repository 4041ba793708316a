// Package testutil provides test utilities and helpers for gatewayauth tests.
//
// This package contains shared test infrastructure including configuration
// builders, environment helpers and the credential store contract suite.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/systmms/gatewayauth/internal/config"
)

// TestConfigBuilder provides a fluent API for building test configurations.
//
// Example usage:
//
//	path := NewTestConfig(t).
//	    WithGateway("https://gw.example.com").
//	    WithStore("memory", nil).
//	    WithPasswordExchange("cognito", map[string]any{
//	        "client_id": "abc", "username": "robot", "password": "pw",
//	    }).
//	    Write()
type TestConfigBuilder struct {
	config  *config.Definition
	tempDir string
	t       *testing.T
}

// NewTestConfig creates a builder with an empty definition.
func NewTestConfig(t *testing.T) *TestConfigBuilder {
	t.Helper()

	return &TestConfigBuilder{
		config:  &config.Definition{},
		tempDir: t.TempDir(),
		t:       t,
	}
}

// WithGateway sets gateway_url.
func (b *TestConfigBuilder) WithGateway(url string) *TestConfigBuilder {
	b.config.GatewayURL = url
	return b
}

// WithInlineToken sets bearer_token.
func (b *TestConfigBuilder) WithInlineToken(token string) *TestConfigBuilder {
	b.config.BearerToken = token
	return b
}

// WithTimeout sets request_timeout.
func (b *TestConfigBuilder) WithTimeout(d time.Duration) *TestConfigBuilder {
	b.config.RequestTimeout = config.Duration(d)
	return b
}

// WithStore configures the secret store and a default secret name.
func (b *TestConfigBuilder) WithStore(storeType string, cfg map[string]any) *TestConfigBuilder {
	b.config.Store = &config.BlockConfig{Type: storeType, Config: cfg}
	if b.config.SecretName == "" {
		b.config.SecretName = "test/mcp-credentials"
	}
	return b
}

// WithWorkloadIdentity configures the workload identity provider.
func (b *TestConfigBuilder) WithWorkloadIdentity(providerType string, cfg map[string]any) *TestConfigBuilder {
	b.config.WorkloadIdentity = &config.BlockConfig{Type: providerType, Config: cfg}
	return b
}

// WithPasswordExchange configures the password exchange provider.
func (b *TestConfigBuilder) WithPasswordExchange(providerType string, cfg map[string]any) *TestConfigBuilder {
	b.config.PasswordExchange = &config.BlockConfig{Type: providerType, Config: cfg}
	return b
}

// Build returns the in-memory definition.
func (b *TestConfigBuilder) Build() *config.Definition {
	return b.config
}

// Write writes the configuration to a temporary file and returns the path.
func (b *TestConfigBuilder) Write() string {
	b.t.Helper()

	data, err := yaml.Marshal(b.config)
	if err != nil {
		b.t.Fatalf("Failed to marshal test config: %v", err)
	}
	path := filepath.Join(b.tempDir, "gatewayauth.yaml")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		b.t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

// WriteTestConfig writes a YAML string to a temporary file and returns its
// path.
//
// Example:
//
//	path := WriteTestConfig(t, `
//	gateway_url: https://gw.example.com
//	bearer_token: abc
//	`)
func WriteTestConfig(t *testing.T, yamlContent string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "gatewayauth.yaml")
	if err := os.WriteFile(path, []byte(yamlContent), 0o600); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}
