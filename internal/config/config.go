// Package config loads the gatewayauth configuration file, applies
// environment overrides and turns the result into a broker configuration.
package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/systmms/gatewayauth/internal/broker"
	"github.com/systmms/gatewayauth/internal/credstore"
	dserrors "github.com/systmms/gatewayauth/internal/errors"
	"github.com/systmms/gatewayauth/internal/identity"
	"github.com/systmms/gatewayauth/internal/logging"
	"github.com/systmms/gatewayauth/internal/metrics"
	"github.com/systmms/gatewayauth/internal/validator"
)

//go:embed schema.json
var schemaJSON string

// Defaults applied when the file and the environment leave a key unset.
const (
	DefaultRegion         = "us-west-2"
	DefaultRequestTimeout = 10 * time.Second
	DefaultMaxRetries     = 2
)

// Config holds the runtime configuration
type Config struct {
	Path       string
	EnvFile    string
	Logger     *logging.Logger
	Definition *Definition
}

// Definition is the configuration file structure.
type Definition struct {
	Version           int    `yaml:"version,omitempty"`
	Region            string `yaml:"region,omitempty"`
	GatewayURL        string `yaml:"gateway_url,omitempty"`
	SecretName        string `yaml:"secret_name,omitempty"`
	BearerKey         string `yaml:"bearer_key,omitempty"`
	SecretDescription string `yaml:"secret_description,omitempty"`
	BearerToken       string `yaml:"bearer_token,omitempty"`

	RequestTimeout Duration `yaml:"request_timeout,omitempty"`
	MaxRetries     int      `yaml:"max_retries,omitempty"`

	JSONRPCVersion     string `yaml:"jsonrpc_version,omitempty"`
	MCPProtocolVersion string `yaml:"mcp_protocol_version,omitempty"`
	ClientName         string `yaml:"client_name,omitempty"`
	ClientVersion      string `yaml:"client_version,omitempty"`

	// Order lists token sources by name; empty means the default order.
	Order []string    `yaml:"order,omitempty"`
	Probe ProbeConfig `yaml:"probe,omitempty"`

	Store            *BlockConfig `yaml:"store,omitempty"`
	WorkloadIdentity *BlockConfig `yaml:"workload_identity,omitempty"`
	PasswordExchange *BlockConfig `yaml:"password_exchange,omitempty"`
}

// ProbeConfig overrides the handshake endpoint path.
type ProbeConfig struct {
	Path string `yaml:"path,omitempty"`
}

// BlockConfig selects a backend by type; the remaining keys are passed to
// its factory unchanged.
type BlockConfig struct {
	Type   string                 `yaml:"type"`
	Config map[string]interface{} `yaml:",inline"`
}

// Duration accepts either a Go duration string or a number of seconds.
type Duration time.Duration

// MarshalYAML writes the duration in Go syntax.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var secs int
	if err := node.Decode(&secs); err == nil {
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// envOverrides are read after the file and win over it.
type envOverrides struct {
	BearerToken     string        `env:"GATEWAYAUTH_BEARER_TOKEN"`
	GatewayURL      string        `env:"GATEWAYAUTH_GATEWAY_URL"`
	SecretName      string        `env:"GATEWAYAUTH_SECRET_NAME"`
	Region          string        `env:"GATEWAYAUTH_REGION"`
	RequestTimeout  time.Duration `env:"GATEWAYAUTH_REQUEST_TIMEOUT"`
	MaxRetries      int           `env:"GATEWAYAUTH_MAX_RETRIES"`
	CognitoPassword string        `env:"GATEWAYAUTH_COGNITO_PASSWORD"`
}

// Load reads the env file and the configuration file, validates the file
// against the embedded schema and applies environment overrides. An empty
// Path configures everything from the environment.
func (c *Config) Load() error {
	if c.Logger == nil {
		c.Logger = logging.Discard()
	}

	if err := c.loadEnvFile(); err != nil {
		return err
	}

	def := &Definition{}
	if c.Path != "" {
		data, err := os.ReadFile(c.Path)
		if err != nil {
			if os.IsNotExist(err) {
				return dserrors.ConfigError{
					Field:      "path",
					Value:      c.Path,
					Message:    "configuration file not found",
					Suggestion: "Pass --config with an existing file or configure through GATEWAYAUTH_* variables",
				}
			}
			return dserrors.UserError{
				Message:    "Failed to read configuration file",
				Details:    err.Error(),
				Suggestion: "Check file permissions and path",
				Err:        err,
			}
		}

		if err := validateSchema(data); err != nil {
			return err
		}
		if err := yaml.Unmarshal(data, def); err != nil {
			return dserrors.ConfigError{
				Message:    "invalid configuration file: " + err.Error(),
				Suggestion: "Check for indentation errors, missing quotes, or invalid characters",
			}
		}
	}

	var overrides envOverrides
	if err := env.Parse(&overrides); err != nil {
		return dserrors.ConfigError{
			Field:      "environment",
			Message:    err.Error(),
			Suggestion: "Check the GATEWAYAUTH_* variables; durations look like 10s",
		}
	}
	def.apply(overrides)
	def.setDefaults()

	if err := def.validate(); err != nil {
		return err
	}

	c.Definition = def
	c.Logger.Debug("Loaded configuration (gateway=%q, store=%s)", def.GatewayURL, def.blockType(def.Store))
	return nil
}

func (c *Config) loadEnvFile() error {
	if c.EnvFile == "" {
		_ = godotenv.Load()
		return nil
	}
	if err := godotenv.Load(c.EnvFile); err != nil {
		return dserrors.ConfigError{
			Field:      "env_file",
			Value:      c.EnvFile,
			Message:    "could not load env file: " + err.Error(),
			Suggestion: "Check the --env-file path",
		}
	}
	return nil
}

// validateSchema checks the raw YAML document against schema.json.
func validateSchema(data []byte) error {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return dserrors.ConfigError{
			Message:    "invalid YAML syntax in configuration file",
			Suggestion: "Check for indentation errors, missing quotes, or invalid characters. Use a YAML validator",
		}
	}
	if doc == nil {
		doc = map[string]interface{}{}
	}

	jsonData, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal config for validation: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schemaJSON),
		gojsonschema.NewBytesLoader(jsonData),
	)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if !result.Valid() {
		var msgs []string
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		return dserrors.ConfigError{
			Field:      result.Errors()[0].Field(),
			Message:    "configuration does not match the schema:\n  - " + strings.Join(msgs, "\n  - "),
			Suggestion: "Compare the file with the documented keys",
		}
	}
	return nil
}

func (d *Definition) apply(o envOverrides) {
	if o.BearerToken != "" {
		d.BearerToken = o.BearerToken
	}
	if o.GatewayURL != "" {
		d.GatewayURL = o.GatewayURL
	}
	if o.SecretName != "" {
		d.SecretName = o.SecretName
	}
	if o.Region != "" {
		d.Region = o.Region
	}
	if o.RequestTimeout > 0 {
		d.RequestTimeout = Duration(o.RequestTimeout)
	}
	if o.MaxRetries > 0 {
		d.MaxRetries = o.MaxRetries
	}
	if o.CognitoPassword != "" {
		if d.PasswordExchange == nil {
			d.PasswordExchange = &BlockConfig{Type: "cognito"}
		}
		if d.PasswordExchange.Config == nil {
			d.PasswordExchange.Config = map[string]interface{}{}
		}
		d.PasswordExchange.Config["password"] = o.CognitoPassword
	}
}

func (d *Definition) setDefaults() {
	probe := validator.DefaultProbeConfig()
	if d.Region == "" {
		d.Region = DefaultRegion
	}
	if d.BearerKey == "" {
		d.BearerKey = credstore.DefaultKeyID
	}
	if d.SecretDescription == "" {
		d.SecretDescription = credstore.DefaultDescription
	}
	if d.RequestTimeout <= 0 {
		d.RequestTimeout = Duration(DefaultRequestTimeout)
	}
	if d.MaxRetries <= 0 {
		d.MaxRetries = DefaultMaxRetries
	}
	if d.JSONRPCVersion == "" {
		d.JSONRPCVersion = probe.JSONRPCVersion
	}
	if d.MCPProtocolVersion == "" {
		d.MCPProtocolVersion = probe.ProtocolVersion
	}
	if d.ClientName == "" {
		d.ClientName = probe.ClientName
	}
	if d.ClientVersion == "" {
		d.ClientVersion = probe.ClientVersion
	}
	if d.Probe.Path == "" {
		d.Probe.Path = probe.Path
	}
}

func (d *Definition) validate() error {
	if d.Version != 0 {
		return dserrors.ConfigError{
			Field:      "version",
			Value:      d.Version,
			Message:    "unsupported configuration version",
			Suggestion: "Set 'version: 0' or remove the key",
		}
	}
	if d.GatewayURL != "" {
		u, err := url.Parse(d.GatewayURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return dserrors.ConfigError{
				Field:      "gateway_url",
				Value:      d.GatewayURL,
				Message:    "gateway_url must be an absolute http(s) URL",
				Suggestion: "Use the gateway base URL, e.g. https://gateway.example.com",
			}
		}
	}
	if d.Store != nil && d.SecretName == "" {
		return dserrors.ConfigError{
			Field:      "secret_name",
			Message:    "secret_name is required when a secret store is configured",
			Suggestion: "Set secret_name or GATEWAYAUTH_SECRET_NAME",
		}
	}
	order := make([]broker.SourceKind, 0, len(d.Order))
	for _, name := range d.Order {
		src, err := broker.ParseSourceKind(name)
		if err != nil {
			return dserrors.ConfigError{
				Field:      "order",
				Value:      name,
				Message:    err.Error(),
				Suggestion: "Use config, secret_store, workload_identity or password_exchange",
			}
		}
		order = append(order, src)
	}
	if err := broker.ValidateOrder(order); err != nil {
		return dserrors.ConfigError{
			Field:      "order",
			Value:      strings.Join(d.Order, ","),
			Message:    err.Error(),
			Suggestion: "Drop sources you do not want, but keep the rest in the default sequence",
		}
	}
	return nil
}

func (d *Definition) blockType(b *BlockConfig) string {
	if b == nil {
		return "none"
	}
	return b.Type
}

// Timeout returns the per-call timeout.
func (d *Definition) Timeout() time.Duration {
	return time.Duration(d.RequestTimeout)
}

// ProbeConfig returns the handshake the validator sends.
func (d *Definition) ProbeConfig() validator.ProbeConfig {
	cfg := validator.DefaultProbeConfig()
	cfg.Path = d.Probe.Path
	cfg.Timeout = d.Timeout()
	cfg.JSONRPCVersion = d.JSONRPCVersion
	cfg.ProtocolVersion = d.MCPProtocolVersion
	cfg.ClientName = d.ClientName
	cfg.ClientVersion = d.ClientVersion
	return cfg
}

// settings copies a block's keys and fills in the shared ones it omits.
func (d *Definition) settings(b *BlockConfig, extra map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(b.Config)+len(extra))
	for k, v := range extra {
		out[k] = v
	}
	for k, v := range b.Config {
		out[k] = v
	}
	return out
}

// Factories is where BrokerConfig looks up backends. Nil fields use the
// built-in registries.
type Factories struct {
	Stores    *credstore.Registry
	Providers *identity.Registry
}

// NewStore builds the configured secret store, or nil if none is set.
func (d *Definition) NewStore(reg *credstore.Registry) (credstore.Store, error) {
	if d.Store == nil {
		return nil, nil
	}
	if reg == nil {
		reg = credstore.NewRegistry()
	}
	return reg.Create(d.Store.Type, d.settings(d.Store, map[string]interface{}{
		"region":      d.Region,
		"description": d.SecretDescription,
	}))
}

// NewProvider builds the provider configured under field, or nil.
func (d *Definition) NewProvider(reg *identity.Registry, field string) (identity.Provider, error) {
	var block *BlockConfig
	switch field {
	case "workload_identity":
		block = d.WorkloadIdentity
	case "password_exchange":
		block = d.PasswordExchange
	default:
		return nil, fmt.Errorf("unknown identity block %q", field)
	}
	if block == nil {
		return nil, nil
	}
	if reg == nil {
		reg = identity.NewRegistry()
	}
	return reg.Create(field, block.Type, d.settings(block, map[string]interface{}{
		"region": d.Region,
	}))
}

// BrokerConfig builds the broker configuration. Construction errors are
// ConfigErrors and happen before any network call.
func (c *Config) BrokerConfig(f Factories, m *metrics.Metrics) (broker.Config, error) {
	if c.Definition == nil {
		return broker.Config{}, dserrors.UserError{
			Message:    "Configuration not loaded",
			Suggestion: "This is an internal error. Please report it",
		}
	}
	d := c.Definition

	store, err := d.NewStore(f.Stores)
	if err != nil {
		return broker.Config{}, err
	}
	workload, err := d.NewProvider(f.Providers, "workload_identity")
	if err != nil {
		return broker.Config{}, err
	}
	password, err := d.NewProvider(f.Providers, "password_exchange")
	if err != nil {
		return broker.Config{}, err
	}

	order := make([]broker.SourceKind, 0, len(d.Order))
	for _, name := range d.Order {
		src, _ := broker.ParseSourceKind(name)
		order = append(order, src)
	}

	cfg := broker.Config{
		InlineToken: d.BearerToken,
		GatewayURL:  d.GatewayURL,
		SecretName:  d.SecretName,
		KeyID:       d.BearerKey,
		Store:       store,
		Order:       order,
		CallTimeout: d.Timeout(),
		Logger:      c.Logger,
		Metrics:     m,

		WorkloadIdentity: workload,
		PasswordExchange: password,
	}
	if d.GatewayURL != "" {
		cfg.Validator = validator.New(d.ProbeConfig(),
			validator.WithLogger(c.Logger),
			validator.WithMetrics(m),
		)
	}
	return cfg, nil
}
