package validator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/systmms/gatewayauth/internal/logging"
	"github.com/systmms/gatewayauth/internal/metrics"
)

// maxBody bounds how much of a probe response is read.
const maxBody = 64 << 10

// ProbeConfig describes the handshake request sent to the gateway.
type ProbeConfig struct {
	Path            string
	Timeout         time.Duration
	JSONRPCVersion  string
	ProtocolVersion string
	ClientName      string
	ClientVersion   string
	RequestID       string
}

// DefaultProbeConfig returns the handshake the gateway expects.
func DefaultProbeConfig() ProbeConfig {
	return ProbeConfig{
		Path:            "/mcp",
		Timeout:         10 * time.Second,
		JSONRPCVersion:  "2.0",
		ProtocolVersion: "2024-11-05",
		ClientName:      "robot-agentic-ai",
		ClientVersion:   "1.0.0",
		RequestID:       "1",
	}
}

type initializeRequest struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      string           `json:"id"`
	Method  string           `json:"method"`
	Params  initializeParams `json:"params"`
}

type initializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ClientInfo      clientInfo     `json:"clientInfo"`
}

type clientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeBody renders the JSON-RPC initialize request.
func (c ProbeConfig) InitializeBody() []byte {
	body, _ := json.Marshal(initializeRequest{
		JSONRPC: c.JSONRPCVersion,
		ID:      c.RequestID,
		Method:  "initialize",
		Params: initializeParams{
			ProtocolVersion: c.ProtocolVersion,
			Capabilities:    map[string]any{},
			ClientInfo:      clientInfo{Name: c.ClientName, Version: c.ClientVersion},
		},
	})
	return body
}

// URL joins endpoint and the probe path.
func (c ProbeConfig) URL(endpoint string) string {
	return strings.TrimRight(endpoint, "/") + c.Path
}

// Validator probes tokens against the gateway.
type Validator struct {
	cfg     ProbeConfig
	client  *http.Client
	logger  *logging.Logger
	metrics *metrics.Metrics
}

// Option configures a Validator.
type Option func(*Validator)

// WithHTTPClient sets the HTTP client used for probes.
func WithHTTPClient(client *http.Client) Option {
	return func(v *Validator) {
		v.client = client
	}
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(v *Validator) {
		v.logger = logger
	}
}

// WithMetrics records probe outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(v *Validator) {
		v.metrics = m
	}
}

// New creates a Validator. Zero fields in cfg take their defaults.
func New(cfg ProbeConfig, opts ...Option) *Validator {
	def := DefaultProbeConfig()
	if cfg.Path == "" {
		cfg.Path = def.Path
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.JSONRPCVersion == "" {
		cfg.JSONRPCVersion = def.JSONRPCVersion
	}
	if cfg.ProtocolVersion == "" {
		cfg.ProtocolVersion = def.ProtocolVersion
	}
	if cfg.ClientName == "" {
		cfg.ClientName = def.ClientName
	}
	if cfg.ClientVersion == "" {
		cfg.ClientVersion = def.ClientVersion
	}
	if cfg.RequestID == "" {
		cfg.RequestID = def.RequestID
	}

	v := &Validator{
		cfg:    cfg,
		client: http.DefaultClient,
		logger: logging.Discard(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Config returns the effective probe configuration.
func (v *Validator) Config() ProbeConfig {
	return v.cfg
}

// Probe sends the initialize handshake with token and classifies the reply.
// The call is bounded by the configured timeout.
func (v *Validator) Probe(ctx context.Context, token, endpoint string) Outcome {
	start := time.Now()
	out := v.probe(ctx, token, endpoint)
	v.metrics.RecordProbe(out.Label(), time.Since(start))
	v.logger.Debug("Probe %s with %s: %s", v.cfg.URL(endpoint), logging.Fingerprint(token), out)
	return out
}

func (v *Validator) probe(ctx context.Context, token, endpoint string) Outcome {
	ctx, cancel := context.WithTimeout(ctx, v.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.cfg.URL(endpoint), bytes.NewReader(v.cfg.InitializeBody()))
	if err != nil {
		return Outcome{Kind: OtherError, Detail: fmt.Sprintf("building probe: %v", err), Err: err}
	}
	SetHeaders(req.Header, token)

	resp, err := v.client.Do(req)
	if err != nil {
		return ClassifyError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return ClassifyError(err)
	}
	return Classify(resp.StatusCode, body)
}

// SetHeaders attaches the bearer credential and the content headers the
// gateway requires.
func SetHeaders(h http.Header, token string) {
	h.Set("Authorization", "Bearer "+token)
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "application/json, text/event-stream")
}
