// Package toolset opens an MCP session to the gateway and lists its tools.
//
// The token is probed before the session is opened so that a long-lived
// connection is never established with a token already known to be
// rejected.
package toolset

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	dserrors "github.com/systmms/gatewayauth/internal/errors"
	"github.com/systmms/gatewayauth/internal/logging"
	"github.com/systmms/gatewayauth/internal/validator"
)

// resolveAttempts is the inner retry budget for token resolution.
const resolveAttempts = 2

// TokenBroker is the part of the broker the loader needs.
type TokenBroker interface {
	ResolveWithRetry(ctx context.Context, attempts int) (string, error)
	ForceRefresh(ctx context.Context) (string, error)
}

// Prober classifies a token against the gateway.
type Prober interface {
	Probe(ctx context.Context, token, endpoint string) validator.Outcome
}

// Toolset is an open session and the tools it advertised.
type Toolset struct {
	Tools   []*mcp.Tool
	Session *mcp.ClientSession
}

// Close ends the session.
func (t *Toolset) Close() error {
	if t == nil || t.Session == nil {
		return nil
	}
	return t.Session.Close()
}

// Names returns the tool names in listing order.
func (t *Toolset) Names() []string {
	names := make([]string, 0, len(t.Tools))
	for _, tool := range t.Tools {
		names = append(names, tool.Name)
	}
	return names
}

// Loader connects to the gateway's MCP endpoint.
type Loader struct {
	tokens     TokenBroker
	prober     Prober
	cfg        validator.ProbeConfig
	httpClient *http.Client
	logger     *logging.Logger
}

// Option configures a Loader.
type Option func(*Loader)

// WithProber replaces the default validator.
func WithProber(p Prober) Option {
	return func(l *Loader) {
		l.prober = p
	}
}

// WithProbeConfig sets the MCP path and the client identity.
func WithProbeConfig(cfg validator.ProbeConfig) Option {
	return func(l *Loader) {
		l.cfg = cfg
	}
}

// WithHTTPClient sets the client the MCP session is built on.
func WithHTTPClient(client *http.Client) Option {
	return func(l *Loader) {
		l.httpClient = client
	}
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(l *Loader) {
		l.logger = logger
	}
}

// New creates a Loader.
func New(tokens TokenBroker, opts ...Option) *Loader {
	l := &Loader{
		tokens:     tokens,
		cfg:        validator.DefaultProbeConfig(),
		httpClient: http.DefaultClient,
		logger:     logging.Discard(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.prober == nil {
		l.prober = validator.New(l.cfg,
			validator.WithHTTPClient(l.httpClient),
			validator.WithLogger(l.logger),
		)
	}
	return l
}

// Load probes the token, opens a session and lists every tool. A rejected
// token is replaced through a forced refresh and the whole setup retried,
// within maxAttempts (values below 1 mean 1). Any other probe failure
// aborts at once.
func (l *Loader) Load(ctx context.Context, endpoint string, maxAttempts int) (*Toolset, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	op := "load tools from " + l.cfg.URL(endpoint)

	token, err := l.tokens.ResolveWithRetry(ctx, resolveAttempts)
	if err != nil {
		return nil, &dserrors.RequestError{Kind: dserrors.ErrNoTokenAvailable, Op: op, LastError: err.Error(), Err: err}
	}

	var last validator.Outcome
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		last = l.prober.Probe(ctx, token, endpoint)

		if last.Kind == validator.Valid {
			ts, status, err := l.connect(ctx, endpoint, token)
			if err == nil {
				l.logger.Info("Loaded %d tool(s) from %s", len(ts.Tools), l.cfg.URL(endpoint))
				return ts, nil
			}
			if status == 0 {
				last = validator.ClassifyError(err)
			} else {
				last = validator.Classify(status, nil)
				last.Err = err
			}
		}

		switch {
		case last.Kind == validator.AuthRejected:
			if attempt == maxAttempts {
				return nil, l.failure(dserrors.ErrRetriesExhausted, op, attempt, last, dserrors.ErrAuthRejected)
			}
			l.logger.Warn("Gateway rejected %s (attempt %d/%d), refreshing", logging.Fingerprint(token), attempt, maxAttempts)
			fresh, err := l.tokens.ForceRefresh(ctx)
			if err != nil {
				return nil, l.failure(dserrors.ErrNoTokenAvailable, op, attempt, last, err)
			}
			token = fresh

		case last.Transient:
			return nil, l.failure(dserrors.ErrTransient, op, attempt, last, last.Err)

		default:
			return nil, l.failure(dserrors.ErrRequestRejected, op, attempt, last, last.Err)
		}
	}

	return nil, l.failure(dserrors.ErrRetriesExhausted, op, maxAttempts, last, nil)
}

// connect opens a session and pages through the tool list. The returned
// status is the last HTTP status the session saw, zero if none.
func (l *Loader) connect(ctx context.Context, endpoint, token string) (*Toolset, int, error) {
	rt := &bearerTransport{token: token, base: l.httpClient.Transport}
	transport := &mcp.StreamableClientTransport{
		Endpoint: l.cfg.URL(endpoint),
		HTTPClient: &http.Client{
			Transport: rt,
			Timeout:   l.httpClient.Timeout,
		},
		DisableStandaloneSSE: true,
	}

	client := mcp.NewClient(&mcp.Implementation{Name: l.cfg.ClientName, Version: l.cfg.ClientVersion}, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, rt.lastStatus(), fmt.Errorf("connecting MCP session: %w", err)
	}

	var tools []*mcp.Tool
	params := &mcp.ListToolsParams{}
	for {
		res, err := session.ListTools(ctx, params)
		if err != nil {
			_ = session.Close()
			return nil, rt.lastStatus(), fmt.Errorf("listing tools: %w", err)
		}
		tools = append(tools, res.Tools...)
		if res.NextCursor == "" {
			break
		}
		params = &mcp.ListToolsParams{Cursor: res.NextCursor}
	}

	return &Toolset{Tools: tools, Session: session}, 0, nil
}

func (l *Loader) failure(kind error, op string, attempts int, last validator.Outcome, cause error) error {
	l.logger.Error("%s failed after %d attempt(s): %s", op, attempts, last)
	lastErr := last.Detail
	if lastErr == "" && cause != nil {
		lastErr = cause.Error()
	}
	return &dserrors.RequestError{
		Kind:       kind,
		Op:         op,
		StatusCode: last.StatusCode,
		Attempts:   attempts,
		LastError:  lastErr,
		Err:        cause,
	}
}

// bearerTransport adds the token to every request the session sends and
// remembers the most recent non-2xx status.
type bearerTransport struct {
	token  string
	base   http.RoundTripper
	status atomic.Int32
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+t.token)

	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	resp, err := base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		t.status.Store(int32(resp.StatusCode))
	}
	return resp, nil
}

func (t *bearerTransport) lastStatus() int {
	return int(t.status.Load())
}
