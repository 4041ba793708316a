// Package transport sends requests with a broker-supplied bearer token.
//
// A rejected token is replaced once per observed rejection through the
// broker's forced refresh; transient failures are retried with the same
// token. Both kinds of retry draw from one attempt budget chosen by the
// caller.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	dserrors "github.com/systmms/gatewayauth/internal/errors"
	"github.com/systmms/gatewayauth/internal/logging"
	"github.com/systmms/gatewayauth/internal/metrics"
	"github.com/systmms/gatewayauth/internal/validator"
)

const (
	// DefaultTimeout bounds a single attempt.
	DefaultTimeout = 10 * time.Second

	// maxResponseBody bounds how much of a response is buffered.
	maxResponseBody = 10 << 20
)

// TokenSource is the part of the broker the transport needs.
type TokenSource interface {
	Resolve(ctx context.Context) (string, error)
	ForceRefresh(ctx context.Context) (string, error)
}

// Request is an outbound call. Header values are copied onto every attempt;
// the bearer and content headers are always overwritten.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Response is a successful (2xx) reply.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	// Attempts is how many sends it took.
	Attempts int
}

// Client executes authenticated requests.
type Client struct {
	httpClient *http.Client
	tokens     TokenSource
	timeout    time.Duration
	backoff    func() backoff.BackOff
	logger     *logging.Logger
	metrics    *metrics.Metrics
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout bounds each attempt.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithBackoff sets the pause schedule between transient retries.
// Zero disables pausing.
func WithBackoff(initial, max time.Duration) Option {
	return func(c *Client) {
		c.backoff = func() backoff.BackOff {
			if initial <= 0 {
				return &backoff.ZeroBackOff{}
			}
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = initial
			b.MaxInterval = max
			return b
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithMetrics records attempt outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// New creates a Client drawing tokens from tokens.
func New(tokens TokenSource, opts ...Option) *Client {
	c := &Client{
		httpClient: http.DefaultClient,
		tokens:     tokens,
		timeout:    DefaultTimeout,
		logger:     logging.Discard(),
	}
	WithBackoff(200*time.Millisecond, 2*time.Second)(c)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Execute sends req, retrying within maxAttempts total sends. Values below
// 1 are treated as 1.
//
// On rejection the broker is asked for exactly one replacement token before
// the next send. On a transient failure the same token is sent again. A
// definitive failure (e.g. 400, 404) is returned at once. Every failure is
// a *dserrors.RequestError.
func (c *Client) Execute(ctx context.Context, req *Request, maxAttempts int) (*Response, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	op := req.Method + " " + req.URL

	token, err := c.tokens.Resolve(ctx)
	if err != nil {
		return nil, &dserrors.RequestError{
			Kind:      dserrors.ErrNoTokenAvailable,
			Op:        op,
			LastError: err.Error(),
			Err:       err,
		}
	}

	pause := c.backoff()
	var last validator.Outcome

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		c.logger.Debug("%s attempt %d/%d with %s", op, attempt, maxAttempts, logging.Fingerprint(token))

		resp, out := c.send(ctx, req, token)
		c.metrics.RecordAttempt(out.Label())
		last = out

		switch {
		case out.Kind == validator.Valid:
			resp.Attempts = attempt
			return resp, nil

		case out.Kind == validator.AuthRejected:
			if attempt == maxAttempts {
				return nil, c.failure(dserrors.ErrRetriesExhausted, op, attempt, last, dserrors.ErrAuthRejected)
			}
			c.logger.Info("%s rejected the token (attempt %d/%d), refreshing", op, attempt, maxAttempts)
			fresh, err := c.tokens.ForceRefresh(ctx)
			if err != nil {
				return nil, c.failure(dserrors.ErrNoTokenAvailable, op, attempt, last, err)
			}
			token = fresh

		case !out.Transient:
			return nil, c.failure(dserrors.ErrRequestRejected, op, attempt, last, out.Err)

		default:
			if attempt == maxAttempts {
				return nil, c.failure(dserrors.ErrRetriesExhausted, op, attempt, last, transientCause(out))
			}
			wait := pause.NextBackOff()
			c.logger.Warn("%s failed transiently (%s), retrying in %s", op, out, wait)
			if err := sleep(ctx, wait); err != nil {
				return nil, c.failure(dserrors.ErrTransient, op, attempt, last, err)
			}
		}
	}

	// Unreachable: every branch on the final attempt returns.
	return nil, c.failure(dserrors.ErrRetriesExhausted, op, maxAttempts, last, nil)
}

func (c *Client) send(ctx context.Context, req *Request, token string) (*Response, validator.Outcome) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, validator.Outcome{Kind: validator.OtherError, Detail: err.Error(), Err: err}
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	validator.SetHeaders(httpReq.Header, token)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, validator.ClassifyError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, validator.ClassifyError(err)
	}

	out := validator.Classify(resp.StatusCode, data)
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, out
}

func (c *Client) failure(kind error, op string, attempts int, last validator.Outcome, cause error) error {
	c.logger.Error("%s failed after %d attempt(s): %s", op, attempts, last)

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

func transientCause(out validator.Outcome) error {
	if out.Err != nil {
		return fmt.Errorf("%w: %w", dserrors.ErrTransient, out.Err)
	}
	return dserrors.ErrTransient
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// IsRetryable reports whether err is worth retrying later with a new
// Execute call.
func IsRetryable(err error) bool {
	return errors.Is(err, dserrors.ErrTransient) || errors.Is(err, dserrors.ErrRetriesExhausted)
}
