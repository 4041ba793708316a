// Package broker answers "give me a usable bearer token" and "this token
// was just rejected, get me a new one".
//
// Resolution walks an ordered list of sources. Inline and stored tokens may
// be stale, so they are probed first and replaced through password exchange
// when the gateway rejects them. Freshly exchanged tokens are written back
// to the secret store. The broker keeps no token in memory between calls;
// every Resolve reads the store again, so a refresh made by one caller is
// seen by the next.
package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/systmms/gatewayauth/internal/credstore"
	dserrors "github.com/systmms/gatewayauth/internal/errors"
	"github.com/systmms/gatewayauth/internal/identity"
	"github.com/systmms/gatewayauth/internal/logging"
	"github.com/systmms/gatewayauth/internal/metrics"
	"github.com/systmms/gatewayauth/internal/validator"
)

// DefaultCallTimeout bounds each store, exchange and probe call.
const DefaultCallTimeout = 10 * time.Second

// Prober classifies a token against an endpoint.
type Prober interface {
	Probe(ctx context.Context, token, endpoint string) validator.Outcome
}

// Config is everything the broker needs. It is built once by the caller
// and never mutated.
type Config struct {
	// InlineToken is the ConfigSupplied source. Empty disables it.
	InlineToken string
	// GatewayURL is probed to validate candidates. Empty disables
	// validation and candidates are returned unchanged.
	GatewayURL string

	// SecretName names the credential record in Store.
	SecretName string
	// KeyID is written as the record's key id.
	KeyID string
	Store credstore.Store

	Validator        Prober
	WorkloadIdentity identity.Provider
	PasswordExchange identity.Provider

	// Order overrides DefaultOrder.
	Order []SourceKind
	// CallTimeout bounds each collaborator call. Zero means DefaultCallTimeout.
	CallTimeout time.Duration

	Logger  *logging.Logger
	Metrics *metrics.Metrics
}

// Result describes a resolved token.
type Result struct {
	Token  string
	Source SourceKind
	// Refreshed is set when the candidate was rejected and replaced.
	Refreshed bool
}

// Broker resolves and refreshes tokens. Safe for concurrent use.
type Broker struct {
	cfg Config
	log *logging.Logger
}

// New validates cfg and returns a broker.
func New(cfg Config) (*Broker, error) {
	if cfg.Store != nil && cfg.SecretName == "" {
		return nil, dserrors.ConfigError{
			Field:      "secret_name",
			Message:    "secret_name is required when a secret store is configured",
			Suggestion: "Set secret_name or GATEWAYAUTH_SECRET_NAME",
		}
	}
	if cfg.GatewayURL != "" && cfg.Validator == nil {
		cfg.Validator = validator.New(validator.DefaultProbeConfig(), validator.WithMetrics(cfg.Metrics))
	}
	if cfg.KeyID == "" {
		cfg.KeyID = credstore.DefaultKeyID
	}
	if len(cfg.Order) == 0 {
		cfg.Order = DefaultOrder
	}
	if err := ValidateOrder(cfg.Order); err != nil {
		return nil, dserrors.ConfigError{
			Field:      "order",
			Message:    err.Error(),
			Suggestion: "List sources in the order config, secret_store, workload_identity, password_exchange",
		}
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	return &Broker{cfg: cfg, log: cfg.Logger}, nil
}

// errSourceDisabled marks a source that is not configured.
var errSourceDisabled = errors.New("not configured")

// Resolve returns a usable token, or an error satisfying
// errors.Is(err, dserrors.ErrNoTokenAvailable).
func (b *Broker) Resolve(ctx context.Context) (string, error) {
	res, err := b.ResolveResult(ctx)
	if err != nil {
		return "", err
	}
	return res.Token, nil
}

// ResolveResult is Resolve with the producing source attached.
func (b *Broker) ResolveResult(ctx context.Context) (Result, error) {
	m := &machine{b: b, state: resolving, resolution: true}
	return m.run(ctx)
}

// ResolveWithRetry repeats Resolve up to attempts times. attempts below 1
// is treated as 1.
func (b *Broker) ResolveWithRetry(ctx context.Context, attempts int) (string, error) {
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		token, err := b.Resolve(ctx)
		if err == nil {
			return token, nil
		}
		lastErr = err
		if ctx.Err() != nil || dserrors.IsConfigError(err) {
			break
		}
		if attempt < attempts {
			b.log.Warn("Token resolution attempt %d/%d failed, retrying: %v", attempt, attempts, err)
		}
	}
	return "", lastErr
}

// ValidateAndRefresh probes token. A rejected token is replaced through
// password exchange, persisted, and the new token returned. If the probe
// fails for any other reason, or the exchange fails, token is returned
// unchanged so the caller's own request fails visibly.
func (b *Broker) ValidateAndRefresh(ctx context.Context, token string) string {
	m := &machine{b: b, state: validating, candidate: Result{Token: token, Source: CallerSupplied}}
	res, _ := m.run(ctx)
	return res.Token
}

// ForceRefresh runs password exchange unconditionally and persists the
// result. Workload identity is not consulted. Failure satisfies
// errors.Is(err, dserrors.ErrNoTokenAvailable) unless password exchange is
// not configured, which is a ConfigError.
func (b *Broker) ForceRefresh(ctx context.Context) (string, error) {
	if b.cfg.PasswordExchange == nil {
		b.cfg.Metrics.RecordRefresh("forced", "unconfigured")
		return "", dserrors.ConfigError{
			Field:      "password_exchange",
			Message:    "no password exchange provider is configured, so a rejected token cannot be replaced",
			Suggestion: "Configure password_exchange (cognito or oauth2.password)",
		}
	}

	token, err := b.exchange(ctx, b.cfg.PasswordExchange)
	if err != nil {
		b.cfg.Metrics.RecordRefresh("forced", "error")
		b.log.Error("Forced refresh failed: %v", err)
		return "", fmt.Errorf("%w: forced refresh: %w", dserrors.ErrNoTokenAvailable, err)
	}

	b.cfg.Metrics.RecordRefresh("forced", "ok")
	b.persist(ctx, token)
	b.log.Info("Forced refresh obtained %s", logging.Fingerprint(token))
	return token, nil
}

func (b *Broker) refresh(ctx context.Context, candidate Result) Result {
	if b.cfg.PasswordExchange == nil {
		b.cfg.Metrics.RecordRefresh("revalidate", "unconfigured")
		b.log.Warn("No password exchange configured; keeping rejected token")
		return candidate
	}

	token, err := b.exchange(ctx, b.cfg.PasswordExchange)
	if err != nil {
		b.cfg.Metrics.RecordRefresh("revalidate", "error")
		b.log.Warn("Password exchange failed, keeping rejected token: %v", err)
		return candidate
	}

	b.cfg.Metrics.RecordRefresh("revalidate", "ok")
	b.persist(ctx, token)
	return Result{Token: token, Source: candidate.Source, Refreshed: true}
}

func (b *Broker) exchange(ctx context.Context, p identity.Provider) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.CallTimeout)
	defer cancel()

	token, err := p.Exchange(ctx)
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", fmt.Errorf("%s returned an empty token", p.Name())
	}
	return token, nil
}

func (b *Broker) fetch(ctx context.Context, src SourceKind) (string, error) {
	switch src {
	case ConfigSupplied:
		if b.cfg.InlineToken == "" {
			return "", errSourceDisabled
		}
		return b.cfg.InlineToken, nil

	case SecretStore:
		if b.cfg.Store == nil {
			return "", errSourceDisabled
		}
		ctx, cancel := context.WithTimeout(ctx, b.cfg.CallTimeout)
		defer cancel()
		rec, err := b.cfg.Store.Get(ctx, b.cfg.SecretName)
		if err != nil {
			return "", err
		}
		return rec.Token, nil

	case WorkloadIdentity:
		if b.cfg.WorkloadIdentity == nil {
			return "", errSourceDisabled
		}
		return b.exchange(ctx, b.cfg.WorkloadIdentity)

	case PasswordExchange:
		if b.cfg.PasswordExchange == nil {
			return "", errSourceDisabled
		}
		return b.exchange(ctx, b.cfg.PasswordExchange)
	}
	return "", fmt.Errorf("unknown source %v", src)
}

// persist writes token to the store. A failed write is logged and counted
// but never returned: the caller still gets the fresh token, it just will
// not survive a restart.
func (b *Broker) persist(ctx context.Context, token string) {
	if b.cfg.Store == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, b.cfg.CallTimeout)
	defer cancel()

	err := b.cfg.Store.Put(ctx, b.cfg.SecretName, credstore.Record{KeyID: b.cfg.KeyID, Token: token})
	if err != nil {
		b.cfg.Metrics.RecordStoreWrite(b.cfg.Store.Name(), "error")
		b.log.Warn("Could not persist refreshed token to %s: %v", b.cfg.Store.Name(), err)
		return
	}
	b.cfg.Metrics.RecordStoreWrite(b.cfg.Store.Name(), "ok")
	b.log.Debug("Persisted %s to %s", logging.Fingerprint(token), b.cfg.Store.Name())
}
