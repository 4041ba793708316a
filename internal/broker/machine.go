package broker

import (
	"context"
	"errors"
	"fmt"

	"github.com/systmms/gatewayauth/internal/credstore"
	dserrors "github.com/systmms/gatewayauth/internal/errors"
	"github.com/systmms/gatewayauth/internal/identity"
	"github.com/systmms/gatewayauth/internal/logging"
	"github.com/systmms/gatewayauth/internal/validator"
)

type state int

const (
	resolving state = iota
	validating
	refreshing
	done
	failed
)

func (s state) String() string {
	return [...]string{"resolving", "validating", "refreshing", "done", "failed"}[s]
}

// machine runs one resolution or one revalidation:
//
//	resolving  -> validating (inline/stored candidate)
//	resolving  -> done       (exchanged token, persisted)
//	resolving  -> failed     (sources exhausted)
//	validating -> done       (valid, unreachable, or no gateway)
//	validating -> refreshing (rejected)
//	refreshing -> done       (new token, or the old one if exchange failed)
//
// It is discarded afterwards; nothing carries over to the next call.
type machine struct {
	b     *Broker
	state state
	next  int

	// resolution is set for Resolve; revalidation starts in validating.
	resolution bool
	candidate  Result
	errs       []error
	trace      []state
}

func (m *machine) run(ctx context.Context) (Result, error) {
	for {
		m.trace = append(m.trace, m.state)

		switch m.state {
		case resolving:
			m.resolveNext(ctx)

		case validating:
			m.validate(ctx)

		case refreshing:
			m.candidate = m.b.refresh(ctx, m.candidate)
			m.state = done

		case done:
			if m.resolution {
				m.b.cfg.Metrics.RecordResolution(m.candidate.Source.String(), "ok")
				m.b.log.Debug("Resolved %s from %s", logging.Fingerprint(m.candidate.Token), m.candidate.Source)
			}
			return m.candidate, nil

		case failed:
			m.b.cfg.Metrics.RecordResolution("none", "error")
			return Result{}, fmt.Errorf("%w: %w", dserrors.ErrNoTokenAvailable, errors.Join(m.errs...))
		}
	}
}

func (m *machine) resolveNext(ctx context.Context) {
	if err := ctx.Err(); err != nil {
		m.errs = append(m.errs, err)
		m.state = failed
		return
	}
	if m.next >= len(m.b.cfg.Order) {
		m.state = failed
		return
	}

	src := m.b.cfg.Order[m.next]
	m.next++

	token, err := m.b.fetch(ctx, src)
	if err != nil {
		m.skip(src, err)
		return
	}

	m.candidate = Result{Token: token, Source: src}
	if src.validated() {
		m.state = validating
		return
	}

	m.b.persist(ctx, token)
	m.state = done
}

func (m *machine) validate(ctx context.Context) {
	m.state = done

	cfg := m.b.cfg
	if cfg.GatewayURL == "" || m.candidate.Token == "" {
		return
	}

	out := cfg.Validator.Probe(ctx, m.candidate.Token, cfg.GatewayURL)
	switch out.Kind {
	case validator.Valid:
		m.b.log.Debug("Token from %s is valid", m.candidate.Source)
	case validator.AuthRejected:
		m.b.log.Info("Token from %s was rejected, refreshing via password exchange", m.candidate.Source)
		m.state = refreshing
	default:
		m.b.log.Warn("Could not validate token from %s (%s); using it unchanged", m.candidate.Source, out)
	}
}

func (m *machine) skip(src SourceKind, err error) {
	log := m.b.log
	switch {
	case errors.Is(err, errSourceDisabled):
		log.Debug("Source %s not configured", src)
	case errors.Is(err, credstore.ErrNotFound):
		log.Debug("No stored token under %q", m.b.cfg.SecretName)
	case errors.Is(err, identity.ErrWorkloadIdentityUnavailable):
		log.Info("Workload identity unavailable, falling back")
	case errors.Is(err, dserrors.ErrStore):
		log.Warn("Secret store read failed, falling back: %v", err)
	default:
		log.Warn("Source %s failed: %v", src, err)
	}
	m.errs = append(m.errs, fmt.Errorf("%s: %w", src, err))
}
