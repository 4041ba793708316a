// Package metrics exposes Prometheus counters for token resolution,
// refreshes, probes, request attempts and store writes.
//
// Metrics are registered once with InitMetrics. Until then every Record
// method is a no-op, so library users that never enable metrics pay nothing.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/systmms/gatewayauth/internal/logging"
)

var (
	resolutionsTotal  *prometheus.CounterVec
	refreshesTotal    *prometheus.CounterVec
	probeOutcomes     *prometheus.CounterVec
	probeDuration     prometheus.Histogram
	requestAttempts   *prometheus.CounterVec
	storeWritesTotal  *prometheus.CounterVec
	metricsOnce       sync.Once
	metricsRegistered atomic.Bool
)

// Metrics records broker and transport events.
type Metrics struct{}

// New returns a recorder. Metrics are lazily registered by InitMetrics.
func New() *Metrics {
	return &Metrics{}
}

// InitMetrics registers all metrics with the default registry.
func InitMetrics() {
	metricsOnce.Do(func() {
		resolutionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatewayauth_token_resolutions_total",
				Help: "Token resolutions by the source that produced the token",
			},
			[]string{"source", "result"},
		)

		refreshesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatewayauth_token_refreshes_total",
				Help: "Password-exchange refreshes by trigger",
			},
			[]string{"trigger", "result"},
		)

		probeOutcomes = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatewayauth_probe_outcomes_total",
				Help: "Token probe outcomes",
			},
			[]string{"outcome"},
		)

		probeDuration = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gatewayauth_probe_duration_seconds",
				Help:    "Duration of token probes in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
		)

		requestAttempts = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatewayauth_request_attempts_total",
				Help: "Authenticated request attempts by classified outcome",
			},
			[]string{"outcome"},
		)

		storeWritesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatewayauth_store_writes_total",
				Help: "Credential record writes by backend",
			},
			[]string{"backend", "result"},
		)

		metricsRegistered.Store(true)
	})
}

// RecordResolution records which source produced a token ("none" on failure).
func (m *Metrics) RecordResolution(source, result string) {
	if !metricsRegistered.Load() {
		return
	}
	resolutionsTotal.WithLabelValues(source, result).Inc()
}

// RecordRefresh records a password-exchange refresh.
// trigger is "revalidate" or "forced".
func (m *Metrics) RecordRefresh(trigger, result string) {
	if !metricsRegistered.Load() {
		return
	}
	refreshesTotal.WithLabelValues(trigger, result).Inc()
}

// RecordProbe records a probe outcome and its latency.
func (m *Metrics) RecordProbe(outcome string, elapsed time.Duration) {
	if !metricsRegistered.Load() {
		return
	}
	probeOutcomes.WithLabelValues(outcome).Inc()
	probeDuration.Observe(elapsed.Seconds())
}

// RecordAttempt records one authenticated request attempt.
func (m *Metrics) RecordAttempt(outcome string) {
	if !metricsRegistered.Load() {
		return
	}
	requestAttempts.WithLabelValues(outcome).Inc()
}

// RecordStoreWrite records a credential record write.
func (m *Metrics) RecordStoreWrite(backend, result string) {
	if !metricsRegistered.Load() {
		return
	}
	storeWritesTotal.WithLabelValues(backend, result).Inc()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, logger *logging.Logger) error {
	InitMetrics()

	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Debug("Serving metrics on %s/metrics", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
