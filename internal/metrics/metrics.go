package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Service provides Prometheus metrics for the signing service. A nil *Service
// is valid and records nothing.
type Service struct {
	registry *prometheus.Registry

	providerCallsTotal   *prometheus.CounterVec
	providerCallDuration *prometheus.HistogramVec
	signingOutcomesTotal *prometheus.CounterVec
	evidenceEntriesTotal *prometheus.CounterVec
	pendingSessions      prometheus.Gauge
}

// NewService registers the collectors on a dedicated registry.
func NewService() *Service {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Service{
		registry: reg,
		providerCallsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qessign_provider_calls_total",
				Help: "Total number of trust service provider calls by operation and result",
			},
			[]string{"operation", "result"},
		),
		providerCallDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "qessign_provider_call_duration_seconds",
				Help:    "Trust service provider call latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		signingOutcomesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qessign_signing_outcomes_total",
				Help: "Finished signing attempts by outcome",
			},
			[]string{"outcome"},
		),
		evidenceEntriesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qessign_evidence_entries_total",
				Help: "Revocation evidence entries embedded into documents by kind",
			},
			[]string{"kind"},
		),
		pendingSessions: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "qessign_pending_sessions",
				Help: "Signing attempts holding a prepared document that was neither signed nor released",
			},
		),
	}
}

// RecordProviderCall records one provider call. result is "ok" or an error
// class such as "protocol" or "transport".
func (s *Service) RecordProviderCall(operation, result string, duration time.Duration) {
	if s == nil {
		return
	}
	s.providerCallsTotal.WithLabelValues(operation, result).Inc()
	s.providerCallDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordOutcome counts a finished signing attempt.
func (s *Service) RecordOutcome(outcome string) {
	if s == nil {
		return
	}
	s.signingOutcomesTotal.WithLabelValues(outcome).Inc()
}

// RecordEvidence counts embedded evidence entries of kind.
func (s *Service) RecordEvidence(kind string, n int) {
	if s == nil || n <= 0 {
		return
	}
	s.evidenceEntriesTotal.WithLabelValues(kind).Add(float64(n))
}

// SetPendingSessions records how many attempts hold a prepared document.
func (s *Service) SetPendingSessions(n int) {
	if s == nil {
		return
	}
	s.pendingSessions.Set(float64(n))
}

// Registry exposes the underlying registry, mainly for tests.
func (s *Service) Registry() *prometheus.Registry {
	return s.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (s *Service) Handler() http.Handler {
	if s == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}
