package http

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/seymr/contactguard/internal/domain/ratelimit"
)

const metricsNamespace = "contactguard"

// Metrics holds all Prometheus metrics for contactguard.
// Pass to components that need to record metrics.
type Metrics struct {
	RequestsTotal       *prometheus.CounterVec
	RequestDuration     *prometheus.HistogramVec
	DecisionsTotal      *prometheus.CounterVec
	CheckDuration       prometheus.Histogram
	SecurityEventsTotal *prometheus.CounterVec
	ExemptTotal         prometheus.Counter
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "requests_total",
				Help:      "Total number of HTTP requests processed",
			},
			[]string{"method", "status"}, // status=ok/limited/error
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		DecisionsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "ratelimit_decisions_total",
				Help:      "Rate limit decisions by reason",
			},
			[]string{"reason"},
		),
		CheckDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "ratelimit_check_duration_seconds",
				Help:      "Time spent in the limiter, store round-trips included",
				Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
			},
		),
		SecurityEventsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "security_events_total",
				Help:      "Escalations and administrative actions by type",
			},
			[]string{"type"},
		),
		ExemptTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "ratelimit_exempt_total",
				Help:      "Requests that bypassed the limiter through an exemption rule",
			},
		),
	}
}

// Record counts a security event. Implements ratelimit.EventRecorder.
func (m *Metrics) Record(_ context.Context, event ratelimit.SecurityEvent) {
	m.SecurityEventsTotal.WithLabelValues(string(event.Type)).Inc()
}

var _ ratelimit.EventRecorder = (*Metrics)(nil)
