// Package observability exposes Prometheus metrics for client operations.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gollms_requests_total",
		Help: "Total number of client operations by outcome.",
	}, []string{"operation", "outcome"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gollms_request_duration_seconds",
		Help:    "Duration of client operations.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"operation"})
)

// Outcome labels for requestsTotal.
const (
	OutcomeSuccess  = "success"
	OutcomeError    = "error"
	OutcomeTimeout  = "timeout"
	OutcomeCanceled = "canceled"
)

// Hooks records operation metrics. A nil *Hooks is valid and records
// nothing, so instrumentation stays optional for library callers.
type Hooks struct{}

// NewHooks returns hooks backed by the package-level Prometheus collectors.
func NewHooks() *Hooks {
	return &Hooks{}
}

// Observe records one completed operation.
func (h *Hooks) Observe(operation, outcome string, elapsed time.Duration) {
	if h == nil {
		return
	}
	requestsTotal.WithLabelValues(operation, outcome).Inc()
	requestDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}
