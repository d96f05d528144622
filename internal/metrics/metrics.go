// Package metrics records provider operation counts and latencies.
package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/systmms/keysync/pkg/provider"
)

// Outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

var (
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec

	// Registration guard
	metricsOnce       sync.Once
	metricsRegistered bool
)

// InitMetrics registers the collectors with the default registry.
// It is safe to call more than once.
func InitMetrics() {
	metricsOnce.Do(func() {
		operationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keysync_provider_operations_total",
				Help: "Total number of provider operations by outcome",
			},
			[]string{"provider", "operation", "outcome"},
		)

		operationDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "keysync_provider_operation_duration_seconds",
				Help:    "Duration of provider operations in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"provider", "operation"},
		)

		metricsRegistered = true
	})
}

// ProviderMetrics records operations of provider instances.
type ProviderMetrics struct{}

// NewProviderMetrics initialises the collectors and returns a recorder.
func NewProviderMetrics() *ProviderMetrics {
	InitMetrics()
	return &ProviderMetrics{}
}

// Observe records one finished operation. The outcome label is "success" or
// the error kind, e.g. "not_found".
func (m *ProviderMetrics) Observe(id provider.Identity, operation string, err error, elapsed time.Duration) {
	if m == nil || !metricsRegistered {
		return
	}
	operationsTotal.WithLabelValues(string(id), operation, Outcome(err)).Inc()
	operationDuration.WithLabelValues(string(id), operation).Observe(elapsed.Seconds())
}

// Outcome converts an operation result into a label value.
func Outcome(err error) string {
	if err == nil {
		return OutcomeSuccess
	}
	kind := provider.KindOf(err)
	if kind == nil {
		return OutcomeError
	}
	return strings.ReplaceAll(kind.Error(), " ", "_")
}

// GetOperationsTotal returns the operation counter for testing.
func GetOperationsTotal() *prometheus.CounterVec {
	return operationsTotal
}

// GetOperationDuration returns the duration histogram for testing.
func GetOperationDuration() *prometheus.HistogramVec {
	return operationDuration
}

// IsMetricsRegistered returns whether metrics have been initialized.
func IsMetricsRegistered() bool {
	return metricsRegistered
}
