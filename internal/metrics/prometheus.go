package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	ctrlmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"
)

var (
	registerOnce sync.Once

	applyOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "upsert",
			Subsystem: "apply",
			Name:      "outcomes_total",
			Help:      "Create-or-replace calls by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)
	applyRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "upsert",
			Subsystem: "apply",
			Name:      "retries_total",
			Help:      "Create attempts retried after a server error.",
		},
		[]string{"kind"},
	)
	applyAttempts = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "upsert",
			Subsystem: "apply",
			Name:      "attempts",
			Help:      "Create attempts needed per create-or-replace call.",
			Buckets:   []float64{1, 2, 3, 5, 8},
		},
		[]string{"kind"},
	)
)

// RegisterMetrics registers the collectors on controller-runtime's registry.
// It is safe to call more than once.
func RegisterMetrics() {
	registerOnce.Do(func() {
		ctrlmetrics.Registry.MustRegister(applyOutcomes, applyRetries, applyAttempts)
	})
}
