package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/giantswarm/upsert/pkg/createorreplace"
	"github.com/giantswarm/upsert/pkg/logging"
)

// ApplyMetrics tracks create-or-replace metrics for reporting and alerting.
//
// Metrics are tracked per kind so a failing kind can be spotted among many
// successful ones.
type ApplyMetrics struct {
	mu sync.RWMutex

	// Per-kind metrics
	kindMetrics map[string]*kindMetrics

	// Global counters for summary metrics
	totalCalls     int64
	totalCreated   int64
	totalReplaced  int64
	totalRecreated int64
	totalFailures  int64
	totalRetries   int64

	now func() time.Time
}

// kindMetrics holds create-or-replace metrics for a specific kind.
type kindMetrics struct {
	Kind          string
	Calls         int64
	Created       int64
	Replaced      int64
	Recreated     int64
	Failures      int64
	Retries       int64
	LastSuccessAt time.Time
	LastFailureAt time.Time
}

// NewApplyMetrics creates a new ApplyMetrics instance and makes sure the Prometheus
// collectors are registered.
func NewApplyMetrics() *ApplyMetrics {
	RegisterMetrics()
	return &ApplyMetrics{
		kindMetrics: make(map[string]*kindMetrics),
		now:         time.Now,
	}
}

// getOrCreateKindMetrics returns existing metrics for a kind or creates new ones.
func (m *ApplyMetrics) getOrCreateKindMetrics(kind string) *kindMetrics {
	if metrics, exists := m.kindMetrics[kind]; exists {
		return metrics
	}

	metrics := &kindMetrics{Kind: kind}
	m.kindMetrics[kind] = metrics
	return metrics
}

// RecordRetry records a create attempt that is retried after a server error.
func (m *ApplyMetrics) RecordRetry(kind, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	metrics := m.getOrCreateKindMetrics(kind)
	metrics.Retries++
	m.totalRetries++
	applyRetries.WithLabelValues(kind).Inc()

	logging.Debug("Metrics", "Retrying create of %s %s (retries: %d)", kind, name, metrics.Retries)
}

// RecordOutcome records the end of a create-or-replace call.
func (m *ApplyMetrics) RecordOutcome(kind, name string, outcome createorreplace.Outcome, attempts int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	metrics := m.getOrCreateKindMetrics(kind)
	metrics.Calls++
	m.totalCalls++

	switch outcome {
	case createorreplace.OutcomeCreated:
		metrics.Created++
		m.totalCreated++
	case createorreplace.OutcomeReplaced:
		metrics.Replaced++
		m.totalReplaced++
	case createorreplace.OutcomeRecreated:
		metrics.Recreated++
		m.totalRecreated++
	}

	if err != nil || outcome == createorreplace.OutcomeFailed {
		metrics.Failures++
		m.totalFailures++
		metrics.LastFailureAt = m.now()
		logging.Debug("Metrics", "Apply failure for %s %s (failures: %d)", kind, name, metrics.Failures)
	} else {
		metrics.LastSuccessAt = m.now()
	}

	applyOutcomes.WithLabelValues(kind, string(outcome)).Inc()
	applyAttempts.WithLabelValues(kind).Observe(float64(attempts))
}

// Observer returns a createorreplace.Observer that records into m under kind.
func (m *ApplyMetrics) Observer(kind string) createorreplace.Observer {
	return kindObserver{metrics: m, kind: kind}
}

type kindObserver struct {
	metrics *ApplyMetrics
	kind    string
}

func (o kindObserver) ObserveTransition(name string, _, to createorreplace.State) {
	if to == createorreplace.StateRetry {
		o.metrics.RecordRetry(o.kind, name)
	}
}

func (o kindObserver) ObserveOutcome(name string, outcome createorreplace.Outcome, attempts int, err error) {
	o.metrics.RecordOutcome(o.kind, name, outcome, attempts, err)
}

// ApplyMetricsSummary provides a summary of create-or-replace metrics.
type ApplyMetricsSummary struct {
	TotalCalls     int64            `json:"total_calls"`
	TotalCreated   int64            `json:"total_created"`
	TotalReplaced  int64            `json:"total_replaced"`
	TotalRecreated int64            `json:"total_recreated"`
	TotalFailures  int64            `json:"total_failures"`
	TotalRetries   int64            `json:"total_retries"`
	PerKindMetrics []KindMetricView `json:"per_kind_metrics"`
	FailureRate    float64          `json:"failure_rate"`
}

// KindMetricView is a read-only view of kind-specific metrics.
type KindMetricView struct {
	Kind          string    `json:"kind"`
	Calls         int64     `json:"calls"`
	Created       int64     `json:"created"`
	Replaced      int64     `json:"replaced"`
	Recreated     int64     `json:"recreated"`
	Failures      int64     `json:"failures"`
	Retries       int64     `json:"retries"`
	LastSuccessAt time.Time `json:"last_success_at,omitempty"`
	LastFailureAt time.Time `json:"last_failure_at,omitempty"`
}

func (k *kindMetrics) view() KindMetricView {
	return KindMetricView{
		Kind:          k.Kind,
		Calls:         k.Calls,
		Created:       k.Created,
		Replaced:      k.Replaced,
		Recreated:     k.Recreated,
		Failures:      k.Failures,
		Retries:       k.Retries,
		LastSuccessAt: k.LastSuccessAt,
		LastFailureAt: k.LastFailureAt,
	}
}

// GetSummary returns a snapshot of all metrics, with kinds sorted by name.
func (m *ApplyMetrics) GetSummary() ApplyMetricsSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	summary := ApplyMetricsSummary{
		TotalCalls:     m.totalCalls,
		TotalCreated:   m.totalCreated,
		TotalReplaced:  m.totalReplaced,
		TotalRecreated: m.totalRecreated,
		TotalFailures:  m.totalFailures,
		TotalRetries:   m.totalRetries,
	}

	for _, metrics := range m.kindMetrics {
		summary.PerKindMetrics = append(summary.PerKindMetrics, metrics.view())
	}
	sort.Slice(summary.PerKindMetrics, func(i, j int) bool {
		return summary.PerKindMetrics[i].Kind < summary.PerKindMetrics[j].Kind
	})

	if m.totalCalls > 0 {
		summary.FailureRate = float64(m.totalFailures) / float64(m.totalCalls)
	}
	return summary
}

// GetKindMetrics returns the metrics of one kind.
func (m *ApplyMetrics) GetKindMetrics(kind string) (KindMetricView, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	metrics, ok := m.kindMetrics[kind]
	if !ok {
		return KindMetricView{}, false
	}
	return metrics.view(), true
}

// LogSummary writes the totals and a line per kind to the log.
func (m *ApplyMetrics) LogSummary() {
	summary := m.GetSummary()
	if summary.TotalCalls == 0 {
		return
	}

	logging.Info("Metrics", "Applied %d object(s): %d created, %d replaced, %d recreated, %d failed, %d retries",
		summary.TotalCalls, summary.TotalCreated, summary.TotalReplaced, summary.TotalRecreated,
		summary.TotalFailures, summary.TotalRetries)
	for _, k := range summary.PerKindMetrics {
		logging.Info("Metrics", "%s: %d call(s), %d created, %d replaced, %d recreated, %d failed, %d retries",
			k.Kind, k.Calls, k.Created, k.Replaced, k.Recreated, k.Failures, k.Retries)
	}
}
