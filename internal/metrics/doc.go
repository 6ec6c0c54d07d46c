// Package metrics tracks create-or-replace activity.
//
// ApplyMetrics keeps in-memory counters per object kind (calls, outcomes, transient
// retries and the time of the last success and failure) and mirrors them into
// Prometheus collectors registered on controller-runtime's metrics registry:
//
//   - upsert_apply_outcomes_total{kind,outcome}
//   - upsert_apply_retries_total{kind}
//   - upsert_apply_attempts{kind}
//
// Observer returns a createorreplace.Observer bound to one kind, so a ResourceClient
// can feed the metrics without knowing about them.
package metrics
