// Package metrics provides Prometheus metrics for the objectives service.
//
// # Overview
//
// A Collector owns a registry and one metric set per area. Each area
// implements the observer interface of the component it measures:
//
//   - ReducerMetrics: policystate.Observer (reductions, transitions, failures)
//   - EvaluationMetrics: abeval.Observer (runs, divergence, upgrade readiness)
//   - ConsumerMetrics: consumer.Observer (outcomes, retries, queue depth)
//   - RetentionMetrics: retention.Pruner OnPrune hook
//   - StorageMetrics: gauges refreshed from the store
//
// # Usage
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//
//	reducer := policystate.NewReducer(store, publisher, policystate.ReducerConfig{
//		Observer: collector.Reducer(),
//	})
//	dispatcher := consumer.NewDispatcher(reducer, consumer.DispatcherConfig{
//		Observer: collector.Consumer(),
//	})
//	pruner.OnPrune = collector.Retention().ObservePrune
//
//	mux.Handle("/metrics", collector.Handler())
//
// # Cardinality
//
// Objective and variant IDs are registry-defined but unbounded in principle.
// The evaluation metrics pass them through a CardinalityLimiter; values past
// DefaultMaxLabelValues are reported as "other". Policy IDs are never used
// as labels.
package metrics
