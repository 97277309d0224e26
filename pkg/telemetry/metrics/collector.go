package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"mercator-hq/objectives/pkg/config"
)

// DefaultMaxLabelValues bounds the number of distinct objective and variant
// label values the evaluation metrics will create. Values past the limit are
// reported under OverflowLabel.
const DefaultMaxLabelValues = 1000

// OverflowLabel replaces label values rejected by the cardinality limiter.
const OverflowLabel = "other"

// Collector owns the Prometheus registry and the per-area metric sets.
//
// Each area type implements the observer interface of the package it
// measures, so wiring is a matter of passing the area to that component:
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//	reducer := policystate.NewReducer(store, pub, policystate.ReducerConfig{
//		Observer: collector.Reducer(),
//	})
//
// When metrics are disabled the areas are still returned but record nothing.
type Collector struct {
	config   *config.MetricsConfig
	registry *prometheus.Registry
	enabled  bool

	reducer    *ReducerMetrics
	evaluation *EvaluationMetrics
	consumer   *ConsumerMetrics
	retention  *RetentionMetrics
	storage    *StorageMetrics

	cardinalityLimiter *CardinalityLimiter
}

// NewCollector creates a collector. If registry is nil a fresh registry is
// created and the Go runtime and process collectors are added to it.
func NewCollector(cfg *config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if cfg == nil {
		cfg = &config.MetricsConfig{}
	}
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	if cfg.Namespace == "" {
		cfg.Namespace = config.DefaultMetricsNamespace
	}
	if len(cfg.DurationBuckets) == 0 {
		cfg.DurationBuckets = config.DefaultDurationBuckets
	}

	c := &Collector{
		config:             cfg,
		registry:           registry,
		enabled:            cfg.MetricsEnabled(),
		cardinalityLimiter: NewCardinalityLimiter(DefaultMaxLabelValues),
	}
	c.reducer = NewReducerMetrics(cfg, registry)
	c.evaluation = NewEvaluationMetrics(cfg, registry, c.cardinalityLimiter)
	c.consumer = NewConsumerMetrics(cfg, registry)
	c.retention = NewRetentionMetrics(cfg, registry)
	c.storage = NewStorageMetrics(cfg, registry)

	c.reducer.enabled = c.enabled
	c.evaluation.enabled = c.enabled
	c.consumer.enabled = c.enabled
	c.retention.enabled = c.enabled
	c.storage.enabled = c.enabled
	return c
}

// Enabled reports whether metrics are being recorded.
func (c *Collector) Enabled() bool {
	return c.enabled
}

// Reducer returns the policy state reducer metrics.
func (c *Collector) Reducer() *ReducerMetrics {
	return c.reducer
}

// Evaluation returns the A/B evaluation metrics.
func (c *Collector) Evaluation() *EvaluationMetrics {
	return c.evaluation
}

// Consumer returns the reward event dispatch metrics.
func (c *Collector) Consumer() *ConsumerMetrics {
	return c.consumer
}

// Retention returns the pruning metrics.
func (c *Collector) Retention() *RetentionMetrics {
	return c.retention
}

// Storage returns the storage gauges.
func (c *Collector) Storage() *StorageMetrics {
	return c.storage
}

// Registry returns the underlying Prometheus registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// CardinalityLimiter caps the number of distinct label sets admitted.
type CardinalityLimiter struct {
	maxCardinality int
	current        map[string]struct{}
	mu             sync.RWMutex
}

// NewCardinalityLimiter creates a limiter admitting at most maxCardinality
// distinct values.
func NewCardinalityLimiter(maxCardinality int) *CardinalityLimiter {
	return &CardinalityLimiter{
		maxCardinality: maxCardinality,
		current:        make(map[string]struct{}),
	}
}

// Allow reports whether labelSet may be used. Values already admitted are
// always allowed.
func (cl *CardinalityLimiter) Allow(labelSet string) bool {
	cl.mu.RLock()
	if _, exists := cl.current[labelSet]; exists {
		cl.mu.RUnlock()
		return true
	}
	cl.mu.RUnlock()

	cl.mu.Lock()
	defer cl.mu.Unlock()

	if _, exists := cl.current[labelSet]; exists {
		return true
	}
	if len(cl.current) >= cl.maxCardinality {
		return false
	}
	cl.current[labelSet] = struct{}{}
	return true
}

// Count returns the number of admitted values.
func (cl *CardinalityLimiter) Count() int {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return len(cl.current)
}

// label returns value if the limiter admits it and OverflowLabel otherwise.
func (cl *CardinalityLimiter) label(value string) string {
	if cl.Allow(value) {
		return value
	}
	return OverflowLabel
}
