package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/objectives/pkg/config"
	"mercator-hq/objectives/pkg/storage/retention"
)

// RetentionMetrics records pruning passes. ObservePrune matches the
// retention.Pruner OnPrune hook.
//
// Metrics:
//   - objectives_retention_pruned_total: Rows removed by table
//   - objectives_retention_failures_total: Failed pruning passes
//   - objectives_retention_last_success_timestamp_seconds: Unix time of the last successful pass
type RetentionMetrics struct {
	enabled bool
	now     func() time.Time

	prunedTotal *prometheus.CounterVec
	failures    prometheus.Counter
	lastSuccess prometheus.Gauge
}

// NewRetentionMetrics creates and registers retention metrics.
func NewRetentionMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *RetentionMetrics {
	const subsystem = "retention"
	rm := &RetentionMetrics{
		enabled: true,
		now:     time.Now,
		prunedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: subsystem,
				Name:      "pruned_total",
				Help:      "Total number of rows removed by retention",
			},
			[]string{"table"},
		),
		failures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: subsystem,
				Name:      "failures_total",
				Help:      "Total number of failed pruning passes",
			},
		),
		lastSuccess: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: subsystem,
				Name:      "last_success_timestamp_seconds",
				Help:      "Unix time of the last successful pruning pass",
			},
		),
	}
	registry.MustRegister(rm.prunedTotal, rm.failures, rm.lastSuccess)
	return rm
}

// ObservePrune records one pruning pass.
func (rm *RetentionMetrics) ObservePrune(res retention.Result, err error) {
	if !rm.enabled {
		return
	}
	rm.prunedTotal.WithLabelValues("processed_events").Add(float64(res.ProcessedKeys))
	rm.prunedTotal.WithLabelValues("audit_entries").Add(float64(res.AuditEntries))
	if err != nil {
		rm.failures.Inc()
		return
	}
	rm.lastSuccess.Set(float64(rm.now().Unix()))
}
