package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/objectives/pkg/config"
	"mercator-hq/objectives/pkg/storage"
)

// StorageSource is the part of storage.Store the gauges read.
type StorageSource interface {
	StateCounts(ctx context.Context) ([]storage.StateCount, error)
	Stats(ctx context.Context) (storage.Stats, error)
}

// StorageMetrics exposes table sizes and the lifecycle distribution of
// policies. The gauges are point-in-time and must be refreshed with Refresh.
//
// Metrics:
//   - objectives_storage_policies: Policies by type, lifecycle state and blacklist flag
//   - objectives_storage_rows: Row counts by table
type StorageMetrics struct {
	enabled bool

	policies *prometheus.GaugeVec
	rows     *prometheus.GaugeVec
}

// NewStorageMetrics creates and registers storage gauges.
func NewStorageMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *StorageMetrics {
	const subsystem = "storage"
	sm := &StorageMetrics{
		enabled: true,
		policies: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: subsystem,
				Name:      "policies",
				Help:      "Number of tracked policies by lifecycle state",
			},
			[]string{"policy_type", "lifecycle_state", "blacklisted"},
		),
		rows: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: subsystem,
				Name:      "rows",
				Help:      "Number of rows per storage table",
			},
			[]string{"table"},
		),
	}
	registry.MustRegister(sm.policies, sm.rows)
	return sm
}

// Refresh replaces the gauge values with the current contents of src.
func (sm *StorageMetrics) Refresh(ctx context.Context, src StorageSource) error {
	if !sm.enabled {
		return nil
	}
	counts, err := src.StateCounts(ctx)
	if err != nil {
		return err
	}
	stats, err := src.Stats(ctx)
	if err != nil {
		return err
	}

	sm.policies.Reset()
	for _, c := range counts {
		sm.policies.WithLabelValues(string(c.PolicyType), string(c.LifecycleState), strconv.FormatBool(c.Blacklisted)).Set(float64(c.Count))
	}
	sm.rows.WithLabelValues("policy_states").Set(float64(stats.Policies))
	sm.rows.WithLabelValues("processed_events").Set(float64(stats.ProcessedKeys))
	sm.rows.WithLabelValues("audit_entries").Set(float64(stats.AuditEntries))
	return nil
}

// RefreshLoop calls Refresh every interval until ctx is cancelled. Errors
// are passed to onError when it is non-nil.
func (sm *StorageMetrics) RefreshLoop(ctx context.Context, src StorageSource, interval time.Duration, onError func(error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := sm.Refresh(ctx, src); err != nil && onError != nil {
			onError(err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
