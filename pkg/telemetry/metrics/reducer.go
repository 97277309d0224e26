package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/objectives/pkg/config"
	"mercator-hq/objectives/pkg/policystate"
)

// ReducerMetrics implements policystate.Observer.
//
// Metrics:
//   - objectives_reducer_reductions_total: Reductions by policy type and duplicate flag
//   - objectives_reducer_transitions_total: Lifecycle transitions by policy type, from and to
//   - objectives_reducer_alerts_total: tool_degraded alerts published
//   - objectives_reducer_failures_total: Failed reductions by policy type and step
//   - objectives_reducer_publish_failures_total: Failed follow-on publishes by topic
//   - objectives_reducer_state_fallbacks_total: Unreadable stored documents replaced by defaults
//   - objectives_reducer_duration_seconds: Reduction latency
type ReducerMetrics struct {
	enabled bool

	reductionsTotal      *prometheus.CounterVec
	transitionsTotal     *prometheus.CounterVec
	alertsTotal          *prometheus.CounterVec
	failuresTotal        *prometheus.CounterVec
	publishFailuresTotal *prometheus.CounterVec
	stateFallbacksTotal  *prometheus.CounterVec
	duration             *prometheus.HistogramVec
}

var _ policystate.Observer = (*ReducerMetrics)(nil)

// NewReducerMetrics creates and registers reducer metrics.
func NewReducerMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *ReducerMetrics {
	const subsystem = "reducer"
	rm := &ReducerMetrics{
		enabled: true,
		reductionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: subsystem,
				Name:      "reductions_total",
				Help:      "Total number of reward events reduced",
			},
			[]string{"policy_type", "duplicate"},
		),
		transitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: subsystem,
				Name:      "transitions_total",
				Help:      "Total number of lifecycle state transitions",
			},
			[]string{"policy_type", "from", "to"},
		),
		alertsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: subsystem,
				Name:      "alerts_total",
				Help:      "Total number of tool_degraded alerts published",
			},
			[]string{"policy_type"},
		),
		failuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: subsystem,
				Name:      "failures_total",
				Help:      "Total number of failed reductions by step",
			},
			[]string{"policy_type", "step"},
		),
		publishFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: subsystem,
				Name:      "publish_failures_total",
				Help:      "Total number of failed event publishes by topic",
			},
			[]string{"topic"},
		),
		stateFallbacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: subsystem,
				Name:      "state_fallbacks_total",
				Help:      "Total number of unreadable state documents replaced by defaults",
			},
			[]string{"policy_type"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: subsystem,
				Name:      "duration_seconds",
				Help:      "Duration of a single reduction in seconds",
				Buckets:   cfg.DurationBuckets,
			},
			[]string{"policy_type"},
		),
	}

	registry.MustRegister(
		rm.reductionsTotal,
		rm.transitionsTotal,
		rm.alertsTotal,
		rm.failuresTotal,
		rm.publishFailuresTotal,
		rm.stateFallbacksTotal,
		rm.duration,
	)
	return rm
}

// ObserveReduction implements policystate.Observer.
func (rm *ReducerMetrics) ObserveReduction(out *policystate.Output, duration time.Duration) {
	if !rm.enabled || out == nil {
		return
	}
	policyType := string(out.PolicyType)
	rm.reductionsTotal.WithLabelValues(policyType, strconv.FormatBool(out.WasDuplicate)).Inc()
	rm.duration.WithLabelValues(policyType).Observe(duration.Seconds())
	if out.TransitionOccurred {
		rm.transitionsTotal.WithLabelValues(policyType, string(out.OldLifecycleState), string(out.NewLifecycleState)).Inc()
	}
	if out.AlertEmitted {
		rm.alertsTotal.WithLabelValues(policyType).Inc()
	}
}

// ObserveFailure implements policystate.Observer.
func (rm *ReducerMetrics) ObserveFailure(policyType policystate.PolicyType, step string) {
	if !rm.enabled {
		return
	}
	rm.failuresTotal.WithLabelValues(string(policyType), step).Inc()
}

// ObservePublishFailure implements policystate.Observer.
func (rm *ReducerMetrics) ObservePublishFailure(topic string) {
	if !rm.enabled {
		return
	}
	rm.publishFailuresTotal.WithLabelValues(topic).Inc()
}

// ObserveStateFallback implements policystate.Observer.
func (rm *ReducerMetrics) ObserveStateFallback(policyType policystate.PolicyType) {
	if !rm.enabled {
		return
	}
	rm.stateFallbacksTotal.WithLabelValues(string(policyType)).Inc()
}
