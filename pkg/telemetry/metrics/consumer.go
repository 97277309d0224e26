package metrics

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/objectives/pkg/config"
	"mercator-hq/objectives/pkg/consumer"
	"mercator-hq/objectives/pkg/policystate"
)

// Dispatch outcomes used as the "outcome" label.
const (
	OutcomeApplied   = "applied"
	OutcomeDuplicate = "duplicate"
	OutcomeInvalid   = "invalid"
	OutcomeFailed    = "failed"
)

// ConsumerMetrics implements consumer.Observer.
//
// Metrics:
//   - objectives_consumer_events_total: Dispatched events by outcome
//   - objectives_consumer_retries_total: Reduction retries by partition
//   - objectives_consumer_attempts: Attempts needed per event
//   - objectives_consumer_queue_depth: Partition backlog after the latest submit
//   - objectives_consumer_dispatch_duration_seconds: Time from dispatch to result, retries included
type ConsumerMetrics struct {
	enabled bool

	eventsTotal      *prometheus.CounterVec
	retriesTotal     *prometheus.CounterVec
	attempts         prometheus.Histogram
	queueDepth       *prometheus.GaugeVec
	dispatchDuration prometheus.Histogram
}

var _ consumer.Observer = (*ConsumerMetrics)(nil)

// NewConsumerMetrics creates and registers consumer metrics.
func NewConsumerMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *ConsumerMetrics {
	const subsystem = "consumer"
	cm := &ConsumerMetrics{
		enabled: true,
		eventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: subsystem,
				Name:      "events_total",
				Help:      "Total number of dispatched reward events by outcome",
			},
			[]string{"outcome"},
		),
		retriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: subsystem,
				Name:      "retries_total",
				Help:      "Total number of reduction retries",
			},
			[]string{"partition"},
		),
		attempts: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: subsystem,
				Name:      "attempts",
				Help:      "Number of reduction attempts per event",
				Buckets:   []float64{1, 2, 3, 5, 8},
			},
		),
		queueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: subsystem,
				Name:      "queue_depth",
				Help:      "Number of events waiting in a partition queue",
			},
			[]string{"partition"},
		),
		dispatchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: subsystem,
				Name:      "dispatch_duration_seconds",
				Help:      "Duration of event dispatch including retries in seconds",
				Buckets:   cfg.DurationBuckets,
			},
		),
	}

	registry.MustRegister(
		cm.eventsTotal,
		cm.retriesTotal,
		cm.attempts,
		cm.queueDepth,
		cm.dispatchDuration,
	)
	return cm
}

// ObserveResult implements consumer.Observer.
func (cm *ConsumerMetrics) ObserveResult(res consumer.Result) {
	if !cm.enabled {
		return
	}
	cm.eventsTotal.WithLabelValues(Outcome(res)).Inc()
	cm.attempts.Observe(float64(res.Attempts))
	cm.dispatchDuration.Observe(res.Duration.Seconds())
}

// ObserveRetry implements consumer.Observer.
func (cm *ConsumerMetrics) ObserveRetry(partition int) {
	if !cm.enabled {
		return
	}
	cm.retriesTotal.WithLabelValues(strconv.Itoa(partition)).Inc()
}

// ObserveQueueDepth implements consumer.Observer.
func (cm *ConsumerMetrics) ObserveQueueDepth(partition, depth int) {
	if !cm.enabled {
		return
	}
	cm.queueDepth.WithLabelValues(strconv.Itoa(partition)).Set(float64(depth))
}

// Outcome classifies a dispatch result.
func Outcome(res consumer.Result) string {
	switch {
	case res.Err != nil && errors.Is(res.Err, policystate.ErrInvalidEvent):
		return OutcomeInvalid
	case res.Err != nil:
		return OutcomeFailed
	case res.Output != nil && res.Output.WasDuplicate:
		return OutcomeDuplicate
	default:
		return OutcomeApplied
	}
}
