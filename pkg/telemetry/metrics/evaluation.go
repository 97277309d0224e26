package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/objectives/pkg/abeval"
	"mercator-hq/objectives/pkg/config"
)

// EvaluationMetrics implements abeval.Observer.
//
// Metrics:
//   - objectives_evaluation_runs_total: Evaluation runs by objective
//   - objectives_evaluation_divergences_total: Runs where a shadow diverged from the active variant
//   - objectives_evaluation_upgrade_ready_total: Runs that reported an upgrade-ready shadow
//   - objectives_evaluation_scoring_failures_total: Scorer failures by objective and variant
//   - objectives_evaluation_variant_mean_score: Latest mean score by objective, variant and role
//   - objectives_evaluation_duration_seconds: Evaluation latency
//
// Objective and variant IDs come from registries and are bounded by the
// collector's cardinality limiter.
type EvaluationMetrics struct {
	enabled bool
	limiter *CardinalityLimiter

	runsTotal            *prometheus.CounterVec
	divergencesTotal     *prometheus.CounterVec
	upgradeReadyTotal    *prometheus.CounterVec
	scoringFailuresTotal *prometheus.CounterVec
	variantMeanScore     *prometheus.GaugeVec
	duration             *prometheus.HistogramVec
}

var _ abeval.Observer = (*EvaluationMetrics)(nil)

// NewEvaluationMetrics creates and registers evaluation metrics. A nil
// limiter admits every label value.
func NewEvaluationMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry, limiter *CardinalityLimiter) *EvaluationMetrics {
	const subsystem = "evaluation"
	em := &EvaluationMetrics{
		enabled: true,
		limiter: limiter,
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: subsystem,
				Name:      "runs_total",
				Help:      "Total number of A/B evaluation runs",
			},
			[]string{"objective_id"},
		),
		divergencesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: subsystem,
				Name:      "divergences_total",
				Help:      "Total number of runs with a divergent shadow variant",
			},
			[]string{"objective_id"},
		),
		upgradeReadyTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: subsystem,
				Name:      "upgrade_ready_total",
				Help:      "Total number of runs reporting an upgrade-ready shadow variant",
			},
			[]string{"objective_id"},
		),
		scoringFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: subsystem,
				Name:      "scoring_failures_total",
				Help:      "Total number of variant scoring failures",
			},
			[]string{"objective_id", "variant_id"},
		),
		variantMeanScore: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: subsystem,
				Name:      "variant_mean_score",
				Help:      "Mean of the latest score vector for each variant",
			},
			[]string{"objective_id", "variant_id", "role"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: subsystem,
				Name:      "duration_seconds",
				Help:      "Duration of an evaluation run in seconds",
				Buckets:   cfg.DurationBuckets,
			},
			[]string{"objective_id"},
		),
	}

	registry.MustRegister(
		em.runsTotal,
		em.divergencesTotal,
		em.upgradeReadyTotal,
		em.scoringFailuresTotal,
		em.variantMeanScore,
		em.duration,
	)
	return em
}

// ObserveEvaluation implements abeval.Observer.
func (em *EvaluationMetrics) ObserveEvaluation(objectiveID string, out *abeval.Output, duration time.Duration) {
	if !em.enabled || out == nil {
		return
	}
	objective := em.label(objectiveID)
	em.runsTotal.WithLabelValues(objective).Inc()
	em.duration.WithLabelValues(objective).Observe(duration.Seconds())
	if out.DivergenceDetected {
		em.divergencesTotal.WithLabelValues(objective).Inc()
	}
	if out.UpgradeReady {
		em.upgradeReadyTotal.WithLabelValues(objective).Inc()
	}
	for _, res := range out.VariantResults {
		em.variantMeanScore.
			WithLabelValues(objective, em.variantLabel(objectiveID, res.VariantID), string(res.Role)).
			Set(res.Scores.Mean())
	}
}

// ObserveScoringFailure implements abeval.Observer.
func (em *EvaluationMetrics) ObserveScoringFailure(objectiveID, variantID string) {
	if !em.enabled {
		return
	}
	em.scoringFailuresTotal.WithLabelValues(em.label(objectiveID), em.variantLabel(objectiveID, variantID)).Inc()
}

func (em *EvaluationMetrics) label(objectiveID string) string {
	if em.limiter == nil {
		return objectiveID
	}
	return em.limiter.label(objectiveID)
}

func (em *EvaluationMetrics) variantLabel(objectiveID, variantID string) string {
	if em.limiter == nil || em.limiter.Allow(objectiveID+"/"+variantID) {
		return variantID
	}
	return OverflowLabel
}
