package tracing

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys shared by the reducer, evaluator and dispatcher.
const (
	AttrPolicyID   = attribute.Key("policy.id")
	AttrPolicyType = attribute.Key("policy.type")
	AttrEventID    = attribute.Key("event.id")

	AttrRunID        = attribute.Key("run.id")
	AttrObjectiveID  = attribute.Key("objective.id")
	AttrVariantCount = attribute.Key("variant.count")
	AttrVariantID    = attribute.Key("variant.routed")

	AttrDuplicate    = attribute.Key("reduce.duplicate")
	AttrTransition   = attribute.Key("reduce.transition")
	AttrLifecycleNew = attribute.Key("lifecycle.new")
	AttrBlacklisted  = attribute.Key("policy.blacklisted")
	AttrReliability  = attribute.Key("policy.reliability")

	AttrDivergence   = attribute.Key("divergence.detected")
	AttrUpgradeReady = attribute.Key("upgrade.ready")

	AttrPartition = attribute.Key("consumer.partition")
	AttrAttempts  = attribute.Key("consumer.attempts")
)

// PolicyAttributes identifies the policy a reward event targets.
func PolicyAttributes(policyID, policyType, eventID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrPolicyID.String(policyID),
		AttrPolicyType.String(policyType),
		AttrEventID.String(eventID),
	}
}

// EvaluationAttributes identifies an A/B evaluation run.
func EvaluationAttributes(runID, objectiveID string, variantCount int) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrRunID.String(runID),
		AttrObjectiveID.String(objectiveID),
		AttrVariantCount.Int(variantCount),
	}
}

// SetReductionAttributes records the outcome of a reduction on span.
func SetReductionAttributes(span trace.Span, duplicate, transition, blacklisted bool, lifecycle string) {
	span.SetAttributes(
		AttrDuplicate.Bool(duplicate),
		AttrTransition.Bool(transition),
		AttrBlacklisted.Bool(blacklisted),
		AttrLifecycleNew.String(lifecycle),
	)
}

// SetEvaluationAttributes records the outcome of an evaluation run on span.
func SetEvaluationAttributes(span trace.Span, routedVariantID string, divergence, upgradeReady bool) {
	span.SetAttributes(
		AttrVariantID.String(routedVariantID),
		AttrDivergence.Bool(divergence),
		AttrUpgradeReady.Bool(upgradeReady),
	)
}

// AddEvent adds a named event to span.
func AddEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
