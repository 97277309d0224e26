package abeval

import (
	"context"

	"mercator-hq/objectives/pkg/variants"
)

// Input is one evaluation request.
type Input struct {
	RunID    string
	Evidence *EvidenceBundle
	Registry *variants.VariantRegistry

	// Counters for each shadow variant, maintained by the caller. Missing
	// entries count as zero.
	RunCountByVariant       map[string]int
	ShadowWinCountByVariant map[string]int
}

// Output is the result of one evaluation pass. It is built once per run and
// not modified afterwards.
type Output struct {
	RunID           string `json:"run_id"`
	ObjectiveID     string `json:"objective_id"`
	RoutedVariantID string `json:"routed_variant_id"`

	// VariantResults follow the registry's variant order.
	VariantResults []variants.VariantEvaluationResult `json:"variant_results"`

	DivergenceDetected  bool     `json:"divergence_detected"`
	DivergentVariantIDs []string `json:"divergent_variant_ids,omitempty"`

	// UpgradeReadyVariantID is the last upgrade-ready shadow in registry
	// order. UpgradeReadyVariantIDs lists all of them.
	UpgradeReady           bool     `json:"upgrade_ready"`
	UpgradeReadyVariantID  string   `json:"upgrade_ready_variant_id,omitempty"`
	UpgradeReadyVariantIDs []string `json:"upgrade_ready_variant_ids,omitempty"`
}

// ActiveResult returns the active variant's result.
func (o *Output) ActiveResult() (variants.VariantEvaluationResult, bool) {
	for _, r := range o.VariantResults {
		if r.Role == variants.RoleActive {
			return r, true
		}
	}
	return variants.VariantEvaluationResult{}, false
}

// Scorer evaluates one variant against an evidence bundle. Implementations
// must not retain or modify the bundle.
type Scorer interface {
	Score(ctx context.Context, variant variants.ObjectiveVariant, evidence *EvidenceBundle) (*variants.VariantEvaluationResult, error)
}

// ScorerFunc adapts a function to the Scorer interface.
type ScorerFunc func(ctx context.Context, variant variants.ObjectiveVariant, evidence *EvidenceBundle) (*variants.VariantEvaluationResult, error)

// Score implements Scorer.
func (f ScorerFunc) Score(ctx context.Context, variant variants.ObjectiveVariant, evidence *EvidenceBundle) (*variants.VariantEvaluationResult, error) {
	return f(ctx, variant, evidence)
}
