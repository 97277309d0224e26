package variants

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Role is the part a variant plays in an A/B evaluation.
type Role string

const (
	// RoleActive marks the single variant whose result drives policy state.
	RoleActive Role = "active"

	// RoleShadow marks a variant that is evaluated but never drives state.
	RoleShadow Role = "shadow"
)

// ParseRole parses a role name case-insensitively.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleActive:
		return RoleActive, nil
	case RoleShadow:
		return RoleShadow, nil
	default:
		return "", fmt.Errorf("invalid variant role %q (expected active or shadow)", s)
	}
}

// UnmarshalYAML accepts "active"/"shadow" in any case.
func (r *Role) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseRole(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// ObjectiveVariant is one competing implementation of an objective.
type ObjectiveVariant struct {
	// VariantID uniquely identifies the variant within its registry.
	VariantID string `yaml:"variant_id" json:"variant_id"`

	// ObjectiveID is the objective this variant implements.
	ObjectiveID string `yaml:"objective_id" json:"objective_id"`

	// ObjectiveVersion is the version of the objective definition.
	ObjectiveVersion string `yaml:"objective_version" json:"objective_version"`

	// Role is either RoleActive or RoleShadow.
	Role Role `yaml:"role" json:"role"`

	// TrafficWeight is the share of routed runs, in [0,1].
	TrafficWeight float64 `yaml:"traffic_weight" json:"traffic_weight"`

	// IsActive controls whether the variant takes part in routing.
	// Inactive variants are still evaluated.
	IsActive bool `yaml:"is_active" json:"is_active"`
}

// VariantRegistry is the set of competing variants for one objective together
// with the thresholds used to compare them. A registry is treated as
// immutable once an evaluation pass starts.
type VariantRegistry struct {
	// ObjectiveID is the objective all variants belong to.
	ObjectiveID string `yaml:"objective_id" json:"objective_id"`

	// Variants is the ordered variant list. Routing walks it in order.
	Variants []ObjectiveVariant `yaml:"variants" json:"variants"`

	// DivergenceThreshold is the L2 score distance above which an active and
	// a shadow result are considered divergent.
	DivergenceThreshold float64 `yaml:"divergence_threshold" json:"divergence_threshold"`

	// SignificanceThreshold is the tolerated shadow loss rate. A shadow is
	// upgrade-ready when its win rate is at least 1 - SignificanceThreshold.
	SignificanceThreshold float64 `yaml:"significance_threshold" json:"significance_threshold"`

	// MinRunsForSignificance is the minimum number of runs before a shadow
	// can be declared upgrade-ready.
	MinRunsForSignificance int `yaml:"min_runs_for_significance" json:"min_runs_for_significance"`
}

// Active returns the variant with the active role.
func (r *VariantRegistry) Active() (ObjectiveVariant, bool) {
	for _, v := range r.Variants {
		if v.Role == RoleActive {
			return v, true
		}
	}
	return ObjectiveVariant{}, false
}

// Shadows returns the shadow variants in registry order.
func (r *VariantRegistry) Shadows() []ObjectiveVariant {
	var out []ObjectiveVariant
	for _, v := range r.Variants {
		if v.Role == RoleShadow {
			out = append(out, v)
		}
	}
	return out
}

// Lookup returns the variant with the given ID.
func (r *VariantRegistry) Lookup(variantID string) (ObjectiveVariant, bool) {
	for _, v := range r.Variants {
		if v.VariantID == variantID {
			return v, true
		}
	}
	return ObjectiveVariant{}, false
}

// ScoreVector is a six-dimensional evaluation score. The dimension order is
// fixed and every dimension lies in [0,1].
type ScoreVector struct {
	Correctness     float64 `json:"correctness" yaml:"correctness"`
	Safety          float64 `json:"safety" yaml:"safety"`
	Cost            float64 `json:"cost" yaml:"cost"`
	Latency         float64 `json:"latency" yaml:"latency"`
	Maintainability float64 `json:"maintainability" yaml:"maintainability"`
	HumanTime       float64 `json:"human_time" yaml:"human_time"`
}

// Dimensions returns the scores in their fixed order.
func (s ScoreVector) Dimensions() [6]float64 {
	return [6]float64{s.Correctness, s.Safety, s.Cost, s.Latency, s.Maintainability, s.HumanTime}
}

// Mean returns the unweighted mean across all dimensions.
func (s ScoreVector) Mean() float64 {
	var sum float64
	for _, d := range s.Dimensions() {
		sum += d
	}
	return sum / 6
}

// VariantEvaluationResult is one variant's outcome for one run.
type VariantEvaluationResult struct {
	VariantID        string      `json:"variant_id"`
	ObjectiveID      string      `json:"objective_id"`
	ObjectiveVersion string      `json:"objective_version"`
	Role             Role        `json:"role"`
	Passed           bool        `json:"passed"`
	Scores           ScoreVector `json:"scores"`

	// DrivesPolicyState is true only for the active variant's result.
	DrivesPolicyState bool `json:"drives_policy_state"`
}
