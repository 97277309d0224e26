package variants

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// weightTolerance bounds how far active traffic weights may drift from 1.0.
const weightTolerance = 1e-6

// RegistryFile is the on-disk layout of a registry file.
//
//	registries:
//	  - objective_id: tool-selection
//	    divergence_threshold: 0.15
//	    significance_threshold: 0.05
//	    min_runs_for_significance: 20
//	    variants:
//	      - variant_id: ts-v3
//	        objective_version: "3.0.0"
//	        role: active
//	        traffic_weight: 0.9
//	        is_active: true
type RegistryFile struct {
	Registries []VariantRegistry `yaml:"registries"`
}

// LoadRegistries reads, normalizes and validates a registry file. The result
// is keyed by objective ID.
func LoadRegistries(path string) (map[string]*VariantRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read registry file %q: %w", path, err)
	}
	return ParseRegistries(data)
}

// ParseRegistries decodes registry YAML. Variants inherit the registry's
// objective ID when they do not set their own.
func ParseRegistries(data []byte) (map[string]*VariantRegistry, error) {
	var file RegistryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse registry file: %w", err)
	}
	if len(file.Registries) == 0 {
		return nil, fmt.Errorf("registry file defines no registries")
	}

	out := make(map[string]*VariantRegistry, len(file.Registries))
	for i := range file.Registries {
		reg := file.Registries[i]
		for j := range reg.Variants {
			if reg.Variants[j].ObjectiveID == "" {
				reg.Variants[j].ObjectiveID = reg.ObjectiveID
			}
		}
		if err := Validate(&reg); err != nil {
			return nil, err
		}
		if _, dup := out[reg.ObjectiveID]; dup {
			return nil, &RegistryError{
				ObjectiveID: reg.ObjectiveID,
				Problems:    []string{"objective declared more than once"},
			}
		}
		out[reg.ObjectiveID] = &reg
	}
	return out, nil
}

// Validate checks the registry invariants: at least one variant, unique
// variant IDs, exactly one active-role variant, weights in [0,1] with the
// routable ones summing to 1.0, and thresholds within range.
func Validate(r *VariantRegistry) error {
	var problems []string

	if r.ObjectiveID == "" {
		problems = append(problems, "objective_id is required")
	}
	if len(r.Variants) == 0 {
		problems = append(problems, "at least one variant is required")
	}

	seen := make(map[string]bool, len(r.Variants))
	activeRoles := 0
	routableWeight := 0.0
	routable := 0
	for i, v := range r.Variants {
		if v.VariantID == "" {
			problems = append(problems, fmt.Sprintf("variants[%d]: variant_id is required", i))
		} else if seen[v.VariantID] {
			problems = append(problems, fmt.Sprintf("variants[%d]: duplicate variant_id %q", i, v.VariantID))
		}
		seen[v.VariantID] = true

		if v.ObjectiveID != r.ObjectiveID {
			problems = append(problems, fmt.Sprintf("variants[%d]: objective_id %q does not match registry", i, v.ObjectiveID))
		}
		switch v.Role {
		case RoleActive:
			activeRoles++
		case RoleShadow:
		default:
			problems = append(problems, fmt.Sprintf("variants[%d]: invalid role %q", i, v.Role))
		}
		if v.TrafficWeight < 0 || v.TrafficWeight > 1 || math.IsNaN(v.TrafficWeight) {
			problems = append(problems, fmt.Sprintf("variants[%d]: traffic_weight must be in [0,1]", i))
		}
		if v.IsActive {
			routable++
			routableWeight += v.TrafficWeight
		}
	}

	if len(r.Variants) > 0 && activeRoles != 1 {
		problems = append(problems, fmt.Sprintf("exactly one active variant required, found %d", activeRoles))
	}
	if routable > 0 && math.Abs(routableWeight-1.0) > weightTolerance*float64(routable) {
		problems = append(problems, fmt.Sprintf("traffic weights of routable variants sum to %.6f, expected 1.0", routableWeight))
	}
	if r.DivergenceThreshold < 0 {
		problems = append(problems, "divergence_threshold must be non-negative")
	}
	if r.SignificanceThreshold < 0 || r.SignificanceThreshold > 1 {
		problems = append(problems, "significance_threshold must be in [0,1]")
	}
	if r.MinRunsForSignificance < 0 {
		problems = append(problems, "min_runs_for_significance must be non-negative")
	}

	if len(problems) > 0 {
		return &RegistryError{ObjectiveID: r.ObjectiveID, Problems: problems}
	}
	return nil
}
