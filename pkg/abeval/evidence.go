package abeval

import (
	"encoding/json"
	"fmt"

	"mercator-hq/objectives/pkg/variants"
)

// VariantScore is a precomputed outcome for one variant.
type VariantScore struct {
	Passed bool                 `json:"passed"`
	Scores variants.ScoreVector `json:"scores"`
}

// EvidenceBundle is the evidence every variant is evaluated against.
//
// The keys this package understands are typed. Everything else is kept in
// Extra and written back unchanged, so scorers receive the full bundle.
type EvidenceBundle struct {
	RunID         string
	ObjectiveID   string
	VariantScores map[string]VariantScore

	Extra map[string]json.RawMessage
}

type knownEvidence struct {
	RunID         string                  `json:"run_id,omitempty"`
	ObjectiveID   string                  `json:"objective_id,omitempty"`
	VariantScores map[string]VariantScore `json:"variant_scores,omitempty"`
}

var evidenceKeys = []string{"run_id", "objective_id", "variant_scores"}

// ParseEvidenceBundle decodes a JSON evidence bundle.
func ParseEvidenceBundle(data []byte) (*EvidenceBundle, error) {
	var b EvidenceBundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (b *EvidenceBundle) UnmarshalJSON(data []byte) error {
	var known knownEvidence
	if err := json.Unmarshal(data, &known); err != nil {
		return fmt.Errorf("decode evidence bundle: %w", err)
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return fmt.Errorf("decode evidence bundle: %w", err)
	}
	for _, k := range evidenceKeys {
		delete(all, k)
	}

	*b = EvidenceBundle{
		RunID:         known.RunID,
		ObjectiveID:   known.ObjectiveID,
		VariantScores: known.VariantScores,
	}
	if len(all) > 0 {
		b.Extra = all
	}
	return nil
}

// MarshalJSON implements json.Marshaler. Typed fields take precedence over
// passthrough keys of the same name.
func (b EvidenceBundle) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(b.Extra)+len(evidenceKeys))
	for k, v := range b.Extra {
		out[k] = v
	}
	if b.RunID != "" {
		out["run_id"] = b.RunID
	}
	if b.ObjectiveID != "" {
		out["objective_id"] = b.ObjectiveID
	}
	if len(b.VariantScores) > 0 {
		out["variant_scores"] = b.VariantScores
	}
	return json.Marshal(out)
}
