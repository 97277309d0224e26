package policystate

import (
	"fmt"
	"time"
)

// PolicyType identifies what kind of objective policy a state row tracks.
type PolicyType string

const (
	// PolicyTypeToolReliability tracks how reliable a tool is. It is the only
	// type subject to auto-blacklisting.
	PolicyTypeToolReliability PolicyType = "TOOL_RELIABILITY"

	// PolicyTypeRoutingWeight tracks a routing weight policy.
	PolicyTypeRoutingWeight PolicyType = "ROUTING_WEIGHT"

	// PolicyTypePatternConfidence tracks confidence in an extracted pattern.
	PolicyTypePatternConfidence PolicyType = "PATTERN_CONFIDENCE"

	// PolicyTypeObjectiveVariant tracks an objective variant's standing.
	PolicyTypeObjectiveVariant PolicyType = "OBJECTIVE_VARIANT"
)

// PolicyTypes lists every known policy type.
var PolicyTypes = []PolicyType{
	PolicyTypeToolReliability,
	PolicyTypeRoutingWeight,
	PolicyTypePatternConfidence,
	PolicyTypeObjectiveVariant,
}

// Valid reports whether t is a known policy type.
func (t PolicyType) Valid() bool {
	for _, known := range PolicyTypes {
		if t == known {
			return true
		}
	}
	return false
}

// LifecycleState is a policy's position in the lifecycle state machine.
type LifecycleState string

const (
	StateCandidate  LifecycleState = "CANDIDATE"
	StateValidated  LifecycleState = "VALIDATED"
	StatePromoted   LifecycleState = "PROMOTED"
	StateDeprecated LifecycleState = "DEPRECATED"
)

// Valid reports whether s is a known lifecycle state.
func (s LifecycleState) Valid() bool {
	switch s {
	case StateCandidate, StateValidated, StatePromoted, StateDeprecated:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are possible from s.
func (s LifecycleState) Terminal() bool {
	return s == StateDeprecated
}

// ParseLifecycleState parses a lifecycle state name.
func ParseLifecycleState(s string) (LifecycleState, error) {
	state := LifecycleState(s)
	if !state.Valid() {
		return "", fmt.Errorf("unknown lifecycle state %q", s)
	}
	return state, nil
}

// RewardAssignedEvent is the upstream signal that a policy's outcome
// occurred. IdempotencyKey is unique per logical occurrence; redeliveries of
// the same occurrence carry the same key.
type RewardAssignedEvent struct {
	EventID        string     `json:"event_id"`
	PolicyID       string     `json:"policy_id"`
	PolicyType     PolicyType `json:"policy_type"`
	RewardDelta    float64    `json:"reward_delta"`
	RunID          string     `json:"run_id"`
	ObjectiveID    string     `json:"objective_id"`
	OccurredAt     time.Time  `json:"occurred_at_utc"`
	IdempotencyKey string     `json:"idempotency_key"`
}

// PolicyState is the durable lifecycle record for one (policy ID, type) pair.
type PolicyState struct {
	PolicyID       string         `json:"policy_id"`
	PolicyType     PolicyType     `json:"policy_type"`
	LifecycleState LifecycleState `json:"lifecycle_state"`
	Reliability    float64        `json:"reliability_0_1"`
	RunCount       int            `json:"run_count"`
	FailureCount   int            `json:"failure_count"`
	Blacklisted    bool           `json:"blacklisted"`
	UpdatedAt      time.Time      `json:"updated_at_utc"`
}

// Output is the per-event result of a reduction.
//
// For duplicates (WasDuplicate=true) the lifecycle fields hold placeholder
// CANDIDATE values and the counters are zero; they do not describe the
// stored state.
type Output struct {
	EventID            string         `json:"event_id"`
	PolicyID           string         `json:"policy_id"`
	PolicyType         PolicyType     `json:"policy_type"`
	OldLifecycleState  LifecycleState `json:"old_lifecycle_state"`
	NewLifecycleState  LifecycleState `json:"new_lifecycle_state"`
	TransitionOccurred bool           `json:"transition_occurred"`
	Blacklisted        bool           `json:"blacklisted"`
	AlertEmitted       bool           `json:"alert_emitted"`
	WasDuplicate       bool           `json:"was_duplicate"`
	Reliability        float64        `json:"reliability_0_1"`
	RunCount           int            `json:"run_count"`
	FailureCount       int            `json:"failure_count"`
}

// StateSnapshot captures the lifecycle-relevant fields of a policy at one
// point in time.
type StateSnapshot struct {
	LifecycleState LifecycleState `json:"lifecycle_state"`
	Reliability    float64        `json:"reliability_0_1"`
	RunCount       int            `json:"run_count"`
	FailureCount   int            `json:"failure_count"`
	Blacklisted    bool           `json:"blacklisted"`
}

// AuditEntry is an append-only record of one processed event. Entries are
// written once per non-duplicate event and never modified.
type AuditEntry struct {
	ID                 string        `json:"id"`
	EventID            string        `json:"event_id"`
	IdempotencyKey     string        `json:"idempotency_key"`
	PolicyID           string        `json:"policy_id"`
	PolicyType         PolicyType    `json:"policy_type"`
	RunID              string        `json:"run_id,omitempty"`
	ObjectiveID        string        `json:"objective_id,omitempty"`
	Before             StateSnapshot `json:"before"`
	After              StateSnapshot `json:"after"`
	RewardDelta        float64       `json:"reward_delta"`
	TransitionOccurred bool          `json:"transition_occurred"`
	AlertEmitted       bool          `json:"alert_emitted"`
	Reason             string        `json:"reason,omitempty"`
	OccurredAt         time.Time     `json:"occurred_at_utc"`
	RecordedAt         time.Time     `json:"recorded_at_utc"`
}

// Thresholds parameterize lifecycle transitions and auto-blacklisting.
type Thresholds struct {
	MinRunsForValidation          int     `yaml:"min_runs_for_validation" json:"min_runs_for_validation"`
	MinPositiveRatioForValidation float64 `yaml:"min_positive_ratio_for_validation" json:"min_positive_ratio_for_validation"`
	MinRunsForPromotion           int     `yaml:"min_runs_for_promotion" json:"min_runs_for_promotion"`
	MinReliabilityForPromotion    float64 `yaml:"min_reliability_for_promotion" json:"min_reliability_for_promotion"`
	DeprecationFloor              float64 `yaml:"deprecation_floor" json:"deprecation_floor"`
	BlacklistFloor                float64 `yaml:"blacklist_floor" json:"blacklist_floor"`
}

// DefaultThresholds returns the thresholds used when none are configured.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinRunsForValidation:          10,
		MinPositiveRatioForValidation: 0.6,
		MinRunsForPromotion:           50,
		MinReliabilityForPromotion:    0.8,
		DeprecationFloor:              0.3,
		BlacklistFloor:                0.2,
	}
}

// Topic names for published events.
const (
	TopicPolicyStateUpdated = "policy.state.updated"
	TopicToolDegraded       = "system.alert.tool_degraded"
)

// PolicyStateUpdatedEvent is published when a reduction changes a policy's
// lifecycle state.
type PolicyStateUpdatedEvent struct {
	PolicyID          string         `json:"policy_id"`
	PolicyType        PolicyType     `json:"policy_type"`
	OldLifecycleState LifecycleState `json:"old_lifecycle_state"`
	NewLifecycleState LifecycleState `json:"new_lifecycle_state"`
	OccurredAt        time.Time      `json:"occurred_at_utc"`
}

// ToolDegradedAlert is published when a tool is newly blacklisted.
type ToolDegradedAlert struct {
	ToolID      string    `json:"tool_id"`
	Reliability float64   `json:"reliability_0_1"`
	OccurredAt  time.Time `json:"occurred_at_utc"`
}
