package policystate

import (
	"errors"
	"fmt"
)

// Reduction steps named in ReduceError.
const (
	StepIdempotencyCheck = "idempotency_check"
	StepReadState        = "read_state"
	StepReadCounts       = "read_counts"
	StepEncodeState      = "encode_state"
	StepUpsertState      = "upsert_state"
	StepWriteAudit       = "write_audit"
	StepMarkProcessed    = "mark_processed"
	StepCommit           = "commit"
)

// ErrInvalidEvent is returned for events missing required fields.
var ErrInvalidEvent = errors.New("invalid reward event")

// ReduceError reports the step at which a reduction failed. The
// idempotency key is never marked processed when a ReduceError is returned,
// so the event can be redelivered and reprocessed from the start. With a
// Transactor repository none of the reduction's writes survive either.
type ReduceError struct {
	Step     string
	EventID  string
	PolicyID string
	Cause    error
}

// Error implements the error interface.
func (e *ReduceError) Error() string {
	return fmt.Sprintf("reduce failed [step=%s, event_id=%s, policy_id=%s]: %v", e.Step, e.EventID, e.PolicyID, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *ReduceError) Unwrap() error {
	return e.Cause
}

func newReduceError(step string, event *RewardAssignedEvent, cause error) *ReduceError {
	return &ReduceError{
		Step:     step,
		EventID:  event.EventID,
		PolicyID: event.PolicyID,
		Cause:    cause,
	}
}

// ValidateEvent checks the fields the reducer depends on.
func ValidateEvent(event *RewardAssignedEvent) error {
	switch {
	case event == nil:
		return fmt.Errorf("%w: nil event", ErrInvalidEvent)
	case event.IdempotencyKey == "":
		return fmt.Errorf("%w: idempotency_key is required", ErrInvalidEvent)
	case event.PolicyID == "":
		return fmt.Errorf("%w: policy_id is required", ErrInvalidEvent)
	case !event.PolicyType.Valid():
		return fmt.Errorf("%w: unknown policy_type %q", ErrInvalidEvent, event.PolicyType)
	case event.RewardDelta != event.RewardDelta:
		return fmt.Errorf("%w: reward_delta is NaN", ErrInvalidEvent)
	}
	return nil
}

// ErrPolicyNotFound is returned by operator actions on a policy that has
// never been reduced.
var ErrPolicyNotFound = errors.New("policy state not found")
