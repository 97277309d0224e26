package policystate

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// ClearBlacklist is the out-of-band recovery path for a blacklisted policy.
// Reductions never clear the flag on their own.
//
// The change is written to the audit trail with a generated event ID and
// the operator's reason. Clearing a policy that is not blacklisted is a
// no-op that returns the current state. Callers must not run this
// concurrently with reductions for the same policy.
func (r *Reducer) ClearBlacklist(ctx context.Context, policyID string, policyType PolicyType, reason string) (*PolicyState, error) {
	raw, found, err := r.repo.GetCurrentStateJSON(ctx, policyID, policyType)
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("%w: %s/%s", ErrPolicyNotFound, policyType, policyID)
	}
	doc, err := ParseStateDocument(raw)
	if err != nil {
		return nil, fmt.Errorf("stored state for %s/%s is unreadable: %w", policyType, policyID, err)
	}
	runCount, failureCount, err := r.repo.GetRunCounts(ctx, policyID, policyType)
	if err != nil {
		return nil, fmt.Errorf("read counts: %w", err)
	}

	state := &PolicyState{
		PolicyID:       policyID,
		PolicyType:     policyType,
		LifecycleState: doc.LifecycleState,
		Reliability:    doc.Reliability,
		RunCount:       runCount,
		FailureCount:   failureCount,
		Blacklisted:    doc.Blacklisted,
		UpdatedAt:      doc.UpdatedAt,
	}
	if !doc.Blacklisted {
		return state, nil
	}

	before := doc.Snapshot(runCount, failureCount)
	now := r.now().UTC()
	doc.Blacklisted = false
	doc.BlacklistedAt = nil
	doc.UpdatedAt = now

	stateJSON, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	state.Blacklisted = false
	state.UpdatedAt = now
	eventID := "manual-" + uuid.New().String()
	entry := &AuditEntry{
		ID:             uuid.New().String(),
		EventID:        eventID,
		IdempotencyKey: eventID,
		PolicyID:       policyID,
		PolicyType:     policyType,
		Before:         before,
		After:          doc.Snapshot(runCount, failureCount),
		Reason:         reason,
		OccurredAt:     now,
		RecordedAt:     now,
	}
	err = r.atomically(ctx, func(repo Repository) error {
		if err := repo.UpsertState(ctx, state, string(stateJSON)); err != nil {
			return fmt.Errorf("upsert state: %w", err)
		}
		if err := repo.WriteAuditEntry(ctx, entry); err != nil {
			return fmt.Errorf("write audit entry: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.logger.InfoContext(ctx, "blacklist cleared",
		"policy_id", policyID,
		"policy_type", policyType,
		"reason", reason,
	)
	return state, nil
}
