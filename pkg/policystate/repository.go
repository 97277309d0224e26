package policystate

import (
	"context"
	"time"
)

// Repository is the durable store the reducer reads and writes.
//
// Implementations must serialize writes to a single policy row (row lock or
// atomic conditional upsert) with at least read-committed isolation. The
// reducer itself relies on the transport delivering events for the same
// policy in order.
type Repository interface {
	// IsDuplicateEvent reports whether key was already marked processed.
	IsDuplicateEvent(ctx context.Context, idempotencyKey string) (bool, error)

	// GetCurrentStateJSON returns the stored state document. found is false
	// when the policy has no row yet.
	GetCurrentStateJSON(ctx context.Context, policyID string, policyType PolicyType) (stateJSON string, found bool, err error)

	// GetRunCounts returns the stored run and failure counters, or zeros for
	// a policy with no row.
	GetRunCounts(ctx context.Context, policyID string, policyType PolicyType) (runCount, failureCount int, err error)

	// UpsertState writes the policy row and its state document.
	UpsertState(ctx context.Context, state *PolicyState, stateJSON string) error

	// WriteAuditEntry appends an audit entry.
	WriteAuditEntry(ctx context.Context, entry *AuditEntry) error

	// MarkEventProcessed records key as processed. alreadyProcessed is true
	// when another delivery marked it first.
	MarkEventProcessed(ctx context.Context, idempotencyKey, eventID string, processedAt time.Time) (alreadyProcessed bool, err error)
}

// Transactor is implemented by repositories that can apply several writes
// atomically. The reducer commits state, audit entry and processed marker
// through it when available, so a failed reduction leaves nothing behind.
type Transactor interface {
	// WithinTx calls fn with a Repository bound to one transaction. Writes
	// made through it commit together when fn returns nil and are discarded
	// otherwise.
	WithinTx(ctx context.Context, fn func(tx Repository) error) error
}

// Publisher delivers follow-on events. Delivery is best effort from the
// reducer's point of view: failures are logged, never retried here.
type Publisher interface {
	PublishToolDegraded(ctx context.Context, alert ToolDegradedAlert) error
	PublishPolicyStateUpdated(ctx context.Context, event PolicyStateUpdatedEvent) error
}

// Observer receives reduction telemetry. A nil Observer is allowed.
type Observer interface {
	// ObserveReduction is called once per successful Reduce call.
	ObserveReduction(out *Output, duration time.Duration)

	// ObserveFailure is called when Reduce returns an error at step.
	ObserveFailure(policyType PolicyType, step string)

	// ObservePublishFailure is called when a follow-on publish fails.
	ObservePublishFailure(topic string)

	// ObserveStateFallback is called when a stored document was unreadable.
	ObserveStateFallback(policyType PolicyType)
}
