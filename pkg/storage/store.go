package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"mercator-hq/objectives/pkg/abeval"
	"mercator-hq/objectives/pkg/policystate"
)

// Store is the full storage API used by the CLI and the server.
type Store interface {
	policystate.Repository
	policystate.Transactor
	abeval.CounterStore

	// GetState returns one policy row. It wraps policystate.ErrPolicyNotFound
	// when the policy has never been reduced.
	GetState(ctx context.Context, policyID string, policyType policystate.PolicyType) (*policystate.PolicyState, error)

	// ListStates returns policy rows ordered by type then ID.
	ListStates(ctx context.Context, query StateQuery) ([]*policystate.PolicyState, error)

	// StateCounts returns the number of policies per type, lifecycle state,
	// and blacklist flag.
	StateCounts(ctx context.Context) ([]StateCount, error)

	// QueryAudit returns audit entries, newest first.
	QueryAudit(ctx context.Context, query AuditQuery) ([]*policystate.AuditEntry, error)

	// PruneProcessedKeys deletes idempotency keys processed before cutoff.
	PruneProcessedKeys(ctx context.Context, before time.Time) (int64, error)

	// PruneAudit deletes audit entries recorded before cutoff.
	PruneAudit(ctx context.Context, before time.Time) (int64, error)

	// Stats returns table row counts.
	Stats(ctx context.Context) (Stats, error)

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases resources held by the backend.
	Close() error
}

// StateCount is one row of StateCounts.
type StateCount struct {
	PolicyType     policystate.PolicyType     `json:"policy_type"`
	LifecycleState policystate.LifecycleState `json:"lifecycle_state"`
	Blacklisted    bool                       `json:"blacklisted"`
	Count          int                        `json:"count"`
}

// Stats holds table row counts.
type Stats struct {
	Policies      int64 `json:"policies"`
	ProcessedKeys int64 `json:"processed_keys"`
	AuditEntries  int64 `json:"audit_entries"`
}

// Backend names accepted by Open.
const (
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Open creates the backend named by backend. cfg is only used for SQLite.
func Open(backend string, cfg *SQLiteConfig, logger *slog.Logger) (Store, error) {
	switch backend {
	case "", BackendSQLite:
		return NewSQLiteStore(cfg, logger)
	case BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}

var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
