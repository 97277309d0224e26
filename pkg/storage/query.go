package storage

import (
	"time"

	"mercator-hq/objectives/pkg/policystate"
)

// DefaultQueryLimit caps list results when no limit is given.
const DefaultQueryLimit = 100

// StateQuery filters ListStates results. Zero-valued fields do not filter.
type StateQuery struct {
	PolicyType     policystate.PolicyType
	LifecycleState policystate.LifecycleState
	Blacklisted    *bool

	Limit  int
	Offset int
}

// AuditQuery filters QueryAudit results. Zero-valued fields do not filter.
// Results are ordered by RecordedAt, newest first.
type AuditQuery struct {
	PolicyID   string
	PolicyType policystate.PolicyType
	EventID    string

	// TransitionsOnly restricts results to entries that changed the
	// lifecycle state.
	TransitionsOnly bool

	Since *time.Time
	Until *time.Time

	Limit  int
	Offset int
}

func effectiveLimit(limit int) int {
	if limit <= 0 {
		return DefaultQueryLimit
	}
	return limit
}
