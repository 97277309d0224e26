// Package policystate reduces reward events into durable policy lifecycle
// state.
//
// Every objective policy moves through a forward-only lifecycle:
//
//	CANDIDATE -> VALIDATED -> PROMOTED -> DEPRECATED
//
// Transitions are table-driven (ComputeNextLifecycleState) and advance at
// most one step per event. Reliability is a running [0,1] estimate updated
// by signed reward deltas. TOOL_RELIABILITY policies whose reliability drops
// below the blacklist floor are quarantined permanently until an operator
// clears the flag.
//
// # Delivery guarantees
//
// Events arrive at least once. The Reducer makes their effect exactly once
// by checking the idempotency key before reading state and marking it only
// after state, audit entry and marker writes have all succeeded. A failed or
// cancelled reduction can therefore be retried from the start.
//
// Events for the same (policy ID, policy type) pair must be reduced
// serially; different policies may be reduced in parallel.
package policystate
