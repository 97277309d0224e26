// Package storage persists policy lifecycle state.
//
// Two backends implement policystate.Repository and abeval.CounterStore:
//
//   - SQLiteStore keeps everything in a single SQLite database.
//   - MemoryStore keeps everything in process memory and is intended for
//     tests and dry runs.
//
// # Tables
//
//	policy_states      one row per (policy_type, policy_id), holding the
//	                   lifecycle columns and the full state document
//	processed_events   idempotency keys of every reduced event
//	audit_entries      append-only record of every reduction
//	variant_counters   per-variant run and shadow win counts
//
// # Drivers
//
// The SQLite driver is selectable. "sqlite" (modernc.org/sqlite, pure Go)
// is the default; "sqlite3" (github.com/mattn/go-sqlite3) requires cgo.
// Connection pragmas are passed in the DSN so that every pooled connection
// gets them.
//
// # Consistency
//
// UpsertState is a single INSERT ... ON CONFLICT statement, so each policy
// row is updated atomically. MarkEventProcessed uses INSERT OR IGNORE and
// reports whether the key was already present. Timestamps are stored as
// Unix nanoseconds so range filters compare correctly under both drivers.
//
// # Retention
//
// Processed keys and audit entries grow without bound. PruneProcessedKeys
// and PruneAudit delete rows older than a cutoff; the retention subpackage
// runs them on a schedule.
package storage
