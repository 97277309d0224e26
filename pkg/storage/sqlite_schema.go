package storage

// SchemaVersion is the current database schema version.
const SchemaVersion = 1

// Schema contains the SQL statements to create the database schema.
const Schema = `
CREATE TABLE IF NOT EXISTS policy_states (
    policy_type TEXT NOT NULL,
    policy_id TEXT NOT NULL,
    lifecycle_state TEXT NOT NULL,
    reliability REAL NOT NULL,
    run_count INTEGER NOT NULL DEFAULT 0,
    failure_count INTEGER NOT NULL DEFAULT 0,
    blacklisted INTEGER NOT NULL DEFAULT 0,
    state_json TEXT NOT NULL,
    updated_at INTEGER NOT NULL,
    PRIMARY KEY (policy_type, policy_id)
);

CREATE INDEX IF NOT EXISTS idx_policy_states_lifecycle ON policy_states(lifecycle_state);
CREATE INDEX IF NOT EXISTS idx_policy_states_blacklisted ON policy_states(blacklisted);

CREATE TABLE IF NOT EXISTS processed_events (
    idempotency_key TEXT PRIMARY KEY,
    event_id TEXT NOT NULL,
    processed_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_processed_events_processed_at ON processed_events(processed_at);

CREATE TABLE IF NOT EXISTS audit_entries (
    id TEXT PRIMARY KEY,
    event_id TEXT NOT NULL,
    idempotency_key TEXT NOT NULL,
    policy_type TEXT NOT NULL,
    policy_id TEXT NOT NULL,
    run_id TEXT,
    objective_id TEXT,
    before_json TEXT NOT NULL,
    after_json TEXT NOT NULL,
    reward_delta REAL NOT NULL,
    transition_occurred INTEGER NOT NULL,
    alert_emitted INTEGER NOT NULL,
    reason TEXT,
    occurred_at INTEGER NOT NULL,
    recorded_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_policy ON audit_entries(policy_type, policy_id);
CREATE INDEX IF NOT EXISTS idx_audit_event_id ON audit_entries(event_id);
CREATE INDEX IF NOT EXISTS idx_audit_recorded_at ON audit_entries(recorded_at);

CREATE TABLE IF NOT EXISTS variant_counters (
    objective_id TEXT NOT NULL,
    variant_id TEXT NOT NULL,
    run_count INTEGER NOT NULL DEFAULT 0,
    win_count INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (objective_id, variant_id)
);

CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at INTEGER NOT NULL
);
`

// InsertSchemaVersion records the schema version if not already present.
const InsertSchemaVersion = `INSERT OR IGNORE INTO schema_version (version, applied_at) VALUES (?, ?)`

// GetSchemaVersion returns the highest applied schema version.
const GetSchemaVersion = `SELECT MAX(version) FROM schema_version`
