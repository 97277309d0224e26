package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"mercator-hq/objectives/pkg/abeval"
	"mercator-hq/objectives/pkg/policystate"
)

// SQLite driver names.
const (
	DriverModernc = "sqlite"
	DriverMattn   = "sqlite3"
)

// SQLiteConfig contains configuration for the SQLite storage backend.
type SQLiteConfig struct {
	// Driver selects the database/sql driver: "sqlite" (pure Go) or
	// "sqlite3" (cgo).
	// Default: "sqlite"
	Driver string

	// Path is the database file path.
	Path string

	// MaxOpenConns is the maximum number of open connections to the database.
	// Default: 4
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections.
	// Default: 2
	MaxIdleConns int

	// WALMode enables Write-Ahead Logging mode for better concurrency.
	// Default: true
	WALMode bool

	// BusyTimeout is the duration to wait when the database is locked.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// DefaultSQLiteConfig returns the default SQLite configuration.
func DefaultSQLiteConfig() *SQLiteConfig {
	return &SQLiteConfig{
		Driver:       DriverModernc,
		Path:         "data/objectives.db",
		MaxOpenConns: 4,
		MaxIdleConns: 2,
		WALMode:      true,
		BusyTimeout:  5 * time.Second,
	}
}

// dsn builds a driver-specific connection string carrying the pragmas.
func (c *SQLiteConfig) dsn() (string, error) {
	busyMs := c.BusyTimeout.Milliseconds()
	params := url.Values{}
	switch c.Driver {
	case DriverModernc:
		params.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busyMs))
		if c.WALMode {
			params.Add("_pragma", "journal_mode(WAL)")
		}
		params.Add("_pragma", "synchronous(NORMAL)")
	case DriverMattn:
		params.Set("_busy_timeout", fmt.Sprint(busyMs))
		if c.WALMode {
			params.Set("_journal_mode", "WAL")
		}
		params.Set("_synchronous", "NORMAL")
	default:
		return "", fmt.Errorf("unsupported sqlite driver %q", c.Driver)
	}
	return "file:" + c.Path + "?" + params.Encode(), nil
}

// Prepared statement keys.
const (
	stmtIsDuplicate   = "is_duplicate"
	stmtGetStateJSON  = "get_state_json"
	stmtGetRunCounts  = "get_run_counts"
	stmtUpsertState   = "upsert_state"
	stmtInsertAudit   = "insert_audit"
	stmtMarkProcessed = "mark_processed"
)

var preparedQueries = map[string]string{
	stmtIsDuplicate:  `SELECT 1 FROM processed_events WHERE idempotency_key = ?`,
	stmtGetStateJSON: `SELECT state_json FROM policy_states WHERE policy_type = ? AND policy_id = ?`,
	stmtGetRunCounts: `SELECT run_count, failure_count FROM policy_states WHERE policy_type = ? AND policy_id = ?`,
	stmtUpsertState: `
		INSERT INTO policy_states (
			policy_type, policy_id, lifecycle_state, reliability,
			run_count, failure_count, blacklisted, state_json, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (policy_type, policy_id) DO UPDATE SET
			lifecycle_state = excluded.lifecycle_state,
			reliability = excluded.reliability,
			run_count = excluded.run_count,
			failure_count = excluded.failure_count,
			blacklisted = excluded.blacklisted,
			state_json = excluded.state_json,
			updated_at = excluded.updated_at`,
	stmtInsertAudit: `
		INSERT INTO audit_entries (
			id, event_id, idempotency_key, policy_type, policy_id,
			run_id, objective_id, before_json, after_json, reward_delta,
			transition_occurred, alert_emitted, reason, occurred_at, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	stmtMarkProcessed: `INSERT OR IGNORE INTO processed_events (idempotency_key, event_id, processed_at) VALUES (?, ?, ?)`,
}

const stateColumns = `policy_id, policy_type, lifecycle_state, reliability, run_count, failure_count, blacklisted, updated_at`

const auditColumns = `id, event_id, idempotency_key, policy_type, policy_id, run_id, objective_id,
	before_json, after_json, reward_delta, transition_occurred, alert_emitted, reason, occurred_at, recorded_at`

var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db            *sql.DB
	config        *SQLiteConfig
	preparedStmts map[string]*sql.Stmt
	logger        *slog.Logger
}

// NewSQLiteStore opens the database, creates the schema if needed, and
// prepares the statements used on the reduction path.
func NewSQLiteStore(config *SQLiteConfig, logger *slog.Logger) (*SQLiteStore, error) {
	if config == nil {
		config = DefaultSQLiteConfig()
	}
	if config.Driver == "" {
		config.Driver = DriverModernc
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "storage.sqlite")

	dsn, err := config.dsn()
	if err != nil {
		return nil, NewStorageError("sqlite", "open", err)
	}
	if dir := filepath.Dir(config.Path); config.Path != ":memory:" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, NewStorageError("sqlite", "open", fmt.Errorf("create database directory: %w", err))
		}
	}
	db, err := sql.Open(config.Driver, dsn)
	if err != nil {
		return nil, NewStorageError("sqlite", "open", err)
	}
	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	}

	s := &SQLiteStore{
		db:            db,
		config:        config,
		preparedStmts: make(map[string]*sql.Stmt, len(preparedQueries)),
		logger:        logger,
	}
	if err := s.initialize(); err != nil {
		s.closeStatements()
		db.Close()
		return nil, err
	}

	logger.Info("SQLite storage initialized",
		"path", config.Path,
		"driver", config.Driver,
		"wal_mode", config.WALMode,
		"max_open_conns", config.MaxOpenConns,
	)
	return s, nil
}

func (s *SQLiteStore) initialize() error {
	if _, err := s.db.Exec(Schema); err != nil {
		return NewStorageError("sqlite", "create_schema", err)
	}
	if _, err := s.db.Exec(InsertSchemaVersion, SchemaVersion, time.Now().UTC().UnixNano()); err != nil {
		return NewStorageError("sqlite", "insert_schema_version", err)
	}

	var version sql.NullInt64
	if err := s.db.QueryRow(GetSchemaVersion).Scan(&version); err != nil {
		return NewStorageError("sqlite", "get_schema_version", err)
	}
	if !version.Valid || version.Int64 != SchemaVersion {
		return NewStorageError("sqlite", "schema_version_mismatch",
			fmt.Errorf("expected schema version %d, got %d", SchemaVersion, version.Int64))
	}
	s.logger.Debug("schema version verified", "version", version.Int64)

	for name, query := range preparedQueries {
		stmt, err := s.db.Prepare(query)
		if err != nil {
			return NewStorageError("sqlite", "prepare_"+name, err)
		}
		s.preparedStmts[name] = stmt
	}
	return nil
}

// WithinTx implements policystate.Transactor. The reduction-path statements
// are rebound to one transaction for the duration of fn.
func (s *SQLiteStore) WithinTx(ctx context.Context, fn func(tx policystate.Repository) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return NewStorageError("sqlite", "begin_tx", err)
	}
	if err := fn(sqliteRepo{stmts: s.preparedStmts, tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.WarnContext(ctx, "transaction rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return NewStorageError("sqlite", "commit", err)
	}
	return nil
}

// IsDuplicateEvent implements policystate.Repository.
func (s *SQLiteStore) IsDuplicateEvent(ctx context.Context, key string) (bool, error) {
	return s.repo().IsDuplicateEvent(ctx, key)
}

// GetCurrentStateJSON implements policystate.Repository.
func (s *SQLiteStore) GetCurrentStateJSON(ctx context.Context, policyID string, policyType policystate.PolicyType) (string, bool, error) {
	return s.repo().GetCurrentStateJSON(ctx, policyID, policyType)
}

// GetRunCounts implements policystate.Repository.
func (s *SQLiteStore) GetRunCounts(ctx context.Context, policyID string, policyType policystate.PolicyType) (int, int, error) {
	return s.repo().GetRunCounts(ctx, policyID, policyType)
}

// UpsertState implements policystate.Repository.
func (s *SQLiteStore) UpsertState(ctx context.Context, state *policystate.PolicyState, stateJSON string) error {
	return s.repo().UpsertState(ctx, state, stateJSON)
}

// WriteAuditEntry implements policystate.Repository.
func (s *SQLiteStore) WriteAuditEntry(ctx context.Context, entry *policystate.AuditEntry) error {
	return s.repo().WriteAuditEntry(ctx, entry)
}

// MarkEventProcessed implements policystate.Repository.
func (s *SQLiteStore) MarkEventProcessed(ctx context.Context, key, eventID string, processedAt time.Time) (bool, error) {
	return s.repo().MarkEventProcessed(ctx, key, eventID, processedAt)
}

func (s *SQLiteStore) repo() sqliteRepo {
	return sqliteRepo{stmts: s.preparedStmts}
}

// sqliteRepo runs the prepared reduction-path statements, either directly
// on the pool or bound to tx when one is set.
type sqliteRepo struct {
	stmts map[string]*sql.Stmt
	tx    *sql.Tx
}

func (r sqliteRepo) stmt(ctx context.Context, name string) *sql.Stmt {
	if r.tx != nil {
		return r.tx.StmtContext(ctx, r.stmts[name])
	}
	return r.stmts[name]
}

func (r sqliteRepo) IsDuplicateEvent(ctx context.Context, key string) (bool, error) {
	var one int
	err := r.stmt(ctx, stmtIsDuplicate).QueryRowContext(ctx, key).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, NewStorageError("sqlite", "is_duplicate_event", err)
	}
	return true, nil
}

func (r sqliteRepo) GetCurrentStateJSON(ctx context.Context, policyID string, policyType policystate.PolicyType) (string, bool, error) {
	var raw string
	err := r.stmt(ctx, stmtGetStateJSON).QueryRowContext(ctx, string(policyType), policyID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, NewStorageError("sqlite", "get_state_json", err)
	}
	return raw, true, nil
}

func (r sqliteRepo) GetRunCounts(ctx context.Context, policyID string, policyType policystate.PolicyType) (int, int, error) {
	var runs, failures int
	err := r.stmt(ctx, stmtGetRunCounts).QueryRowContext(ctx, string(policyType), policyID).Scan(&runs, &failures)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, NewStorageError("sqlite", "get_run_counts", err)
	}
	return runs, failures, nil
}

func (r sqliteRepo) UpsertState(ctx context.Context, state *policystate.PolicyState, stateJSON string) error {
	_, err := r.stmt(ctx, stmtUpsertState).ExecContext(ctx,
		string(state.PolicyType), state.PolicyID, string(state.LifecycleState), state.Reliability,
		state.RunCount, state.FailureCount, boolToInt(state.Blacklisted), stateJSON,
		state.UpdatedAt.UTC().UnixNano(),
	)
	if err != nil {
		return NewStorageError("sqlite", "upsert_state", err)
	}
	return nil
}

func (r sqliteRepo) WriteAuditEntry(ctx context.Context, entry *policystate.AuditEntry) error {
	before, err := json.Marshal(entry.Before)
	if err != nil {
		return NewStorageError("sqlite", "write_audit_entry", err)
	}
	after, err := json.Marshal(entry.After)
	if err != nil {
		return NewStorageError("sqlite", "write_audit_entry", err)
	}

	_, err = r.stmt(ctx, stmtInsertAudit).ExecContext(ctx,
		entry.ID, entry.EventID, entry.IdempotencyKey, string(entry.PolicyType), entry.PolicyID,
		nullString(entry.RunID), nullString(entry.ObjectiveID), string(before), string(after), entry.RewardDelta,
		boolToInt(entry.TransitionOccurred), boolToInt(entry.AlertEmitted), nullString(entry.Reason),
		entry.OccurredAt.UTC().UnixNano(), entry.RecordedAt.UTC().UnixNano(),
	)
	if err != nil {
		return NewStorageError("sqlite", "write_audit_entry", err)
	}
	return nil
}

func (r sqliteRepo) MarkEventProcessed(ctx context.Context, key, eventID string, processedAt time.Time) (bool, error) {
	result, err := r.stmt(ctx, stmtMarkProcessed).ExecContext(ctx, key, eventID, processedAt.UTC().UnixNano())
	if err != nil {
		return false, NewStorageError("sqlite", "mark_event_processed", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, NewStorageError("sqlite", "mark_event_processed", err)
	}
	return n == 0, nil
}

// GetState implements Store.
func (s *SQLiteStore) GetState(ctx context.Context, policyID string, policyType policystate.PolicyType) (*policystate.PolicyState, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+stateColumns+` FROM policy_states WHERE policy_type = ? AND policy_id = ?`,
		string(policyType), policyID)
	state, err := scanState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", policystate.ErrPolicyNotFound, policyType, policyID)
	}
	if err != nil {
		return nil, NewStorageError("sqlite", "get_state", err)
	}
	return state, nil
}

// ListStates implements Store.
func (s *SQLiteStore) ListStates(ctx context.Context, query StateQuery) ([]*policystate.PolicyState, error) {
	var conditions []string
	var args []interface{}
	if query.PolicyType != "" {
		conditions = append(conditions, "policy_type = ?")
		args = append(args, string(query.PolicyType))
	}
	if query.LifecycleState != "" {
		conditions = append(conditions, "lifecycle_state = ?")
		args = append(args, string(query.LifecycleState))
	}
	if query.Blacklisted != nil {
		conditions = append(conditions, "blacklisted = ?")
		args = append(args, boolToInt(*query.Blacklisted))
	}

	sqlQuery := "SELECT " + stateColumns + " FROM policy_states"
	if len(conditions) > 0 {
		sqlQuery += " WHERE " + strings.Join(conditions, " AND ")
	}
	sqlQuery += fmt.Sprintf(" ORDER BY policy_type, policy_id LIMIT %d", effectiveLimit(query.Limit))
	if query.Offset > 0 {
		sqlQuery += fmt.Sprintf(" OFFSET %d", query.Offset)
	}

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, NewStorageError("sqlite", "list_states", err)
	}
	defer rows.Close()

	states := []*policystate.PolicyState{}
	for rows.Next() {
		state, err := scanState(rows)
		if err != nil {
			return nil, NewStorageError("sqlite", "scan", err)
		}
		states = append(states, state)
	}
	if err := rows.Err(); err != nil {
		return nil, NewStorageError("sqlite", "list_states", err)
	}
	return states, nil
}

// StateCounts implements Store.
func (s *SQLiteStore) StateCounts(ctx context.Context) ([]StateCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT policy_type, lifecycle_state, blacklisted, COUNT(*)
		FROM policy_states
		GROUP BY policy_type, lifecycle_state, blacklisted
		ORDER BY policy_type, lifecycle_state, blacklisted`)
	if err != nil {
		return nil, NewStorageError("sqlite", "state_counts", err)
	}
	defer rows.Close()

	var counts []StateCount
	for rows.Next() {
		var c StateCount
		var policyType, lifecycle string
		if err := rows.Scan(&policyType, &lifecycle, &c.Blacklisted, &c.Count); err != nil {
			return nil, NewStorageError("sqlite", "scan", err)
		}
		c.PolicyType = policystate.PolicyType(policyType)
		c.LifecycleState = policystate.LifecycleState(lifecycle)
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, NewStorageError("sqlite", "state_counts", err)
	}
	return counts, nil
}

// QueryAudit implements Store.
func (s *SQLiteStore) QueryAudit(ctx context.Context, query AuditQuery) ([]*policystate.AuditEntry, error) {
	var conditions []string
	var args []interface{}
	if query.PolicyID != "" {
		conditions = append(conditions, "policy_id = ?")
		args = append(args, query.PolicyID)
	}
	if query.PolicyType != "" {
		conditions = append(conditions, "policy_type = ?")
		args = append(args, string(query.PolicyType))
	}
	if query.EventID != "" {
		conditions = append(conditions, "event_id = ?")
		args = append(args, query.EventID)
	}
	if query.TransitionsOnly {
		conditions = append(conditions, "transition_occurred = 1")
	}
	if query.Since != nil {
		conditions = append(conditions, "recorded_at >= ?")
		args = append(args, query.Since.UTC().UnixNano())
	}
	if query.Until != nil {
		conditions = append(conditions, "recorded_at <= ?")
		args = append(args, query.Until.UTC().UnixNano())
	}

	sqlQuery := "SELECT " + auditColumns + " FROM audit_entries"
	if len(conditions) > 0 {
		sqlQuery += " WHERE " + strings.Join(conditions, " AND ")
	}
	sqlQuery += fmt.Sprintf(" ORDER BY recorded_at DESC, rowid DESC LIMIT %d", effectiveLimit(query.Limit))
	if query.Offset > 0 {
		sqlQuery += fmt.Sprintf(" OFFSET %d", query.Offset)
	}

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, NewStorageError("sqlite", "query_audit", err)
	}
	defer rows.Close()

	entries := []*policystate.AuditEntry{}
	for rows.Next() {
		entry, err := scanAudit(rows)
		if err != nil {
			return nil, NewStorageError("sqlite", "scan", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, NewStorageError("sqlite", "query_audit", err)
	}
	return entries, nil
}

// PruneProcessedKeys implements Store.
func (s *SQLiteStore) PruneProcessedKeys(ctx context.Context, before time.Time) (int64, error) {
	return s.deleteBefore(ctx, "prune_processed_keys",
		`DELETE FROM processed_events WHERE processed_at < ?`, before)
}

// PruneAudit implements Store.
func (s *SQLiteStore) PruneAudit(ctx context.Context, before time.Time) (int64, error) {
	return s.deleteBefore(ctx, "prune_audit",
		`DELETE FROM audit_entries WHERE recorded_at < ?`, before)
}

func (s *SQLiteStore) deleteBefore(ctx context.Context, op, query string, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, query, before.UTC().UnixNano())
	if err != nil {
		return 0, NewStorageError("sqlite", op, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, NewStorageError("sqlite", op, err)
	}
	return n, nil
}

// Stats implements Store.
func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM policy_states),
			(SELECT COUNT(*) FROM processed_events),
			(SELECT COUNT(*) FROM audit_entries)`).Scan(&st.Policies, &st.ProcessedKeys, &st.AuditEntries)
	if err != nil {
		return Stats{}, NewStorageError("sqlite", "stats", err)
	}
	return st, nil
}

// GetCounters implements abeval.CounterStore.
func (s *SQLiteStore) GetCounters(ctx context.Context, objectiveID string) (abeval.Counters, error) {
	counters := abeval.Counters{
		RunCountByVariant:       map[string]int{},
		ShadowWinCountByVariant: map[string]int{},
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT variant_id, run_count, win_count FROM variant_counters WHERE objective_id = ?`, objectiveID)
	if err != nil {
		return counters, NewStorageError("sqlite", "get_counters", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var runs, wins int
		if err := rows.Scan(&id, &runs, &wins); err != nil {
			return counters, NewStorageError("sqlite", "scan", err)
		}
		counters.RunCountByVariant[id] = runs
		counters.ShadowWinCountByVariant[id] = wins
	}
	if err := rows.Err(); err != nil {
		return counters, NewStorageError("sqlite", "get_counters", err)
	}
	return counters, nil
}

// RecordRun implements abeval.CounterStore. All increments are applied in
// one transaction.
func (s *SQLiteStore) RecordRun(ctx context.Context, objectiveID string, shadowIDs, winnerIDs []string) error {
	increments := counterIncrements(shadowIDs, winnerIDs)
	if len(increments) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return NewStorageError("sqlite", "record_run", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO variant_counters (objective_id, variant_id, run_count, win_count)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (objective_id, variant_id) DO UPDATE SET
			run_count = run_count + excluded.run_count,
			win_count = win_count + excluded.win_count`)
	if err != nil {
		return NewStorageError("sqlite", "record_run", err)
	}
	defer stmt.Close()

	for _, inc := range increments {
		if _, err := stmt.ExecContext(ctx, objectiveID, inc.variantID, inc.runs, inc.wins); err != nil {
			return NewStorageError("sqlite", "record_run", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return NewStorageError("sqlite", "record_run", err)
	}
	return nil
}

// Ping implements Store.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return NewStorageError("sqlite", "ping", err)
	}
	return nil
}

// Close releases resources held by the storage backend.
func (s *SQLiteStore) Close() error {
	s.closeStatements()
	if err := s.db.Close(); err != nil {
		return NewStorageError("sqlite", "close", err)
	}
	s.logger.Info("SQLite storage closed")
	return nil
}

func (s *SQLiteStore) closeStatements() {
	for name, stmt := range s.preparedStmts {
		stmt.Close()
		delete(s.preparedStmts, name)
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanState(row rowScanner) (*policystate.PolicyState, error) {
	var state policystate.PolicyState
	var policyType, lifecycle string
	var updatedAt int64
	err := row.Scan(
		&state.PolicyID, &policyType, &lifecycle, &state.Reliability,
		&state.RunCount, &state.FailureCount, &state.Blacklisted, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	state.PolicyType = policystate.PolicyType(policyType)
	state.LifecycleState = policystate.LifecycleState(lifecycle)
	state.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return &state, nil
}

func scanAudit(row rowScanner) (*policystate.AuditEntry, error) {
	var entry policystate.AuditEntry
	var policyType, before, after string
	var runID, objectiveID, reason sql.NullString
	var occurredAt, recordedAt int64
	err := row.Scan(
		&entry.ID, &entry.EventID, &entry.IdempotencyKey, &policyType, &entry.PolicyID,
		&runID, &objectiveID, &before, &after, &entry.RewardDelta,
		&entry.TransitionOccurred, &entry.AlertEmitted, &reason, &occurredAt, &recordedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(before), &entry.Before); err != nil {
		return nil, fmt.Errorf("decode before snapshot: %w", err)
	}
	if err := json.Unmarshal([]byte(after), &entry.After); err != nil {
		return nil, fmt.Errorf("decode after snapshot: %w", err)
	}
	entry.PolicyType = policystate.PolicyType(policyType)
	entry.RunID = runID.String
	entry.ObjectiveID = objectiveID.String
	entry.Reason = reason.String
	entry.OccurredAt = time.Unix(0, occurredAt).UTC()
	entry.RecordedAt = time.Unix(0, recordedAt).UTC()
	return &entry, nil
}

type counterIncrement struct {
	variantID string
	runs      int
	wins      int
}

// counterIncrements merges run and win increments per variant, keeping the
// order in which variants first appear.
func counterIncrements(shadowIDs, winnerIDs []string) []counterIncrement {
	var out []counterIncrement
	index := make(map[string]int)
	get := func(id string) *counterIncrement {
		i, ok := index[id]
		if !ok {
			i = len(out)
			index[id] = i
			out = append(out, counterIncrement{variantID: id})
		}
		return &out[i]
	}
	for _, id := range shadowIDs {
		get(id).runs++
	}
	for _, id := range winnerIDs {
		get(id).wins++
	}
	return out
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
