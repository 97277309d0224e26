package config

import "time"

// Config is the root configuration structure for the objectives service.
// It contains the sections for variant evaluation, the policy lifecycle
// reducer, storage, event consumption and publishing, retention, telemetry
// and the HTTP server.
type Config struct {
	// Evaluation configures the A/B variant evaluator: where the variant
	// registries come from and how variants are scored.
	Evaluation EvaluationConfig `yaml:"evaluation"`

	// Lifecycle contains the thresholds that drive policy lifecycle
	// transitions and tool auto-blacklisting.
	Lifecycle LifecycleConfig `yaml:"lifecycle"`

	// Storage selects and configures the policy state store.
	Storage StorageConfig `yaml:"storage"`

	// Consumer configures how reward events are decoded and dispatched to
	// the reducer.
	Consumer ConsumerConfig `yaml:"consumer"`

	// Publisher selects where follow-on events (state updates, tool
	// degradation alerts) are delivered.
	Publisher PublisherConfig `yaml:"publisher"`

	// Retention configures pruning of idempotency keys and audit entries.
	Retention RetentionConfig `yaml:"retention"`

	// Telemetry contains configuration for logging, metrics and tracing.
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Server contains the HTTP server configuration for the metrics and
	// health endpoints.
	Server ServerConfig `yaml:"server"`
}

// EvaluationConfig contains configuration for variant evaluation.
type EvaluationConfig struct {
	// RegistryFile is the YAML file holding one variant registry per
	// objective.
	// Default: "./registries.yaml"
	RegistryFile string `yaml:"registry_file"`

	// Watch enables automatic reloading when the registry file changes.
	// A reload that fails validation keeps the previous registries.
	// Default: false
	Watch bool `yaml:"watch"`

	// WatchDebounce coalesces bursts of file events into one reload.
	// Default: 250ms
	WatchDebounce time.Duration `yaml:"watch_debounce"`

	// MaxParallel bounds how many variants are scored concurrently within
	// one evaluation run.
	// Default: 4
	MaxParallel int `yaml:"max_parallel"`

	// Scorer selects how variants are scored.
	Scorer ScorerConfig `yaml:"scorer"`
}

// ScorerConfig configures variant scoring.
type ScorerConfig struct {
	// Mode selects the scorer.
	// Options: "evidence" (scores precomputed in the evidence bundle),
	// "http" (external scoring service)
	// Default: "evidence"
	Mode string `yaml:"mode"`

	// MissingAsFailure makes the evidence scorer report a variant without
	// precomputed scores as failed instead of returning an error.
	// Default: false
	MissingAsFailure bool `yaml:"missing_as_failure"`

	// URL is the scoring endpoint when Mode is "http".
	URL string `yaml:"url"`

	// Timeout bounds a single scoring request.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`

	// MaxRetries is the number of retries for failed scoring requests.
	// Default: 2
	MaxRetries int `yaml:"max_retries"`

	// Headers are added to every scoring request.
	Headers map[string]string `yaml:"headers"`
}

// LifecycleConfig contains the lifecycle thresholds.
type LifecycleConfig struct {
	// MinRunsForValidation is the run count a CANDIDATE needs before it can
	// be validated.
	// Default: 10
	MinRunsForValidation int `yaml:"min_runs_for_validation"`

	// MinPositiveRatioForValidation is the share of non-failing runs a
	// CANDIDATE needs before it can be validated.
	// Default: 0.6
	MinPositiveRatioForValidation float64 `yaml:"min_positive_ratio_for_validation"`

	// MinRunsForPromotion is the run count a VALIDATED policy needs before
	// it can be promoted.
	// Default: 50
	MinRunsForPromotion int `yaml:"min_runs_for_promotion"`

	// MinReliabilityForPromotion is the reliability a VALIDATED policy
	// needs before it can be promoted.
	// Default: 0.8
	MinReliabilityForPromotion float64 `yaml:"min_reliability_for_promotion"`

	// DeprecationFloor is the reliability below which a PROMOTED policy is
	// deprecated.
	// Default: 0.3
	DeprecationFloor float64 `yaml:"deprecation_floor"`

	// BlacklistFloor is the reliability below which a tool is blacklisted.
	// Default: 0.2
	BlacklistFloor float64 `yaml:"blacklist_floor"`
}

// StorageConfig contains configuration for the policy state store.
type StorageConfig struct {
	// Backend selects the store.
	// Options: "sqlite", "memory"
	// Default: "sqlite"
	Backend string `yaml:"backend"`

	// SQLite contains SQLite-specific configuration.
	SQLite SQLiteConfig `yaml:"sqlite"`
}

// SQLiteConfig contains SQLite database configuration.
type SQLiteConfig struct {
	// Driver selects the database/sql driver.
	// Options: "sqlite" (modernc.org/sqlite, pure Go), "sqlite3" (mattn/go-sqlite3, cgo)
	// Default: "sqlite"
	Driver string `yaml:"driver"`

	// Path is the file path to the SQLite database.
	// Default: "data/objectives.db"
	Path string `yaml:"path"`

	// MaxOpenConns is the maximum number of open connections.
	// Default: 4
	MaxOpenConns int `yaml:"max_open_conns"`

	// MaxIdleConns is the maximum number of idle connections.
	// Default: 2
	MaxIdleConns int `yaml:"max_idle_conns"`

	// WALMode enables Write-Ahead Logging.
	// Default: true
	WALMode *bool `yaml:"wal_mode"`

	// BusyTimeout is how long a writer waits on a locked database.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// WALEnabled reports whether WAL mode is on, treating unset as the default.
func (c SQLiteConfig) WALEnabled() bool {
	if c.WALMode == nil {
		return DefaultSQLiteWALMode
	}
	return *c.WALMode
}

// ConsumerConfig contains configuration for reward event consumption.
type ConsumerConfig struct {
	// Partitions is the number of reducer workers. Events for one policy
	// always go to the same worker.
	// Default: 4
	Partitions int `yaml:"partitions"`

	// BufferSize is the queue length per partition.
	// Default: 64
	BufferSize int `yaml:"buffer_size"`

	// ValidateSchema checks inbound events against the reward event JSON
	// schema before decoding.
	// Default: true
	ValidateSchema *bool `yaml:"validate_schema"`

	// Retry configures redelivery of failed reductions.
	Retry RetryConfig `yaml:"retry"`
}

// SchemaValidationEnabled reports whether schema validation is on,
// treating unset as the default.
func (c ConsumerConfig) SchemaValidationEnabled() bool {
	if c.ValidateSchema == nil {
		return DefaultConsumerValidateSchema
	}
	return *c.ValidateSchema
}

// RetryConfig configures exponential backoff retries.
type RetryConfig struct {
	// MaxAttempts is the total number of reduction attempts per event.
	// Default: 5
	MaxAttempts int `yaml:"max_attempts"`

	// InitialBackoff is the delay before the first retry.
	// Default: 100ms
	InitialBackoff time.Duration `yaml:"initial_backoff"`

	// MaxBackoff caps the delay between retries.
	// Default: 5s
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// PublisherConfig selects where follow-on events are delivered.
type PublisherConfig struct {
	// Sink selects the publisher.
	// Options: "log" (structured log lines), "jsonl" (newline-delimited
	// JSON envelopes appended to Path)
	// Default: "log"
	Sink string `yaml:"sink"`

	// Path is the output file when Sink is "jsonl". "-" writes to stdout.
	Path string `yaml:"path"`
}

// RetentionConfig contains pruning configuration.
type RetentionConfig struct {
	// ProcessedKeyDays is how long idempotency keys are kept. It must
	// exceed the longest redelivery delay of the event transport.
	// 0 keeps keys forever.
	// Default: 30
	ProcessedKeyDays int `yaml:"processed_key_days"`

	// AuditDays is how long audit entries are kept. 0 keeps them forever.
	// Default: 0
	AuditDays int `yaml:"audit_days"`

	// PruneSchedule is a cron expression for automatic pruning. Empty
	// disables the scheduler.
	// Default: "0 3 * * *" (daily at 3 AM)
	PruneSchedule string `yaml:"prune_schedule"`
}

// TelemetryConfig contains configuration for observability.
type TelemetryConfig struct {
	// Logging contains logging configuration.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics contains metrics collection configuration.
	Metrics MetricsConfig `yaml:"metrics"`

	// Tracing contains distributed tracing configuration.
	Tracing TracingConfig `yaml:"tracing"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level to emit.
	// Options: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `yaml:"level"`

	// Format controls the log output format.
	// Options: "json", "text", "console"
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file and line number in log entries.
	// Default: false
	AddSource bool `yaml:"add_source"`
}

// MetricsConfig contains metrics collection configuration.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is active.
	// Default: true
	Enabled *bool `yaml:"enabled"`

	// Path is the HTTP path for the Prometheus metrics endpoint.
	// Default: "/metrics"
	Path string `yaml:"path"`

	// Namespace is the metric name prefix.
	// Default: "objectives"
	Namespace string `yaml:"namespace"`

	// DurationBuckets defines histogram buckets for reduction and
	// evaluation durations (seconds).
	// Default: [0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5]
	DurationBuckets []float64 `yaml:"duration_buckets"`
}

// MetricsEnabled reports whether metrics are on, treating unset as the
// default.
func (c MetricsConfig) MetricsEnabled() bool {
	if c.Enabled == nil {
		return DefaultMetricsEnabled
	}
	return *c.Enabled
}

// TracingConfig contains distributed tracing configuration.
type TracingConfig struct {
	// Enabled controls whether distributed tracing is active.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Sampler determines the sampling strategy.
	// Options: "always", "never", "ratio"
	// Default: "ratio"
	Sampler string `yaml:"sampler"`

	// SampleRatio is the fraction of traces to sample (0.0 to 1.0).
	// Only used when Sampler is "ratio".
	// Default: 1.0
	SampleRatio float64 `yaml:"sample_ratio"`

	// Endpoint is the OTLP gRPC collector endpoint.
	// Example: "localhost:4317"
	Endpoint string `yaml:"endpoint"`

	// Insecure disables TLS for the collector connection.
	// Default: false
	Insecure bool `yaml:"insecure"`

	// Timeout bounds each span export.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`

	// ServiceName is the service name in traces.
	// Default: "mercator-objectives"
	ServiceName string `yaml:"service_name"`
}

// ServerConfig contains configuration for the HTTP server.
type ServerConfig struct {
	// ListenAddress is the address and port to listen on.
	// Format: "host:port" (e.g., "127.0.0.1:9090", "0.0.0.0:9090").
	// Default: "127.0.0.1:9090"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout is the maximum duration for reading a request.
	// Default: 10s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes of the
	// response.
	// Default: 10s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	// Default: 15s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// HealthCheckTimeout bounds each readiness probe.
	// Default: 2s
	HealthCheckTimeout time.Duration `yaml:"health_check_timeout"`
}
