package config

import "time"

// Default values for configuration fields.
const (
	// Evaluation defaults
	DefaultRegistryFile     = "./registries.yaml"
	DefaultWatchDebounce    = 250 * time.Millisecond
	DefaultMaxParallel      = 4
	DefaultScorerMode       = "evidence"
	DefaultScorerTimeout    = 10 * time.Second
	DefaultScorerMaxRetries = 2

	// Lifecycle defaults
	DefaultMinRunsForValidation          = 10
	DefaultMinPositiveRatioForValidation = 0.6
	DefaultMinRunsForPromotion           = 50
	DefaultMinReliabilityForPromotion    = 0.8
	DefaultDeprecationFloor              = 0.3
	DefaultBlacklistFloor                = 0.2

	// Storage defaults
	DefaultStorageBackend     = "sqlite"
	DefaultSQLiteDriver       = "sqlite"
	DefaultSQLitePath         = "data/objectives.db"
	DefaultSQLiteMaxOpenConns = 4
	DefaultSQLiteMaxIdleConns = 2
	DefaultSQLiteWALMode      = true
	DefaultSQLiteBusyTimeout  = 5 * time.Second

	// Consumer defaults
	DefaultConsumerPartitions     = 4
	DefaultConsumerBufferSize     = 64
	DefaultConsumerValidateSchema = true
	DefaultRetryMaxAttempts       = 5
	DefaultRetryInitialBackoff    = 100 * time.Millisecond
	DefaultRetryMaxBackoff        = 5 * time.Second

	// Publisher defaults
	DefaultPublisherSink = "log"

	// Retention defaults
	DefaultProcessedKeyDays = 30
	DefaultAuditDays        = 0
	DefaultPruneSchedule    = "0 3 * * *"

	// Telemetry defaults
	DefaultLoggingLevel        = "info"
	DefaultLoggingFormat       = "json"
	DefaultMetricsEnabled      = true
	DefaultPrometheusPath      = "/metrics"
	DefaultMetricsNamespace    = "objectives"
	DefaultTracingSampler      = "ratio"
	DefaultTracingSamplingRate = 1.0
	DefaultTracingTimeout      = 10 * time.Second
	DefaultTracingServiceName  = "mercator-objectives"

	// Server defaults
	DefaultListenAddress      = "127.0.0.1:9090"
	DefaultReadTimeout        = 10 * time.Second
	DefaultWriteTimeout       = 10 * time.Second
	DefaultShutdownTimeout    = 15 * time.Second
	DefaultHealthCheckTimeout = 2 * time.Second
)

// DefaultDurationBuckets are the histogram buckets (seconds) used for
// reduction and evaluation latency.
var DefaultDurationBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5}

// ApplyDefaults applies default values to a Config struct.
// It sets defaults for any fields that have zero values.
// This function is idempotent and safe to call multiple times.
func ApplyDefaults(cfg *Config) {
	applyEvaluationDefaults(&cfg.Evaluation)
	applyLifecycleDefaults(&cfg.Lifecycle)

	// Storage defaults
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = DefaultStorageBackend
	}
	sqlite := &cfg.Storage.SQLite
	if sqlite.Driver == "" {
		sqlite.Driver = DefaultSQLiteDriver
	}
	if sqlite.Path == "" {
		sqlite.Path = DefaultSQLitePath
	}
	if sqlite.MaxOpenConns == 0 {
		sqlite.MaxOpenConns = DefaultSQLiteMaxOpenConns
	}
	if sqlite.MaxIdleConns == 0 {
		sqlite.MaxIdleConns = DefaultSQLiteMaxIdleConns
	}
	if sqlite.WALMode == nil {
		sqlite.WALMode = boolPtr(DefaultSQLiteWALMode)
	}
	if sqlite.BusyTimeout == 0 {
		sqlite.BusyTimeout = DefaultSQLiteBusyTimeout
	}

	// Consumer defaults
	consumer := &cfg.Consumer
	if consumer.Partitions == 0 {
		consumer.Partitions = DefaultConsumerPartitions
	}
	if consumer.BufferSize == 0 {
		consumer.BufferSize = DefaultConsumerBufferSize
	}
	if consumer.ValidateSchema == nil {
		consumer.ValidateSchema = boolPtr(DefaultConsumerValidateSchema)
	}
	if consumer.Retry.MaxAttempts == 0 {
		consumer.Retry.MaxAttempts = DefaultRetryMaxAttempts
	}
	if consumer.Retry.InitialBackoff == 0 {
		consumer.Retry.InitialBackoff = DefaultRetryInitialBackoff
	}
	if consumer.Retry.MaxBackoff == 0 {
		consumer.Retry.MaxBackoff = DefaultRetryMaxBackoff
	}

	if cfg.Publisher.Sink == "" {
		cfg.Publisher.Sink = DefaultPublisherSink
	}

	// Retention defaults. AuditDays defaults to zero (keep forever), so only
	// the key window and schedule need filling in.
	if cfg.Retention.ProcessedKeyDays == 0 {
		cfg.Retention.ProcessedKeyDays = DefaultProcessedKeyDays
	}
	if cfg.Retention.PruneSchedule == "" {
		cfg.Retention.PruneSchedule = DefaultPruneSchedule
	}

	applyTelemetryDefaults(&cfg.Telemetry)

	// Server defaults
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = DefaultListenAddress
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Server.HealthCheckTimeout == 0 {
		cfg.Server.HealthCheckTimeout = DefaultHealthCheckTimeout
	}
}

func applyEvaluationDefaults(cfg *EvaluationConfig) {
	if cfg.RegistryFile == "" {
		cfg.RegistryFile = DefaultRegistryFile
	}
	if cfg.WatchDebounce == 0 {
		cfg.WatchDebounce = DefaultWatchDebounce
	}
	if cfg.MaxParallel == 0 {
		cfg.MaxParallel = DefaultMaxParallel
	}
	if cfg.Scorer.Mode == "" {
		cfg.Scorer.Mode = DefaultScorerMode
	}
	if cfg.Scorer.Timeout == 0 {
		cfg.Scorer.Timeout = DefaultScorerTimeout
	}
	if cfg.Scorer.MaxRetries == 0 {
		cfg.Scorer.MaxRetries = DefaultScorerMaxRetries
	}
}

func applyLifecycleDefaults(cfg *LifecycleConfig) {
	if cfg.MinRunsForValidation == 0 {
		cfg.MinRunsForValidation = DefaultMinRunsForValidation
	}
	if cfg.MinPositiveRatioForValidation == 0 {
		cfg.MinPositiveRatioForValidation = DefaultMinPositiveRatioForValidation
	}
	if cfg.MinRunsForPromotion == 0 {
		cfg.MinRunsForPromotion = DefaultMinRunsForPromotion
	}
	if cfg.MinReliabilityForPromotion == 0 {
		cfg.MinReliabilityForPromotion = DefaultMinReliabilityForPromotion
	}
	if cfg.DeprecationFloor == 0 {
		cfg.DeprecationFloor = DefaultDeprecationFloor
	}
	if cfg.BlacklistFloor == 0 {
		cfg.BlacklistFloor = DefaultBlacklistFloor
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLoggingLevel
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = DefaultLoggingFormat
	}
	if cfg.Metrics.Enabled == nil {
		cfg.Metrics.Enabled = boolPtr(DefaultMetricsEnabled)
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultPrometheusPath
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = DefaultMetricsNamespace
	}
	if len(cfg.Metrics.DurationBuckets) == 0 {
		cfg.Metrics.DurationBuckets = append([]float64(nil), DefaultDurationBuckets...)
	}
	if cfg.Tracing.Sampler == "" {
		cfg.Tracing.Sampler = DefaultTracingSampler
	}
	if cfg.Tracing.SampleRatio == 0 {
		cfg.Tracing.SampleRatio = DefaultTracingSamplingRate
	}
	if cfg.Tracing.Timeout == 0 {
		cfg.Tracing.Timeout = DefaultTracingTimeout
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = DefaultTracingServiceName
	}
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

func boolPtr(b bool) *bool {
	return &b
}
