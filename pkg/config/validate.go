package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "storage.sqlite.path").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
// It implements the error interface and provides access to all field errors.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// HasField reports whether any error is for field.
func (e ValidationError) HasField(field string) bool {
	for _, fe := range e.Errors {
		if fe.Field == field {
			return true
		}
	}
	return false
}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. It returns nil if the configuration is valid.
// All validation errors are collected and returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateEvaluation(&cfg.Evaluation)...)
	errs = append(errs, validateLifecycle(&cfg.Lifecycle)...)
	errs = append(errs, validateStorage(&cfg.Storage)...)
	errs = append(errs, validateConsumer(&cfg.Consumer)...)
	errs = append(errs, validatePublisher(&cfg.Publisher)...)
	errs = append(errs, validateRetention(&cfg.Retention)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)
	errs = append(errs, validateServer(&cfg.Server)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

func validateEvaluation(cfg *EvaluationConfig) []FieldError {
	var errs []FieldError

	if cfg.RegistryFile == "" {
		errs = append(errs, FieldError{
			Field:   "evaluation.registry_file",
			Message: "registry file is required",
		})
	}
	if cfg.WatchDebounce < 0 {
		errs = append(errs, FieldError{
			Field:   "evaluation.watch_debounce",
			Message: "watch debounce must be non-negative",
		})
	}
	if cfg.MaxParallel < 1 {
		errs = append(errs, FieldError{
			Field:   "evaluation.max_parallel",
			Message: "max parallel must be at least 1",
		})
	}

	switch cfg.Scorer.Mode {
	case "evidence":
	case "http":
		if cfg.Scorer.URL == "" {
			errs = append(errs, FieldError{
				Field:   "evaluation.scorer.url",
				Message: "scorer URL is required when mode is 'http'",
			})
		} else if u, err := url.Parse(cfg.Scorer.URL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, FieldError{
				Field:   "evaluation.scorer.url",
				Message: fmt.Sprintf("invalid URL %q", cfg.Scorer.URL),
			})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "evaluation.scorer.mode",
			Message: fmt.Sprintf("invalid mode %q: must be 'evidence' or 'http'", cfg.Scorer.Mode),
		})
	}
	if cfg.Scorer.Timeout < 0 {
		errs = append(errs, FieldError{
			Field:   "evaluation.scorer.timeout",
			Message: "timeout must be positive",
		})
	}
	if cfg.Scorer.MaxRetries > 10 {
		errs = append(errs, FieldError{
			Field:   "evaluation.scorer.max_retries",
			Message: "max retries exceeds reasonable limit (10)",
		})
	}

	return errs
}

func validateLifecycle(cfg *LifecycleConfig) []FieldError {
	var errs []FieldError

	if cfg.MinRunsForValidation < 1 {
		errs = append(errs, FieldError{
			Field:   "lifecycle.min_runs_for_validation",
			Message: "must be at least 1",
		})
	}
	if cfg.MinRunsForPromotion < cfg.MinRunsForValidation {
		errs = append(errs, FieldError{
			Field:   "lifecycle.min_runs_for_promotion",
			Message: "must not be lower than min_runs_for_validation",
		})
	}

	ratios := []struct {
		field string
		value float64
	}{
		{"lifecycle.min_positive_ratio_for_validation", cfg.MinPositiveRatioForValidation},
		{"lifecycle.min_reliability_for_promotion", cfg.MinReliabilityForPromotion},
		{"lifecycle.deprecation_floor", cfg.DeprecationFloor},
		{"lifecycle.blacklist_floor", cfg.BlacklistFloor},
	}
	for _, r := range ratios {
		if r.value < 0 || r.value > 1 {
			errs = append(errs, FieldError{
				Field:   r.field,
				Message: "must be between 0.0 and 1.0",
			})
		}
	}

	if cfg.DeprecationFloor >= cfg.MinReliabilityForPromotion {
		errs = append(errs, FieldError{
			Field:   "lifecycle.deprecation_floor",
			Message: "must be lower than min_reliability_for_promotion",
		})
	}

	return errs
}

func validateStorage(cfg *StorageConfig) []FieldError {
	var errs []FieldError

	switch cfg.Backend {
	case "memory":
		return errs
	case "sqlite":
	default:
		errs = append(errs, FieldError{
			Field:   "storage.backend",
			Message: fmt.Sprintf("invalid backend %q: must be 'sqlite' or 'memory'", cfg.Backend),
		})
		return errs
	}

	if cfg.SQLite.Driver != "sqlite" && cfg.SQLite.Driver != "sqlite3" {
		errs = append(errs, FieldError{
			Field:   "storage.sqlite.driver",
			Message: fmt.Sprintf("invalid driver %q: must be 'sqlite' or 'sqlite3'", cfg.SQLite.Driver),
		})
	}
	if cfg.SQLite.Path == "" {
		errs = append(errs, FieldError{
			Field:   "storage.sqlite.path",
			Message: "SQLite path is required when backend is 'sqlite'",
		})
	}
	if cfg.SQLite.MaxOpenConns < 1 {
		errs = append(errs, FieldError{
			Field:   "storage.sqlite.max_open_conns",
			Message: "max open connections must be at least 1",
		})
	}
	if cfg.SQLite.MaxIdleConns < 0 || cfg.SQLite.MaxIdleConns > cfg.SQLite.MaxOpenConns {
		errs = append(errs, FieldError{
			Field:   "storage.sqlite.max_idle_conns",
			Message: "max idle connections must be between 0 and max_open_conns",
		})
	}
	if cfg.SQLite.BusyTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "storage.sqlite.busy_timeout",
			Message: "busy timeout must be non-negative",
		})
	}

	return errs
}

func validateConsumer(cfg *ConsumerConfig) []FieldError {
	var errs []FieldError

	if cfg.Partitions < 1 || cfg.Partitions > 1024 {
		errs = append(errs, FieldError{
			Field:   "consumer.partitions",
			Message: "partitions must be between 1 and 1024",
		})
	}
	if cfg.BufferSize < 1 {
		errs = append(errs, FieldError{
			Field:   "consumer.buffer_size",
			Message: "buffer size must be at least 1",
		})
	}
	if cfg.Retry.MaxAttempts < 1 {
		errs = append(errs, FieldError{
			Field:   "consumer.retry.max_attempts",
			Message: "max attempts must be at least 1",
		})
	}
	if cfg.Retry.InitialBackoff < 0 {
		errs = append(errs, FieldError{
			Field:   "consumer.retry.initial_backoff",
			Message: "initial backoff must be non-negative",
		})
	}
	if cfg.Retry.MaxBackoff < cfg.Retry.InitialBackoff {
		errs = append(errs, FieldError{
			Field:   "consumer.retry.max_backoff",
			Message: "max backoff must not be lower than initial backoff",
		})
	}

	return errs
}

func validatePublisher(cfg *PublisherConfig) []FieldError {
	var errs []FieldError

	switch cfg.Sink {
	case "log":
	case "jsonl":
		if cfg.Path == "" {
			errs = append(errs, FieldError{
				Field:   "publisher.path",
				Message: "path is required when sink is 'jsonl'",
			})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "publisher.sink",
			Message: fmt.Sprintf("invalid sink %q: must be 'log' or 'jsonl'", cfg.Sink),
		})
	}

	return errs
}

func validateRetention(cfg *RetentionConfig) []FieldError {
	var errs []FieldError

	if cfg.ProcessedKeyDays < 0 {
		errs = append(errs, FieldError{
			Field:   "retention.processed_key_days",
			Message: "processed key days must be non-negative",
		})
	}
	if cfg.AuditDays < 0 {
		errs = append(errs, FieldError{
			Field:   "retention.audit_days",
			Message: "audit days must be non-negative",
		})
	}
	if cfg.AuditDays > 3650 { // 10 years is excessive
		errs = append(errs, FieldError{
			Field:   "retention.audit_days",
			Message: "audit days exceeds reasonable limit (3650)",
		})
	}
	// The cron expression itself is checked by the scheduler at start-up;
	// here only the field count is verified.
	if cfg.PruneSchedule != "" && len(strings.Fields(cfg.PruneSchedule)) != 5 && !strings.HasPrefix(cfg.PruneSchedule, "@") {
		errs = append(errs, FieldError{
			Field:   "retention.prune_schedule",
			Message: fmt.Sprintf("invalid cron expression %q: expected 5 fields", cfg.PruneSchedule),
		})
	}

	return errs
}

func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	// Validate logging level
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if cfg.Logging.Level == "" {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: "logging level is required",
		})
	} else if !validLevels[cfg.Logging.Level] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("invalid logging level %q: must be 'debug', 'info', 'warn', or 'error'", cfg.Logging.Level),
		})
	}

	// Validate logging format
	validFormats := map[string]bool{"json": true, "text": true, "console": true}
	if cfg.Logging.Format == "" {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: "logging format is required",
		})
	} else if !validFormats[cfg.Logging.Format] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("invalid logging format %q: must be 'json', 'text', or 'console'", cfg.Logging.Format),
		})
	}

	if cfg.Metrics.MetricsEnabled() {
		if cfg.Metrics.Path == "" || cfg.Metrics.Path[0] != '/' {
			errs = append(errs, FieldError{
				Field:   "telemetry.metrics.path",
				Message: "metrics path must start with /",
			})
		}
		for i := 1; i < len(cfg.Metrics.DurationBuckets); i++ {
			if cfg.Metrics.DurationBuckets[i] <= cfg.Metrics.DurationBuckets[i-1] {
				errs = append(errs, FieldError{
					Field:   "telemetry.metrics.duration_buckets",
					Message: "buckets must be strictly increasing",
				})
				break
			}
		}
	}

	// Validate tracing configuration
	if cfg.Tracing.Enabled && cfg.Tracing.Endpoint == "" {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.endpoint",
			Message: "tracing endpoint is required when tracing is enabled",
		})
	}
	validSamplers := map[string]bool{"always": true, "never": true, "ratio": true}
	if !validSamplers[cfg.Tracing.Sampler] {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.sampler",
			Message: fmt.Sprintf("invalid sampler %q: must be 'always', 'never', or 'ratio'", cfg.Tracing.Sampler),
		})
	}
	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1.0 {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.sample_ratio",
			Message: "sample ratio must be between 0.0 and 1.0",
		})
	}

	return errs
}

func validateServer(cfg *ServerConfig) []FieldError {
	var errs []FieldError

	if cfg.ListenAddress == "" {
		errs = append(errs, FieldError{
			Field:   "server.listen_address",
			Message: "listen address is required",
		})
	} else if _, _, err := net.SplitHostPort(cfg.ListenAddress); err != nil {
		errs = append(errs, FieldError{
			Field:   "server.listen_address",
			Message: fmt.Sprintf("invalid listen address: %v", err),
		})
	}

	timeouts := []struct {
		field string
		value time.Duration
	}{
		{"server.read_timeout", cfg.ReadTimeout},
		{"server.write_timeout", cfg.WriteTimeout},
		{"server.shutdown_timeout", cfg.ShutdownTimeout},
		{"server.health_check_timeout", cfg.HealthCheckTimeout},
	}
	for _, t := range timeouts {
		if t.value < 0 {
			errs = append(errs, FieldError{
				Field:   t.field,
				Message: "timeout must be non-negative",
			})
		}
	}

	return errs
}
