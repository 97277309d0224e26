package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment variable overrides.
const EnvPrefix = "OBJECTIVES_"

// LoadConfig loads configuration from a YAML file at the specified path.
// ${VAR} references in the file are expanded from the environment before
// parsing. It applies default values, validates the configuration, and
// returns any errors. Use LoadConfigWithEnvOverrides to also apply
// OBJECTIVES_* overrides.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Parse decodes YAML configuration and applies defaults. It does not
// validate.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, err
	}
	ApplyDefaults(&cfg)
	return &cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables follow the naming
// convention OBJECTIVES_SECTION_FIELD (e.g., OBJECTIVES_STORAGE_SQLITE_PATH).
// Environment variables always take precedence over file-based configuration.
//
// The loading sequence is:
// 1. Load YAML from file
// 2. Apply default values
// 3. Apply environment variable overrides
// 4. Validate final configuration
//
// An empty path skips the file and starts from defaults.
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	var cfg *Config
	if path == "" {
		cfg = Default()
	} else {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
		}
		cfg, err = Parse(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the
// configuration. Malformed values are reported as a ValidationError naming
// the variable rather than silently ignored.
func applyEnvOverrides(cfg *Config) error {
	var errs []FieldError
	env := envReader{errs: &errs}

	// Evaluation overrides
	env.str("EVALUATION_REGISTRY_FILE", &cfg.Evaluation.RegistryFile)
	env.boolean("EVALUATION_WATCH", &cfg.Evaluation.Watch)
	env.integer("EVALUATION_MAX_PARALLEL", &cfg.Evaluation.MaxParallel)
	env.str("EVALUATION_SCORER_MODE", &cfg.Evaluation.Scorer.Mode)
	env.str("EVALUATION_SCORER_URL", &cfg.Evaluation.Scorer.URL)
	env.duration("EVALUATION_SCORER_TIMEOUT", &cfg.Evaluation.Scorer.Timeout)

	// Lifecycle overrides
	env.integer("LIFECYCLE_MIN_RUNS_FOR_VALIDATION", &cfg.Lifecycle.MinRunsForValidation)
	env.float("LIFECYCLE_MIN_POSITIVE_RATIO_FOR_VALIDATION", &cfg.Lifecycle.MinPositiveRatioForValidation)
	env.integer("LIFECYCLE_MIN_RUNS_FOR_PROMOTION", &cfg.Lifecycle.MinRunsForPromotion)
	env.float("LIFECYCLE_MIN_RELIABILITY_FOR_PROMOTION", &cfg.Lifecycle.MinReliabilityForPromotion)
	env.float("LIFECYCLE_DEPRECATION_FLOOR", &cfg.Lifecycle.DeprecationFloor)
	env.float("LIFECYCLE_BLACKLIST_FLOOR", &cfg.Lifecycle.BlacklistFloor)

	// Storage overrides
	env.str("STORAGE_BACKEND", &cfg.Storage.Backend)
	env.str("STORAGE_SQLITE_DRIVER", &cfg.Storage.SQLite.Driver)
	env.str("STORAGE_SQLITE_PATH", &cfg.Storage.SQLite.Path)
	env.optionalBool("STORAGE_SQLITE_WAL_MODE", &cfg.Storage.SQLite.WALMode)
	env.duration("STORAGE_SQLITE_BUSY_TIMEOUT", &cfg.Storage.SQLite.BusyTimeout)

	// Consumer overrides
	env.integer("CONSUMER_PARTITIONS", &cfg.Consumer.Partitions)
	env.integer("CONSUMER_BUFFER_SIZE", &cfg.Consumer.BufferSize)
	env.optionalBool("CONSUMER_VALIDATE_SCHEMA", &cfg.Consumer.ValidateSchema)
	env.integer("CONSUMER_RETRY_MAX_ATTEMPTS", &cfg.Consumer.Retry.MaxAttempts)

	// Publisher overrides
	env.str("PUBLISHER_SINK", &cfg.Publisher.Sink)
	env.str("PUBLISHER_PATH", &cfg.Publisher.Path)

	// Retention overrides
	env.integer("RETENTION_PROCESSED_KEY_DAYS", &cfg.Retention.ProcessedKeyDays)
	env.integer("RETENTION_AUDIT_DAYS", &cfg.Retention.AuditDays)
	env.str("RETENTION_PRUNE_SCHEDULE", &cfg.Retention.PruneSchedule)

	// Telemetry overrides
	env.str("TELEMETRY_LOGGING_LEVEL", &cfg.Telemetry.Logging.Level)
	env.str("TELEMETRY_LOGGING_FORMAT", &cfg.Telemetry.Logging.Format)
	env.optionalBool("TELEMETRY_METRICS_ENABLED", &cfg.Telemetry.Metrics.Enabled)
	env.str("TELEMETRY_METRICS_PATH", &cfg.Telemetry.Metrics.Path)
	env.boolean("TELEMETRY_TRACING_ENABLED", &cfg.Telemetry.Tracing.Enabled)
	env.str("TELEMETRY_TRACING_ENDPOINT", &cfg.Telemetry.Tracing.Endpoint)
	env.float("TELEMETRY_TRACING_SAMPLE_RATIO", &cfg.Telemetry.Tracing.SampleRatio)

	// Server overrides
	env.str("SERVER_LISTEN_ADDRESS", &cfg.Server.ListenAddress)
	env.duration("SERVER_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	env.duration("SERVER_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

// envReader copies OBJECTIVES_* variables into config fields, collecting
// parse failures.
type envReader struct {
	errs *[]FieldError
}

func (r envReader) lookup(name string) (string, bool) {
	val := os.Getenv(EnvPrefix + name)
	return val, val != ""
}

func (r envReader) fail(name string, err error) {
	*r.errs = append(*r.errs, FieldError{
		Field:   EnvPrefix + name,
		Message: fmt.Sprintf("invalid value: %v", err),
	})
}

func (r envReader) str(name string, dst *string) {
	if val, ok := r.lookup(name); ok {
		*dst = val
	}
}

func (r envReader) boolean(name string, dst *bool) {
	if val, ok := r.lookup(name); ok {
		b, err := strconv.ParseBool(val)
		if err != nil {
			r.fail(name, err)
			return
		}
		*dst = b
	}
}

func (r envReader) optionalBool(name string, dst **bool) {
	if val, ok := r.lookup(name); ok {
		b, err := strconv.ParseBool(val)
		if err != nil {
			r.fail(name, err)
			return
		}
		*dst = &b
	}
}

func (r envReader) integer(name string, dst *int) {
	if val, ok := r.lookup(name); ok {
		i, err := strconv.Atoi(val)
		if err != nil {
			r.fail(name, err)
			return
		}
		*dst = i
	}
}

func (r envReader) float(name string, dst *float64) {
	if val, ok := r.lookup(name); ok {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			r.fail(name, err)
			return
		}
		*dst = f
	}
}

func (r envReader) duration(name string, dst *time.Duration) {
	if val, ok := r.lookup(name); ok {
		d, err := time.ParseDuration(val)
		if err != nil {
			r.fail(name, err)
			return
		}
		*dst = d
	}
}
