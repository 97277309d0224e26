package config

import (
	"testing"
	"time"
)

func TestApplyDefaults(t *testing.T) {
	tests := []struct {
		name  string
		input Config
		check func(*testing.T, *Config)
	}{
		{
			name:  "empty config gets all defaults",
			input: Config{},
			check: func(t *testing.T, cfg *Config) {
				if cfg.Evaluation.RegistryFile != DefaultRegistryFile {
					t.Errorf("expected registry file %q, got %q", DefaultRegistryFile, cfg.Evaluation.RegistryFile)
				}
				if cfg.Evaluation.MaxParallel != DefaultMaxParallel {
					t.Errorf("expected max parallel %d, got %d", DefaultMaxParallel, cfg.Evaluation.MaxParallel)
				}
				if cfg.Evaluation.Scorer.Mode != DefaultScorerMode {
					t.Errorf("expected scorer mode %q, got %q", DefaultScorerMode, cfg.Evaluation.Scorer.Mode)
				}
				if cfg.Lifecycle.MinRunsForValidation != 10 || cfg.Lifecycle.MinRunsForPromotion != 50 {
					t.Errorf("unexpected run thresholds: %+v", cfg.Lifecycle)
				}
				if cfg.Lifecycle.BlacklistFloor != 0.2 || cfg.Lifecycle.DeprecationFloor != 0.3 {
					t.Errorf("unexpected floors: %+v", cfg.Lifecycle)
				}
				if cfg.Storage.Backend != DefaultStorageBackend {
					t.Errorf("expected storage backend %q, got %q", DefaultStorageBackend, cfg.Storage.Backend)
				}
				if cfg.Storage.SQLite.Path != DefaultSQLitePath {
					t.Errorf("expected SQLite path %q, got %q", DefaultSQLitePath, cfg.Storage.SQLite.Path)
				}
				if !cfg.Storage.SQLite.WALEnabled() {
					t.Error("expected WAL mode to default to true")
				}
				if !cfg.Consumer.SchemaValidationEnabled() {
					t.Error("expected schema validation to default to true")
				}
				if cfg.Consumer.Retry.MaxAttempts != DefaultRetryMaxAttempts {
					t.Errorf("expected max attempts %d, got %d", DefaultRetryMaxAttempts, cfg.Consumer.Retry.MaxAttempts)
				}
				if cfg.Retention.ProcessedKeyDays != DefaultProcessedKeyDays {
					t.Errorf("expected processed key days %d, got %d", DefaultProcessedKeyDays, cfg.Retention.ProcessedKeyDays)
				}
				if cfg.Retention.AuditDays != 0 {
					t.Errorf("expected audit entries kept forever, got %d days", cfg.Retention.AuditDays)
				}
				if cfg.Telemetry.Logging.Level != DefaultLoggingLevel {
					t.Errorf("expected logging level %q, got %q", DefaultLoggingLevel, cfg.Telemetry.Logging.Level)
				}
				if !cfg.Telemetry.Metrics.MetricsEnabled() {
					t.Error("expected metrics to default to enabled")
				}
				if cfg.Server.ListenAddress != DefaultListenAddress {
					t.Errorf("expected listen address %q, got %q", DefaultListenAddress, cfg.Server.ListenAddress)
				}
			},
		},
		{
			name: "existing values are preserved",
			input: Config{
				Evaluation: EvaluationConfig{MaxParallel: 16},
				Lifecycle:  LifecycleConfig{BlacklistFloor: 0.1},
				Storage:    StorageConfig{Backend: "memory"},
				Server:     ServerConfig{ReadTimeout: time.Minute},
			},
			check: func(t *testing.T, cfg *Config) {
				if cfg.Evaluation.MaxParallel != 16 {
					t.Errorf("max parallel overwritten: %d", cfg.Evaluation.MaxParallel)
				}
				if cfg.Lifecycle.BlacklistFloor != 0.1 {
					t.Errorf("blacklist floor overwritten: %v", cfg.Lifecycle.BlacklistFloor)
				}
				if cfg.Storage.Backend != "memory" {
					t.Errorf("backend overwritten: %q", cfg.Storage.Backend)
				}
				if cfg.Server.ReadTimeout != time.Minute {
					t.Errorf("read timeout overwritten: %v", cfg.Server.ReadTimeout)
				}
			},
		},
		{
			name: "explicit false booleans are preserved",
			input: Config{
				Storage:   StorageConfig{SQLite: SQLiteConfig{WALMode: boolPtr(false)}},
				Consumer:  ConsumerConfig{ValidateSchema: boolPtr(false)},
				Telemetry: TelemetryConfig{Metrics: MetricsConfig{Enabled: boolPtr(false)}},
			},
			check: func(t *testing.T, cfg *Config) {
				if cfg.Storage.SQLite.WALEnabled() {
					t.Error("WAL mode should stay disabled")
				}
				if cfg.Consumer.SchemaValidationEnabled() {
					t.Error("schema validation should stay disabled")
				}
				if cfg.Telemetry.Metrics.MetricsEnabled() {
					t.Error("metrics should stay disabled")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.input
			ApplyDefaults(&cfg)
			tt.check(t, &cfg)
		})
	}
}

func TestApplyDefaults_Idempotent(t *testing.T) {
	cfg := Default()
	buckets := len(cfg.Telemetry.Metrics.DurationBuckets)
	ApplyDefaults(cfg)
	if len(cfg.Telemetry.Metrics.DurationBuckets) != buckets {
		t.Errorf("buckets changed on second pass: %v", cfg.Telemetry.Metrics.DurationBuckets)
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}
