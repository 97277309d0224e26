package config

import (
	"errors"
	"strings"
	"testing"
)

func TestValidate_ValidConfig(t *testing.T) {
	if err := Validate(Default()); err != nil {
		t.Errorf("expected valid config to pass validation, got error: %v", err)
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	// No defaults applied: most required fields are empty.
	err := Validate(&Config{})
	if err == nil {
		t.Fatal("expected validation to fail")
	}

	var validationErr ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if len(validationErr.Errors) < 2 {
		t.Errorf("expected multiple errors, got %d", len(validationErr.Errors))
	}
	if !strings.Contains(validationErr.Error(), "validation failed with") {
		t.Errorf("error message should mention multiple errors: %s", validationErr.Error())
	}
}

func TestValidate_Fields(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(*Config)
		errorField string
	}{
		{
			name:       "zero max parallel",
			mutate:     func(c *Config) { c.Evaluation.MaxParallel = 0 },
			errorField: "evaluation.max_parallel",
		},
		{
			name:       "unknown scorer",
			mutate:     func(c *Config) { c.Evaluation.Scorer.Mode = "oracle" },
			errorField: "evaluation.scorer.mode",
		},
		{
			name: "relative scorer url",
			mutate: func(c *Config) {
				c.Evaluation.Scorer.Mode = "http"
				c.Evaluation.Scorer.URL = "/score"
			},
			errorField: "evaluation.scorer.url",
		},
		{
			name:       "ratio above one",
			mutate:     func(c *Config) { c.Lifecycle.MinPositiveRatioForValidation = 1.5 },
			errorField: "lifecycle.min_positive_ratio_for_validation",
		},
		{
			name:       "promotion runs below validation runs",
			mutate:     func(c *Config) { c.Lifecycle.MinRunsForPromotion = 5 },
			errorField: "lifecycle.min_runs_for_promotion",
		},
		{
			name:       "deprecation floor above promotion bar",
			mutate:     func(c *Config) { c.Lifecycle.DeprecationFloor = 0.9 },
			errorField: "lifecycle.deprecation_floor",
		},
		{
			name:       "unknown driver",
			mutate:     func(c *Config) { c.Storage.SQLite.Driver = "postgres" },
			errorField: "storage.sqlite.driver",
		},
		{
			name:       "idle above open",
			mutate:     func(c *Config) { c.Storage.SQLite.MaxIdleConns = 10 },
			errorField: "storage.sqlite.max_idle_conns",
		},
		{
			name:       "zero partitions",
			mutate:     func(c *Config) { c.Consumer.Partitions = 0 },
			errorField: "consumer.partitions",
		},
		{
			name: "max backoff below initial",
			mutate: func(c *Config) {
				c.Consumer.Retry.MaxBackoff = 1
			},
			errorField: "consumer.retry.max_backoff",
		},
		{
			name:       "jsonl without path",
			mutate:     func(c *Config) { c.Publisher.Sink = "jsonl" },
			errorField: "publisher.path",
		},
		{
			name:       "unknown sink",
			mutate:     func(c *Config) { c.Publisher.Sink = "kafka" },
			errorField: "publisher.sink",
		},
		{
			name:       "negative key retention",
			mutate:     func(c *Config) { c.Retention.ProcessedKeyDays = -1 },
			errorField: "retention.processed_key_days",
		},
		{
			name:       "malformed cron",
			mutate:     func(c *Config) { c.Retention.PruneSchedule = "daily" },
			errorField: "retention.prune_schedule",
		},
		{
			name:       "bad log level",
			mutate:     func(c *Config) { c.Telemetry.Logging.Level = "trace" },
			errorField: "telemetry.logging.level",
		},
		{
			name:       "tracing without endpoint",
			mutate:     func(c *Config) { c.Telemetry.Tracing.Enabled = true },
			errorField: "telemetry.tracing.endpoint",
		},
		{
			name:       "unsorted buckets",
			mutate:     func(c *Config) { c.Telemetry.Metrics.DurationBuckets = []float64{1, 0.5} },
			errorField: "telemetry.metrics.duration_buckets",
		},
		{
			name:       "listen address without port",
			mutate:     func(c *Config) { c.Server.ListenAddress = "localhost" },
			errorField: "server.listen_address",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := Validate(cfg)
			var vErr ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if !vErr.HasField(tt.errorField) {
				t.Errorf("expected error for %s, got %v", tt.errorField, vErr.Errors)
			}
		})
	}
}

func TestValidate_MemoryBackendSkipsSQLite(t *testing.T) {
	cfg := Default()
	cfg.Storage.Backend = "memory"
	cfg.Storage.SQLite.Path = ""
	cfg.Storage.SQLite.Driver = ""
	if err := Validate(cfg); err != nil {
		t.Errorf("memory backend should not need sqlite settings: %v", err)
	}
}
