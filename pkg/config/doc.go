// Package config provides configuration management for the objectives
// service.
//
// This package handles loading and validating configuration from YAML
// files with environment variable overrides. Every field has a default, so
// an empty file (or no file at all) yields a working single-node setup
// backed by SQLite.
//
// # Configuration Loading
//
// Configuration can be loaded in two ways:
//
//  1. From a YAML file only:
//     cfg, err := config.LoadConfig("config.yaml")
//
//  2. From a YAML file with environment variable overrides:
//     cfg, err := config.LoadConfigWithEnvOverrides("config.yaml")
//
// ${VAR} references inside the file are expanded from the environment
// before parsing.
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention OBJECTIVES_SECTION_FIELD.
// For example:
//
//   - OBJECTIVES_STORAGE_SQLITE_PATH overrides storage.sqlite.path
//   - OBJECTIVES_LIFECYCLE_BLACKLIST_FLOOR overrides lifecycle.blacklist_floor
//   - OBJECTIVES_TELEMETRY_LOGGING_LEVEL overrides telemetry.logging.level
//
// A malformed override (for example a non-numeric partition count) fails
// loading with a FieldError naming the variable.
//
// # Configuration Precedence
//
//  1. Default values (defined in defaults.go)
//  2. Values from YAML file
//  3. Environment variable overrides
//  4. Validation (fails fast if invalid)
//
// # Example Configuration
//
//	evaluation:
//	  registry_file: "./registries.yaml"
//	  watch: true
//
//	lifecycle:
//	  min_runs_for_validation: 10
//	  blacklist_floor: 0.2
//
//	storage:
//	  backend: "sqlite"
//	  sqlite:
//	    path: "data/objectives.db"
//
//	retention:
//	  processed_key_days: 30
//	  prune_schedule: "0 3 * * *"
package config
