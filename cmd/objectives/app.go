package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"mercator-hq/objectives/pkg/abeval"
	"mercator-hq/objectives/pkg/abeval/scoring"
	"mercator-hq/objectives/pkg/cli"
	"mercator-hq/objectives/pkg/config"
	"mercator-hq/objectives/pkg/consumer"
	"mercator-hq/objectives/pkg/events"
	"mercator-hq/objectives/pkg/policystate"
	"mercator-hq/objectives/pkg/storage"
	"mercator-hq/objectives/pkg/telemetry"
	"mercator-hq/objectives/pkg/variants"
)

// app holds the components shared by subcommands. Components other than
// telemetry are opened on demand and released by Close.
type app struct {
	cfg       *config.Config
	telemetry *telemetry.Telemetry
	logger    *slog.Logger
	closers   []func() error
}

// loadConfig reads --config with OBJECTIVES_* overrides applied.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return nil, cli.NewConfigError("config", err.Error())
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	return cfg, nil
}

// newApp loads configuration and builds telemetry. Logs go to the
// command's stderr so stdout carries only results.
func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	tel, err := telemetry.New(&cfg.Telemetry, Version, cmd.ErrOrStderr())
	if err != nil {
		return nil, cli.NewConfigError("telemetry", err.Error())
	}
	return &app{
		cfg:       cfg,
		telemetry: tel,
		logger:    tel.Logger().Slog(),
	}, nil
}

// Close releases everything opened through the app, newest first.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := a.telemetry.Shutdown(context.Background()); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *app) openStore() (storage.Store, error) {
	store, err := storage.Open(a.cfg.Storage.Backend, sqliteConfigFrom(a.cfg.Storage.SQLite), a.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	a.closers = append(a.closers, store.Close)
	return store, nil
}

func (a *app) openPublisher() (policystate.Publisher, error) {
	switch a.cfg.Publisher.Sink {
	case "", "log":
		return events.NewLogPublisher(a.logger), nil
	case "jsonl":
		if a.cfg.Publisher.Path == "" || a.cfg.Publisher.Path == "-" {
			return events.NewJSONLPublisher(os.Stdout), nil
		}
		f, err := os.OpenFile(a.cfg.Publisher.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open publisher output: %w", err)
		}
		a.closers = append(a.closers, f.Close)
		return events.NewJSONLPublisher(f), nil
	default:
		return nil, cli.NewConfigError("publisher.sink", fmt.Sprintf("unsupported sink %q", a.cfg.Publisher.Sink))
	}
}

func (a *app) newReducer(repo policystate.Repository, publisher policystate.Publisher) *policystate.Reducer {
	return policystate.NewReducer(repo, publisher, policystate.ReducerConfig{
		Thresholds:     thresholdsFromConfig(a.cfg.Lifecycle),
		Logger:         a.logger,
		Observer:       a.telemetry.Metrics().Reducer(),
		TracerProvider: a.telemetry.Tracer().TracerProvider(),
	})
}

func (a *app) newDispatcher(handler consumer.Handler, onResult func(consumer.Result)) *consumer.Dispatcher {
	return consumer.NewDispatcher(handler, consumer.DispatcherConfig{
		Partitions:     a.cfg.Consumer.Partitions,
		BufferSize:     a.cfg.Consumer.BufferSize,
		MaxAttempts:    a.cfg.Consumer.Retry.MaxAttempts,
		InitialBackoff: a.cfg.Consumer.Retry.InitialBackoff,
		MaxBackoff:     a.cfg.Consumer.Retry.MaxBackoff,
		Logger:         a.logger,
		Observer:       a.telemetry.Metrics().Consumer(),
		TracerProvider: a.telemetry.Tracer().TracerProvider(),
		OnResult:       onResult,
	})
}

func (a *app) newEvaluator() (*abeval.Evaluator, error) {
	scorer, err := newScorer(a.cfg.Evaluation.Scorer, a.logger)
	if err != nil {
		return nil, err
	}
	return abeval.NewEvaluator(scorer, abeval.EvaluatorConfig{
		MaxParallel:    a.cfg.Evaluation.MaxParallel,
		Logger:         a.logger,
		Observer:       a.telemetry.Metrics().Evaluation(),
		TracerProvider: a.telemetry.Tracer().TracerProvider(),
	}), nil
}

// loadRegistries reads the registry file named by path, or by the
// evaluation config when path is empty.
func (a *app) loadRegistries(path string) (*variants.RegistrySet, error) {
	if path == "" {
		path = a.cfg.Evaluation.RegistryFile
	}
	registries, err := variants.LoadRegistries(path)
	if err != nil {
		return nil, cli.NewConfigError("evaluation.registry_file", err.Error())
	}
	return variants.NewRegistrySet(registries), nil
}

func thresholdsFromConfig(c config.LifecycleConfig) policystate.Thresholds {
	return policystate.Thresholds{
		MinRunsForValidation:          c.MinRunsForValidation,
		MinPositiveRatioForValidation: c.MinPositiveRatioForValidation,
		MinRunsForPromotion:           c.MinRunsForPromotion,
		MinReliabilityForPromotion:    c.MinReliabilityForPromotion,
		DeprecationFloor:              c.DeprecationFloor,
		BlacklistFloor:                c.BlacklistFloor,
	}
}

func sqliteConfigFrom(c config.SQLiteConfig) *storage.SQLiteConfig {
	return &storage.SQLiteConfig{
		Driver:       c.Driver,
		Path:         c.Path,
		MaxOpenConns: c.MaxOpenConns,
		MaxIdleConns: c.MaxIdleConns,
		WALMode:      c.WALEnabled(),
		BusyTimeout:  c.BusyTimeout,
	}
}

func newScorer(c config.ScorerConfig, logger *slog.Logger) (abeval.Scorer, error) {
	switch c.Mode {
	case "", "evidence":
		return scoring.EvidenceScorer{MissingAsFailure: c.MissingAsFailure}, nil
	case "http":
		return scoring.NewHTTPScorer(scoring.HTTPConfig{
			URL:        c.URL,
			Timeout:    c.Timeout,
			MaxRetries: c.MaxRetries,
			Headers:    c.Headers,
		}, logger)
	default:
		return nil, cli.NewConfigError("evaluation.scorer.mode", fmt.Sprintf("unsupported mode %q", c.Mode))
	}
}

// commandContext returns the command's context, which is nil when a RunE
// function is called directly.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// openInput opens path for reading; "" and "-" mean the command's stdin.
func openInput(cmd *cobra.Command, path string) (io.ReadCloser, error) {
	if path == "" || path == "-" {
		return io.NopCloser(cmd.InOrStdin()), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return f, nil
}

// openOutput opens path for writing; "" means the command's stdout.
func openOutput(cmd *cobra.Command, path string) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		return cmd.OutOrStdout(), func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return f, f.Close, nil
}

func parsePolicyType(s string) (policystate.PolicyType, error) {
	t := policystate.PolicyType(s)
	if !t.Valid() {
		return "", cli.NewConfigError("type", fmt.Sprintf("unknown policy type %q", s))
	}
	return t, nil
}
