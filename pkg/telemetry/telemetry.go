package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/objectives/pkg/config"
	"mercator-hq/objectives/pkg/telemetry/logging"
	"mercator-hq/objectives/pkg/telemetry/metrics"
	"mercator-hq/objectives/pkg/telemetry/tracing"
)

// Telemetry bundles the logger, metrics collector and tracer built from one
// TelemetryConfig.
type Telemetry struct {
	logger  *logging.Logger
	metrics *metrics.Collector
	tracer  *tracing.Tracer
}

// New builds the telemetry stack and installs the logger as slog's default.
// Logs are written to w.
func New(cfg *config.TelemetryConfig, version string, w io.Writer) (*Telemetry, error) {
	if cfg == nil {
		return nil, errors.New("telemetry config is nil")
	}

	logger, err := logging.New(logging.FromConfig(cfg.Logging, w))
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	slog.SetDefault(logger.Slog())

	tracer, err := tracing.New(&cfg.Tracing, version)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracer: %w", err)
	}

	return &Telemetry{
		logger:  logger,
		metrics: metrics.NewCollector(&cfg.Metrics, prometheus.NewRegistry()),
		tracer:  tracer,
	}, nil
}

// Logger returns the structured logger.
func (t *Telemetry) Logger() *logging.Logger {
	return t.logger
}

// Metrics returns the Prometheus collector.
func (t *Telemetry) Metrics() *metrics.Collector {
	return t.metrics
}

// Tracer returns the tracer.
func (t *Telemetry) Tracer() *tracing.Tracer {
	return t.tracer
}

// Shutdown flushes pending spans.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return t.tracer.Shutdown(ctx)
}
