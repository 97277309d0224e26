// Package logging provides structured logging on top of log/slog.
//
// # Overview
//
//   - JSON, text and console output formats
//   - A level that can be changed at runtime (SetLevel)
//   - Context fields: run_id, objective_id, policy_id and event_id set with
//     the With* helpers, plus trace_id and span_id of the active
//     OpenTelemetry span, are added to records logged with the *Context
//     methods
//
// # Usage
//
//	logger, err := logging.New(logging.Config{Level: "info", Format: "json"})
//
//	ctx = logging.WithRunID(ctx, "run-123")
//	logger.Slog().InfoContext(ctx, "evaluation finished", "variants", 3)
//	// {"level":"INFO","msg":"evaluation finished","variants":3,"run_id":"run-123"}
//
// Components take a plain *slog.Logger; pass logger.Slog().
package logging
