// Package tracing provides OpenTelemetry distributed tracing for the
// objectives service.
//
// # Overview
//
// New builds an SDK tracer provider that exports spans over OTLP gRPC and
// installs it, with a W3C trace context propagator, as the global provider.
// The reducer, evaluator and dispatcher take a trace.TracerProvider in their
// configs and fall back to the global one, so a single call to New at
// startup instruments the whole pipeline:
//
//	tracer, err := tracing.New(&cfg.Telemetry.Tracing, version)
//	if err != nil {
//		return err
//	}
//	defer tracer.Shutdown(context.Background())
//
// When tracing is disabled, New returns a noop tracer and leaves the global
// provider alone.
//
// # Span Layout
//
//	consumer.Dispatch        one per reward event, covering retries
//	└── policystate.Reduce   one per attempt
//	abeval.Run               one per evaluation run
//
// Span attributes use the Attr* keys defined in this package.
//
// # Sampling Strategies
//
// Three sampling strategies are supported:
//   - always: Sample all traces (development/debugging)
//   - never: Sample no new traces
//   - ratio: Sample a fraction of traces by trace ID
//
// All strategies are parent based: a sampled parent span keeps its children
// sampled.
//
// # Propagation
//
// Published envelopes carry the publishing span's context in their
// trace_context field (see InjectToMap). The operational HTTP server wraps
// its handlers in HTTPMiddleware.
package tracing
