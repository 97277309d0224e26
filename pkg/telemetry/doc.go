// Package telemetry assembles the service's observability stack.
//
// # Components
//
//   - logging: slog-based structured logging with run, objective, policy
//     and trace IDs pulled from the context
//   - metrics: Prometheus collectors implementing the reducer, evaluator
//     and consumer observer interfaces
//   - tracing: OpenTelemetry tracing exported over OTLP gRPC
//   - health: liveness and readiness endpoints
//
// # Usage
//
//	tel, err := telemetry.New(&cfg.Telemetry, version, os.Stderr)
//	if err != nil {
//		return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	reducer := policystate.NewReducer(store, publisher, policystate.ReducerConfig{
//		Logger:         tel.Logger().Slog(),
//		Observer:       tel.Metrics().Reducer(),
//		TracerProvider: tel.Tracer().TracerProvider(),
//	})
package telemetry
