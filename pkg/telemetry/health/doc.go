// Package health provides liveness and readiness endpoints.
//
// # Endpoints
//
//   - /health: Liveness probe. Always 200 while the process answers.
//   - /ready: Readiness probe. Runs the registered checks concurrently.
//   - /version: Build information.
//
// # Checks
//
// Critical checks (RegisterCheck) make /ready return 503 when they fail.
// Optional checks (RegisterOptionalCheck) only mark the service degraded.
// The serve command registers:
//
//	checker := health.New(cfg.Server.HealthCheckTimeout)
//	checker.RegisterCheck("storage", health.StorageCheck(store))
//	checker.RegisterCheck("registries", health.RegistryCheck(registrySet))
//	checker.RegisterOptionalCheck("retention", health.SchedulerCheck(scheduler))
//	health.Register(mux, checker, health.VersionInfo{Version: version})
package health
