// Package retention prunes old idempotency keys and audit entries.
//
// Idempotency keys only need to outlive the event transport's redelivery
// window; audit entries are kept forever unless AuditDays is set. A
// Scheduler runs the Pruner on a cron expression (robfig/cron).
package retention
