package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Target is the storage the pruner deletes from.
type Target interface {
	PruneProcessedKeys(ctx context.Context, before time.Time) (int64, error)
	PruneAudit(ctx context.Context, before time.Time) (int64, error)
}

// Config contains configuration for the retention pruner.
type Config struct {
	// ProcessedKeyDays is how long idempotency keys are kept. It must be
	// longer than the longest redelivery delay of the event transport, or
	// a late redelivery will be reduced twice.
	// 0 keeps keys forever.
	ProcessedKeyDays int

	// AuditDays is how long audit entries are kept.
	// 0 keeps entries forever.
	AuditDays int

	// PruneSchedule is a cron expression for scheduling pruning.
	// Example: "0 3 * * *" (daily at 3 AM)
	PruneSchedule string
}

// DefaultConfig returns the default retention configuration.
func DefaultConfig() *Config {
	return &Config{
		ProcessedKeyDays: 30,
		AuditDays:        0,
		PruneSchedule:    "0 3 * * *",
	}
}

// Result reports what one pruning pass deleted.
type Result struct {
	ProcessedKeys int64
	AuditEntries  int64
}

// Total returns the number of rows deleted.
func (r Result) Total() int64 {
	return r.ProcessedKeys + r.AuditEntries
}

// Pruner enforces retention on processed keys and audit entries.
type Pruner struct {
	target    Target
	config    *Config
	logger    *slog.Logger
	scheduler *Scheduler
	now       func() time.Time

	// OnPrune is called after every pass, scheduled or manual. Optional.
	OnPrune func(Result, error)
}

// NewPruner creates a new retention pruner.
func NewPruner(target Target, config *Config, logger *slog.Logger) *Pruner {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	pruner := &Pruner{
		target: target,
		config: config,
		logger: logger.With("component", "storage.retention"),
		now:    time.Now,
	}
	pruner.scheduler = NewScheduler(pruner)
	return pruner
}

// Prune deletes processed keys older than ProcessedKeyDays and audit
// entries older than AuditDays. A zero setting skips that table.
func (p *Pruner) Prune(ctx context.Context) (Result, error) {
	res, err := p.prune(ctx)
	if p.OnPrune != nil {
		p.OnPrune(res, err)
	}
	return res, err
}

func (p *Pruner) prune(ctx context.Context) (Result, error) {
	var res Result
	now := p.now()

	if p.config.ProcessedKeyDays > 0 {
		cutoff := now.AddDate(0, 0, -p.config.ProcessedKeyDays)
		deleted, err := p.target.PruneProcessedKeys(ctx, cutoff)
		if err != nil {
			return res, fmt.Errorf("prune processed keys: %w", err)
		}
		res.ProcessedKeys = deleted
		p.logger.Debug("pruned processed keys",
			"deleted_count", deleted,
			"cutoff_time", cutoff,
		)
	}

	if p.config.AuditDays > 0 {
		cutoff := now.AddDate(0, 0, -p.config.AuditDays)
		deleted, err := p.target.PruneAudit(ctx, cutoff)
		if err != nil {
			return res, fmt.Errorf("prune audit entries: %w", err)
		}
		res.AuditEntries = deleted
		p.logger.Debug("pruned audit entries",
			"deleted_count", deleted,
			"cutoff_time", cutoff,
		)
	}

	if res.Total() > 0 {
		p.logger.Info("pruning completed",
			"processed_keys_deleted", res.ProcessedKeys,
			"audit_entries_deleted", res.AuditEntries,
		)
	}
	return res, nil
}

// Start starts the automatic pruning scheduler.
func (p *Pruner) Start(ctx context.Context) error {
	return p.scheduler.Start(ctx)
}

// Stop stops the automatic pruning scheduler.
func (p *Pruner) Stop() {
	p.scheduler.Stop()
}

// NextPruning returns the time of the next scheduled pruning.
func (p *Pruner) NextPruning() *time.Time {
	return p.scheduler.NextRun()
}

// Scheduler returns the pruner's cron scheduler.
func (p *Pruner) Scheduler() *Scheduler {
	return p.scheduler
}
