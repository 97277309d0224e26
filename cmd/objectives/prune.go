package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mercator-hq/objectives/pkg/cli"
	"mercator-hq/objectives/pkg/storage/retention"
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Apply retention once",
	Long: `Delete idempotency keys and audit entries older than the configured
retention. A retention of 0 days keeps that table forever.

Idempotency keys must outlive the longest redelivery delay of the event
transport, or a late redelivery would be reduced a second time.`,
	RunE: pruneRun,
}

func init() {
	rootCmd.AddCommand(pruneCmd)
}

func pruneRun(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	store, err := a.openStore()
	if err != nil {
		return cli.NewCommandError("prune", err)
	}

	pruner := a.newPruner(store)
	res, err := pruner.Prune(commandContext(cmd))
	if err != nil {
		return cli.NewCommandError("prune", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d idempotency keys and %d audit entries\n", res.ProcessedKeys, res.AuditEntries)
	return nil
}

func (a *app) newPruner(target retention.Target) *retention.Pruner {
	pruner := retention.NewPruner(target, &retention.Config{
		ProcessedKeyDays: a.cfg.Retention.ProcessedKeyDays,
		AuditDays:        a.cfg.Retention.AuditDays,
		PruneSchedule:    a.cfg.Retention.PruneSchedule,
	}, a.logger)
	pruner.OnPrune = a.telemetry.Metrics().Retention().ObservePrune
	return pruner
}
