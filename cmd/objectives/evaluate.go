package main

import (
	"fmt"
	"io"
	"slices"
	"strconv"

	"github.com/spf13/cobra"

	"mercator-hq/objectives/pkg/abeval"
	"mercator-hq/objectives/pkg/cli"
	"mercator-hq/objectives/pkg/telemetry/logging"
)

var evaluateFlags struct {
	objective string
	runID     string
	evidence  string
	registry  string
	noRecord  bool
	output    string
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Evaluate every variant of an objective against an evidence bundle",
	Long: `Run one A/B evaluation pass.

Every variant in the objective's registry is scored against the evidence
bundle. Shadows are compared with the active variant for divergence, and
shadows with enough stored wins are reported as upgrade-ready.

By default the stored per-variant run and win counters are read before the
pass and updated after it. Use --no-record for a dry run that neither reads
nor writes counters.

The objective and run ID default to the bundle's objective_id and run_id.

Examples:
  objectives evaluate --evidence bundle.json
  cat bundle.json | objectives evaluate --evidence - --objective tool-selection
  objectives evaluate --evidence bundle.json --no-record --output json`,
	RunE: evaluateRun,
}

func init() {
	rootCmd.AddCommand(evaluateCmd)

	evaluateCmd.Flags().StringVar(&evaluateFlags.objective, "objective", "", "objective ID (default: bundle objective_id)")
	evaluateCmd.Flags().StringVar(&evaluateFlags.runID, "run-id", "", "run ID (default: bundle run_id)")
	evaluateCmd.Flags().StringVarP(&evaluateFlags.evidence, "evidence", "e", "-", "evidence bundle JSON file, - for stdin")
	evaluateCmd.Flags().StringVar(&evaluateFlags.registry, "registry", "", "registry file (default from config)")
	evaluateCmd.Flags().BoolVar(&evaluateFlags.noRecord, "no-record", false, "do not read or update stored win counters")
	evaluateCmd.Flags().StringVarP(&evaluateFlags.output, "output", "o", "text", "output format: text, json, csv")
}

// evaluationTable renders an evaluation Output one row per variant.
type evaluationTable struct {
	*abeval.Output
}

func (t evaluationTable) Header() []string {
	return []string{"VARIANT_ID", "ROLE", "PASSED", "MEAN_SCORE", "DIVERGENT", "UPGRADE_READY"}
}

func (t evaluationTable) Rows() [][]string {
	rows := make([][]string, 0, len(t.VariantResults))
	for _, r := range t.VariantResults {
		rows = append(rows, []string{
			r.VariantID,
			string(r.Role),
			strconv.FormatBool(r.Passed),
			strconv.FormatFloat(r.Scores.Mean(), 'f', 3, 64),
			strconv.FormatBool(slices.Contains(t.DivergentVariantIDs, r.VariantID)),
			strconv.FormatBool(slices.Contains(t.UpgradeReadyVariantIDs, r.VariantID)),
		})
	}
	return rows
}

func evaluateRun(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseOutputFormat(evaluateFlags.output)
	if err != nil {
		return err
	}

	in, err := openInput(cmd, evaluateFlags.evidence)
	if err != nil {
		return cli.NewConfigError("evidence", err.Error())
	}
	data, err := io.ReadAll(in)
	in.Close()
	if err != nil {
		return cli.NewCommandError("evaluate", fmt.Errorf("read evidence: %w", err))
	}
	bundle, err := abeval.ParseEvidenceBundle(data)
	if err != nil {
		return cli.NewConfigError("evidence", fmt.Sprintf("invalid evidence bundle: %v", err))
	}

	objectiveID := firstNonEmpty(evaluateFlags.objective, bundle.ObjectiveID)
	runID := firstNonEmpty(evaluateFlags.runID, bundle.RunID)
	if objectiveID == "" {
		return cli.NewConfigError("objective", "no --objective given and the bundle has no objective_id")
	}
	if runID == "" {
		return cli.NewConfigError("run-id", "no --run-id given and the bundle has no run_id")
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	set, err := a.loadRegistries(evaluateFlags.registry)
	if err != nil {
		return err
	}
	registry, err := set.Get(objectiveID)
	if err != nil {
		return cli.NewCommandError("evaluate", err)
	}
	evaluator, err := a.newEvaluator()
	if err != nil {
		return err
	}

	ctx := logging.WithObjectiveID(logging.WithRunID(commandContext(cmd), runID), objectiveID)
	input := &abeval.Input{RunID: runID, Evidence: bundle, Registry: registry}

	var out *abeval.Output
	if evaluateFlags.noRecord {
		out, err = evaluator.Run(ctx, input)
	} else {
		store, openErr := a.openStore()
		if openErr != nil {
			return cli.NewCommandError("evaluate", openErr)
		}
		out, err = abeval.NewTracker(evaluator, store).Evaluate(ctx, input)
	}
	if err != nil {
		return cli.NewCommandError("evaluate", err)
	}

	w := cmd.OutOrStdout()
	switch format {
	case cli.FormatJSON:
		return cli.NewFormatter(format).FormatTo(w, out)
	case cli.FormatText:
		fmt.Fprintf(w, "Run %s routed to %s (objective %s)\n", out.RunID, out.RoutedVariantID, out.ObjectiveID)
		fmt.Fprintf(w, "Divergence detected: %t\n", out.DivergenceDetected)
		if out.UpgradeReady {
			fmt.Fprintf(w, "Upgrade ready: %s\n", out.UpgradeReadyVariantID)
		} else {
			fmt.Fprintln(w, "Upgrade ready: none")
		}
		fmt.Fprintln(w)
	}
	return cli.NewFormatter(format).FormatTo(w, evaluationTable{out})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
