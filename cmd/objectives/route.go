package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"mercator-hq/objectives/pkg/cli"
	"mercator-hq/objectives/pkg/variants"
)

var routeFlags struct {
	objective string
	runID     string
	registry  string
	output    string
}

var routeCmd = &cobra.Command{
	Use:   "route",
	Short: "Show which variant a run is routed to",
	Long: `Route a run to one variant of an objective.

Routing hashes the run ID onto [0,1) and walks the active variants in
registry order, so the same run always lands on the same variant.

Examples:
  objectives route --objective tool-selection --run-id run-42
  objectives route --objective tool-selection --run-id run-42 --output json`,
	RunE: routeRun,
}

func init() {
	rootCmd.AddCommand(routeCmd)

	routeCmd.Flags().StringVar(&routeFlags.objective, "objective", "", "objective ID (required)")
	routeCmd.Flags().StringVar(&routeFlags.runID, "run-id", "", "run ID (required)")
	routeCmd.Flags().StringVar(&routeFlags.registry, "registry", "", "registry file (default from config)")
	routeCmd.Flags().StringVarP(&routeFlags.output, "output", "o", "text", "output format: text, json, csv")
}

type routeResult struct {
	RunID       string        `json:"run_id"`
	ObjectiveID string        `json:"objective_id"`
	VariantID   string        `json:"variant_id"`
	Role        variants.Role `json:"role"`
	Fraction    float64       `json:"hash_fraction"`
}

func (r routeResult) Header() []string {
	return []string{"RUN_ID", "OBJECTIVE_ID", "VARIANT_ID", "ROLE", "HASH_FRACTION"}
}

func (r routeResult) Rows() [][]string {
	return [][]string{{r.RunID, r.ObjectiveID, r.VariantID, string(r.Role), strconv.FormatFloat(r.Fraction, 'f', 6, 64)}}
}

func routeRun(cmd *cobra.Command, args []string) error {
	if routeFlags.objective == "" {
		return cli.NewConfigError("objective", "--objective is required")
	}
	if routeFlags.runID == "" {
		return cli.NewConfigError("run-id", "--run-id is required")
	}
	format, err := cli.ParseOutputFormat(routeFlags.output)
	if err != nil {
		return err
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	set, err := a.loadRegistries(routeFlags.registry)
	if err != nil {
		return err
	}
	registry, err := set.Get(routeFlags.objective)
	if err != nil {
		return cli.NewCommandError("route", err)
	}

	variant := variants.RouteToVariant(routeFlags.runID, registry)
	if variant.VariantID == "" {
		return cli.NewCommandError("route", fmt.Errorf("objective %s has no routable variant", routeFlags.objective))
	}

	return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), routeResult{
		RunID:       routeFlags.runID,
		ObjectiveID: registry.ObjectiveID,
		VariantID:   variant.VariantID,
		Role:        variant.Role,
		Fraction:    variants.HashFraction(routeFlags.runID),
	})
}
