package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/objectives/pkg/cli"
	"mercator-hq/objectives/pkg/policystate"
	"mercator-hq/objectives/pkg/storage"
)

var stateFlags struct {
	getType     string
	listType    string
	clearType   string
	lifecycle   string
	blacklisted string
	limit       int
	offset      int
	output      string
	reason      string
}

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect and administer policy lifecycle state",
	Long: `Inspect and administer policy lifecycle state.

Subcommands:
  get              - Show one policy
  list             - List policies with filters
  stats            - Count policies per type and lifecycle state
  clear-blacklist  - Lift the auto-blacklist from a tool`,
}

var stateGetCmd = &cobra.Command{
	Use:   "get <policy-id>",
	Short: "Show one policy",
	Args:  cobra.ExactArgs(1),
	RunE:  stateGet,
}

var stateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List policies",
	Long: `List policies ordered by type then ID.

Examples:
  objectives state list --type TOOL_RELIABILITY --blacklisted true
  objectives state list --state PROMOTED --output csv`,
	RunE: stateList,
}

var stateStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Count policies per type and lifecycle state",
	RunE:  stateStats,
}

var stateClearBlacklistCmd = &cobra.Command{
	Use:   "clear-blacklist <tool-id>",
	Short: "Lift the auto-blacklist from a tool",
	Long: `Clear the blacklist flag of a policy.

Reductions never lift a blacklist on their own. This command is the manual
recovery path; it keeps the lifecycle state and reliability unchanged and
records the reason in the audit trail.

Example:
  objectives state clear-blacklist tool:search --reason "upstream outage resolved"`,
	Args: cobra.ExactArgs(1),
	RunE: stateClearBlacklist,
}

func init() {
	rootCmd.AddCommand(stateCmd)
	stateCmd.AddCommand(stateGetCmd, stateListCmd, stateStatsCmd, stateClearBlacklistCmd)

	stateGetCmd.Flags().StringVarP(&stateFlags.getType, "type", "t", string(policystate.PolicyTypeToolReliability), "policy type")
	stateGetCmd.Flags().StringVarP(&stateFlags.output, "output", "o", "text", "output format: text, json, csv")

	stateListCmd.Flags().StringVarP(&stateFlags.listType, "type", "t", "", "filter by policy type")
	stateListCmd.Flags().StringVar(&stateFlags.lifecycle, "state", "", "filter by lifecycle state")
	stateListCmd.Flags().StringVar(&stateFlags.blacklisted, "blacklisted", "", "filter by blacklist flag (true, false)")
	stateListCmd.Flags().IntVar(&stateFlags.limit, "limit", storage.DefaultQueryLimit, "max results")
	stateListCmd.Flags().IntVar(&stateFlags.offset, "offset", 0, "pagination offset")
	stateListCmd.Flags().StringVarP(&stateFlags.output, "output", "o", "text", "output format: text, json, csv")

	stateStatsCmd.Flags().StringVarP(&stateFlags.output, "output", "o", "text", "output format: text, json, csv")

	stateClearBlacklistCmd.Flags().StringVarP(&stateFlags.clearType, "type", "t", string(policystate.PolicyTypeToolReliability), "policy type")
	stateClearBlacklistCmd.Flags().StringVar(&stateFlags.reason, "reason", "", "reason recorded in the audit trail (required)")
}

// stateTable renders policy rows.
type stateTable []*policystate.PolicyState

func (t stateTable) Header() []string {
	return []string{"POLICY_TYPE", "POLICY_ID", "STATE", "RELIABILITY", "RUNS", "FAILURES", "BLACKLISTED", "UPDATED"}
}

func (t stateTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, s := range t {
		rows = append(rows, []string{
			string(s.PolicyType),
			s.PolicyID,
			string(s.LifecycleState),
			strconv.FormatFloat(s.Reliability, 'f', 3, 64),
			strconv.Itoa(s.RunCount),
			strconv.Itoa(s.FailureCount),
			strconv.FormatBool(s.Blacklisted),
			s.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
	return rows
}

// countTable renders StateCounts.
type countTable []storage.StateCount

func (t countTable) Header() []string {
	return []string{"POLICY_TYPE", "STATE", "BLACKLISTED", "COUNT"}
}

func (t countTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, c := range t {
		rows = append(rows, []string{
			string(c.PolicyType),
			string(c.LifecycleState),
			strconv.FormatBool(c.Blacklisted),
			strconv.Itoa(c.Count),
		})
	}
	return rows
}

func stateGet(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseOutputFormat(stateFlags.output)
	if err != nil {
		return err
	}
	policyType, err := parsePolicyType(stateFlags.getType)
	if err != nil {
		return err
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	store, err := a.openStore()
	if err != nil {
		return cli.NewCommandError("state get", err)
	}

	state, err := store.GetState(commandContext(cmd), args[0], policyType)
	if err != nil {
		return cli.NewCommandError("state get", err)
	}
	if format == cli.FormatJSON {
		return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), state)
	}
	return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), stateTable{state})
}

func stateList(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseOutputFormat(stateFlags.output)
	if err != nil {
		return err
	}

	query := storage.StateQuery{Limit: stateFlags.limit, Offset: stateFlags.offset}
	if stateFlags.listType != "" {
		if query.PolicyType, err = parsePolicyType(stateFlags.listType); err != nil {
			return err
		}
	}
	if stateFlags.lifecycle != "" {
		if query.LifecycleState, err = policystate.ParseLifecycleState(stateFlags.lifecycle); err != nil {
			return cli.NewConfigError("state", err.Error())
		}
	}
	if stateFlags.blacklisted != "" {
		b, err := strconv.ParseBool(stateFlags.blacklisted)
		if err != nil {
			return cli.NewConfigError("blacklisted", fmt.Sprintf("invalid value %q", stateFlags.blacklisted))
		}
		query.Blacklisted = &b
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	store, err := a.openStore()
	if err != nil {
		return cli.NewCommandError("state list", err)
	}

	states, err := store.ListStates(commandContext(cmd), query)
	if err != nil {
		return cli.NewCommandError("state list", err)
	}
	return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), stateTable(states))
}

func stateStats(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseOutputFormat(stateFlags.output)
	if err != nil {
		return err
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	store, err := a.openStore()
	if err != nil {
		return cli.NewCommandError("state stats", err)
	}

	ctx := commandContext(cmd)
	counts, err := store.StateCounts(ctx)
	if err != nil {
		return cli.NewCommandError("state stats", err)
	}
	if format == cli.FormatJSON {
		stats, err := store.Stats(ctx)
		if err != nil {
			return cli.NewCommandError("state stats", err)
		}
		return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), struct {
			Tables storage.Stats        `json:"tables"`
			Counts []storage.StateCount `json:"counts"`
		}{stats, counts})
	}
	return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), countTable(counts))
}

func stateClearBlacklist(cmd *cobra.Command, args []string) error {
	if stateFlags.reason == "" {
		return cli.NewConfigError("reason", "--reason is required")
	}
	policyType, err := parsePolicyType(stateFlags.clearType)
	if err != nil {
		return err
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	store, err := a.openStore()
	if err != nil {
		return cli.NewCommandError("state clear-blacklist", err)
	}

	state, err := a.newReducer(store, nil).ClearBlacklist(commandContext(cmd), args[0], policyType, stateFlags.reason)
	if err != nil {
		return cli.NewCommandError("state clear-blacklist", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s/%s: blacklisted=%t state=%s reliability=%.3f\n",
		state.PolicyType, state.PolicyID, state.Blacklisted, state.LifecycleState, state.Reliability)
	return nil
}
