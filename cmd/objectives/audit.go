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

var auditFlags struct {
	policy          string
	policyType      string
	event           string
	transitionsOnly bool
	since           string
	until           string
	limit           int
	offset          int
	format          string
	output          string
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Query the policy state audit trail",
	Long: `Query the append-only audit trail.

Every reduced event and every manual blacklist clear writes one audit entry
holding the policy's state before and after the change.`,
}

var auditQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query audit entries",
	Long: `Query audit entries, newest first.

Time bounds use RFC3339 and apply to the time the entry was recorded.

Examples:
  # Transitions of one tool
  objectives audit query --policy tool:search --transitions-only

  # Everything recorded on one day, as CSV
  objectives audit query --since 2025-03-01T00:00:00Z --until 2025-03-02T00:00:00Z --format csv -o audit.csv`,
	RunE: auditQuery,
}

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditQueryCmd)

	auditQueryCmd.Flags().StringVar(&auditFlags.policy, "policy", "", "filter by policy ID")
	auditQueryCmd.Flags().StringVarP(&auditFlags.policyType, "type", "t", "", "filter by policy type")
	auditQueryCmd.Flags().StringVar(&auditFlags.event, "event", "", "filter by event ID")
	auditQueryCmd.Flags().BoolVar(&auditFlags.transitionsOnly, "transitions-only", false, "only entries that changed the lifecycle state")
	auditQueryCmd.Flags().StringVar(&auditFlags.since, "since", "", "earliest recorded time (RFC3339)")
	auditQueryCmd.Flags().StringVar(&auditFlags.until, "until", "", "latest recorded time (RFC3339)")
	auditQueryCmd.Flags().IntVar(&auditFlags.limit, "limit", storage.DefaultQueryLimit, "max results")
	auditQueryCmd.Flags().IntVar(&auditFlags.offset, "offset", 0, "pagination offset")
	auditQueryCmd.Flags().StringVar(&auditFlags.format, "format", "text", "output format: text, json, csv")
	auditQueryCmd.Flags().StringVarP(&auditFlags.output, "output", "o", "", "output file (default: stdout)")
}

// auditTable renders audit entries.
type auditTable []*policystate.AuditEntry

func (t auditTable) Header() []string {
	return []string{"RECORDED", "EVENT_ID", "POLICY_TYPE", "POLICY_ID", "DELTA", "FROM", "TO", "RELIABILITY", "BLACKLISTED", "ALERT", "REASON"}
}

func (t auditTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, e := range t {
		rows = append(rows, []string{
			e.RecordedAt.UTC().Format(time.RFC3339),
			e.EventID,
			string(e.PolicyType),
			e.PolicyID,
			strconv.FormatFloat(e.RewardDelta, 'f', 3, 64),
			string(e.Before.LifecycleState),
			string(e.After.LifecycleState),
			strconv.FormatFloat(e.After.Reliability, 'f', 3, 64),
			strconv.FormatBool(e.After.Blacklisted),
			strconv.FormatBool(e.AlertEmitted),
			e.Reason,
		})
	}
	return rows
}

func auditQuery(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseOutputFormat(auditFlags.format)
	if err != nil {
		return err
	}

	query := storage.AuditQuery{
		PolicyID:        auditFlags.policy,
		EventID:         auditFlags.event,
		TransitionsOnly: auditFlags.transitionsOnly,
		Limit:           auditFlags.limit,
		Offset:          auditFlags.offset,
	}
	if auditFlags.policyType != "" {
		if query.PolicyType, err = parsePolicyType(auditFlags.policyType); err != nil {
			return err
		}
	}
	if query.Since, err = parseTimeFlag("since", auditFlags.since); err != nil {
		return err
	}
	if query.Until, err = parseTimeFlag("until", auditFlags.until); err != nil {
		return err
	}
	if query.Since != nil && query.Until != nil && query.Until.Before(*query.Since) {
		return cli.NewConfigError("until", "--until is before --since")
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	store, err := a.openStore()
	if err != nil {
		return cli.NewCommandError("audit query", err)
	}

	entries, err := store.QueryAudit(commandContext(cmd), query)
	if err != nil {
		return cli.NewCommandError("audit query", fmt.Errorf("query failed: %w", err))
	}

	w, closeOutput, err := openOutput(cmd, auditFlags.output)
	if err != nil {
		return err
	}
	defer closeOutput()
	return cli.NewFormatter(format).FormatTo(w, auditTable(entries))
}

func parseTimeFlag(name, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, cli.NewConfigError(name, fmt.Sprintf("invalid time %q: expected RFC3339", value))
	}
	return &t, nil
}
