// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"fmt"
	"strconv"
	"time"

	"github.com/kusari-oss/remedy/cmd/remedy/cmd/cli"
	"github.com/kusari-oss/remedy/internal/core/format"
	"github.com/kusari-oss/remedy/internal/remedy/audit"
	"github.com/kusari-oss/remedy/internal/remedy/planner"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

// NewAuditCmd creates the audit command
func NewAuditCmd(opts *cli.Options) *cobra.Command {
	var (
		filter  audit.Filter
		since   time.Duration
		approve bool
		dryRun  bool
		asJSON  bool
	)

	auditCmd := &cobra.Command{
		Use:   "audit [plan-file]",
		Short: "Execute a plan and print its audit trail",
		Long: `Audit executes the plan like "plan execute" and then prints the audit
entries it produced, optionally filtered by action, event type, user or age.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := planner.LoadPlanFile(args[0])
			if err != nil {
				return err
			}
			engine, logger, err := opts.Engine(cli.EngineOptions{DryRun: dryRun})
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			result, runErr := cli.Run(cmd.Context(), engine, logger, plan, cli.RunOptions{Approve: approve})
			if result == nil {
				return runErr
			}

			filter.PlanID = plan.ID
			if since > 0 {
				filter.From = time.Now().Add(-since)
			}
			entries := engine.GetAuditLog(filter)

			out := cmd.OutOrStdout()
			if asJSON {
				data, err := format.FormatData(entries, false)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, data)
				return nil
			}

			table := tablewriter.NewWriter(out)
			table.SetHeader([]string{"Seq", "Time", "Action", "Event", "User", "Details"})
			table.SetBorder(false)
			table.SetAutoWrapText(false)
			for _, e := range entries {
				table.Append([]string{
					strconv.FormatUint(e.Sequence, 10),
					e.Timestamp.Format(time.RFC3339),
					e.ActionID,
					e.EventType,
					e.UserID,
					e.Details,
				})
			}
			table.Render()
			fmt.Fprintf(out, "Plan %s: %s\n", result.PlanID, result.State)
			return nil
		},
	}

	auditCmd.Flags().StringVar(&filter.ActionID, "action", "", "Only show entries for this action id")
	auditCmd.Flags().StringVar(&filter.EventType, "event", "", "Only show entries of this event type")
	auditCmd.Flags().StringVar(&filter.UserID, "user", "", "Only show entries recorded for this user")
	auditCmd.Flags().DurationVar(&since, "since", 0, "Only show entries newer than this")
	auditCmd.Flags().BoolVar(&approve, "approve", false, "Approve the plan if its risk requires it")
	auditCmd.Flags().BoolVarP(&dryRun, "dry-run", "d", false, "Show what would be done without executing actions")
	auditCmd.Flags().BoolVar(&asJSON, "json", false, "Print entries as JSON")
	return auditCmd
}
