// SPDX-License-Identifier: Apache-2.0

package plan

import (
	"fmt"
	"time"

	"github.com/kusari-oss/remedy/cmd/remedy/cmd/cli"
	"github.com/kusari-oss/remedy/internal/core/format"
	"github.com/kusari-oss/remedy/internal/remedy/planner"
	"github.com/spf13/cobra"
)

func newExecuteCmd(opts *cli.Options) *cobra.Command {
	var (
		approve    bool
		dryRun     bool
		outputFile string
		timeout    time.Duration
	)

	executeCmd := &cobra.Command{
		Use:   "execute [plan-file]",
		Short: "Execute a remediation plan",
		Long: `Execute submits the plan, runs its actions in dependency order and rolls
completed actions back if the plan fails. Plans whose risk requires approval
are rejected unless --approve is given.`,
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

			out := cmd.OutOrStdout()
			if dryRun {
				fmt.Fprintln(out, "Running in dry-run mode - no actions will be executed")
			}

			result, runErr := cli.Run(cmd.Context(), engine, logger, plan, cli.RunOptions{
				Approve: approve,
				Timeout: timeout,
			})
			if result == nil {
				return runErr
			}
			cli.PrintResult(out, result)

			if outputFile != "" {
				if err := format.WriteFile(outputFile, result); err != nil {
					return fmt.Errorf("error writing result: %w", err)
				}
				fmt.Fprintf(out, "Result written to %s\n", outputFile)
			}
			if !result.Success {
				if runErr != nil {
					return fmt.Errorf("plan %s ended %s: %w", result.PlanID, result.State, runErr)
				}
				return fmt.Errorf("plan %s ended %s", result.PlanID, result.State)
			}
			return nil
		},
	}

	executeCmd.Flags().BoolVar(&approve, "approve", false, "Approve the plan if its risk requires it")
	executeCmd.Flags().BoolVarP(&dryRun, "dry-run", "d", false, "Show what would be done without executing actions")
	executeCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Write the result to this file (YAML or JSON by extension)")
	executeCmd.Flags().DurationVar(&timeout, "timeout", 0, "Cancel the plan after this long")
	return executeCmd
}
