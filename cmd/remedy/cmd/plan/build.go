// SPDX-License-Identifier: Apache-2.0

package plan

import (
	"fmt"

	"github.com/kusari-oss/remedy/cmd/remedy/cmd/cli"
	"github.com/kusari-oss/remedy/internal/core/format"
	"github.com/kusari-oss/remedy/internal/core/models"
	"github.com/kusari-oss/remedy/internal/remedy/planner"
	"github.com/spf13/cobra"
)

func newBuildCmd(_ *cli.Options) *cobra.Command {
	var (
		outputFile      string
		planID          string
		name            string
		requireApproval bool
		continueOnError bool
	)

	buildCmd := &cobra.Command{
		Use:   "build [analysis-file]",
		Short: "Build a remediation plan from an error analysis",
		Long: `Build reads an error context and its analysis (YAML or JSON) and turns the
candidate actions into a remediation plan.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := planner.LoadAnalysisFile(args[0])
			if err != nil {
				return err
			}

			popts := planner.Options{
				PlanID:           planID,
				Name:             name,
				RequiresApproval: requireApproval,
			}
			if continueOnError {
				popts.FailFast = models.BoolPtr(false)
			}
			plan, err := planner.BuildPlan(input.Context, input.Analysis, popts)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if outputFile == "" {
				data, err := format.FormatData(plan, true)
				if err != nil {
					return err
				}
				fmt.Fprint(out, data)
				return nil
			}
			if err := planner.SavePlanFile(outputFile, plan); err != nil {
				return err
			}
			fmt.Fprintf(out, "Plan %s with %d actions written to %s\n", plan.ID, len(plan.Actions), outputFile)
			return nil
		},
	}

	buildCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Write the plan to this file instead of stdout")
	buildCmd.Flags().StringVar(&planID, "plan-id", "", "Plan id (generated when empty)")
	buildCmd.Flags().StringVar(&name, "name", "", "Plan name")
	buildCmd.Flags().BoolVar(&requireApproval, "require-approval", false, "Always require approval before execution")
	buildCmd.Flags().BoolVar(&continueOnError, "continue-on-error", false, "Keep running independent actions after a failure")
	return buildCmd
}
