// SPDX-License-Identifier: Apache-2.0

package plan

import (
	"fmt"

	"github.com/kusari-oss/remedy/cmd/remedy/cmd/cli"
	"github.com/kusari-oss/remedy/internal/core/format"
	"github.com/kusari-oss/remedy/internal/remedy/planner"
	"github.com/spf13/cobra"
)

func newAssessCmd(opts *cli.Options) *cobra.Command {
	var asJSON bool

	assessCmd := &cobra.Command{
		Use:   "assess [plan-file]",
		Short: "Show the risk assessment of a plan without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := planner.LoadPlanFile(args[0])
			if err != nil {
				return err
			}
			engine, _, err := opts.Engine(cli.EngineOptions{DryRun: true})
			if err != nil {
				return err
			}
			status, err := engine.SubmitPlan(cmd.Context(), plan)
			if err != nil {
				return err
			}

			out, err := format.FormatData(status.Risk, !asJSON)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		},
	}

	assessCmd.Flags().BoolVar(&asJSON, "json", false, "Print the assessment as JSON instead of YAML")
	return assessCmd
}
