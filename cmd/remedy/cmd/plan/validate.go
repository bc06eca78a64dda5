// SPDX-License-Identifier: Apache-2.0

package plan

import (
	"fmt"
	"strings"

	"github.com/kusari-oss/remedy/cmd/remedy/cmd/cli"
	"github.com/kusari-oss/remedy/internal/remedy/graph"
	"github.com/kusari-oss/remedy/internal/remedy/planner"
	"github.com/spf13/cobra"
)

func newValidateCmd(_ *cli.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [plan-file]",
		Short: "Check a plan's structure and dependency graph",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := planner.LoadPlanFile(args[0])
			if err != nil {
				return err
			}
			if err := plan.Validate(); err != nil {
				return fmt.Errorf("plan %s is invalid: %w", plan.ID, err)
			}
			g, err := graph.Build(plan.Actions)
			if err != nil {
				return fmt.Errorf("plan %s is invalid: %w", plan.ID, err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Plan %s is valid (%d actions)\n", plan.ID, g.Len())
			for i, wave := range g.Waves() {
				fmt.Fprintf(out, "  wave %d: %s\n", i+1, strings.Join(wave, ", "))
			}
			for _, edge := range g.Edges() {
				fmt.Fprintf(out, "  edge: %s -> %s (%s)\n", edge.From, edge.To, edge.Coupling)
			}
			return nil
		},
	}
}
