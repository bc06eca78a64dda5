// SPDX-License-Identifier: Apache-2.0

package plan

import (
	"github.com/kusari-oss/remedy/cmd/remedy/cmd/cli"
	"github.com/spf13/cobra"
)

// NewPlanCmd creates the plan command group
func NewPlanCmd(opts *cli.Options) *cobra.Command {
	planCmd := &cobra.Command{
		Use:   "plan",
		Short: "Manage remediation plans",
		Long:  `Commands for building, checking and executing remediation plans.`,
	}

	planCmd.AddCommand(newValidateCmd(opts))
	planCmd.AddCommand(newAssessCmd(opts))
	planCmd.AddCommand(newExecuteCmd(opts))
	planCmd.AddCommand(newBuildCmd(opts))
	return planCmd
}
