// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"

	"github.com/kusari-oss/remedy/cmd/remedy/cmd/action"
	"github.com/kusari-oss/remedy/cmd/remedy/cmd/audit"
	"github.com/kusari-oss/remedy/cmd/remedy/cmd/cli"
	"github.com/kusari-oss/remedy/cmd/remedy/cmd/plan"
	"github.com/kusari-oss/remedy/internal/version"
	"github.com/spf13/cobra"
)

// NewRootCmd creates the remedy command tree
func NewRootCmd() *cobra.Command {
	opts := &cli.Options{}

	rootCmd := &cobra.Command{
		Use:   "remedy",
		Short: "Remediation orchestration engine",
		Long: `Remedy turns proposed corrective actions for a detected error into a
remediation plan, gates it on validation and risk, runs its actions in
dependency order and rolls completed work back when the plan fails.`,
		Version:       fmt.Sprintf("%s (commit: %s)", version.Version, version.Commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.ConfigFile, "config", "", "Path to the configuration file (default ~/.remedy/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(plan.NewPlanCmd(opts))
	rootCmd.AddCommand(audit.NewAuditCmd(opts))
	rootCmd.AddCommand(action.NewActionCmd(opts))
	return rootCmd
}

func Execute() error {
	return NewRootCmd().Execute()
}
