// SPDX-License-Identifier: Apache-2.0

package action

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kusari-oss/remedy/cmd/remedy/cmd/cli"
	"github.com/kusari-oss/remedy/internal/core/config"
	"github.com/kusari-oss/remedy/internal/core/resolver"
	"github.com/kusari-oss/remedy/internal/defaults"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

// NewActionCmd creates the action command group
func NewActionCmd(opts *cli.Options) *cobra.Command {
	actionCmd := &cobra.Command{
		Use:   "action",
		Short: "Inspect and install action definitions",
	}

	actionCmd.AddCommand(newListCmd(opts))
	actionCmd.AddCommand(newInitCmd())
	return actionCmd
}

func newListCmd(opts *cli.Options) *cobra.Command {
	var labels string

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List the action definitions plans can use",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, _, err := opts.Engine(cli.EngineOptions{DryRun: true})
			if err != nil {
				return err
			}

			actions, err := engine.Resolver().ListAvailableActions()
			if err != nil {
				return fmt.Errorf("error listing actions: %w", err)
			}
			if labels != "" {
				selectors, err := resolver.ParseLabelSelector(labels)
				if err != nil {
					return err
				}
				actions = resolver.FilterActionsByLabels(actions, selectors)
			}

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetHeader([]string{"Name", "Type", "Description", "Labels"})
			table.SetBorder(false)
			table.SetAutoWrapText(false)
			for _, name := range resolver.Names(actions) {
				def := actions[name]
				table.Append([]string{name, def.Type, def.Description, formatLabels(def.Labels)})
			}
			table.Render()
			return nil
		},
	}

	listCmd.Flags().StringVarP(&labels, "labels", "l", "", "Filter by labels (key=value,key=other)")
	return listCmd
}

func newInitCmd() *cobra.Command {
	var (
		actionsDir string
		force      bool
	)

	initCmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "Write a config file and the built-in actions into a directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectDir := "."
			if len(args) > 0 {
				projectDir = args[0]
			}
			projectDir, err := filepath.Abs(projectDir)
			if err != nil {
				return err
			}

			cfg := config.NewDefaultConfig()
			cfg.ActionsDir = filepath.Join(projectDir, actionsDir)
			cfg.TemplatesDir = filepath.Join(projectDir, "templates")
			cfg.WorkingDir = projectDir
			configPath, err := config.SaveConfig(cfg, projectDir)
			if err != nil {
				return err
			}

			written, err := defaults.CopyActions(cfg.ActionsDir, force)
			if err != nil {
				return fmt.Errorf("error copying built-in actions: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Configuration written to %s\n", configPath)
			fmt.Fprintf(out, "Wrote %d action definitions to %s\n", len(written), cfg.ActionsDir)
			return nil
		},
	}

	initCmd.Flags().StringVarP(&actionsDir, "actions-dir", "a", "actions", "Actions directory, relative to the target directory")
	initCmd.Flags().BoolVar(&force, "force", false, "Overwrite existing action files")
	return initCmd
}

func formatLabels(labels map[string][]string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+strings.Join(labels[k], "|"))
	}
	return strings.Join(parts, ",")
}
