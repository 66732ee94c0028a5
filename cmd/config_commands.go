package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/mattsolo1/tuxplan/pkg/state"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// NewConfigCmd creates the `config` command.
func NewConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show the effective configuration",
		Long: `Show the configuration after merging the global config file,
the project tuxplan.yml and TUXSUITE_* environment variables.
The token is masked.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			data, err := yaml.Marshal(cfg.redacted())
			if err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}
			fmt.Fprint(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}

// NewCurrentCmd creates the top-level `current` command.
func NewCurrentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "current",
		Short: "Show the active plan",
		Long: `Show the uid of the last plan submitted from this repository.

If no plan is active, this command will indicate that.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := state.LoadState()
			if err != nil {
				return fmt.Errorf("get active plan: %w", err)
			}
			out := cmd.OutOrStdout()
			if st.ActivePlan == "" {
				fmt.Fprintln(out, "No active plan set")
				return nil
			}
			fmt.Fprintf(out, "Active plan: %s (%s/%s)\n", color.CyanString(st.ActivePlan), st.Group, st.Project)
			return nil
		},
	}
}

// NewUnsetCmd creates the top-level `unset` command.
func NewUnsetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unset",
		Short: "Clear the active plan",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := state.ClearActivePlan(); err != nil {
				return fmt.Errorf("clear active plan: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Cleared active plan")
			return nil
		},
	}
}
