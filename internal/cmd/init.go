package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/astrid/sdssfit/internal/config"
)

// NewInitCommand creates the 'sdssfit init' command
func NewInitCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the sdssfit home directory and a default config",
		Long: `Create the sdssfit home directory skeleton: the directory itself, the
logs subdirectory, and a commented config.yaml when none exists.

The home directory is $SDSSFIT_HOME, an existing .sdssfit directory
found above the working directory, or ~/.sdssfit. An existing config
is left untouched.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			home, err := config.InitHome()
			if err != nil {
				return fmt.Errorf("initialize sdssfit home: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Initialized sdssfit home at %s\n", home)
			fmt.Fprintf(cmd.OutOrStdout(), "Edit %s to configure the engine and template library.\n",
				filepath.Join(home, "config.yaml"))
			return nil
		},
		SilenceUsage: true,
	}
}
