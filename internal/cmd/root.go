// Package cmd wires the sdssfit command tree: fit, prep, validate,
// results, queue, and version, plus the global flags shared by all of
// them.
package cmd

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/astrid/sdssfit/internal/config"
	"github.com/astrid/sdssfit/internal/version"
)

// Global persistent flags, bound in NewRootCommand.
var (
	cfgFile  string
	logFile  string
	logLevel string
	noColor  bool
)

// NewRootCommand creates and returns the root cobra command for sdssfit
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sdssfit",
		Short: "Fit SDSS stellar spectra against synthetic template libraries",
		Long: `sdssfit drives the rvsfit engine over batches of SDSS spectra.

It resolves input spectra (explicit files, list files, target IDs, or
directory scans), runs the engine across a worker pool with per-star
priors, writes one output table per spectrum, and records every run in
a local results database. The prep and validate commands build and
check the template libraries the engine fits against.

Configuration is loaded from <home>/config.yaml, where the home
directory is $SDSSFIT_HOME, a .sdssfit directory found above the
working directory, or ~/.sdssfit. CLI flags override config values.`,
		Version: version.Version,
		// Silence usage on errors to avoid duplicate help text
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				color.NoColor = true
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to config file (default: <home>/config.yaml)")
	cmd.PersistentFlags().StringVar(&logFile, "log", "", "Append a copy of the log to this file")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log verbosity: trace, debug, info, warn, error")
	cmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	cmd.AddCommand(NewInitCommand())
	cmd.AddCommand(NewFitCommand())
	cmd.AddCommand(NewPrepCommand())
	cmd.AddCommand(NewValidateCommand())
	cmd.AddCommand(NewResultsCommand())
	cmd.AddCommand(NewQueueCommand())
	cmd.AddCommand(NewVersionCommand())

	return cmd
}

// loadConfig loads the configuration honoring --config and overlays the
// global flags. Per-command flag merging happens in each RunE.
func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error

	if cfgFile != "" {
		// An explicit config path must exist; only the default location
		// may be silently absent.
		if _, statErr := os.Stat(cfgFile); statErr != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", cfgFile, statErr)
		}
		cfg, err = config.Load(cfgFile)
	} else {
		cfg, err = config.LoadFromHome()
	}
	if err != nil {
		return nil, err
	}

	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, nil
}
