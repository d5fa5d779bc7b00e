package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/astrid/sdssfit/internal/logger"
	"github.com/astrid/sdssfit/internal/prep"
	"github.com/astrid/sdssfit/internal/recipe"
)

// NewPrepCommand creates the 'sdssfit prep' command
func NewPrepCommand() *cobra.Command {
	var (
		dryRun   bool
		only     string
		skipGrid bool
		revision string
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "prep <recipe>",
		Short: "Build a template library from a recipe",
		Long: `Build a template library by running the preparation tools over a
recipe file (.yaml or .md).

The recipe names a synthetic spectral grid, an output directory, and
the arm setups to build. Stages run sequentially: rvs_read_grid once,
then rvs_make_interpol, rvs_make_nd, and rvs_make_ccf per setup. The
first failing stage aborts the build with the tool's output.

Examples:
  # Build every setup in the recipe
  sdssfit prep sdss-dr18.yaml

  # Show the commands without running them
  sdssfit prep sdss-dr18.yaml --dry-run

  # Rebuild one setup, reusing the existing template database
  sdssfit prep sdss-dr18.yaml --only r --skip-grid`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPrep(cmd, args[0], dryRun, only, skipGrid, revision, timeout)
		},
		SilenceUsage: true,
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the commands without running them")
	cmd.Flags().StringVar(&only, "only", "", "Restrict the build to one named setup")
	cmd.Flags().BoolVar(&skipGrid, "skip-grid", false, "Assume the template database exists and skip rvs_read_grid")
	cmd.Flags().StringVar(&revision, "revision", "", "Override the recipe's revision stamp")
	cmd.Flags().DurationVar(&timeout, "timeout", prep.DefaultStageTimeout, "Per-stage timeout")

	return cmd
}

// runPrep executes the prep command
func runPrep(cmd *cobra.Command, recipePath string, dryRun bool, only string, skipGrid bool, revision string, timeout time.Duration) error {
	output := cmd.OutOrStdout()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	rec, err := recipe.ParseFile(recipePath)
	if err != nil {
		return err
	}
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("invalid recipe %s: %w", recipePath, err)
	}
	if only != "" && rec.FindSetup(only) == nil {
		return fmt.Errorf("recipe %s has no setup %q (setups: %v)", recipePath, only, setupNames(rec))
	}

	opts := prep.Options{
		Tools: prep.Tools{
			ReadGrid:     cfg.Prep.ReadGridTool,
			MakeInterpol: cfg.Prep.MakeInterpolTool,
			MakeND:       cfg.Prep.MakeNDTool,
			MakeCCF:      cfg.Prep.MakeCCFTool,
		},
		Only:         only,
		SkipGrid:     skipGrid,
		Revision:     revision,
		Every:        cfg.Prep.Every,
		Vsinis:       cfg.Prep.Vsinis,
		StageTimeout: timeout,
	}

	consoleLog := logger.NewConsoleLogger(os.Stdout, cfg.Log.Level)
	if noColor {
		consoleLog.DisableColor()
	}
	runner := prep.NewRunner(opts, consoleLog)

	if dryRun {
		stages, err := runner.Plan(rec)
		if err != nil {
			return err
		}
		fmt.Fprintf(output, "Would run %d stage(s) for recipe %s:\n", len(stages), recipeLabel(rec))
		for _, s := range stages {
			fmt.Fprintf(output, "  [%s] %s\n", s.Name, s.CommandLine())
		}
		return nil
	}

	if err := runner.Preflight(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return runner.Run(ctx, rec)
}

func recipeLabel(rec *recipe.Recipe) string {
	if rec.Name != "" {
		return rec.Name
	}
	return rec.FilePath
}

func setupNames(rec *recipe.Recipe) []string {
	names := make([]string, len(rec.Setups))
	for i, s := range rec.Setups {
		names[i] = s.Name
	}
	return names
}
