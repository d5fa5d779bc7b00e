package cmd

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/astrid/sdssfit/internal/config"
	"github.com/astrid/sdssfit/internal/prep"
	"github.com/astrid/sdssfit/internal/recipe"
)

// NewValidateCommand creates the 'sdssfit validate' command
func NewValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <recipe>",
		Short: "Check a template-library recipe without running it",
		Long: `Parse a recipe file and check everything a build would need:
  - Recipe syntax (.yaml or .md)
  - Grid directory exists
  - Setup wavelength ranges, steps, and resolutions
  - Unique setup names
  - Preparation tool binaries on PATH

Exit code: 0 if valid, 1 if any check fails`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateRecipe(cmd, args[0])
		},
		SilenceUsage: true,
	}

	return cmd
}

// checkResult is one line of validate output.
type checkResult struct {
	name string
	err  error
}

// validateRecipe runs the check list and prints one line per check.
func validateRecipe(cmd *cobra.Command, recipePath string) error {
	output := cmd.OutOrStdout()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	fmt.Fprintf(output, "Validating %s\n\n", recipePath)

	rec, parseErr := recipe.ParseFile(recipePath)
	printCheck(output, checkResult{name: "recipe parses", err: parseErr})
	if parseErr != nil {
		// Nothing else is checkable without a parsed recipe.
		fmt.Fprintln(output)
		return fmt.Errorf("recipe %s is invalid", recipePath)
	}

	checks := recipeChecks(rec)
	checks = append(checks, toolChecks(cfg.Prep)...)

	failed := 0
	for _, c := range checks {
		printCheck(output, c)
		if c.err != nil {
			failed++
		}
	}

	fmt.Fprintln(output)
	if failed > 0 {
		return fmt.Errorf("recipe %s is invalid: %d check(s) failed", recipePath, failed)
	}

	label := rec.Name
	if label == "" {
		label = filepath.Base(recipePath)
	}
	color.New(color.FgGreen).Fprintf(output, "Recipe %s is valid: %d setup(s) ready to build.\n", label, len(rec.Setups))
	return nil
}

// recipeChecks breaks Recipe.Validate's rules into per-line checks so a
// broken recipe reports every problem at once.
func recipeChecks(rec *recipe.Recipe) []checkResult {
	var checks []checkResult

	gridErr := func() error {
		if rec.GridDir == "" {
			return fmt.Errorf("grid_dir is empty")
		}
		info, err := os.Stat(rec.GridDir)
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return fmt.Errorf("%s is not a directory", rec.GridDir)
		}
		return nil
	}()
	checks = append(checks, checkResult{name: fmt.Sprintf("grid directory %s", orEmpty(rec.GridDir)), err: gridErr})

	outErr := func() error {
		if rec.OutputDir == "" {
			return fmt.Errorf("output_dir is empty")
		}
		return nil
	}()
	checks = append(checks, checkResult{name: fmt.Sprintf("output directory %s", orEmpty(rec.OutputDir)), err: outErr})

	setupsErr := func() error {
		if len(rec.Setups) == 0 {
			return fmt.Errorf("recipe has no setups")
		}
		return nil
	}()
	checks = append(checks, checkResult{name: "at least one setup", err: setupsErr})

	seen := make(map[string]bool)
	for i, s := range rec.Setups {
		name := s.Name
		if name == "" {
			name = fmt.Sprintf("#%d", i+1)
		}

		err := func() error {
			if s.Name == "" {
				return fmt.Errorf("setup has no name")
			}
			if seen[s.Name] {
				return fmt.Errorf("duplicate setup name %q", s.Name)
			}
			if s.Lambda0 >= s.Lambda1 {
				return fmt.Errorf("lambda0 (%g) must be < lambda1 (%g)", s.Lambda0, s.Lambda1)
			}
			if s.Step <= 0 {
				return fmt.Errorf("step must be > 0, got %g", s.Step)
			}
			if s.Resol <= 0 {
				return fmt.Errorf("resolution must be > 0, got %g", s.Resol)
			}
			return nil
		}()
		seen[s.Name] = true

		checks = append(checks, checkResult{name: fmt.Sprintf("setup %s", name), err: err})
	}

	return checks
}

// toolChecks verifies the preparation tool binaries resolve on PATH.
func toolChecks(pc config.PrepConfig) []checkResult {
	tools := prep.Tools{
		ReadGrid:     pc.ReadGridTool,
		MakeInterpol: pc.MakeInterpolTool,
		MakeND:       pc.MakeNDTool,
		MakeCCF:      pc.MakeCCFTool,
	}

	var checks []checkResult
	for _, tool := range tools.List() {
		_, err := exec.LookPath(tool)
		checks = append(checks, checkResult{name: fmt.Sprintf("tool %s on PATH", tool), err: err})
	}
	return checks
}

func printCheck(w io.Writer, c checkResult) {
	if c.err != nil {
		color.New(color.FgRed).Fprintf(w, "  ✗ %s", c.name)
		fmt.Fprintf(w, ": %v\n", c.err)
		return
	}
	color.New(color.FgGreen).Fprintf(w, "  ✓ %s", c.name)
	fmt.Fprintln(w)
}

func orEmpty(s string) string {
	if s == "" {
		return "(unset)"
	}
	return s
}
