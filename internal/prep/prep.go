// Package prep builds template libraries by running the external
// preparation tools in sequence: rvs_read_grid once per recipe, then
// rvs_make_interpol, rvs_make_nd, and rvs_make_ccf per setup. The first
// stage failure aborts the build.
package prep

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/astrid/sdssfit/internal/recipe"
)

// DefaultStageTimeout bounds a single tool invocation. Grid reads and CCF
// builds run for hours on full grids.
const DefaultStageTimeout = 12 * time.Hour

// TemplateDBName is the template database file rvs_read_grid writes into
// the output directory and the later stages read.
const TemplateDBName = "files.db"

// Logger receives stage progress messages.
type Logger interface {
	LogInfo(message string)
	LogDebug(message string)
}

type noopLogger struct{}

func (noopLogger) LogInfo(message string)  {}
func (noopLogger) LogDebug(message string) {}

// Tools names the preparation tool binaries.
type Tools struct {
	ReadGrid     string
	MakeInterpol string
	MakeND       string
	MakeCCF      string
}

// DefaultTools returns the standard tool names, resolved via PATH.
func DefaultTools() Tools {
	return Tools{
		ReadGrid:     "rvs_read_grid",
		MakeInterpol: "rvs_make_interpol",
		MakeND:       "rvs_make_nd",
		MakeCCF:      "rvs_make_ccf",
	}
}

// List returns the tool binaries in stage order.
func (t Tools) List() []string {
	return []string{t.ReadGrid, t.MakeInterpol, t.MakeND, t.MakeCCF}
}

// Options configures a library build.
type Options struct {
	Tools Tools

	// Only restricts the build to one named setup
	Only string

	// SkipGrid assumes files.db already exists and skips rvs_read_grid
	SkipGrid bool

	// Revision overrides the recipe's revision stamp
	Revision string

	// Every is the fallback CCF decimation when the recipe doesn't set one
	Every int

	// Vsinis is the fallback rotation-velocity list
	Vsinis []float64

	// StageTimeout bounds each tool invocation (0 = DefaultStageTimeout)
	StageTimeout time.Duration
}

// Stage is one resolved tool invocation.
type Stage struct {
	// Name identifies the stage in logs and errors, e.g. "make_ccf(sdss1)"
	Name string

	// Setup is the setup the stage belongs to; empty for read_grid
	Setup string

	Tool string
	Args []string
}

// CommandLine renders the invocation for logs and dry runs.
func (s Stage) CommandLine() string {
	return s.Tool + " " + strings.Join(s.Args, " ")
}

// StageError reports a preparation tool that exited nonzero.
type StageError struct {
	Stage    string
	Tool     string
	ExitCode int
	Output   string
}

func (e *StageError) Error() string {
	msg := fmt.Sprintf("stage %s: %s exited with code %d", e.Stage, filepath.Base(e.Tool), e.ExitCode)
	if trimmed := strings.TrimSpace(e.Output); trimmed != "" {
		msg += "\ntool output:\n" + trimmed
	}
	return msg
}

// Runner executes the stage sequence for a recipe.
type Runner struct {
	opts Options
	log  Logger
}

// NewRunner creates a Runner. Zero-valued tool names fall back to the
// defaults; a nil logger discards progress messages.
func NewRunner(opts Options, log Logger) *Runner {
	defaults := DefaultTools()
	if opts.Tools.ReadGrid == "" {
		opts.Tools.ReadGrid = defaults.ReadGrid
	}
	if opts.Tools.MakeInterpol == "" {
		opts.Tools.MakeInterpol = defaults.MakeInterpol
	}
	if opts.Tools.MakeND == "" {
		opts.Tools.MakeND = defaults.MakeND
	}
	if opts.Tools.MakeCCF == "" {
		opts.Tools.MakeCCF = defaults.MakeCCF
	}
	if opts.StageTimeout <= 0 {
		opts.StageTimeout = DefaultStageTimeout
	}
	if log == nil {
		log = noopLogger{}
	}
	return &Runner{opts: opts, log: log}
}

// Plan resolves a recipe into the ordered stage list without running
// anything.
func (r *Runner) Plan(rec *recipe.Recipe) ([]Stage, error) {
	setups := rec.Setups
	if r.opts.Only != "" {
		s := rec.FindSetup(r.opts.Only)
		if s == nil {
			return nil, fmt.Errorf("setup %q not found in recipe", r.opts.Only)
		}
		setups = []recipe.Setup{*s}
	}

	every := rec.Every
	if every <= 0 {
		every = r.opts.Every
	}
	if every <= 0 {
		every = 30
	}

	vsinis := rec.Vsinis
	if len(vsinis) == 0 {
		vsinis = r.opts.Vsinis
	}

	revision := r.opts.Revision
	if revision == "" {
		revision = rec.Revision
	}

	templdb := filepath.Join(rec.OutputDir, TemplateDBName)

	var stages []Stage
	if !r.opts.SkipGrid {
		stages = append(stages, Stage{
			Name: "read_grid",
			Tool: r.opts.Tools.ReadGrid,
			Args: []string{"--prefix", rec.GridDir, "--templdb", templdb},
		})
	}

	for _, s := range setups {
		stages = append(stages, Stage{
			Name:  fmt.Sprintf("make_interpol(%s)", s.Name),
			Setup: s.Name,
			Tool:  r.opts.Tools.MakeInterpol,
			Args: []string{
				"--setup", s.Name,
				"--lambda0", formatFloat(s.Lambda0),
				"--lambda1", formatFloat(s.Lambda1),
				"--resol", formatFloat(s.Resol),
				"--step", formatFloat(s.Step),
				"--templdb", templdb,
				"--oprefix", rec.OutputDir,
			},
		})

		stages = append(stages, Stage{
			Name:  fmt.Sprintf("make_nd(%s)", s.Name),
			Setup: s.Name,
			Tool:  r.opts.Tools.MakeND,
			Args:  []string{"--prefix", rec.OutputDir, "--setup", s.Name},
		})

		ccfArgs := []string{
			"--setup", s.Name,
			"--lambda0", formatFloat(s.Lambda0),
			"--lambda1", formatFloat(s.Lambda1),
			"--step", formatFloat(s.Step),
			"--every", strconv.Itoa(every),
		}
		if len(vsinis) > 0 {
			ccfArgs = append(ccfArgs, "--vsinis", joinFloats(vsinis))
		}
		ccfArgs = append(ccfArgs, "--prefix", rec.OutputDir, "--oprefix", rec.OutputDir)
		if revision != "" {
			ccfArgs = append(ccfArgs, "--revision", revision)
		}
		stages = append(stages, Stage{
			Name:  fmt.Sprintf("make_ccf(%s)", s.Name),
			Setup: s.Name,
			Tool:  r.opts.Tools.MakeCCF,
			Args:  ccfArgs,
		})
	}

	return stages, nil
}

// Run validates nothing itself; callers validate the recipe first. It
// creates the output directory and executes the stage sequence, stopping
// at the first failure.
func (r *Runner) Run(ctx context.Context, rec *recipe.Recipe) error {
	stages, err := r.Plan(rec)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(rec.OutputDir, 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	start := time.Now()
	for i, stage := range stages {
		r.log.LogInfo(fmt.Sprintf("stage %d/%d %s: %s", i+1, len(stages), stage.Name, stage.CommandLine()))
		if err := r.runStage(ctx, stage); err != nil {
			return err
		}
	}
	r.log.LogInfo(fmt.Sprintf("template library ready in %s (%d stages, %v)",
		rec.OutputDir, len(stages), time.Since(start).Round(time.Second)))
	return nil
}

func (r *Runner) runStage(ctx context.Context, stage Stage) error {
	stageCtx, cancel := context.WithTimeout(ctx, r.opts.StageTimeout)
	defer cancel()

	start := time.Now()
	cmd := exec.CommandContext(stageCtx, stage.Tool, stage.Args...)
	output, err := cmd.CombinedOutput()
	duration := time.Since(start)

	if err != nil {
		// Distinguish our deadline from the tool's own failure: a killed
		// process also reports a generic exit error.
		switch {
		case errors.Is(stageCtx.Err(), context.DeadlineExceeded):
			return fmt.Errorf("stage %s: timeout after %v: %w", stage.Name, r.opts.StageTimeout, context.DeadlineExceeded)
		case stageCtx.Err() != nil:
			return stageCtx.Err()
		}

		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &StageError{
				Stage:    stage.Name,
				Tool:     stage.Tool,
				ExitCode: exitErr.ExitCode(),
				Output:   string(output),
			}
		}
		return fmt.Errorf("stage %s: run %s: %w", stage.Name, stage.Tool, err)
	}

	r.log.LogDebug(fmt.Sprintf("stage %s finished in %v", stage.Name, duration.Round(time.Millisecond)))
	return nil
}

// Preflight checks every preparation tool resolves to a binary before any
// stage runs.
func (r *Runner) Preflight() error {
	for _, tool := range r.opts.Tools.List() {
		if _, err := exec.LookPath(tool); err != nil {
			return fmt.Errorf("preparation tool %q not found: %w", tool, err)
		}
	}
	return nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func joinFloats(fs []float64) string {
	parts := make([]string, len(fs))
	for i, f := range fs {
		parts[i] = formatFloat(f)
	}
	return strings.Join(parts, ",")
}
