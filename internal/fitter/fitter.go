// Package fitter drives the spectral fitting engine: it builds the engine
// argument vector for one spectrum, runs the binary, and decodes the JSON
// document the engine prints on stdout.
package fitter

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/astrid/sdssfit/internal/models"
	"github.com/astrid/sdssfit/internal/priors"
)

// DefaultEngine is the fitting engine binary resolved on PATH when the
// config names no other.
const DefaultEngine = "rvsfit"

// Options are the per-run engine settings, shared by every spectrum.
type Options struct {
	TemplateLib           string        // template library directory, required
	NPoly                 int           // continuum polynomial order
	Arms                  []string      // arm setups to fit, e.g. b,r
	MinSN                 float64       // skip objects below this S/N; 0 lets the engine decide
	ObjTypes              []string      // object types to fit; empty fits all
	CCFContinuumNormalize bool          // continuum-normalize during cross-correlation
	DoPlot                bool          // ask the engine for diagnostic figures
	Timeout               time.Duration // per-spectrum wall-clock budget; 0 means none
}

// Request is one engine invocation: the spectrum file, its per-star
// priors, and the paths the engine writes models and figures to.
type Request struct {
	Input   string     // spectrum file path
	Priors  priors.Set // per-star priors, possibly empty
	ModPath string     // best-fit model output path
	FigPath string     // figure output path, used when DoPlot is set
}

// Result captures the outcome of one engine invocation.
type Result struct {
	Output   *models.FitOutput // decoded document, nil on failure
	Raw      string            // combined stdout+stderr as emitted
	ExitCode int               // engine exit code
	Duration time.Duration     // wall-clock time of the invocation
}

// Fitter manages execution of the fitting engine binary.
type Fitter struct {
	EnginePath string
	Options    Options
}

// New creates a Fitter for the given engine binary. An empty path falls
// back to DefaultEngine.
func New(enginePath string, opts Options) *Fitter {
	if enginePath == "" {
		enginePath = DefaultEngine
	}
	return &Fitter{
		EnginePath: enginePath,
		Options:    opts,
	}
}

// BuildArgs constructs the engine argument vector for one request.
// Instrument options come first, then per-star priors in parameter order,
// then output paths, so vectors are stable for logging and tests.
func (f *Fitter) BuildArgs(req Request) []string {
	opts := f.Options

	args := []string{req.Input}
	args = append(args, "--templ-lib", opts.TemplateLib)
	args = append(args, "--npoly", strconv.Itoa(opts.NPoly))
	if len(opts.Arms) > 0 {
		args = append(args, "--arms", strings.Join(opts.Arms, ","))
	}
	if opts.MinSN > 0 {
		args = append(args, "--min-sn", fmt.Sprintf("%g", opts.MinSN))
	}
	if len(opts.ObjTypes) > 0 {
		args = append(args, "--objtypes", strings.Join(opts.ObjTypes, ","))
	}
	if !opts.CCFContinuumNormalize {
		args = append(args, "--no-ccf-continuum-normalize")
	}

	for _, param := range priors.Params {
		g := req.Priors.Get(param)
		if g == nil {
			continue
		}
		args = append(args, fmt.Sprintf("--%s-prior", param),
			fmt.Sprintf("%g,%g", g.Mean, g.Std))
	}

	if req.ModPath != "" {
		args = append(args, "--output-mod", req.ModPath)
	}
	if opts.DoPlot && req.FigPath != "" {
		args = append(args, "--doplot", "--output-fig", req.FigPath)
	}

	return args
}

// Fit runs the engine on one spectrum and decodes its output document.
// Timeouts and nonzero exits come back as *TimeoutError and *EngineError
// so callers can classify failures. The Result is returned on every path
// so callers keep the raw output and the duration.
func (f *Fitter) Fit(ctx context.Context, req Request) (*Result, error) {
	if f.Options.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Options.Timeout)
		defer cancel()
	}

	args := f.BuildArgs(req)
	cmd := exec.CommandContext(ctx, f.EnginePath, args...)

	startTime := time.Now()
	output, err := cmd.CombinedOutput()

	result := &Result{
		Raw:      string(output),
		Duration: time.Since(startTime),
	}

	if err != nil {
		// A killed engine reports a generic exit error; attribute it to
		// the context when that is what stopped it.
		switch ctx.Err() {
		case context.DeadlineExceeded:
			return result, NewTimeoutError(req.Input, f.Options.Timeout)
		case context.Canceled:
			return result, ctx.Err()
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
			return result, NewEngineError(f.EnginePath, req.Input, exitErr.ExitCode(), result.Raw)
		}
		return result, fmt.Errorf("run %s: %w", f.EnginePath, err)
	}

	out, err := ParseOutput(result.Raw)
	if err != nil {
		return result, &ParseError{Input: req.Input, Output: result.Raw, Err: err}
	}

	result.Output = out
	return result, nil
}

// Preflight verifies the engine binary resolves on PATH and answers
// --version, so a bad install fails the run once instead of once per
// spectrum. Returns the first line of the version output for run records.
func (f *Fitter) Preflight(ctx context.Context) (string, error) {
	path, err := exec.LookPath(f.EnginePath)
	if err != nil {
		return "", fmt.Errorf("fitting engine %q not found: %w", f.EnginePath, err)
	}

	cmd := exec.CommandContext(ctx, path, "--version")
	output, err := cmd.CombinedOutput()
	if err != nil {
		msg := fmt.Sprintf("fitting engine %s does not answer --version: %v", path, err)
		if out := strings.TrimSpace(string(output)); out != "" {
			msg += fmt.Sprintf("\nOutput:\n%s", out)
		}
		return "", fmt.Errorf("%s", msg)
	}

	version := strings.TrimSpace(string(output))
	if i := strings.IndexByte(version, '\n'); i >= 0 {
		version = strings.TrimSpace(version[:i])
	}
	return version, nil
}

// ParseOutput decodes the engine's JSON document from its combined output.
// Engines log warnings before the document, so decoding starts at the last
// line that opens a JSON object.
func ParseOutput(output string) (*models.FitOutput, error) {
	start := lastDocumentStart(output)
	if start < 0 {
		return nil, fmt.Errorf("no JSON document in engine output")
	}

	var out models.FitOutput
	if err := json.Unmarshal([]byte(output[start:]), &out); err != nil {
		return nil, fmt.Errorf("decode engine output: %w", err)
	}
	return &out, nil
}

// lastDocumentStart returns the offset of the last '{' at the start of a
// line, or -1 when there is none. Pretty-printers indent nested objects,
// so a column-zero brace marks the document root.
func lastDocumentStart(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] != '{' {
			continue
		}
		if i == 0 || s[i-1] == '\n' {
			return i
		}
	}
	return -1
}
