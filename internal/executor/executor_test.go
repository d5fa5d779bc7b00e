package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astrid/sdssfit/internal/fitter"
	"github.com/astrid/sdssfit/internal/ledger"
	"github.com/astrid/sdssfit/internal/logger"
	"github.com/astrid/sdssfit/internal/queue"
	"github.com/astrid/sdssfit/internal/results"
	"github.com/astrid/sdssfit/internal/tables"
)

const engineDoc = `{
  "file": "spec.fits",
  "rows": [
    {"targetid": "4592320451", "arms": "b,r", "vrad": -42.137, "vrad_err": 0.513,
     "teff": 5777, "logg": 4.44, "feh": -0.02, "alpha": 0.05, "vsini": 2.1,
     "chisq": 1.03, "sn": 31.5, "success": true}
  ]
}`

// writeScript creates a stub engine in dir and returns its path.
func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

// okEngine answers every input with one successful row and records each
// invocation in ran.txt next to the script.
func okEngine(t *testing.T, dir string) string {
	t.Helper()
	body := `echo "$1" >> "$(dirname "$0")/ran.txt"
cat <<'EOF'
` + engineDoc + `
EOF`
	return writeScript(t, dir, "rvsfit", body)
}

// pickyEngine fails inputs whose name contains "bad" and fits the rest.
func pickyEngine(t *testing.T, dir string) string {
	t.Helper()
	body := `echo "$1" >> "$(dirname "$0")/ran.txt"
case "$1" in
  *bad*) echo "no continuum solution" >&2; exit 2 ;;
esac
cat <<'EOF'
` + engineDoc + `
EOF`
	return writeScript(t, dir, "rvsfit", body)
}

func ranInputs(t *testing.T, engineDir string) []string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(engineDir, "ran.txt"))
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

// makeInputs creates n spectrum files named spec-<i>.fits (or with the
// given names) and returns their paths.
func makeInputs(t *testing.T, dir string, names ...string) []string {
	t.Helper()
	paths := make([]string, len(names))
	for i, name := range names {
		paths[i] = filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(paths[i], []byte("FITS"), 0644))
	}
	return paths
}

func newTestExecutor(t *testing.T, engine string, outDir string, opts Options) *Executor {
	t.Helper()
	f := fitter.New(engine, fitter.Options{TemplateLib: "/templ", NPoly: 10})
	layout := tables.Layout{OutputDir: outDir, TabPrefix: "outtab_", ModPrefix: "mod_", FigPrefix: "fig_"}
	return New(f, layout, opts, nil)
}

func TestRunFitsAll(t *testing.T) {
	dir := t.TempDir()
	engine := okEngine(t, dir)
	inputs := makeInputs(t, dir, "spec-1.fits", "spec-2.fits", "spec-3.fits")
	outDir := filepath.Join(dir, "out")

	exec := newTestExecutor(t, engine, outDir, Options{NThreads: 2, ConfigSnapshot: "nthreads: 2\n", EngineVersion: "rvsfit 1.4.2"})

	led := ledger.New(filepath.Join(dir, "status.tsv"))
	exec.SetLedger(led)

	store, err := results.Open(filepath.Join(dir, "results.db"))
	require.NoError(t, err)
	defer store.Close()
	exec.SetStore(store)

	summary, err := exec.Run(context.Background(), NewSliceSource(inputs, nil), nil)
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 3, summary.Fitted)
	assert.Zero(t, summary.Skipped)
	assert.Zero(t, summary.Failed)
	assert.NotEmpty(t, summary.RunID)
	assert.Greater(t, summary.Duration.Nanoseconds(), int64(0))

	assert.Len(t, ranInputs(t, dir), 3)

	layout := tables.Layout{OutputDir: outDir, TabPrefix: "outtab_", ModPrefix: "mod_", FigPrefix: "fig_"}
	for _, input := range inputs {
		assert.True(t, tables.Exists(layout.TablePath(input)), "table for %s", input)
	}

	statuses, err := led.Statuses()
	require.NoError(t, err)
	for _, input := range inputs {
		assert.Equal(t, ledger.StatusOK, statuses[input])
	}

	ctx := context.Background()
	run, err := store.FindRun(ctx, summary.RunID)
	require.NoError(t, err)
	require.NotNil(t, run.FinishedAt)
	assert.Equal(t, 3, run.Total)
	assert.Equal(t, 3, run.Fitted)
	assert.Equal(t, "rvsfit 1.4.2", run.EngineVersion)
	assert.Equal(t, "nthreads: 2\n", run.ConfigSnapshot)

	rows, err := store.RunResults(ctx, summary.RunID)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	for _, row := range rows {
		assert.True(t, row.Success)
		assert.Equal(t, "4592320451", row.TargetID)
		assert.Equal(t, -42.137, row.Vrad)
	}
}

// gaugedEngine measures overlap: each invocation drops a token file, sleeps
// long enough for peers to pile up, then records how many tokens it can see
// before answering. Tokens only exist while an engine runs, so every
// recorded count is a lower bound on concurrent invocations and can never
// exceed the true peak.
func gaugedEngine(t *testing.T, dir string) string {
	t.Helper()
	body := `d="$(dirname "$0")"
mkdir -p "$d/inflight"
: > "$d/inflight/$$"
sleep 0.3
ls "$d/inflight" | wc -l >> "$d/peaks.txt"
rm -f "$d/inflight/$$"
cat <<'EOF'
` + engineDoc + `
EOF`
	return writeScript(t, dir, "rvsfit", body)
}

func TestRunBoundedConcurrency(t *testing.T) {
	dir := t.TempDir()
	engine := gaugedEngine(t, dir)

	names := make([]string, 8)
	for i := range names {
		names[i] = fmt.Sprintf("spec-%d.fits", i)
	}
	inputs := makeInputs(t, dir, names...)

	exec := newTestExecutor(t, engine, filepath.Join(dir, "out"), Options{NThreads: 2})

	summary, err := exec.Run(context.Background(), NewSliceSource(inputs, nil), nil)
	require.NoError(t, err)
	assert.Equal(t, 8, summary.Fitted)

	data, err := os.ReadFile(filepath.Join(dir, "peaks.txt"))
	require.NoError(t, err)
	counts := strings.Fields(string(data))
	require.Len(t, counts, 8)

	peak := 0
	for _, c := range counts {
		n, err := strconv.Atoi(c)
		require.NoError(t, err)
		if n > peak {
			peak = n
		}
	}
	assert.LessOrEqual(t, peak, 2, "more engines in flight than workers")
	assert.GreaterOrEqual(t, peak, 2, "workers never overlapped")
}

func TestRunSkipsProcessed(t *testing.T) {
	dir := t.TempDir()
	engine := okEngine(t, dir)
	inputs := makeInputs(t, dir, "spec-1.fits", "spec-2.fits")

	led := ledger.New(filepath.Join(dir, "status.tsv"))
	require.NoError(t, led.MarkOK(inputs[0]))

	exec := newTestExecutor(t, engine, filepath.Join(dir, "out"), Options{})
	exec.SetLedger(led)

	summary, err := exec.Run(context.Background(), NewSliceSource(inputs, nil), nil)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, summary.Fitted)
	assert.Equal(t, 1, summary.Skipped)

	ran := ranInputs(t, dir)
	require.Len(t, ran, 1, "processed input should not reach the engine")
	assert.Equal(t, inputs[1], ran[0])
}

func TestRunSkipExistingOutput(t *testing.T) {
	dir := t.TempDir()
	engine := okEngine(t, dir)
	inputs := makeInputs(t, dir, "spec-1.fits")
	outDir := filepath.Join(dir, "out")

	layout := tables.Layout{OutputDir: outDir, TabPrefix: "outtab_", ModPrefix: "mod_", FigPrefix: "fig_"}
	require.NoError(t, os.MkdirAll(outDir, 0755))
	require.NoError(t, os.WriteFile(layout.TablePath(inputs[0]), []byte("old"), 0644))

	t.Run("with skip-existing", func(t *testing.T) {
		exec := newTestExecutor(t, engine, outDir, Options{SkipExisting: true})
		summary, err := exec.Run(context.Background(), NewSliceSource(inputs, nil), nil)
		require.NoError(t, err)

		assert.Equal(t, 1, summary.Skipped)
		assert.Empty(t, ranInputs(t, dir))
	})

	t.Run("without skip-existing", func(t *testing.T) {
		exec := newTestExecutor(t, engine, outDir, Options{})
		summary, err := exec.Run(context.Background(), NewSliceSource(inputs, nil), nil)
		require.NoError(t, err)

		assert.Equal(t, 1, summary.Failed)
		require.Len(t, summary.FailedInputs, 1)
		assert.True(t, errors.Is(summary.FailedInputs[0].Err, tables.ErrOutputExists))
	})
}

func TestRunOverwrite(t *testing.T) {
	dir := t.TempDir()
	engine := okEngine(t, dir)
	inputs := makeInputs(t, dir, "spec-1.fits")
	outDir := filepath.Join(dir, "out")

	led := ledger.New(filepath.Join(dir, "status.tsv"))
	require.NoError(t, led.MarkOK(inputs[0]))

	layout := tables.Layout{OutputDir: outDir, TabPrefix: "outtab_", ModPrefix: "mod_", FigPrefix: "fig_"}
	require.NoError(t, os.MkdirAll(outDir, 0755))
	require.NoError(t, os.WriteFile(layout.TablePath(inputs[0]), []byte("old"), 0644))

	exec := newTestExecutor(t, engine, outDir, Options{Overwrite: true})
	exec.SetLedger(led)

	summary, err := exec.Run(context.Background(), NewSliceSource(inputs, nil), nil)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Fitted)
	assert.Len(t, ranInputs(t, dir), 1)

	data, err := os.ReadFile(layout.TablePath(inputs[0]))
	require.NoError(t, err)
	assert.Contains(t, string(data), "targetid", "stale table should be replaced")
}

func TestRunRecordsFailures(t *testing.T) {
	dir := t.TempDir()
	engine := pickyEngine(t, dir)
	inputs := makeInputs(t, dir, "spec-bad.fits", "spec-good.fits")

	led := ledger.New(filepath.Join(dir, "status.tsv"))
	store, err := results.Open(filepath.Join(dir, "results.db"))
	require.NoError(t, err)
	defer store.Close()

	exec := newTestExecutor(t, engine, filepath.Join(dir, "out"), Options{})
	exec.SetLedger(led)
	exec.SetStore(store)

	summary, err := exec.Run(context.Background(), NewSliceSource(inputs, nil), nil)
	require.NoError(t, err, "per-input failures do not fail the run")

	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, summary.Fitted)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.FailedInputs, 1)
	assert.Equal(t, inputs[0], summary.FailedInputs[0].Input)

	var engineErr *fitter.EngineError
	require.True(t, errors.As(summary.FailedInputs[0].Err, &engineErr))
	assert.Equal(t, 2, engineErr.ExitCode)

	statuses, err := led.Statuses()
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusFailed, statuses[inputs[0]])
	assert.Equal(t, ledger.StatusOK, statuses[inputs[1]])

	rows, err := store.RunResults(context.Background(), summary.RunID)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	var failedRow *results.FitResult
	for _, row := range rows {
		if !row.Success {
			failedRow = row
		}
	}
	require.NotNil(t, failedRow)
	assert.Equal(t, inputs[0], failedRow.InputFile)
	assert.Contains(t, failedRow.ErrorMessage, "exited with code 2")
}

func TestRunPerRowOutcomes(t *testing.T) {
	dir := t.TempDir()
	doc := `{
  "file": "spec.fits",
  "rows": [
    {"targetid": "1", "arms": "b,r", "vrad": -42.1, "success": true},
    {"targetid": "2", "arms": "b,r", "success": false, "error": "below S/N floor"}
  ]
}`
	engine := writeScript(t, dir, "rvsfit", "cat <<'EOF'\n"+doc+"\nEOF")
	inputs := makeInputs(t, dir, "spec-1.fits")

	store, err := results.Open(filepath.Join(dir, "results.db"))
	require.NoError(t, err)
	defer store.Close()

	exec := newTestExecutor(t, engine, filepath.Join(dir, "out"), Options{})
	exec.SetStore(store)

	summary, err := exec.Run(context.Background(), NewSliceSource(inputs, nil), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Fitted, "an engine run with row-level failures still counts as fitted")

	rows, err := store.RunResults(context.Background(), summary.RunID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.True(t, rows[0].Success)
	assert.False(t, rows[1].Success)
	assert.Equal(t, "below S/N floor", rows[1].ErrorMessage)
}

func TestRunAbortOnError(t *testing.T) {
	dir := t.TempDir()
	engine := pickyEngine(t, dir)

	names := []string{"spec-bad.fits"}
	for i := 0; i < 5; i++ {
		names = append(names, "spec-good-"+string(rune('a'+i))+".fits")
	}
	inputs := makeInputs(t, dir, names...)

	exec := newTestExecutor(t, engine, filepath.Join(dir, "out"), Options{NThreads: 1, AbortOnError: true})

	summary, err := exec.Run(context.Background(), NewSliceSource(inputs, nil), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "aborted after first failure")
	assert.GreaterOrEqual(t, summary.Failed, 1)
	assert.Less(t, summary.Total, len(inputs), "dispatch should stop early")
}

func TestRunCanceledBeforeStart(t *testing.T) {
	dir := t.TempDir()
	engine := okEngine(t, dir)
	inputs := makeInputs(t, dir, "spec-1.fits", "spec-2.fits")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	exec := newTestExecutor(t, engine, filepath.Join(dir, "out"), Options{})
	summary, err := exec.Run(ctx, NewSliceSource(inputs, nil), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Zero(t, summary.Total)
	assert.Empty(t, ranInputs(t, dir))
}

func TestRunQueueSource(t *testing.T) {
	dir := t.TempDir()
	engine := okEngine(t, dir)
	inputs := makeInputs(t, dir, "spec-1.fits", "spec-2.fits")

	q := queue.New(filepath.Join(dir, "queue.txt"))
	_, err := q.Add(inputs...)
	require.NoError(t, err)

	f := fitter.New(engine, fitter.Options{TemplateLib: "/templ", NPoly: 10})
	layout := tables.Layout{OutputDir: filepath.Join(dir, "out"), TabPrefix: "outtab_", ModPrefix: "mod_", FigPrefix: "fig_"}

	var buf bytes.Buffer
	exec := New(f, layout, Options{NThreads: 2}, logger.NewConsoleLogger(&buf, "debug"))
	summary, err := exec.Run(context.Background(), NewQueueSource(q), nil)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 2, summary.Fitted)

	remaining, err := q.Entries()
	require.NoError(t, err)
	assert.Empty(t, remaining, "queue should be drained")

	// A queue's size is unknown up front; nothing should claim a total.
	output := buf.String()
	assert.Contains(t, output, "Fitting queued spectra (2 workers)")
	assert.NotContains(t, output, "Fitting 0 spectra")
	assert.NotContains(t, output, "/0")
}

func TestRunMissingIDsCarried(t *testing.T) {
	dir := t.TempDir()
	engine := okEngine(t, dir)
	inputs := makeInputs(t, dir, "spec-1.fits")

	exec := newTestExecutor(t, engine, filepath.Join(dir, "out"), Options{})
	summary, err := exec.Run(context.Background(), NewSliceSource(inputs, nil), []string{"12345", "67890"})
	require.NoError(t, err)
	assert.Equal(t, []string{"12345", "67890"}, summary.MissingIDs)
}
