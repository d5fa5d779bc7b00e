// Package executor orchestrates fit runs. A worker pool of nthreads
// goroutines drains an input source; each worker applies the rerun policy,
// runs the fitting engine, and writes the output table. A collector
// serializes progress logging, results-store recording, and the run
// summary.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/astrid/sdssfit/internal/fitter"
	"github.com/astrid/sdssfit/internal/ledger"
	"github.com/astrid/sdssfit/internal/logger"
	"github.com/astrid/sdssfit/internal/models"
	"github.com/astrid/sdssfit/internal/results"
	"github.com/astrid/sdssfit/internal/tables"
)

// Logger receives run progress. *logger.ConsoleLogger, *logger.FileLogger,
// and *logger.NoOpLogger all satisfy it.
type Logger interface {
	LogTrace(message string)
	LogDebug(message string)
	LogInfo(message string)
	LogWarn(message string)
	LogError(message string)
	LogRunStart(total, nthreads int)
	LogInputResult(result models.InputResult, done, total int)
	LogProgress(done, total int, avgPerInput time.Duration)
	LogSummary(summary models.RunSummary)
}

// Options are run-level policies.
type Options struct {
	// NThreads is the worker-pool size (minimum 1)
	NThreads int

	// Overwrite reprocesses inputs even when outputs or ledger entries exist
	Overwrite bool

	// SkipExisting silently skips inputs whose output table already exists;
	// without it an existing output fails that input
	SkipExisting bool

	// AbortOnError cancels the pool on the first per-input failure
	AbortOnError bool

	// ConfigSnapshot is stored with the run record
	ConfigSnapshot string

	// EngineVersion is stored with the run record
	EngineVersion string
}

// Executor coordinates one fit run.
type Executor struct {
	fitter *fitter.Fitter
	layout tables.Layout
	opts   Options
	log    Logger

	ledger *ledger.Ledger
	store  *results.Store
}

// New creates an Executor. A nil log discards progress output. The ledger
// and results store are optional; wire them with SetLedger and SetStore.
func New(f *fitter.Fitter, layout tables.Layout, opts Options, log Logger) *Executor {
	if opts.NThreads <= 0 {
		opts.NThreads = 1
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Executor{
		fitter: f,
		layout: layout,
		opts:   opts,
		log:    log,
	}
}

// SetLedger wires the processed-status ledger used for skip checks and
// status appends.
func (e *Executor) SetLedger(l *ledger.Ledger) {
	e.ledger = l
}

// SetStore wires the results database the run is recorded into.
func (e *Executor) SetStore(s *results.Store) {
	e.store = s
}

// Run drains the source through the worker pool and returns the run
// summary. The summary is complete even when the context is canceled
// mid-run: dispatch stops, in-flight engines are awaited, and their
// outcomes are counted. The returned error reports run-level conditions
// (cancellation, a failing source, an abort); per-input failures live in
// the summary.
func (e *Executor) Run(ctx context.Context, src Source, missingIDs []string) (*models.RunSummary, error) {
	start := time.Now()
	summary := &models.RunSummary{MissingIDs: missingIDs}

	// A queue source cannot count ahead of its pops; unknown totals reach
	// the loggers as zero and render open-ended.
	total, known := src.Total()
	if !known {
		total = 0
	}
	e.log.LogRunStart(total, e.opts.NThreads)

	var runID string
	if e.store != nil {
		// Recording is bookkeeping; a broken store downgrades the run, it
		// does not stop it.
		run, err := e.store.BeginRun(ctx, e.opts.ConfigSnapshot, e.opts.EngineVersion)
		if err != nil {
			e.log.LogWarn(fmt.Sprintf("results store unavailable, run not recorded: %v", err))
		} else {
			runID = run.ID
			summary.RunID = runID
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := make(chan struct{}, e.opts.NThreads)
	resultsCh := make(chan models.InputResult)

	var workers sync.WaitGroup
	var collector sync.WaitGroup

	// firstFailure is collector-owned until collector.Wait returns.
	var firstFailure error

	collector.Add(1)
	go func() {
		defer collector.Done()
		done := 0
		var fittedTime time.Duration

		for res := range resultsCh {
			done++
			switch res.Status {
			case models.StatusFitted:
				summary.Fitted++
				fittedTime += res.Duration
			case models.StatusSkipped:
				summary.Skipped++
			case models.StatusFailed:
				summary.Failed++
				summary.FailedInputs = append(summary.FailedInputs, res)
				if firstFailure == nil {
					firstFailure = res.Err
				}
				if e.opts.AbortOnError {
					cancel()
				}
			}

			e.log.LogInputResult(res, done, total)
			var avg time.Duration
			if summary.Fitted > 0 {
				avg = fittedTime / time.Duration(summary.Fitted)
			}
			e.log.LogProgress(done, total, avg)

			if runID != "" {
				// Background context so interrupted runs still keep their
				// rows.
				if err := e.recordResult(context.Background(), runID, res); err != nil {
					e.log.LogWarn(fmt.Sprintf("record results for %s: %v", res.Input, err))
				}
			}
		}
		summary.Total = done
	}()

	var dispatchErr error
dispatch:
	for {
		// Acquire a slot before popping so a destructively consumed queue
		// entry always reaches a worker.
		select {
		case <-runCtx.Done():
			break dispatch
		case sem <- struct{}{}:
		}
		if runCtx.Err() != nil {
			<-sem
			break dispatch
		}

		job, err := src.Next()
		if err != nil {
			<-sem
			if !errors.Is(err, ErrSourceDrained) {
				dispatchErr = err
				e.log.LogError(fmt.Sprintf("input source: %v", err))
			}
			break dispatch
		}

		workers.Add(1)
		go func(job Job) {
			defer workers.Done()
			defer func() { <-sem }()
			resultsCh <- e.processInput(runCtx, job)
		}(job)
	}

	workers.Wait()
	close(resultsCh)
	collector.Wait()

	summary.Duration = time.Since(start)

	if runID != "" {
		counts := results.RunCounts{
			Total:   summary.Total,
			Fitted:  summary.Fitted,
			Skipped: summary.Skipped,
			Failed:  summary.Failed,
		}
		if err := e.store.FinishRun(context.Background(), runID, counts); err != nil {
			e.log.LogWarn(fmt.Sprintf("finish run record: %v", err))
		}
	}

	e.log.LogSummary(*summary)

	switch {
	case dispatchErr != nil:
		return summary, dispatchErr
	case ctx.Err() != nil:
		return summary, ctx.Err()
	case e.opts.AbortOnError && firstFailure != nil:
		return summary, fmt.Errorf("aborted after first failure: %w", firstFailure)
	}
	return summary, nil
}

// processInput runs the per-input pipeline: rerun-policy checks, engine
// invocation, table write, ledger append.
func (e *Executor) processInput(ctx context.Context, job Job) models.InputResult {
	start := time.Now()
	res := models.InputResult{Input: job.Input}

	skip, reason, err := e.shouldSkip(job.Input)
	if err != nil {
		return e.failed(res, start, err)
	}
	if skip {
		res.Status = models.StatusSkipped
		res.Reason = reason
		res.Duration = time.Since(start)
		return res
	}

	doplot := e.fitter.Options.DoPlot
	if err := e.layout.EnsureDirs(job.Input, doplot); err != nil {
		return e.failed(res, start, err)
	}

	req := fitter.Request{
		Input:   job.Input,
		Priors:  job.Priors,
		ModPath: e.layout.ModelPath(job.Input),
	}
	if doplot {
		req.FigPath = e.layout.FigurePath(job.Input)
	}

	fitRes, err := e.fitter.Fit(ctx, req)
	if err != nil {
		return e.failed(res, start, err)
	}

	tablePath := e.layout.TablePath(job.Input)
	if err := tables.Write(tablePath, fitRes.Output.Rows); err != nil {
		return e.failed(res, start, fmt.Errorf("write table %s: %w", tablePath, err))
	}

	if e.ledger != nil {
		// The table is on disk either way; the next run's exists-check
		// covers a lost ledger line.
		if err := e.ledger.MarkOK(job.Input); err != nil {
			e.log.LogWarn(fmt.Sprintf("ledger append for %s: %v", job.Input, err))
		}
	}

	res.Status = models.StatusFitted
	res.Rows = fitRes.Output.Rows
	res.TablePath = tablePath
	res.Duration = time.Since(start)
	return res
}

func (e *Executor) failed(res models.InputResult, start time.Time, err error) models.InputResult {
	res.Status = models.StatusFailed
	res.Err = err
	res.Duration = time.Since(start)

	// Canceled inputs were never really attempted; keep them out of the
	// ledger so reruns pick them up without --overwrite.
	if e.ledger != nil && !errors.Is(err, context.Canceled) {
		if lerr := e.ledger.MarkFailed(res.Input); lerr != nil {
			e.log.LogWarn(fmt.Sprintf("ledger append for %s: %v", res.Input, lerr))
		}
	}
	return res
}

// shouldSkip applies the rerun policy before the engine runs.
func (e *Executor) shouldSkip(input string) (bool, string, error) {
	if e.opts.Overwrite {
		return false, "", nil
	}

	if e.ledger != nil {
		done, err := e.ledger.Done(input)
		if err != nil {
			return false, "", fmt.Errorf("read ledger: %w", err)
		}
		if done {
			return true, "already processed", nil
		}
	}

	tablePath := e.layout.TablePath(input)
	if tables.Exists(tablePath) {
		if e.opts.SkipExisting {
			return true, "output table exists", nil
		}
		return false, "", fmt.Errorf("%w: %s (use --overwrite or --skip-existing)", tables.ErrOutputExists, tablePath)
	}

	return false, "", nil
}

// recordResult writes one input's outcome into the results store. Fitted
// inputs record one row per object; failures record a single row carrying
// the error; skips are counted on the run record only.
func (e *Executor) recordResult(ctx context.Context, runID string, res models.InputResult) error {
	switch res.Status {
	case models.StatusFitted:
		rows := make([]*results.FitResult, 0, len(res.Rows))
		for _, row := range res.Rows {
			rows = append(rows, &results.FitResult{
				RunID:        runID,
				InputFile:    res.Input,
				TargetID:     row.TargetID,
				Vrad:         row.Vrad,
				VradErr:      row.VradErr,
				Teff:         row.Teff,
				Logg:         row.Logg,
				Feh:          row.Feh,
				Alpha:        row.Alpha,
				Vsini:        row.Vsini,
				Chisq:        row.Chisq,
				SN:           row.SN,
				Success:      row.Success,
				ErrorMessage: row.Error,
				DurationSecs: res.Duration.Seconds(),
			})
		}
		return e.store.RecordRows(ctx, rows)

	case models.StatusFailed:
		msg := ""
		if res.Err != nil {
			msg = res.Err.Error()
		}
		return e.store.RecordRows(ctx, []*results.FitResult{{
			RunID:        runID,
			InputFile:    res.Input,
			Success:      false,
			ErrorMessage: msg,
			DurationSecs: res.Duration.Seconds(),
		}})
	}

	return nil
}
