package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/astrid/sdssfit/internal/config"
	"github.com/astrid/sdssfit/internal/executor"
	"github.com/astrid/sdssfit/internal/fitter"
	"github.com/astrid/sdssfit/internal/inputs"
	"github.com/astrid/sdssfit/internal/ledger"
	"github.com/astrid/sdssfit/internal/logger"
	"github.com/astrid/sdssfit/internal/models"
	"github.com/astrid/sdssfit/internal/priors"
	"github.com/astrid/sdssfit/internal/queue"
	"github.com/astrid/sdssfit/internal/results"
	"github.com/astrid/sdssfit/internal/tables"
)

// fitFlags collects the fit command's flag values. Zero values mean "not
// given"; config merging checks Flags().Changed before overriding.
type fitFlags struct {
	// input selection
	inputList    string
	targetIDs    []string
	targetIDFile string
	spectraDir   string
	queueFile    string

	// fit options
	nthreads     int
	npoly        int
	arms         string
	minSN        float64
	objTypes     string
	ccfNormalize bool
	doplot       bool
	timeout      time.Duration
	engine       string
	templateLib  string

	// priors: inline list and file variant per parameter half
	teffMean      string
	teffMeanFile  string
	teffStd       string
	teffStdFile   string
	loggMean      string
	loggMeanFile  string
	loggStd       string
	loggStdFile   string
	fehMean       string
	fehMeanFile   string
	fehStd        string
	fehStdFile    string
	alphaMean     string
	alphaMeanFile string
	alphaStd      string
	alphaStdFile  string

	// output controls
	outputDir string
	tabPrefix string
	modPrefix string
	figDir    string
	figPrefix string
	subdirs   bool

	// bookkeeping and policy
	processStatus string
	overwrite     bool
	skipExisting  bool
	abortOnError  bool
	dryRun        bool
}

// NewFitCommand creates the 'sdssfit fit' command
func NewFitCommand() *cobra.Command {
	var ff fitFlags

	cmd := &cobra.Command{
		Use:   "fit [spectrum...]",
		Short: "Fit spectra against a template library",
		Long: `Fit SDSS spectra with the rvsfit engine across a worker pool.

Input spectra come from positional paths, --input-list, target IDs
(--targetid / --targetid-file, matched against --spectra-dir or the file
sources), or a shared --queue-file that concurrent sdssfit processes
drain cooperatively. Per-star Gaussian priors on Teff, logg, [Fe/H],
and [alpha/Fe] are given inline or from files, one value per star.

Each fitted spectrum produces one CSV table named
<tab-prefix><stem>.csv under --output-dir, plus best-fit models and
optional figures written by the engine. Completed inputs are recorded
in the --process-status ledger and in the local results database, and
are skipped on reruns unless --overwrite.

Examples:
  # Fit two spectra with 4 workers
  sdssfit fit spec-15143-59205-4593175556.fits spec-15143-59205-4593200001.fits --nthreads 4

  # Fit everything under a directory, skipping already-fitted spectra
  sdssfit fit --spectra-dir /data/sdss/v6_1_3 --skip-existing --nthreads 16

  # Drain a shared queue on a cluster node
  sdssfit fit --queue-file /shared/queue.txt --process-status /shared/done.tsv

  # Per-star temperature priors for three spectra
  sdssfit fit a.fits b.fits c.fits --teff-prior-mean "4800 5200 6100" --teff-prior-std "150 150 200"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFit(cmd, args, &ff)
		},
		SilenceUsage: true,
	}

	bindFitFlags(cmd, &ff)

	return cmd
}

// bindFitFlags registers the fit command's flags onto cmd.
func bindFitFlags(cmd *cobra.Command, ff *fitFlags) {
	flags := cmd.Flags()

	flags.StringVar(&ff.inputList, "input-list", "", "File with one spectrum path per line")
	flags.StringArrayVar(&ff.targetIDs, "targetid", nil, "Target ID to fit (repeatable)")
	flags.StringVar(&ff.targetIDFile, "targetid-file", "", "File with one target ID per line")
	flags.StringVar(&ff.spectraDir, "spectra-dir", "", "Directory scanned recursively for spectrum files")
	flags.StringVar(&ff.queueFile, "queue-file", "", "Shared work-list file, consumed destructively")

	flags.IntVar(&ff.nthreads, "nthreads", 1, "Worker-pool size")
	flags.IntVar(&ff.npoly, "npoly", 10, "Continuum polynomial order")
	flags.StringVar(&ff.arms, "arms", "", "Comma-separated arm setups to fit (default from config)")
	flags.Float64Var(&ff.minSN, "min-sn", 0, "Skip objects below this signal-to-noise")
	flags.StringVar(&ff.objTypes, "objtypes", "", "Comma-separated object types to fit (default all)")
	flags.BoolVar(&ff.ccfNormalize, "ccf-continuum-normalize", true, "Continuum-normalize during cross-correlation")
	flags.BoolVar(&ff.doplot, "doplot", false, "Produce diagnostic figures")
	flags.DurationVar(&ff.timeout, "timeout", time.Hour, "Per-spectrum engine timeout")
	flags.StringVar(&ff.engine, "engine", "", "Fitting engine binary (default from config)")
	flags.StringVar(&ff.templateLib, "template-lib", "", "Template library directory (default from config)")

	flags.StringVar(&ff.teffMean, "teff-prior-mean", "", "Per-star Teff prior means [K]")
	flags.StringVar(&ff.teffMeanFile, "teff-prior-mean-file", "", "File of per-star Teff prior means")
	flags.StringVar(&ff.teffStd, "teff-prior-std", "", "Per-star Teff prior stdevs [K]")
	flags.StringVar(&ff.teffStdFile, "teff-prior-std-file", "", "File of per-star Teff prior stdevs")
	flags.StringVar(&ff.loggMean, "logg-prior-mean", "", "Per-star logg prior means [dex]")
	flags.StringVar(&ff.loggMeanFile, "logg-prior-mean-file", "", "File of per-star logg prior means")
	flags.StringVar(&ff.loggStd, "logg-prior-std", "", "Per-star logg prior stdevs [dex]")
	flags.StringVar(&ff.loggStdFile, "logg-prior-std-file", "", "File of per-star logg prior stdevs")
	flags.StringVar(&ff.fehMean, "feh-prior-mean", "", "Per-star [Fe/H] prior means [dex]")
	flags.StringVar(&ff.fehMeanFile, "feh-prior-mean-file", "", "File of per-star [Fe/H] prior means")
	flags.StringVar(&ff.fehStd, "feh-prior-std", "", "Per-star [Fe/H] prior stdevs [dex]")
	flags.StringVar(&ff.fehStdFile, "feh-prior-std-file", "", "File of per-star [Fe/H] prior stdevs")
	flags.StringVar(&ff.alphaMean, "alpha-prior-mean", "", "Per-star [alpha/Fe] prior means [dex]")
	flags.StringVar(&ff.alphaMeanFile, "alpha-prior-mean-file", "", "File of per-star [alpha/Fe] prior means")
	flags.StringVar(&ff.alphaStd, "alpha-prior-std", "", "Per-star [alpha/Fe] prior stdevs [dex]")
	flags.StringVar(&ff.alphaStdFile, "alpha-prior-std-file", "", "File of per-star [alpha/Fe] prior stdevs")

	flags.StringVar(&ff.outputDir, "output-dir", "", "Root directory for tables and models (default from config)")
	flags.StringVar(&ff.tabPrefix, "tab-prefix", "", "Output table filename prefix (default from config)")
	flags.StringVar(&ff.modPrefix, "mod-prefix", "", "Best-fit model filename prefix (default from config)")
	flags.StringVar(&ff.figDir, "fig-dir", "", "Figure output directory (default <output-dir>/figs)")
	flags.StringVar(&ff.figPrefix, "fig-prefix", "", "Figure filename prefix (default from config)")
	flags.BoolVar(&ff.subdirs, "subdirs", false, "Mirror each input's parent directory under the output directory")

	flags.StringVar(&ff.processStatus, "process-status", "", "Processed-files status ledger (append-only TSV)")
	flags.BoolVar(&ff.overwrite, "overwrite", false, "Reprocess inputs even when outputs or ledger entries exist")
	flags.BoolVar(&ff.skipExisting, "skip-existing", false, "Silently skip inputs whose output table already exists")
	flags.BoolVar(&ff.abortOnError, "abort-on-error", false, "Stop the whole run on the first per-input failure")
	flags.BoolVar(&ff.dryRun, "dry-run", false, "Resolve inputs and print what would be fitted")
}

// runFit executes the fit command
func runFit(cmd *cobra.Command, args []string, ff *fitFlags) error {
	output := cmd.OutOrStdout()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	mergeFitFlags(cmd, ff, cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	priorSpecs := fitPriorSpecs(ff)

	// Queue mode is exclusive: entries appear as workers pop, so nothing
	// resolved up front (file lists, per-star priors) can align with them.
	if ff.queueFile != "" {
		if len(args) > 0 || ff.inputList != "" || len(ff.targetIDs) > 0 ||
			ff.targetIDFile != "" || ff.spectraDir != "" {
			return fmt.Errorf("--queue-file cannot be combined with other input sources")
		}
		if priors.Defined(priorSpecs) {
			return fmt.Errorf("per-star priors cannot be used with --queue-file: prior lists align with a fixed input list")
		}
	}

	// Resolve the input set (static mode) or open the queue (queue mode).
	var src executor.Source
	var priorSets []priors.Set
	var resolution *inputs.Resolution

	if ff.queueFile == "" {
		resolution, err = inputs.Resolve(inputs.Request{
			Paths:        args,
			ListFile:     ff.inputList,
			TargetIDs:    ff.targetIDs,
			TargetIDFile: ff.targetIDFile,
			SpectraDir:   ff.spectraDir,
		})
		if err != nil {
			return err
		}

		priorSets, err = priors.Resolve(priorSpecs, len(resolution.Files))
		if err != nil {
			return err
		}
		src = executor.NewSliceSource(resolution.Files, priorSets)
	}

	layout := tables.Layout{
		OutputDir: cfg.Output.Dir,
		TabPrefix: cfg.Output.TabPrefix,
		ModPrefix: cfg.Output.ModPrefix,
		FigDir:    cfg.Output.FigDir,
		FigPrefix: cfg.Output.FigPrefix,
		Subdirs:   cfg.Output.Subdirs,
	}

	if ff.dryRun {
		return printFitDryRun(cmd, ff, cfg, resolution, layout)
	}

	if cfg.Fit.TemplateLib == "" {
		return fmt.Errorf("no template library: set fit.template_lib in config or pass --template-lib")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fit := fitter.New(cfg.Fit.Engine, fitter.Options{
		TemplateLib:           cfg.Fit.TemplateLib,
		NPoly:                 cfg.NPoly,
		Arms:                  cfg.Arms,
		MinSN:                 cfg.MinSN,
		ObjTypes:              splitList(ff.objTypes),
		CCFContinuumNormalize: cfg.Fit.CCFContinuumNormalize,
		DoPlot:                ff.doplot,
		Timeout:               cfg.Timeout.Std(),
	})

	engineVersion, err := fit.Preflight(ctx)
	if err != nil {
		return err
	}

	log, closeLog, err := buildFitLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	opts := executor.Options{
		NThreads:       cfg.NThreads,
		Overwrite:      ff.overwrite,
		SkipExisting:   ff.skipExisting,
		AbortOnError:   ff.abortOnError,
		ConfigSnapshot: configSnapshot(cfg),
		EngineVersion:  engineVersion,
	}

	runner := executor.New(fit, layout, opts, log)

	if ff.processStatus != "" {
		runner.SetLedger(ledger.New(ff.processStatus))
	}

	var store *results.Store
	if cfg.Results.Enabled {
		dbPath, err := cfg.ResultsDBPath()
		if err != nil {
			return err
		}
		store, err = results.Open(dbPath)
		if err != nil {
			// A broken results database degrades bookkeeping, not fitting.
			log.LogWarn(fmt.Sprintf("results database unavailable: %v", err))
			store = nil
		} else {
			defer store.Close()
			runner.SetStore(store)
		}
	}

	var missingIDs []string
	if resolution != nil {
		missingIDs = resolution.MissingIDs
	}

	if ff.queueFile != "" {
		src = executor.NewQueueSource(queue.New(ff.queueFile))
	}

	summary, err := runner.Run(ctx, src, missingIDs)

	if store != nil && cfg.Results.KeepRuns > 0 {
		if _, perr := store.PruneRuns(context.Background(), cfg.Results.KeepRuns); perr != nil {
			log.LogWarn(fmt.Sprintf("prune old runs: %v", perr))
		}
	}

	if err != nil {
		return err
	}
	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d input(s) failed", summary.Failed, summary.Total)
	}
	if summary.Total == 0 && ff.queueFile != "" {
		fmt.Fprintf(output, "Queue %s is empty, nothing to fit.\n", ff.queueFile)
	}
	return nil
}

// mergeFitFlags overlays explicitly-set flags onto the loaded config, so
// precedence is flag > config file > built-in default.
func mergeFitFlags(cmd *cobra.Command, ff *fitFlags, cfg *config.Config) {
	flags := cmd.Flags()

	if flags.Changed("nthreads") {
		cfg.NThreads = ff.nthreads
	}
	if flags.Changed("npoly") {
		cfg.NPoly = ff.npoly
	}
	if flags.Changed("timeout") {
		cfg.Timeout = config.Duration(ff.timeout)
	}
	if flags.Changed("arms") {
		cfg.Arms = splitList(ff.arms)
	}
	if flags.Changed("min-sn") {
		cfg.MinSN = ff.minSN
	}
	if flags.Changed("ccf-continuum-normalize") {
		cfg.Fit.CCFContinuumNormalize = ff.ccfNormalize
	}
	if flags.Changed("engine") {
		cfg.Fit.Engine = ff.engine
	}
	if flags.Changed("template-lib") {
		cfg.Fit.TemplateLib = ff.templateLib
	}

	if flags.Changed("output-dir") {
		cfg.Output.Dir = ff.outputDir
	}
	if flags.Changed("tab-prefix") {
		cfg.Output.TabPrefix = ff.tabPrefix
	}
	if flags.Changed("mod-prefix") {
		cfg.Output.ModPrefix = ff.modPrefix
	}
	if flags.Changed("fig-dir") {
		cfg.Output.FigDir = ff.figDir
	}
	if flags.Changed("fig-prefix") {
		cfg.Output.FigPrefix = ff.figPrefix
	}
	if flags.Changed("subdirs") {
		cfg.Output.Subdirs = ff.subdirs
	}
}

// fitPriorSpecs maps the sixteen prior flags onto one ParamSpec per
// physical parameter.
func fitPriorSpecs(ff *fitFlags) []priors.ParamSpec {
	return []priors.ParamSpec{
		{
			Param: priors.ParamTeff,
			Mean:  priors.Values{Inline: ff.teffMean, File: ff.teffMeanFile},
			Std:   priors.Values{Inline: ff.teffStd, File: ff.teffStdFile},
		},
		{
			Param: priors.ParamLogg,
			Mean:  priors.Values{Inline: ff.loggMean, File: ff.loggMeanFile},
			Std:   priors.Values{Inline: ff.loggStd, File: ff.loggStdFile},
		},
		{
			Param: priors.ParamFeh,
			Mean:  priors.Values{Inline: ff.fehMean, File: ff.fehMeanFile},
			Std:   priors.Values{Inline: ff.fehStd, File: ff.fehStdFile},
		},
		{
			Param: priors.ParamAlpha,
			Mean:  priors.Values{Inline: ff.alphaMean, File: ff.alphaMeanFile},
			Std:   priors.Values{Inline: ff.alphaStd, File: ff.alphaStdFile},
		},
	}
}

// printFitDryRun lists what a run would do without touching anything: no
// loggers, no ledger, no database, no engine.
func printFitDryRun(cmd *cobra.Command, ff *fitFlags, cfg *config.Config, res *inputs.Resolution, layout tables.Layout) error {
	output := cmd.OutOrStdout()

	if ff.queueFile != "" {
		q := queue.New(ff.queueFile)
		entries, err := q.Entries()
		if err != nil {
			return err
		}
		fmt.Fprintf(output, "Queue %s holds %d entr%s:\n", ff.queueFile, len(entries), plural(len(entries), "y", "ies"))
		for _, e := range entries {
			fmt.Fprintf(output, "  %s\n", e)
		}
		return nil
	}

	fmt.Fprintf(output, "Would fit %d spectr%s with %d thread(s) against %s:\n",
		len(res.Files), plural(len(res.Files), "um", "a"), cfg.NThreads, orUnset(cfg.Fit.TemplateLib))
	for _, f := range res.Files {
		fmt.Fprintf(output, "  %s -> %s\n", f, layout.TablePath(f))
	}
	if len(res.MissingIDs) > 0 {
		fmt.Fprintf(output, "Target IDs with no matching spectrum: %s\n", strings.Join(res.MissingIDs, ", "))
	}
	return nil
}

// buildFitLogger assembles the run logger: console, the always-on run log
// under the home logs directory, and an extra plain-text copy when --log
// was given. The returned func closes what was opened.
func buildFitLogger(cfg *config.Config) (executor.Logger, func(), error) {
	consoleLog := logger.NewConsoleLogger(os.Stdout, cfg.Log.Level)
	if noColor {
		consoleLog.DisableColor()
	}

	logsDir, err := cfg.LogsDir()
	if err != nil {
		return nil, nil, err
	}
	fileLog, err := logger.NewFileLoggerWithDirAndLevel(logsDir, cfg.Log.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("create run log: %w", err)
	}

	loggers := []executor.Logger{consoleLog, fileLog}
	var extraFile *os.File
	if logFile != "" {
		extraFile, err = os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fileLog.Close()
			return nil, nil, fmt.Errorf("open --log file: %w", err)
		}
		// A ConsoleLogger over a regular file: TTY detection keeps the
		// output free of ANSI codes.
		loggers = append(loggers, logger.NewConsoleLogger(extraFile, cfg.Log.Level))
	}

	closeAll := func() {
		fileLog.Close()
		if extraFile != nil {
			extraFile.Close()
		}
	}
	return &multiLogger{loggers: loggers}, closeAll, nil
}

// configSnapshot renders the effective config for the run record.
func configSnapshot(cfg *config.Config) string {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return ""
	}
	return string(data)
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

func orUnset(s string) string {
	if s == "" {
		return "<template library not set>"
	}
	return s
}

// multiLogger implements executor.Logger by delegating to multiple loggers
type multiLogger struct {
	loggers []executor.Logger
}

func (ml *multiLogger) LogTrace(message string) {
	for _, l := range ml.loggers {
		l.LogTrace(message)
	}
}

func (ml *multiLogger) LogDebug(message string) {
	for _, l := range ml.loggers {
		l.LogDebug(message)
	}
}

func (ml *multiLogger) LogInfo(message string) {
	for _, l := range ml.loggers {
		l.LogInfo(message)
	}
}

func (ml *multiLogger) LogWarn(message string) {
	for _, l := range ml.loggers {
		l.LogWarn(message)
	}
}

func (ml *multiLogger) LogError(message string) {
	for _, l := range ml.loggers {
		l.LogError(message)
	}
}

func (ml *multiLogger) LogRunStart(total, nthreads int) {
	for _, l := range ml.loggers {
		l.LogRunStart(total, nthreads)
	}
}

func (ml *multiLogger) LogInputResult(result models.InputResult, done, total int) {
	for _, l := range ml.loggers {
		l.LogInputResult(result, done, total)
	}
}

func (ml *multiLogger) LogProgress(done, total int, avgPerInput time.Duration) {
	for _, l := range ml.loggers {
		l.LogProgress(done, total, avgPerInput)
	}
}

func (ml *multiLogger) LogSummary(summary models.RunSummary) {
	for _, l := range ml.loggers {
		l.LogSummary(summary)
	}
}
