package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/astrid/sdssfit/internal/results"
)

// newResultsShowCommand creates the 'sdssfit results show' command
func newResultsShowCommand() *cobra.Command {
	var (
		runID    string
		targetID string
		limit    int
		dbPath   string
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show recent runs or the rows of one run or target",
		Long: `Show recorded fit results.

Without flags, lists recent runs with their counts and success rates.
With --run, shows the per-spectrum rows of one run (a short ID prefix
from the listing is enough). With --target, shows one target's fit
history across runs.

Examples:
  sdssfit results show
  sdssfit results show --run 3f2a91c4
  sdssfit results show --target 4593175556`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if runID != "" && targetID != "" {
				return fmt.Errorf("--run and --target are mutually exclusive")
			}
			store, err := openResultsStore(dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := context.Background()
			output := cmd.OutOrStdout()

			switch {
			case runID != "":
				return showRun(ctx, output, store, runID)
			case targetID != "":
				return showTarget(ctx, output, store, targetID)
			default:
				return showRecentRuns(ctx, output, store, limit)
			}
		},
		SilenceUsage: true,
	}

	cmd.Flags().StringVar(&runID, "run", "", "Show the rows of this run (ID or unique prefix)")
	cmd.Flags().StringVar(&targetID, "target", "", "Show the fit history of this target ID")
	cmd.Flags().IntVar(&limit, "limit", 20, "How many recent runs to list")
	cmd.Flags().StringVar(&dbPath, "db-path", "", "Path to results database (for testing)")

	return cmd
}

// showRecentRuns lists the newest runs, one line each.
func showRecentRuns(ctx context.Context, w io.Writer, store *results.Store, limit int) error {
	runs, err := store.RecentRuns(ctx, limit)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	if len(runs) == 0 {
		fmt.Fprintln(w, "No recorded runs.")
		return nil
	}

	cyan := color.New(color.FgCyan, color.Bold)
	gray := color.New(color.FgHiBlack)

	cyan.Fprintf(w, "%-10s %-21s %7s %7s %7s %7s %8s\n",
		"RUN", "STARTED", "TOTAL", "FITTED", "SKIP", "FAIL", "RATE")

	for _, run := range runs {
		rate := "-"
		if run.Fitted+run.Failed > 0 {
			rate = fmt.Sprintf("%.0f%%", run.SuccessRate()*100)
		}
		fmt.Fprintf(w, "%-10s %-21s %7d %7d %7d %7d %8s",
			run.ShortID(), formatTimestamp(run.StartedAt),
			run.Total, run.Fitted, run.Skipped, run.Failed, rate)
		if run.FinishedAt == nil {
			gray.Fprintf(w, "  (running)")
		} else {
			gray.Fprintf(w, "  %s ago", formatAge(time.Since(run.StartedAt)))
		}
		fmt.Fprintln(w)
	}
	return nil
}

// showRun prints the per-spectrum rows of one run.
func showRun(ctx context.Context, w io.Writer, store *results.Store, idOrPrefix string) error {
	run, err := store.FindRun(ctx, idOrPrefix)
	if err != nil {
		return err
	}

	rows, err := store.RunResults(ctx, run.ID)
	if err != nil {
		return fmt.Errorf("load run rows: %w", err)
	}

	cyan := color.New(color.FgCyan, color.Bold)
	cyan.Fprintf(w, "Run %s started %s\n", run.ShortID(), formatTimestamp(run.StartedAt))
	if run.EngineVersion != "" {
		fmt.Fprintf(w, "Engine: %s\n", run.EngineVersion)
	}
	fmt.Fprintf(w, "Inputs: %d total, %d fitted, %d skipped, %d failed\n\n",
		run.Total, run.Fitted, run.Skipped, run.Failed)

	if len(rows) == 0 {
		fmt.Fprintln(w, "No rows recorded for this run.")
		return nil
	}
	printResultRows(w, rows)
	return nil
}

// showTarget prints one target's fit history, newest first.
func showTarget(ctx context.Context, w io.Writer, store *results.Store, targetID string) error {
	rows, err := store.TargetResults(ctx, targetID)
	if err != nil {
		return fmt.Errorf("load target rows: %w", err)
	}
	if len(rows) == 0 {
		fmt.Fprintf(w, "No recorded fits for target %s\n", targetID)
		return nil
	}

	color.New(color.FgCyan, color.Bold).Fprintf(w, "Target %s: %d recorded fit(s)\n\n", targetID, len(rows))
	printResultRows(w, rows)
	return nil
}

// printResultRows renders fit rows in a fixed-width table.
func printResultRows(w io.Writer, rows []*results.FitResult) {
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)

	cyan := color.New(color.FgCyan, color.Bold)
	cyan.Fprintf(w, "%-14s %9s %8s %7s %6s %6s %7s %9s  %s\n",
		"TARGETID", "VRAD", "TEFF", "LOGG", "FEH", "ALPHA", "S/N", "CHISQ", "STATUS")

	for _, r := range rows {
		if r.Success {
			fmt.Fprintf(w, "%-14s %9.2f %8.0f %7.2f %6.2f %6.2f %7.1f %9.2f  ",
				r.TargetID, r.Vrad, r.Teff, r.Logg, r.Feh, r.Alpha, r.SN, r.Chisq)
			green.Fprintf(w, "ok")
		} else {
			fmt.Fprintf(w, "%-14s %9s %8s %7s %6s %6s %7s %9s  ",
				orDash(r.TargetID), "-", "-", "-", "-", "-", "-", "-")
			red.Fprintf(w, "failed")
			if r.ErrorMessage != "" {
				fmt.Fprintf(w, "  %s", firstLineOf(r.ErrorMessage))
			}
		}
		fmt.Fprintln(w)
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func firstLineOf(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}
