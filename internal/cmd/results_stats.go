package cmd

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/astrid/sdssfit/internal/results"
)

// newResultsStatsCommand creates the 'sdssfit results stats' command
func newResultsStatsCommand() *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show aggregate statistics over all recorded results",
		Long: `Display aggregate statistics over the whole results database:
  - Run and row totals
  - Overall success rate
  - Mean fit duration and chi-square of successful fits
  - Failure patterns (timeouts, engine exits, missing templates)`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openResultsStore(dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			stats, err := store.GetStats(context.Background())
			if err != nil {
				return fmt.Errorf("compute statistics: %w", err)
			}

			printStats(cmd.OutOrStdout(), stats)
			return nil
		},
		SilenceUsage: true,
	}

	cmd.Flags().StringVar(&dbPath, "db-path", "", "Path to results database (for testing)")

	return cmd
}

// printStats formats and prints the database-wide statistics
func printStats(w io.Writer, stats *results.Stats) {
	cyan := color.New(color.FgCyan, color.Bold)

	cyan.Fprintf(w, "\n=== Fit Results Statistics ===\n\n")

	if stats.Results == 0 {
		fmt.Fprintln(w, "No recorded results.")
		return
	}

	fmt.Fprintf(w, "Runs:           %d\n", stats.Runs)
	fmt.Fprintf(w, "Recorded rows:  %d (%d fitted, %d failed)\n",
		stats.Results, stats.Succeeded, stats.Failed)

	fmt.Fprintf(w, "Success rate:   ")
	rateColor(stats.SuccessRate).Fprintf(w, "%.1f%%\n", stats.SuccessRate*100)

	if stats.Succeeded > 0 {
		mean := time.Duration(stats.MeanDurationSecs * float64(time.Second))
		fmt.Fprintf(w, "Mean fit time:  %s\n", mean.Round(100*time.Millisecond))
		fmt.Fprintf(w, "Mean chi-sq:    %.2f\n", stats.MeanChisq)
	}

	if len(stats.FailurePatterns) > 0 {
		cyan.Fprintf(w, "\nFailure patterns:\n")
		// Stable order: most frequent first, name breaks ties.
		type pat struct {
			name  string
			count int
		}
		pats := make([]pat, 0, len(stats.FailurePatterns))
		for name, count := range stats.FailurePatterns {
			pats = append(pats, pat{name, count})
		}
		sort.Slice(pats, func(i, j int) bool {
			if pats[i].count != pats[j].count {
				return pats[i].count > pats[j].count
			}
			return pats[i].name < pats[j].name
		})
		for _, p := range pats {
			fmt.Fprintf(w, "  %-18s %d\n", p.name, p.count)
		}
	}
	fmt.Fprintln(w)
}

// rateColor picks the success-rate color: green >= 70%, yellow >= 40%,
// red below.
func rateColor(rate float64) *color.Color {
	switch {
	case rate >= 0.7:
		return color.New(color.FgGreen)
	case rate >= 0.4:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgRed)
	}
}
