package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/astrid/sdssfit/internal/results"
)

// newResultsExportCommand creates the 'sdssfit results export' command
func newResultsExportCommand() *cobra.Command {
	var (
		runID  string
		format string
		output string
		dbPath string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export recorded results to JSON or CSV",
		Long: `Export recorded fit results for external analysis or backup.

Exports every recorded row, or one run's rows with --run. Without
--output, data goes to stdout.

Examples:
  sdssfit results export --format json --output results.json
  sdssfit results export --run 3f2a91c4 --format csv
  sdssfit results export --format csv | awk -F, '$13 == "false"'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResultsExport(runID, format, output, dbPath)
		},
		SilenceUsage: true,
	}

	cmd.Flags().StringVar(&runID, "run", "", "Export only this run (ID or unique prefix)")
	cmd.Flags().StringVar(&format, "format", "json", "Export format (json|csv)")
	cmd.Flags().StringVar(&output, "output", "", "Output file path (stdout if not specified)")
	cmd.Flags().StringVar(&dbPath, "db-path", "", "Path to results database (for testing)")

	return cmd
}

// runResultsExport executes the export command
func runResultsExport(runID, format, output, dbPathOverride string) error {
	if format != "json" && format != "csv" {
		return fmt.Errorf("invalid format %q: format must be 'json' or 'csv'", format)
	}

	store, err := openResultsStore(dbPathOverride)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()

	var rows []*results.FitResult
	if runID != "" {
		run, err := store.FindRun(ctx, runID)
		if err != nil {
			return err
		}
		rows, err = store.RunResults(ctx, run.ID)
		if err != nil {
			return fmt.Errorf("load run rows: %w", err)
		}
	} else {
		rows, err = store.AllResults(ctx)
		if err != nil {
			return fmt.Errorf("load results: %w", err)
		}
	}

	var w io.Writer = os.Stdout
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if err := results.Export(w, format, rows); err != nil {
		return fmt.Errorf("export results: %w", err)
	}

	if output != "" {
		fmt.Fprintf(os.Stderr, "Exported %d row(s) to %s\n", len(rows), output)
	}
	return nil
}
