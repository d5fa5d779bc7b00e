package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/astrid/sdssfit/internal/results"
)

// NewResultsCommand creates the 'sdssfit results' parent command
func NewResultsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "results",
		Short: "Inspect the local results database",
		Long: `Commands for viewing and managing recorded fit results.

Every non-dry fit run records its fitted rows and failures into a
local SQLite database, keyed by run. These commands list runs, show
per-spectrum rows, aggregate statistics, export data, and clear old
records.`,
	}

	cmd.AddCommand(newResultsShowCommand())
	cmd.AddCommand(newResultsStatsCommand())
	cmd.AddCommand(newResultsExportCommand())
	cmd.AddCommand(newResultsClearCommand())

	return cmd
}

// openResultsStore opens the results database at the configured path, or
// at dbPathOverride when given (for testing).
func openResultsStore(dbPathOverride string) (*results.Store, error) {
	dbPath := dbPathOverride
	if dbPath == "" {
		cfg, err := loadConfig()
		if err != nil {
			return nil, err
		}
		dbPath, err = cfg.ResultsDBPath()
		if err != nil {
			return nil, err
		}
	}

	store, err := results.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open results database: %w", err)
	}
	return store, nil
}

// formatTimestamp renders a time for the results listings.
func formatTimestamp(t time.Time) string {
	return t.Local().Format("2006-01-02 15:04:05")
}

// formatAge renders a duration like "3h ago" listings use.
func formatAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%.1fh", d.Hours())
	default:
		return fmt.Sprintf("%.1fd", d.Hours()/24)
	}
}
