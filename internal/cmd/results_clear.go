package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

// newResultsClearCommand creates the 'sdssfit results clear' command
func newResultsClearCommand() *cobra.Command {
	var (
		runID    string
		clearAll bool
		yes      bool
		dbPath   string
	)

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete recorded results",
		Long: `Delete recorded results for one run or the entire database.

Examples:
  # Delete one run's rows (requires confirmation)
  sdssfit results clear --run 3f2a91c4

  # Delete everything without prompting
  sdssfit results clear --all --yes`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if clearAll == (runID != "") {
				return fmt.Errorf("exactly one of --run or --all is required")
			}
			return runResultsClear(cmd, runID, clearAll, yes, dbPath)
		},
		SilenceUsage: true,
	}

	cmd.Flags().StringVar(&runID, "run", "", "Delete this run's rows (ID or unique prefix)")
	cmd.Flags().BoolVar(&clearAll, "all", false, "Delete the entire database contents")
	cmd.Flags().BoolVar(&yes, "yes", false, "Skip the confirmation prompt")
	cmd.Flags().StringVar(&dbPath, "db-path", "", "Path to results database (for testing)")

	return cmd
}

// runResultsClear executes the clear command
func runResultsClear(cmd *cobra.Command, runID string, clearAll, yes bool, dbPathOverride string) error {
	output := cmd.OutOrStdout()

	store, err := openResultsStore(dbPathOverride)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()

	if clearAll {
		if !yes {
			fmt.Fprintf(output, "WARNING: This will delete ALL recorded runs and results.\n")
			if !confirmAction(output, cmd.InOrStdin()) {
				fmt.Fprintf(output, "Operation cancelled.\n")
				return nil
			}
		}
		deleted, err := store.ClearAll(ctx)
		if err != nil {
			return fmt.Errorf("clear results: %w", err)
		}
		fmt.Fprintf(output, "Deleted %d result row(s).\n", deleted)
		return nil
	}

	run, err := store.FindRun(ctx, runID)
	if err != nil {
		return err
	}
	if !yes {
		fmt.Fprintf(output, "This will delete run %s and its rows.\n", run.ShortID())
		if !confirmAction(output, cmd.InOrStdin()) {
			fmt.Fprintf(output, "Operation cancelled.\n")
			return nil
		}
	}

	deleted, err := store.ClearRun(ctx, run.ID)
	if err != nil {
		return fmt.Errorf("clear run: %w", err)
	}
	fmt.Fprintf(output, "Deleted run %s (%d row(s)).\n", run.ShortID(), deleted)
	return nil
}

// confirmAction prompts for confirmation and reads a yes/no answer.
func confirmAction(w io.Writer, r io.Reader) bool {
	fmt.Fprintf(w, "Are you sure? (yes/no): ")
	reader := bufio.NewReader(r)
	answer, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "yes" || answer == "y"
}
