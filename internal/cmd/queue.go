package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/astrid/sdssfit/internal/queue"
)

// NewQueueCommand creates the 'sdssfit queue' parent command
func NewQueueCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Manage shared work-queue files",
		Long: `Commands for managing the queue files that 'sdssfit fit --queue-file'
consumes.

A queue file holds one spectrum path per line. Workers pop entries
destructively under a file lock, so several sdssfit processes on a
shared filesystem can drain one queue without fitting anything twice.`,
	}

	cmd.AddCommand(newQueueAddCommand())
	cmd.AddCommand(newQueueListCommand())
	cmd.AddCommand(newQueuePopCommand())
	cmd.AddCommand(newQueueClearCommand())

	return cmd
}

// newQueueAddCommand creates the 'sdssfit queue add' command
func newQueueAddCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <queue-file> <spectrum>...",
		Short: "Append spectra to a queue file",
		Long: `Append spectrum paths to a queue file under the queue lock.

Paths already present in the queue are skipped, so re-adding a batch
is safe.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := queue.New(args[0])
			added, err := q.Add(args[1:]...)
			if err != nil {
				return err
			}
			skipped := len(args) - 1 - added
			fmt.Fprintf(cmd.OutOrStdout(), "Added %d entr%s to %s", added, plural(added, "y", "ies"), args[0])
			if skipped > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), " (%d already queued)", skipped)
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		},
		SilenceUsage: true,
	}
	return cmd
}

// newQueueListCommand creates the 'sdssfit queue list' command
func newQueueListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <queue-file>",
		Short: "Print the remaining queue entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := cmd.OutOrStdout()
			q := queue.New(args[0])
			entries, err := q.Entries()
			if err != nil {
				return err
			}
			for _, e := range entries {
				fmt.Fprintln(output, e)
			}
			fmt.Fprintf(output, "%d entr%s remaining in %s\n", len(entries), plural(len(entries), "y", "ies"), args[0])
			return nil
		},
		SilenceUsage: true,
	}
	return cmd
}

// newQueuePopCommand creates the 'sdssfit queue pop' command
func newQueuePopCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pop <queue-file>",
		Short: "Pop and print one queue entry",
		Long: `Pop the first remaining entry off the queue and print it, exactly as
a fit worker would. The queue file is rewritten without the popped
entry.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := queue.New(args[0])
			entry, err := q.Pop()
			if err != nil {
				if errors.Is(err, queue.ErrEmpty) {
					return fmt.Errorf("queue %s is empty", args[0])
				}
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), entry)
			return nil
		},
		SilenceUsage: true,
	}
	return cmd
}

// newQueueClearCommand creates the 'sdssfit queue clear' command
func newQueueClearCommand() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear <queue-file>",
		Short: "Remove every entry from a queue file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := cmd.OutOrStdout()
			if !yes {
				fmt.Fprintf(output, "This will remove every entry from %s.\n", args[0])
				if !confirmAction(output, cmd.InOrStdin()) {
					fmt.Fprintf(output, "Operation cancelled.\n")
					return nil
				}
			}
			q := queue.New(args[0])
			removed, err := q.Clear()
			if err != nil {
				return err
			}
			fmt.Fprintf(output, "Removed %d entr%s from %s\n", removed, plural(removed, "y", "ies"), args[0])
			return nil
		},
		SilenceUsage: true,
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "Skip the confirmation prompt")

	return cmd
}
