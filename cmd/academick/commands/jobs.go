package commands

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// NewJobsCmd creates the jobs command group.
func NewJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and control ingestion jobs",
		Long: `List, cancel and dismiss ingestion jobs.

Finished jobs stay listed for 12 hours; at most 10 are shown.

Examples:
  academick jobs list
  academick jobs cancel 0192f3c4-...
  academick jobs dismiss 0192f3c4-...`,
	}
	cmd.AddCommand(newJobsListCmd(), newJobsCancelCmd(), newJobsDismissCmd())
	return cmd
}

func newJobsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List visible jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer closeApp(a)

			jobs, err := a.Coordinator.List(cmd.Context())
			if err != nil {
				return fmt.Errorf("listing jobs: %w", err)
			}
			if outputFormat == "json" {
				return writeJSON(cmd.OutOrStdout(), jobs)
			}
			if len(jobs) == 0 {
				printf(cmd.OutOrStdout(), "No jobs\n")
				return nil
			}

			now := time.Now()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "JOB ID\tBOOK\tSTATUS\tPROGRESS\tUPDATED\n")
			for _, j := range jobs {
				progress := j.Progress
				if j.Error != "" {
					progress = truncate(j.Error, 40)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					j.ID, truncate(j.Book, 30), j.Status, progress, formatAge(j.UpdatedAt, now))
			}
			return w.Flush()
		},
	}
}

func newJobsCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a queued or running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer closeApp(a)

			snap, err := a.Coordinator.Cancel(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("cancelling job: %w", err)
			}
			if outputFormat == "json" {
				return writeJSON(cmd.OutOrStdout(), snap)
			}
			if snap.CancelRequested && !snap.Status.Terminal() {
				printf(cmd.OutOrStdout(), "Cancellation requested; job stops after its current chapter\n")
				return nil
			}
			printf(cmd.OutOrStdout(), "Job %s %s\n", snap.ID, snap.Status)
			return nil
		},
	}
}

func newJobsDismissCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dismiss <job-id>",
		Short: "Hide a finished job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer closeApp(a)

			if err := a.Coordinator.Dismiss(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("dismissing job: %w", err)
			}
			printf(cmd.OutOrStdout(), "Dismissed %s\n", args[0])
			return nil
		},
	}
}
