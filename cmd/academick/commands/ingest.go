package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/academick/academick"
)

var (
	ingestBook  string
	ingestEvery time.Duration
	ingestWait  bool
)

// NewIngestCmd creates the ingest command.
func NewIngestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest <file.pdf>...",
		Short: "Ingest PDF books",
		Long: `Queue one or more PDF books for ingestion and, unless --wait=false,
run the workers in this process until every job is finished.

The book name defaults to the file name without its extension.

Examples:
  academick ingest "Deep Learning.pdf"
  academick ingest book1.pdf book2.pdf
  academick ingest scan.pdf --book "Pattern Recognition"`,
		Args: cobra.MinimumNArgs(1),
		RunE: runIngest,
	}

	cmd.Flags().StringVar(&ingestBook, "book", "", "Book name (single file only)")
	cmd.Flags().DurationVar(&ingestEvery, "every", 3*time.Second, "Progress polling interval")
	cmd.Flags().BoolVar(&ingestWait, "wait", true, "Process the jobs and wait for them")
	return cmd
}

func runIngest(cmd *cobra.Command, args []string) error {
	if ingestBook != "" && len(args) > 1 {
		return errors.New("--book can only be used with a single file")
	}

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer closeApp(a)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var ids []string
	var failed int
	for _, path := range args {
		snap, err := submitFile(ctx, a.Coordinator, path)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", path, err)
			failed++
			continue
		}
		printf(cmd.OutOrStdout(), "queued %s as %q (job %s)\n", snap.Filename, snap.Book, snap.ID)
		ids = append(ids, snap.ID)
	}
	if !ingestWait || len(ids) == 0 {
		return ingestErr(failed)
	}

	wctx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- a.Coordinator.Start(wctx) }()

	for _, id := range ids {
		last := ""
		snap, err := a.Coordinator.Watch(ctx, id, ingestEvery, func(s academick.JobSnapshot) {
			line := fmt.Sprintf("[%s] %s %s", s.Book, s.Status, s.Progress)
			if line != last {
				printf(cmd.OutOrStdout(), "%s\n", line)
				last = line
			}
		})
		if err != nil {
			cancel()
			<-done
			return err
		}
		for _, w := range snap.Warnings {
			printf(cmd.OutOrStdout(), "  warning: %s\n", w)
		}
		if snap.Status != academick.JobCompleted {
			if snap.Error != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n", snap.Filename, snap.Error)
			}
			failed++
		}
	}
	cancel()
	if err := <-done; err != nil {
		return err
	}
	return ingestErr(failed)
}

type submitter interface {
	SubmitAs(ctx context.Context, filename, book string, r io.Reader) (academick.JobSnapshot, error)
}

func submitFile(ctx context.Context, s submitter, path string) (academick.JobSnapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return academick.JobSnapshot{}, err
	}
	defer f.Close()
	return s.SubmitAs(ctx, filepath.Base(path), ingestBook, f)
}

func ingestErr(failed int) error {
	if failed == 0 {
		return nil
	}
	return fmt.Errorf("%d file(s) failed", failed)
}
