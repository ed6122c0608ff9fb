package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// NewBooksCmd creates the books command group.
func NewBooksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "books",
		Short: "List or delete ingested books",
		Long: `List ingested books with their chunk counts, or delete one.

Examples:
  academick books list
  academick books delete "Deep Learning"`,
	}
	cmd.AddCommand(newBooksListCmd(), newBooksDeleteCmd())
	return cmd
}

func newBooksListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List ingested books",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer closeApp(a)

			books, err := a.Store.ListBooks(cmd.Context())
			if err != nil {
				return fmt.Errorf("listing books: %w", err)
			}
			if outputFormat == "json" {
				return writeJSON(cmd.OutOrStdout(), books)
			}
			if len(books) == 0 {
				printf(cmd.OutOrStdout(), "No books\n")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "BOOK\tCHUNKS\n")
			for _, b := range books {
				fmt.Fprintf(w, "%s\t%d\n", b.Name, b.Chunks)
			}
			return w.Flush()
		},
	}
}

func newBooksDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <book>",
		Short: "Delete every chunk of a book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer closeApp(a)

			n, err := a.Store.DeleteBook(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("deleting book: %w", err)
			}
			if err := a.Engine.InvalidateCache(cmd.Context()); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: search cache not cleared: %v\n", err)
			}
			printf(cmd.OutOrStdout(), "Deleted %d chunk(s) of %q\n", n, args[0])
			return nil
		},
	}
}
