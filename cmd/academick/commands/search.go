package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/academick/academick"
)

var (
	searchBook string
	searchTop  int
)

// NewSearchCmd creates the search command.
func NewSearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search ingested books",
		Long: `Run a hybrid dense/sparse search over the ingested chunks.

The query is expanded into variants, its intent picks the fusion weights,
and results are ranked by their best fused score across variants.

Examples:
  academick search "what is backpropagation"
  academick search "gradient descent" --book "Deep Learning" --top 3
  academick search --format json "decision trees"`,
		Args: cobra.MinimumNArgs(1),
		RunE: runSearch,
	}

	cmd.Flags().StringVar(&searchBook, "book", "", "Restrict to one book (fuzzy matched)")
	cmd.Flags().IntVar(&searchTop, "top", 0, "Number of results (0 uses the configured default)")
	return cmd
}

func runSearch(cmd *cobra.Command, args []string) error {
	if searchTop < 0 {
		return fmt.Errorf("top must not be negative, got %d", searchTop)
	}

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer closeApp(a)

	resp, err := a.Engine.Search(cmd.Context(), academick.SearchRequest{
		Query: strings.Join(args, " "),
		Book:  searchBook,
		TopN:  searchTop,
	})
	if err != nil {
		return fmt.Errorf("searching: %w", err)
	}
	if outputFormat == "json" {
		return writeJSON(cmd.OutOrStdout(), resp)
	}

	out := cmd.OutOrStdout()
	if resp.Warning != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", resp.Warning)
	}
	for _, d := range resp.Degraded {
		fmt.Fprintf(cmd.ErrOrStderr(), "degraded: %s\n", d)
	}
	printf(out, "intent: %s (dense %.2f, sparse %.2f)\n\n", resp.Intent, resp.Weights.Dense, resp.Weights.Sparse)
	if len(resp.Results) == 0 {
		printf(out, "No results\n")
		return nil
	}
	for i, r := range resp.Results {
		fmt.Fprintf(out, "%d. [%.3f] %s / %s\n", i+1, r.Score, r.Chunk.Book, r.Chunk.Chapter)
		fmt.Fprintf(out, "   %s\n", truncate(oneLine(r.Chunk.Text), 200))
	}
	return nil
}
