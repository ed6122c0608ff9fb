// Package commands holds the academick CLI.
package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/academick/academick/internal/app"
	"github.com/academick/academick/internal/config"
)

var (
	configPath   string
	outputFormat string
	verbose      bool
	quiet        bool
)

// NewRootCmd creates the root command with every subcommand attached.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "academick",
		Short: "Ingest academic PDFs and search them",
		Long: `AcademiCK ingests academic books into a chapter-aware chunk store and
answers hybrid dense/sparse queries over them.

Configuration is read from academick.toml (or --config), then overridden
by ACADEMICK_* environment variables. A .env file is loaded if present.

Examples:
  academick serve
  academick ingest "Deep Learning.pdf"
  academick search "what is backpropagation" --book "Deep Learning"`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if verbose && quiet {
				return fmt.Errorf("--verbose and --quiet are mutually exclusive")
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the TOML config file")
	cmd.PersistentFlags().StringVar(&outputFormat, "format", "text", "Output format: text or json")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")
	cmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Only print results and errors")

	cmd.AddCommand(
		NewServeCmd(),
		NewIngestCmd(),
		NewJobsCmd(),
		NewSearchCmd(),
		NewBooksCmd(),
	)
	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// loadConfig loads .env, then the config file and environment.
func loadConfig() (config.Config, error) {
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, fmt.Errorf("loading config: %w", err)
	}
	switch {
	case verbose:
		cfg.Log.Level = "debug"
	case quiet:
		cfg.Log.Level = "error"
	}
	return cfg, nil
}

// openApp assembles the application for one command. Logs go to stderr.
func openApp(cmd *cobra.Command) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a, err := app.New(cmd.Context(), cfg, app.NewLogger(cfg.Log, cmd.ErrOrStderr()))
	if err != nil {
		return nil, fmt.Errorf("initializing academick: %w", err)
	}
	return a, nil
}

func closeApp(a *app.App) {
	_ = a.Close(context.Background())
}

func printf(w io.Writer, format string, args ...any) {
	if !quiet {
		fmt.Fprintf(w, format, args...)
	}
}
