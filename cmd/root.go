// Package cmd defines the CLI commands for the personsearch executable.
package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/personsearch/internal/app"
	"github.com/JakeFAU/personsearch/internal/config"
	"github.com/JakeFAU/personsearch/internal/crawler"
)

// Searcher is the slice of app.App the commands use. Tests swap in a fake
// through newSearcher.
type Searcher interface {
	Search(ctx context.Context, query string) (crawler.RunSummary, error)
	Close()
}

// newSearcher is the application factory.
var newSearcher = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (Searcher, error) {
	return app.New(ctx, cfg, logger)
}

// newRootCmd creates the root command and its subcommands.
func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "personsearch",
		Short: "Search people-search sites concurrently and export the results.",
		Long: `personsearch sends one query to every configured target, respecting
robots.txt, retrying transient failures with backoff, and streams the
extracted records to CSV, SQLite, Postgres or Cloud Storage.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
	cmd.AddCommand(newSearchCmd(&cfgFile))
	return cmd
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
