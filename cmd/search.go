package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/personsearch/internal/app"
	"github.com/JakeFAU/personsearch/internal/config"
	"github.com/JakeFAU/personsearch/internal/id/uuid"
	"github.com/JakeFAU/personsearch/internal/logging"
)

// newSearchCmd creates the 'search' subcommand.
func newSearchCmd(cfgFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search QUERY",
		Short: "Run one query against every configured target",
		Long: `Builds each target's URL from QUERY, fetches the result pages
concurrently and writes one row per extracted record. Targets that
fail are skipped; the run reports how many rows were written.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, *cfgFile, strings.Join(args, " "))
		},
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}

func runSearch(cmd *cobra.Command, cfgFile, query string) error {
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := newSearcher(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize application services: %w", err)
	}
	defer s.Close()

	start := time.Now()
	summary, err := s.Search(ctx, query)
	fields := []zap.Field{
		zap.String("run_id", summary.RunID),
		zap.Int("rows", summary.Rows),
		zap.Duration("elapsed", time.Since(start)),
	}
	if started, err := uuid.StartedAt(summary.RunID); err == nil {
		fields = append(fields, zap.Time("started_at", started))
	}

	switch {
	case errors.Is(err, context.Canceled) && !errors.Is(err, app.ErrCloseOutput):
		logger.Warn("search interrupted; rows already written are kept", fields...)
	case err != nil:
		logger.Error("search failed", append(fields, zap.Error(err))...)
		return fmt.Errorf("search: %w", err)
	default:
		logger.Info("search complete", fields...)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d rows\n", summary.Rows)
	return nil
}
