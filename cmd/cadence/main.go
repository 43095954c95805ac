// Command cadence is the operator CLI for the campaign workflow queue.
//
// Subcommands:
//
//	migrate          — run pending database migrations and exit
//	create-campaign  — insert a campaign row
//	enqueue          — bulk-create jobs for a campaign
//	status           — per-status job counts for a campaign
//	jobs             — list jobs, optionally filtered
//	recover          — run one stall-recovery sweep
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/yourorg/cadence/internal/config"
	"github.com/yourorg/cadence/internal/db"
)

func main() {
	root := &cobra.Command{
		Use:           "cadence",
		Short:         "cadence — campaign workflow queue operations",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.AddCommand(
		migrateCmd(),
		createCampaignCmd(),
		enqueueCmd(),
		statusCmd(),
		jobsCmd(),
		recoverCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// connect loads config and opens the pool; every subcommand starts here.
func connect(ctx context.Context) (*config.Config, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}
	pool, err := db.Connect(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		return nil, nil, fmt.Errorf("connect: %w", err)
	}
	return cfg, pool, nil
}
