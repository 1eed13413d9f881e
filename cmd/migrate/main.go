// Command migrate applies or rolls back the delivery-control-plane schema
// using the goose-backed runner in internal/database.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/deliveryctl/core/internal/database"
	"github.com/deliveryctl/core/internal/database/postgres"
)

func main() {
	logger := slog.Default()

	root := &cobra.Command{
		Use:   "migrate",
		Short: "Delivery control-plane schema migration tool",
		Long:  "Applies, rolls back, and reports on the control-plane's goose-managed schema.",
	}

	root.AddCommand(upCommand(logger), downCommand(logger), statusCommand(logger))

	if err := root.Execute(); err != nil {
		logger.Error("migration command failed", "error", err)
		os.Exit(1)
	}
}

func connectPool(ctx context.Context, logger *slog.Logger) (*postgres.PostgresPool, error) {
	cfg := postgres.LoadFromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	pool := postgres.NewPostgresPool(cfg, logger)
	if err := pool.Connect(ctx); err != nil {
		return nil, err
	}
	return pool, nil
}

func upCommand(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pool, err := connectPool(ctx, logger)
			if err != nil {
				return err
			}
			defer pool.Close()

			return database.RunMigrations(ctx, pool, logger)
		},
	}
}

func downCommand(logger *slog.Logger) *cobra.Command {
	var steps int

	cmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back the N most recent migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pool, err := connectPool(ctx, logger)
			if err != nil {
				return err
			}
			defer pool.Close()

			return database.RunMigrationsDown(ctx, pool, steps, logger)
		},
	}

	cmd.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")
	return cmd
}

func statusCommand(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pool, err := connectPool(ctx, logger)
			if err != nil {
				return err
			}
			defer pool.Close()

			return database.GetMigrationStatus(ctx, pool, logger)
		},
	}
}
