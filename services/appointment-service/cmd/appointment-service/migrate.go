package main

import (
	"context"
	"fmt"

	"github.com/odontocare/odontocare/libs/config"
	"github.com/odontocare/odontocare/libs/db"
	"github.com/odontocare/odontocare/libs/runtime"
	"github.com/odontocare/odontocare/services/appointment-service/internal/storage/migrations"
	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the appointment database schema",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := runtime.SignalContext()
			defer stop()
			return runMigrations(ctx, cmd)
		},
	})
	return cmd
}

func runMigrations(ctx context.Context, cmd *cobra.Command) error {
	logger := runtime.NewLogger(config.String("SERVICE_NAME", "appointment-service"))
	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		return err
	}
	pool, err := db.Open(ctx, dbURL, db.Options{MaxConns: 2})
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer pool.Close()

	count, err := db.NewMigrator(pool, migrations.FS, ".").Up(ctx)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.Info("migrations applied", "count", count)
	fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s).\n", count)
	return nil
}
