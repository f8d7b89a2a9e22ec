package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/BradenHooton/praxis/internal/config"
	"github.com/BradenHooton/praxis/internal/database"
	pkglogger "github.com/BradenHooton/praxis/pkg/logger"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.Context())
		},
	}
}

func runMigrate(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := pkglogger.New(os.Stdout, cfg.Server.LogLevel)

	db, err := database.NewConnection(ctx, &cfg.Database, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		return err
	}
	logger.Info("migrations complete", slog.String("database", cfg.Database.Name))
	return nil
}
