package cli

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"arrangement-grading-service/internal/config"
	pgmigrations "arrangement-grading-service/internal/infra/postgres/migrations"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"
)

// NewMigrateCmd applies database migrations.
func NewMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			setupLogger(cfg)
			return runMigrations(cmd.Context(), cfg.Postgres.URL)
		},
	}
}

// runMigrations brings the arrangements schema up to date.
func runMigrations(ctx context.Context, dsn string) error {
	if dsn == "" {
		return fmt.Errorf("postgres url not configured")
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}

	group, err := migrator.Migrate(ctx)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if group.IsZero() {
		slog.Info("no new migrations")
		return nil
	}
	slog.Info("migrations applied", "group", group.ID, "count", len(group.Migrations))
	return nil
}
