package database

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/BradenHooton/sentinel/migrations"
)

func init() {
	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(log.New(io.Discard, "", 0))
	if err := goose.SetDialect("postgres"); err != nil {
		panic(fmt.Sprintf("goose dialect: %v", err))
	}
}

// Migrate applies all pending embedded migrations
func Migrate(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) error {
	// Goose needs a database/sql handle; bridge through the pgx stdlib adapter
	sqlDB := stdlib.OpenDB(*pool.Config().ConnConfig)
	defer sqlDB.Close()

	before, err := goose.GetDBVersionContext(ctx, sqlDB)
	if err != nil {
		return fmt.Errorf("read migration version: %w", err)
	}

	if err := goose.UpContext(ctx, sqlDB, "."); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	after, err := goose.GetDBVersionContext(ctx, sqlDB)
	if err != nil {
		return fmt.Errorf("read migration version: %w", err)
	}

	if logger != nil {
		logger.Info("database migrations applied",
			slog.Int64("from_version", before),
			slog.Int64("to_version", after),
		)
	}
	return nil
}

// MigrateDown rolls back the most recent migration
func MigrateDown(ctx context.Context, pool *pgxpool.Pool) error {
	sqlDB := stdlib.OpenDB(*pool.Config().ConnConfig)
	defer sqlDB.Close()

	if err := goose.DownContext(ctx, sqlDB, "."); err != nil {
		return fmt.Errorf("migration rollback failed: %w", err)
	}
	return nil
}

// MigrationStatus writes the applied/pending state of every migration through
// goose's logger. The caller's writer receives the output.
func MigrationStatus(ctx context.Context, pool *pgxpool.Pool, w io.Writer) error {
	sqlDB := stdlib.OpenDB(*pool.Config().ConnConfig)
	defer sqlDB.Close()

	goose.SetLogger(log.New(w, "", 0))
	defer goose.SetLogger(log.New(io.Discard, "", 0))

	if err := goose.StatusContext(ctx, sqlDB, "."); err != nil {
		return fmt.Errorf("migration status failed: %w", err)
	}
	return nil
}
