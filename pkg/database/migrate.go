package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"video_processing_service/pkg/logger"

	_ "github.com/jackc/pgx/v4/stdlib" // registers the "pgx" database/sql driver
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

const migrationDir = "migrations"

func openMigrationDB(dsn string) (*sql.DB, error) {
	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return nil, err
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open migration connection : %w", err)
	}
	return db, nil
}

// Migrate 將資料庫升級到最新版本
func Migrate(ctx context.Context, dsn string) error {
	db, err := openMigrationDB(dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	current, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return fmt.Errorf("read schema version : %w", err)
	}
	logger.Log.Info("schema version", zap.Int64("current", current))

	if err := goose.UpContext(ctx, db, migrationDir); err != nil {
		return fmt.Errorf("migrate up : %w", err)
	}
	return nil
}

// MigrateDownTo 回滾到指定版本
func MigrateDownTo(ctx context.Context, dsn string, version int64) error {
	db, err := openMigrationDB(dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := goose.DownToContext(ctx, db, migrationDir, version); err != nil {
		return fmt.Errorf("migrate down to %d : %w", version, err)
	}
	return nil
}

// MigrationStatus print applied and pending migrations
func MigrationStatus(ctx context.Context, dsn string) error {
	db, err := openMigrationDB(dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	return goose.StatusContext(ctx, db, migrationDir)
}
