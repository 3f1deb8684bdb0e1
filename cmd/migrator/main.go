package main

import (
	"context"
	"flag"
	"os"

	"video_processing_service/internal/streaming/bootstrap"
	"video_processing_service/pkg/config"
	"video_processing_service/pkg/database"
	"video_processing_service/pkg/logger"

	"go.uber.org/zap"
)

// usage: migrator [-service ingest_service] up | down-to -version N | status
func main() {
	service := flag.String("service", config.EnvConfig.IngestService, "config file name to read the pg section from")
	version := flag.Int64("version", 0, "target version for down-to")
	flag.Parse()

	logger.Log = logger.Initialize("migrator", config.EnvConfig.IngestServiceLogPath)
	defer logger.Log.Sync()

	cfg := config.LoadConfig[config.Ingest](*service, config.EnvConfig.IngestServiceYAMLPath)
	dsn := bootstrap.DSN(cfg.PostgreSQL)
	ctx := context.Background()

	command := flag.Arg(0)
	var err error
	switch command {
	case "up", "":
		err = database.Migrate(ctx, dsn)
	case "down-to":
		err = database.MigrateDownTo(ctx, dsn, *version)
	case "status":
		err = database.MigrationStatus(ctx, dsn)
	default:
		logger.Log.Error("unknown command", zap.String("command", command))
		os.Exit(2)
	}
	if err != nil {
		logger.Log.Fatal("migration failed", zap.String("command", command), zap.Error(err))
	}
	logger.Log.Info("migration done", zap.String("command", command))
}
