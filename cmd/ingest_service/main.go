package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"video_processing_service/internal/streaming/api/handlers"
	"video_processing_service/internal/streaming/api/router"
	"video_processing_service/internal/streaming/app"
	"video_processing_service/internal/streaming/bootstrap"
	"video_processing_service/internal/streaming/domain"
	"video_processing_service/internal/streaming/repository"
	"video_processing_service/pkg/config"
	"video_processing_service/pkg/database"
	"video_processing_service/pkg/logger"
	"video_processing_service/pkg/token"

	"github.com/gofiber/fiber/v2"
	fiber_log "github.com/gofiber/fiber/v2/middleware/logger"
	"go.uber.org/zap"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logger.Log = logger.Initialize(config.EnvConfig.IngestService, config.EnvConfig.IngestServiceLogPath)
	defer logger.Log.Sync()

	cfg := config.LoadConfig[config.Ingest](config.EnvConfig.IngestService, config.EnvConfig.IngestServiceYAMLPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. PostgreSQL：gorm 負責交易寫入，pgxpool 負責目錄查詢
	pgConn := bootstrap.PGConnection(cfg.PostgreSQL)
	if cfg.PostgreSQL.AutoMigrate {
		if err := database.Migrate(ctx, pgConn.ConnectStr); err != nil {
			logger.Log.Fatal("database migrate failed", zap.Error(err))
		}
	}

	db, err := database.NewPGConnection(pgConn)
	if err != nil {
		logger.Log.Fatal(
			"Unable to connect to postgreSQL database after retries",
			zap.String("host", cfg.PostgreSQL.Host),
			zap.Error(err),
		)
	}
	pool, err := database.NewDatabaseConnection(pgConn)
	if err != nil {
		logger.Log.Fatal("Unable to create postgreSQL pool", zap.String("host", cfg.PostgreSQL.Host), zap.Error(err))
	}
	defer pool.Close()

	// 2. 物件儲存
	storage, err := bootstrap.OpenStorage(ctx, cfg.Storage)
	if err != nil {
		logger.Log.Fatal("Unable to open object storage", zap.String("driver", cfg.Storage.Driver), zap.Error(err))
	}

	// 3. hand-off 事件通道，這一端只發送
	channel, closeChannel, err := bootstrap.OpenEventChannel(cfg.Broker, bootstrap.Publisher, repository.RabbitMQOptions{})
	if err != nil {
		logger.Log.Fatal("Unable to open event channel", zap.String("driver", cfg.Broker.Driver), zap.Error(err))
	}
	defer closeChannel()

	store := repository.NewJobStore(db)
	relay := app.NewOutboxRelay(store, channel, cfg.Outbox.PollInterval, cfg.Outbox.BatchSize)

	opts := app.IngestionOptions{Notifier: relay, CacheTTL: cfg.Redis.TTL}
	if cfg.Redis.Enabled {
		opts.Cache = openCache(cfg.Redis)
	}
	usecase := app.NewIngestionUseCase(store, repository.NewCatalogRepo(pool), storage, opts)

	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		relay.Run(ctx)
	}()

	// 4. Fiber
	r := fiber.New()
	file, err := os.OpenFile(fmt.Sprintf("%s/access.log", config.EnvConfig.IngestServiceLogPath), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
	if err != nil {
		log.Fatalf("Failed to open log file: %v", err)
	}
	defer file.Close()

	r.Use(fiber_log.New(fiber_log.Config{
		Output: file,
	}))
	router.RegisterRoutes(r, handlers.NewVideoHandler(usecase), token.NewVerifier(cfg.Auth.JWTSecret))

	go func() {
		<-ctx.Done()
		if err := r.ShutdownWithTimeout(shutdownTimeout); err != nil {
			logger.Log.Error("http shutdown", zap.Error(err))
		}
	}()

	logger.Log.Info("ingest service listening", zap.String("port", cfg.Port))
	if err := r.Listen(":" + cfg.Port); err != nil {
		logger.Log.Error("Server stopped", zap.Error(err))
	}

	stop()
	<-relayDone
	logger.Log.Info("ingest service stopped")
}

func openCache(cfg config.RedisConfig) database.RedisRepository[domain.VideoMetadata] {
	masterName, sentinels := config.GetRedisSetting()
	client, err := database.NewRedisClient(database.RedisConnection{
		Addr:          cfg.Addr,
		MasterName:    masterName,
		SentinelAddrs: sentinels,
		DB:            cfg.RedisDB,
	})
	if err != nil {
		// 快取不是必要元件，連不上就直接讀資料庫
		logger.Log.Warn("redis unavailable, catalog cache disabled", zap.Error(err))
		return nil
	}
	return database.NewRedisRepository[domain.VideoMetadata](client)
}
