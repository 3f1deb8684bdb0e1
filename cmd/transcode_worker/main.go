package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"video_processing_service/internal/streaming/app"
	"video_processing_service/internal/streaming/bootstrap"
	"video_processing_service/internal/streaming/media"
	"video_processing_service/internal/streaming/repository"
	"video_processing_service/pkg/config"
	"video_processing_service/pkg/database"
	"video_processing_service/pkg/health"
	"video_processing_service/pkg/logger"
	"video_processing_service/pkg/metrics"
	testtool "video_processing_service/pkg/test_tool"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const healthService = "transcode_worker"

func main() {
	healthcheck := flag.Bool("healthcheck", false, "probe the local health server and exit")
	flag.Parse()

	cfg := config.LoadConfig[config.Worker](config.EnvConfig.TranscodeWorker, config.EnvConfig.TranscodeWorkerYAMLPath)

	// container HEALTHCHECK 使用，不初始化檔案日誌
	if *healthcheck {
		if err := health.Check(context.Background(), localAddr(cfg.Worker.HealthAddr), healthService, 3*time.Second); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	logger.Log = logger.Initialize(config.EnvConfig.TranscodeWorker, config.EnvConfig.TranscodeWorkerLogPath)
	defer logger.Log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	testtool.StartPprof(cfg.Worker.PprofAddr)

	db, err := database.NewPGConnection(bootstrap.PGConnection(cfg.PostgreSQL))
	if err != nil {
		logger.Log.Fatal(
			"Unable to connect to postgreSQL database after retries",
			zap.String("host", cfg.PostgreSQL.Host),
			zap.Error(err),
		)
	}

	storage, err := bootstrap.OpenStorage(ctx, cfg.Storage)
	if err != nil {
		logger.Log.Fatal("Unable to open object storage", zap.String("driver", cfg.Storage.Driver), zap.Error(err))
	}

	channel, closeChannel, err := bootstrap.OpenEventChannel(cfg.Broker, bootstrap.Subscriber, repository.RabbitMQOptions{
		Concurrency:  cfg.Worker.Concurrency,
		RetryBackoff: cfg.Worker.RetryBackoff,
	})
	if err != nil {
		logger.Log.Fatal("Unable to open event channel", zap.String("driver", cfg.Broker.Driver), zap.Error(err))
	}
	defer closeChannel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	conversion := bootstrap.Conversion(cfg.Conversion)
	transcoder := media.NewTranscoder(conversion, media.ExecRunner{Timeout: conversion.ToolTimeout})
	worker := app.NewProcessingWorker(repository.NewJobStore(db), storage, transcoder, app.WorkerOptions{
		Policy:            bootstrap.Policy(cfg.Worker),
		ScratchDir:        cfg.Worker.ScratchDir,
		UploadParallelism: cfg.Worker.UploadParallelism,
		Metrics:           metrics.NewWorker(reg),
	})

	healthServer := health.NewServer(healthService)
	consumer := app.NewConsumer(channel, worker, healthServer)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return healthServer.ListenAndServe(gctx, cfg.Worker.HealthAddr)
	})
	g.Go(func() error {
		return metrics.Serve(gctx, cfg.Worker.MetricsAddr, reg)
	})
	g.Go(func() error {
		return consumer.Start(gctx)
	})

	logger.Log.Info("transcode worker started",
		zap.String("broker", cfg.Broker.Driver),
		zap.Int("concurrency", cfg.Worker.Concurrency),
	)
	if err := g.Wait(); err != nil {
		logger.Log.Error("transcode worker stopped", zap.Error(err))
		logger.Log.Sync()
		os.Exit(1)
	}
	logger.Log.Info("transcode worker stopped")
}

// localAddr ":50051" 這種只有 port 的位址改成本機
func localAddr(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "127.0.0.1" + addr
	}
	return addr
}
