// Package bootstrap turns service configuration into the storage, broker and
// conversion collaborators shared by the ingest service and the transcode worker.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"video_processing_service/internal/streaming/domain"
	"video_processing_service/internal/streaming/repository"
	"video_processing_service/pkg/config"
	"video_processing_service/pkg/database"
	"video_processing_service/pkg/logger"

	"go.uber.org/zap"
)

// Role which side of the event channel a process uses
type Role int

const (
	// Publisher ingest service, only writes hand-off events
	Publisher Role = iota
	// Subscriber transcode worker, only reads hand-off events
	Subscriber
)

// seconds 設定檔的 retry_interval 以秒為單位
func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// DSN postgres dsn from config
func DSN(cfg config.DatabaseConfig) string {
	return database.PostgresDSN(cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database)
}

// PGConnection connection setting shared by gorm and pgxpool
func PGConnection(cfg config.DatabaseConfig) database.Connection {
	return database.Connection{
		ConnectStr:    DSN(cfg),
		RetryCount:    cfg.RetryCount,
		RetryInterval: seconds(cfg.RetryInterval),
	}
}

// OpenStorage 依 storage.driver 建立 StorageGateway
func OpenStorage(ctx context.Context, cfg config.StorageConfig) (repository.StorageGateway, error) {
	switch cfg.Driver {
	case "s3":
		sc, err := database.NewS3Client(ctx, database.S3Connection{
			Region:          cfg.S3.Region,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			Endpoint:        cfg.S3.Endpoint,
			UsePathStyle:    cfg.S3.UsePathStyle,
			BucketName:      cfg.BucketName,
		})
		if err != nil {
			return nil, err
		}
		return repository.NewS3Gateway(sc, cfg.PresignExpiry, cfg.PublicURL)
	case "minio", "":
		mc, err := database.NewMinIOConnection(database.MinIOConnection{
			Endpoint:      fmt.Sprintf("%s:%d", cfg.MinIO.Host, cfg.MinIO.Port),
			User:          cfg.MinIO.User,
			Password:      cfg.MinIO.Password,
			BucketName:    cfg.BucketName,
			UseSSL:        cfg.MinIO.UseSSL,
			RetryCount:    cfg.MinIO.RetryCount,
			RetryInterval: seconds(cfg.MinIO.RetryInterval),
		})
		if err != nil {
			return nil, err
		}
		return repository.NewMinIOGateway(mc, cfg.PresignExpiry, cfg.PublicURL)
	default:
		return nil, fmt.Errorf("storage driver[%s] unsupported", cfg.Driver)
	}
}

// OpenEventChannel 依 broker.driver 建立 EventChannel，close 釋放底層連線
func OpenEventChannel(cfg config.BrokerConfig, role Role, opts repository.RabbitMQOptions) (repository.EventChannel, func(), error) {
	switch cfg.Driver {
	case "kafka":
		return openKafka(cfg, role, opts.RetryBackoff)
	case "rabbitmq", "":
		return openRabbitMQ(cfg, opts)
	default:
		return nil, nil, fmt.Errorf("broker driver[%s] unsupported", cfg.Driver)
	}
}

func openRabbitMQ(cfg config.BrokerConfig, opts repository.RabbitMQOptions) (repository.EventChannel, func(), error) {
	rc := cfg.RabbitMQ
	conn, err := database.ConnectRabbitMQWithRetry(database.Connection{
		ConnectStr:    database.RabbitMQURL(rc.User, rc.Password, rc.Host, rc.Port),
		RetryCount:    rc.RetryCount,
		RetryInterval: seconds(rc.RetryInterval),
	})
	if err != nil {
		return nil, nil, err
	}

	ch, err := database.GetRabbitMQChannelWithRetry(conn, rc.RetryCount, seconds(rc.RetryInterval))
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	if err := database.DeclareDurableQueue(ch, cfg.Topic); err != nil {
		conn.Close()
		return nil, nil, err
	}

	channel, err := repository.NewRabbitMQEventChannel(ch, cfg.Topic, opts)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	return channel, func() {
		if err := channel.Close(); err != nil {
			logger.Log.Warn("rabbitmq channel close", zap.Error(err))
		}
		if err := conn.Close(); err != nil {
			logger.Log.Warn("rabbitmq connection close", zap.Error(err))
		}
	}, nil
}

func openKafka(cfg config.BrokerConfig, role Role, backoff time.Duration) (repository.EventChannel, func(), error) {
	kc := database.KafkaConnection{
		Brokers:       cfg.Kafka.Brokers,
		Topic:         cfg.Topic,
		GroupID:       cfg.Kafka.GroupID,
		RetryCount:    cfg.Kafka.RetryCount,
		RetryInterval: seconds(cfg.Kafka.RetryInterval),
	}

	var channel repository.EventChannel
	if role == Publisher {
		writer, err := database.NewKafkaWriterWithRetry(kc)
		if err != nil {
			return nil, nil, err
		}
		channel = repository.NewKafkaEventChannel(writer, nil, backoff)
	} else {
		reader, err := database.NewKafkaReaderWithRetry(kc)
		if err != nil {
			return nil, nil, err
		}
		channel = repository.NewKafkaEventChannel(nil, reader, backoff)
	}

	return channel, func() {
		if err := channel.Close(); err != nil {
			logger.Log.Warn("kafka channel close", zap.Error(err))
		}
	}, nil
}

// Conversion 設定檔轉成 transcoder 設定
func Conversion(cfg config.ConversionConfig) domain.ConversionConfig {
	out := domain.ConversionConfig{
		Resolutions:     make([]domain.ResolutionSpec, 0, len(cfg.Resolutions)),
		SegmentDuration: cfg.SegmentDuration,
		AddLetterbox:    cfg.AddLetterbox,
		FFmpegPath:      cfg.FFmpegPath,
		FFprobePath:     cfg.FFprobePath,
		ToolTimeout:     cfg.ToolTimeout,
	}
	for _, r := range cfg.Resolutions {
		out.Resolutions = append(out.Resolutions, domain.ResolutionSpec{
			Width:   r.Width,
			Height:  r.Height,
			Bitrate: r.Bitrate,
		})
	}
	return out
}

// Policy worker retry policy from config
func Policy(cfg config.WorkerConfig) domain.RetryPolicy {
	return domain.RetryPolicy{
		MaxAttempts: cfg.MaxAttempts,
		StaleAfter:  cfg.StaleAfter,
	}
}
