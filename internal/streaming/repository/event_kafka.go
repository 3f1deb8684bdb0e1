package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"video_processing_service/internal/streaming/domain"
	errprocess "video_processing_service/pkg/err"
	"video_processing_service/pkg/logger"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type kafkaReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type kafkaEventChannel struct {
	writer  kafkaWriter
	reader  kafkaReader
	backoff time.Duration
}

// NewKafkaEventChannel writer 或 reader 可為 nil（只發送或只消費的一方）
func NewKafkaEventChannel(writer *kafka.Writer, reader *kafka.Reader, retryBackoff time.Duration) EventChannel {
	k := &kafkaEventChannel{backoff: retryBackoff}
	if writer != nil {
		k.writer = writer
	}
	if reader != nil {
		k.reader = reader
	}
	return k
}

func (k *kafkaEventChannel) Publish(ctx context.Context, ev domain.HandoffEvent) error {
	if k.writer == nil {
		return errprocess.New(errprocess.ErrTransport, "kafka writer not configured", nil)
	}
	body, err := encodeEvent(ev)
	if err != nil {
		return err
	}
	if err := k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.RequestID),
		Value: body,
		Time:  time.Now(),
	}); err != nil {
		return errprocess.New(errprocess.ErrTransport, fmt.Sprintf("request[%s] publish", ev.RequestID), err)
	}
	return nil
}

// Consume 依 partition 順序處理，成功或確定不可重試後才 commit offset
func (k *kafkaEventChannel) Consume(ctx context.Context, handler EventHandler) error {
	if k.reader == nil {
		return errprocess.New(errprocess.ErrTransport, "kafka reader not configured", nil)
	}

	for {
		msg, err := k.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errprocess.New(errprocess.ErrTransport, "kafka fetch", err)
		}

		if !k.handleMessage(ctx, msg, handler) {
			// ctx 結束，不 commit，下次由 group 重新投遞
			return nil
		}
		if err := k.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errprocess.New(errprocess.ErrTransport,
				fmt.Sprintf("kafka commit partition[%d] offset[%d]", msg.Partition, msg.Offset), err)
		}
	}
}

// handleMessage 回傳 false 表示 ctx 在處理完成前結束
func (k *kafkaEventChannel) handleMessage(ctx context.Context, msg kafka.Message, handler EventHandler) bool {
	ev, err := decodeEvent(msg.Value)
	if err != nil {
		logger.Log.Error("drop undecodable message",
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Error(err),
		)
		return true
	}

	for attempt := 1; ; attempt++ {
		err := handler(ctx, ev)
		if err == nil {
			return true
		}
		if !errprocess.IsRetryable(err) {
			logger.Log.Warn("message rejected permanently",
				zap.String("requestId", ev.RequestID),
				zap.Error(err),
			)
			return true
		}
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return false
		}
		logger.Log.Error("message failed, retrying after backoff",
			zap.String("requestId", ev.RequestID),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", k.backoff),
			zap.Error(err),
		)
		if !sleepCtx(ctx, k.backoff) {
			return false
		}
	}
}

func (k *kafkaEventChannel) Close() error {
	var errs []error
	if k.writer != nil {
		errs = append(errs, k.writer.Close())
	}
	if k.reader != nil {
		errs = append(errs, k.reader.Close())
	}
	return errors.Join(errs...)
}
