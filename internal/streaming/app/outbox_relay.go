package app

import (
	"context"
	"encoding/json"
	"time"

	"video_processing_service/internal/streaming/domain"
	"video_processing_service/internal/streaming/repository"
	"video_processing_service/pkg/logger"

	"go.uber.org/zap"
)

// OutboxRelay 把已提交的 hand-off 事件送到 EventChannel
type OutboxRelay struct {
	store     repository.JobStore
	channel   repository.EventChannel
	interval  time.Duration
	batchSize int
	wake      chan struct{}
}

// NewOutboxRelay create OutboxRelay
func NewOutboxRelay(store repository.JobStore, channel repository.EventChannel, interval time.Duration, batchSize int) *OutboxRelay {
	if batchSize < 1 {
		batchSize = 1
	}
	return &OutboxRelay{
		store:     store,
		channel:   channel,
		interval:  interval,
		batchSize: batchSize,
		wake:      make(chan struct{}, 1),
	}
}

// Notify 不阻塞，已有待處理的喚醒時直接略過
func (r *OutboxRelay) Notify() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Run 定期或被喚醒時送出 outbox，ctx 結束才返回
func (r *OutboxRelay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if _, err := r.Flush(ctx); err != nil && ctx.Err() == nil {
			logger.Log.Warn("outbox relay flush failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-r.wake:
		}
	}
}

// Flush 送出所有待處理事件，回傳送出數量
func (r *OutboxRelay) Flush(ctx context.Context) (int, error) {
	total := 0
	for {
		n, err := r.store.RelayOutbox(ctx, r.batchSize, func(ev domain.OutboxEvent) error {
			return r.channel.Publish(ctx, handoffOf(ev))
		})
		total += n
		if err != nil {
			return total, err
		}
		if n < r.batchSize {
			return total, nil
		}
	}
}

func handoffOf(ev domain.OutboxEvent) domain.HandoffEvent {
	var handoff domain.HandoffEvent
	if err := json.Unmarshal(ev.Payload, &handoff); err != nil || handoff.RequestID == "" {
		logger.Log.Warn("outbox payload unreadable, using request id column",
			zap.String("outbox_id", ev.ID),
			zap.Error(err),
		)
		return domain.HandoffEvent{RequestID: ev.RequestID}
	}
	return handoff
}
