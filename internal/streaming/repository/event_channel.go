package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"video_processing_service/internal/streaming/domain"
	errprocess "video_processing_service/pkg/err"
)

// EventHandler 處理一則 hand-off 事件
type EventHandler func(ctx context.Context, ev domain.HandoffEvent) error

// EventChannel 至少一次投遞的 hand-off 通道
type EventChannel interface {
	// Publish 回傳 nil 代表 broker 已持久化該事件
	Publish(ctx context.Context, ev domain.HandoffEvent) error
	// Consume 阻塞直到 ctx 結束或連線中斷
	Consume(ctx context.Context, handler EventHandler) error
	Close() error
}

// ErrMalformedEvent payload is not a decodable hand-off event
var ErrMalformedEvent = errors.New("malformed hand-off event")

func encodeEvent(ev domain.HandoffEvent) ([]byte, error) {
	if ev.RequestID == "" {
		return nil, errprocess.New(errprocess.ErrValidation, "hand-off event without request id", nil)
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return nil, errprocess.New(errprocess.ErrValidation, "hand-off event marshal", err)
	}
	return body, nil
}

func decodeEvent(body []byte) (domain.HandoffEvent, error) {
	var ev domain.HandoffEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return ev, fmt.Errorf("%w : %v", ErrMalformedEvent, err)
	}
	if ev.RequestID == "" {
		return ev, fmt.Errorf("%w : empty requestId", ErrMalformedEvent)
	}
	return ev, nil
}

// sleepCtx 等待 d，ctx 先結束則回傳 false
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
