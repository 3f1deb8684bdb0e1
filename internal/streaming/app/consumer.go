package app

import (
	"context"

	"video_processing_service/internal/streaming/repository"
	"video_processing_service/pkg/logger"

	"go.uber.org/zap"
)

// ServingReporter 回報 worker 是否正在消費
type ServingReporter interface {
	SetServing(serving bool)
}

// Consumer 定義一個消息消費者，將所有必要的依賴注入進來
type Consumer struct {
	channel  repository.EventChannel
	worker   *ProcessingWorker
	reporter ServingReporter
}

// NewConsumer 建構 Consumer 實例，reporter 可為 nil
func NewConsumer(channel repository.EventChannel, worker *ProcessingWorker, reporter ServingReporter) *Consumer {
	return &Consumer{
		channel:  channel,
		worker:   worker,
		reporter: reporter,
	}
}

// Start 開始消費訊息，ctx 結束時回傳 nil，連線中斷則回傳錯誤
func (c *Consumer) Start(ctx context.Context) error {
	c.setServing(true)
	defer c.setServing(false)

	logger.Log.Info("Consumer 已啟動，等待轉碼工作訊息...")
	err := c.channel.Consume(ctx, c.worker.Handle)
	if err != nil {
		logger.Log.Error("consumer stopped with error", zap.Error(err))
		return err
	}
	logger.Log.Info("Consumer 收到停止訊號")
	return nil
}

func (c *Consumer) setServing(serving bool) {
	if c.reporter != nil {
		c.reporter.SetServing(serving)
	}
}
