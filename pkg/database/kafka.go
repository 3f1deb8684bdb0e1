package database

import (
	"fmt"
	"time"

	"video_processing_service/pkg/logger"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// waitForKafka 連線到任一 broker 並確認 topic 可讀取 partition
func waitForKafka(k KafkaConnection) error {
	var err error
	for attempt := 1; attempt <= max(k.RetryCount, 1); attempt++ {
		err = probeKafka(k)
		if err == nil {
			logger.Log.Info("Kafka reachable", zap.Strings("brokers", k.Brokers), zap.Int("attempt", attempt))
			return nil
		}

		logger.Log.Warn("Kafka not reachable, retrying...",
			zap.Int("attempt", attempt),
			zap.Int("max", k.RetryCount),
			zap.Error(err),
		)
		time.Sleep(k.RetryInterval)
	}
	return fmt.Errorf("無法連線 Kafka，經過 %d 次嘗試 : %w", k.RetryCount, err)
}

func probeKafka(k KafkaConnection) error {
	if len(k.Brokers) == 0 {
		return fmt.Errorf("no kafka brokers configured")
	}
	conn, err := kafka.Dial("tcp", k.Brokers[0])
	if err != nil {
		return err
	}
	defer conn.Close()

	// 預設設定下 broker 會自動建立 topic
	_, err = conn.ReadPartitions(k.Topic)
	return err
}

// NewKafkaWriterWithRetry 確認 broker 可用後建立 Writer
func NewKafkaWriterWithRetry(k KafkaConnection) (*kafka.Writer, error) {
	if err := waitForKafka(k); err != nil {
		return nil, err
	}
	return &kafka.Writer{
		Addr:                   kafka.TCP(k.Brokers...),
		Topic:                  k.Topic,
		Balancer:               &kafka.LeastBytes{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}, nil
}

// NewKafkaReaderWithRetry 確認 broker 可用後建立 consumer group reader
func NewKafkaReaderWithRetry(k KafkaConnection) (*kafka.Reader, error) {
	if err := waitForKafka(k); err != nil {
		return nil, err
	}
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers: k.Brokers,
		Topic:   k.Topic,
		GroupID: k.GroupID,
		// 手動 commit，處理完才前進 offset
		CommitInterval: 0,
		MinBytes:       1,
		MaxBytes:       1 << 20,
	}), nil
}
