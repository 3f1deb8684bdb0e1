package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"video_processing_service/internal/streaming/domain"
	errprocess "video_processing_service/pkg/err"
	"video_processing_service/pkg/logger"

	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

// rabbitChannel the subset of *amqp.Channel used here
type rabbitChannel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Qos(prefetchCount, prefetchSize int, global bool) error
	Close() error
}

// RabbitMQOptions consumer side settings
type RabbitMQOptions struct {
	// Concurrency 同時處理的訊息數，也是 prefetch 數量
	Concurrency int
	// RetryBackoff 可重試錯誤在 requeue 前的等待
	RetryBackoff time.Duration
}

type rabbitEventChannel struct {
	ch       rabbitChannel
	queue    string
	opts     RabbitMQOptions
	confirms <-chan amqp.Confirmation

	// publisher confirm 依序回覆，一次只送一則
	publishMu sync.Mutex
}

// NewRabbitMQEventChannel 啟用 publisher confirm 並回傳 EventChannel
func NewRabbitMQEventChannel(ch *amqp.Channel, queue string, opts RabbitMQOptions) (EventChannel, error) {
	if err := ch.Confirm(false); err != nil {
		return nil, errprocess.New(errprocess.ErrTransport, "rabbitmq confirm mode", err)
	}
	confirms := ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	return newRabbitEventChannel(ch, queue, confirms, opts), nil
}

func newRabbitEventChannel(ch rabbitChannel, queue string, confirms <-chan amqp.Confirmation, opts RabbitMQOptions) *rabbitEventChannel {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &rabbitEventChannel{ch: ch, queue: queue, confirms: confirms, opts: opts}
}

func (r *rabbitEventChannel) Publish(ctx context.Context, ev domain.HandoffEvent) error {
	body, err := encodeEvent(ev)
	if err != nil {
		return err
	}

	r.publishMu.Lock()
	defer r.publishMu.Unlock()

	err = r.ch.Publish(
		"",      // default exchange
		r.queue, // routing key
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    ev.RequestID,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		return errprocess.New(errprocess.ErrTransport, fmt.Sprintf("request[%s] publish", ev.RequestID), err)
	}

	select {
	case confirm, ok := <-r.confirms:
		if !ok {
			return errprocess.New(errprocess.ErrTransport, "rabbitmq channel closed before confirm", nil)
		}
		if !confirm.Ack {
			return errprocess.New(errprocess.ErrTransport,
				fmt.Sprintf("request[%s] publish nacked by broker", ev.RequestID), nil)
		}
		return nil
	case <-ctx.Done():
		return errprocess.New(errprocess.ErrTransport, "publish confirm wait", ctx.Err())
	}
}

func (r *rabbitEventChannel) Consume(ctx context.Context, handler EventHandler) error {
	if err := r.ch.Qos(r.opts.Concurrency, 0, false); err != nil {
		return errprocess.New(errprocess.ErrTransport, "rabbitmq qos", err)
	}

	deliveries, err := r.ch.Consume(
		r.queue, // queue
		"",      // consumer tag，留空由系統分配
		false,   // autoAck 為 false，使用手動確認
		false,   // exclusive
		false,   // noLocal
		false,   // noWait
		nil,     // arguments
	)
	if err != nil {
		return errprocess.New(errprocess.ErrTransport, fmt.Sprintf("queue[%s] consume", r.queue), err)
	}

	logger.Log.Info("consumer started",
		zap.String("queue", r.queue),
		zap.Int("concurrency", r.opts.Concurrency),
	)

	var (
		wg     sync.WaitGroup
		closed = make(chan struct{}, r.opts.Concurrency)
	)
	for i := 0; i < r.opts.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case d, ok := <-deliveries:
					if !ok {
						closed <- struct{}{}
						return
					}
					r.handleDelivery(ctx, d, handler)
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	wg.Wait()

	if ctx.Err() != nil {
		logger.Log.Info("consumer stopped", zap.String("queue", r.queue))
		return nil
	}
	select {
	case <-closed:
		return errprocess.New(errprocess.ErrTransport, fmt.Sprintf("queue[%s] delivery channel closed", r.queue), nil)
	default:
		return nil
	}
}

func (r *rabbitEventChannel) handleDelivery(ctx context.Context, d amqp.Delivery, handler EventHandler) {
	ev, err := decodeEvent(d.Body)
	if err != nil {
		// 重送也無法解析，直接丟棄
		logger.Log.Error("drop undecodable delivery",
			zap.Uint64("deliveryTag", d.DeliveryTag),
			zap.ByteString("body", d.Body),
			zap.Error(err),
		)
		r.ack(d)
		return
	}

	err = handler(ctx, ev)
	switch {
	case err == nil:
		r.ack(d)
	case !errprocess.IsRetryable(err):
		logger.Log.Warn("delivery rejected permanently",
			zap.String("requestId", ev.RequestID),
			zap.Error(err),
		)
		r.ack(d)
	default:
		logger.Log.Error("delivery failed, requeue after backoff",
			zap.String("requestId", ev.RequestID),
			zap.Duration("backoff", r.opts.RetryBackoff),
			zap.Error(err),
		)
		sleepCtx(ctx, r.opts.RetryBackoff)
		if nackErr := d.Nack(false, true); nackErr != nil {
			logger.Log.Error("nack failed", zap.String("requestId", ev.RequestID), zap.Error(nackErr))
		}
	}
}

func (r *rabbitEventChannel) ack(d amqp.Delivery) {
	if err := d.Ack(false); err != nil && !errors.Is(err, amqp.ErrClosed) {
		logger.Log.Error("ack failed", zap.Uint64("deliveryTag", d.DeliveryTag), zap.Error(err))
	}
}

func (r *rabbitEventChannel) Close() error {
	return r.ch.Close()
}
