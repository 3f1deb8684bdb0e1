package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"video_processing_service/internal/streaming/domain"
	errprocess "video_processing_service/pkg/err"

	"github.com/segmentio/kafka-go"
	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestEventCodec(t *testing.T) {
	t.Run("編碼後可以解碼", func(t *testing.T) {
		body, err := encodeEvent(domain.HandoffEvent{RequestID: "r1"})
		require.NoError(t, err)
		assert.JSONEq(t, `{"requestId":"r1"}`, string(body))

		ev, err := decodeEvent(body)
		require.NoError(t, err)
		assert.Equal(t, "r1", ev.RequestID)
	})

	t.Run("缺少 request id 不送出", func(t *testing.T) {
		_, err := encodeEvent(domain.HandoffEvent{})
		assert.True(t, errors.Is(err, errprocess.ErrValidation))
	})

	t.Run("無法解析的 payload", func(t *testing.T) {
		_, err := decodeEvent([]byte("not-json"))
		assert.True(t, errors.Is(err, ErrMalformedEvent))

		_, err = decodeEvent([]byte(`{"requestId":""}`))
		assert.True(t, errors.Is(err, ErrMalformedEvent))
	})
}

// MockRabbitChannel 是 RabbitMQ channel 的 Mock
type MockRabbitChannel struct {
	mock.Mock
}

func (m *MockRabbitChannel) Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	args := m.Called(exchange, key, mandatory, immediate, msg)
	return args.Error(0)
}

func (m *MockRabbitChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, table amqp.Table) (<-chan amqp.Delivery, error) {
	args := m.Called(queue, consumer, autoAck, exclusive, noLocal, noWait, table)
	return args.Get(0).(<-chan amqp.Delivery), args.Error(1)
}

func (m *MockRabbitChannel) Qos(prefetchCount, prefetchSize int, global bool) error {
	args := m.Called(prefetchCount, prefetchSize, global)
	return args.Error(0)
}

func (m *MockRabbitChannel) Close() error {
	return m.Called().Error(0)
}

// recordingAcker 記錄每個 delivery tag 的處置
type recordingAcker struct {
	mu      sync.Mutex
	acked   []uint64
	requeue []uint64
}

func (a *recordingAcker) Ack(tag uint64, multiple bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acked = append(a.acked, tag)
	return nil
}

func (a *recordingAcker) Nack(tag uint64, multiple, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if requeue {
		a.requeue = append(a.requeue, tag)
	}
	return nil
}

func (a *recordingAcker) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func TestRabbitPublish(t *testing.T) {
	t.Run("broker 確認後成功", func(t *testing.T) {
		ch := new(MockRabbitChannel)
		confirms := make(chan amqp.Confirmation, 1)
		ch.On("Publish", "", "video.ready_for_processing", false, false,
			mock.MatchedBy(func(p amqp.Publishing) bool {
				return p.DeliveryMode == amqp.Persistent && p.MessageId == "r1" && string(p.Body) == `{"requestId":"r1"}`
			})).
			Run(func(mock.Arguments) { confirms <- amqp.Confirmation{DeliveryTag: 1, Ack: true} }).
			Return(nil)

		rc := newRabbitEventChannel(ch, "video.ready_for_processing", confirms, RabbitMQOptions{})
		require.NoError(t, rc.Publish(context.Background(), domain.HandoffEvent{RequestID: "r1"}))
		ch.AssertExpectations(t)
	})

	t.Run("broker nack 視為傳輸錯誤", func(t *testing.T) {
		ch := new(MockRabbitChannel)
		confirms := make(chan amqp.Confirmation, 1)
		ch.On("Publish", "", "q", false, false, mock.Anything).
			Run(func(mock.Arguments) { confirms <- amqp.Confirmation{DeliveryTag: 1, Ack: false} }).
			Return(nil)

		rc := newRabbitEventChannel(ch, "q", confirms, RabbitMQOptions{})
		err := rc.Publish(context.Background(), domain.HandoffEvent{RequestID: "r1"})
		assert.True(t, errors.Is(err, errprocess.ErrTransport))
	})

	t.Run("發送失敗", func(t *testing.T) {
		ch := new(MockRabbitChannel)
		ch.On("Publish", "", "q", false, false, mock.Anything).Return(amqp.ErrClosed)

		rc := newRabbitEventChannel(ch, "q", make(chan amqp.Confirmation), RabbitMQOptions{})
		err := rc.Publish(context.Background(), domain.HandoffEvent{RequestID: "r1"})
		assert.True(t, errors.Is(err, errprocess.ErrTransport))
	})
}

func TestRabbitConsumeDisposition(t *testing.T) {
	acker := &recordingAcker{}
	deliveries := make(chan amqp.Delivery, 4)
	deliveries <- amqp.Delivery{Acknowledger: acker, DeliveryTag: 1, Body: []byte(`{"requestId":"ok"}`)}
	deliveries <- amqp.Delivery{Acknowledger: acker, DeliveryTag: 2, Body: []byte(`garbage`)}
	deliveries <- amqp.Delivery{Acknowledger: acker, DeliveryTag: 3, Body: []byte(`{"requestId":"conflict"}`)}
	deliveries <- amqp.Delivery{Acknowledger: acker, DeliveryTag: 4, Body: []byte(`{"requestId":"flaky"}`)}
	close(deliveries)

	ch := new(MockRabbitChannel)
	ch.On("Qos", 1, 0, false).Return(nil)
	ch.On("Consume", "q", "", false, false, false, false, amqp.Table(nil)).
		Return((<-chan amqp.Delivery)(deliveries), nil)

	var handled []string
	handler := func(_ context.Context, ev domain.HandoffEvent) error {
		handled = append(handled, ev.RequestID)
		switch ev.RequestID {
		case "conflict":
			return errprocess.New(errprocess.ErrConflict, "already finished", nil)
		case "flaky":
			return errprocess.New(errprocess.ErrStorage, "minio down", nil)
		}
		return nil
	}

	rc := newRabbitEventChannel(ch, "q", nil, RabbitMQOptions{Concurrency: 1, RetryBackoff: time.Millisecond})
	err := rc.Consume(context.Background(), handler)

	// channel 被關閉要回報，讓上層重新連線
	assert.True(t, errors.Is(err, errprocess.ErrTransport))
	assert.Equal(t, []string{"ok", "conflict", "flaky"}, handled)
	assert.Equal(t, []uint64{1, 2, 3}, acker.acked)
	assert.Equal(t, []uint64{4}, acker.requeue)
}

func TestRabbitConsumeStopsOnContext(t *testing.T) {
	deliveries := make(chan amqp.Delivery)
	ch := new(MockRabbitChannel)
	ch.On("Qos", 2, 0, false).Return(nil)
	ch.On("Consume", "q", "", false, false, false, false, amqp.Table(nil)).
		Return((<-chan amqp.Delivery)(deliveries), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	rc := newRabbitEventChannel(ch, "q", nil, RabbitMQOptions{Concurrency: 2})
	go func() {
		done <- rc.Consume(ctx, func(context.Context, domain.HandoffEvent) error { return nil })
	}()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
}

type fakeKafkaWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeKafkaWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeKafkaWriter) Close() error { return nil }

type fakeKafkaReader struct {
	queue     []kafka.Message
	committed []int64
}

func (r *fakeKafkaReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.queue) == 0 {
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	msg := r.queue[0]
	r.queue = r.queue[1:]
	return msg, nil
}

func (r *fakeKafkaReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeKafkaReader) Close() error { return nil }

func TestKafkaPublish(t *testing.T) {
	w := &fakeKafkaWriter{}
	k := &kafkaEventChannel{writer: w}
	require.NoError(t, k.Publish(context.Background(), domain.HandoffEvent{RequestID: "r1"}))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "r1", string(w.msgs[0].Key))
	assert.JSONEq(t, `{"requestId":"r1"}`, string(w.msgs[0].Value))

	w.err = errors.New("leader not available")
	err := k.Publish(context.Background(), domain.HandoffEvent{RequestID: "r2"})
	assert.True(t, errors.Is(err, errprocess.ErrTransport))
}

func TestKafkaConsume(t *testing.T) {
	r := &fakeKafkaReader{queue: []kafka.Message{
		{Offset: 10, Value: []byte(`{"requestId":"flaky"}`)},
		{Offset: 11, Value: []byte(`nope`)},
		{Offset: 12, Value: []byte(`{"requestId":"done"}`)},
	}}

	calls := map[string]int{}
	ctx, cancel := context.WithCancel(context.Background())
	handler := func(_ context.Context, ev domain.HandoffEvent) error {
		calls[ev.RequestID]++
		switch ev.RequestID {
		case "flaky":
			if calls["flaky"] < 3 {
				return errprocess.New(errprocess.ErrToolExecution, "ffmpeg crashed", nil)
			}
		case "done":
			cancel()
			return errprocess.New(errprocess.ErrConflict, "finished already", nil)
		}
		return nil
	}

	k := &kafkaEventChannel{reader: r, backoff: time.Millisecond}
	err := k.Consume(ctx, handler)
	require.NoError(t, err)

	assert.Equal(t, 3, calls["flaky"])
	assert.Equal(t, 1, calls["done"])
	// 衝突不可重試，仍然 commit
	assert.Equal(t, []int64{10, 11, 12}, r.committed)
}

func TestKafkaNotConfigured(t *testing.T) {
	k := &kafkaEventChannel{}
	assert.Error(t, k.Publish(context.Background(), domain.HandoffEvent{RequestID: "r1"}))
	assert.Error(t, k.Consume(context.Background(), nil))
}
