package kafka

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/BioSeq-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/BioSeq-Intelligence/pkg/errors"
)

// mockKafkaReader blocks on fetch until the context ends unless a fetchFunc
// is installed.
type mockKafkaReader struct {
	fetchFunc  func(ctx context.Context) (kafka.Message, error)
	commitFunc func(ctx context.Context, msgs ...kafka.Message) error
	closeFunc  func() error
}

func (m *mockKafkaReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if m.fetchFunc != nil {
		return m.fetchFunc(ctx)
	}
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (m *mockKafkaReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	if m.commitFunc != nil {
		return m.commitFunc(ctx, msgs...)
	}
	return nil
}

func (m *mockKafkaReader) Close() error {
	if m.closeFunc != nil {
		return m.closeFunc()
	}
	return nil
}

func (m *mockKafkaReader) Stats() kafka.ReaderStats { return kafka.ReaderStats{} }

func newTestConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		Brokers: []string{"localhost:9092"},
		GroupID: "bioseq-workers",
		Topics:  []string{TopicEmbeddingQueued},
	}
}

func newTestConsumer(mockReader ReaderInterface) *Consumer {
	return &Consumer{
		reader:   mockReader,
		config:   newTestConsumerConfig(),
		logger:   logging.NewNopLogger(),
		handlers: make(map[string]MessageHandler),
		metrics:  &consumerMetrics{},
	}
}

func TestValidateConsumerConfig_Valid(t *testing.T) {
	assert.NoError(t, ValidateConsumerConfig(newTestConsumerConfig()))
}

func TestValidateConsumerConfig_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ConsumerConfig)
	}{
		{"empty brokers", func(c *ConsumerConfig) { c.Brokers = nil }},
		{"empty group", func(c *ConsumerConfig) { c.GroupID = "" }},
		{"no topics", func(c *ConsumerConfig) { c.Topics = nil }},
		{"bad offset reset", func(c *ConsumerConfig) { c.AutoOffsetReset = "newest" }},
		{"sasl without credentials", func(c *ConsumerConfig) {
			c.SASLEnabled = true
			c.SASLMechanism = "plain"
		}},
		{"negative retries", func(c *ConsumerConfig) { c.Retry.MaxRetries = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := newTestConsumerConfig()
			tt.mutate(&cfg)
			err := ValidateConsumerConfig(cfg)
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, errors.ErrCodeValidation))
		})
	}
}

func TestConsumer_Subscribe(t *testing.T) {
	c := newTestConsumer(&mockKafkaReader{})

	handler := func(ctx context.Context, msg *Message) error { return nil }
	require.NoError(t, c.Subscribe(TopicEmbeddingQueued, handler))
	assert.Len(t, c.handlers, 1)

	c.Unsubscribe(TopicEmbeddingQueued)
	assert.Empty(t, c.handlers)
}

func TestConsumer_Subscribe_UnknownTopic(t *testing.T) {
	c := newTestConsumer(&mockKafkaReader{})

	err := c.Subscribe("genome.assembled", func(ctx context.Context, msg *Message) error { return nil })

	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeTopicInvalid))
	assert.Empty(t, c.handlers)
}

func TestConsumer_Start_AlreadyRunning(t *testing.T) {
	c := newTestConsumer(&mockKafkaReader{})
	c.running.Store(true)

	err := c.Start(context.Background())

	assert.Equal(t, ErrAlreadyRunning, err)
}

func TestConsumer_ConsumeLoop_SingleMessage(t *testing.T) {
	raw := kafka.Message{
		Topic:         TopicEmbeddingQueued,
		Partition:     0,
		Offset:        42,
		HighWaterMark: 45,
		Key:           []byte("job-9"),
		Value:         []byte(`{"dataset":"swissprot"}`),
		Time:          time.Now(),
		Headers:       []kafka.Header{{Key: "trace_id", Value: []byte("t-1")}},
	}

	fetched := false
	committed := make(chan kafka.Message, 1)
	mock := &mockKafkaReader{
		fetchFunc: func(ctx context.Context) (kafka.Message, error) {
			if !fetched {
				fetched = true
				return raw, nil
			}
			<-ctx.Done()
			return kafka.Message{}, ctx.Err()
		},
		commitFunc: func(ctx context.Context, msgs ...kafka.Message) error {
			committed <- msgs[0]
			return nil
		},
	}
	c := newTestConsumer(mock)

	received := make(chan *Message, 1)
	require.NoError(t, c.Subscribe(TopicEmbeddingQueued, func(ctx context.Context, msg *Message) error {
		received <- msg
		return nil
	}))
	require.NoError(t, c.Start(context.Background()))
	defer c.Close()

	select {
	case msg := <-received:
		assert.Equal(t, TopicEmbeddingQueued, msg.Topic)
		assert.Equal(t, int64(42), msg.Offset)
		assert.Equal(t, "job-9", string(msg.Key))
		assert.Equal(t, "t-1", msg.Headers["trace_id"])
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for handler")
	}

	select {
	case m := <-committed:
		assert.Equal(t, int64(42), m.Offset)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for commit")
	}

	require.NoError(t, c.Close())
	stats := c.Stats()
	assert.Equal(t, int64(1), stats.MessagesConsumed)
	assert.Equal(t, int64(1), stats.MessagesProcessed)
	assert.Equal(t, int64(3), stats.Lag)
}

func TestConsumer_ConsumeLoop_NoHandlerCommits(t *testing.T) {
	fetched := false
	committed := make(chan kafka.Message, 1)
	mock := &mockKafkaReader{
		fetchFunc: func(ctx context.Context) (kafka.Message, error) {
			if !fetched {
				fetched = true
				return kafka.Message{Topic: TopicSequenceIndexed, Offset: 7, Value: []byte("x")}, nil
			}
			<-ctx.Done()
			return kafka.Message{}, ctx.Err()
		},
		commitFunc: func(ctx context.Context, msgs ...kafka.Message) error {
			committed <- msgs[0]
			return nil
		},
	}
	c := newTestConsumer(mock)

	require.NoError(t, c.Start(context.Background()))
	defer c.Close()

	// Unhandled topics are committed so the group does not stall on them.
	select {
	case m := <-committed:
		assert.Equal(t, int64(7), m.Offset)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for commit")
	}
	assert.Equal(t, int64(0), c.Stats().MessagesProcessed)
}

func TestConsumer_ProcessMessage_RetryThenSuccess(t *testing.T) {
	c := newTestConsumer(&mockKafkaReader{})
	c.config.Retry = RetryConfig{MaxRetries: 3, RetryBackoff: time.Millisecond}

	attempts := 0
	handler := func(ctx context.Context, msg *Message) error {
		attempts++
		if attempts < 2 {
			return stderrors.New("transient failure")
		}
		return nil
	}

	err := c.processMessage(context.Background(), &Message{Topic: TopicEmbeddingQueued}, handler)

	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	stats := c.Stats()
	assert.Equal(t, int64(1), stats.MessagesRetried)
	assert.Equal(t, int64(1), stats.MessagesProcessed)
	assert.Equal(t, int64(0), stats.MessagesFailed)
}

func TestConsumer_ProcessMessage_ExhaustedForwardsToDeadLetter(t *testing.T) {
	var dlCaptured []kafka.Message
	dlWriter := &mockKafkaWriter{
		writeFunc: func(ctx context.Context, msgs ...kafka.Message) error {
			dlCaptured = append(dlCaptured, msgs...)
			return nil
		},
	}

	c := newTestConsumer(&mockKafkaReader{})
	c.config.Retry = RetryConfig{
		MaxRetries:      2,
		RetryBackoff:    time.Millisecond,
		DeadLetterTopic: TopicDeadLetter,
	}
	c.deadLetterProducer = newTestProducer(dlWriter)

	attempts := 0
	handler := func(ctx context.Context, msg *Message) error {
		attempts++
		return stderrors.New("poison message")
	}

	msg := &Message{
		Topic:   TopicEmbeddingQueued,
		Key:     []byte("job-3"),
		Value:   []byte("bad payload"),
		Headers: map[string]string{"trace_id": "t-9"},
	}
	err := c.processMessage(context.Background(), msg, handler)

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)

	stats := c.Stats()
	assert.Equal(t, int64(2), stats.MessagesRetried)
	assert.Equal(t, int64(1), stats.MessagesFailed)
	assert.Equal(t, int64(1), stats.MessagesDeadLettered)

	require.Len(t, dlCaptured, 1)
	assert.Equal(t, TopicDeadLetter, dlCaptured[0].Topic)
	assert.Equal(t, "job-3", string(dlCaptured[0].Key))
	headers := make(map[string]string, len(dlCaptured[0].Headers))
	for _, h := range dlCaptured[0].Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, TopicEmbeddingQueued, headers["original_topic"])
	assert.Equal(t, "poison message", headers["error_message"])
	assert.Equal(t, "t-9", headers["trace_id"])
}

func TestConsumer_ProcessMessage_ContextCancelled(t *testing.T) {
	c := newTestConsumer(&mockKafkaReader{})
	c.config.Retry = RetryConfig{MaxRetries: 3, RetryBackoff: 10 * time.Second}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	handler := func(ctx context.Context, msg *Message) error {
		return stderrors.New("always failing")
	}

	err := c.processMessage(ctx, &Message{Topic: TopicEmbeddingQueued}, handler)

	assert.ErrorIs(t, err, context.Canceled)
}

func TestConsumer_Close_WithoutStart(t *testing.T) {
	readerClosed := false
	mock := &mockKafkaReader{
		closeFunc: func() error {
			readerClosed = true
			return nil
		},
	}
	c := newTestConsumer(mock)

	require.NoError(t, c.Close())
	assert.True(t, readerClosed)
}
