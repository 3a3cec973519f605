package kafka

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/BioSeq-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/BioSeq-Intelligence/pkg/errors"
)

// mockKafkaWriter
type mockKafkaWriter struct {
	writeFunc func(ctx context.Context, msgs ...kafka.Message) error
	closeFunc func() error
}

func (m *mockKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if m.writeFunc != nil {
		return m.writeFunc(ctx, msgs...)
	}
	return nil
}

func (m *mockKafkaWriter) Close() error {
	if m.closeFunc != nil {
		return m.closeFunc()
	}
	return nil
}

func (m *mockKafkaWriter) Stats() kafka.WriterStats { return kafka.WriterStats{} }

func newTestProducerMessage(topic, key, value string) *ProducerMessage {
	return &ProducerMessage{
		Topic: topic,
		Key:   []byte(key),
		Value: []byte(value),
	}
}

func newTestProducer(mockWriter WriterInterface) *Producer {
	return &Producer{
		writer: mockWriter,
		config: ProducerConfig{
			Brokers:         []string{"localhost:9092"},
			MaxMessageBytes: 1024 * 1024,
		},
		logger:  logging.NewNopLogger(),
		metrics: &producerMetrics{},
	}
}

func TestValidateProducerConfig_Valid(t *testing.T) {
	err := ValidateProducerConfig(ProducerConfig{Brokers: []string{"localhost:9092"}})
	assert.NoError(t, err)
}

func TestValidateProducerConfig_EmptyBrokers(t *testing.T) {
	err := ValidateProducerConfig(ProducerConfig{})
	assert.Error(t, err)
}

func TestProducer_Publish(t *testing.T) {
	var captured []kafka.Message
	mock := &mockKafkaWriter{
		writeFunc: func(ctx context.Context, msgs ...kafka.Message) error {
			captured = msgs
			return nil
		},
	}
	p := newTestProducer(mock)

	err := p.Publish(context.Background(), newTestProducerMessage(TopicEmbeddingDone, "job-1", "payload"))

	require.NoError(t, err)
	require.Len(t, captured, 1)
	assert.Equal(t, TopicEmbeddingDone, captured[0].Topic)
	assert.Equal(t, "job-1", string(captured[0].Key))
	assert.Equal(t, "payload", string(captured[0].Value))
	assert.Equal(t, int64(1), p.Stats().MessagesSent)
}

func TestProducer_Publish_UnknownTopicRejected(t *testing.T) {
	called := false
	mock := &mockKafkaWriter{
		writeFunc: func(ctx context.Context, msgs ...kafka.Message) error {
			called = true
			return nil
		},
	}
	p := newTestProducer(mock)

	err := p.Publish(context.Background(), newTestProducerMessage("alignment.finished", "k", "v"))

	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeTopicInvalid))
	assert.False(t, called)
}

func TestProducer_Publish_OversizedMessageRejected(t *testing.T) {
	p := newTestProducer(&mockKafkaWriter{})
	p.config.MaxMessageBytes = 8

	err := p.Publish(context.Background(), newTestProducerMessage(TopicEmbeddingDone, "k", "far too many bytes"))

	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeValidation))
}

func TestProducer_Publish_WriteFailure(t *testing.T) {
	mock := &mockKafkaWriter{
		writeFunc: func(ctx context.Context, msgs ...kafka.Message) error {
			return stderrors.New("broker unreachable")
		},
	}
	p := newTestProducer(mock)

	err := p.Publish(context.Background(), newTestProducerMessage(TopicEmbeddingDone, "k", "v"))

	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeMessagePublishFailed))
	assert.Equal(t, int64(1), p.Stats().MessagesFailed)
}

func TestProducer_Publish_AfterClose(t *testing.T) {
	p := newTestProducer(&mockKafkaWriter{})
	require.NoError(t, p.Close())

	err := p.Publish(context.Background(), newTestProducerMessage(TopicEmbeddingDone, "k", "v"))

	assert.Equal(t, ErrProducerClosed, err)
}

func TestProducer_PublishEvent_WrapsEnvelope(t *testing.T) {
	var captured []kafka.Message
	mock := &mockKafkaWriter{
		writeFunc: func(ctx context.Context, msgs ...kafka.Message) error {
			captured = msgs
			return nil
		},
	}
	p := newTestProducer(mock)

	payload := EmbeddingCompletedPayload{
		JobID:     "job-42",
		Dataset:   "swissprot",
		Encoder:   "natural_vector",
		Dimension: 250,
		Count:     100,
	}
	err := p.PublishEvent(context.Background(), TopicEmbeddingDone, TopicEmbeddingDone, "worker", payload)

	require.NoError(t, err)
	require.Len(t, captured, 1)

	var env EventEnvelope
	require.NoError(t, json.Unmarshal(captured[0].Value, &env))
	assert.Equal(t, TopicEmbeddingDone, env.EventType)
	assert.Equal(t, "worker", env.Source)
	assert.Equal(t, "v1", env.SchemaVersion)
	assert.Equal(t, env.EventID, string(captured[0].Key))

	var decoded EmbeddingCompletedPayload
	require.NoError(t, env.DecodePayload(&decoded))
	assert.Equal(t, payload, decoded)
}

func TestProducer_PublishBatch_PartialFailure(t *testing.T) {
	mock := &mockKafkaWriter{
		writeFunc: func(ctx context.Context, msgs ...kafka.Message) error {
			werrs := make(kafka.WriteErrors, len(msgs))
			werrs[1] = stderrors.New("partition offline")
			return werrs
		},
	}
	p := newTestProducer(mock)

	res, err := p.PublishBatch(context.Background(), []*ProducerMessage{
		newTestProducerMessage(TopicEmbeddingDone, "1", "a"),
		newTestProducerMessage(TopicEmbeddingDone, "2", "b"),
	})

	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 1, res.Errors[0].Index)
	assert.Equal(t, TopicEmbeddingDone, res.Errors[0].Topic)
}

func TestProducer_PublishBatch_TotalFailure(t *testing.T) {
	mock := &mockKafkaWriter{
		writeFunc: func(ctx context.Context, msgs ...kafka.Message) error {
			return stderrors.New("no brokers")
		},
	}
	p := newTestProducer(mock)

	res, err := p.PublishBatch(context.Background(), []*ProducerMessage{
		newTestProducerMessage(TopicEmbeddingDone, "1", "a"),
		newTestProducerMessage(TopicEmbeddingDone, "2", "b"),
	})

	require.NoError(t, err)
	assert.Equal(t, 0, res.Succeeded)
	assert.Equal(t, 2, res.Failed)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, -1, res.Errors[0].Index)
}

func TestProducer_PublishAsync_FailureReachesHandler(t *testing.T) {
	mock := &mockKafkaWriter{
		writeFunc: func(ctx context.Context, msgs ...kafka.Message) error {
			return stderrors.New("write failed")
		},
	}
	p := newTestProducer(mock)

	failed := make(chan error, 1)
	p.config.AsyncErrorHandler = func(err error, msg *ProducerMessage) {
		failed <- err
	}

	p.PublishAsync(context.Background(), newTestProducerMessage(TopicEmbeddingDone, "k", "v"))

	select {
	case err := <-failed:
		assert.True(t, errors.IsCode(err, errors.ErrCodeMessagePublishFailed))
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for async error handler")
	}
}

func TestProducer_StatsOnIdleProducer(t *testing.T) {
	p := newTestProducer(&mockKafkaWriter{})

	stats := p.Stats()

	assert.Zero(t, stats.MessagesSent)
	assert.True(t, stats.LastSentAt.IsZero())
}

func TestProducer_CloseIdempotent(t *testing.T) {
	closes := 0
	mock := &mockKafkaWriter{
		closeFunc: func() error {
			closes++
			return nil
		},
	}
	p := newTestProducer(mock)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.Equal(t, 1, closes)
}
