// Package kafka carries platform events between the API server, the encoding
// workers, and the downstream indexers.  Every message on the wire is an
// EventEnvelope; payload schemas live next to their topic constants so
// producers and consumers share one definition.
package kafka

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/turtacn/BioSeq-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/BioSeq-Intelligence/pkg/errors"
)

// Topics.  Dead-letter topics receive messages that exhausted their retries.
const (
	TopicDatasetIngested  = "dataset.ingested"
	TopicDatasetDeleted   = "dataset.deleted"
	TopicEmbeddingQueued  = "embedding.queued"
	TopicEmbeddingDone    = "embedding.completed"
	TopicEmbeddingFailed  = "embedding.failed"
	TopicSequenceIndexed  = "sequence.indexed"
	TopicDeadLetter       = "dead_letter.default"
	TopicDeadLetterEmbeds = "dead_letter.embedding"
)

// KnownTopics lists every topic this service produces or consumes.
func KnownTopics() []string {
	return []string{
		TopicDatasetIngested,
		TopicDatasetDeleted,
		TopicEmbeddingQueued,
		TopicEmbeddingDone,
		TopicEmbeddingFailed,
		TopicSequenceIndexed,
		TopicDeadLetter,
		TopicDeadLetterEmbeds,
	}
}

// ValidateTopic rejects topics outside the registry before a producer can
// write to them.
func ValidateTopic(name string) error {
	for _, t := range KnownTopics() {
		if t == name {
			return nil
		}
	}
	return errors.Newf(errors.ErrCodeTopicInvalid, "unknown topic %q", name)
}

// ── Wire types ────────────────────────────────────────────────────────────────

// ProducerMessage is one outbound record.
type ProducerMessage struct {
	Topic     string
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Timestamp time.Time
	Partition int
}

// Message is one inbound record handed to a MessageHandler.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Timestamp time.Time
	Headers   map[string]string
}

// MessageHandler processes one consumed message.  A nil return commits the
// offset; an error triggers the consumer's retry and dead-letter policy.
type MessageHandler func(ctx context.Context, msg *Message) error

// BatchItemError pins a publish failure to its position in the input batch.
type BatchItemError struct {
	Index int
	Topic string
	Err   error
}

// BatchPublishResult summarizes a PublishBatch call.
type BatchPublishResult struct {
	Succeeded int
	Failed    int
	Errors    []BatchItemError
}

// TopicConfig describes a topic to create.
type TopicConfig struct {
	Name              string
	NumPartitions     int
	ReplicationFactor int
	RetentionMs       int64
	CleanupPolicy     string
	MaxMessageBytes   int
	Configs           map[string]string
}

// ── Event envelope ────────────────────────────────────────────────────────────

// EventEnvelope standardizes every message this platform puts on the wire.
type EventEnvelope struct {
	EventID       string            `json:"event_id"`
	EventType     string            `json:"event_type"`
	Source        string            `json:"source"`
	Timestamp     time.Time         `json:"timestamp"`
	SchemaVersion string            `json:"schema_version"`
	TraceID       string            `json:"trace_id,omitempty"`
	Payload       json.RawMessage   `json:"payload"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Payloads.

type DatasetIngestedPayload struct {
	Dataset       string    `json:"dataset"`
	Format        string    `json:"format"`
	SequenceCount int       `json:"sequence_count"`
	FailedCount   int       `json:"failed_count"`
	ObjectKey     string    `json:"object_key,omitempty"`
	IngestedAt    time.Time `json:"ingested_at"`
}

type DatasetDeletedPayload struct {
	Dataset          string    `json:"dataset"`
	RemovedSequences int64     `json:"removed_sequences"`
	DeletedAt        time.Time `json:"deleted_at"`
}

type EmbeddingQueuedPayload struct {
	JobID    string    `json:"job_id"`
	Dataset  string    `json:"dataset"`
	Encoder  string    `json:"encoder"`
	QueuedAt time.Time `json:"queued_at"`
}

type EmbeddingCompletedPayload struct {
	JobID       string    `json:"job_id"`
	SequenceID  string    `json:"sequence_id,omitempty"`
	Dataset     string    `json:"dataset"`
	Encoder     string    `json:"encoder"`
	Dimension   int       `json:"dimension"`
	Count       int       `json:"count"`
	ElapsedMs   int64     `json:"elapsed_ms"`
	CompletedAt time.Time `json:"completed_at"`
}

type EmbeddingFailedPayload struct {
	JobID      string    `json:"job_id"`
	SequenceID string    `json:"sequence_id,omitempty"`
	Dataset    string    `json:"dataset"`
	Encoder    string    `json:"encoder"`
	Reason     string    `json:"reason"`
	FailedAt   time.Time `json:"failed_at"`
}

type SequenceIndexedPayload struct {
	SequenceID string    `json:"sequence_id"`
	Dataset    string    `json:"dataset"`
	Index      string    `json:"index"`
	IndexedAt  time.Time `json:"indexed_at"`
}

// NewEventEnvelope wraps payload in a versioned envelope with a fresh event id.
func NewEventEnvelope(eventType string, source string, payload interface{}) (*EventEnvelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to marshal payload")
	}
	return &EventEnvelope{
		EventID:       uuid.New().String(),
		EventType:     eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		SchemaVersion: "v1",
		Payload:       data,
	}, nil
}

// DecodePayload unmarshals the envelope payload into target.
func (e *EventEnvelope) DecodePayload(target interface{}) error {
	if len(e.Payload) == 0 || string(e.Payload) == "null" {
		return errors.New(errors.ErrCodeMessagePayloadBad, "envelope carries no payload")
	}
	if err := json.Unmarshal(e.Payload, target); err != nil {
		return errors.Wrap(err, errors.ErrCodeMessagePayloadBad, "failed to decode payload")
	}
	return nil
}

// ToMessage renders the envelope as a producer message for topic.
func (e *EventEnvelope) ToMessage(topic string) (*ProducerMessage, error) {
	if err := ValidateTopic(topic); err != nil {
		return nil, err
	}
	val, err := json.Marshal(e)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to marshal envelope")
	}
	headers := map[string]string{
		"event_type":     e.EventType,
		"source_service": e.Source,
		"schema_version": e.SchemaVersion,
	}
	if e.TraceID != "" {
		headers["trace_id"] = e.TraceID
	}
	return &ProducerMessage{
		Topic:     topic,
		Key:       []byte(e.EventID),
		Value:     val,
		Headers:   headers,
		Timestamp: e.Timestamp,
	}, nil
}

// MessageToEventEnvelope parses a consumed message back into an envelope.
func MessageToEventEnvelope(msg *Message) (*EventEnvelope, error) {
	if len(msg.Value) == 0 {
		return nil, errors.New(errors.ErrCodeMessagePayloadBad, "empty message value")
	}
	var env EventEnvelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to unmarshal envelope")
	}
	return &env, nil
}

// ── Topic management ──────────────────────────────────────────────────────────

// ConnInterface abstracts kafka.Conn for testing.
type ConnInterface interface {
	CreateTopics(topics ...kafka.TopicConfig) error
	DeleteTopics(topics ...string) error
	ReadPartitions(topics ...string) ([]kafka.Partition, error)
	Close() error
}

// TopicManager creates and inspects topics through a broker admin connection.
type TopicManager struct {
	conn   ConnInterface
	logger logging.Logger
}

func NewTopicManager(brokers []string, logger logging.Logger) (*TopicManager, error) {
	if len(brokers) == 0 {
		return nil, errors.New(errors.ErrCodeValidation, "brokers required")
	}
	conn, err := kafka.Dial("tcp", brokers[0])
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeServiceUnavailable, "failed to dial kafka broker")
	}
	return &TopicManager{
		conn:   conn,
		logger: logger,
	}, nil
}

func (m *TopicManager) CreateTopic(ctx context.Context, cfg TopicConfig) error {
	if cfg.Name == "" {
		return errors.New(errors.ErrCodeValidation, "topic name required")
	}
	if cfg.NumPartitions <= 0 {
		return errors.New(errors.ErrCodeValidation, "NumPartitions must be > 0")
	}
	if cfg.ReplicationFactor <= 0 {
		return errors.New(errors.ErrCodeValidation, "ReplicationFactor must be > 0")
	}

	kCfg := kafka.TopicConfig{
		Topic:             cfg.Name,
		NumPartitions:     cfg.NumPartitions,
		ReplicationFactor: cfg.ReplicationFactor,
	}
	if cfg.RetentionMs > 0 {
		kCfg.ConfigEntries = append(kCfg.ConfigEntries, kafka.ConfigEntry{ConfigName: "retention.ms", ConfigValue: fmt.Sprintf("%d", cfg.RetentionMs)})
	}
	if cfg.CleanupPolicy != "" {
		kCfg.ConfigEntries = append(kCfg.ConfigEntries, kafka.ConfigEntry{ConfigName: "cleanup.policy", ConfigValue: cfg.CleanupPolicy})
	}
	if cfg.MaxMessageBytes > 0 {
		kCfg.ConfigEntries = append(kCfg.ConfigEntries, kafka.ConfigEntry{ConfigName: "max.message.bytes", ConfigValue: fmt.Sprintf("%d", cfg.MaxMessageBytes)})
	}
	for k, v := range cfg.Configs {
		kCfg.ConfigEntries = append(kCfg.ConfigEntries, kafka.ConfigEntry{ConfigName: k, ConfigValue: v})
	}

	if err := m.conn.CreateTopics(kCfg); err != nil {
		if stderrors.Is(err, kafka.TopicAlreadyExists) {
			return nil
		}
		return errors.Wrapf(err, errors.ErrCodeInternal, "failed to create topic %s", cfg.Name)
	}
	m.logger.Info("Topic created", logging.String("topic", cfg.Name))
	return nil
}

func (m *TopicManager) DeleteTopic(ctx context.Context, name string) error {
	if err := m.conn.DeleteTopics(name); err != nil {
		return errors.Wrapf(err, errors.ErrCodeInternal, "failed to delete topic %s", name)
	}
	m.logger.Warn("Topic deleted", logging.String("topic", name))
	return nil
}

func (m *TopicManager) TopicExists(ctx context.Context, name string) (bool, error) {
	partitions, err := m.conn.ReadPartitions(name)
	if err != nil {
		if stderrors.Is(err, kafka.UnknownTopicOrPartition) {
			return false, nil
		}
		return false, errors.Wrapf(err, errors.ErrCodeInternal, "failed to read partitions for %s", name)
	}
	return len(partitions) > 0, nil
}

func (m *TopicManager) ListTopics(ctx context.Context) ([]string, error) {
	partitions, err := m.conn.ReadPartitions()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list partitions")
	}

	seen := make(map[string]bool)
	var topics []string
	for _, p := range partitions {
		if !seen[p.Topic] {
			seen[p.Topic] = true
			topics = append(topics, p.Topic)
		}
	}
	return topics, nil
}

func (m *TopicManager) EnsureTopics(ctx context.Context, topics []TopicConfig) error {
	for _, topic := range topics {
		if err := m.CreateTopic(ctx, topic); err != nil {
			return err
		}
	}
	return nil
}

// EnsureDefaultTopics creates the platform topic set with the configured
// partition and replication counts.
func (m *TopicManager) EnsureDefaultTopics(ctx context.Context, partitions, replication int) error {
	return m.EnsureTopics(ctx, DefaultTopics(partitions, replication))
}

func (m *TopicManager) Close() error {
	return m.conn.Close()
}

// DefaultTopics parameterizes partition and replication counts so a single
// dev broker works with replication 1.
func DefaultTopics(partitions, replication int) []TopicConfig {
	if partitions <= 0 {
		partitions = 6
	}
	if replication <= 0 {
		replication = 1
	}
	const day = int64(24 * 3600 * 1000)
	return []TopicConfig{
		{Name: TopicDatasetIngested, NumPartitions: partitions, ReplicationFactor: replication, RetentionMs: 7 * day},
		{Name: TopicDatasetDeleted, NumPartitions: partitions, ReplicationFactor: replication, RetentionMs: 30 * day},
		{Name: TopicEmbeddingQueued, NumPartitions: partitions, ReplicationFactor: replication, RetentionMs: 7 * day},
		{Name: TopicEmbeddingDone, NumPartitions: partitions, ReplicationFactor: replication, RetentionMs: 3 * day},
		{Name: TopicEmbeddingFailed, NumPartitions: partitions, ReplicationFactor: replication, RetentionMs: 7 * day},
		{Name: TopicSequenceIndexed, NumPartitions: partitions, ReplicationFactor: replication, RetentionMs: 3 * day},
		{Name: TopicDeadLetter, NumPartitions: 3, ReplicationFactor: replication, RetentionMs: 30 * day},
		{Name: TopicDeadLetterEmbeds, NumPartitions: 3, ReplicationFactor: replication, RetentionMs: 30 * day},
	}
}
