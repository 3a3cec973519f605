package main

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/BioSeq-Intelligence/internal/application/embedding"
	"github.com/turtacn/BioSeq-Intelligence/internal/domain/job"
	"github.com/turtacn/BioSeq-Intelligence/internal/domain/sequence"
	"github.com/turtacn/BioSeq-Intelligence/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/BioSeq-Intelligence/internal/testutil"
	"github.com/turtacn/BioSeq-Intelligence/pkg/errors"
	"github.com/turtacn/BioSeq-Intelligence/pkg/types/common"
	seqtypes "github.com/turtacn/BioSeq-Intelligence/pkg/types/sequence"
)

// ── test doubles ──────────────────────────────────────────────────────────────

type jobRepoStub struct {
	byID    map[common.ID]*job.Job
	updates []*job.Job
}

func newJobRepoStub(jobs ...*job.Job) *jobRepoStub {
	s := &jobRepoStub{byID: make(map[common.ID]*job.Job)}
	for _, j := range jobs {
		s.byID[j.ID] = j
	}
	return s
}

func (s *jobRepoStub) Create(_ context.Context, j *job.Job) error {
	s.byID[j.ID] = j
	return nil
}

func (s *jobRepoStub) GetByID(_ context.Context, id common.ID) (*job.Job, error) {
	j, ok := s.byID[id]
	if !ok {
		return nil, errors.FromCode(errors.ErrCodeEncodingJobNotFound)
	}
	return j, nil
}

func (s *jobRepoStub) Update(_ context.Context, j *job.Job) error {
	s.updates = append(s.updates, j)
	return nil
}

func (s *jobRepoStub) ListByStatus(context.Context, seqtypes.JobStatus, int) ([]*job.Job, error) {
	return nil, nil
}

func (s *jobRepoStub) CountByStatus(context.Context) (map[seqtypes.JobStatus]int64, error) {
	return nil, nil
}

type encoderStub struct {
	result *embedding.DatasetResult
	err    error
	calls  int
}

func (e *encoderStub) Kinds() []seqtypes.EncoderKind { return nil }

func (e *encoderStub) Dimension(seqtypes.EncoderKind) (int, error) { return 0, nil }

func (e *encoderStub) EncodeOne(context.Context, seqtypes.EncoderKind, string) (*embedding.Embedding, error) {
	return nil, nil
}

func (e *encoderStub) EncodeRecord(context.Context, seqtypes.EncoderKind, *sequence.Record) ([]float64, error) {
	return nil, nil
}

func (e *encoderStub) EncodeBatch(context.Context, seqtypes.EncoderKind, []*sequence.Record, int) (*embedding.BatchResult, error) {
	return nil, nil
}

func (e *encoderStub) EmbedDataset(context.Context, seqtypes.EncoderKind, string, int) (*embedding.DatasetResult, error) {
	e.calls++
	return e.result, e.err
}

type publisherStub struct {
	topics   []string
	payloads []interface{}
}

func (p *publisherStub) PublishEvent(_ context.Context, topic, _, _ string, payload interface{}) error {
	p.topics = append(p.topics, topic)
	p.payloads = append(p.payloads, payload)
	return nil
}

func queuedMessage(t *testing.T, j *job.Job) *kafka.Message {
	t.Helper()
	env, err := kafka.NewEventEnvelope(kafka.TopicEmbeddingQueued, "api-server",
		&kafka.EmbeddingQueuedPayload{
			JobID:    string(j.ID),
			Dataset:  j.Dataset,
			Encoder:  string(j.Encoder),
			QueuedAt: time.Now().UTC(),
		})
	require.NoError(t, err)
	value, err := json.Marshal(env)
	require.NoError(t, err)
	return &kafka.Message{Topic: kafka.TopicEmbeddingQueued, Value: value}
}

func newProcessor(jobs *jobRepoStub, enc *encoderStub, pub *publisherStub) (*jobProcessor, *testutil.MockLogger) {
	logger := testutil.NewMockLogger()
	return &jobProcessor{
		jobs:        jobs,
		encoder:     enc,
		producer:    pub,
		logger:      logger,
		concurrency: 2,
	}, logger
}

// ── tests ─────────────────────────────────────────────────────────────────────

func TestJobProcessorCompletesJob(t *testing.T) {
	j, err := job.New("uniprot-demo", seqtypes.EncoderNaturalVector)
	require.NoError(t, err)

	repo := newJobRepoStub(j)
	enc := &encoderStub{result: &embedding.DatasetResult{
		Dataset:   "uniprot-demo",
		Encoder:   string(seqtypes.EncoderNaturalVector),
		Dimension: 250,
		Total:     10,
		Succeeded: 9,
		Failed:    1,
		Elapsed:   42 * time.Millisecond,
	}}
	pub := &publisherStub{}
	proc, _ := newProcessor(repo, enc, pub)

	require.NoError(t, proc.Handle(context.Background(), queuedMessage(t, j)))

	assert.Equal(t, 1, enc.calls)
	assert.Equal(t, seqtypes.JobCompleted, j.Status)
	assert.Equal(t, 10, j.Total)
	assert.Equal(t, 9, j.Succeeded)
	assert.Equal(t, 1, j.Failed)

	require.Equal(t, []string{kafka.TopicEmbeddingDone}, pub.topics)
	done, ok := pub.payloads[0].(*kafka.EmbeddingCompletedPayload)
	require.True(t, ok)
	assert.Equal(t, string(j.ID), done.JobID)
	assert.Equal(t, 250, done.Dimension)
	assert.Equal(t, 9, done.Count)
}

func TestJobProcessorRetriesThenKills(t *testing.T) {
	j, err := job.New("uniprot-demo", seqtypes.EncoderEnergyEntropy)
	require.NoError(t, err)

	repo := newJobRepoStub(j)
	enc := &encoderStub{err: errors.New(errors.ErrCodeServiceUnavailable, "vector store down")}
	pub := &publisherStub{}
	proc, _ := newProcessor(repo, enc, pub)

	msg := queuedMessage(t, j)

	// Attempts below MaxAttempts surface the error so the consumer retries.
	for i := 1; i < job.DefaultMaxAttempts; i++ {
		require.Error(t, proc.Handle(context.Background(), msg))
		assert.Equal(t, seqtypes.JobFailed, j.Status)
		assert.Equal(t, i, j.Attempts)
	}

	// The final attempt exhausts the budget: the job is declared dead and
	// the message acknowledged.
	require.NoError(t, proc.Handle(context.Background(), msg))
	assert.Equal(t, seqtypes.JobDead, j.Status)
	assert.Equal(t, job.DefaultMaxAttempts, enc.calls)

	for _, topic := range pub.topics {
		assert.Equal(t, kafka.TopicEmbeddingFailed, topic)
	}
	assert.Len(t, pub.topics, job.DefaultMaxAttempts)

	// A redelivery after death is acknowledged without re-running anything.
	require.NoError(t, proc.Handle(context.Background(), msg))
	assert.Equal(t, job.DefaultMaxAttempts, enc.calls)
}

func TestJobProcessorSkipsMissingJob(t *testing.T) {
	j, err := job.New("uniprot-demo", seqtypes.EncoderNaturalVector)
	require.NoError(t, err)

	repo := newJobRepoStub() // job row was deleted after enqueue
	enc := &encoderStub{}
	proc, logger := newProcessor(repo, enc, &publisherStub{})

	require.NoError(t, proc.Handle(context.Background(), queuedMessage(t, j)))

	assert.Zero(t, enc.calls)
	assert.True(t, logger.HasMessage("warn", "queued job no longer exists, skipping"))
}

func TestJobProcessorRejectsMalformedMessage(t *testing.T) {
	proc, _ := newProcessor(newJobRepoStub(), &encoderStub{}, &publisherStub{})

	err := proc.Handle(context.Background(), &kafka.Message{
		Topic: kafka.TopicEmbeddingQueued,
		Value: []byte("not json"),
	})
	require.Error(t, err)
}

func TestJobProcessorLeavesJobRunningOnShutdown(t *testing.T) {
	j, err := job.New("uniprot-demo", seqtypes.EncoderNaturalVector)
	require.NoError(t, err)

	repo := newJobRepoStub(j)
	enc := &encoderStub{err: context.Canceled}
	pub := &publisherStub{}
	proc, _ := newProcessor(repo, enc, pub)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.Error(t, proc.Handle(ctx, queuedMessage(t, j)))
	assert.Equal(t, seqtypes.JobRunning, j.Status)
	assert.Empty(t, pub.topics)
}
