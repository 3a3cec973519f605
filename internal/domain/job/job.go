// Package job implements the encoding-job bounded context: the lifecycle of
// one asynchronous batch embedding run from enqueue through worker pickup to
// completion, failure, retry, or the dead-letter state.
package job

import (
	"context"
	"time"

	"github.com/turtacn/BioSeq-Intelligence/pkg/errors"
	"github.com/turtacn/BioSeq-Intelligence/pkg/types/common"
	seqtypes "github.com/turtacn/BioSeq-Intelligence/pkg/types/sequence"
)

// DefaultMaxAttempts is how many times a failing job may be retried before it
// is moved to the dead-letter state.
const DefaultMaxAttempts = 3

// ─────────────────────────────────────────────────────────────────────────────
// State machine: allowed status transitions
// ─────────────────────────────────────────────────────────────────────────────

// allowedTransitions defines the valid next states reachable from each
// status.  Transitions not listed are illegal and rejected.
//
//	Pending ──► Running ──► Completed
//	   │           │
//	   │           └──► Failed ──► Running   (retry)
//	   │                   │
//	   └──────► Dead ◄─────┘
var allowedTransitions = map[seqtypes.JobStatus][]seqtypes.JobStatus{
	seqtypes.JobPending: {
		seqtypes.JobRunning,
		seqtypes.JobDead,
	},
	seqtypes.JobRunning: {
		seqtypes.JobCompleted,
		seqtypes.JobFailed,
	},
	seqtypes.JobFailed: {
		seqtypes.JobRunning,
		seqtypes.JobDead,
	},
	// Terminal states: no outgoing transitions.
	seqtypes.JobCompleted: {},
	seqtypes.JobDead:      {},
}

// ─────────────────────────────────────────────────────────────────────────────
// Job aggregate root
// ─────────────────────────────────────────────────────────────────────────────

// Job tracks one asynchronous batch embedding run over a dataset.  The worker
// owns status transitions; the API layer only creates and reads jobs.
type Job struct {
	common.BaseEntity

	// Dataset names the record group being embedded.
	Dataset string `json:"dataset"`

	// Encoder identifies the embedding algorithm for the run.
	Encoder seqtypes.EncoderKind `json:"encoder"`

	// Status is the current lifecycle state.
	Status seqtypes.JobStatus `json:"status"`

	// Attempts counts how many times a worker has started this job.
	Attempts int `json:"attempts"`

	// MaxAttempts bounds retries before the job is declared dead.
	MaxAttempts int `json:"max_attempts"`

	// Total, Succeeded, and Failed are record-level counters filled in as
	// the run progresses.
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`

	// Error holds the most recent failure cause.
	Error string `json:"error,omitempty"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// New creates a pending job for the given dataset and encoder.
func New(dataset string, encoder seqtypes.EncoderKind) (*Job, error) {
	if dataset == "" {
		return nil, errors.InvalidParam("job dataset must not be empty")
	}
	if err := encoder.Validate(); err != nil {
		return nil, errors.FromCode(errors.ErrCodeEncoderUnsupported).WithDetail(err.Error())
	}

	now := time.Now().UTC()
	return &Job{
		BaseEntity: common.BaseEntity{
			ID:        common.NewID(),
			CreatedAt: now,
			UpdatedAt: now,
			Version:   1,
		},
		Dataset:     dataset,
		Encoder:     encoder,
		Status:      seqtypes.JobPending,
		MaxAttempts: DefaultMaxAttempts,
	}, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Lifecycle transitions
// ─────────────────────────────────────────────────────────────────────────────

// Start moves the job to running and counts the attempt.
func (j *Job) Start(total int) error {
	if err := j.transition(seqtypes.JobRunning); err != nil {
		return err
	}
	now := time.Now().UTC()
	j.StartedAt = &now
	j.Attempts++
	j.Total = total
	j.Error = ""
	j.touch()
	return nil
}

// Complete moves the job to completed with its final record counters.
func (j *Job) Complete(succeeded, failed int) error {
	if err := j.transition(seqtypes.JobCompleted); err != nil {
		return err
	}
	now := time.Now().UTC()
	j.CompletedAt = &now
	j.Succeeded = succeeded
	j.Failed = failed
	j.touch()
	return nil
}

// Fail moves the job to failed and records the cause.
func (j *Job) Fail(cause string) error {
	if err := j.transition(seqtypes.JobFailed); err != nil {
		return err
	}
	j.Error = cause
	j.touch()
	return nil
}

// Kill moves the job to the dead-letter state, typically after retries are
// exhausted or its queue message was unprocessable.
func (j *Job) Kill(reason string) error {
	if err := j.transition(seqtypes.JobDead); err != nil {
		return err
	}
	now := time.Now().UTC()
	j.CompletedAt = &now
	if reason != "" {
		j.Error = reason
	}
	j.touch()
	return nil
}

// CanRetry reports whether a failed job has attempts left.
func (j *Job) CanRetry() bool {
	return j.Status == seqtypes.JobFailed && j.Attempts < j.MaxAttempts
}

// IsTerminal reports whether the job can never change state again.
func (j *Job) IsTerminal() bool {
	return len(allowedTransitions[j.Status]) == 0
}

func (j *Job) transition(to seqtypes.JobStatus) error {
	for _, next := range allowedTransitions[j.Status] {
		if next == to {
			j.Status = to
			return nil
		}
	}
	return errors.FromCode(errors.ErrCodeEncodingJobInvalid).
		WithDetailf("illegal transition %s -> %s for job %s", j.Status, to, j.ID)
}

func (j *Job) touch() {
	j.UpdatedAt = time.Now().UTC()
	j.Version++
}

// ToDTO converts the aggregate to its wire-level representation.
func (j *Job) ToDTO() *seqtypes.EncodingJobDTO {
	return &seqtypes.EncodingJobDTO{
		ID:          j.ID,
		Dataset:     j.Dataset,
		Encoder:     j.Encoder,
		Status:      j.Status,
		Attempts:    j.Attempts,
		Error:       j.Error,
		CreatedAt:   j.CreatedAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Persistence contract
// ─────────────────────────────────────────────────────────────────────────────

// Repository defines job persistence.  Implementations live under
// internal/infrastructure/database.
type Repository interface {
	Create(ctx context.Context, j *Job) error
	GetByID(ctx context.Context, id common.ID) (*Job, error)
	Update(ctx context.Context, j *Job) error
	ListByStatus(ctx context.Context, status seqtypes.JobStatus, limit int) ([]*Job, error)
	CountByStatus(ctx context.Context) (map[seqtypes.JobStatus]int64, error)
}
