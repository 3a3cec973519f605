package repositories

import (
	"context"
	stderrors "errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/turtacn/BioSeq-Intelligence/internal/domain/job"
	"github.com/turtacn/BioSeq-Intelligence/internal/infrastructure/monitoring/logging"
	appErrors "github.com/turtacn/BioSeq-Intelligence/pkg/errors"
	"github.com/turtacn/BioSeq-Intelligence/pkg/types/common"
	seqtypes "github.com/turtacn/BioSeq-Intelligence/pkg/types/sequence"
)

const jobColumns = `id, dataset, encoder, status, attempts, max_attempts,
	       total, succeeded, failed, error, started_at, completed_at,
	       created_at, updated_at, version`

// ─────────────────────────────────────────────────────────────────────────────
// JobRepository
// ─────────────────────────────────────────────────────────────────────────────

// JobRepository is the PostgreSQL implementation of job.Repository.
type JobRepository struct {
	pool   *pgxpool.Pool
	logger logging.Logger
}

// NewJobRepository constructs a ready-to-use JobRepository.
func NewJobRepository(pool *pgxpool.Pool, log logging.Logger) *JobRepository {
	return &JobRepository{pool: pool, logger: log}
}

var _ job.Repository = (*JobRepository)(nil)

// Create persists a new encoding job.
func (r *JobRepository) Create(ctx context.Context, j *job.Job) error {
	r.logger.Debug("JobRepository.Create",
		logging.String("id", string(j.ID)),
		logging.String("dataset", j.Dataset),
	)

	_, err := r.pool.Exec(ctx, `
		INSERT INTO encoding_jobs (
			id, dataset, encoder, status, attempts, max_attempts,
			total, succeeded, failed, error, started_at, completed_at,
			created_at, updated_at, version
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		j.ID, j.Dataset, j.Encoder, j.Status, j.Attempts, j.MaxAttempts,
		j.Total, j.Succeeded, j.Failed, j.Error, j.StartedAt, j.CompletedAt,
		j.CreatedAt, j.UpdatedAt, j.Version,
	)
	if err != nil {
		r.logger.Error("JobRepository.Create", logging.Err(err))
		return appErrors.Wrap(err, appErrors.ErrCodeDatabaseError, "failed to insert encoding job")
	}
	return nil
}

// GetByID loads one job by primary key.
func (r *JobRepository) GetByID(ctx context.Context, id common.ID) (*job.Job, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+jobColumns+`
		FROM encoding_jobs WHERE id = $1`, id)

	j, err := scanJob(row)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, appErrors.FromCode(appErrors.ErrCodeEncodingJobNotFound).
				WithDetailf("id=%s", id)
		}
		r.logger.Error("JobRepository.GetByID", logging.Err(err))
		return nil, appErrors.Wrap(err, appErrors.ErrCodeDatabaseError, "failed to scan encoding job")
	}
	return j, nil
}

// Update persists a job state transition.  The aggregate bumps its own
// version on every transition, so the guard accepts any older stored
// version; losing a race with another worker surfaces as CodeConflict.
func (r *JobRepository) Update(ctx context.Context, j *job.Job) error {
	r.logger.Debug("JobRepository.Update",
		logging.String("id", string(j.ID)),
		logging.String("status", string(j.Status)),
	)

	tag, err := r.pool.Exec(ctx, `
		UPDATE encoding_jobs SET
			status=$1, attempts=$2, total=$3, succeeded=$4, failed=$5,
			error=$6, started_at=$7, completed_at=$8, updated_at=$9, version=$10
		WHERE id=$11 AND version < $10`,
		j.Status, j.Attempts, j.Total, j.Succeeded, j.Failed,
		j.Error, j.StartedAt, j.CompletedAt, j.UpdatedAt, j.Version,
		j.ID,
	)
	if err != nil {
		r.logger.Error("JobRepository.Update", logging.Err(err))
		return appErrors.Wrap(err, appErrors.ErrCodeDatabaseError, "failed to update encoding job")
	}
	if tag.RowsAffected() == 0 {
		return appErrors.New(appErrors.CodeConflict, "encoding job version conflict").
			WithDetailf("id=%s version=%d", j.ID, j.Version)
	}
	return nil
}

// ListByStatus returns the oldest jobs in the given state, for worker pickup.
func (r *JobRepository) ListByStatus(ctx context.Context, status seqtypes.JobStatus, limit int) ([]*job.Job, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+jobColumns+`
		FROM encoding_jobs
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2`, status, limit)
	if err != nil {
		r.logger.Error("JobRepository.ListByStatus", logging.Err(err))
		return nil, appErrors.Wrap(err, appErrors.ErrCodeDatabaseError, "failed to list encoding jobs")
	}
	defer rows.Close()

	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			r.logger.Error("JobRepository.ListByStatus: scan", logging.Err(err))
			return nil, appErrors.Wrap(err, appErrors.ErrCodeDatabaseError, "failed to scan encoding job")
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrCodeDatabaseError, "encoding job row iteration error")
	}
	return jobs, nil
}

// CountByStatus returns status → count for all jobs.
func (r *JobRepository) CountByStatus(ctx context.Context) (map[seqtypes.JobStatus]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*) FROM encoding_jobs GROUP BY status`)
	if err != nil {
		r.logger.Error("JobRepository.CountByStatus", logging.Err(err))
		return nil, appErrors.Wrap(err, appErrors.ErrCodeDatabaseError, "failed to count encoding jobs")
	}
	defer rows.Close()

	result := make(map[seqtypes.JobStatus]int64)
	for rows.Next() {
		var status seqtypes.JobStatus
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			r.logger.Error("JobRepository.CountByStatus: scan", logging.Err(err))
			return nil, appErrors.Wrap(err, appErrors.ErrCodeDatabaseError, "failed to scan status count")
		}
		result[status] = count
	}
	return result, rows.Err()
}

// scanJob scans one row; callers map pgx.ErrNoRows themselves.
func scanJob(row pgx.Row) (*job.Job, error) {
	var j job.Job
	err := row.Scan(
		&j.ID, &j.Dataset, &j.Encoder, &j.Status, &j.Attempts, &j.MaxAttempts,
		&j.Total, &j.Succeeded, &j.Failed, &j.Error, &j.StartedAt, &j.CompletedAt,
		&j.CreatedAt, &j.UpdatedAt, &j.Version,
	)
	if err != nil {
		return nil, err
	}
	return &j, nil
}
