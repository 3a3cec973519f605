// Package repositories provides PostgreSQL-backed implementations of the
// domain repository contracts of the BioSeq-Intelligence platform.
package repositories

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/turtacn/BioSeq-Intelligence/internal/domain/sequence"
	"github.com/turtacn/BioSeq-Intelligence/internal/infrastructure/monitoring/logging"
	appErrors "github.com/turtacn/BioSeq-Intelligence/pkg/errors"
	"github.com/turtacn/BioSeq-Intelligence/pkg/types/common"
)

const sequenceColumns = `id, name, label, residues, type, length, checksum,
	       dataset, source_file, embedded_at, created_at, updated_at, version`

// uniqueViolation is the PostgreSQL error code for a unique-constraint breach.
const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return stderrors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// ─────────────────────────────────────────────────────────────────────────────
// SequenceRepository
// ─────────────────────────────────────────────────────────────────────────────

// SequenceRepository is the PostgreSQL implementation of sequence.Repository.
// Every method takes a context for cancellation and uses parameterised
// queries exclusively.
type SequenceRepository struct {
	pool   *pgxpool.Pool
	logger logging.Logger
}

// NewSequenceRepository constructs a ready-to-use SequenceRepository.
func NewSequenceRepository(pool *pgxpool.Pool, log logging.Logger) *SequenceRepository {
	return &SequenceRepository{pool: pool, logger: log}
}

var _ sequence.Repository = (*SequenceRepository)(nil)

// ─────────────────────────────────────────────────────────────────────────────
// Create / CreateBatch
// ─────────────────────────────────────────────────────────────────────────────

// Create persists a new sequence record.  A checksum already present in the
// same dataset surfaces as ErrCodeSequenceAlreadyExists.
func (r *SequenceRepository) Create(ctx context.Context, rec *sequence.Record) error {
	r.logger.Debug("SequenceRepository.Create",
		logging.String("id", string(rec.ID)),
		logging.String("name", rec.Name),
	)

	_, err := r.pool.Exec(ctx, `
		INSERT INTO sequences (
			id, name, label, residues, type, length, checksum,
			dataset, source_file, embedded_at, created_at, updated_at, version
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		rec.ID, rec.Name, rec.Label, rec.Residues, rec.Type, rec.Length, rec.Checksum,
		rec.Dataset, rec.SourceFile, rec.EmbeddedAt, rec.CreatedAt, rec.UpdatedAt, rec.Version,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return appErrors.FromCode(appErrors.ErrCodeSequenceAlreadyExists).
				WithDetailf("dataset %q already holds checksum %s", rec.Dataset, rec.Checksum)
		}
		r.logger.Error("SequenceRepository.Create", logging.Err(err))
		return appErrors.Wrap(err, appErrors.ErrCodeDatabaseError, "failed to insert sequence")
	}
	return nil
}

// CreateBatch inserts many records in a single round-trip using the COPY
// protocol.  A duplicate checksum anywhere in the batch aborts the whole
// copy, so callers deduplicate against the dataset first.
func (r *SequenceRepository) CreateBatch(ctx context.Context, records []*sequence.Record) error {
	r.logger.Debug("SequenceRepository.CreateBatch", logging.Int("count", len(records)))

	if len(records) == 0 {
		return nil
	}

	columns := []string{
		"id", "name", "label", "residues", "type", "length", "checksum",
		"dataset", "source_file", "embedded_at", "created_at", "updated_at", "version",
	}
	rows := make([][]interface{}, 0, len(records))
	for _, rec := range records {
		rows = append(rows, []interface{}{
			rec.ID, rec.Name, rec.Label, rec.Residues, string(rec.Type), rec.Length, rec.Checksum,
			rec.Dataset, rec.SourceFile, rec.EmbeddedAt, rec.CreatedAt, rec.UpdatedAt, rec.Version,
		})
	}

	copied, err := r.pool.CopyFrom(ctx, pgx.Identifier{"sequences"}, columns, pgx.CopyFromRows(rows))
	if err != nil {
		if isUniqueViolation(err) {
			return appErrors.FromCode(appErrors.ErrCodeSequenceAlreadyExists).
				WithDetail("batch contains a checksum already present in its dataset")
		}
		r.logger.Error("SequenceRepository.CreateBatch", logging.Err(err))
		return appErrors.Wrap(err, appErrors.ErrCodeDatabaseError, "failed to batch insert sequences")
	}

	r.logger.Debug("SequenceRepository.CreateBatch: done", logging.Int64("inserted", copied))
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Lookups
// ─────────────────────────────────────────────────────────────────────────────

// GetByID loads one record by primary key.
func (r *SequenceRepository) GetByID(ctx context.Context, id common.ID) (*sequence.Record, error) {
	return r.scanRecord(r.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s FROM sequences WHERE id = $1`, sequenceColumns), id),
		fmt.Sprintf("id=%s", id))
}

// GetByChecksum finds a record by residue checksum.  The same residues may
// appear in several datasets; the oldest row wins.
func (r *SequenceRepository) GetByChecksum(ctx context.Context, checksum string) (*sequence.Record, error) {
	return r.scanRecord(r.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s FROM sequences WHERE checksum = $1
		ORDER BY created_at ASC LIMIT 1`, sequenceColumns), checksum),
		fmt.Sprintf("checksum=%s", checksum))
}

// GetByName finds a record by its name within one dataset.
func (r *SequenceRepository) GetByName(ctx context.Context, dataset, name string) (*sequence.Record, error) {
	return r.scanRecord(r.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s FROM sequences WHERE dataset = $1 AND name = $2
		ORDER BY created_at ASC LIMIT 1`, sequenceColumns), dataset, name),
		fmt.Sprintf("dataset=%s name=%s", dataset, name))
}

// ─────────────────────────────────────────────────────────────────────────────
// Update / Delete
// ─────────────────────────────────────────────────────────────────────────────

// Update persists metadata mutations.  Residues, checksum, type, and length
// are immutable after creation and never written here.  The aggregate bumps
// its own version on every mutation, so the guard accepts any stored version
// older than the one being written; a concurrent writer that already
// persisted an equal or newer version surfaces as CodeConflict.
func (r *SequenceRepository) Update(ctx context.Context, rec *sequence.Record) error {
	r.logger.Debug("SequenceRepository.Update",
		logging.String("id", string(rec.ID)),
		logging.Int("version", rec.Version),
	)

	tag, err := r.pool.Exec(ctx, `
		UPDATE sequences SET
			name=$1, label=$2, dataset=$3, source_file=$4,
			embedded_at=$5, updated_at=$6, version=$7
		WHERE id=$8 AND version < $7`,
		rec.Name, rec.Label, rec.Dataset, rec.SourceFile,
		rec.EmbeddedAt, rec.UpdatedAt, rec.Version,
		rec.ID,
	)
	if err != nil {
		r.logger.Error("SequenceRepository.Update", logging.Err(err))
		return appErrors.Wrap(err, appErrors.ErrCodeDatabaseError, "failed to update sequence")
	}
	if tag.RowsAffected() == 0 {
		return appErrors.New(appErrors.CodeConflict, "sequence version conflict").
			WithDetailf("id=%s version=%d", rec.ID, rec.Version)
	}
	return nil
}

// Delete removes a record permanently.
func (r *SequenceRepository) Delete(ctx context.Context, id common.ID) error {
	r.logger.Debug("SequenceRepository.Delete", logging.String("id", string(id)))

	tag, err := r.pool.Exec(ctx, `DELETE FROM sequences WHERE id = $1`, id)
	if err != nil {
		r.logger.Error("SequenceRepository.Delete", logging.Err(err))
		return appErrors.Wrap(err, appErrors.ErrCodeDatabaseError, "failed to delete sequence")
	}
	if tag.RowsAffected() == 0 {
		return appErrors.FromCode(appErrors.ErrCodeSequenceNotFound).WithDetailf("id=%s", id)
	}
	return nil
}

// DeleteByDataset removes every record of one dataset.  Deleting a dataset
// that has no rows is not an error; the count says what happened.
func (r *SequenceRepository) DeleteByDataset(ctx context.Context, dataset string) (int64, error) {
	r.logger.Debug("SequenceRepository.DeleteByDataset", logging.String("dataset", dataset))

	tag, err := r.pool.Exec(ctx, `DELETE FROM sequences WHERE dataset = $1`, dataset)
	if err != nil {
		r.logger.Error("SequenceRepository.DeleteByDataset", logging.Err(err))
		return 0, appErrors.Wrapf(err, appErrors.ErrCodeDatabaseError, "failed to delete dataset %s", dataset)
	}
	return tag.RowsAffected(), nil
}

// ─────────────────────────────────────────────────────────────────────────────
// List — dynamic filtered query
// ─────────────────────────────────────────────────────────────────────────────

// List returns records matching the filter plus the total match count.
func (r *SequenceRepository) List(ctx context.Context, filter sequence.ListFilter) ([]*sequence.Record, int64, error) {
	var (
		conditions []string
		args       []interface{}
		argIdx     int
	)

	nextArg := func(v interface{}) string {
		argIdx++
		args = append(args, v)
		return fmt.Sprintf("$%d", argIdx)
	}

	if filter.Dataset != "" {
		conditions = append(conditions, fmt.Sprintf("dataset = %s", nextArg(filter.Dataset)))
	}
	if filter.Type != "" {
		conditions = append(conditions, fmt.Sprintf("type = %s", nextArg(string(filter.Type))))
	}
	if filter.Label != "" {
		conditions = append(conditions, fmt.Sprintf("label = %s", nextArg(filter.Label)))
	}
	if filter.NameContains != "" {
		conditions = append(conditions, fmt.Sprintf("name ILIKE '%%' || %s || '%%'", nextArg(filter.NameContains)))
	}
	if filter.EmbeddedOnly {
		conditions = append(conditions, "embedded_at IS NOT NULL")
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int64
	countSQL := fmt.Sprintf("SELECT COUNT(*) FROM sequences %s", whereClause)
	if err := r.pool.QueryRow(ctx, countSQL, args...).Scan(&total); err != nil {
		r.logger.Error("SequenceRepository.List: count", logging.Err(err))
		return nil, 0, appErrors.Wrap(err, appErrors.ErrCodeDatabaseError, "failed to count sequences")
	}

	sortCol := sanitizeSequenceSortColumn(filter.SortBy)
	sortDir := "DESC"
	if filter.SortOrder == common.SortAsc {
		sortDir = "ASC"
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	page := filter.Pagination.Page
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * pageSize

	dataSQL := fmt.Sprintf(`
		SELECT %s FROM sequences %s
		ORDER BY %s %s
		LIMIT %s OFFSET %s`,
		sequenceColumns, whereClause, sortCol, sortDir, nextArg(pageSize), nextArg(offset))

	rows, err := r.pool.Query(ctx, dataSQL, args...)
	if err != nil {
		r.logger.Error("SequenceRepository.List: query", logging.Err(err))
		return nil, 0, appErrors.Wrap(err, appErrors.ErrCodeDatabaseError, "failed to list sequences")
	}
	defer rows.Close()

	records, err := r.scanRecords(rows)
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

// sanitizeSequenceSortColumn maps user-supplied sort fields to safe columns.
func sanitizeSequenceSortColumn(col string) string {
	switch col {
	case "name", "label", "length", "dataset", "created_at", "updated_at", "embedded_at":
		return col
	}
	return "created_at"
}

// ListDatasets aggregates per-dataset record statistics.
func (r *SequenceRepository) ListDatasets(ctx context.Context) ([]sequence.DatasetSummary, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT dataset, COUNT(*), COUNT(embedded_at), MAX(updated_at)
		FROM sequences
		GROUP BY dataset
		ORDER BY dataset ASC`)
	if err != nil {
		r.logger.Error("SequenceRepository.ListDatasets", logging.Err(err))
		return nil, appErrors.Wrap(err, appErrors.ErrCodeDatabaseError, "failed to list datasets")
	}
	defer rows.Close()

	var summaries []sequence.DatasetSummary
	for rows.Next() {
		var s sequence.DatasetSummary
		if err := rows.Scan(&s.Dataset, &s.RecordCount, &s.EmbeddedCount, &s.UpdatedAt); err != nil {
			r.logger.Error("SequenceRepository.ListDatasets: scan", logging.Err(err))
			return nil, appErrors.Wrap(err, appErrors.ErrCodeDatabaseError, "failed to scan dataset summary")
		}
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrCodeDatabaseError, "dataset row iteration error")
	}
	return summaries, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// MarkEmbedded
// ─────────────────────────────────────────────────────────────────────────────

// MarkEmbedded stamps many records in one statement after a batch embedding
// run.
func (r *SequenceRepository) MarkEmbedded(ctx context.Context, ids []common.ID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	r.logger.Debug("SequenceRepository.MarkEmbedded", logging.Int("count", len(ids)))

	raw := make([]string, len(ids))
	for i, id := range ids {
		raw[i] = string(id)
	}
	at = at.UTC()

	_, err := r.pool.Exec(ctx, `
		UPDATE sequences
		SET embedded_at = $1, updated_at = $1, version = version + 1
		WHERE id = ANY($2)`, at, raw)
	if err != nil {
		r.logger.Error("SequenceRepository.MarkEmbedded", logging.Err(err))
		return appErrors.Wrap(err, appErrors.ErrCodeDatabaseError, "failed to mark sequences embedded")
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Row scanners
// ─────────────────────────────────────────────────────────────────────────────

func (r *SequenceRepository) scanRecord(row pgx.Row, detail string) (*sequence.Record, error) {
	var rec sequence.Record
	err := row.Scan(
		&rec.ID, &rec.Name, &rec.Label, &rec.Residues, &rec.Type, &rec.Length, &rec.Checksum,
		&rec.Dataset, &rec.SourceFile, &rec.EmbeddedAt, &rec.CreatedAt, &rec.UpdatedAt, &rec.Version,
	)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, appErrors.FromCode(appErrors.ErrCodeSequenceNotFound).WithDetail(detail)
		}
		r.logger.Error("SequenceRepository.scanRecord", logging.Err(err))
		return nil, appErrors.Wrap(err, appErrors.ErrCodeDatabaseError, "failed to scan sequence row")
	}
	return &rec, nil
}

func (r *SequenceRepository) scanRecords(rows pgx.Rows) ([]*sequence.Record, error) {
	var records []*sequence.Record
	for rows.Next() {
		var rec sequence.Record
		err := rows.Scan(
			&rec.ID, &rec.Name, &rec.Label, &rec.Residues, &rec.Type, &rec.Length, &rec.Checksum,
			&rec.Dataset, &rec.SourceFile, &rec.EmbeddedAt, &rec.CreatedAt, &rec.UpdatedAt, &rec.Version,
		)
		if err != nil {
			r.logger.Error("SequenceRepository.scanRecords", logging.Err(err))
			return nil, appErrors.Wrap(err, appErrors.ErrCodeDatabaseError, "failed to scan sequence row")
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrCodeDatabaseError, "sequence row iteration error")
	}
	return records, nil
}
