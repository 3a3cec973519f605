package sequence

import (
	"context"
	"time"

	"github.com/turtacn/BioSeq-Intelligence/pkg/types/common"
	seqtypes "github.com/turtacn/BioSeq-Intelligence/pkg/types/sequence"
)

// ListFilter narrows record listings.  Zero values mean "no constraint".
type ListFilter struct {
	Dataset      string
	Type         seqtypes.SequenceType
	Label        string
	NameContains string
	EmbeddedOnly bool
	Pagination   common.Pagination
	SortBy       string
	SortOrder    common.SortOrder
}

// DatasetSummary aggregates per-dataset record statistics.
type DatasetSummary struct {
	Dataset       string    `json:"dataset"`
	RecordCount   int64     `json:"record_count"`
	EmbeddedCount int64     `json:"embedded_count"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Repository defines the persistence contract for sequence records.
// Implementations live under internal/infrastructure/database.
type Repository interface {
	Create(ctx context.Context, r *Record) error
	CreateBatch(ctx context.Context, records []*Record) error
	GetByID(ctx context.Context, id common.ID) (*Record, error)
	GetByChecksum(ctx context.Context, checksum string) (*Record, error)
	GetByName(ctx context.Context, dataset, name string) (*Record, error)
	Update(ctx context.Context, r *Record) error
	Delete(ctx context.Context, id common.ID) error

	List(ctx context.Context, filter ListFilter) ([]*Record, int64, error)
	ListDatasets(ctx context.Context) ([]DatasetSummary, error)

	// DeleteByDataset removes every record of one dataset and reports how
	// many rows went away.
	DeleteByDataset(ctx context.Context, dataset string) (int64, error)

	// MarkEmbedded stamps many records in one statement after a batch
	// embedding run.
	MarkEmbedded(ctx context.Context, ids []common.ID, at time.Time) error
}
