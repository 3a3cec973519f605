package sequence

import (
	"github.com/turtacn/BioSeq-Intelligence/pkg/types/common"
	seqtypes "github.com/turtacn/BioSeq-Intelligence/pkg/types/sequence"
)

// RecordCreatedEvent fires when a sequence record enters the platform.
type RecordCreatedEvent struct {
	common.BaseEvent
	Name     string                `json:"name"`
	Type     seqtypes.SequenceType `json:"type"`
	Length   int                   `json:"length"`
	Checksum string                `json:"checksum"`
	Dataset  string                `json:"dataset,omitempty"`
}

func NewRecordCreatedEvent(r *Record) *RecordCreatedEvent {
	return &RecordCreatedEvent{
		BaseEvent: common.NewBaseEvent(r.ID.String()),
		Name:      r.Name,
		Type:      r.Type,
		Length:    r.Length,
		Checksum:  r.Checksum,
		Dataset:   r.Dataset,
	}
}

// RecordEmbeddedEvent fires when an embedding for the record has been
// computed and stored.
type RecordEmbeddedEvent struct {
	common.BaseEvent
	Name      string `json:"name"`
	Encoder   string `json:"encoder"`
	Dimension int    `json:"dimension"`
	Version   int    `json:"version"`
}

func NewRecordEmbeddedEvent(r *Record, encoder string, dimension int) *RecordEmbeddedEvent {
	return &RecordEmbeddedEvent{
		BaseEvent: common.NewBaseEvent(r.ID.String()),
		Name:      r.Name,
		Encoder:   encoder,
		Dimension: dimension,
		Version:   r.Version,
	}
}

// RecordLabelChangedEvent fires when a record is relabeled.
type RecordLabelChangedEvent struct {
	common.BaseEvent
	Name     string `json:"name"`
	OldLabel string `json:"old_label,omitempty"`
	NewLabel string `json:"new_label,omitempty"`
	Version  int    `json:"version"`
}

func NewRecordLabelChangedEvent(r *Record, oldLabel string) *RecordLabelChangedEvent {
	return &RecordLabelChangedEvent{
		BaseEvent: common.NewBaseEvent(r.ID.String()),
		Name:      r.Name,
		OldLabel:  oldLabel,
		NewLabel:  r.Label,
		Version:   r.Version,
	}
}
