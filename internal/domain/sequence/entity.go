// Package sequence implements the biological sequence bounded context of the
// BioSeq-Intelligence platform: the Record aggregate root, its invariants and
// domain events, and the persistence contracts infrastructure adapters must
// satisfy.  Embedding computation lives in the encoding package; everything
// that concerns a sequence's identity, provenance, and lifecycle lives here.
package sequence

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/turtacn/BioSeq-Intelligence/internal/domain/alphabet"
	"github.com/turtacn/BioSeq-Intelligence/pkg/errors"
	"github.com/turtacn/BioSeq-Intelligence/pkg/types/common"
	seqtypes "github.com/turtacn/BioSeq-Intelligence/pkg/types/sequence"
)

// maxNameLength bounds record names; FASTA headers can run to kilobytes and
// are truncated by the ingest layer before reaching the domain.
const maxNameLength = 512

// ─────────────────────────────────────────────────────────────────────────────
// Record aggregate root
// ─────────────────────────────────────────────────────────────────────────────

// Record is the aggregate root for one biological sequence.  It owns the
// residue string, its provenance (dataset, source file), and the embedding
// lifecycle marker.  Mutations go through the exported methods so that audit
// fields and domain events stay consistent.
type Record struct {
	common.BaseEntity

	// Name is the sequence identifier, e.g. the FASTA header accession.
	Name string `json:"name"`

	// Label is an optional class/grouping tag used by downstream
	// clustering, e.g. a family or taxon name.
	Label string `json:"label,omitempty"`

	// Residues is the normalized (upper-case, whitespace-free) symbol
	// string.
	Residues string `json:"residues"`

	// Type names the alphabet the residues are drawn from.
	Type seqtypes.SequenceType `json:"type"`

	// Length is len(Residues), denormalized for query convenience.
	Length int `json:"length"`

	// Checksum is the hex SHA-256 of Residues and deduplicates records
	// across datasets and re-ingests.
	Checksum string `json:"checksum"`

	// Dataset groups records ingested together.
	Dataset string `json:"dataset,omitempty"`

	// SourceFile records where the sequence was loaded from.
	SourceFile string `json:"source_file,omitempty"`

	// EmbeddedAt is set once at least one embedding has been computed and
	// stored for this record.
	EmbeddedAt *time.Time `json:"embedded_at,omitempty"`

	// events collects domain events until the application layer drains
	// them; never persisted directly.
	events []common.DomainEvent
}

// ─────────────────────────────────────────────────────────────────────────────
// Factory
// ─────────────────────────────────────────────────────────────────────────────

// NewRecord creates a Record, enforcing construction invariants: a non-empty
// name, a supported sequence type, and a non-empty residue string whose
// symbols all belong to the type's alphabet.  Residues are normalized to
// upper case with surrounding whitespace removed before validation, so
// lower-case FASTA bodies are accepted.
func NewRecord(name, label, residues string, seqType seqtypes.SequenceType, dataset string) (*Record, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.InvalidParam("sequence name must not be empty")
	}
	if len(name) > maxNameLength {
		name = name[:maxNameLength]
	}
	if err := seqType.Validate(); err != nil {
		return nil, errors.FromCode(errors.ErrCodeSequenceTypeInvalid).WithDetail(err.Error())
	}

	residues = NormalizeResidues(residues)
	if residues == "" {
		return nil, errors.FromCode(errors.ErrCodeSequenceEmpty).
			WithDetailf("record %q has no residues", name)
	}
	table, err := alphabet.ForName(string(seqType))
	if err != nil {
		return nil, err
	}
	if err := table.Validate(residues); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	r := &Record{
		BaseEntity: common.BaseEntity{
			ID:        common.NewID(),
			CreatedAt: now,
			UpdatedAt: now,
			Version:   1,
		},
		Name:     name,
		Label:    strings.TrimSpace(label),
		Residues: residues,
		Type:     seqType,
		Length:   len(residues),
		Checksum: ChecksumOf(residues),
		Dataset:  strings.TrimSpace(dataset),
	}
	r.recordEvent(NewRecordCreatedEvent(r))
	return r, nil
}

// NormalizeResidues upper-cases a raw residue string and strips all
// whitespace, including internal line breaks from wrapped FASTA bodies.
func NormalizeResidues(raw string) string {
	var sb strings.Builder
	sb.Grow(len(raw))
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch c {
		case ' ', '\t', '\r', '\n', '\v', '\f':
			continue
		}
		if 'a' <= c && c <= 'z' {
			c -= 'a' - 'A'
		}
		sb.WriteByte(c)
	}
	return sb.String()
}

// ChecksumOf returns the hex SHA-256 digest of a normalized residue string.
func ChecksumOf(residues string) string {
	sum := sha256.Sum256([]byte(residues))
	return hex.EncodeToString(sum[:])
}

// ─────────────────────────────────────────────────────────────────────────────
// Mutations
// ─────────────────────────────────────────────────────────────────────────────

// UpdateLabel replaces the record's label and records a label-changed event.
// Setting the same label again is a no-op.
func (r *Record) UpdateLabel(label string) {
	label = strings.TrimSpace(label)
	if label == r.Label {
		return
	}
	old := r.Label
	r.Label = label
	r.touch()
	r.recordEvent(NewRecordLabelChangedEvent(r, old))
}

// MarkEmbedded stamps the record as having a stored embedding from the named
// encoder and records the corresponding event.
func (r *Record) MarkEmbedded(encoder string, dimension int, at time.Time) {
	at = at.UTC()
	r.EmbeddedAt = &at
	r.touch()
	r.recordEvent(NewRecordEmbeddedEvent(r, encoder, dimension))
}

// AssignSource attaches ingest provenance to the record.
func (r *Record) AssignSource(sourceFile string) {
	r.SourceFile = strings.TrimSpace(sourceFile)
	r.touch()
}

// touch advances the audit fields on any mutation.
func (r *Record) touch() {
	r.UpdatedAt = time.Now().UTC()
	r.Version++
}

// ─────────────────────────────────────────────────────────────────────────────
// Domain events
// ─────────────────────────────────────────────────────────────────────────────

// Events returns the collected domain events without draining them.
func (r *Record) Events() []common.DomainEvent {
	return r.events
}

// ClearEvents drains the event collector after the application layer has
// published them.
func (r *Record) ClearEvents() {
	r.events = nil
}

func (r *Record) recordEvent(ev common.DomainEvent) {
	r.events = append(r.events, ev)
}

// ─────────────────────────────────────────────────────────────────────────────
// Queries
// ─────────────────────────────────────────────────────────────────────────────

// IsEmbedded reports whether at least one embedding has been stored.
func (r *Record) IsEmbedded() bool {
	return r.EmbeddedAt != nil
}

// ToDTO converts the aggregate to its wire-level representation.
func (r *Record) ToDTO() *seqtypes.SequenceDTO {
	return &seqtypes.SequenceDTO{
		BaseEntity: r.BaseEntity,
		Name:       r.Name,
		Label:      r.Label,
		Residues:   r.Residues,
		Type:       r.Type,
		Length:     r.Length,
		Checksum:   r.Checksum,
		Dataset:    r.Dataset,
		SourceFile: r.SourceFile,
		EmbeddedAt: r.EmbeddedAt,
	}
}
