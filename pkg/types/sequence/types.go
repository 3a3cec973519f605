// Package sequence defines all sequence-domain Data Transfer Objects,
// enumerations, and request/response structures used across every layer of the
// BioSeq-Intelligence platform.  No domain logic lives here — only plain data
// types that are safe to import from any layer without creating circular
// dependencies.
package sequence

import (
	"fmt"
	"time"

	"github.com/turtacn/BioSeq-Intelligence/pkg/types/common"
)

// ─────────────────────────────────────────────────────────────────────────────
// SequenceType — classification of the residue alphabet
// ─────────────────────────────────────────────────────────────────────────────

// SequenceType categorises a biological sequence by the alphabet its residues
// are drawn from.
type SequenceType string

const (
	// TypeProtein covers amino-acid sequences over the 20-letter alphabet.
	TypeProtein SequenceType = "protein"

	// TypeDNA covers nucleotide sequences over A, C, G, T.
	TypeDNA SequenceType = "dna"

	// TypeRNA covers nucleotide sequences over A, C, G, U.
	TypeRNA SequenceType = "rna"
)

// Validate reports whether the sequence type is one of the supported values.
func (t SequenceType) Validate() error {
	switch t {
	case TypeProtein, TypeDNA, TypeRNA:
		return nil
	default:
		return fmt.Errorf("unsupported sequence type %q", string(t))
	}
}

// AlphabetSize returns the number of symbols in the type's alphabet, or 0 for
// an unsupported type.
func (t SequenceType) AlphabetSize() int {
	switch t {
	case TypeProtein:
		return 20
	case TypeDNA, TypeRNA:
		return 4
	default:
		return 0
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// EncoderKind — embedding algorithm identifier
// ─────────────────────────────────────────────────────────────────────────────

// EncoderKind identifies which embedding algorithm produced a particular
// feature vector.
type EncoderKind string

const (
	// EncoderNaturalVector is the positional/statistical encoder producing a
	// fixed 250-entry vector over the 20-letter protein alphabet.
	EncoderNaturalVector EncoderKind = "natural_vector"

	// EncoderEnergyEntropy is the information-theoretic encoder producing a
	// configuration-length vector of combinatorially aggregated entropy and
	// mutual-information terms.
	EncoderEnergyEntropy EncoderKind = "energy_entropy"
)

// Validate reports whether the encoder kind is one of the supported values.
func (k EncoderKind) Validate() error {
	switch k {
	case EncoderNaturalVector, EncoderEnergyEntropy:
		return nil
	default:
		return fmt.Errorf("unsupported encoder %q", string(k))
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// JobStatus — lifecycle of an asynchronous encoding job
// ─────────────────────────────────────────────────────────────────────────────

// JobStatus is the lifecycle state of an asynchronous encoding job processed
// by the worker.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	// JobDead marks a job whose message was forwarded to the dead-letter
	// topic after exhausting retries.
	JobDead JobStatus = "dead"
)

// ─────────────────────────────────────────────────────────────────────────────
// SequenceDTO — cross-layer representation of a stored sequence
// ─────────────────────────────────────────────────────────────────────────────

// SequenceDTO is the canonical sequence representation passed between the
// application, interface, and client layers.  It embeds common.BaseEntity so
// that it carries audit metadata without duplicating field definitions.
//
// Residues may be omitted from transport payloads when only metadata is
// needed (e.g., list endpoints); the Length and Checksum fields remain
// sufficient to identify the underlying sequence.
type SequenceDTO struct {
	common.BaseEntity

	// Name is the caller-supplied identifier (FASTA header, CSV name column,
	// or row index).
	Name string `json:"name"`

	// Label is the optional class/category tag used by downstream clustering.
	Label string `json:"label,omitempty"`

	// Residues is the uppercase residue string.
	Residues string `json:"residues,omitempty"`

	// Type names the residue alphabet.
	Type SequenceType `json:"type"`

	// Length is the residue count.
	Length int `json:"length"`

	// Checksum is the hex-encoded SHA-256 of the residue string, used as the
	// cache and deduplication key.
	Checksum string `json:"checksum"`

	// Dataset is the logical group this sequence was ingested into.
	Dataset string `json:"dataset,omitempty"`

	// SourceFile is the original file the sequence was parsed from.
	SourceFile string `json:"source_file,omitempty"`

	// EmbeddedAt is the time the most recent embedding was stored, nil when
	// the sequence has never been encoded.
	EmbeddedAt *time.Time `json:"embedded_at,omitempty"`
}

// ─────────────────────────────────────────────────────────────────────────────
// EmbeddingDTO — one encoded vector
// ─────────────────────────────────────────────────────────────────────────────

// EmbeddingDTO carries one feature vector together with the identity of the
// encoder that produced it.  All vectors produced by the same encoder
// configuration have identical Dimension.
type EmbeddingDTO struct {
	SequenceID common.ID   `json:"sequence_id"`
	Encoder    EncoderKind `json:"encoder"`
	Dimension  int         `json:"dimension"`
	Vector     []float64   `json:"vector"`
	CreatedAt  time.Time   `json:"created_at"`
}

// ─────────────────────────────────────────────────────────────────────────────
// API request / response payloads
// ─────────────────────────────────────────────────────────────────────────────

// EncodeRequest asks for a single raw sequence to be embedded.
type EncodeRequest struct {
	Encoder  EncoderKind `json:"encoder"`
	Residues string      `json:"residues"`
	Name     string      `json:"name,omitempty"`
}

// EncodeResponse returns the embedding for a single sequence.
type EncodeResponse struct {
	Name      string      `json:"name,omitempty"`
	Encoder   EncoderKind `json:"encoder"`
	Dimension int         `json:"dimension"`
	Vector    []float64   `json:"vector"`
	Cached    bool        `json:"cached"`
}

// BatchEncodeItem is one sequence inside a batch request.
type BatchEncodeItem struct {
	Name     string `json:"name"`
	Label    string `json:"label,omitempty"`
	Residues string `json:"residues"`
}

// BatchEncodeRequest asks for a collection of sequences to be embedded with a
// single encoder.  Rows that fail validation are reported individually; the
// batch is never aborted by one bad sequence.
type BatchEncodeRequest struct {
	Encoder     EncoderKind       `json:"encoder"`
	Sequences   []BatchEncodeItem `json:"sequences"`
	Parallelism int               `json:"parallelism,omitempty"`
}

// BatchEncodeResponse returns the embedding matrix for a batch: one row per
// succeeding input sequence, in input order, all rows of identical length.
type BatchEncodeResponse struct {
	Encoder   EncoderKind         `json:"encoder"`
	Dimension int                 `json:"dimension"`
	Names     []string            `json:"names"`
	Labels    []string            `json:"labels"`
	Rows      [][]float64         `json:"rows"`
	Failed    []common.BatchError `json:"failed,omitempty"`
}

// SimilarSequence is one vector-search hit.
type SimilarSequence struct {
	SequenceID common.ID `json:"sequence_id"`
	Name       string    `json:"name"`
	Label      string    `json:"label,omitempty"`
	Score      float64   `json:"score"`
	Rank       int       `json:"rank"`
}

// ─────────────────────────────────────────────────────────────────────────────
// EncodingJobDTO — asynchronous job descriptor
// ─────────────────────────────────────────────────────────────────────────────

// EncodingJobDTO describes one asynchronous encoding job as exchanged between
// the API, the job queue, and the worker.
type EncodingJobDTO struct {
	ID          common.ID   `json:"id"`
	Dataset     string      `json:"dataset"`
	Encoder     EncoderKind `json:"encoder"`
	Status      JobStatus   `json:"status"`
	Attempts    int         `json:"attempts"`
	Error       string      `json:"error,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}
