// Package ingest parses uploaded sequence files into neutral RawSequence
// values.  Two wire formats are supported: FASTA and delimited text (CSV or
// TSV with a header row).  Parsers normalize residues the same way the
// sequence domain does (upper case, no whitespace), so downstream record
// construction never sees formatting artifacts.
//
// Parsers are strict: structurally broken input aborts with an error naming
// the offending record or line.  Per-record validation failures (unknown
// symbols, over-length sequences) are not the parser's concern; the dataset
// service reports those without aborting the batch.
package ingest

import (
	"io"
	"path/filepath"
	"strings"

	"github.com/turtacn/BioSeq-Intelligence/pkg/errors"
)

// maxLineBytes caps a single scanned line.  Unwrapped FASTA bodies put a
// whole chromosome on one line, so the cap is generous.
const maxLineBytes = 512 << 20

// ─────────────────────────────────────────────────────────────────────────────
// Types
// ─────────────────────────────────────────────────────────────────────────────

// RawSequence is one parsed record before domain validation.  Residues are
// already upper-cased and whitespace-free; Name is never empty; Label may be.
type RawSequence struct {
	Name     string
	Label    string
	Residues string
}

// Format identifies a supported input file format.
type Format string

const (
	FormatFASTA Format = "fasta"
	FormatCSV   Format = "csv"
	FormatTSV   Format = "tsv"
)

// ─────────────────────────────────────────────────────────────────────────────
// Format detection and dispatch
// ─────────────────────────────────────────────────────────────────────────────

// DetectFormat maps a file name to its Format by extension, case-insensitively.
// Unrecognized extensions yield ErrCodeIngestFormatUnsupported.
func DetectFormat(filename string) (Format, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".fasta", ".fa", ".faa", ".fna":
		return FormatFASTA, nil
	case ".csv":
		return FormatCSV, nil
	case ".tsv":
		return FormatTSV, nil
	default:
		return "", errors.FromCode(errors.ErrCodeIngestFormatUnsupported).
			WithDetailf("file %q has no recognized extension (.fasta, .fa, .faa, .fna, .csv, .tsv)", filename)
	}
}

// Parse dispatches to the format-specific parser.  DelimitedOptions are only
// consulted for CSV and TSV input, and the delimiter is forced to match the
// format so callers cannot pair a TSV file with a comma.
func Parse(r io.Reader, format Format, opts DelimitedOptions) ([]RawSequence, error) {
	switch format {
	case FormatFASTA:
		return ParseFASTA(r)
	case FormatCSV:
		opts.Comma = ','
		return ParseDelimited(r, opts)
	case FormatTSV:
		opts.Comma = '\t'
		return ParseDelimited(r, opts)
	default:
		return nil, errors.FromCode(errors.ErrCodeIngestFormatUnsupported).
			WithDetailf("format %q", string(format))
	}
}
