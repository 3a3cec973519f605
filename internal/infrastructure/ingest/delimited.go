package ingest

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	"github.com/turtacn/BioSeq-Intelligence/internal/domain/sequence"
	"github.com/turtacn/BioSeq-Intelligence/pkg/errors"
)

// DelimitedOptions selects the columns of interest in a CSV/TSV file.  Column
// names are matched against the header row case-insensitively.
type DelimitedOptions struct {
	// Comma is the field delimiter: ',' for CSV, '\t' for TSV.  Zero
	// defaults to ','.
	Comma rune

	// SequenceColumn names the header column holding residues.  Required.
	SequenceColumn string

	// NameColumn names the header column holding sequence names.  When
	// empty, or when a row's name cell is blank, the 1-based data-row
	// index becomes the name.
	NameColumn string

	// LabelColumn names the header column holding class labels.  When
	// empty, labels stay blank.
	LabelColumn string
}

// ParseDelimited reads a delimited file whose first row is a header.  Rows
// must all have the header's field count; encoding/csv handles quoting and
// CRLF.  An empty sequence cell aborts the parse with the row number.
func ParseDelimited(r io.Reader, opts DelimitedOptions) ([]RawSequence, error) {
	if strings.TrimSpace(opts.SequenceColumn) == "" {
		return nil, errors.FromCode(errors.ErrCodeIngestColumnMissing).
			WithDetail("no sequence column was named")
	}

	cr := csv.NewReader(r)
	cr.Comma = opts.Comma
	if cr.Comma == 0 {
		cr.Comma = ','
	}
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, errors.FromCode(errors.ErrCodeIngestEmptyFile).
			WithDetail("input has no header row")
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeIngestMalformed, "reading header row")
	}
	normalizeHeader(header)

	seqIdx, err := columnIndex(header, opts.SequenceColumn)
	if err != nil {
		return nil, err
	}
	nameIdx := -1
	if opts.NameColumn != "" {
		if nameIdx, err = columnIndex(header, opts.NameColumn); err != nil {
			return nil, err
		}
	}
	labelIdx := -1
	if opts.LabelColumn != "" {
		if labelIdx, err = columnIndex(header, opts.LabelColumn); err != nil {
			return nil, err
		}
	}

	var records []RawSequence
	for rowNo := 1; ; rowNo++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, errors.ErrCodeIngestMalformed, "reading data row %d", rowNo)
		}
		residues := sequence.NormalizeResidues(row[seqIdx])
		if residues == "" {
			return nil, errors.FromCode(errors.ErrCodeIngestMalformed).
				WithDetailf("row %d: empty %q cell", rowNo, opts.SequenceColumn)
		}
		rec := RawSequence{Residues: residues}
		if nameIdx >= 0 {
			rec.Name = strings.TrimSpace(row[nameIdx])
		}
		if rec.Name == "" {
			rec.Name = strconv.Itoa(rowNo)
		}
		if labelIdx >= 0 {
			rec.Label = strings.TrimSpace(row[labelIdx])
		}
		records = append(records, rec)
	}
	if len(records) == 0 {
		return nil, errors.FromCode(errors.ErrCodeIngestEmptyFile).
			WithDetail("no data rows after the header")
	}
	return records, nil
}

// normalizeHeader trims each header cell and strips a UTF-8 BOM from the
// first one, so files exported from spreadsheet tools match by name.
func normalizeHeader(header []string) {
	for i, h := range header {
		header[i] = strings.TrimSpace(h)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\uFEFF")
	}
}

func columnIndex(header []string, name string) (int, error) {
	for i, h := range header {
		if strings.EqualFold(h, name) {
			return i, nil
		}
	}
	return 0, errors.FromCode(errors.ErrCodeIngestColumnMissing).
		WithDetailf("column %q not found in header %v", name, header)
}
