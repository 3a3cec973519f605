package ingest

import (
	"bufio"
	"io"
	"strings"

	"github.com/turtacn/BioSeq-Intelligence/internal/domain/sequence"
	"github.com/turtacn/BioSeq-Intelligence/pkg/errors"
)

// ParseFASTA reads FASTA records: a `>` header line followed by one or more
// body lines, repeated.  The full header text after `>` becomes the record
// name; wrapped body lines are joined and normalized.  A header without a
// name, a record without residues, or body text before the first header
// aborts the parse.  FASTA carries no labels.
func ParseFASTA(r io.Reader) ([]RawSequence, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var (
		records []RawSequence
		name    string
		body    strings.Builder
		inRec   bool
		lineNo  int
	)

	flush := func() error {
		residues := sequence.NormalizeResidues(body.String())
		if residues == "" {
			return errors.FromCode(errors.ErrCodeIngestMalformed).
				WithDetailf("FASTA record %q has no residues", name)
		}
		records = append(records, RawSequence{Name: name, Residues: residues})
		body.Reset()
		return nil
	}

	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if strings.HasPrefix(line, ">") {
			if inRec {
				if err := flush(); err != nil {
					return nil, err
				}
			}
			name = strings.TrimSpace(line[1:])
			if name == "" {
				return nil, errors.FromCode(errors.ErrCodeIngestMalformed).
					WithDetailf("line %d: FASTA header has no name", lineNo)
			}
			inRec = true
			continue
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if !inRec {
			return nil, errors.FromCode(errors.ErrCodeIngestMalformed).
				WithDetailf("line %d: sequence data before the first FASTA header", lineNo)
		}
		body.WriteString(trimmed)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeIngestMalformed, "reading FASTA input")
	}
	if inRec {
		if err := flush(); err != nil {
			return nil, err
		}
	}
	if len(records) == 0 {
		return nil, errors.FromCode(errors.ErrCodeIngestEmptyFile).
			WithDetail("no FASTA records found")
	}
	return records, nil
}
