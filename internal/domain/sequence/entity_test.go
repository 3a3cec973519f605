package sequence

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/BioSeq-Intelligence/pkg/errors"
	seqtypes "github.com/turtacn/BioSeq-Intelligence/pkg/types/sequence"
)

func TestNewRecord(t *testing.T) {
	r, err := NewRecord("sp|P69905|HBA_HUMAN", "globin", "MVLSPADKTNVKAAW", seqtypes.TypeProtein, "uniprot-demo")
	require.NoError(t, err)

	assert.NotEmpty(t, r.ID)
	assert.Equal(t, "sp|P69905|HBA_HUMAN", r.Name)
	assert.Equal(t, "globin", r.Label)
	assert.Equal(t, "MVLSPADKTNVKAAW", r.Residues)
	assert.Equal(t, seqtypes.TypeProtein, r.Type)
	assert.Equal(t, 15, r.Length)
	assert.Equal(t, ChecksumOf("MVLSPADKTNVKAAW"), r.Checksum)
	assert.Len(t, r.Checksum, 64)
	assert.Equal(t, "uniprot-demo", r.Dataset)
	assert.Equal(t, 1, r.Version)
	assert.False(t, r.IsEmbedded())

	events := r.Events()
	require.Len(t, events, 1)
	created, ok := events[0].(*RecordCreatedEvent)
	require.True(t, ok)
	assert.Equal(t, r.ID.String(), created.AggregateID())
	assert.Equal(t, r.Checksum, created.Checksum)
}

func TestNewRecordNormalizesResidues(t *testing.T) {
	// Wrapped, lower-case FASTA body with trailing newline.
	r, err := NewRecord("seq1", "", "acgt\nacg t\r\n", seqtypes.TypeDNA, "")
	require.NoError(t, err)
	assert.Equal(t, "ACGTACGT", r.Residues)
	assert.Equal(t, 8, r.Length)
	assert.Equal(t, ChecksumOf("ACGTACGT"), r.Checksum)
}

func TestNewRecordValidation(t *testing.T) {
	tests := []struct {
		name     string
		seqName  string
		residues string
		seqType  seqtypes.SequenceType
		wantCode errors.ErrorCode
	}{
		{
			name:     "empty name",
			seqName:  "   ",
			residues: "ACGT",
			seqType:  seqtypes.TypeDNA,
			wantCode: errors.CodeInvalidParam,
		},
		{
			name:     "unknown type",
			seqName:  "seq1",
			residues: "ACGT",
			seqType:  seqtypes.SequenceType("plasma"),
			wantCode: errors.ErrCodeSequenceTypeInvalid,
		},
		{
			name:     "whitespace-only residues",
			seqName:  "seq1",
			residues: " \n\t ",
			seqType:  seqtypes.TypeDNA,
			wantCode: errors.ErrCodeSequenceEmpty,
		},
		{
			name:     "symbols outside alphabet",
			seqName:  "seq1",
			residues: "ACGTX",
			seqType:  seqtypes.TypeDNA,
			wantCode: errors.ErrCodeSequenceInvalidSymbols,
		},
		{
			name:     "uracil in dna",
			seqName:  "seq1",
			residues: "ACGU",
			seqType:  seqtypes.TypeDNA,
			wantCode: errors.ErrCodeSequenceInvalidSymbols,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			r, err := NewRecord(tc.seqName, "", tc.residues, tc.seqType, "d")
			require.Error(t, err)
			assert.Nil(t, r)
			assert.True(t, errors.IsCode(err, tc.wantCode), "got %v", err)
		})
	}
}

func TestNewRecordTruncatesLongNames(t *testing.T) {
	long := strings.Repeat("h", 2000)
	r, err := NewRecord(long, "", "ACGT", seqtypes.TypeDNA, "")
	require.NoError(t, err)
	assert.Len(t, r.Name, maxNameLength)
}

func TestUpdateLabel(t *testing.T) {
	r, err := NewRecord("seq1", "old", "ACGT", seqtypes.TypeDNA, "")
	require.NoError(t, err)
	r.ClearEvents()

	// Same label again is a no-op.
	r.UpdateLabel("old")
	assert.Equal(t, 1, r.Version)
	assert.Empty(t, r.Events())

	r.UpdateLabel("new")
	assert.Equal(t, "new", r.Label)
	assert.Equal(t, 2, r.Version)

	events := r.Events()
	require.Len(t, events, 1)
	changed, ok := events[0].(*RecordLabelChangedEvent)
	require.True(t, ok)
	assert.Equal(t, "old", changed.OldLabel)
	assert.Equal(t, "new", changed.NewLabel)
}

func TestMarkEmbedded(t *testing.T) {
	r, err := NewRecord("seq1", "", "ACGT", seqtypes.TypeDNA, "")
	require.NoError(t, err)
	r.ClearEvents()

	at := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	r.MarkEmbedded("natural_vector", 250, at)

	require.NotNil(t, r.EmbeddedAt)
	assert.Equal(t, at, *r.EmbeddedAt)
	assert.True(t, r.IsEmbedded())
	assert.Equal(t, 2, r.Version)

	events := r.Events()
	require.Len(t, events, 1)
	embedded, ok := events[0].(*RecordEmbeddedEvent)
	require.True(t, ok)
	assert.Equal(t, "natural_vector", embedded.Encoder)
	assert.Equal(t, 250, embedded.Dimension)
}

func TestToDTO(t *testing.T) {
	r, err := NewRecord("seq1", "viral", "MKV", seqtypes.TypeProtein, "demo")
	require.NoError(t, err)

	dto := r.ToDTO()
	assert.Equal(t, r.ID, dto.ID)
	assert.Equal(t, r.Name, dto.Name)
	assert.Equal(t, r.Label, dto.Label)
	assert.Equal(t, r.Residues, dto.Residues)
	assert.Equal(t, r.Length, dto.Length)
	assert.Equal(t, r.Checksum, dto.Checksum)
	assert.Nil(t, dto.EmbeddedAt)
}

func TestNormalizeResidues(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"acgt", "ACGT"},
		{"AC GT", "ACGT"},
		{"ac\ngt\r\n", "ACGT"},
		{"\tMkV\f", "MKV"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, NormalizeResidues(tc.in), "input %q", tc.in)
	}
}

func TestChecksumOfIsStable(t *testing.T) {
	a := ChecksumOf("ACGT")
	b := ChecksumOf("ACGT")
	c := ChecksumOf("ACGA")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}
