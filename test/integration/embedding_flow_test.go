//go:build integration

package integration

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/BioSeq-Intelligence/internal/application/dataset"
	"github.com/turtacn/BioSeq-Intelligence/internal/domain/sequence"
	"github.com/turtacn/BioSeq-Intelligence/pkg/types/common"
	seqtypes "github.com/turtacn/BioSeq-Intelligence/pkg/types/sequence"
)

const demoFASTA = `>sp|P69905|HBA_HUMAN hemoglobin alpha
MVLSPADKTNVKAAWGKVGAHAGEYGAEALERMFLSFPTTKTYFPHF
>sp|P68871|HBB_HUMAN hemoglobin beta
MVHLTPEEKSAVTALWGKVNVDEVGGEALGRLLVVYPWTQRFFESFGDLSTPDAVMGNPK
>lcl|broken junk residues
MVLSPADK12345
>sp|P02144|MYG_HUMAN myoglobin
MGLSDGEWQLVLNVWGKVEADIPGHGQEVLIRLFKGHPETLEKFDKFKHLKSEDEMKASEDLKKHGATVLTALGGILKKKGHHEAEIKPLAQSHATKHKIPVKYLEFISECIIQVLQSKHPGDFGADAQGAMNKALELFRKDMASNYKELGFQG
`

// TestIngestEmbedExportFlow walks one dataset through the full pipeline:
// upload parsing, persistence, batch encoding, export, and purge.
func TestIngestEmbedExportFlow(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	res, err := e.Datasets.IngestFile(ctx, dataset.IngestInput{
		Dataset:  "globins",
		Filename: "globins.fasta",
		Reader:   strings.NewReader(demoFASTA),
	})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Total)
	assert.Equal(t, 3, res.Created)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Failures, 1)
	assert.Contains(t, res.Failures[0].Name, "broken")

	// Encode the whole dataset with the positional/statistical encoder.
	dres, err := e.Encoder.EmbedDataset(ctx, seqtypes.EncoderNaturalVector, "globins", 2)
	require.NoError(t, err)

	wantDim, err := e.Encoder.Dimension(seqtypes.EncoderNaturalVector)
	require.NoError(t, err)
	assert.Equal(t, wantDim, dres.Dimension)
	assert.Equal(t, 3, dres.Total)
	assert.Equal(t, 3, dres.Succeeded)
	assert.Zero(t, dres.Failed)

	// Every record is stamped as embedded and the summary reflects it.
	summaries, err := e.Datasets.Datasets(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, "globins", summaries[0].Dataset)
	assert.Equal(t, int64(3), summaries[0].RecordCount)
	assert.Equal(t, int64(3), summaries[0].EmbeddedCount)

	// Re-encode one record: the vector must come back identical, now served
	// from the cache keyed by residue checksum.
	recs, _, err := e.Records.List(ctx, sequence.ListFilter{
		Dataset:    "globins",
		Pagination: common.Pagination{Page: 1, PageSize: 10},
	})
	require.NoError(t, err)
	require.Len(t, recs, 3)

	first, err := e.Encoder.EncodeRecord(ctx, seqtypes.EncoderNaturalVector, recs[0])
	require.NoError(t, err)
	again, err := e.Encoder.EncodeRecord(ctx, seqtypes.EncoderNaturalVector, recs[0])
	require.NoError(t, err)
	assert.Equal(t, first, again)
	assert.Len(t, first, wantDim)

	// Export the matrix as CSV.
	batch, err := e.Encoder.EncodeBatch(ctx, seqtypes.EncoderNaturalVector, recs, 2)
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, e.Datasets.ExportMatrix(ctx, batch.Matrix, &buf))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4) // header + one row per record
	assert.True(t, strings.HasPrefix(lines[0], "name,label,v0,"))

	// Purge removes the records; a second embed run has nothing to do.
	purge, err := e.Datasets.DeleteDataset(ctx, "globins")
	require.NoError(t, err)
	assert.Equal(t, int64(3), purge.RemovedRecords)

	_, err = e.Encoder.EmbedDataset(ctx, seqtypes.EncoderNaturalVector, "globins", 2)
	require.Error(t, err)
}

// TestEnergyEntropyEncoderFlow runs the information-theoretic encoder over
// the same pipeline and checks both encoders agree on record bookkeeping.
func TestEnergyEntropyEncoderFlow(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.Datasets.IngestFile(ctx, dataset.IngestInput{
		Dataset:  "globins",
		Filename: "globins.fasta",
		Reader:   strings.NewReader(demoFASTA),
	})
	require.NoError(t, err)

	dres, err := e.Encoder.EmbedDataset(ctx, seqtypes.EncoderEnergyEntropy, "globins", 2)
	require.NoError(t, err)

	wantDim, err := e.Encoder.Dimension(seqtypes.EncoderEnergyEntropy)
	require.NoError(t, err)
	assert.Equal(t, wantDim, dres.Dimension)
	assert.Equal(t, 3, dres.Succeeded)

	recs, _, err := e.Records.List(ctx, sequence.ListFilter{
		Dataset:    "globins",
		Pagination: common.Pagination{Page: 1, PageSize: 10},
	})
	require.NoError(t, err)
	for _, rec := range recs {
		assert.NotNil(t, rec.EmbeddedAt, "record %s not stamped", rec.Name)
	}
}

// TestEmbedUnknownDatasetFails covers the empty-dataset edge through the
// real repository rather than a mock.
func TestEmbedUnknownDatasetFails(t *testing.T) {
	e := newEnv(t)

	_, err := e.Encoder.EmbedDataset(context.Background(),
		seqtypes.EncoderNaturalVector, "no-such-dataset", 2)
	require.Error(t, err)
}
