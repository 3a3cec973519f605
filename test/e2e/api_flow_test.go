package e2e_test

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/BioSeq-Intelligence/pkg/client"
)

const fastaUpload = `>sp|P69905|HBA_HUMAN hemoglobin alpha
MVLSPADKTNVKAAWGKVGAHAGEYGAEALERMFLSFPTTKTYFPHF
>sp|P68871|HBB_HUMAN hemoglobin beta
MVHLTPEEKSAVTALWGKVNVDEVGGEALGRLLVVYPWTQRFFESFGDLSTPDAVMGNPK
>sp|P02144|MYG_HUMAN myoglobin
MGLSDGEWQLVLNVWGKVEADIPGHGQEVLIRLFKGHPETLEKFDKFKHLKSEDEMKASEDLKKHGATVLTALGG
`

func TestHealthAndReadiness(t *testing.T) {
	c, _ := newTestServer(t)
	ctx := context.Background()

	health, err := c.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "alive", health.Status)
	assert.Equal(t, "e2e-test", health.Version)

	ready, err := c.Ready(ctx)
	require.NoError(t, err)
	assert.True(t, ready)
}

func TestEncodersAndSingleEncode(t *testing.T) {
	c, _ := newTestServer(t)
	ctx := context.Background()

	encoders, err := c.Embeddings().Encoders(ctx)
	require.NoError(t, err)
	require.Len(t, encoders, 2)

	dims := make(map[string]int, len(encoders))
	for _, e := range encoders {
		dims[e.Kind] = e.Dimension
	}
	require.Contains(t, dims, "natural_vector")
	require.Contains(t, dims, "energy_entropy")
	assert.Equal(t, 250, dims["natural_vector"])

	emb, err := c.Embeddings().Encode(ctx, client.EncodeRequest{
		Encoder:  "natural_vector",
		Sequence: "MVLSPADKTNVKAAWGKVGAHAGEYGAEALERMFLSFPTTKTYFPHF",
	})
	require.NoError(t, err)
	assert.Equal(t, 250, emb.Dimension)
	assert.Len(t, emb.Vector, 250)
	assert.Equal(t, 47, emb.Length)
	assert.NotEmpty(t, emb.Checksum)

	// The first 20 components are residue counts; they must sum to the
	// sequence length.
	var counts float64
	for _, v := range emb.Vector[:20] {
		counts += v
	}
	assert.InDelta(t, 47, counts, 1e-9)
}

func TestEncodeRejectsUnknownEncoder(t *testing.T) {
	c, _ := newTestServer(t)

	_, err := c.Embeddings().Encode(context.Background(), client.EncodeRequest{
		Encoder:  "word2vec",
		Sequence: "MVLSPADK",
	})
	require.Error(t, err)
	apiErr, ok := err.(*client.APIError)
	require.True(t, ok)
	assert.Equal(t, 400, apiErr.StatusCode)
}

func TestDatasetLifecycleThroughSDK(t *testing.T) {
	c, _ := newTestServer(t)
	ctx := context.Background()

	// Upload.
	res, err := c.Datasets().Ingest(ctx, client.IngestRequest{
		Dataset:  "globins",
		Filename: "globins.fasta",
		File:     strings.NewReader(fastaUpload),
	})
	require.NoError(t, err)
	assert.Equal(t, "globins", res.Dataset)
	assert.Equal(t, 3, res.Created)
	assert.Zero(t, res.Failed)

	// Listing reflects the upload.
	summaries, err := c.Datasets().List(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, int64(3), summaries[0].RecordCount)
	assert.Zero(t, summaries[0].EmbeddedCount)

	// Stored records are pageable and fetchable by id.
	seqs, page, err := c.Sequences().List(ctx, client.ListSequencesOptions{
		Dataset:  "globins",
		PageSize: 2,
	})
	require.NoError(t, err)
	require.Len(t, seqs, 2)
	require.NotNil(t, page)
	assert.Equal(t, int64(3), page.Total)

	got, err := c.Sequences().Get(ctx, seqs[0].ID.String())
	require.NoError(t, err)
	assert.Equal(t, seqs[0].Name, got.Name)

	// Export runs a synchronous batch encode and streams CSV.
	var buf bytes.Buffer
	n, err := c.Datasets().ExportMatrix(ctx, "globins", "natural_vector", &buf)
	require.NoError(t, err)
	assert.Positive(t, n)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "name,label,v0,"))

	// Purge.
	purge, err := c.Datasets().Delete(ctx, "globins")
	require.NoError(t, err)
	assert.Equal(t, int64(3), purge.RemovedRecords)

	summaries, err = c.Datasets().List(ctx)
	require.NoError(t, err)
	assert.Empty(t, summaries)
}

func TestBatchEncodeCollectsRowFailures(t *testing.T) {
	c, _ := newTestServer(t)

	res, err := c.Embeddings().EncodeBatch(context.Background(), client.EncodeBatchRequest{
		Encoder: "natural_vector",
		Sequences: []client.BatchSequence{
			{Name: "good", Sequence: "MVLSPADKTNVKAAW"},
			{Name: "bad", Sequence: "MVLSPADK12345"},
		},
	})
	require.NoError(t, err)
	require.NotNil(t, res.Matrix)
	assert.Len(t, res.Matrix.Rows, 1)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "bad", res.Failures[0].Name)
}

func TestEnqueueWithoutBrokerIsUnavailable(t *testing.T) {
	c, _ := newTestServer(t)

	_, err := c.Datasets().EnqueueEmbedding(context.Background(), "globins", "natural_vector")
	require.Error(t, err)
	apiErr, ok := err.(*client.APIError)
	require.True(t, ok)
	assert.Equal(t, 503, apiErr.StatusCode)
}

func TestNeighborsWithoutVectorStoreIsUnavailable(t *testing.T) {
	c, _ := newTestServer(t)
	ctx := context.Background()

	_, err := c.Datasets().Ingest(ctx, client.IngestRequest{
		Dataset:  "globins",
		Filename: "globins.fasta",
		File:     strings.NewReader(fastaUpload),
	})
	require.NoError(t, err)

	seqs, _, err := c.Sequences().List(ctx, client.ListSequencesOptions{Dataset: "globins"})
	require.NoError(t, err)
	require.NotEmpty(t, seqs)

	_, err = c.Sequences().Neighbors(ctx, seqs[0].ID.String(), client.NeighborsOptions{})
	require.Error(t, err)
	apiErr, ok := err.(*client.APIError)
	require.True(t, ok)
	assert.Equal(t, 503, apiErr.StatusCode)
}

func TestRequestsWithoutAPIKeyAreRejected(t *testing.T) {
	_, baseURL := newTestServer(t)

	anon, err := client.NewClient(baseURL, "",
		client.WithTimeout(5*time.Second),
		client.WithRetryMax(0))
	require.NoError(t, err)

	_, err = anon.Embeddings().Encoders(context.Background())
	require.Error(t, err)
	apiErr, ok := err.(*client.APIError)
	require.True(t, ok)
	assert.Equal(t, 401, apiErr.StatusCode)

	// Probe endpoints stay public.
	health, err := anon.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "alive", health.Status)
}
