package neo4j

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/BioSeq-Intelligence/internal/config"
	"github.com/turtacn/BioSeq-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/BioSeq-Intelligence/pkg/errors"
)

// ── Fakes over the internal interfaces ────────────────────────────────────────

type fakeResult struct {
	records []*neo4j.Record
	idx     int
	err     error
}

func (r *fakeResult) Next(ctx context.Context) bool {
	if r.idx < len(r.records) {
		r.idx++
		return true
	}
	return false
}

func (r *fakeResult) Record() *neo4j.Record { return r.records[r.idx-1] }
func (r *fakeResult) Err() error            { return r.err }
func (r *fakeResult) Consume(ctx context.Context) (neo4j.ResultSummary, error) {
	return nil, nil
}

type fakeTransaction struct {
	result  Result
	runErr  error
	cyphers []string
}

func (t *fakeTransaction) Run(ctx context.Context, cypher string, params map[string]any) (Result, error) {
	t.cyphers = append(t.cyphers, cypher)
	if t.runErr != nil {
		return nil, t.runErr
	}
	return t.result, nil
}

type fakeSession struct {
	tx       *fakeTransaction
	readErr  error
	writeErr error
	closed   bool
}

func (s *fakeSession) ExecuteRead(ctx context.Context, work TransactionWork) (any, error) {
	if s.readErr != nil {
		return nil, s.readErr
	}
	return work(s.tx)
}

func (s *fakeSession) ExecuteWrite(ctx context.Context, work TransactionWork) (any, error) {
	if s.writeErr != nil {
		return nil, s.writeErr
	}
	return work(s.tx)
}

func (s *fakeSession) Close(ctx context.Context) error {
	s.closed = true
	return nil
}

type fakeDriver struct {
	session        *fakeSession
	verifyErr      error
	sessionConfigs []neo4j.SessionConfig
	closeCalls     int
}

func (d *fakeDriver) VerifyConnectivity(ctx context.Context) error { return d.verifyErr }

func (d *fakeDriver) NewSession(ctx context.Context, config neo4j.SessionConfig) internalSession {
	d.sessionConfigs = append(d.sessionConfigs, config)
	return d.session
}

func (d *fakeDriver) Close(ctx context.Context) error {
	d.closeCalls++
	return nil
}

func newTestDriver(fd *fakeDriver, database string) *Driver {
	return &Driver{
		driver: fd,
		cfg:    config.Neo4jConfig{Database: database},
		logger: logging.NewNopLogger(),
	}
}

// ── Tests ─────────────────────────────────────────────────────────────────────

func TestDriver_ExecuteRead_UsesReadSessionAndClosesIt(t *testing.T) {
	session := &fakeSession{tx: &fakeTransaction{}}
	fd := &fakeDriver{session: session}
	d := newTestDriver(fd, "graphs")

	result, err := d.ExecuteRead(context.Background(), func(tx Transaction) (any, error) {
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	require.Len(t, fd.sessionConfigs, 1)
	assert.Equal(t, neo4j.AccessModeRead, fd.sessionConfigs[0].AccessMode)
	assert.Equal(t, "graphs", fd.sessionConfigs[0].DatabaseName)
	assert.True(t, session.closed)
}

func TestDriver_ExecuteWrite_UsesWriteSession(t *testing.T) {
	session := &fakeSession{tx: &fakeTransaction{}}
	fd := &fakeDriver{session: session}
	d := newTestDriver(fd, "")

	_, err := d.ExecuteWrite(context.Background(), func(tx Transaction) (any, error) {
		return nil, nil
	})

	require.NoError(t, err)
	require.Len(t, fd.sessionConfigs, 1)
	assert.Equal(t, neo4j.AccessModeWrite, fd.sessionConfigs[0].AccessMode)
	// Empty configured database falls back to the server default.
	assert.Equal(t, "neo4j", fd.sessionConfigs[0].DatabaseName)
}

func TestDriver_ExecuteRead_WrapsFailure(t *testing.T) {
	session := &fakeSession{readErr: stderrors.New("routing table stale")}
	d := newTestDriver(&fakeDriver{session: session}, "")

	_, err := d.ExecuteRead(context.Background(), func(tx Transaction) (any, error) {
		return nil, nil
	})

	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeGraphQueryFailed))
}

func TestDriver_ExecuteWrite_WrapsFailure(t *testing.T) {
	session := &fakeSession{writeErr: stderrors.New("leader switch")}
	d := newTestDriver(&fakeDriver{session: session}, "")

	_, err := d.ExecuteWrite(context.Background(), func(tx Transaction) (any, error) {
		return nil, nil
	})

	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeGraphStoreFailed))
}

func TestDriver_HealthCheck(t *testing.T) {
	tx := &fakeTransaction{result: &fakeResult{
		records: []*neo4j.Record{{Keys: []string{"health"}, Values: []any{int64(1)}}},
	}}
	d := newTestDriver(&fakeDriver{session: &fakeSession{tx: tx}}, "")

	require.NoError(t, d.HealthCheck(context.Background()))
	require.Len(t, tx.cyphers, 1)
	assert.Equal(t, "RETURN 1 AS health", tx.cyphers[0])
}

func TestDriver_HealthCheck_ConnectivityFailure(t *testing.T) {
	fd := &fakeDriver{verifyErr: stderrors.New("connection refused")}
	d := newTestDriver(fd, "")

	err := d.HealthCheck(context.Background())

	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeDatabaseError))
}

func TestDriver_CloseOnlyClosesOnce(t *testing.T) {
	fd := &fakeDriver{session: &fakeSession{}}
	d := newTestDriver(fd, "")

	require.NoError(t, d.Close())
	require.NoError(t, d.Close())
	assert.Equal(t, 1, fd.closeCalls)
}

func TestExtractSingleRecord(t *testing.T) {
	mapper := func(rec *neo4j.Record) (string, error) {
		return rec.Values[0].(string), nil
	}

	t.Run("first record wins", func(t *testing.T) {
		result := &fakeResult{records: []*neo4j.Record{
			{Values: []any{"insulin"}},
			{Values: []any{"hemoglobin"}},
		}}
		got, err := ExtractSingleRecord(context.Background(), result, mapper)
		require.NoError(t, err)
		assert.Equal(t, "insulin", got)
	})

	t.Run("no rows reports not found", func(t *testing.T) {
		_, err := ExtractSingleRecord(context.Background(), &fakeResult{}, mapper)
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))
	})

	t.Run("stream error surfaces", func(t *testing.T) {
		result := &fakeResult{err: stderrors.New("cursor lost")}
		_, err := ExtractSingleRecord(context.Background(), result, mapper)
		assert.EqualError(t, err, "cursor lost")
	})
}

func TestCollectRecords(t *testing.T) {
	result := &fakeResult{records: []*neo4j.Record{
		{Values: []any{"a"}},
		{Values: []any{"b"}},
		{Values: []any{"c"}},
	}}

	got, err := CollectRecords(context.Background(), result, func(rec *neo4j.Record) (string, error) {
		return rec.Values[0].(string), nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestCollectRecords_MapperErrorStopsCollection(t *testing.T) {
	result := &fakeResult{records: []*neo4j.Record{
		{Values: []any{"a"}},
		{Values: []any{"b"}},
	}}

	_, err := CollectRecords(context.Background(), result, func(rec *neo4j.Record) (string, error) {
		if rec.Values[0] == "b" {
			return "", stderrors.New("bad record")
		}
		return rec.Values[0].(string), nil
	})

	assert.EqualError(t, err, "bad record")
}
