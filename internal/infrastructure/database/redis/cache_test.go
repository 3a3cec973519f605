package redis

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/BioSeq-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/BioSeq-Intelligence/pkg/errors"
)

type cachedSummary struct {
	Dataset string `json:"dataset"`
	Records int    `json:"records"`
}

func newTestCache(t *testing.T, opts ...CacheOption) (*miniredis.Miniredis, Cache) {
	t.Helper()
	mr, client := newTestClient(t)
	base := []CacheOption{WithPrefix("test:"), WithDefaultTTL(time.Hour)}
	return mr, NewRedisCache(client, logging.NewNopLogger(), append(base, opts...)...)
}

func TestCache_SetGetRoundTrip(t *testing.T) {
	mr, cache := newTestCache(t)
	ctx := context.Background()

	want := cachedSummary{Dataset: "globins", Records: 42}
	require.NoError(t, cache.Set(ctx, "summary:globins", want, 30*time.Minute))

	var got cachedSummary
	require.NoError(t, cache.Get(ctx, "summary:globins", &got))
	assert.Equal(t, want, got)

	// Keys are namespaced and expire within the ±10% jitter window.
	ttl := mr.TTL("test:summary:globins")
	assert.GreaterOrEqual(t, ttl, 27*time.Minute)
	assert.LessOrEqual(t, ttl, 33*time.Minute)
}

func TestCache_GetMiss(t *testing.T) {
	_, cache := newTestCache(t)

	var got cachedSummary
	err := cache.Get(context.Background(), "absent", &got)
	assert.Equal(t, ErrCacheMiss, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))
}

func TestCache_ZeroTTLUsesDefault(t *testing.T) {
	mr, cache := newTestCache(t) // default TTL is one hour
	require.NoError(t, cache.Set(context.Background(), "k", "v", 0))

	ttl := mr.TTL("test:k")
	assert.GreaterOrEqual(t, ttl, 54*time.Minute)
	assert.LessOrEqual(t, ttl, 66*time.Minute)
}

func TestCache_DeleteAndExists(t *testing.T) {
	_, cache := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "k1", "v1", 0))
	require.NoError(t, cache.Set(ctx, "k2", "v2", 0))

	exists, err := cache.Exists(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, cache.Delete(ctx, "k1", "k2", "never-there"))

	exists, err = cache.Exists(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, exists)

	// Empty key list is a no-op, not an error.
	assert.NoError(t, cache.Delete(ctx))
}

func TestCache_MGetSkipsAbsentKeys(t *testing.T) {
	_, cache := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "a", cachedSummary{Dataset: "a", Records: 1}, 0))
	require.NoError(t, cache.Set(ctx, "c", cachedSummary{Dataset: "c", Records: 3}, 0))

	got, err := cache.MGet(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Contains(t, got, "a")
	assert.NotContains(t, got, "b")
	assert.JSONEq(t, `{"dataset":"c","records":3}`, string(got["c"]))
}

func TestCache_MSet(t *testing.T) {
	mr, cache := newTestCache(t)
	ctx := context.Background()

	items := map[string]interface{}{
		"x": cachedSummary{Dataset: "x", Records: 10},
		"y": cachedSummary{Dataset: "y", Records: 20},
	}
	require.NoError(t, cache.MSet(ctx, items, 10*time.Minute))

	var got cachedSummary
	require.NoError(t, cache.Get(ctx, "y", &got))
	assert.Equal(t, 20, got.Records)
	assert.Greater(t, mr.TTL("test:x"), time.Duration(0))
}

func TestCache_GetOrSet_LoadsOnceThenHits(t *testing.T) {
	_, cache := newTestCache(t)
	ctx := context.Background()

	var calls int
	loader := func(ctx context.Context) (interface{}, error) {
		calls++
		return &cachedSummary{Dataset: "loaded", Records: 5}, nil
	}

	var first cachedSummary
	require.NoError(t, cache.GetOrSet(ctx, "summary", &first, time.Minute, loader))
	assert.Equal(t, "loaded", first.Dataset)
	assert.Equal(t, 1, calls)

	var second cachedSummary
	require.NoError(t, cache.GetOrSet(ctx, "summary", &second, time.Minute, loader))
	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls)
}

func TestCache_GetOrSet_RemembersNegativeAnswer(t *testing.T) {
	mr, cache := newTestCache(t)
	ctx := context.Background()

	var dest cachedSummary
	err := cache.GetOrSet(ctx, "ghost", &dest, time.Minute, func(ctx context.Context) (interface{}, error) {
		return nil, nil
	})
	assert.Equal(t, ErrCacheMiss, err)

	stored, err2 := mr.Get("test:ghost")
	require.NoError(t, err2)
	assert.Equal(t, nullValue, stored)

	// While the negative entry lives, the loader is not consulted again.
	var calls int
	err = cache.GetOrSet(ctx, "ghost", &dest, time.Minute, func(ctx context.Context) (interface{}, error) {
		calls++
		return &cachedSummary{Dataset: "late"}, nil
	})
	assert.Equal(t, ErrCacheMiss, err)
	assert.Equal(t, 0, calls)
}

func TestCache_GetOrSet_LoaderErrorPropagates(t *testing.T) {
	_, cache := newTestCache(t)

	boom := errors.New(errors.ErrCodeDatabaseError, "backing store down")
	var dest cachedSummary
	err := cache.GetOrSet(context.Background(), "broken", &dest, time.Minute, func(ctx context.Context) (interface{}, error) {
		return nil, boom
	})
	assert.Equal(t, boom, err)

	// Failures are not cached.
	exists, _ := cache.Exists(context.Background(), "broken")
	assert.False(t, exists)
}

func TestCache_GetOrSet_ConcurrentCallersShareOneLoad(t *testing.T) {
	_, cache := newTestCache(t)
	ctx := context.Background()

	var calls atomic.Int32
	loader := func(ctx context.Context) (interface{}, error) {
		calls.Add(1)
		time.Sleep(100 * time.Millisecond)
		return &cachedSummary{Dataset: "shared", Records: 7}, nil
	}

	const workers = 8
	start := make(chan struct{})
	var wg sync.WaitGroup
	results := make([]cachedSummary, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			errs[i] = cache.GetOrSet(ctx, "hot", &results[i], time.Minute, loader)
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "shared", results[i].Dataset)
	}
}

func TestCache_DeleteByPrefix(t *testing.T) {
	mr, cache := newTestCache(t)
	ctx := context.Background()

	// Enough keys to force several scan pages.
	for i := 0; i < 150; i++ {
		require.NoError(t, mr.Set(fmt.Sprintf("test:emb:%03d", i), "x"))
	}
	require.NoError(t, mr.Set("test:other", "keep"))

	deleted, err := cache.DeleteByPrefix(ctx, "emb:")
	require.NoError(t, err)
	assert.Equal(t, int64(150), deleted)

	assert.False(t, mr.Exists("test:emb:000"))
	assert.False(t, mr.Exists("test:emb:149"))
	assert.True(t, mr.Exists("test:other"))
}

func TestCache_CountersAndTTL(t *testing.T) {
	_, cache := newTestCache(t)
	ctx := context.Background()

	n, err := cache.Incr(ctx, "rate:tenant-a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = cache.Incr(ctx, "rate:tenant-a")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	require.NoError(t, cache.Expire(ctx, "rate:tenant-a", time.Minute))
	ttl, err := cache.TTL(ctx, "rate:tenant-a")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, ttl)

	assert.NoError(t, cache.Ping(ctx))
}
