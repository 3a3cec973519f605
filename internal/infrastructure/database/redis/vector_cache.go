package redis

import (
	"context"
	"encoding/json"

	"golang.org/x/sync/singleflight"

	"github.com/turtacn/BioSeq-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/BioSeq-Intelligence/internal/infrastructure/monitoring/prometheus"
	seqtypes "github.com/turtacn/BioSeq-Intelligence/pkg/types/sequence"
)

// vectorCacheName labels cache hit/miss metrics.
const vectorCacheName = "vector"

// VectorCache stores computed embedding vectors keyed by encoder and sequence
// checksum.  Identical residues produce identical vectors, so entries are
// shared across datasets and survive re-ingests.  Vectors are stored as JSON
// float arrays.
type VectorCache struct {
	cache   Cache
	logger  logging.Logger
	metrics *prometheus.AppMetrics
	group   singleflight.Group
}

// NewVectorCache builds a VectorCache over client.  Pass WithPrefix and
// WithDefaultTTL to align the key namespace and expiry with configuration;
// nil metrics are replaced with a no-op collector.
func NewVectorCache(client *Client, log logging.Logger, metrics *prometheus.AppMetrics, opts ...CacheOption) *VectorCache {
	if metrics == nil {
		metrics = prometheus.NewNoopAppMetrics()
	}
	return &VectorCache{
		cache:   NewRedisCache(client, log, opts...),
		logger:  log,
		metrics: metrics,
	}
}

func vectorKey(encoder seqtypes.EncoderKind, checksum string) string {
	return "vector:" + string(encoder) + ":" + checksum
}

// Get returns the cached vector for (encoder, checksum), reporting presence
// separately from transport errors.
func (v *VectorCache) Get(ctx context.Context, encoder seqtypes.EncoderKind, checksum string) ([]float64, bool, error) {
	var vec []float64
	err := v.cache.Get(ctx, vectorKey(encoder, checksum), &vec)
	if err == ErrCacheMiss {
		prometheus.RecordCacheAccess(v.metrics, vectorCacheName, false)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	prometheus.RecordCacheAccess(v.metrics, vectorCacheName, true)
	return vec, true, nil
}

// Put stores a vector under the cache's default TTL.
func (v *VectorCache) Put(ctx context.Context, encoder seqtypes.EncoderKind, checksum string, vec []float64) error {
	return v.cache.Set(ctx, vectorKey(encoder, checksum), vec, 0)
}

// GetOrCompute returns the cached vector or runs compute, stores the result,
// and returns it.  Concurrent calls for the same (encoder, checksum) share a
// single computation.  A broken cache degrades to computing every time rather
// than failing the encode.
func (v *VectorCache) GetOrCompute(ctx context.Context, encoder seqtypes.EncoderKind, checksum string, compute func(ctx context.Context) ([]float64, error)) ([]float64, error) {
	vec, ok, err := v.Get(ctx, encoder, checksum)
	if err != nil {
		v.logger.Warn("Vector cache read failed, computing instead",
			logging.String("encoder", string(encoder)),
			logging.String("checksum", checksum),
			logging.Err(err),
		)
	}
	if ok {
		return vec, nil
	}

	key := vectorKey(encoder, checksum)
	out, err, shared := v.group.Do(key, func() (interface{}, error) {
		computed, cerr := compute(ctx)
		if cerr != nil {
			return nil, cerr
		}
		if perr := v.Put(ctx, encoder, checksum, computed); perr != nil {
			v.logger.Warn("Vector cache write failed",
				logging.String("encoder", string(encoder)),
				logging.String("checksum", checksum),
				logging.Err(perr),
			)
		}
		return computed, nil
	})
	if err != nil {
		return nil, err
	}
	result := out.([]float64)
	if shared {
		// Waiters share the computed slice; hand each caller its own copy.
		result = append([]float64(nil), result...)
	}
	return result, nil
}

// GetBatch fetches every cached vector among checksums in one round trip.
// The result maps checksum to vector; absent checksums are left out.
func (v *VectorCache) GetBatch(ctx context.Context, encoder seqtypes.EncoderKind, checksums []string) (map[string][]float64, error) {
	if len(checksums) == 0 {
		return nil, nil
	}
	keys := make([]string, len(checksums))
	for i, cs := range checksums {
		keys[i] = vectorKey(encoder, cs)
	}
	raw, err := v.cache.MGet(ctx, keys)
	if err != nil {
		return nil, err
	}
	found := make(map[string][]float64, len(raw))
	for i, cs := range checksums {
		data, ok := raw[keys[i]]
		if !ok {
			prometheus.RecordCacheAccess(v.metrics, vectorCacheName, false)
			continue
		}
		var vec []float64
		if err := json.Unmarshal(data, &vec); err != nil {
			v.logger.Warn("Discarding undecodable cached vector",
				logging.String("checksum", cs),
				logging.Err(err),
			)
			prometheus.RecordCacheAccess(v.metrics, vectorCacheName, false)
			continue
		}
		found[cs] = vec
		prometheus.RecordCacheAccess(v.metrics, vectorCacheName, true)
	}
	return found, nil
}

// PutBatch stores many vectors in one pipeline under the default TTL.
func (v *VectorCache) PutBatch(ctx context.Context, encoder seqtypes.EncoderKind, vectors map[string][]float64) error {
	if len(vectors) == 0 {
		return nil
	}
	items := make(map[string]interface{}, len(vectors))
	for cs, vec := range vectors {
		items[vectorKey(encoder, cs)] = vec
	}
	return v.cache.MSet(ctx, items, 0)
}

// InvalidateEncoder drops every cached vector produced by encoder.  Run it
// after an encoder configuration change so vectors of a stale dimension
// cannot resurface.
func (v *VectorCache) InvalidateEncoder(ctx context.Context, encoder seqtypes.EncoderKind) (int64, error) {
	return v.cache.DeleteByPrefix(ctx, "vector:"+string(encoder)+":")
}
