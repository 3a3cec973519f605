package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/turtacn/BioSeq-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/BioSeq-Intelligence/pkg/errors"
)

// ErrCacheMiss reports that a key is absent (or negatively cached).  Callers
// treat it as a signal, not a failure.
var ErrCacheMiss = errors.New(errors.ErrCodeNotFound, "cache miss")

// nullValue marks a key whose loader answered "no such entity", so repeated
// lookups do not hammer the backing store.
const nullValue = "__null__"

// Cache is a JSON-serialising key/value cache on top of Redis.
type Cache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	MGet(ctx context.Context, keys []string) (map[string][]byte, error)
	MSet(ctx context.Context, items map[string]interface{}, ttl time.Duration) error
	GetOrSet(ctx context.Context, key string, dest interface{}, ttl time.Duration, loader func(ctx context.Context) (interface{}, error)) error
	DeleteByPrefix(ctx context.Context, prefix string) (int64, error)
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	TTL(ctx context.Context, key string) (time.Duration, error)
	Ping(ctx context.Context) error
}

// Serializer converts cached values to and from bytes.
type Serializer interface {
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, v interface{}) error
}

type jsonSerializer struct{}

func (s *jsonSerializer) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (s *jsonSerializer) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

type redisCache struct {
	client       *Client
	logger       logging.Logger
	prefix       string
	defaultTTL   time.Duration
	serializer   Serializer
	nullCacheTTL time.Duration
	group        singleflight.Group
}

// CacheOption customises a Cache.
type CacheOption func(*redisCache)

// WithPrefix sets the namespace prepended to every key.
func WithPrefix(prefix string) CacheOption {
	return func(c *redisCache) { c.prefix = prefix }
}

// WithDefaultTTL sets the expiry applied when callers pass a zero TTL.
func WithDefaultTTL(ttl time.Duration) CacheOption {
	return func(c *redisCache) { c.defaultTTL = ttl }
}

// WithSerializer replaces the JSON serializer.
func WithSerializer(s Serializer) CacheOption {
	return func(c *redisCache) { c.serializer = s }
}

// WithNullCacheTTL sets how long a "no such entity" answer is remembered.
func WithNullCacheTTL(ttl time.Duration) CacheOption {
	return func(c *redisCache) { c.nullCacheTTL = ttl }
}

// NewRedisCache builds a Cache over the given client.
func NewRedisCache(client *Client, log logging.Logger, opts ...CacheOption) Cache {
	c := &redisCache{
		client:       client,
		logger:       log,
		prefix:       "bioseq:",
		defaultTTL:   15 * time.Minute,
		serializer:   &jsonSerializer{},
		nullCacheTTL: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *redisCache) fullKey(key string) string {
	return c.prefix + key
}

// jitterTTL spreads expiries by ±10% so hot keys written together do not all
// expire together.
func (c *redisCache) jitterTTL(ttl time.Duration) time.Duration {
	if ttl == 0 {
		return 0
	}
	jitter := float64(ttl) * 0.1 * (rand.Float64()*2 - 1)
	return ttl + time.Duration(jitter)
}

// fetch reads a raw entry.  A negatively cached key comes back found with nil
// data, distinct from an absent key.
func (c *redisCache) fetch(ctx context.Context, key string) (data []byte, found bool, err error) {
	raw, err := c.client.Get(ctx, c.fullKey(key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, errors.ErrCodeCacheError, "cache read failed")
	}
	if string(raw) == nullValue {
		return nil, true, nil
	}
	return raw, true, nil
}

func (c *redisCache) Get(ctx context.Context, key string, dest interface{}) error {
	data, found, err := c.fetch(ctx, key)
	if err != nil {
		return err
	}
	if !found || data == nil {
		return ErrCacheMiss
	}
	if err := c.serializer.Unmarshal(data, dest); err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "cache unmarshal failed")
	}
	return nil
}

func (c *redisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if ttl == 0 {
		ttl = c.defaultTTL
	}
	data, err := c.serializer.Marshal(value)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "cache marshal failed")
	}
	if err := c.client.Set(ctx, c.fullKey(key), data, c.jitterTTL(ttl)).Err(); err != nil {
		return errors.Wrap(err, errors.ErrCodeCacheError, "cache write failed")
	}
	return nil
}

func (c *redisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	fullKeys := make([]string, len(keys))
	for i, k := range keys {
		fullKeys[i] = c.fullKey(k)
	}
	return c.client.Del(ctx, fullKeys...).Err()
}

func (c *redisCache) Exists(ctx context.Context, key string) (bool, error) {
	val, err := c.client.Exists(ctx, c.fullKey(key)).Result()
	return val > 0, err
}

// MGet returns the raw bytes of every present key.  Absent and negatively
// cached keys are simply left out of the result.
func (c *redisCache) MGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	fullKeys := make([]string, len(keys))
	for i, k := range keys {
		fullKeys[i] = c.fullKey(k)
	}
	vals, err := c.client.MGet(ctx, fullKeys...).Result()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeCacheError, "cache multi-read failed")
	}
	result := make(map[string][]byte, len(keys))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok || s == nullValue {
			continue
		}
		result[keys[i]] = []byte(s)
	}
	return result, nil
}

func (c *redisCache) MSet(ctx context.Context, items map[string]interface{}, ttl time.Duration) error {
	if len(items) == 0 {
		return nil
	}
	if ttl == 0 {
		ttl = c.defaultTTL
	}
	pipe := c.client.Pipeline()
	for k, v := range items {
		data, err := c.serializer.Marshal(v)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeSerialization, "cache marshal failed")
		}
		pipe.Set(ctx, c.fullKey(k), data, c.jitterTTL(ttl))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, errors.ErrCodeCacheError, "cache multi-write failed")
	}
	return nil
}

// GetOrSet answers from the cache when it can, otherwise runs loader exactly
// once per key across concurrent callers and caches the result.  A loader
// returning a nil value is remembered as a negative entry; while that entry
// lives, GetOrSet reports ErrCacheMiss without invoking the loader again.
func (c *redisCache) GetOrSet(ctx context.Context, key string, dest interface{}, ttl time.Duration, loader func(ctx context.Context) (interface{}, error)) error {
	data, found, err := c.fetch(ctx, key)
	if err != nil {
		return err
	}
	if found {
		if data == nil {
			return ErrCacheMiss
		}
		return c.serializer.Unmarshal(data, dest)
	}

	val, err, _ := c.group.Do(key, func() (interface{}, error) {
		v, loadErr := loader(ctx)
		if loadErr != nil {
			return nil, loadErr
		}
		if v == nil {
			if setErr := c.client.Set(ctx, c.fullKey(key), nullValue, c.nullCacheTTL).Err(); setErr != nil {
				c.logger.Warn("Failed to cache negative entry", logging.String("key", key), logging.Err(setErr))
			}
			return nil, nil
		}
		if setErr := c.Set(ctx, key, v, ttl); setErr != nil {
			c.logger.Warn("Failed to populate cache", logging.String("key", key), logging.Err(setErr))
		}
		return v, nil
	})
	if err != nil {
		return err
	}
	if val == nil {
		return ErrCacheMiss
	}

	// Concurrent callers share val, so copy it into dest through the
	// serializer instead of aliasing.
	data, err = c.serializer.Marshal(val)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "cache marshal failed")
	}
	return c.serializer.Unmarshal(data, dest)
}

// DeleteByPrefix removes every key under prefix and reports how many went.
// The scan completes before any deletion: removing keys mid-scan skews the
// cursor and makes SCAN skip survivors.
func (c *redisCache) DeleteByPrefix(ctx context.Context, prefix string) (int64, error) {
	var keys []string
	var cursor uint64
	match := c.fullKey(prefix) + "*"
	for {
		batch, nextCursor, err := c.client.Scan(ctx, cursor, match, 100).Result()
		if err != nil {
			return 0, errors.Wrap(err, errors.ErrCodeCacheError, "cache scan failed")
		}
		keys = append(keys, batch...)
		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}

	var deleted int64
	for start := 0; start < len(keys); start += 100 {
		end := start + 100
		if end > len(keys) {
			end = len(keys)
		}
		n, err := c.client.Del(ctx, keys[start:end]...).Result()
		if err != nil {
			return deleted, errors.Wrap(err, errors.ErrCodeCacheError, "cache delete failed")
		}
		deleted += n
	}
	return deleted, nil
}

func (c *redisCache) Incr(ctx context.Context, key string) (int64, error) {
	return c.client.Incr(ctx, c.fullKey(key)).Result()
}

func (c *redisCache) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return c.client.Expire(ctx, c.fullKey(key), ttl).Err()
}

func (c *redisCache) TTL(ctx context.Context, key string) (time.Duration, error) {
	return c.client.TTL(ctx, c.fullKey(key)).Result()
}

func (c *redisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx)
}
