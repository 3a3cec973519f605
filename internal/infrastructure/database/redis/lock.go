package redis

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/turtacn/BioSeq-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/BioSeq-Intelligence/pkg/errors"
)

var (
	// ErrLockNotAcquired reports that the lock stayed held by someone else
	// for the whole retry budget.
	ErrLockNotAcquired = errors.New(errors.ErrCodeLockNotAcquired, "lock not acquired")
	// ErrLockNotHeld reports an unlock of a lock this instance does not own,
	// usually because the TTL expired and another owner took over.
	ErrLockNotHeld = errors.New(errors.ErrCodeConflict, "lock not held by this owner")
)

// DistributedLock is a Redis-backed mutual exclusion primitive.  Each
// instance carries a random token, so only the acquiring instance can
// release or extend the lock.
type DistributedLock interface {
	Lock(ctx context.Context) error
	TryLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) error
	Extend(ctx context.Context, ttl time.Duration) (bool, error)
	TTL(ctx context.Context) (time.Duration, error)
}

// LockFactory builds locks sharing a client and default options.
type LockFactory interface {
	NewMutex(name string, opts ...LockOption) DistributedLock
}

// LockOption customises a lock.
type LockOption func(*lockConfig)

// WithLockTTL sets how long the lock survives without extension.
func WithLockTTL(ttl time.Duration) LockOption {
	return func(c *lockConfig) { c.ttl = ttl }
}

// WithRetryDelay sets the pause between acquisition attempts.
func WithRetryDelay(delay time.Duration) LockOption {
	return func(c *lockConfig) { c.retryDelay = delay }
}

// WithRetryCount sets how many acquisition attempts Lock makes.
func WithRetryCount(count int) LockOption {
	return func(c *lockConfig) { c.retryCount = count }
}

// WithWatchdog enables background extension while the lock is held, for
// holders whose critical section can outlive the TTL.
func WithWatchdog(enabled bool) LockOption {
	return func(c *lockConfig) { c.watchdogEnabled = enabled }
}

// WithWatchdogInterval sets how often the watchdog extends the lock.
func WithWatchdogInterval(interval time.Duration) LockOption {
	return func(c *lockConfig) { c.watchdogInterval = interval }
}

// WithLockKeyPrefix sets the namespace prepended to lock keys.
func WithLockKeyPrefix(prefix string) LockOption {
	return func(c *lockConfig) { c.keyPrefix = prefix }
}

type lockConfig struct {
	ttl              time.Duration
	retryDelay       time.Duration
	retryCount       int
	watchdogEnabled  bool
	watchdogInterval time.Duration
	keyPrefix        string
}

type redisLockFactory struct {
	client   *Client
	log      logging.Logger
	defaults []LockOption
}

// NewLockFactory builds a LockFactory.  The given options become defaults for
// every lock; per-lock options override them.
func NewLockFactory(client *Client, log logging.Logger, defaults ...LockOption) LockFactory {
	return &redisLockFactory{
		client:   client,
		log:      log,
		defaults: defaults,
	}
}

func (f *redisLockFactory) NewMutex(name string, opts ...LockOption) DistributedLock {
	cfg := lockConfig{
		ttl:              30 * time.Second,
		retryDelay:       100 * time.Millisecond,
		retryCount:       30,
		watchdogInterval: 10 * time.Second,
		keyPrefix:        "bioseq:",
	}
	for _, opt := range f.defaults {
		opt(&cfg)
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.watchdogEnabled && cfg.watchdogInterval == 0 {
		cfg.watchdogInterval = cfg.ttl / 3
	}

	return &redisMutex{
		client: f.client,
		key:    cfg.keyPrefix + "lock:" + name,
		token:  uuid.New().String(),
		config: cfg,
		logger: f.log,
	}
}

type redisMutex struct {
	client         *Client
	key            string
	token          string
	config         lockConfig
	logger         logging.Logger
	watchdogCancel context.CancelFunc
	watchdogDone   chan struct{}
}

// The release and extend scripts check the stored token first, so an expired
// lock re-acquired by another owner cannot be touched from here.
var mutexUnlockScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

var mutexExtendScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("PEXPIRE", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

func (m *redisMutex) Lock(ctx context.Context) error {
	for i := 0; i < m.config.retryCount; i++ {
		acquired, err := m.client.SetNX(ctx, m.key, m.token, m.config.ttl).Result()
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeCacheError, "lock attempt failed")
		}
		if acquired {
			if m.config.watchdogEnabled {
				m.startWatchdog()
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.config.retryDelay):
		}
	}
	return ErrLockNotAcquired
}

func (m *redisMutex) TryLock(ctx context.Context) (bool, error) {
	acquired, err := m.client.SetNX(ctx, m.key, m.token, m.config.ttl).Result()
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeCacheError, "lock attempt failed")
	}
	if acquired && m.config.watchdogEnabled {
		m.startWatchdog()
	}
	return acquired, nil
}

func (m *redisMutex) Unlock(ctx context.Context) error {
	m.stopWatchdog()
	res, err := mutexUnlockScript.Run(ctx, m.client.GetUnderlyingClient(), []string{m.key}, m.token).Result()
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeCacheError, "unlock failed")
	}
	if res.(int64) == 0 {
		return ErrLockNotHeld
	}
	return nil
}

func (m *redisMutex) Extend(ctx context.Context, ttl time.Duration) (bool, error) {
	res, err := mutexExtendScript.Run(ctx, m.client.GetUnderlyingClient(), []string{m.key}, m.token, ttl.Milliseconds()).Result()
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeCacheError, "extend failed")
	}
	return res.(int64) == 1, nil
}

func (m *redisMutex) TTL(ctx context.Context) (time.Duration, error) {
	return m.client.PTTL(ctx, m.key).Result()
}

func (m *redisMutex) startWatchdog() {
	ctx, cancel := context.WithCancel(context.Background())
	m.watchdogCancel = cancel
	m.watchdogDone = make(chan struct{})
	go runWatchdog(ctx, m.Extend, m.config.watchdogInterval, m.config.ttl, m.logger, m.watchdogDone)
}

func (m *redisMutex) stopWatchdog() {
	if m.watchdogCancel != nil {
		m.watchdogCancel()
		<-m.watchdogDone
		m.watchdogCancel = nil
	}
}

func runWatchdog(ctx context.Context, extend func(context.Context, time.Duration) (bool, error), interval, ttl time.Duration, log logging.Logger, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := extend(ctx, ttl)
			if err != nil {
				log.Error("Watchdog failed to extend lock", logging.Err(err))
				return
			}
			if !ok {
				log.Warn("Watchdog lost lock ownership")
				return
			}
		}
	}
}
