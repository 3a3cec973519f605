// Package milvus manages the vector database connection and the per-encoder
// embedding collections behind similarity search.
package milvus

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"

	"github.com/turtacn/BioSeq-Intelligence/internal/config"
	"github.com/turtacn/BioSeq-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/BioSeq-Intelligence/pkg/errors"
)

// newMilvusClient is swapped out in tests.
var newMilvusClient = client.NewClient

const (
	connectTimeout      = 10 * time.Second
	healthCheckInterval = 30 * time.Second
	// reconnectThreshold is the number of consecutive health-check failures
	// tolerated before the connection is rebuilt.
	reconnectThreshold = 3

	keepAliveTime    = 60 * time.Second
	keepAliveTimeout = 20 * time.Second
)

// Client manages the Milvus connection: dialing, background health checks,
// and reconnection after repeated failures.
type Client struct {
	cfg    config.MilvusConfig
	logger logging.Logger

	mu           sync.RWMutex
	milvusClient client.Client

	healthy atomic.Bool
	cancel  context.CancelFunc
	once    sync.Once
}

// NewClient dials Milvus, verifies the connection, and starts the background
// health loop.
func NewClient(ctx context.Context, cfg config.MilvusConfig, logger logging.Logger) (*Client, error) {
	if cfg.Addr == "" {
		return nil, errors.New(errors.ErrCodeValidation, "milvus address required")
	}
	if cfg.DBName == "" {
		cfg.DBName = "default"
	}

	mc, err := dial(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeServiceUnavailable, "failed to connect to milvus")
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	c := &Client{
		cfg:          cfg,
		logger:       logger,
		milvusClient: mc,
		cancel:       cancel,
	}

	if err := c.CheckHealth(ctx); err != nil {
		c.Close()
		return nil, err
	}
	go c.healthLoop(loopCtx)

	logger.Info("Milvus client connected",
		logging.String("addr", cfg.Addr),
		logging.String("database", cfg.DBName))
	return c, nil
}

func dial(ctx context.Context, cfg config.MilvusConfig) (client.Client, error) {
	milvusCfg := client.Config{
		Address:  cfg.Addr,
		Username: cfg.User,
		Password: cfg.Password,
		DBName:   cfg.DBName,
	}

	dialOpts := []grpc.DialOption{
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                keepAliveTime,
			Timeout:             keepAliveTimeout,
			PermitWithoutStream: true,
		}),
	}
	if cfg.TLSEnabled {
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(credentials.NewTLS(milvusTLSConfig(cfg.TLSCertPath))))
		milvusCfg.EnableTLSAuth = true
	} else {
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	milvusCfg.DialOptions = dialOpts

	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	return newMilvusClient(dialCtx, milvusCfg)
}

// milvusTLSConfig loads the CA bundle when one is configured; without it the
// chain is not verified so self-signed dev deployments still connect.
func milvusTLSConfig(certPath string) *tls.Config {
	tlsCfg := &tls.Config{InsecureSkipVerify: true}
	if certPath == "" {
		return tlsCfg
	}
	pem, err := os.ReadFile(certPath)
	if err != nil {
		return tlsCfg
	}
	pool := x509.NewCertPool()
	if pool.AppendCertsFromPEM(pem) {
		tlsCfg.RootCAs = pool
		tlsCfg.InsecureSkipVerify = false
	}
	return tlsCfg
}

// Milvus returns the underlying SDK client.
func (c *Client) Milvus() client.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.milvusClient
}

// CheckHealth pings the cluster and records the result.
func (c *Client) CheckHealth(ctx context.Context) error {
	mc := c.Milvus()
	if mc == nil {
		c.healthy.Store(false)
		return errors.New(errors.ErrCodeServiceUnavailable, "milvus client not connected")
	}
	if _, err := mc.CheckHealth(ctx); err != nil {
		c.healthy.Store(false)
		return errors.Wrap(err, errors.ErrCodeServiceUnavailable, "milvus health check failed")
	}
	c.healthy.Store(true)
	return nil
}

// IsHealthy reports the result of the most recent health check.
func (c *Client) IsHealthy() bool {
	return c.healthy.Load()
}

// ServerVersion returns the Milvus build version.
func (c *Client) ServerVersion(ctx context.Context) (string, error) {
	v, err := c.Milvus().GetVersion(ctx)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeServiceUnavailable, "failed to read milvus version")
	}
	return v, nil
}

// Close stops the health loop and closes the connection.  Safe to call more
// than once.
func (c *Client) Close() error {
	var err error
	c.once.Do(func() {
		c.cancel()
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.milvusClient != nil {
			err = c.milvusClient.Close()
		}
		c.logger.Info("Milvus client closed")
	})
	return err
}

func (c *Client) healthLoop(ctx context.Context) {
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.CheckHealth(ctx); err != nil {
				failures++
				c.logger.Warn("Milvus health check failed",
					logging.Int("consecutive", failures),
					logging.Err(err))
				if failures >= reconnectThreshold {
					if rerr := c.reconnect(ctx); rerr != nil {
						c.logger.Error("Milvus reconnect failed", logging.Err(rerr))
					} else {
						failures = 0
					}
				}
				continue
			}
			if failures > 0 {
				c.logger.Info("Milvus connection recovered")
			}
			failures = 0
		}
	}
}

func (c *Client) reconnect(ctx context.Context) error {
	mc, err := dial(ctx, c.cfg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	old := c.milvusClient
	c.milvusClient = mc
	c.mu.Unlock()

	if old != nil {
		old.Close()
	}
	c.logger.Warn("Milvus client reconnected", logging.String("addr", c.cfg.Addr))
	return nil
}
