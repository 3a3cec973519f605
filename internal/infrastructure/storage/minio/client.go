// Package minio archives raw dataset files and generated exports in an
// S3-compatible object store. Ingestion keeps the original upload under
// datasets/<dataset>/<file> so a dataset can be re-parsed or audited later;
// matrix exports land under exports/ and expire after a retention window.
package minio

import (
	"context"
	"io"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/lifecycle"

	"github.com/turtacn/BioSeq-Intelligence/internal/config"
	"github.com/turtacn/BioSeq-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/BioSeq-Intelligence/pkg/errors"
)

// exportRetentionDays bounds how long generated matrix exports stay in the
// bucket before the store expires them.
const exportRetentionDays = 30

// ObjectAPI is the subset of the minio-go client the platform calls. The SDK
// exposes a concrete struct, so the adapter talks to it through this interface
// and tests substitute a mock.
type ObjectAPI interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	SetBucketLifecycle(ctx context.Context, bucketName string, config *lifecycle.Configuration) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (*minio.Object, error)
	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
	RemoveObjects(ctx context.Context, bucketName string, objectsCh <-chan minio.ObjectInfo, opts minio.RemoveObjectsOptions) <-chan minio.RemoveObjectError
	ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
	PresignedGetObject(ctx context.Context, bucketName, objectName string, expiry time.Duration, reqParams url.Values) (*url.URL, error)
}

// newObjectAPI dials the object store. Swapped out in tests.
var newObjectAPI = func(cfg config.MinIOConfig) (ObjectAPI, error) {
	return minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
}

// Client manages the connection to the object store and guarantees the
// platform bucket exists before any repository uses it.
type Client struct {
	api     ObjectAPI
	cfg     config.MinIOConfig
	logger  logging.Logger
	healthy atomic.Bool
}

// NewClient connects to the object store, creates the configured bucket if it
// is missing, and installs the export retention rule. The connectivity check
// and bucket creation are fatal; a rejected lifecycle rule is only logged,
// since not every S3-compatible backend supports lifecycle management.
func NewClient(ctx context.Context, cfg config.MinIOConfig, logger logging.Logger) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New(errors.ErrCodeValidation, "minio endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New(errors.ErrCodeValidation, "minio bucket is required")
	}
	if cfg.PresignExpiry <= 0 {
		cfg.PresignExpiry = 15 * time.Minute
	}

	api, err := newObjectAPI(cfg)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to build minio client")
	}

	c := &Client{api: api, cfg: cfg, logger: logger}

	if err := c.ensureBucket(ctx); err != nil {
		return nil, err
	}
	c.ensureExportRetention(ctx)
	c.healthy.Store(true)

	logger.Info("object store connected",
		logging.String("endpoint", cfg.Endpoint),
		logging.String("bucket", cfg.Bucket),
		logging.Bool("ssl", cfg.UseSSL))
	return c, nil
}

func (c *Client) ensureBucket(ctx context.Context) error {
	exists, err := c.api.BucketExists(ctx, c.cfg.Bucket)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeStorageUnavailable, "failed to reach object store")
	}
	if exists {
		return nil
	}
	if err := c.api.MakeBucket(ctx, c.cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
		return errors.Wrapf(err, errors.ErrCodeStorageWriteFailed, "failed to create bucket %s", c.cfg.Bucket)
	}
	c.logger.Info("created bucket", logging.String("bucket", c.cfg.Bucket))
	return nil
}

func (c *Client) ensureExportRetention(ctx context.Context) {
	lc := lifecycle.NewConfiguration()
	lc.Rules = []lifecycle.Rule{
		{
			ID:         "export-retention",
			Status:     "Enabled",
			RuleFilter: lifecycle.Filter{Prefix: exportPrefix},
			Expiration: lifecycle.Expiration{Days: lifecycle.ExpirationDays(exportRetentionDays)},
		},
	}
	if err := c.api.SetBucketLifecycle(ctx, c.cfg.Bucket, lc); err != nil {
		c.logger.Warn("failed to set export retention rule",
			logging.String("bucket", c.cfg.Bucket), logging.Err(err))
	}
}

// Ping verifies the store is reachable and the platform bucket still exists.
func (c *Client) Ping(ctx context.Context) error {
	exists, err := c.api.BucketExists(ctx, c.cfg.Bucket)
	if err != nil {
		c.healthy.Store(false)
		return errors.Wrap(err, errors.ErrCodeStorageUnavailable, "object store ping failed")
	}
	if !exists {
		c.healthy.Store(false)
		return errors.Newf(errors.ErrCodeStorageUnavailable, "bucket %s no longer exists", c.cfg.Bucket)
	}
	c.healthy.Store(true)
	return nil
}

// IsHealthy reports the outcome of the most recent connectivity check.
func (c *Client) IsHealthy() bool {
	return c.healthy.Load()
}

// API exposes the underlying object-store operations.
func (c *Client) API() ObjectAPI {
	return c.api
}

// Bucket returns the platform bucket name.
func (c *Client) Bucket() string {
	return c.cfg.Bucket
}
