package minio

import (
	"context"
	"io"
	"mime"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"

	"github.com/turtacn/BioSeq-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/BioSeq-Intelligence/pkg/errors"
)

// Bucket layout: raw uploads under datasets/<dataset>/<file>, generated
// artifacts under exports/<name>.
const (
	datasetRoot  = "datasets"
	exportPrefix = "exports/"
)

// Repository is the object-store surface the ingestion and export flows use.
type Repository interface {
	// PutSequenceFile archives a raw dataset file. size may be -1 when the
	// length is unknown, at the cost of a multipart streaming upload.
	PutSequenceFile(ctx context.Context, dataset, filename string, reader io.Reader, size int64) (*ObjectInfo, error)
	// GetSequenceFile opens a stored dataset file for streaming reads.
	// The caller owns the returned ReadCloser.
	GetSequenceFile(ctx context.Context, dataset, filename string) (io.ReadCloser, *ObjectInfo, error)
	StatSequenceFile(ctx context.Context, dataset, filename string) (*ObjectInfo, error)
	ListDataset(ctx context.Context, dataset string) ([]*ObjectInfo, error)
	RemoveSequenceFile(ctx context.Context, dataset, filename string) error
	// RemoveDataset deletes every stored file under the dataset prefix and
	// reports how many objects were removed.
	RemoveDataset(ctx context.Context, dataset string) (int, error)
	PutExport(ctx context.Context, name string, reader io.Reader, size int64) (*ObjectInfo, error)
	// PresignDownload returns a time-limited download URL for a stored
	// object. A non-positive expiry falls back to the configured default.
	PresignDownload(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// ObjectInfo describes a stored object. ContentType may be empty for entries
// produced by listings, which do not carry object metadata.
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	ContentType  string
	LastModified time.Time
}

type objectRepository struct {
	api           ObjectAPI
	bucket        string
	presignExpiry time.Duration
	logger        logging.Logger
}

// NewRepository builds the object-store repository on top of an established
// client.
func NewRepository(client *Client, logger logging.Logger) Repository {
	return &objectRepository{
		api:           client.API(),
		bucket:        client.Bucket(),
		presignExpiry: client.cfg.PresignExpiry,
		logger:        logger,
	}
}

// SequenceFileKey returns the object key a dataset file is stored under.
func SequenceFileKey(dataset, filename string) (string, error) {
	if err := validateDataset(dataset); err != nil {
		return "", err
	}
	if err := validateFilename(filename); err != nil {
		return "", err
	}
	return datasetRoot + "/" + dataset + "/" + filename, nil
}

// ExportKey returns the object key a generated export is stored under.
func ExportKey(name string) (string, error) {
	if err := validateFilename(name); err != nil {
		return "", err
	}
	return exportPrefix + name, nil
}

func validateDataset(dataset string) error {
	if dataset == "" {
		return errors.New(errors.ErrCodeValidation, "dataset name is required")
	}
	if strings.Contains(dataset, "/") {
		return errors.Newf(errors.ErrCodeValidation, "dataset name %q must not contain '/'", dataset)
	}
	return nil
}

// validateFilename rejects names that would escape the dataset prefix once
// joined into an object key.
func validateFilename(filename string) error {
	if filename == "" {
		return errors.New(errors.ErrCodeValidation, "file name is required")
	}
	if strings.HasPrefix(filename, "/") {
		return errors.Newf(errors.ErrCodeValidation, "file name %q must be relative", filename)
	}
	if cleaned := path.Clean(filename); cleaned != filename || strings.HasPrefix(cleaned, "..") {
		return errors.Newf(errors.ErrCodeValidation, "file name %q is not a clean relative path", filename)
	}
	return nil
}

// contentTypes maps the upload formats the platform understands. Extensions
// missing here fall through to the platform MIME table.
var contentTypes = map[string]string{
	".fasta": "text/x-fasta",
	".fa":    "text/x-fasta",
	".faa":   "text/x-fasta",
	".fna":   "text/x-fasta",
	".csv":   "text/csv",
	".tsv":   "text/tab-separated-values",
	".json":  "application/json",
	".gz":    "application/gzip",
}

func detectContentType(filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	if ct, ok := contentTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func (r *objectRepository) PutSequenceFile(ctx context.Context, dataset, filename string, reader io.Reader, size int64) (*ObjectInfo, error) {
	key, err := SequenceFileKey(dataset, filename)
	if err != nil {
		return nil, err
	}
	contentType := detectContentType(filename)
	info, err := r.api.PutObject(ctx, r.bucket, key, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
		UserTags:    map[string]string{"dataset": dataset},
	})
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrCodeStorageWriteFailed, "failed to store %s", key)
	}
	r.logger.Info("archived dataset file",
		logging.String("key", key),
		logging.Int64("size", info.Size),
		logging.String("content_type", contentType))
	return &ObjectInfo{
		Key:          key,
		Size:         info.Size,
		ETag:         info.ETag,
		ContentType:  contentType,
		LastModified: info.LastModified,
	}, nil
}

func (r *objectRepository) GetSequenceFile(ctx context.Context, dataset, filename string) (io.ReadCloser, *ObjectInfo, error) {
	info, err := r.StatSequenceFile(ctx, dataset, filename)
	if err != nil {
		return nil, nil, err
	}
	obj, err := r.api.GetObject(ctx, r.bucket, info.Key, minio.GetObjectOptions{})
	if err != nil {
		return nil, nil, errors.Wrapf(err, errors.ErrCodeStorageReadFailed, "failed to open %s", info.Key)
	}
	return obj, info, nil
}

func (r *objectRepository) StatSequenceFile(ctx context.Context, dataset, filename string) (*ObjectInfo, error) {
	key, err := SequenceFileKey(dataset, filename)
	if err != nil {
		return nil, err
	}
	info, err := r.api.StatObject(ctx, r.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, errors.Newf(errors.ErrCodeNotFound, "dataset %s has no stored file %s", dataset, filename)
		}
		return nil, errors.Wrapf(err, errors.ErrCodeStorageReadFailed, "failed to stat %s", key)
	}
	return &ObjectInfo{
		Key:          key,
		Size:         info.Size,
		ETag:         info.ETag,
		ContentType:  info.ContentType,
		LastModified: info.LastModified,
	}, nil
}

func (r *objectRepository) ListDataset(ctx context.Context, dataset string) ([]*ObjectInfo, error) {
	if err := validateDataset(dataset); err != nil {
		return nil, err
	}
	prefix := datasetRoot + "/" + dataset + "/"
	var infos []*ObjectInfo
	for obj := range r.api.ListObjects(ctx, r.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, errors.Wrapf(obj.Err, errors.ErrCodeStorageReadFailed, "failed to list objects under %s", prefix)
		}
		infos = append(infos, &ObjectInfo{
			Key:          obj.Key,
			Size:         obj.Size,
			ETag:         obj.ETag,
			ContentType:  obj.ContentType,
			LastModified: obj.LastModified,
		})
	}
	return infos, nil
}

// RemoveSequenceFile deletes one stored dataset file. Removing an object that
// does not exist is not an error, matching S3 delete semantics.
func (r *objectRepository) RemoveSequenceFile(ctx context.Context, dataset, filename string) error {
	key, err := SequenceFileKey(dataset, filename)
	if err != nil {
		return err
	}
	if err := r.api.RemoveObject(ctx, r.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return errors.Wrapf(err, errors.ErrCodeStorageWriteFailed, "failed to remove %s", key)
	}
	return nil
}

func (r *objectRepository) RemoveDataset(ctx context.Context, dataset string) (int, error) {
	infos, err := r.ListDataset(ctx, dataset)
	if err != nil {
		return 0, err
	}
	if len(infos) == 0 {
		return 0, nil
	}

	toRemove := make(chan minio.ObjectInfo, len(infos))
	for _, info := range infos {
		toRemove <- minio.ObjectInfo{Key: info.Key}
	}
	close(toRemove)

	failed := 0
	var lastErr error
	for rmErr := range r.api.RemoveObjects(ctx, r.bucket, toRemove, minio.RemoveObjectsOptions{}) {
		failed++
		lastErr = rmErr.Err
		r.logger.Warn("failed to remove object",
			logging.String("key", rmErr.ObjectName), logging.Err(rmErr.Err))
	}
	removed := len(infos) - failed
	if failed > 0 {
		return removed, errors.Wrapf(lastErr, errors.ErrCodeStorageWriteFailed,
			"failed to remove %d of %d objects for dataset %s", failed, len(infos), dataset)
	}
	r.logger.Info("removed dataset files",
		logging.String("dataset", dataset), logging.Int("count", removed))
	return removed, nil
}

func (r *objectRepository) PutExport(ctx context.Context, name string, reader io.Reader, size int64) (*ObjectInfo, error) {
	key, err := ExportKey(name)
	if err != nil {
		return nil, err
	}
	contentType := detectContentType(name)
	info, err := r.api.PutObject(ctx, r.bucket, key, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrCodeStorageWriteFailed, "failed to store export %s", key)
	}
	r.logger.Info("stored export",
		logging.String("key", key), logging.Int64("size", info.Size))
	return &ObjectInfo{
		Key:          key,
		Size:         info.Size,
		ETag:         info.ETag,
		ContentType:  contentType,
		LastModified: info.LastModified,
	}, nil
}

func (r *objectRepository) PresignDownload(ctx context.Context, key string, expiry time.Duration) (string, error) {
	if key == "" {
		return "", errors.New(errors.ErrCodeValidation, "object key is required")
	}
	if expiry <= 0 {
		expiry = r.presignExpiry
	}
	u, err := r.api.PresignedGetObject(ctx, r.bucket, key, expiry, nil)
	if err != nil {
		return "", errors.Wrapf(err, errors.ErrCodeStorageReadFailed, "failed to presign %s", key)
	}
	return u.String(), nil
}
