package persistence

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectStore is the subset of object storage the ArrowWriter needs
type ObjectStore interface {
	Upload(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) (minio.UploadInfo, error)
}

// MinioStorage provides an interface to MinIO object storage
type MinioStorage struct {
	client     *minio.Client
	bucketName string
	basePath   string
}

// MinioConfig contains configuration for MinIO client
type MinioConfig struct {
	Endpoint   string
	AccessKey  string
	SecretKey  string
	UseSSL     bool
	Region     string
	BucketName string
	BasePath   string
}

// NewMinioStorage creates a MinIO storage client and makes sure the bucket exists
func NewMinioStorage(ctx context.Context, cfg MinioConfig) (*MinioStorage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	storage := &MinioStorage{
		client:     client,
		bucketName: cfg.BucketName,
		basePath:   cfg.BasePath,
	}

	if err := storage.ensureBucketExists(ctx); err != nil {
		return nil, err
	}
	return storage, nil
}

// ensureBucketExists creates the bucket if it doesn't exist
func (ms *MinioStorage) ensureBucketExists(ctx context.Context) error {
	exists, err := ms.client.BucketExists(ctx, ms.bucketName)
	if err != nil {
		return fmt.Errorf("failed to check if bucket %s exists: %w", ms.bucketName, err)
	}

	if !exists {
		err = ms.client.MakeBucket(ctx, ms.bucketName, minio.MakeBucketOptions{})
		if err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", ms.bucketName, err)
		}
	}

	return nil
}

// objectKey prepends the base path and strips leading slashes
func (ms *MinioStorage) objectKey(name string) string {
	name = strings.TrimPrefix(name, "/")
	if ms.basePath != "" {
		name = path.Join(ms.basePath, name)
	}
	return name
}

// Upload uploads data to MinIO
func (ms *MinioStorage) Upload(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) (minio.UploadInfo, error) {
	objectName = ms.objectKey(objectName)

	info, err := ms.client.PutObject(ctx, ms.bucketName, objectName, reader, size,
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return minio.UploadInfo{}, fmt.Errorf("failed to upload object %s: %w", objectName, err)
	}

	return info, nil
}

// Download opens an object for reading
func (ms *MinioStorage) Download(ctx context.Context, objectName string) (*minio.Object, error) {
	objectName = ms.objectKey(objectName)

	obj, err := ms.client.GetObject(ctx, ms.bucketName, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to download object %s: %w", objectName, err)
	}

	return obj, nil
}

// ListObjects lists objects with the given prefix. Returned keys include the base path.
func (ms *MinioStorage) ListObjects(ctx context.Context, prefix string, recursive bool) <-chan minio.ObjectInfo {
	prefix = strings.TrimPrefix(prefix, "/")
	if ms.basePath != "" {
		prefix = path.Join(ms.basePath, prefix)
		if !strings.HasSuffix(prefix, "/") {
			prefix += "/"
		}
	}

	return ms.client.ListObjects(ctx, ms.bucketName, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: recursive,
	})
}

// BuildObjectPath builds the Hive-style key of a batch file:
// <table>/network=<network>/date=<YYYY-MM-DD>/block_batch=<start>-<end>/<filename>
func BuildObjectPath(table, network, date string, startBlock, endBlock uint64, filename string) string {
	return fmt.Sprintf("%s/network=%s/date=%s/block_batch=%d-%d/%s",
		table,
		network,
		date,
		startBlock,
		endBlock,
		filename)
}
