package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/auroraid/apiserver/config"
)

// MinioStore is an ObjectStore on MinIO or any S3-compatible endpoint.
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore constructs a MinIO client for the configured bucket.
func NewMinioStore(cfg config.MinioConfig) (*MinioStore, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, errors.New("MINIO_ENDPOINT is required")
	}
	if strings.TrimSpace(cfg.AccessKey) == "" || strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, errors.New("MINIO_ACCESS_KEY and MINIO_SECRET_KEY are required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("MINIO_BUCKET is required")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &MinioStore{client: client, bucket: cfg.Bucket}, nil
}

// EnsureBucket ensures the bucket exists, creating it if needed.
func (m *MinioStore) EnsureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{})
}

// Put uploads an object to the bucket.
func (m *MinioStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	_, err := m.client.PutObject(ctx, m.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	return err
}

// Get reads the whole object. GetObject is lazy, so a missing key only
// surfaces on the first read.
func (m *MinioStore) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, minioError(err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, minioError(err)
	}
	return data, nil
}

// Bucket returns the configured bucket name.
func (m *MinioStore) Bucket() string {
	return m.bucket
}

func minioError(err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return fmt.Errorf("%w: %v", ErrObjectNotFound, err)
	}
	return err
}
