package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/auroraid/apiserver/config"
)

// GCSStore is an ObjectStore on Google Cloud Storage.
type GCSStore struct {
	client    *storage.Client
	bucket    string
	projectID string
}

// NewGCSStore constructs a GCS client, using CredentialsFile when set.
func NewGCSStore(ctx context.Context, cfg config.GCSConfig) (*GCSStore, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("GCS_BUCKET is required")
	}

	var opts []option.ClientOption
	if strings.TrimSpace(cfg.CredentialsFile) != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	return &GCSStore{client: client, bucket: cfg.Bucket, projectID: cfg.ProjectID}, nil
}

// EnsureBucket ensures the bucket exists, creating it if needed.
func (g *GCSStore) EnsureBucket(ctx context.Context) error {
	_, err := g.client.Bucket(g.bucket).Attrs(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, storage.ErrBucketNotExist) {
		return err
	}
	if strings.TrimSpace(g.projectID) == "" {
		return errors.New("GCS_PROJECT_ID is required to create the bucket")
	}
	return g.client.Bucket(g.bucket).Create(ctx, g.projectID, nil)
}

// Put uploads an object to the bucket.
func (g *GCSStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	writer := g.client.Bucket(g.bucket).Object(key).NewWriter(ctx)
	if strings.TrimSpace(contentType) != "" {
		writer.ContentType = contentType
	}
	if _, err := io.Copy(writer, r); err != nil {
		_ = writer.Close()
		return err
	}
	return writer.Close()
}

// Get reads the whole object.
func (g *GCSStore) Get(ctx context.Context, key string) ([]byte, error) {
	reader, err := g.client.Bucket(g.bucket).Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
		return nil, err
	}
	defer reader.Close()
	return io.ReadAll(reader)
}

// Bucket returns the configured bucket name.
func (g *GCSStore) Bucket() string {
	return g.bucket
}
