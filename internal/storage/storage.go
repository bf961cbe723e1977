// Package storage keeps mail templates in an object storage bucket so they
// can be changed without a redeploy.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/auroraid/apiserver/config"
)

// ErrObjectNotFound is returned by Get for a missing key.
var ErrObjectNotFound = errors.New("object not found")

// ObjectStore is the subset of bucket operations the service needs.
type ObjectStore interface {
	EnsureBucket(ctx context.Context) error
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Bucket() string
}

// Open connects to the bucket named by cfg.Templates.Source.
func Open(ctx context.Context, cfg config.Config) (ObjectStore, error) {
	switch cfg.Templates.Source {
	case config.TemplateSourceMinio:
		return NewMinioStore(cfg.Minio)
	case config.TemplateSourceGCS:
		return NewGCSStore(ctx, cfg.GCS)
	default:
		return nil, fmt.Errorf("template source %q has no object store", cfg.Templates.Source)
	}
}
