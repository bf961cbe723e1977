// Package kv defines the key-value capability the identity core is built on
// and its backends. Values cross this boundary as decoded UTF-8 strings.
package kv

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a key, or every field of a hash, is absent.
	ErrNotFound = errors.New("kv: not found")
	// ErrExists is returned by CreateHashWithID when the hash is already present.
	ErrExists = errors.New("kv: already exists")
	// ErrUnavailable wraps connectivity failures and timeouts.
	ErrUnavailable = errors.New("kv: store unavailable")
)

// Store is the key-value capability shared by every component.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	// SetWithTTL overwrites key. A non-positive ttl stores the value without expiry.
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error
	// Delete removes keys of any kind and reports how many existed.
	Delete(ctx context.Context, keys ...string) (int64, error)
	Incr(ctx context.Context, key string) (int64, error)

	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HSet(ctx context.Context, key string, fields map[string]string) error
	// HSetField replaces the value of a field that already exists. It
	// returns ErrNotFound and writes nothing when the hash or field is absent.
	HSetField(ctx context.Context, key, field, value string) error

	// CompareAndDelete deletes key only if it currently holds expected.
	CompareAndDelete(ctx context.Context, key, expected string) (bool, error)
	// CreateHashWithID atomically checks that key is absent, increments
	// counterKey and writes fields plus idField=<new value>. It returns
	// ErrExists without touching the counter when key is present.
	CreateHashWithID(ctx context.Context, key string, fields map[string]string, counterKey, idField string) (int64, error)
	// DeleteByPrefix removes every key starting with prefix.
	DeleteByPrefix(ctx context.Context, prefix string) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}
