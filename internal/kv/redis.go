package kv

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/auroraid/apiserver/config"
	"github.com/redis/go-redis/v9"
)

const scanBatchSize = 100

var compareAndDeleteScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var setExistingFieldScript = redis.NewScript(`
if redis.call("HEXISTS", KEYS[1], ARGV[1]) == 1 then
	redis.call("HSET", KEYS[1], ARGV[1], ARGV[2])
	return 1
end
return 0
`)

// KEYS[1] hash key, KEYS[2] counter key, ARGV[1] id field, ARGV[2..] field/value pairs.
var createHashWithIDScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
	return -1
end
local id = redis.call("INCR", KEYS[2])
redis.call("HSET", KEYS[1], ARGV[1], tostring(id))
for i = 2, #ARGV, 2 do
	redis.call("HSET", KEYS[1], ARGV[i], ARGV[i + 1])
end
return id
`)

// RedisStore implements Store on a Redis server.
type RedisStore struct {
	client  *redis.Client
	timeout time.Duration
}

// NewRedisStore dials Redis from config and verifies the connection.
func NewRedisStore(ctx context.Context, cfg config.RedisConfig, timeout time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	})

	store := NewRedisStoreFromClient(client, timeout)
	if err := store.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return store, nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, timeout time.Duration) *RedisStore {
	return &RedisStore{client: client, timeout: timeout}
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	value, err := s.client.Get(ctx, key).Result()
	if err != nil {
		return "", redisError(err)
	}
	return value, nil
}

func (s *RedisStore) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	if ttl < 0 {
		ttl = 0
	}
	return redisError(s.client.Set(ctx, key, value, ttl).Err())
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	n, err := s.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, redisError(err)
	}
	return n, nil
}

func (s *RedisStore) Incr(ctx context.Context, key string) (int64, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	n, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, redisError(err)
	}
	return n, nil
}

func (s *RedisStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	fields, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, redisError(err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return fields, nil
}

func (s *RedisStore) HSet(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	values := make(map[string]any, len(fields))
	for field, value := range fields {
		values[field] = value
	}
	return redisError(s.client.HSet(ctx, key, values).Err())
}

func (s *RedisStore) HSetField(ctx context.Context, key, field, value string) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	n, err := setExistingFieldScript.Run(ctx, s.client, []string{key}, field, value).Int64()
	if err != nil {
		return redisError(err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *RedisStore) CompareAndDelete(ctx context.Context, key, expected string) (bool, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	n, err := compareAndDeleteScript.Run(ctx, s.client, []string{key}, expected).Int64()
	if err != nil {
		return false, redisError(err)
	}
	return n == 1, nil
}

func (s *RedisStore) CreateHashWithID(ctx context.Context, key string, fields map[string]string, counterKey, idField string) (int64, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	args := make([]any, 0, 1+2*len(fields))
	args = append(args, idField)
	for field, value := range fields {
		if field == idField {
			continue
		}
		args = append(args, field, value)
	}

	id, err := createHashWithIDScript.Run(ctx, s.client, []string{key, counterKey}, args...).Int64()
	if err != nil {
		return 0, redisError(err)
	}
	if id < 0 {
		return 0, ErrExists
	}
	return id, nil
}

func (s *RedisStore) DeleteByPrefix(ctx context.Context, prefix string) (int64, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	var (
		cursor  uint64
		deleted int64
	)
	pattern := escapeGlob(prefix) + "*"
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, scanBatchSize).Result()
		if err != nil {
			return deleted, redisError(err)
		}
		if len(keys) > 0 {
			n, err := s.client.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, redisError(err)
			}
			deleted += n
		}
		cursor = next
		if cursor == 0 {
			return deleted, nil
		}
	}
}

func (s *RedisStore) Ping(ctx context.Context) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Client exposes the underlying go-redis client.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

func redisError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if isConnectivityError(err) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return err
}

func isConnectivityError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.EOF) ||
		errors.Is(err, redis.ErrClosed) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
