package kv

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/lib/pq"
)

// PostgresStore implements Store on the kv_* tables created by the
// migrations in internal/db/migrations.
type PostgresStore struct {
	db      *sql.DB
	timeout time.Duration
}

func NewPostgresStore(db *sql.DB, timeout time.Duration) *PostgresStore {
	return &PostgresStore{db: db, timeout: timeout}
}

func (s *PostgresStore) Get(ctx context.Context, key string) (string, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	const query = `
		SELECT value
		FROM kv_strings
		WHERE key = $1 AND (expires_at IS NULL OR expires_at > now())`
	var value string
	if err := s.db.QueryRowContext(ctx, query, key).Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", postgresError(err)
	}
	return value, nil
}

func (s *PostgresStore) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	const query = `
		INSERT INTO kv_strings (key, value, expires_at)
		VALUES ($1, $2, now() + make_interval(secs => $3))
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value,
			expires_at = EXCLUDED.expires_at`
	var seconds sql.NullFloat64
	if ttl > 0 {
		seconds = sql.NullFloat64{Float64: ttl.Seconds(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, query, key, value, seconds)
	return postgresError(err)
}

func (s *PostgresStore) Delete(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	var deleted int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		n, err := deleteMatching(ctx, tx, "key = ANY($1)", pq.Array(keys))
		deleted = n
		return err
	})
	return deleted, err
}

func (s *PostgresStore) Incr(ctx context.Context, key string) (int64, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	return incrCounter(ctx, s.db, key)
}

func (s *PostgresStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	const query = `SELECT field, value FROM kv_hashes WHERE key = $1`
	rows, err := s.db.QueryContext(ctx, query, key)
	if err != nil {
		return nil, postgresError(err)
	}
	defer rows.Close()

	fields := make(map[string]string)
	for rows.Next() {
		var field, value string
		if err := rows.Scan(&field, &value); err != nil {
			return nil, postgresError(err)
		}
		fields[field] = value
	}
	if err := rows.Err(); err != nil {
		return nil, postgresError(err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return fields, nil
}

func (s *PostgresStore) HSet(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		for field, value := range fields {
			if err := upsertField(ctx, tx, key, field, value); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *PostgresStore) HSetField(ctx context.Context, key, field, value string) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	const query = `UPDATE kv_hashes SET value = $3 WHERE key = $1 AND field = $2`
	result, err := s.db.ExecContext(ctx, query, key, field, value)
	if err != nil {
		return postgresError(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return postgresError(err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CompareAndDelete(ctx context.Context, key, expected string) (bool, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	const query = `
		DELETE FROM kv_strings
		WHERE key = $1 AND value = $2 AND (expires_at IS NULL OR expires_at > now())`
	result, err := s.db.ExecContext(ctx, query, key, expected)
	if err != nil {
		return false, postgresError(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, postgresError(err)
	}
	return affected == 1, nil
}

func (s *PostgresStore) CreateHashWithID(ctx context.Context, key string, fields map[string]string, counterKey, idField string) (int64, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	var id int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		// Serializes creators of the same key until commit.
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
			return postgresError(err)
		}

		var exists bool
		const existsQuery = `SELECT EXISTS (SELECT 1 FROM kv_hashes WHERE key = $1)`
		if err := tx.QueryRowContext(ctx, existsQuery, key).Scan(&exists); err != nil {
			return postgresError(err)
		}
		if exists {
			return ErrExists
		}

		next, err := incrCounter(ctx, tx, counterKey)
		if err != nil {
			return err
		}
		id = next

		if err := upsertField(ctx, tx, key, idField, fmt.Sprintf("%d", id)); err != nil {
			return err
		}
		for field, value := range fields {
			if field == idField {
				continue
			}
			if err := upsertField(ctx, tx, key, field, value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *PostgresStore) DeleteByPrefix(ctx context.Context, prefix string) (int64, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	var deleted int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		n, err := deleteMatching(ctx, tx, "left(key, length($1)) = $1", prefix)
		deleted = n
		return err
	})
	return deleted, err
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return postgresError(err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return postgresError(tx.Commit())
}

type execQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func incrCounter(ctx context.Context, q execQuerier, key string) (int64, error) {
	const query = `
		INSERT INTO kv_counters (key, value)
		VALUES ($1, 1)
		ON CONFLICT (key) DO UPDATE
		SET value = kv_counters.value + 1
		RETURNING value`
	var value int64
	if err := q.QueryRowContext(ctx, query, key).Scan(&value); err != nil {
		return 0, postgresError(err)
	}
	return value, nil
}

func upsertField(ctx context.Context, q execQuerier, key, field, value string) error {
	const query = `
		INSERT INTO kv_hashes (key, field, value)
		VALUES ($1, $2, $3)
		ON CONFLICT (key, field) DO UPDATE
		SET value = EXCLUDED.value`
	_, err := q.ExecContext(ctx, query, key, field, value)
	return postgresError(err)
}

// deleteMatching removes matching keys from every kv table and returns the
// number of distinct keys that existed.
func deleteMatching(ctx context.Context, tx *sql.Tx, predicate string, arg any) (int64, error) {
	var total int64

	result, err := tx.ExecContext(ctx, `DELETE FROM kv_strings WHERE `+predicate, arg)
	if err != nil {
		return 0, postgresError(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, postgresError(err)
	}
	total += n

	var hashes int64
	hashQuery := `WITH deleted AS (DELETE FROM kv_hashes WHERE ` + predicate + ` RETURNING key)
		SELECT COUNT(DISTINCT key) FROM deleted`
	if err := tx.QueryRowContext(ctx, hashQuery, arg).Scan(&hashes); err != nil {
		return 0, postgresError(err)
	}
	total += hashes

	result, err = tx.ExecContext(ctx, `DELETE FROM kv_counters WHERE `+predicate, arg)
	if err != nil {
		return 0, postgresError(err)
	}
	n, err = result.RowsAffected()
	if err != nil {
		return 0, postgresError(err)
	}
	total += n

	return total, nil
}

func postgresError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrExists) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrUnavailable) {
		return err
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Class() == "08" {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return err
}
