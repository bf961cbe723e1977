package kv

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeHarness exposes a backend under test and a way to move its clock.
type storeHarness struct {
	store   Store
	advance func(time.Duration)
}

func runStoreContract(t *testing.T, newHarness func(t *testing.T) storeHarness) {
	t.Run("get missing key", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.store.Get(context.Background(), "missing")
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("set overwrites and expires", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()

		require.NoError(t, h.store.SetWithTTL(ctx, "code:a", "111111", time.Minute))
		require.NoError(t, h.store.SetWithTTL(ctx, "code:a", "222222", time.Minute))

		value, err := h.store.Get(ctx, "code:a")
		require.NoError(t, err)
		assert.Equal(t, "222222", value)

		h.advance(2 * time.Minute)
		_, err = h.store.Get(ctx, "code:a")
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("compare and delete consumes once", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		require.NoError(t, h.store.SetWithTTL(ctx, "code:b", "123456", time.Minute))

		ok, err := h.store.CompareAndDelete(ctx, "code:b", "654321")
		require.NoError(t, err)
		assert.False(t, ok, "mismatched value must not delete")

		ok, err = h.store.CompareAndDelete(ctx, "code:b", "123456")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = h.store.CompareAndDelete(ctx, "code:b", "123456")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("incr is monotonic", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		for want := int64(1); want <= 3; want++ {
			got, err := h.store.Incr(ctx, "counter")
			require.NoError(t, err)
			assert.Equal(t, want, got)
		}
	})

	t.Run("hash round trip", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()

		_, err := h.store.HGetAll(ctx, "user:x")
		require.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, h.store.HSet(ctx, "user:x", map[string]string{"a": "1", "b": "2"}))
		require.NoError(t, h.store.HSetField(ctx, "user:x", "b", "3"))

		fields, err := h.store.HGetAll(ctx, "user:x")
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"a": "1", "b": "3"}, fields)
	})

	t.Run("set field never creates", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()

		err := h.store.HSetField(ctx, "user:gone", "password_hash", "x")
		require.ErrorIs(t, err, ErrNotFound)
		_, err = h.store.HGetAll(ctx, "user:gone")
		require.ErrorIs(t, err, ErrNotFound, "a missing hash must stay missing")

		require.NoError(t, h.store.HSet(ctx, "user:y", map[string]string{"a": "1"}))
		require.ErrorIs(t, h.store.HSetField(ctx, "user:y", "b", "2"), ErrNotFound)
		fields, err := h.store.HGetAll(ctx, "user:y")
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"a": "1"}, fields)
	})

	t.Run("create hash with id is exclusive", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()

		const workers = 8
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			ids     []int64
			existed int
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				id, err := h.store.CreateHashWithID(ctx, "user:race", map[string]string{"username": "race"}, "counter", "id")
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					ids = append(ids, id)
				case errors.Is(err, ErrExists):
					existed++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()

		require.Len(t, ids, 1)
		assert.Equal(t, workers-1, existed)
		assert.Equal(t, int64(1), ids[0])

		fields, err := h.store.HGetAll(ctx, "user:race")
		require.NoError(t, err)
		assert.Equal(t, "1", fields["id"])
		assert.Equal(t, "race", fields["username"])

		next, err := h.store.Incr(ctx, "counter")
		require.NoError(t, err)
		assert.Equal(t, int64(2), next, "losers must not consume ids")
	})

	t.Run("delete by prefix", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()

		require.NoError(t, h.store.HSet(ctx, "user:a@x.com", map[string]string{"id": "1"}))
		require.NoError(t, h.store.HSet(ctx, "user:b@x.com", map[string]string{"id": "2"}))
		require.NoError(t, h.store.SetWithTTL(ctx, "verification_code:a@x.com", "1", time.Minute))

		n, err := h.store.DeleteByPrefix(ctx, "user:")
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		_, err = h.store.HGetAll(ctx, "user:a@x.com")
		require.ErrorIs(t, err, ErrNotFound)
		_, err = h.store.Get(ctx, "verification_code:a@x.com")
		require.NoError(t, err)
	})

	t.Run("delete reports existing keys", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()

		require.NoError(t, h.store.SetWithTTL(ctx, "k1", "v", 0))
		_, err := h.store.Incr(ctx, "k2")
		require.NoError(t, err)

		n, err := h.store.Delete(ctx, "k1", "k2", "k3")
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
	})
}
