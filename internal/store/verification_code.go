package store

import (
	"context"
	"errors"
	"time"

	"github.com/auroraid/apiserver/internal/kv"
)

const codeKeyPrefix = "verification_code:"

// CodeKey returns the store key of the pending code for email.
func CodeKey(email string) string {
	return codeKeyPrefix + email
}

// CodeRepository handles persistence for pending verification codes.
type CodeRepository struct {
	kv kv.Store
}

func NewCodeRepository(store kv.Store) *CodeRepository {
	return &CodeRepository{kv: store}
}

// Save stores code for email, replacing any pending code.
func (r *CodeRepository) Save(ctx context.Context, email, code string, ttl time.Duration) error {
	return r.kv.SetWithTTL(ctx, CodeKey(email), code, ttl)
}

func (r *CodeRepository) Get(ctx context.Context, email string) (string, error) {
	code, err := r.kv.Get(ctx, CodeKey(email))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", err
	}
	return code, nil
}

// Consume deletes the pending code only if it equals code. It reports
// whether this call removed it.
func (r *CodeRepository) Consume(ctx context.Context, email, code string) (bool, error) {
	return r.kv.CompareAndDelete(ctx, CodeKey(email), code)
}

// DeleteAll removes every pending code.
func (r *CodeRepository) DeleteAll(ctx context.Context) (int64, error) {
	return r.kv.DeleteByPrefix(ctx, codeKeyPrefix)
}
