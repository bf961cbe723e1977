package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/auroraid/apiserver/internal/kv"
	"github.com/auroraid/apiserver/types"
)

const (
	userKeyPrefix  = "user:"
	userCounterKey = "user_counter"

	fieldID             = "id"
	fieldUsername       = "username"
	fieldPasswordHash   = "password_hash"
	fieldPasswordOrigin = "password_origin"
)

// UserKey returns the store key of the record for email.
func UserKey(email string) string {
	return userKeyPrefix + email
}

// UserRepository handles persistence for users.
type UserRepository struct {
	kv kv.Store
}

func NewUserRepository(store kv.Store) *UserRepository {
	return &UserRepository{kv: store}
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (types.User, error) {
	fields, err := r.kv.HGetAll(ctx, UserKey(email))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, err
	}
	return decodeUser(email, fields)
}

// Create allocates the next user id and writes the record in one atomic
// store operation. It returns ErrAlreadyExists if a record for the email is
// already present, in which case no id is consumed.
func (r *UserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	fields := map[string]string{
		fieldUsername:       user.Username,
		fieldPasswordHash:   user.PasswordHash,
		fieldPasswordOrigin: string(user.PasswordOrigin),
	}

	id, err := r.kv.CreateHashWithID(ctx, UserKey(user.Email), fields, userCounterKey, fieldID)
	if err != nil {
		if errors.Is(err, kv.ErrExists) {
			return types.User{}, ErrAlreadyExists
		}
		return types.User{}, err
	}
	user.ID = id
	return user, nil
}

// UpdatePasswordHash overwrites the stored digest in place. It returns
// ErrNotFound when the record no longer exists.
func (r *UserRepository) UpdatePasswordHash(ctx context.Context, email, passwordHash string) error {
	err := r.kv.HSetField(ctx, UserKey(email), fieldPasswordHash, passwordHash)
	if errors.Is(err, kv.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

// DeleteAll removes every user record and resets the id counter.
func (r *UserRepository) DeleteAll(ctx context.Context) (int64, error) {
	deleted, err := r.kv.DeleteByPrefix(ctx, userKeyPrefix)
	if err != nil {
		return deleted, err
	}
	if _, err := r.kv.Delete(ctx, userCounterKey); err != nil {
		return deleted, err
	}
	return deleted, nil
}

func decodeUser(email string, fields map[string]string) (types.User, error) {
	id, err := strconv.ParseInt(fields[fieldID], 10, 64)
	if err != nil {
		return types.User{}, fmt.Errorf("decode user %q id: %w", email, err)
	}
	return types.User{
		ID:             id,
		Email:          email,
		Username:       fields[fieldUsername],
		PasswordHash:   fields[fieldPasswordHash],
		PasswordOrigin: types.PasswordOrigin(fields[fieldPasswordOrigin]),
	}, nil
}
