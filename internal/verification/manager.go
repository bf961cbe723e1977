// Package verification issues and checks one-time email verification codes.
package verification

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"time"

	"github.com/auroraid/apiserver/internal/store"
)

const (
	DefaultCodeLength = 6
	DefaultTTL        = 300 * time.Second
)

// Reason explains the outcome of VerifyCode.
type Reason string

const (
	ReasonOK               Reason = "ok"
	ReasonMismatch         Reason = "mismatch"
	ReasonExpiredOrMissing Reason = "expired_or_missing"
)

// Result is the outcome of checking a submitted code.
type Result struct {
	Valid  bool
	Reason Reason
}

// CodeRepository stores pending codes keyed by email.
type CodeRepository interface {
	Save(ctx context.Context, email, code string, ttl time.Duration) error
	Get(ctx context.Context, email string) (string, error)
	Consume(ctx context.Context, email, code string) (bool, error)
}

// Manager generates, stores and consumes verification codes.
type Manager struct {
	codes  CodeRepository
	length int
	ttl    time.Duration
}

// NewManager builds a Manager. Non-positive length or ttl fall back to the defaults.
func NewManager(codes CodeRepository, length int, ttl time.Duration) *Manager {
	if length <= 0 {
		length = DefaultCodeLength
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{codes: codes, length: length, ttl: ttl}
}

// TTL returns how long stored codes stay valid.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// NewCode returns a code of the configured length.
func (m *Manager) NewCode() (string, error) {
	return GenerateCode(m.length)
}

// StoreCode saves code for email, replacing any pending code.
func (m *Manager) StoreCode(ctx context.Context, email, code string) error {
	return m.codes.Save(ctx, email, code, m.ttl)
}

// VerifyCode checks code against the pending code for email. A matching code
// is consumed before VerifyCode returns, so it verifies at most once.
func (m *Manager) VerifyCode(ctx context.Context, email, code string) (Result, error) {
	stored, err := m.codes.Get(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Result{Reason: ReasonExpiredOrMissing}, nil
		}
		return Result{}, err
	}
	if stored != code {
		return Result{Reason: ReasonMismatch}, nil
	}

	consumed, err := m.codes.Consume(ctx, email, code)
	if err != nil {
		return Result{}, err
	}
	if !consumed {
		// Expired or taken by a concurrent verification since the read.
		return Result{Reason: ReasonExpiredOrMissing}, nil
	}
	return Result{Valid: true, Reason: ReasonOK}, nil
}

var ten = big.NewInt(10)

// GenerateCode returns length uniformly random decimal digits.
func GenerateCode(length int) (string, error) {
	if length <= 0 {
		return "", errors.New("code length must be positive")
	}
	digits := make([]byte, length)
	for i := range digits {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		digits[i] = byte('0' + n.Int64())
	}
	return string(digits), nil
}
