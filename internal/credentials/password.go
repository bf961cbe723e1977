// Package credentials hashes, compares and generates passwords.
package credentials

import (
	"crypto/rand"
	"errors"
	"math/big"

	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultPasswordLength = 12
	// MaxPasswordBytes is the longest input bcrypt accepts.
	MaxPasswordBytes = 72

	passwordAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!@#$%^&*"
)

// ErrPasswordTooLong is returned for passwords over MaxPasswordBytes.
var ErrPasswordTooLong = errors.New("password exceeds 72 bytes")

// Manager hashes passwords with bcrypt and issues system passwords.
type Manager struct {
	cost           int
	passwordLength int
}

// NewManager builds a Manager. Out-of-range cost uses bcrypt.DefaultCost and a
// non-positive length uses DefaultPasswordLength.
func NewManager(cost, passwordLength int) *Manager {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	if passwordLength <= 0 {
		passwordLength = DefaultPasswordLength
	}
	return &Manager{cost: cost, passwordLength: passwordLength}
}

// HashPassword returns a salted bcrypt digest of the UTF-8 password.
func (m *Manager) HashPassword(plaintext string) (string, error) {
	if len(plaintext) > MaxPasswordBytes {
		return "", ErrPasswordTooLong
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), m.cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// ComparePassword reports whether plaintext matches digest.
func (m *Manager) ComparePassword(plaintext, digest string) bool {
	if digest == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(plaintext)) == nil
}

// GenerateRandomPassword returns a password of the configured length.
func (m *Manager) GenerateRandomPassword() (string, error) {
	return GenerateRandomPassword(m.passwordLength)
}

// GenerateRandomPassword draws length characters from letters, digits and
// the symbols !@#$%^&*.
func GenerateRandomPassword(length int) (string, error) {
	if length <= 0 {
		return "", errors.New("password length must be positive")
	}
	max := big.NewInt(int64(len(passwordAlphabet)))
	out := make([]byte, length)
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = passwordAlphabet[n.Int64()]
	}
	return string(out), nil
}
