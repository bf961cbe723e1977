package services

import (
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var emailPattern = regexp.MustCompile(`^[\w.-]+@[\w.-]+\.\w+$`)

// NewValidator returns a validator with the "identity" tag registered for
// email identities.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("identity", validateIdentity)
	return v
}

func validateIdentity(fl validator.FieldLevel) bool {
	return ValidEmail(NormalizeEmail(fl.Field().String()))
}

// ValidEmail reports whether email has the local@domain.tld shape.
func ValidEmail(email string) bool {
	return emailPattern.MatchString(email)
}

// NormalizeEmail trims surrounding space and lower-cases the identity.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// usernameFromEmail returns the part of email before the first '@'.
func usernameFromEmail(email string) (string, bool) {
	local, _, found := strings.Cut(email, "@")
	if !found || local == "" {
		return "", false
	}
	return local, true
}
