package services

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/auroraid/apiserver/internal/credentials"
	"github.com/auroraid/apiserver/internal/store"
	"github.com/auroraid/apiserver/internal/verification"
	"github.com/auroraid/apiserver/types"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByEmail(ctx context.Context, email string) (types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	UpdatePasswordHash(ctx context.Context, email, passwordHash string) error
}

// CodeVerifier issues and checks verification codes.
type CodeVerifier interface {
	NewCode() (string, error)
	StoreCode(ctx context.Context, email, code string) error
	VerifyCode(ctx context.Context, email, code string) (verification.Result, error)
}

// PasswordManager hashes and generates passwords.
type PasswordManager interface {
	HashPassword(plaintext string) (string, error)
	ComparePassword(plaintext, digest string) bool
	GenerateRandomPassword() (string, error)
}

// Notifier delivers account emails. Failures are reported as false.
type Notifier interface {
	SendVerificationEmail(ctx context.Context, email, code string) bool
	SendWelcomeEmail(ctx context.Context, email, password string) bool
}

// LoginInput carries one login attempt. Code takes precedence over Password.
type LoginInput struct {
	Email    string
	Password string
	Code     string
}

// LoginResult describes a successful login.
type LoginResult struct {
	Username string
	ID       int64
	// Registered is set when this login created the account.
	Registered bool
	// WelcomeSent reports whether the initial password was delivered.
	WelcomeSent bool
}

// ChangePasswordInput carries a password change request.
type ChangePasswordInput struct {
	Email       string
	OldPassword string
	NewPassword string
}

// AuthService encapsulates login, registration and password use-cases.
type AuthService struct {
	users     UserRepository
	codes     CodeVerifier
	passwords PasswordManager
	notifier  Notifier
}

func NewAuthService(users UserRepository, codes CodeVerifier, passwords PasswordManager, notifier Notifier) *AuthService {
	return &AuthService{
		users:     users,
		codes:     codes,
		passwords: passwords,
		notifier:  notifier,
	}
}

// SendCode issues a fresh code for email, replacing any pending one, and
// mails it.
func (s *AuthService) SendCode(ctx context.Context, email string) error {
	email, err := checkEmail(email)
	if err != nil {
		return err
	}

	code, err := s.codes.NewCode()
	if err != nil {
		return wrapError(CodeInternal, "internal server error", err)
	}
	if err := s.codes.StoreCode(ctx, email, code); err != nil {
		return storeError(err)
	}
	if !s.notifier.SendVerificationEmail(ctx, email, code) {
		return NewError(CodeSendFailed, "failed to send verification code")
	}

	zerolog.Ctx(ctx).Info().Str("email", email).Msg("verification code sent")
	return nil
}

// Login authenticates by code or password. A valid code for an unknown
// email registers the account.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (LoginResult, error) {
	email, err := checkEmail(in.Email)
	if err != nil {
		return LoginResult{}, err
	}

	user, found, err := s.lookup(ctx, email)
	if err != nil {
		return LoginResult{}, err
	}

	if code := strings.TrimSpace(in.Code); code != "" {
		return s.loginWithCode(ctx, email, code, user, found)
	}
	if in.Password != "" {
		if !found {
			return LoginResult{}, NewError(CodeUserNotFound, "user not found")
		}
		if !s.passwords.ComparePassword(in.Password, user.PasswordHash) {
			return LoginResult{}, NewError(CodeWrongPassword, "wrong password")
		}
		return LoginResult{Username: user.Username, ID: user.ID}, nil
	}
	return LoginResult{}, NewError(CodeMissingCredential, "password or verification code is required")
}

func (s *AuthService) loginWithCode(ctx context.Context, email, code string, user types.User, found bool) (LoginResult, error) {
	result, err := s.codes.VerifyCode(ctx, email, code)
	if err != nil {
		return LoginResult{}, storeError(err)
	}
	if !result.Valid {
		zerolog.Ctx(ctx).Debug().Str("email", email).Str("reason", string(result.Reason)).Msg("code rejected")
		return LoginResult{}, NewError(CodeCodeMismatch, "invalid verification code")
	}
	if found {
		return LoginResult{Username: user.Username, ID: user.ID}, nil
	}
	return s.register(ctx, email)
}

func (s *AuthService) register(ctx context.Context, email string) (LoginResult, error) {
	logger := zerolog.Ctx(ctx)

	username, ok := usernameFromEmail(email)
	if !ok {
		return LoginResult{}, NewError(CodeInvalidEmail, "invalid email format")
	}

	password, err := s.passwords.GenerateRandomPassword()
	if err != nil {
		return LoginResult{}, wrapError(CodeUserInitFailed, "failed to initialize user", err)
	}
	hash, err := s.passwords.HashPassword(password)
	if err != nil {
		return LoginResult{}, wrapError(CodeUserInitFailed, "failed to initialize user", err)
	}

	// The welcome mail is not retracted if the write below fails.
	welcomeSent := s.notifier.SendWelcomeEmail(ctx, email, password)
	if !welcomeSent {
		logger.Warn().Str("email", email).Msg("welcome email not delivered")
	}

	created, err := s.users.Create(ctx, types.User{
		Email:          email,
		Username:       username,
		PasswordHash:   hash,
		PasswordOrigin: types.PasswordSystemGenerated,
	})
	if err != nil {
		if !errors.Is(err, store.ErrAlreadyExists) {
			return LoginResult{}, wrapError(CodeUserInitFailed, "failed to initialize user", err)
		}
		// A concurrent registration for this email won.
		existing, err := s.users.GetByEmail(ctx, email)
		if err != nil {
			return LoginResult{}, wrapError(CodeUserInitFailed, "failed to initialize user", err)
		}
		logger.Warn().
			Str("email", email).
			Int64("user_id", existing.ID).
			Bool("welcome_sent", welcomeSent).
			Msg("registration lost to a concurrent create; the mailed initial password is invalid")
		return LoginResult{Username: existing.Username, ID: existing.ID}, nil
	}

	logger.Info().Str("email", email).Int64("user_id", created.ID).Bool("welcome_sent", welcomeSent).Msg("user registered")
	return LoginResult{
		Username:    created.Username,
		ID:          created.ID,
		Registered:  true,
		WelcomeSent: welcomeSent,
	}, nil
}

// ChangePassword replaces the password of an existing user after checking
// the old one. The password origin is left as is.
func (s *AuthService) ChangePassword(ctx context.Context, in ChangePasswordInput) error {
	if strings.TrimSpace(in.Email) == "" || in.OldPassword == "" || in.NewPassword == "" {
		return NewError(CodeMissingFields, "email, old_password and new_password are required")
	}
	email, err := checkEmail(in.Email)
	if err != nil {
		return err
	}

	user, found, err := s.lookup(ctx, email)
	if err != nil {
		return err
	}
	if !found {
		return NewError(CodeUserNotFound, "user not found")
	}
	if !s.passwords.ComparePassword(in.OldPassword, user.PasswordHash) {
		return NewError(CodeWrongOldPassword, "old password is incorrect")
	}

	hash, err := s.passwords.HashPassword(in.NewPassword)
	if err != nil {
		if errors.Is(err, credentials.ErrPasswordTooLong) {
			return NewError(CodeInvalidRequest, "new password must be at most 72 bytes")
		}
		return wrapError(CodeInternal, "internal server error", err)
	}
	if err := s.users.UpdatePasswordHash(ctx, email, hash); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Deleted after the lookup above.
			return NewError(CodeUserNotFound, "user not found")
		}
		return storeError(err)
	}

	zerolog.Ctx(ctx).Info().Str("email", email).Int64("user_id", user.ID).Msg("password changed")
	return nil
}

func (s *AuthService) lookup(ctx context.Context, email string) (types.User, bool, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, false, nil
		}
		return types.User{}, false, storeError(err)
	}
	return user, true, nil
}

func checkEmail(raw string) (string, error) {
	email := NormalizeEmail(raw)
	if email == "" {
		return "", NewError(CodeInvalidEmail, "email is required")
	}
	if !ValidEmail(email) {
		return "", NewError(CodeInvalidEmail, "invalid email format")
	}
	return email, nil
}
