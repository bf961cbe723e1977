package services

import (
	"errors"

	"github.com/auroraid/apiserver/internal/kv"
)

// Code is a machine-readable error code returned to clients.
type Code string

const (
	CodeInvalidRequest    Code = "invalid_request"
	CodeInvalidEmail      Code = "invalid_email"
	CodeMissingCredential Code = "missing_credential"
	CodeMissingFields     Code = "missing_fields"
	CodeCodeMismatch      Code = "code_mismatch"
	CodeUserNotFound      Code = "user_not_found"
	CodeWrongPassword     Code = "wrong_password"
	CodeWrongOldPassword  Code = "wrong_old_password"
	CodeUserInitFailed    Code = "user_init_failed"
	CodeSendFailed        Code = "send_failed"
	CodeStoreUnavailable  Code = "store_unavailable"
	CodeInternal          Code = "internal"
)

// Error is the service error type. Message is safe to show to clients;
// Cause is for logs only.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// NewError returns an Error without a cause.
func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func wrapError(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// CodeOf returns the code carried by err, or CodeInternal for foreign errors.
func CodeOf(err error) Code {
	var serr *Error
	if errors.As(err, &serr) {
		return serr.Code
	}
	return CodeInternal
}

// AsError converts err to an *Error, wrapping foreign errors as internal.
func AsError(err error) *Error {
	var serr *Error
	if errors.As(err, &serr) {
		return serr
	}
	return wrapError(CodeInternal, "internal server error", err)
}

func storeError(err error) *Error {
	if errors.Is(err, kv.ErrUnavailable) {
		return wrapError(CodeStoreUnavailable, "authentication service is temporarily unavailable", err)
	}
	return wrapError(CodeInternal, "internal server error", err)
}
