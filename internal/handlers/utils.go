package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/hlog"

	"github.com/auroraid/apiserver/internal/services"
)

const maxBodyBytes = 1 << 20

// Response is the envelope of every auth endpoint.
type Response struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	Data      *UserData `json:"data,omitempty"`
	ErrorCode string    `json:"error_code,omitempty"`
}

type UserData struct {
	Username string `json:"username"`
	ID       int64  `json:"id"`
}

// statusOverrides replaces the default status for some codes on one endpoint.
type statusOverrides map[services.Code]int

// statusFor maps a service error code to an HTTP status. Recoverable
// credential failures are reported as 200 with success=false.
func statusFor(code services.Code, overrides statusOverrides) int {
	if status, ok := overrides[code]; ok {
		return status
	}
	switch code {
	case services.CodeInvalidEmail,
		services.CodeMissingCredential,
		services.CodeCodeMismatch,
		services.CodeUserNotFound,
		services.CodeWrongPassword:
		return http.StatusOK
	case services.CodeInvalidRequest,
		services.CodeMissingFields,
		services.CodeWrongOldPassword:
		return http.StatusBadRequest
	case services.CodeStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

// writeError logs the cause and writes only the client-safe message.
func writeError(w http.ResponseWriter, r *http.Request, err error, overrides statusOverrides) {
	serr := services.AsError(err)
	status := statusFor(serr.Code, overrides)

	logger := hlog.FromRequest(r)
	event := logger.Debug()
	if status >= http.StatusInternalServerError {
		event = logger.Error()
	}
	event.Err(serr.Cause).Str("error_code", string(serr.Code)).Msg(serr.Message)

	writeJSON(w, status, Response{Success: false, Message: serr.Message, ErrorCode: string(serr.Code)})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return services.NewError(services.CodeInvalidRequest, "request body must be a JSON object")
	}
	return nil
}

func newValidator() *validator.Validate {
	v := services.NewValidator()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return field.Name
		}
		return name
	})
	return v
}

// validationError turns the first failed rule into a service error.
func validationError(err error) error {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) || len(ve) == 0 {
		return services.NewError(services.CodeInvalidRequest, "invalid request")
	}

	fe := ve[0]
	switch fe.Tag() {
	case "required":
		return services.NewError(services.CodeMissingFields, fe.Field()+" is required")
	case "identity":
		if fe.Value() == "" {
			return services.NewError(services.CodeInvalidEmail, "email is required")
		}
		return services.NewError(services.CodeInvalidEmail, "invalid email format")
	case "max":
		return services.NewError(services.CodeInvalidRequest, fe.Field()+" must be at most "+fe.Param()+" characters")
	default:
		return services.NewError(services.CodeInvalidRequest, fe.Field()+" is invalid")
	}
}
