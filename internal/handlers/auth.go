package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/auroraid/apiserver/internal/services"
)

// AuthHandler serves the verification-code and login endpoints.
type AuthHandler struct {
	auth     *services.AuthService
	validate *validator.Validate
}

func NewAuthHandler(auth *services.AuthService) *AuthHandler {
	return &AuthHandler{auth: auth, validate: newValidator()}
}

// AuthRouter registers auth routes on the given router.
func AuthRouter(r chi.Router, auth *services.AuthService) {
	handler := NewAuthHandler(auth)

	r.Post("/send_verification_code", handler.SendVerificationCode)
	r.Post("/login", handler.Login)
	r.Post("/change_password", handler.ChangePassword)
}

type SendCodeRequest struct {
	Email string `json:"email" validate:"identity"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"identity"`
	Password string `json:"password" validate:"max=72"`
	Code     string `json:"code" validate:"max=16"`
}

type ChangePasswordRequest struct {
	Email       string `json:"email" validate:"required,identity"`
	OldPassword string `json:"old_password" validate:"required"`
	NewPassword string `json:"new_password" validate:"required,max=72"`
}

var sendCodeStatus = statusOverrides{services.CodeInvalidEmail: http.StatusBadRequest}

var changePasswordStatus = statusOverrides{
	services.CodeInvalidEmail: http.StatusBadRequest,
	services.CodeUserNotFound: http.StatusNotFound,
}

// SendVerificationCode mails a fresh one-time code to the address.
func (h *AuthHandler) SendVerificationCode(w http.ResponseWriter, r *http.Request) {
	var req SendCodeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err, sendCodeStatus)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, r, validationError(err), sendCodeStatus)
		return
	}

	if err := h.auth.SendCode(r.Context(), req.Email); err != nil {
		writeError(w, r, err, sendCodeStatus)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Message: "verification code sent to your email"})
}

// Login signs in with a code or a password. A valid code for a new address
// registers it.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err, nil)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, r, validationError(err), nil)
		return
	}

	result, err := h.auth.Login(r.Context(), services.LoginInput{
		Email:    req.Email,
		Password: req.Password,
		Code:     req.Code,
	})
	if err != nil {
		writeError(w, r, err, nil)
		return
	}

	message := "login successful"
	switch {
	case result.Registered && result.WelcomeSent:
		message = "account registered, your initial password has been sent to your email"
	case result.Registered:
		message = "account registered, but the initial password email could not be delivered"
	}
	writeJSON(w, http.StatusOK, Response{
		Success: true,
		Message: message,
		Data:    &UserData{Username: result.Username, ID: result.ID},
	})
}

// ChangePassword replaces the password after checking the old one.
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req ChangePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err, changePasswordStatus)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, r, validationError(err), changePasswordStatus)
		return
	}

	err := h.auth.ChangePassword(r.Context(), services.ChangePasswordInput{
		Email:       req.Email,
		OldPassword: req.OldPassword,
		NewPassword: req.NewPassword,
	})
	if err != nil {
		writeError(w, r, err, changePasswordStatus)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Message: "password changed"})
}
