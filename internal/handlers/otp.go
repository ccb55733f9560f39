package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/nkiryanov/gopherauth/internal/apperrors"
	"github.com/nkiryanov/gopherauth/internal/handlers/render"
	"github.com/nkiryanov/gopherauth/internal/logger"
	"github.com/nkiryanov/gopherauth/internal/models"
)

type otpSentResponse struct {
	Message   string    `json:"message"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expires_at"`
}

func sendOTP(w http.ResponseWriter, r *http.Request, s authService, log logger.Logger, email string, otpType models.OTPType, message string) {
	code, err := s.SendOTP(r.Context(), email, otpType)
	if err != nil {
		serviceError(w, err, log)
		return
	}

	render.JSON(w, otpSentResponse{Message: message, Email: code.Email, ExpiresAt: code.ExpiresAt})
}

// Code rejections are rendered alike, so the client can't tell a wrong code from a missing one
func otpError(w http.ResponseWriter, err error, log logger.Logger) {
	switch {
	case errors.Is(err, apperrors.ErrOTPNotFound):
		render.ServiceError(w, "Invalid or expired code", http.StatusBadRequest)
	case errors.Is(err, apperrors.ErrTokenExpired):
		render.ServiceError(w, "Code expired. Please request a new one", http.StatusBadRequest)
	default:
		serviceError(w, err, log)
	}
}

func handleSendOTP(s authService, log logger.Logger) http.Handler {
	type request struct {
		Email string `json:"email" validate:"required,email"`
		Type  string `json:"type" validate:"omitempty,oneof=verification login reset"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		otpType := models.OTPType(data.Type)
		if otpType == "" {
			otpType = models.OTPTypeVerification
		}

		sendOTP(w, r, s, log, data.Email, otpType, "Code sent successfully to your email")
	})
}

func handleResendOTP(s authService, log logger.Logger) http.Handler {
	type request struct {
		Email string `json:"email" validate:"required,email"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		sendOTP(w, r, s, log, data.Email, models.OTPTypeVerification, "Code resent successfully")
	})
}

type verifyOTPRequest struct {
	Email string `json:"email" validate:"required,email"`
	Code  string `json:"code" validate:"required,numeric,min=4,max=10"`
}

func handleVerifyOTP(s authService, cookies tokenCookies, log logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[verifyOTPRequest](w, r)
		if err != nil {
			return
		}

		pair, user, err := s.VerifyEmail(r.Context(), data.Email, data.Code)
		if err != nil {
			otpError(w, err, log)
			return
		}

		renderSession(w, cookies, "Email verified successfully", pair, user)
	})
}

func handleLoginOTP(s authService, cookies tokenCookies, log logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[verifyOTPRequest](w, r)
		if err != nil {
			return
		}

		pair, user, err := s.LoginWithOTP(r.Context(), data.Email, data.Code)
		if err != nil {
			otpError(w, err, log)
			return
		}

		renderSession(w, cookies, "Login successful", pair, user)
	})
}
