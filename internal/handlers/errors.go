package handlers

import (
	"errors"
	"net/http"

	"github.com/nkiryanov/gopherauth/internal/apperrors"
	"github.com/nkiryanov/gopherauth/internal/handlers/render"
	"github.com/nkiryanov/gopherauth/internal/logger"
)

// Render service error with status matching its kind
// Handlers match flow specific errors first and fall back to this one
func serviceError(w http.ResponseWriter, err error, log logger.Logger) {
	switch {
	case errors.Is(err, apperrors.ErrUserAlreadyExists):
		render.ServiceError(w, "User with this email or username already exists", http.StatusConflict)
	case errors.Is(err, apperrors.ErrInvalidCredentials):
		render.ServiceError(w, "Invalid email or password", http.StatusUnauthorized)
	case errors.Is(err, apperrors.ErrForbidden):
		render.ServiceError(w, "Your account has been deactivated", http.StatusForbidden)
	case errors.Is(err, apperrors.ErrNotVerified):
		render.ServiceError(w, "Please verify your email. A new verification code has been sent", http.StatusForbidden)
	case errors.Is(err, apperrors.ErrAlreadyVerified):
		render.ServiceError(w, "Email already verified", http.StatusConflict)
	case errors.Is(err, apperrors.ErrPasswordNotSet):
		render.ServiceError(w, "This account uses social login. Password is not available", http.StatusBadRequest)
	case errors.Is(err, apperrors.ErrRateLimited):
		render.ServiceError(w, "Please wait before requesting a new code", http.StatusTooManyRequests)
	case errors.Is(err, apperrors.ErrAttemptsExceeded):
		render.ServiceError(w, "Maximum verification attempts exceeded. Please request a new code", http.StatusBadRequest)
	case errors.Is(err, apperrors.ErrAlreadyUsed):
		render.ServiceError(w, "Token has already been used", http.StatusBadRequest)
	case errors.Is(err, apperrors.ErrTokenRevoked):
		render.ServiceError(w, "Token has been revoked", http.StatusUnauthorized)
	case errors.Is(err, apperrors.ErrTokenExpired):
		render.ServiceError(w, "Token expired", http.StatusUnauthorized)
	case errors.Is(err, apperrors.ErrInvalidToken):
		render.ServiceError(w, "Invalid token", http.StatusUnauthorized)
	case errors.Is(err, apperrors.ErrUserNotFound):
		render.ServiceError(w, "User not found", http.StatusNotFound)
	case errors.Is(err, apperrors.ErrNotFound):
		render.ServiceError(w, "Not found", http.StatusNotFound)
	default:
		log.Error("request failed", "error", err)
		render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
	}
}
