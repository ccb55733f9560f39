package handlers

import (
	"errors"
	"net/http"

	"github.com/nkiryanov/gopherauth/internal/apperrors"
	"github.com/nkiryanov/gopherauth/internal/handlers/render"
	"github.com/nkiryanov/gopherauth/internal/handlers/userctx"
	"github.com/nkiryanov/gopherauth/internal/logger"
)

func resetTokenError(w http.ResponseWriter, err error, log logger.Logger) {
	switch {
	case errors.Is(err, apperrors.ErrNotFound), errors.Is(err, apperrors.ErrAlreadyUsed), errors.Is(err, apperrors.ErrTokenExpired):
		render.ServiceError(w, "Invalid or expired reset token", http.StatusBadRequest)
	default:
		serviceError(w, err, log)
	}
}

func handleForgotPassword(s authService, log logger.Logger) http.Handler {
	type request struct {
		Email string `json:"email" validate:"required,email"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		if err := s.ForgotPassword(r.Context(), data.Email); err != nil {
			serviceError(w, err, log)
			return
		}

		render.JSON(w, messageResponse{Message: "If the email exists, a password reset link has been sent"})
	})
}

func handleValidateResetToken(s authService, log logger.Logger) http.Handler {
	type response struct {
		Valid bool   `json:"valid"`
		Email string `json:"email"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reset, err := s.ValidateResetToken(r.Context(), r.PathValue("token"))
		if err != nil {
			resetTokenError(w, err, log)
			return
		}

		render.JSON(w, response{Valid: true, Email: reset.Email})
	})
}

func handleResetPassword(s authService, log logger.Logger) http.Handler {
	type request struct {
		Password string `json:"password" validate:"required,min=8,password"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		if err := s.ResetPassword(r.Context(), r.PathValue("token"), data.Password); err != nil {
			resetTokenError(w, err, log)
			return
		}

		render.JSON(w, messageResponse{Message: "Password reset successful. Please login with your new password"})
	})
}

func handleChangePassword(s authService, cookies tokenCookies, log logger.Logger) http.Handler {
	type request struct {
		CurrentPassword string `json:"current_password" validate:"required"`
		NewPassword     string `json:"new_password" validate:"required,min=8,password,nefield=CurrentPassword"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _ := userctx.FromContext(r.Context())

		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		err = s.ChangePassword(r.Context(), user.ID, data.CurrentPassword, data.NewPassword)
		switch {
		case err == nil:
			cookies.clear(w)
			render.JSON(w, messageResponse{Message: "Password changed successfully. Please login again with your new password"})
		case errors.Is(err, apperrors.ErrInvalidCredentials):
			render.ServiceError(w, "Current password is incorrect", http.StatusUnauthorized)
		default:
			serviceError(w, err, log)
		}
	})
}
