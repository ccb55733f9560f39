package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/gopherauth/internal/apperrors"
	"github.com/nkiryanov/gopherauth/internal/handlers/render"
	"github.com/nkiryanov/gopherauth/internal/handlers/userctx"
	"github.com/nkiryanov/gopherauth/internal/logger"
	"github.com/nkiryanov/gopherauth/internal/models"
)

type userResponse struct {
	ID         uuid.UUID  `json:"id"`
	Email      string     `json:"email"`
	Username   string     `json:"username"`
	Role       string     `json:"role"`
	Provider   string     `json:"provider"`
	IsVerified bool       `json:"is_verified"`
	IsActive   bool       `json:"is_active"`
	LastLogin  *time.Time `json:"last_login,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

func newUserResponse(u models.User) userResponse {
	return userResponse{
		ID:         u.ID,
		Email:      u.Email,
		Username:   u.Username,
		Role:       u.Role,
		Provider:   u.Provider,
		IsVerified: u.IsVerified,
		IsActive:   u.IsActive,
		LastLogin:  u.LastLoginAt,
		CreatedAt:  u.CreatedAt,
	}
}

type sessionResponse struct {
	Message         string       `json:"message"`
	User            userResponse `json:"user"`
	AccessToken     string       `json:"access_token"`
	AccessExpiresAt time.Time    `json:"access_expires_at"`
}

// Set tokens and render the user
func renderSession(w http.ResponseWriter, cookies tokenCookies, message string, pair models.TokenPair, user models.User) {
	cookies.set(w, pair)
	render.JSON(w, sessionResponse{
		Message:         message,
		User:            newUserResponse(user),
		AccessToken:     pair.Access.Value,
		AccessExpiresAt: pair.Access.ExpiresAt,
	})
}

type messageResponse struct {
	Message string `json:"message"`
}

func handleRegister(s authService, log logger.Logger) http.Handler {
	type request struct {
		Email    string `json:"email" validate:"required,email"`
		Username string `json:"username" validate:"required,min=3,max=30,username"`
		Password string `json:"password" validate:"required,min=8,password"`
	}
	type response struct {
		Message string       `json:"message"`
		User    userResponse `json:"user"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		user, err := s.Register(r.Context(), data.Email, data.Username, data.Password)
		if err != nil {
			serviceError(w, err, log)
			return
		}

		render.JSONWithStatus(w, response{
			Message: "Registration successful. Please check your email for verification code",
			User:    newUserResponse(user),
		}, http.StatusCreated)
	})
}

func handleLogin(s authService, cookies tokenCookies, log logger.Logger) http.Handler {
	type request struct {
		Email    string `json:"email" validate:"required,email"`
		Password string `json:"password" validate:"required"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		pair, user, err := s.Login(r.Context(), data.Email, data.Password)
		if err != nil {
			serviceError(w, err, log)
			return
		}

		renderSession(w, cookies, "Login successful", pair, user)
	})
}

func handleRefresh(s authService, cookies tokenCookies, log logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		refresh := readRefresh(r)
		if refresh == "" {
			render.ServiceError(w, "Refresh token required", http.StatusUnauthorized)
			return
		}

		pair, user, err := s.Refresh(r.Context(), refresh)
		switch {
		case err == nil:
			renderSession(w, cookies, "Token refreshed successfully", pair, user)
		case errors.Is(err, apperrors.ErrTokenExpired):
			cookies.clear(w)
			render.ServiceError(w, "Refresh token expired", http.StatusUnauthorized)
		case errors.Is(err, apperrors.ErrTokenRevoked), errors.Is(err, apperrors.ErrInvalidToken), errors.Is(err, apperrors.ErrNotFound):
			// Client must authenticate again
			cookies.clear(w)
			render.ServiceError(w, "Invalid refresh token", http.StatusUnauthorized)
		default:
			serviceError(w, err, log)
		}
	})
}

func handleLogout(s authService, cookies tokenCookies) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.Logout(r.Context(), readRefresh(r))
		cookies.clear(w)
		render.JSON(w, messageResponse{Message: "Logout successful"})
	})
}

func handleLogoutAll(s authService, cookies tokenCookies, log logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _ := userctx.FromContext(r.Context())

		if err := s.LogoutAll(r.Context(), user.ID); err != nil {
			serviceError(w, err, log)
			return
		}

		cookies.clear(w)
		render.JSON(w, messageResponse{Message: "Logged out from all devices successfully"})
	})
}

func handleMe() http.Handler {
	type response struct {
		User userResponse `json:"user"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _ := userctx.FromContext(r.Context())
		render.JSON(w, response{User: newUserResponse(user)})
	})
}

func handleHealth() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, messageResponse{Message: "ok"})
	})
}
