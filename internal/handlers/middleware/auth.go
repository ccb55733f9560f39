package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/nkiryanov/gopherauth/internal/apperrors"
	"github.com/nkiryanov/gopherauth/internal/handlers/render"
	"github.com/nkiryanov/gopherauth/internal/handlers/userctx"
	"github.com/nkiryanov/gopherauth/internal/models"
)

const (
	AccessCookieName = "accessToken"
	bearerScheme     = "Bearer "
)

type authenticator interface {
	// Has to return apperrors.ErrTokenExpired if access token expired
	// and apperrors.ErrForbidden if user is deactivated
	Authenticate(ctx context.Context, access string) (models.User, error)
}

// Read access token from 'Authorization: Bearer' header, fallback to cookie
func AccessToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) > len(bearerScheme) && strings.EqualFold(header[:len(bearerScheme)], bearerScheme) {
		return strings.TrimSpace(header[len(bearerScheme):])
	}

	if cookie, err := r.Cookie(AccessCookieName); err == nil {
		return cookie.Value
	}

	return ""
}

func AuthMiddleware(a authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			access := AccessToken(r)
			if access == "" {
				render.ServiceError(w, "Access token required", http.StatusUnauthorized)
				return
			}

			user, err := a.Authenticate(r.Context(), access)
			switch {
			case err == nil:
			case errors.Is(err, apperrors.ErrTokenExpired):
				render.ServiceError(w, "Access token expired", http.StatusUnauthorized)
				return
			case errors.Is(err, apperrors.ErrForbidden):
				render.ServiceError(w, "Your account has been deactivated", http.StatusForbidden)
				return
			case errors.Is(err, apperrors.ErrInvalidToken):
				render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
				return
			default:
				render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
				return
			}

			next.ServeHTTP(w, r.WithContext(userctx.New(r.Context(), user)))
		})
	}
}
