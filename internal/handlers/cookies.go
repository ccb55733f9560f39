package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/nkiryanov/gopherauth/internal/handlers/middleware"
	"github.com/nkiryanov/gopherauth/internal/models"
)

const refreshCookieName = "refreshToken"

// Tokens are set as HttpOnly cookies, access token is duplicated in Authorization header
type tokenCookies struct {
	secure   bool
	sameSite http.SameSite
}

func newTokenCookies(secure bool) tokenCookies {
	c := tokenCookies{secure: secure, sameSite: http.SameSiteLaxMode}
	if secure {
		c.sameSite = http.SameSiteNoneMode
	}
	return c
}

func (c tokenCookies) cookie(name string, value string, expiresAt time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: c.sameSite,
	}
}

func (c tokenCookies) set(w http.ResponseWriter, pair models.TokenPair) {
	w.Header().Set("Authorization", "Bearer "+pair.Access.Value)
	http.SetCookie(w, c.cookie(middleware.AccessCookieName, pair.Access.Value, pair.Access.ExpiresAt))
	http.SetCookie(w, c.cookie(refreshCookieName, pair.Refresh.Value, pair.Refresh.ExpiresAt))
}

func (c tokenCookies) clear(w http.ResponseWriter) {
	for _, name := range []string{middleware.AccessCookieName, refreshCookieName} {
		cookie := c.cookie(name, "", time.Unix(0, 0))
		cookie.MaxAge = -1
		http.SetCookie(w, cookie)
	}
}

// Read refresh token from cookie, fallback to json body
func readRefresh(r *http.Request) string {
	if cookie, err := r.Cookie(refreshCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	r.Body = http.MaxBytesReader(nil, r.Body, 4096)
	_ = json.NewDecoder(r.Body).Decode(&body)

	return body.RefreshToken
}
