package middleware

import (
	"context"
	"net"
	"net/http"

	"github.com/nkiryanov/gopherauth/internal/handlers/render"
)

type Limiter interface {
	// Count request of the key and report whether it is allowed
	Allow(ctx context.Context, key string) bool
}

// Client address without port. RemoteAddr is used as is if it has no port
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Limit requests per client ip on every route
func RateLimit(l Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.Allow(r.Context(), "ip:"+ClientIP(r)) {
				render.ServiceError(w, "Too many requests from this IP, please try again later", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
