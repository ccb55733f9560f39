package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/gopherauth/internal/service/ratelimit"
)

func TestRateLimit(t *testing.T) {
	t.Parallel()

	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	setup := func(t *testing.T, max int) (http.Handler, *miniredis.Miniredis) {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		l := ratelimit.NewRedisLimiter(client, ratelimit.Config{Window: 15 * time.Minute, Max: max, Prefix: "http:rl:"}, nil)
		return RateLimit(l)(ok), mr
	}

	request := func(h http.Handler, remoteAddr string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodGet, "/health", nil)
		r.RemoteAddr = remoteAddr
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		return w
	}

	t.Run("denies requests over limit", func(t *testing.T) {
		h, _ := setup(t, 2)

		assert.Equal(t, http.StatusOK, request(h, "10.0.0.1:5000").Code)
		assert.Equal(t, http.StatusOK, request(h, "10.0.0.1:5001").Code, "port must not be part of the key")
		w := request(h, "10.0.0.1:5002")

		require.Equal(t, http.StatusTooManyRequests, w.Code)
		var body map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "Too many requests from this IP, please try again later", body["message"])
	})

	t.Run("counts every ip on its own", func(t *testing.T) {
		h, _ := setup(t, 1)

		assert.Equal(t, http.StatusOK, request(h, "10.0.0.1:5000").Code)
		assert.Equal(t, http.StatusOK, request(h, "10.0.0.2:5000").Code)
		assert.Equal(t, http.StatusTooManyRequests, request(h, "10.0.0.1:5000").Code)
	})

	t.Run("window elapsed", func(t *testing.T) {
		h, mr := setup(t, 1)
		require.Equal(t, http.StatusOK, request(h, "10.0.0.1:5000").Code)
		require.Equal(t, http.StatusTooManyRequests, request(h, "10.0.0.1:5000").Code)

		mr.FastForward(15*time.Minute + time.Second)

		assert.Equal(t, http.StatusOK, request(h, "10.0.0.1:5000").Code)
	})

	t.Run("redis unavailable allows requests", func(t *testing.T) {
		h, mr := setup(t, 1)
		mr.Close()

		assert.Equal(t, http.StatusOK, request(h, "10.0.0.1:5000").Code)
		assert.Equal(t, http.StatusOK, request(h, "10.0.0.1:5000").Code)
	})
}

func TestClientIP(t *testing.T) {
	t.Parallel()

	tests := []struct {
		remoteAddr string
		want       string
	}{
		{remoteAddr: "192.168.1.10:4321", want: "192.168.1.10"},
		{remoteAddr: "[::1]:4321", want: "::1"},
		{remoteAddr: "unix-socket", want: "unix-socket"},
	}

	for _, tt := range tests {
		t.Run(tt.remoteAddr, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remoteAddr

			assert.Equal(t, tt.want, ClientIP(r))
		})
	}
}
