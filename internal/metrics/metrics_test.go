package metrics

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/gopherauth/internal/apperrors"
)

func Test_Metrics(t *testing.T) {
	t.Parallel()

	t.Run("nil metrics are no-op", func(t *testing.T) {
		var m *Metrics

		m.SessionIssued(ReasonLogin)
		m.RefreshRotated(nil)
		m.OTPSent("verification")
		m.OTPVerified("verification", nil)
		m.PasswordReset("requested")
		m.RevokedAll()
		m.CleanupFinished(1, 2, 3, nil)

		h := m.Middleware(http.NotFoundHandler())
		assert.NotNil(t, h)
	})

	t.Run("counters", func(t *testing.T) {
		m := New(prometheus.NewRegistry())

		m.SessionIssued(ReasonLogin)
		m.SessionIssued(ReasonLogin)
		m.RefreshRotated(fmt.Errorf("wrapped: %w", apperrors.ErrTokenRevoked))
		m.CleanupFinished(1, 2, 3, errors.New("boom"))

		assert.Equal(t, 2.0, testutil.ToFloat64(m.SessionsIssuedTotal.WithLabelValues(ReasonLogin)))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.RefreshRotationsTotal.WithLabelValues("revoked")))
		assert.Equal(t, 2.0, testutil.ToFloat64(m.CleanupDeletedTotal.WithLabelValues("refresh_token")))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.CleanupRunsTotal.WithLabelValues("error")))
	})

	t.Run("middleware labels by route pattern", func(t *testing.T) {
		m := New(prometheus.NewRegistry())
		mux := http.NewServeMux()
		mux.HandleFunc("GET /api/items/{id}", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		})
		h := m.Middleware(mux)

		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/items/1", nil))
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/items/2", nil))
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nowhere", nil))

		assert.Equal(t, 2.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "GET /api/items/{id}", "418")))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "unmatched", "404")))
	})

	t.Run("handler exposes metrics", func(t *testing.T) {
		m := New(prometheus.NewRegistry())
		m.OTPSent("login")
		rec := httptest.NewRecorder()

		m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		body, err := io.ReadAll(rec.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), `gopherauth_otps_sent_total{type="login"} 1`)
	})
}

func Test_Result(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{apperrors.ErrTokenExpired, "expired"},
		{apperrors.ErrOTPNotFound, "not_found"},
		{apperrors.ErrAttemptsExceeded, "attempts_exceeded"},
		{fmt.Errorf("ctx: %w", apperrors.ErrForbidden), "forbidden"},
		{errors.New("db down"), "error"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, Result(tt.err))
		})
	}
}
