// Package metrics exposes prometheus counters of the credential lifecycle.
// Every method is safe to call on nil *Metrics, so components work without metrics configured.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nkiryanov/gopherauth/internal/apperrors"
)

const namespace = "gopherauth"

// Labels of issued sessions
const (
	ReasonRegister = "register"
	ReasonLogin    = "login"
	ReasonOTP      = "otp"
	ReasonIdentity = "identity"
	ReasonRefresh  = "refresh"
)

type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	SessionsIssuedTotal     *prometheus.CounterVec
	RefreshRotationsTotal   *prometheus.CounterVec
	OTPsSentTotal           *prometheus.CounterVec
	OTPVerificationsTotal   *prometheus.CounterVec
	PasswordResetsTotal     *prometheus.CounterVec
	CleanupDeletedTotal     *prometheus.CounterVec
	CleanupRunsTotal        *prometheus.CounterVec
	SessionsRevokedAllTotal prometheus.Counter
}

// New creates and registers all metrics on the registry
// Go runtime and process collectors are registered too
func New(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: registry,

		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		SessionsIssuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_issued_total",
				Help:      "Total number of issued token pairs",
			},
			[]string{"reason"},
		),
		RefreshRotationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "refresh_rotations_total",
				Help:      "Total number of refresh token rotations by result",
			},
			[]string{"result"},
		),
		OTPsSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "otps_sent_total",
				Help:      "Total number of generated one time codes",
			},
			[]string{"type"},
		),
		OTPVerificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "otp_verifications_total",
				Help:      "Total number of one time code verifications by result",
			},
			[]string{"type", "result"},
		),
		PasswordResetsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "password_resets_total",
				Help:      "Total number of password reset steps",
			},
			[]string{"stage"},
		),
		CleanupDeletedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cleanup_deleted_total",
				Help:      "Total number of dead records deleted by cleanup",
			},
			[]string{"record"},
		),
		CleanupRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cleanup_runs_total",
				Help:      "Total number of cleanup runs by status",
			},
			[]string{"status"},
		),
		SessionsRevokedAllTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_revoked_all_total",
				Help:      "Total number of 'log out everywhere' revocations",
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.SessionsIssuedTotal,
		m.RefreshRotationsTotal,
		m.OTPsSentTotal,
		m.OTPVerificationsTotal,
		m.PasswordResetsTotal,
		m.CleanupDeletedTotal,
		m.CleanupRunsTotal,
		m.SessionsRevokedAllTotal,
	)

	return m
}

// Handler serves registered metrics in prometheus text format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) SessionIssued(reason string) {
	if m == nil {
		return
	}
	m.SessionsIssuedTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) RefreshRotated(err error) {
	if m == nil {
		return
	}
	m.RefreshRotationsTotal.WithLabelValues(Result(err)).Inc()
}

func (m *Metrics) OTPSent(otpType string) {
	if m == nil {
		return
	}
	m.OTPsSentTotal.WithLabelValues(otpType).Inc()
}

func (m *Metrics) OTPVerified(otpType string, err error) {
	if m == nil {
		return
	}
	m.OTPVerificationsTotal.WithLabelValues(otpType, Result(err)).Inc()
}

func (m *Metrics) PasswordReset(stage string) {
	if m == nil {
		return
	}
	m.PasswordResetsTotal.WithLabelValues(stage).Inc()
}

func (m *Metrics) RevokedAll() {
	if m == nil {
		return
	}
	m.SessionsRevokedAllTotal.Inc()
}

func (m *Metrics) CleanupFinished(otps, refreshTokens, resetTokens int64, err error) {
	if m == nil {
		return
	}
	m.CleanupDeletedTotal.WithLabelValues("otp").Add(float64(otps))
	m.CleanupDeletedTotal.WithLabelValues("refresh_token").Add(float64(refreshTokens))
	m.CleanupDeletedTotal.WithLabelValues("reset_token").Add(float64(resetTokens))

	status := "ok"
	if err != nil {
		status = "error"
	}
	m.CleanupRunsTotal.WithLabelValues(status).Inc()
}

// Result maps error to low cardinality label
func Result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, apperrors.ErrTokenRevoked):
		return "revoked"
	case errors.Is(err, apperrors.ErrTokenExpired):
		return "expired"
	case errors.Is(err, apperrors.ErrInvalidToken):
		return "invalid"
	case errors.Is(err, apperrors.ErrAttemptsExceeded):
		return "attempts_exceeded"
	case errors.Is(err, apperrors.ErrAlreadyUsed):
		return "already_used"
	case errors.Is(err, apperrors.ErrNotFound):
		return "not_found"
	case errors.Is(err, apperrors.ErrForbidden):
		return "forbidden"
	case errors.Is(err, apperrors.ErrRateLimited):
		return "rate_limited"
	default:
		return "error"
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Middleware counts requests by matched route pattern
// Must wrap the ServeMux directly, so the pattern is known after routing
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}
		m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(sw.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}
