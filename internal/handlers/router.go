package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/nkiryanov/gopherauth/internal/handlers/middleware"
	"github.com/nkiryanov/gopherauth/internal/logger"
	"github.com/nkiryanov/gopherauth/internal/metrics"
	"github.com/nkiryanov/gopherauth/internal/models"
)

// chain applies middlewares in the given order: m1(m2(...(h)))
func chain(h http.Handler, mds ...func(next http.Handler) http.Handler) http.Handler {
	for i := len(mds) - 1; i >= 0; i-- {
		h = mds[i](h)
	}
	return h
}

type Config struct {
	// Send cookies over https only and allow cross site requests
	SecureCookies bool

	// Requests per client ip, not limited if nil
	Limiter middleware.Limiter
}

func NewRouter(
	cfg Config,
	authService authService,
	m *metrics.Metrics,
	logger logger.Logger,
) http.Handler {
	cookies := newTokenCookies(cfg.SecureCookies)
	withAuth := middleware.AuthMiddleware(authService)

	mux := http.NewServeMux()

	mux.Handle("POST /api/auth/register", handleRegister(authService, logger))
	mux.Handle("POST /api/auth/login", handleLogin(authService, cookies, logger))
	mux.Handle("POST /api/auth/refresh", handleRefresh(authService, cookies, logger))
	mux.Handle("POST /api/auth/logout", handleLogout(authService, cookies))
	mux.Handle("POST /api/auth/logout-all", withAuth(handleLogoutAll(authService, cookies, logger)))
	mux.Handle("GET /api/auth/me", withAuth(handleMe()))

	mux.Handle("POST /api/otp/send", handleSendOTP(authService, logger))
	mux.Handle("POST /api/otp/resend", handleResendOTP(authService, logger))
	mux.Handle("POST /api/otp/verify", handleVerifyOTP(authService, cookies, logger))
	mux.Handle("POST /api/otp/login", handleLoginOTP(authService, cookies, logger))

	mux.Handle("POST /api/password/forgot", handleForgotPassword(authService, logger))
	mux.Handle("GET /api/password/validate/{token}", handleValidateResetToken(authService, logger))
	mux.Handle("POST /api/password/reset/{token}", handleResetPassword(authService, logger))
	mux.Handle("POST /api/password/change", withAuth(handleChangePassword(authService, cookies, logger)))

	mux.Handle("GET /metrics", m.Handler())
	mux.Handle("GET /health", handleHealth())

	mds := []func(http.Handler) http.Handler{
		m.Middleware,
		middleware.LoggerMiddleware(logger),
	}
	if cfg.Limiter != nil {
		mds = append(mds, middleware.RateLimit(cfg.Limiter))
	}

	return chain(mux, mds...)
}

type authService interface {
	// Register user, verification code is sent to the email
	// Has to return apperrors.ErrUserAlreadyExists if email or username is taken
	Register(ctx context.Context, email string, username string, password string) (models.User, error)

	// Login user with email and password
	// Has to return apperrors.ErrInvalidCredentials on unknown email or wrong password
	Login(ctx context.Context, email string, password string) (models.TokenPair, models.User, error)
	LoginWithOTP(ctx context.Context, email string, code string) (models.TokenPair, models.User, error)

	// Rotate refresh token
	// Has to return apperrors.ErrTokenRevoked if token was used or revoked already
	Refresh(ctx context.Context, refresh string) (models.TokenPair, models.User, error)
	Logout(ctx context.Context, refresh string)
	LogoutAll(ctx context.Context, userID uuid.UUID) error

	// Get access token and return its user
	Authenticate(ctx context.Context, access string) (models.User, error)

	SendOTP(ctx context.Context, email string, otpType models.OTPType) (models.OTP, error)
	VerifyEmail(ctx context.Context, email string, code string) (models.TokenPair, models.User, error)

	ForgotPassword(ctx context.Context, email string) error
	ValidateResetToken(ctx context.Context, token string) (models.PasswordReset, error)
	ResetPassword(ctx context.Context, token string, password string) error
	ChangePassword(ctx context.Context, userID uuid.UUID, current string, password string) error
}
