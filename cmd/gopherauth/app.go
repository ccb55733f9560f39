package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/nkiryanov/gopherauth/internal/clock"
	"github.com/nkiryanov/gopherauth/internal/db"
	"github.com/nkiryanov/gopherauth/internal/handlers"
	"github.com/nkiryanov/gopherauth/internal/handlers/middleware"
	"github.com/nkiryanov/gopherauth/internal/logger"
	"github.com/nkiryanov/gopherauth/internal/mailer"
	"github.com/nkiryanov/gopherauth/internal/metrics"
	"github.com/nkiryanov/gopherauth/internal/repository"
	"github.com/nkiryanov/gopherauth/internal/repository/memory"
	"github.com/nkiryanov/gopherauth/internal/repository/postgres"
	"github.com/nkiryanov/gopherauth/internal/service/auth"
	"github.com/nkiryanov/gopherauth/internal/service/auth/otp"
	"github.com/nkiryanov/gopherauth/internal/service/auth/reset"
	"github.com/nkiryanov/gopherauth/internal/service/auth/revocation"
	"github.com/nkiryanov/gopherauth/internal/service/auth/session"
	"github.com/nkiryanov/gopherauth/internal/service/auth/signer"
	"github.com/nkiryanov/gopherauth/internal/service/cleanup"
	"github.com/nkiryanov/gopherauth/internal/service/ratelimit"
)

const shutdownTimeout = 5 * time.Second

type ServerApp struct {
	ListenAddr string
	Handler    http.Handler

	cleanup *cleanup.Job
	logger  logger.Logger

	// Release connections on stop
	closers []func()
}

func NewServerApp(ctx context.Context, c *Config) (*ServerApp, error) {
	// Initialize logger
	log, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	app := &ServerApp{ListenAddr: c.ListenAddr, logger: log}
	clk := clock.Real()

	// Connect to the database and run migrations, keep everything in memory if no database set
	var storage repository.Storage
	switch c.DatabaseDSN {
	case "":
		log.Warn("database is not configured, credentials are kept in memory")
		storage = memory.NewStorage(clk)
	default:
		var pool *pgxpool.Pool
		pool, err = db.ConnectAndMigrate(ctx, c.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("error while connecting to db. Err: %w", err)
		}
		app.closers = append(app.closers, pool.Close)
		storage = postgres.NewStorage(pool)
	}

	// Limiters are optional
	var limiter auth.Limiter
	var requestLimiter middleware.Limiter
	if c.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: c.RedisAddr})
		app.closers = append(app.closers, func() { _ = rdb.Close() })
		limiter = ratelimit.NewRedisLimiter(rdb, ratelimit.Config{Window: c.OTPSendWindow, Max: c.OTPSendLimit}, log)
		requestLimiter = ratelimit.NewRedisLimiter(rdb, ratelimit.Config{Window: c.RateLimitWindow, Max: c.RateLimitMax, Prefix: "http:rl:"}, log)
	}

	sender, err := newSender(c, log)
	if err != nil {
		app.close()
		return nil, err
	}

	m := metrics.New(prometheus.NewRegistry())

	// Initialize services
	authService, ledger, err := newAuthService(c, storage, sender, limiter, m, clk, log)
	if err != nil {
		app.close()
		return nil, err
	}

	app.cleanup, err = cleanup.New(c.CleanupSchedule, ledger, m, log)
	if err != nil {
		app.close()
		return nil, fmt.Errorf("error while creating cleanup job. Err: %w", err)
	}

	app.Handler = handlers.NewRouter(
		handlers.Config{SecureCookies: c.Environment == logger.EnvProduction, Limiter: requestLimiter},
		authService,
		m,
		log,
	)

	return app, nil
}

// Codes and reset links are written to log in development only
func newSender(c *Config, log logger.Logger) (mailer.Sender, error) {
	switch {
	case c.SMTPHost != "":
		sender, err := mailer.NewSMTPSender(mailer.SMTPConfig{
			Host:     c.SMTPHost,
			Port:     c.SMTPPort,
			Username: c.SMTPUser,
			Password: c.SMTPPass,
			From:     c.SMTPFrom,
			FromName: "Gopherauth",
		})
		if err != nil {
			return nil, fmt.Errorf("error while creating smtp sender. Err: %w", err)
		}
		return sender, nil
	case c.Environment == logger.EnvDevelopment:
		log.Warn("smtp is not configured, emails are logged")
		return mailer.NewLogSender(log), nil
	default:
		log.Warn("smtp is not configured, emails are not sent")
		return mailer.NewDisabledSender("smtp is not configured"), nil
	}
}

func newAuthService(
	c *Config,
	storage repository.Storage,
	sender mailer.Sender,
	limiter auth.Limiter,
	m *metrics.Metrics,
	clk clock.Clock,
	log logger.Logger,
) (*auth.AuthService, *revocation.Ledger, error) {
	sgn, err := signer.New(signer.Config{
		AccessSecret:  c.AccessSecret,
		RefreshSecret: c.RefreshSecret,
		AccessTTL:     c.AccessTTL,
		RefreshTTL:    c.RefreshTTL,
	}, clk)
	if err != nil {
		return nil, nil, fmt.Errorf("error while creating token signer. Err: %w", err)
	}

	ledger := revocation.New(storage, clk, log)

	sessions, err := session.New(sgn, storage, ledger, clk, log)
	if err != nil {
		return nil, nil, fmt.Errorf("error while creating session manager. Err: %w", err)
	}

	otps, err := otp.New(otp.Config{Length: c.OTPLength, TTL: c.OTPTTL, MaxAttempts: c.OTPMaxAttempts}, storage.OTP(), clk, log)
	if err != nil {
		return nil, nil, fmt.Errorf("error while creating otp manager. Err: %w", err)
	}

	resets, err := reset.New(reset.Config{TTL: c.ResetTokenTTL}, storage.Reset(), clk)
	if err != nil {
		return nil, nil, fmt.Errorf("error while creating reset manager. Err: %w", err)
	}

	authService, err := auth.NewService(
		auth.Config{OTPCooldown: c.OTPCooldown, ResetURL: c.ResetURL},
		auth.Deps{
			Storage:  storage,
			Signer:   sgn,
			Sessions: sessions,
			OTPs:     otps,
			Resets:   resets,
			Mailer:   sender,
			Limiter:  limiter,
			Metrics:  m,
			Clock:    clk,
			Log:      log,
		},
	)
	if err != nil {
		return nil, nil, fmt.Errorf("error while creating auth service. Err: %w", err)
	}

	return authService, ledger, nil
}

func (s *ServerApp) close() {
	for _, fn := range s.closers {
		fn()
	}
}

// Run starts http server and cleanup job, both stop gracefully on context cancellation
func (s *ServerApp) Run(ctx context.Context) error {
	defer s.close()

	httpServer := &http.Server{
		Addr:    s.ListenAddr,
		Handler: s.Handler,
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("Starting server", "address", s.ListenAddr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return s.cleanup.Run(gCtx)
	})

	g.Go(func() error {
		<-gCtx.Done()

		timeoutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(timeoutCtx); errors.Is(err, context.DeadlineExceeded) {
			s.logger.Error("HTTP server shutdown timeout exceeded, forcing shutdown...")
		}
		s.logger.Info("HTTP server stopped")
		return nil
	})

	return g.Wait()
}
