package otp

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/gopherauth/internal/apperrors"
	"github.com/nkiryanov/gopherauth/internal/clock"
	"github.com/nkiryanov/gopherauth/internal/logger"
	"github.com/nkiryanov/gopherauth/internal/models"
	"github.com/nkiryanov/gopherauth/internal/repository"
)

const (
	defaultLength      = 6
	defaultTTL         = 10 * time.Minute
	defaultMaxAttempts = 5
	recentListLimit    = 10
)

// OTP manager with sensible default
type Config struct {
	// Number of digits in code
	Length int

	// Code lifetime
	TTL time.Duration

	// Verification attempts allowed for a single code
	MaxAttempts int
}

// Manager keeps no state between calls: every decision is made on a freshly read record
type Manager struct {
	length      int
	ttl         time.Duration
	maxAttempts int

	repo  repository.OTPRepo
	clock clock.Clock
	log   logger.Logger
}

func New(cfg Config, repo repository.OTPRepo, clk clock.Clock, log logger.Logger) (*Manager, error) {
	if repo == nil {
		return nil, errors.New("otp repo must not be nil")
	}

	setDefault := func(field *int, def int) {
		if *field == 0 {
			*field = def
		}
	}
	setDefault(&cfg.Length, defaultLength)
	setDefault(&cfg.MaxAttempts, defaultMaxAttempts)
	if cfg.TTL == 0 {
		cfg.TTL = defaultTTL
	}

	if cfg.Length < 4 || cfg.Length > 10 {
		return nil, fmt.Errorf("otp length must be within [4, 10], got %d", cfg.Length)
	}
	if cfg.MaxAttempts < 0 || cfg.TTL < 0 {
		return nil, errors.New("otp ttl and max attempts must be positive")
	}

	if clk == nil {
		clk = clock.Real()
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}

	return &Manager{
		length:      cfg.Length,
		ttl:         cfg.TTL,
		maxAttempts: cfg.MaxAttempts,
		repo:        repo,
		clock:       clk,
		log:         log,
	}, nil
}

// With returns manager working on other repo, e.g. bound to transaction
func (m *Manager) With(repo repository.OTPRepo) *Manager {
	clone := *m
	clone.repo = repo
	return &clone
}

func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Generate new code for (email, type)
// Every unused code for the pair is deleted, so the returned one is the only active
// Delivery of the code is up to the caller
func (m *Manager) Generate(ctx context.Context, userID uuid.UUID, email string, otpType models.OTPType) (models.OTP, error) {
	if !otpType.Valid() {
		return models.OTP{}, fmt.Errorf("unknown otp type %q", otpType)
	}

	code, err := generateCode(m.length)
	if err != nil {
		return models.OTP{}, fmt.Errorf("error while generating otp. Err: %w", err)
	}

	now := m.clock.Now()
	otp, err := m.repo.Replace(ctx, models.OTP{
		ID:        uuid.New(),
		UserID:    userID,
		Email:     models.NormalizeEmail(email),
		Code:      code,
		Type:      otpType,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	})
	if err != nil {
		return otp, fmt.Errorf("error while saving otp. Err: %w", err)
	}

	return otp, nil
}

// Verify code for (email, type) against the most recent unused code
// Every verification takes one attempt before the code is compared,
// so concurrent guesses never get more than MaxAttempts comparisons
//
// Fails with:
//   - apperrors.ErrOTPNotFound if there is no active code or the code does not match
//   - apperrors.ErrTokenExpired if the code is expired (code is marked used)
//   - apperrors.ErrAttemptsExceeded if attempts are exhausted (code is marked used)
//
// Matched code is not consumed: caller has to call MarkUsed or Consume once its own side effects succeed
func (m *Manager) Verify(ctx context.Context, email string, code string, otpType models.OTPType) (models.OTP, error) {
	email = models.NormalizeEmail(email)

	otp, err := m.repo.GetActive(ctx, email, otpType)
	if err != nil {
		return models.OTP{}, err
	}

	now := m.clock.Now()
	if otp.IsExpired(now) {
		m.burn(ctx, otp, now, "expired")
		return models.OTP{}, fmt.Errorf("otp verification failed: %w", apperrors.ErrTokenExpired)
	}

	attempts, err := m.repo.TakeAttempt(ctx, otp.ID, m.maxAttempts)
	switch {
	case errors.Is(err, apperrors.ErrAttemptsExceeded):
		m.burn(ctx, otp, now, "attempts exceeded")
		return models.OTP{}, fmt.Errorf("otp verification failed: %w", err)
	case err != nil:
		return models.OTP{}, fmt.Errorf("otp verification failed: %w", err)
	}
	otp.Attempts = attempts

	if subtle.ConstantTimeCompare([]byte(code), []byte(otp.Code)) != 1 {
		m.log.Debug("otp mismatch", "otp_id", otp.ID, "attempts", attempts)
		return models.OTP{}, fmt.Errorf("otp code mismatch: %w", apperrors.ErrOTPNotFound)
	}

	return otp, nil
}

// Mark code unusable because of expiry or exhausted attempts
// Failure is logged only: caller gets the verification error anyway
func (m *Manager) burn(ctx context.Context, otp models.OTP, now time.Time, reason string) {
	if err := m.repo.MarkUsed(ctx, otp.ID, now); err != nil {
		m.log.Warn("failed to mark otp used", "otp_id", otp.ID, "reason", reason, "error", err)
	}
}

// Mark code consumed. Idempotent
func (m *Manager) MarkUsed(ctx context.Context, id uuid.UUID) error {
	if err := m.repo.MarkUsed(ctx, id, m.clock.Now()); err != nil {
		return fmt.Errorf("error while marking otp used. Err: %w", err)
	}
	return nil
}

// Consume matched code. Only one of concurrent calls succeeds,
// others fail with apperrors.ErrAlreadyUsed
func (m *Manager) Consume(ctx context.Context, id uuid.UUID) error {
	if err := m.repo.Consume(ctx, id, m.clock.Now()); err != nil {
		return fmt.Errorf("error while consuming otp. Err: %w", err)
	}
	return nil
}

// Report whether any code for (email, type) was created within the window, used or not
func (m *Manager) HasRecent(ctx context.Context, email string, otpType models.OTPType, window time.Duration) (bool, error) {
	since := m.clock.Now().Add(-window)
	recent, err := m.repo.CreatedSince(ctx, models.NormalizeEmail(email), otpType, since)
	if err != nil {
		return false, fmt.Errorf("error while looking for recent otp. Err: %w", err)
	}
	return recent, nil
}

// Last codes issued for the user, most recent first
func (m *Manager) ListRecent(ctx context.Context, userID uuid.UUID) ([]models.OTP, error) {
	return m.repo.ListByUser(ctx, userID, recentListLimit)
}

// Every digit is drawn uniformly with crypto/rand, no modulo bias
func generateCode(length int) (string, error) {
	var b strings.Builder
	b.Grow(length)

	ten := big.NewInt(10)
	for range length {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}

	return b.String(), nil
}
