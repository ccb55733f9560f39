package reset

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/gopherauth/internal/apperrors"
	"github.com/nkiryanov/gopherauth/internal/clock"
	"github.com/nkiryanov/gopherauth/internal/models"
	"github.com/nkiryanov/gopherauth/internal/repository"
)

const (
	defaultTTL = time.Hour

	// Token travels in URL, so it is long random hex rather than short code
	tokenBytes = 32
)

type Config struct {
	// Reset token lifetime
	TTL time.Duration
}

type Manager struct {
	ttl   time.Duration
	repo  repository.PasswordResetRepo
	clock clock.Clock
}

func New(cfg Config, repo repository.PasswordResetRepo, clk clock.Clock) (*Manager, error) {
	if repo == nil {
		return nil, errors.New("password reset repo must not be nil")
	}
	if cfg.TTL == 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.TTL < 0 {
		return nil, errors.New("reset token ttl must be positive")
	}
	if clk == nil {
		clk = clock.Real()
	}

	return &Manager{ttl: cfg.TTL, repo: repo, clock: clk}, nil
}

// With returns manager working on other repo, e.g. bound to transaction
func (m *Manager) With(repo repository.PasswordResetRepo) *Manager {
	clone := *m
	clone.repo = repo
	return &clone
}

// Create reset token for the user
// Previous unused token for the email is deleted
func (m *Manager) CreateToken(ctx context.Context, userID uuid.UUID, email string) (models.PasswordReset, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return models.PasswordReset{}, fmt.Errorf("error while generating reset token. Err: %w", err)
	}

	now := m.clock.Now()
	reset, err := m.repo.Replace(ctx, models.PasswordReset{
		ID:        uuid.New(),
		UserID:    userID,
		Email:     models.NormalizeEmail(email),
		Token:     hex.EncodeToString(b),
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	})
	if err != nil {
		return reset, fmt.Errorf("error while saving reset token. Err: %w", err)
	}

	return reset, nil
}

// Verify token without consuming it
// Fails with apperrors.ErrResetTokenNotFound, apperrors.ErrAlreadyUsed or apperrors.ErrTokenExpired
func (m *Manager) VerifyToken(ctx context.Context, token string) (models.PasswordReset, error) {
	reset, err := m.repo.Get(ctx, token)
	if err != nil {
		return models.PasswordReset{}, err
	}

	switch {
	case reset.IsUsed():
		return models.PasswordReset{}, fmt.Errorf("reset token: %w", apperrors.ErrAlreadyUsed)
	case reset.IsExpired(m.clock.Now()):
		return models.PasswordReset{}, fmt.Errorf("reset token: %w", apperrors.ErrTokenExpired)
	}

	return reset, nil
}

// Consume token. Irreversible, second call fails with apperrors.ErrAlreadyUsed
func (m *Manager) Consume(ctx context.Context, token string) error {
	return m.repo.MarkUsed(ctx, token, m.clock.Now())
}
