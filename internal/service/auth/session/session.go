package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/nkiryanov/gopherauth/internal/apperrors"
	"github.com/nkiryanov/gopherauth/internal/clock"
	"github.com/nkiryanov/gopherauth/internal/logger"
	"github.com/nkiryanov/gopherauth/internal/models"
	"github.com/nkiryanov/gopherauth/internal/repository"
	"github.com/nkiryanov/gopherauth/internal/service/auth/revocation"
)

type Signer interface {
	IssuePair(claims models.Claims) (models.TokenPair, error)
	VerifyRefresh(token string) (models.Claims, error)
}

// Manager issues sessions and rotates their refresh tokens
//
// Refresh token record moves Active -> Rotated on refresh, Active -> Revoked on logout,
// Active -> Expired when its ttl elapses (detected lazily on rotation)
type Manager struct {
	signer  Signer
	storage repository.Storage
	ledger  *revocation.Ledger
	clock   clock.Clock
	log     logger.Logger
}

func New(signer Signer, storage repository.Storage, ledger *revocation.Ledger, clk clock.Clock, log logger.Logger) (*Manager, error) {
	if signer == nil || storage == nil || ledger == nil {
		return nil, errors.New("signer, storage and ledger must not be nil")
	}
	if clk == nil {
		clk = clock.Real()
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}

	return &Manager{signer: signer, storage: storage, ledger: ledger, clock: clk, log: log}, nil
}

// With returns manager working on other storage, e.g. bound to transaction
func (m *Manager) With(storage repository.Storage) *Manager {
	clone := *m
	clone.storage = storage
	clone.ledger = m.ledger.With(storage)
	return &clone
}

// Issue new session for already authenticated user
func (m *Manager) Issue(ctx context.Context, user models.User) (models.TokenPair, error) {
	pair, err := m.signer.IssuePair(user.Claims())
	if err != nil {
		return pair, err
	}

	_, err = m.storage.Refresh().Save(ctx, models.RefreshToken{
		ID:        uuid.New(),
		UserID:    user.ID,
		Token:     pair.Refresh.Value,
		IssuedAt:  m.clock.Now(),
		ExpiresAt: pair.Refresh.ExpiresAt,
	})
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("error while saving refresh token. Err: %w", err)
	}

	return pair, nil
}

// Rotate refresh token: revoke presented one and issue new pair
// Only one of concurrent rotations of the same token wins, others fail with apperrors.ErrTokenRevoked
func (m *Manager) Rotate(ctx context.Context, refresh string) (models.TokenPair, models.User, error) {
	var (
		pair models.TokenPair
		user models.User
	)

	claims, err := m.signer.VerifyRefresh(refresh)
	if err != nil {
		return pair, user, err
	}

	record, err := m.storage.Refresh().Get(ctx, refresh)
	if err != nil {
		return pair, user, err
	}

	now := m.clock.Now()
	switch {
	case record.IsRevoked():
		m.log.Warn("revoked refresh token presented", "user_id", record.UserID, "token_id", record.ID)
		return pair, user, fmt.Errorf("refresh failed: %w", apperrors.ErrTokenRevoked)
	case record.IsExpired(now):
		return pair, user, fmt.Errorf("refresh failed: %w", apperrors.ErrTokenExpired)
	case record.UserID != claims.UserID:
		return pair, user, fmt.Errorf("refresh token owner mismatch: %w", apperrors.ErrInvalidToken)
	}

	user, err = m.storage.User().GetUserByID(ctx, record.UserID)
	if err != nil {
		return pair, user, err
	}
	if !user.IsActive {
		return pair, user, fmt.Errorf("refresh failed: %w", apperrors.ErrForbidden)
	}

	pair, err = m.signer.IssuePair(user.Claims())
	if err != nil {
		return pair, user, err
	}

	_, err = m.storage.Refresh().Rotate(ctx, refresh, now, models.RefreshToken{
		ID:        uuid.New(),
		UserID:    user.ID,
		Token:     pair.Refresh.Value,
		IssuedAt:  now,
		ExpiresAt: pair.Refresh.ExpiresAt,
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrTokenRevoked) {
			m.log.Warn("refresh token rotated concurrently", "user_id", user.ID, "token_id", record.ID)
		}
		return models.TokenPair{}, user, err
	}

	return pair, user, nil
}

// Revoke single session. Best effort, see revocation.Ledger.Revoke
func (m *Manager) Revoke(ctx context.Context, refresh string) {
	m.ledger.Revoke(ctx, refresh)
}

// Revoke every session of the user
func (m *Manager) RevokeAll(ctx context.Context, userID uuid.UUID) (int64, error) {
	return m.ledger.RevokeAll(ctx, userID)
}
