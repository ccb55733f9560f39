package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/gopherauth/internal/apperrors"
	"github.com/nkiryanov/gopherauth/internal/models"
)

type RefreshTokenRepo struct {
	s *Storage
}

func (r *RefreshTokenRepo) Save(ctx context.Context, token models.RefreshToken) (models.RefreshToken, error) {
	unlock := r.s.lock()
	defer unlock()

	return r.save(token)
}

func (r *RefreshTokenRepo) save(token models.RefreshToken) (models.RefreshToken, error) {
	if _, exists := r.s.data.refresh[token.Token]; exists {
		return models.RefreshToken{}, fmt.Errorf("repo error: refresh token exists already")
	}
	if token.ID == uuid.Nil {
		token.ID = uuid.New()
	}
	r.s.data.refresh[token.Token] = token

	return token, nil
}

func (r *RefreshTokenRepo) Get(ctx context.Context, token string) (models.RefreshToken, error) {
	unlock := r.s.lock()
	defer unlock()

	got, ok := r.s.data.refresh[token]
	if !ok {
		return models.RefreshToken{}, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenNotFound)
	}
	return got, nil
}

func (r *RefreshTokenRepo) Rotate(ctx context.Context, old string, revokedAt time.Time, next models.RefreshToken) (models.RefreshToken, error) {
	unlock := r.s.lock()
	defer unlock()

	current, ok := r.s.data.refresh[old]
	switch {
	case !ok:
		return models.RefreshToken{}, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenNotFound)
	case current.IsRevoked():
		return models.RefreshToken{}, fmt.Errorf("repo error: %w", apperrors.ErrTokenRevoked)
	}

	next.UserID = current.UserID
	saved, err := r.save(next)
	if err != nil {
		return saved, err
	}

	current.RevokedAt = &revokedAt
	r.s.data.refresh[old] = current

	return saved, nil
}

func (r *RefreshTokenRepo) Revoke(ctx context.Context, token string, at time.Time) error {
	unlock := r.s.lock()
	defer unlock()

	current, ok := r.s.data.refresh[token]
	if !ok {
		return fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenNotFound)
	}
	if !current.IsRevoked() {
		current.RevokedAt = &at
		r.s.data.refresh[token] = current
	}

	return nil
}

func (r *RefreshTokenRepo) RevokeAllForUser(ctx context.Context, userID uuid.UUID, at time.Time) (int64, error) {
	unlock := r.s.lock()
	defer unlock()

	var count int64
	for key, t := range r.s.data.refresh {
		if t.UserID == userID && !t.IsRevoked() {
			t.RevokedAt = &at
			r.s.data.refresh[key] = t
			count++
		}
	}

	return count, nil
}

func (r *RefreshTokenRepo) DeleteDead(ctx context.Context, now time.Time) (int64, error) {
	unlock := r.s.lock()
	defer unlock()

	var count int64
	for key, t := range r.s.data.refresh {
		if t.IsRevoked() || t.ExpiresAt.Before(now) {
			delete(r.s.data.refresh, key)
			count++
		}
	}

	return count, nil
}
