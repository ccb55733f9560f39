package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/gopherauth/internal/apperrors"
	"github.com/nkiryanov/gopherauth/internal/models"
)

type PasswordResetRepo struct {
	s *Storage
}

func (r *PasswordResetRepo) Replace(ctx context.Context, reset models.PasswordReset) (models.PasswordReset, error) {
	unlock := r.s.lock()
	defer unlock()

	for token, p := range r.s.data.resets {
		if p.Email == reset.Email && !p.IsUsed() {
			delete(r.s.data.resets, token)
		}
	}

	if _, exists := r.s.data.resets[reset.Token]; exists {
		return models.PasswordReset{}, fmt.Errorf("repo error: reset token exists already")
	}
	if reset.ID == uuid.Nil {
		reset.ID = uuid.New()
	}
	reset.UsedAt = nil
	r.s.data.resets[reset.Token] = reset

	return reset, nil
}

func (r *PasswordResetRepo) Get(ctx context.Context, token string) (models.PasswordReset, error) {
	unlock := r.s.lock()
	defer unlock()

	reset, ok := r.s.data.resets[token]
	if !ok {
		return models.PasswordReset{}, fmt.Errorf("repo error: %w", apperrors.ErrResetTokenNotFound)
	}
	return reset, nil
}

func (r *PasswordResetRepo) MarkUsed(ctx context.Context, token string, at time.Time) error {
	unlock := r.s.lock()
	defer unlock()

	reset, ok := r.s.data.resets[token]
	switch {
	case !ok:
		return fmt.Errorf("repo error: %w", apperrors.ErrResetTokenNotFound)
	case reset.IsUsed():
		return fmt.Errorf("repo error: %w", apperrors.ErrAlreadyUsed)
	}

	reset.UsedAt = &at
	r.s.data.resets[token] = reset

	return nil
}

func (r *PasswordResetRepo) DeleteDead(ctx context.Context, now time.Time) (int64, error) {
	unlock := r.s.lock()
	defer unlock()

	var count int64
	for token, p := range r.s.data.resets {
		if p.IsUsed() || p.ExpiresAt.Before(now) {
			delete(r.s.data.resets, token)
			count++
		}
	}

	return count, nil
}
