package memory

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/gopherauth/internal/apperrors"
	"github.com/nkiryanov/gopherauth/internal/models"
)

type OTPRepo struct {
	s *Storage
}

func (r *OTPRepo) Replace(ctx context.Context, otp models.OTP) (models.OTP, error) {
	unlock := r.s.lock()
	defer unlock()

	for id, o := range r.s.data.otps {
		if o.Email == otp.Email && o.Type == otp.Type && !o.IsUsed() {
			delete(r.s.data.otps, id)
		}
	}

	if otp.ID == uuid.Nil {
		otp.ID = uuid.New()
	}
	otp.Attempts = 0
	otp.UsedAt = nil
	r.s.data.otps[otp.ID] = otp

	return otp, nil
}

func (r *OTPRepo) GetActive(ctx context.Context, email string, otpType models.OTPType) (models.OTP, error) {
	unlock := r.s.lock()
	defer unlock()

	var (
		active models.OTP
		found  bool
	)
	for _, o := range r.s.data.otps {
		if o.Email != email || o.Type != otpType || o.IsUsed() {
			continue
		}
		if !found || o.CreatedAt.After(active.CreatedAt) {
			active, found = o, true
		}
	}

	if !found {
		return models.OTP{}, fmt.Errorf("repo error: %w", apperrors.ErrOTPNotFound)
	}
	return active, nil
}

func (r *OTPRepo) TakeAttempt(ctx context.Context, id uuid.UUID, max int) (int, error) {
	unlock := r.s.lock()
	defer unlock()

	o, ok := r.s.data.otps[id]
	switch {
	case !ok || o.IsUsed():
		return 0, fmt.Errorf("repo error: %w", apperrors.ErrOTPNotFound)
	case o.Attempts >= max:
		return 0, fmt.Errorf("repo error: %w", apperrors.ErrAttemptsExceeded)
	}
	o.Attempts++
	r.s.data.otps[id] = o

	return o.Attempts, nil
}

func (r *OTPRepo) Consume(ctx context.Context, id uuid.UUID, at time.Time) error {
	unlock := r.s.lock()
	defer unlock()

	o, ok := r.s.data.otps[id]
	switch {
	case !ok:
		return fmt.Errorf("repo error: %w", apperrors.ErrOTPNotFound)
	case o.IsUsed():
		return fmt.Errorf("repo error: %w", apperrors.ErrAlreadyUsed)
	}
	o.UsedAt = &at
	r.s.data.otps[id] = o

	return nil
}

func (r *OTPRepo) MarkUsed(ctx context.Context, id uuid.UUID, at time.Time) error {
	unlock := r.s.lock()
	defer unlock()

	o, ok := r.s.data.otps[id]
	if !ok {
		return fmt.Errorf("repo error: %w", apperrors.ErrOTPNotFound)
	}
	if !o.IsUsed() {
		o.UsedAt = &at
		r.s.data.otps[id] = o
	}

	return nil
}

func (r *OTPRepo) CreatedSince(ctx context.Context, email string, otpType models.OTPType, since time.Time) (bool, error) {
	unlock := r.s.lock()
	defer unlock()

	for _, o := range r.s.data.otps {
		if o.Email == email && o.Type == otpType && !o.CreatedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func (r *OTPRepo) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]models.OTP, error) {
	unlock := r.s.lock()
	defer unlock()

	var otps []models.OTP
	for _, o := range r.s.data.otps {
		if o.UserID == userID {
			otps = append(otps, o)
		}
	}

	slices.SortFunc(otps, func(a, b models.OTP) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if len(otps) > limit {
		otps = otps[:limit]
	}

	return otps, nil
}

func (r *OTPRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	unlock := r.s.lock()
	defer unlock()

	var count int64
	for id, o := range r.s.data.otps {
		if o.ExpiresAt.Before(now) {
			delete(r.s.data.otps, id)
			count++
		}
	}

	return count, nil
}
