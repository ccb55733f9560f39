package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/gopherauth/internal/models"
)

// User repository interface
type UserRepo interface {
	// Create user
	// If user with email or username exists already has to return error apperrors.ErrUserAlreadyExists
	CreateUser(ctx context.Context, user models.User) (models.User, error)

	// Get user by it's id or email
	// If user not found must return apperrors.ErrUserNotFound
	GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error)
	GetUserByEmail(ctx context.Context, email string) (models.User, error)

	// Update user fields. Must return apperrors.ErrUserNotFound if user not exists
	SetVerified(ctx context.Context, userID uuid.UUID) error
	SetActive(ctx context.Context, userID uuid.UUID, active bool) error
	SetPasswordHash(ctx context.Context, userID uuid.UUID, hash string) error
	SetLastLogin(ctx context.Context, userID uuid.UUID, at time.Time) error
}

// RefreshToken repository interface
type RefreshTokenRepo interface {
	// Save new token
	Save(ctx context.Context, token models.RefreshToken) (models.RefreshToken, error)

	// Return the token even if it is expired or revoked
	// If the token not exists must return apperrors.ErrRefreshTokenNotFound
	Get(ctx context.Context, token string) (models.RefreshToken, error)

	// Revoke the old token and save the next one as a single atomic operation
	// Revocation is conditional on the old token not being revoked yet, so only one of concurrent callers wins
	// If the old token not exists must return apperrors.ErrRefreshTokenNotFound
	// If the old token is revoked already must return apperrors.ErrTokenRevoked and save nothing
	Rotate(ctx context.Context, old string, revokedAt time.Time, next models.RefreshToken) (models.RefreshToken, error)

	// Revoke the token
	// Must not overwrite the existing 'revokedAt'
	// If the token not exists must return apperrors.ErrRefreshTokenNotFound
	Revoke(ctx context.Context, token string, at time.Time) error

	// Revoke every not revoked token of the user, return number of tokens revoked
	RevokeAllForUser(ctx context.Context, userID uuid.UUID, at time.Time) (int64, error)

	// Delete tokens that are revoked or expired before now
	DeleteDead(ctx context.Context, now time.Time) (int64, error)
}

// OTP repository interface
type OTPRepo interface {
	// Delete every unused code for (email, type) and save the new one as a single atomic operation
	Replace(ctx context.Context, otp models.OTP) (models.OTP, error)

	// Return the most recent unused code for (email, type)
	// If there is no such code must return apperrors.ErrOTPNotFound
	GetActive(ctx context.Context, email string, otpType models.OTPType) (models.OTP, error)

	// Count one verification attempt of unused code and return the new value
	// Check and increment is a single atomic step: at most 'max' attempts are ever counted
	// Must return apperrors.ErrAttemptsExceeded if 'max' attempts are counted already,
	// apperrors.ErrOTPNotFound if code not exists or used
	TakeAttempt(ctx context.Context, id uuid.UUID, max int) (int, error)

	// Mark code used. Idempotent: must not overwrite the existing 'usedAt'
	// If code not exists must return apperrors.ErrOTPNotFound
	MarkUsed(ctx context.Context, id uuid.UUID, at time.Time) error

	// Mark unused code used. Only one of concurrent calls succeeds
	// Must return apperrors.ErrAlreadyUsed if code is used already, apperrors.ErrOTPNotFound if not exists
	Consume(ctx context.Context, id uuid.UUID, at time.Time) error

	// Report whether any code (used or not) for (email, type) was created at or after 'since'
	CreatedSince(ctx context.Context, email string, otpType models.OTPType, since time.Time) (bool, error)

	// Most recent codes of the user
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]models.OTP, error)

	// Delete codes expired before now
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Password reset repository interface
type PasswordResetRepo interface {
	// Delete every unused token for email and save the new one as a single atomic operation
	Replace(ctx context.Context, reset models.PasswordReset) (models.PasswordReset, error)

	// Return the token even if it is used or expired
	// If the token not exists must return apperrors.ErrResetTokenNotFound
	Get(ctx context.Context, token string) (models.PasswordReset, error)

	// Mark token used if it is not used yet
	// If the token is used already must return apperrors.ErrAlreadyUsed
	// If the token not exists must return apperrors.ErrResetTokenNotFound
	MarkUsed(ctx context.Context, token string, at time.Time) error

	// Delete tokens that are used or expired before now
	DeleteDead(ctx context.Context, now time.Time) (int64, error)
}

// Storage gives access to every credential repository
// InTx runs fn with storage bound to a single transaction: commit if fn returns nil, rollback otherwise
type Storage interface {
	User() UserRepo
	Refresh() RefreshTokenRepo
	OTP() OTPRepo
	Reset() PasswordResetRepo

	InTx(ctx context.Context, fn func(Storage) error) error
}
