package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nkiryanov/gopherauth/internal/apperrors"
	"github.com/nkiryanov/gopherauth/internal/models"
)

type OTPRepo struct {
	DB DBTX
}

const otpColumns = `id, user_id, email, code, type, attempts, created_at, expires_at, used_at`

// Serializes replacements for the same (email, type) until transaction ends
const lockOTPKey = `-- name: LockOTPKey
SELECT pg_advisory_xact_lock(hashtextextended('otp:' || $1 || ':' || $2, 0))
`

const deleteUnusedOTPs = `-- name: DeleteUnusedOTPs
DELETE FROM otps
WHERE email = $1 AND type = $2 AND used_at IS NULL
`

const insertOTP = `-- name: InsertOTP
INSERT INTO otps (id, user_id, email, code, type, attempts, created_at, expires_at)
VALUES ($1, $2, $3, $4, $5, 0, $6, $7)
RETURNING ` + otpColumns

func (r *OTPRepo) Replace(ctx context.Context, otp models.OTP) (models.OTP, error) {
	if otp.ID == uuid.Nil {
		otp.ID = uuid.New()
	}

	var saved models.OTP
	err := inTx(ctx, r.DB, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, lockOTPKey, otp.Email, string(otp.Type)); err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		if _, err := tx.Exec(ctx, deleteUnusedOTPs, otp.Email, otp.Type); err != nil {
			return fmt.Errorf("db error: %w", err)
		}

		rows, _ := tx.Query(ctx, insertOTP, otp.ID, otp.UserID, otp.Email, otp.Code, otp.Type, otp.CreatedAt, otp.ExpiresAt)
		var err error
		saved, err = pgx.CollectOneRow(rows, rowToOTP)
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		return nil
	})

	return saved, err
}

const getActiveOTP = `-- name: GetActiveOTP
SELECT ` + otpColumns + ` FROM otps
WHERE email = $1 AND type = $2 AND used_at IS NULL
ORDER BY created_at DESC
LIMIT 1
`

func (r *OTPRepo) GetActive(ctx context.Context, email string, otpType models.OTPType) (models.OTP, error) {
	rows, _ := r.DB.Query(ctx, getActiveOTP, email, otpType)
	otp, err := pgx.CollectOneRow(rows, rowToOTP)

	switch {
	case err == nil:
		return otp, nil
	case errors.Is(err, pgx.ErrNoRows):
		return otp, fmt.Errorf("repo error: %w", apperrors.ErrOTPNotFound)
	default:
		return otp, fmt.Errorf("db error: %w", err)
	}
}

const takeOTPAttempt = `-- name: TakeOTPAttempt
UPDATE otps SET attempts = attempts + 1
WHERE id = $1 AND used_at IS NULL AND attempts < $2
RETURNING attempts
`

const getOTPState = `-- name: GetOTPState
SELECT used_at IS NOT NULL FROM otps
WHERE id = $1
`

func (r *OTPRepo) TakeAttempt(ctx context.Context, id uuid.UUID, max int) (int, error) {
	rows, _ := r.DB.Query(ctx, takeOTPAttempt, id, max)
	attempts, err := pgx.CollectOneRow(rows, pgx.RowTo[int])

	switch {
	case err == nil:
		return attempts, nil
	case errors.Is(err, pgx.ErrNoRows):
		used, err := r.isUsed(ctx, id)
		switch {
		case err != nil:
			return 0, err
		case used:
			return 0, fmt.Errorf("repo error: %w", apperrors.ErrOTPNotFound)
		default:
			return 0, fmt.Errorf("repo error: %w", apperrors.ErrAttemptsExceeded)
		}
	default:
		return 0, fmt.Errorf("db error: %w", err)
	}
}

const markOTPUsed = `-- name: MarkOTPUsed
UPDATE otps SET used_at = COALESCE(used_at, $2)
WHERE id = $1
`

func (r *OTPRepo) MarkUsed(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := r.DB.Exec(ctx, markOTPUsed, id, at)
	switch {
	case err != nil:
		return fmt.Errorf("db error: %w", err)
	case tag.RowsAffected() == 0:
		return fmt.Errorf("repo error: %w", apperrors.ErrOTPNotFound)
	default:
		return nil
	}
}

// Row lock of the UPDATE serializes concurrent calls, the loser sees 'used_at' set and updates nothing
const consumeOTP = `-- name: ConsumeOTP
UPDATE otps SET used_at = $2
WHERE id = $1 AND used_at IS NULL
`

func (r *OTPRepo) Consume(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := r.DB.Exec(ctx, consumeOTP, id, at)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	used, err := r.isUsed(ctx, id)
	switch {
	case err != nil:
		return err
	case used:
		return fmt.Errorf("repo error: %w", apperrors.ErrAlreadyUsed)
	default:
		// Not possible: unused row would be updated
		return fmt.Errorf("repo error: otp %s not consumed", id)
	}
}

// Report whether code is used, apperrors.ErrOTPNotFound if not exists
func (r *OTPRepo) isUsed(ctx context.Context, id uuid.UUID) (bool, error) {
	var used bool
	err := r.DB.QueryRow(ctx, getOTPState, id).Scan(&used)

	switch {
	case err == nil:
		return used, nil
	case errors.Is(err, pgx.ErrNoRows):
		return false, fmt.Errorf("repo error: %w", apperrors.ErrOTPNotFound)
	default:
		return false, fmt.Errorf("db error: %w", err)
	}
}

const otpCreatedSince = `-- name: OTPCreatedSince
SELECT EXISTS (
	SELECT 1 FROM otps
	WHERE email = $1 AND type = $2 AND created_at >= $3
)
`

func (r *OTPRepo) CreatedSince(ctx context.Context, email string, otpType models.OTPType, since time.Time) (bool, error) {
	var exists bool
	err := r.DB.QueryRow(ctx, otpCreatedSince, email, otpType, since).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return exists, nil
}

const listUserOTPs = `-- name: ListUserOTPs
SELECT ` + otpColumns + ` FROM otps
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2
`

func (r *OTPRepo) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]models.OTP, error) {
	rows, _ := r.DB.Query(ctx, listUserOTPs, userID, limit)
	otps, err := pgx.CollectRows(rows, rowToOTP)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return otps, nil
}

const deleteExpiredOTPs = `-- name: DeleteExpiredOTPs
DELETE FROM otps
WHERE expires_at < $1
`

func (r *OTPRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.DB.Exec(ctx, deleteExpiredOTPs, now)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected(), nil
}

func rowToOTP(row pgx.CollectableRow) (models.OTP, error) {
	var o models.OTP
	err := row.Scan(&o.ID, &o.UserID, &o.Email, &o.Code, &o.Type, &o.Attempts, &o.CreatedAt, &o.ExpiresAt, &o.UsedAt)
	return o, err
}
