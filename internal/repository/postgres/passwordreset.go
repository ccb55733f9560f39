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

type PasswordResetRepo struct {
	DB DBTX
}

const resetColumns = `id, user_id, email, token, created_at, expires_at, used_at`

const lockResetKey = `-- name: LockResetKey
SELECT pg_advisory_xact_lock(hashtextextended('reset:' || $1, 0))
`

const deleteUnusedResets = `-- name: DeleteUnusedResets
DELETE FROM password_resets
WHERE email = $1 AND used_at IS NULL
`

const insertReset = `-- name: InsertReset
INSERT INTO password_resets (id, user_id, email, token, created_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING ` + resetColumns

func (r *PasswordResetRepo) Replace(ctx context.Context, reset models.PasswordReset) (models.PasswordReset, error) {
	if reset.ID == uuid.Nil {
		reset.ID = uuid.New()
	}

	var saved models.PasswordReset
	err := inTx(ctx, r.DB, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, lockResetKey, reset.Email); err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		if _, err := tx.Exec(ctx, deleteUnusedResets, reset.Email); err != nil {
			return fmt.Errorf("db error: %w", err)
		}

		rows, _ := tx.Query(ctx, insertReset, reset.ID, reset.UserID, reset.Email, reset.Token, reset.CreatedAt, reset.ExpiresAt)
		var err error
		saved, err = pgx.CollectOneRow(rows, rowToReset)
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		return nil
	})

	return saved, err
}

const getReset = `-- name: GetReset
SELECT ` + resetColumns + ` FROM password_resets
WHERE token = $1
`

func (r *PasswordResetRepo) Get(ctx context.Context, token string) (models.PasswordReset, error) {
	rows, _ := r.DB.Query(ctx, getReset, token)
	reset, err := pgx.CollectOneRow(rows, rowToReset)

	switch {
	case err == nil:
		return reset, nil
	case errors.Is(err, pgx.ErrNoRows):
		return reset, fmt.Errorf("repo error: %w", apperrors.ErrResetTokenNotFound)
	default:
		return reset, fmt.Errorf("db error: %w", err)
	}
}

const markResetUsed = `-- name: MarkResetUsed
UPDATE password_resets
SET used_at = $2
WHERE token = $1 AND used_at IS NULL
`

// Mark token used
// Should not rewrite already used tokens and has to report them with apperrors.ErrAlreadyUsed
func (r *PasswordResetRepo) MarkUsed(ctx context.Context, token string, at time.Time) error {
	tag, err := r.DB.Exec(ctx, markResetUsed, token, at)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	// Nothing updated: token either not exists or used already
	if _, err := r.Get(ctx, token); err != nil {
		return err
	}
	return fmt.Errorf("repo error: %w", apperrors.ErrAlreadyUsed)
}

const deleteDeadResets = `-- name: DeleteDeadResets
DELETE FROM password_resets
WHERE used_at IS NOT NULL OR expires_at < $1
`

func (r *PasswordResetRepo) DeleteDead(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.DB.Exec(ctx, deleteDeadResets, now)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected(), nil
}

func rowToReset(row pgx.CollectableRow) (models.PasswordReset, error) {
	var p models.PasswordReset
	err := row.Scan(&p.ID, &p.UserID, &p.Email, &p.Token, &p.CreatedAt, &p.ExpiresAt, &p.UsedAt)
	return p, err
}
