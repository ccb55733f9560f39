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

type RefreshTokenRepo struct {
	DB DBTX
}

const saveRefreshToken = `-- name: SaveRefreshToken
INSERT INTO refresh_tokens (id, user_id, token, issued_at, expires_at, revoked_at)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id, user_id, token, issued_at, expires_at, revoked_at
`

func (r *RefreshTokenRepo) Save(ctx context.Context, token models.RefreshToken) (models.RefreshToken, error) {
	if token.ID == uuid.Nil {
		token.ID = uuid.New()
	}

	rows, _ := r.DB.Query(ctx, saveRefreshToken, token.ID, token.UserID, token.Token, token.IssuedAt, token.ExpiresAt, token.RevokedAt)
	saved, err := pgx.CollectOneRow(rows, rowToRefreshToken)
	if err != nil {
		return saved, fmt.Errorf("db error: %w", err)
	}

	return saved, nil
}

const getRefreshToken = `-- name: GetRefreshToken
SELECT id, user_id, token, issued_at, expires_at, revoked_at
FROM refresh_tokens
WHERE token = $1
`

// Get token
// It should return result even it expired or revoked already
func (r *RefreshTokenRepo) Get(ctx context.Context, token string) (models.RefreshToken, error) {
	rows, _ := r.DB.Query(ctx, getRefreshToken, token)
	got, err := pgx.CollectOneRow(rows, rowToRefreshToken)

	switch {
	case err == nil:
		return got, nil
	case errors.Is(err, pgx.ErrNoRows):
		return got, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenNotFound)
	default:
		return got, fmt.Errorf("db error: %w", err)
	}
}

// Revoking UPDATE locks the old row, so concurrent rotations of the same token are serialized
// The loser sees 'revoked_at' set after the lock released and inserts nothing
const rotateRefreshToken = `-- name: RotateRefreshToken
WITH revoked AS (
	UPDATE refresh_tokens
	SET revoked_at = $2
	WHERE token = $1 AND revoked_at IS NULL
	RETURNING user_id
)
INSERT INTO refresh_tokens (id, user_id, token, issued_at, expires_at)
SELECT $3, revoked.user_id, $4, $5, $6
FROM revoked
RETURNING id, user_id, token, issued_at, expires_at, revoked_at
`

func (r *RefreshTokenRepo) Rotate(ctx context.Context, old string, revokedAt time.Time, next models.RefreshToken) (models.RefreshToken, error) {
	if next.ID == uuid.Nil {
		next.ID = uuid.New()
	}

	rows, _ := r.DB.Query(ctx, rotateRefreshToken, old, revokedAt, next.ID, next.Token, next.IssuedAt, next.ExpiresAt)
	saved, err := pgx.CollectOneRow(rows, rowToRefreshToken)

	switch {
	case err == nil:
		return saved, nil
	case errors.Is(err, pgx.ErrNoRows):
		// Nothing revoked: token either not exists or revoked already
		existed, getErr := r.Get(ctx, old)
		if getErr != nil {
			return saved, getErr
		}
		if existed.IsRevoked() {
			return saved, fmt.Errorf("repo error: %w", apperrors.ErrTokenRevoked)
		}
		return saved, fmt.Errorf("repo error: token neither revoked nor rotated")
	default:
		return saved, fmt.Errorf("db error: %w", err)
	}
}

const revokeRefreshToken = `-- name: RevokeRefreshToken
UPDATE refresh_tokens
SET revoked_at = COALESCE(revoked_at, $2)
WHERE token = $1
`

func (r *RefreshTokenRepo) Revoke(ctx context.Context, token string, at time.Time) error {
	tag, err := r.DB.Exec(ctx, revokeRefreshToken, token, at)
	switch {
	case err != nil:
		return fmt.Errorf("db error: %w", err)
	case tag.RowsAffected() == 0:
		return fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenNotFound)
	default:
		return nil
	}
}

const revokeAllRefreshTokens = `-- name: RevokeAllRefreshTokens
UPDATE refresh_tokens
SET revoked_at = $2
WHERE user_id = $1 AND revoked_at IS NULL
`

func (r *RefreshTokenRepo) RevokeAllForUser(ctx context.Context, userID uuid.UUID, at time.Time) (int64, error) {
	tag, err := r.DB.Exec(ctx, revokeAllRefreshTokens, userID, at)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected(), nil
}

const deleteDeadRefreshTokens = `-- name: DeleteDeadRefreshTokens
DELETE FROM refresh_tokens
WHERE revoked_at IS NOT NULL OR expires_at < $1
`

func (r *RefreshTokenRepo) DeleteDead(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.DB.Exec(ctx, deleteDeadRefreshTokens, now)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected(), nil
}

func rowToRefreshToken(row pgx.CollectableRow) (models.RefreshToken, error) {
	var t models.RefreshToken
	err := row.Scan(&t.ID, &t.UserID, &t.Token, &t.IssuedAt, &t.ExpiresAt, &t.RevokedAt)
	return t, err
}
