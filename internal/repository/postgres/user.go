package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nkiryanov/gopherauth/internal/apperrors"
	"github.com/nkiryanov/gopherauth/internal/models"
)

type UserRepo struct {
	DB DBTX
}

const userColumns = `id, created_at, email, username, password_hash, role, provider, is_active, is_verified, last_login_at`

const createUser = `-- name: CreateUser
INSERT INTO users (id, email, username, password_hash, role, provider, is_active, is_verified)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING ` + userColumns

func (r *UserRepo) CreateUser(ctx context.Context, u models.User) (models.User, error) {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}

	rows, _ := r.DB.Query(ctx, createUser, u.ID, u.Email, u.Username, u.PasswordHash, u.Role, u.Provider, u.IsActive, u.IsVerified)
	user, err := pgx.CollectOneRow(rows, rowToUser)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return user, apperrors.ErrUserAlreadyExists
		}

		return user, fmt.Errorf("db error: %w", err)
	}

	return user, nil
}

const getUserByID = `-- name: GetUserByID
SELECT ` + userColumns + ` FROM users
WHERE id = $1
`

func (r *UserRepo) GetUserByID(ctx context.Context, id uuid.UUID) (models.User, error) {
	rows, _ := r.DB.Query(ctx, getUserByID, id)
	return collectUser(rows)
}

const getUserByEmail = `-- name: GetUserByEmail
SELECT ` + userColumns + ` FROM users
WHERE email = $1
`

func (r *UserRepo) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	rows, _ := r.DB.Query(ctx, getUserByEmail, email)
	return collectUser(rows)
}

const setVerified = `-- name: SetVerified
UPDATE users SET is_verified = TRUE
WHERE id = $1
`

func (r *UserRepo) SetVerified(ctx context.Context, id uuid.UUID) error {
	return r.exec(ctx, setVerified, id)
}

const setActive = `-- name: SetActive
UPDATE users SET is_active = $2
WHERE id = $1
`

func (r *UserRepo) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	return r.exec(ctx, setActive, id, active)
}

const setPasswordHash = `-- name: SetPasswordHash
UPDATE users SET password_hash = $2
WHERE id = $1
`

func (r *UserRepo) SetPasswordHash(ctx context.Context, id uuid.UUID, hash string) error {
	return r.exec(ctx, setPasswordHash, id, hash)
}

const setLastLogin = `-- name: SetLastLogin
UPDATE users SET last_login_at = $2
WHERE id = $1
`

func (r *UserRepo) SetLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.exec(ctx, setLastLogin, id, at)
}

// Exec update statement and report ErrUserNotFound if nothing updated
func (r *UserRepo) exec(ctx context.Context, query string, args ...any) error {
	tag, err := r.DB.Exec(ctx, query, args...)
	switch {
	case err != nil:
		return fmt.Errorf("db error: %w", err)
	case tag.RowsAffected() == 0:
		return apperrors.ErrUserNotFound
	default:
		return nil
	}
}

func collectUser(rows pgx.Rows) (models.User, error) {
	user, err := pgx.CollectOneRow(rows, rowToUser)

	switch {
	case err == nil:
		return user, nil
	case errors.Is(err, pgx.ErrNoRows):
		return user, apperrors.ErrUserNotFound
	default:
		return user, fmt.Errorf("db error: %w", err)
	}
}

func rowToUser(row pgx.CollectableRow) (models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.CreatedAt, &u.Email, &u.Username, &u.PasswordHash, &u.Role, &u.Provider, &u.IsActive, &u.IsVerified, &u.LastLoginAt)
	return u, err
}
