package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nkiryanov/gopherauth/internal/repository"
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx
// Begin on pgx.Tx starts a savepoint, so repositories may open nested transactions freely
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Storage struct {
	db DBTX
}

func NewStorage(db DBTX) repository.Storage {
	return &Storage{db: db}
}

func (s *Storage) User() repository.UserRepo {
	return &UserRepo{DB: s.db}
}

func (s *Storage) Refresh() repository.RefreshTokenRepo {
	return &RefreshTokenRepo{DB: s.db}
}

func (s *Storage) OTP() repository.OTPRepo {
	return &OTPRepo{DB: s.db}
}

func (s *Storage) Reset() repository.PasswordResetRepo {
	return &PasswordResetRepo{DB: s.db}
}

func (s *Storage) InTx(ctx context.Context, fn func(repository.Storage) error) error {
	return inTx(ctx, s.db, func(tx pgx.Tx) error {
		return fn(NewStorage(tx))
	})
}

// Run fn in transaction: commit if fn succeeded, rollback otherwise
func inTx(ctx context.Context, db DBTX, fn func(pgx.Tx) error) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("db tx error: %w", err)
	}

	// No-op after commit. Releases the transaction if fn panics
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("db tx error: %w", err)
	}
	return nil
}
