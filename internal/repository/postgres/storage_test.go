package postgres

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/gopherauth/internal/apperrors"
	"github.com/nkiryanov/gopherauth/internal/repository"
	"github.com/nkiryanov/gopherauth/internal/testutil"
)

func Test_Storage_InTx(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	t.Run("commit on success", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			s := NewStorage(tx)
			user := testutil.MustCreateUser(t, s.User())

			err := s.InTx(t.Context(), func(txs repository.Storage) error {
				return txs.User().SetVerified(t.Context(), user.ID)
			})
			require.NoError(t, err)

			got, err := s.User().GetUserByID(t.Context(), user.ID)
			require.NoError(t, err)
			assert.True(t, got.IsVerified)
		})
	})

	t.Run("rollback on error", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			s := NewStorage(tx)
			user := testutil.MustCreateUser(t, s.User())
			errBoom := errors.New("boom")

			err := s.InTx(t.Context(), func(txs repository.Storage) error {
				require.NoError(t, txs.User().SetVerified(t.Context(), user.ID))
				return errBoom
			})
			require.ErrorIs(t, err, errBoom)

			got, err := s.User().GetUserByID(t.Context(), user.ID)
			require.NoError(t, err)
			assert.False(t, got.IsVerified, "changes made in failed transaction must be rolled back")
		})
	})

	t.Run("rollback on panic", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			s := NewStorage(tx)
			user := testutil.MustCreateUser(t, s.User())

			require.Panics(t, func() {
				_ = s.InTx(t.Context(), func(txs repository.Storage) error {
					require.NoError(t, txs.User().SetVerified(t.Context(), user.ID))
					panic("boom")
				})
			})

			got, err := s.User().GetUserByID(t.Context(), user.ID)
			require.NoError(t, err, "outer transaction must stay usable")
			assert.False(t, got.IsVerified, "changes made before panic must be rolled back")
		})
	})

	t.Run("error of inner repository passed as is", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			s := NewStorage(tx)

			err := s.InTx(t.Context(), func(txs repository.Storage) error {
				_, err := txs.Refresh().Get(t.Context(), "not-existed")
				return err
			})

			require.ErrorIs(t, err, apperrors.ErrRefreshTokenNotFound)
		})
	})
}
