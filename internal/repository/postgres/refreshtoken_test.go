package postgres

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/nkiryanov/gopherauth/internal/apperrors"
	"github.com/nkiryanov/gopherauth/internal/models"
	"github.com/nkiryanov/gopherauth/internal/testutil"
)

func mustParseTime(value string) time.Time {
	dt, err := time.Parse("2006-01-02 15:04:05Z07:00", value)
	if err != nil {
		panic(err)
	}
	return dt
}

func Test_RefreshTokenRepo(t *testing.T) {
	t.Parallel() // It's ok to run in parallel with other tests, but not with subtests

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	issuedAt := mustParseTime("2024-01-01 19:00:01Z")
	expiresAt := mustParseTime("2200-01-01 03:00:02Z")
	revokedAt := mustParseTime("2024-01-02 10:00:00Z")

	newToken := func(userID uuid.UUID, value string) models.RefreshToken {
		return models.RefreshToken{
			ID:        uuid.New(),
			UserID:    userID,
			Token:     value,
			IssuedAt:  issuedAt,
			ExpiresAt: expiresAt,
		}
	}

	t.Run("save token ok", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			repo := RefreshTokenRepo{DB: tx}
			user := testutil.MustCreateUser(t, &UserRepo{DB: tx})
			token := newToken(user.ID, "secret-token")

			got, err := repo.Save(t.Context(), token)

			require.NoError(t, err)
			require.Equal(t, token.ID, got.ID)
			require.Equal(t, token.UserID, got.UserID)
			require.Equal(t, token.Token, got.Token)
			require.WithinDuration(t, token.IssuedAt, got.IssuedAt, 0)
			require.WithinDuration(t, token.ExpiresAt, got.ExpiresAt, 0)
			require.Nil(t, got.RevokedAt, "RevokedAt should be nil cause original token has RevokedAt as nil")
		})
	})

	t.Run("get token ok", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			repo := RefreshTokenRepo{DB: tx}
			user := testutil.MustCreateUser(t, &UserRepo{DB: tx})
			saved, err := repo.Save(t.Context(), newToken(user.ID, "secret-token"))
			require.NoError(t, err)

			got, err := repo.Get(t.Context(), "secret-token")

			require.NoError(t, err)
			require.Equal(t, saved, got)
		})
	})

	t.Run("get not existed token", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			repo := RefreshTokenRepo{DB: tx}

			_, err := repo.Get(t.Context(), "not-existed")

			require.ErrorIs(t, err, apperrors.ErrRefreshTokenNotFound)
		})
	})

	t.Run("rotate revokes old and saves next", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			repo := RefreshTokenRepo{DB: tx}
			user := testutil.MustCreateUser(t, &UserRepo{DB: tx})
			_, err := repo.Save(t.Context(), newToken(user.ID, "old-token"))
			require.NoError(t, err)

			next, err := repo.Rotate(t.Context(), "old-token", revokedAt, newToken(uuid.Nil, "next-token"))

			require.NoError(t, err)
			assert.Equal(t, user.ID, next.UserID, "next token has to belong to the owner of the old one")
			assert.Equal(t, "next-token", next.Token)
			assert.Nil(t, next.RevokedAt)

			old, err := repo.Get(t.Context(), "old-token")
			require.NoError(t, err)
			require.NotNil(t, old.RevokedAt)
			assert.WithinDuration(t, revokedAt, *old.RevokedAt, 0)
		})
	})

	t.Run("rotate revoked token fail", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			repo := RefreshTokenRepo{DB: tx}
			user := testutil.MustCreateUser(t, &UserRepo{DB: tx})
			_, err := repo.Save(t.Context(), newToken(user.ID, "old-token"))
			require.NoError(t, err)
			_, err = repo.Rotate(t.Context(), "old-token", revokedAt, newToken(uuid.Nil, "next-token"))
			require.NoError(t, err)

			_, err = repo.Rotate(t.Context(), "old-token", revokedAt, newToken(uuid.Nil, "another-token"))

			require.ErrorIs(t, err, apperrors.ErrTokenRevoked)
			_, err = repo.Get(t.Context(), "another-token")
			require.ErrorIs(t, err, apperrors.ErrRefreshTokenNotFound, "nothing has to be saved on failed rotation")
		})
	})

	t.Run("rotate not existed token", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			repo := RefreshTokenRepo{DB: tx}

			_, err := repo.Rotate(t.Context(), "not-existed", revokedAt, newToken(uuid.Nil, "next-token"))

			require.ErrorIs(t, err, apperrors.ErrRefreshTokenNotFound)
		})
	})

	t.Run("revoke is idempotent", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			repo := RefreshTokenRepo{DB: tx}
			user := testutil.MustCreateUser(t, &UserRepo{DB: tx})
			_, err := repo.Save(t.Context(), newToken(user.ID, "secret-token"))
			require.NoError(t, err)

			require.NoError(t, repo.Revoke(t.Context(), "secret-token", revokedAt))
			require.NoError(t, repo.Revoke(t.Context(), "secret-token", revokedAt.Add(time.Hour)))

			got, err := repo.Get(t.Context(), "secret-token")
			require.NoError(t, err)
			assert.WithinDuration(t, revokedAt, *got.RevokedAt, 0, "first revocation time must be kept")
		})
	})

	t.Run("revoke not existed token", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			repo := RefreshTokenRepo{DB: tx}

			err := repo.Revoke(t.Context(), "not-existed", revokedAt)

			require.ErrorIs(t, err, apperrors.ErrRefreshTokenNotFound)
		})
	})

	t.Run("revoke all for user", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			repo := RefreshTokenRepo{DB: tx}
			user := testutil.MustCreateUser(t, &UserRepo{DB: tx})
			other := testutil.MustCreateUser(t, &UserRepo{DB: tx})
			for _, value := range []string{"t1", "t2", "t3"} {
				_, err := repo.Save(t.Context(), newToken(user.ID, value))
				require.NoError(t, err)
			}
			_, err := repo.Save(t.Context(), newToken(other.ID, "other-token"))
			require.NoError(t, err)
			require.NoError(t, repo.Revoke(t.Context(), "t1", revokedAt))

			count, err := repo.RevokeAllForUser(t.Context(), user.ID, revokedAt)

			require.NoError(t, err)
			assert.EqualValues(t, 2, count, "already revoked token must not be counted")
			otherToken, err := repo.Get(t.Context(), "other-token")
			require.NoError(t, err)
			assert.Nil(t, otherToken.RevokedAt, "tokens of other users must be kept")
		})
	})

	t.Run("delete dead tokens", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			repo := RefreshTokenRepo{DB: tx}
			user := testutil.MustCreateUser(t, &UserRepo{DB: tx})
			now := mustParseTime("2025-01-01 00:00:00Z")

			expired := newToken(user.ID, "expired")
			expired.ExpiresAt = now.Add(-time.Minute)
			_, err := repo.Save(t.Context(), expired)
			require.NoError(t, err)
			_, err = repo.Save(t.Context(), newToken(user.ID, "revoked"))
			require.NoError(t, err)
			require.NoError(t, repo.Revoke(t.Context(), "revoked", revokedAt))
			_, err = repo.Save(t.Context(), newToken(user.ID, "alive"))
			require.NoError(t, err)

			deleted, err := repo.DeleteDead(t.Context(), now)

			require.NoError(t, err)
			assert.EqualValues(t, 2, deleted)
			_, err = repo.Get(t.Context(), "alive")
			assert.NoError(t, err)
		})
	})

	// Runs outside of test transaction, every rotation has its own connection
	t.Run("concurrent rotation has single winner", func(t *testing.T) {
		repo := RefreshTokenRepo{DB: pg.Pool}
		user := testutil.MustCreateUser(t, &UserRepo{DB: pg.Pool})
		old := "concurrent-" + uuid.NewString()
		_, err := repo.Save(t.Context(), newToken(user.ID, old))
		require.NoError(t, err)

		var won, revoked atomic.Int32
		g := errgroup.Group{}
		for i := 0; i < 10; i++ {
			g.Go(func() error {
				_, err := repo.Rotate(t.Context(), old, revokedAt, newToken(uuid.Nil, uuid.NewString()))
				switch {
				case err == nil:
					won.Add(1)
				case assert.ErrorIs(t, err, apperrors.ErrTokenRevoked):
					revoked.Add(1)
				}
				return nil
			})
		}
		require.NoError(t, g.Wait())

		assert.EqualValues(t, 1, won.Load(), "exactly one rotation has to win")
		assert.EqualValues(t, 9, revoked.Load())
	})
}
