package reset

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/gopherauth/internal/apperrors"
	"github.com/nkiryanov/gopherauth/internal/clock"
	"github.com/nkiryanov/gopherauth/internal/repository/memory"
	"github.com/nkiryanov/gopherauth/internal/testutil"
)

var now = time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)

func Test_Manager(t *testing.T) {
	t.Parallel()

	setup := func(t *testing.T) (*Manager, *clock.Fake, *memory.Storage) {
		clk := clock.NewFake(now)
		storage := memory.NewStorage(clk)
		m, err := New(Config{}, storage.Reset(), clk)
		require.NoError(t, err)
		return m, clk, storage
	}

	t.Run("create token", func(t *testing.T) {
		m, _, storage := setup(t)
		user := testutil.MustCreateUser(t, storage.User())

		reset, err := m.CreateToken(t.Context(), user.ID, user.Email)

		require.NoError(t, err)
		assert.Regexp(t, `^[0-9a-f]{64}$`, reset.Token)
		assert.Equal(t, now.Add(defaultTTL), reset.ExpiresAt)
		assert.Equal(t, user.ID, reset.UserID)
	})

	t.Run("new token replaces unused one", func(t *testing.T) {
		m, _, storage := setup(t)
		user := testutil.MustCreateUser(t, storage.User())
		first, err := m.CreateToken(t.Context(), user.ID, user.Email)
		require.NoError(t, err)

		second, err := m.CreateToken(t.Context(), user.ID, user.Email)
		require.NoError(t, err)

		assert.NotEqual(t, first.Token, second.Token)
		_, err = m.VerifyToken(t.Context(), first.Token)
		assert.ErrorIs(t, err, apperrors.ErrResetTokenNotFound)
		_, err = m.VerifyToken(t.Context(), second.Token)
		assert.NoError(t, err)
	})

	t.Run("verify does not consume", func(t *testing.T) {
		m, _, storage := setup(t)
		user := testutil.MustCreateUser(t, storage.User())
		reset, err := m.CreateToken(t.Context(), user.ID, user.Email)
		require.NoError(t, err)

		for range 2 {
			got, err := m.VerifyToken(t.Context(), reset.Token)
			require.NoError(t, err)
			assert.Equal(t, user.ID, got.UserID)
			assert.Equal(t, user.Email, got.Email)
		}
	})

	t.Run("consume once", func(t *testing.T) {
		m, _, storage := setup(t)
		user := testutil.MustCreateUser(t, storage.User())
		reset, err := m.CreateToken(t.Context(), user.ID, user.Email)
		require.NoError(t, err)

		require.NoError(t, m.Consume(t.Context(), reset.Token))

		_, err = m.VerifyToken(t.Context(), reset.Token)
		require.ErrorIs(t, err, apperrors.ErrAlreadyUsed)
		err = m.Consume(t.Context(), reset.Token)
		require.ErrorIs(t, err, apperrors.ErrAlreadyUsed)
	})

	t.Run("expired token", func(t *testing.T) {
		m, clk, storage := setup(t)
		user := testutil.MustCreateUser(t, storage.User())
		reset, err := m.CreateToken(t.Context(), user.ID, user.Email)
		require.NoError(t, err)

		clk.Advance(defaultTTL + time.Second)
		_, err = m.VerifyToken(t.Context(), reset.Token)

		require.ErrorIs(t, err, apperrors.ErrTokenExpired)
	})

	t.Run("unknown token", func(t *testing.T) {
		m, _, _ := setup(t)

		_, err := m.VerifyToken(t.Context(), "unknown")

		require.ErrorIs(t, err, apperrors.ErrNotFound)
	})
}
