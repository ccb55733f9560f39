package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockEvaler struct {
	lastScript string
	lastKeys   []string
	lastArgs   []any
	result     int64
	err        error
}

func (m *mockEvaler) Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd {
	m.lastScript = script
	m.lastKeys = keys
	m.lastArgs = args
	cmd := redis.NewCmd(ctx)
	if m.err != nil {
		cmd.SetErr(m.err)
		return cmd
	}
	cmd.SetVal(m.result)
	return cmd
}

func newLimiter(client evaler, window time.Duration, max int) *RedisLimiter {
	l := NewRedisLimiter(nil, Config{Window: window, Max: max}, nil)
	l.client = client
	return l
}

func Test_RedisLimiter(t *testing.T) {
	t.Parallel()

	t.Run("nil limiter allows", func(t *testing.T) {
		var l *RedisLimiter
		assert.True(t, l.Allow(t.Context(), "user@example.com"))
	})

	t.Run("defaults", func(t *testing.T) {
		l := NewRedisLimiter(nil, Config{}, nil)

		assert.Equal(t, defaultWindow, l.window)
		assert.Equal(t, defaultMax, l.max)
		assert.Equal(t, defaultPrefix, l.prefix)
	})

	t.Run("empty key rejected", func(t *testing.T) {
		l := newLimiter(&mockEvaler{result: 1}, time.Minute, 3)

		assert.False(t, l.Allow(t.Context(), "   "))
	})

	t.Run("allow when count within max", func(t *testing.T) {
		mock := &mockEvaler{result: 2}
		l := newLimiter(mock, 2*time.Minute, 3)

		require.True(t, l.Allow(t.Context(), " User@Example.com "))

		assert.Equal(t, []string{"otp:rl:user@example.com"}, mock.lastKeys, "key has to be normalized")
		assert.Equal(t, []any{120}, mock.lastArgs, "window passed in seconds")
		assert.Equal(t, allowScript, mock.lastScript)
	})

	t.Run("deny when count exceeds max", func(t *testing.T) {
		l := newLimiter(&mockEvaler{result: 4}, time.Minute, 3)

		assert.False(t, l.Allow(t.Context(), "user@example.com"))
	})

	t.Run("redis error fails open", func(t *testing.T) {
		l := newLimiter(&mockEvaler{err: errors.New("redis down")}, time.Minute, 3)

		assert.True(t, l.Allow(t.Context(), "user@example.com"))
	})

	t.Run("real redis window", func(t *testing.T) {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		l := NewRedisLimiter(client, Config{Window: time.Minute, Max: 2}, nil)

		assert.True(t, l.Allow(t.Context(), "user@example.com"))
		assert.True(t, l.Allow(t.Context(), "user@example.com"))
		assert.False(t, l.Allow(t.Context(), "user@example.com"), "third send within window denied")
		assert.True(t, l.Allow(t.Context(), "other@example.com"), "keys counted separately")

		ttl := mr.TTL("otp:rl:user@example.com")
		assert.Equal(t, time.Minute, ttl)

		mr.FastForward(time.Minute + time.Second)
		assert.True(t, l.Allow(t.Context(), "user@example.com"), "new window started")
	})
}
