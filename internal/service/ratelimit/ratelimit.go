// Package ratelimit counts requests per key in a fixed redis window.
package ratelimit

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nkiryanov/gopherauth/internal/logger"
)

const (
	defaultWindow  = 10 * time.Minute
	defaultMax     = 3
	defaultPrefix  = "otp:rl:"
	requestTimeout = 500 * time.Millisecond
)

// First INCR in the window starts the window
const allowScript = `
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return current
`

type evaler interface {
	Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd
}

type Config struct {
	// Window length and number of sends allowed within
	Window time.Duration
	Max    int

	// Key prefix in redis
	Prefix string
}

// RedisLimiter fails open: if redis is not reachable every request is allowed
type RedisLimiter struct {
	client evaler
	window time.Duration
	max    int
	prefix string
	log    logger.Logger
}

func NewRedisLimiter(client *redis.Client, cfg Config, log logger.Logger) *RedisLimiter {
	if cfg.Window <= 0 {
		cfg.Window = defaultWindow
	}
	if cfg.Max <= 0 {
		cfg.Max = defaultMax
	}
	if cfg.Prefix == "" {
		cfg.Prefix = defaultPrefix
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}

	l := &RedisLimiter{
		window: cfg.Window,
		max:    cfg.Max,
		prefix: cfg.Prefix,
		log:    log,
	}
	if client != nil {
		l.client = client
	}

	return l
}

// Allow counts the request and reports whether it fits the window
// Empty key is never allowed
func (l *RedisLimiter) Allow(ctx context.Context, key string) bool {
	if l == nil || l.client == nil {
		return true
	}

	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	seconds := max(int(l.window.Seconds()), 1)
	count, err := l.client.Eval(ctx, allowScript, []string{l.prefix + key}, seconds).Int()
	if err != nil {
		l.log.Warn("rate limiter unavailable, request allowed", "error", err)
		return true
	}

	return count <= l.max
}
