package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter is a fixed-window counter shared by every instance: INCR the
// window key, set its expiry on the first hit, reject past the limit.
type RedisLimiter struct {
	client *redis.Client
	prefix string
	limit  int
	window time.Duration
	log    *slog.Logger
}

var _ Limiter = (*RedisLimiter)(nil)

// NewRedisLimiter allows limit events per window for each key.
func NewRedisLimiter(client *redis.Client, prefix string, limit int, window time.Duration, log *slog.Logger) *RedisLimiter {
	if log == nil {
		log = slog.Default()
	}
	return &RedisLimiter{client: client, prefix: prefix, limit: limit, window: window, log: log}
}

// Allow fails open: a Redis outage must not lock users out of chat.
func (l *RedisLimiter) Allow(ctx context.Context, key string) bool {
	k := l.prefix + key

	count, err := l.client.Incr(ctx, k).Result()
	if err != nil {
		l.log.Warn("ratelimit.redis.incr.fail", "key", k, "err", err)
		return true
	}

	if count == 1 {
		if err := l.client.Expire(ctx, k, l.window).Err(); err != nil {
			l.log.Warn("ratelimit.redis.expire.fail", "key", k, "err", err)
			// Without a TTL the key would block the identifier forever.
			l.client.Del(ctx, k)
			return true
		}
	}

	return int(count) <= l.limit
}
