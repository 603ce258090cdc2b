package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"grcgateway/pkg/errors"
)

// RedisLimiter implements a sliding-window rate limiter backed by
// Redis, so the limit is shared across stateless gateway replicas.
// When Redis is unreachable it falls back to the in-memory limiter
// rather than failing open or closed inconsistently.
type RedisLimiter struct {
	client   *redis.Client
	limit    int
	burst    int
	logger   *slog.Logger
	fallback Limiter
}

// NewRedisLimiter creates a new Redis-based rate limiter
func NewRedisLimiter(client *redis.Client, limit, burst int, logger *slog.Logger) *RedisLimiter {
	return &RedisLimiter{
		client:   client,
		limit:    limit,
		burst:    burst,
		logger:   logger.With("component", "ratelimit"),
		fallback: NewTokenBucketLimiter(limit, burst),
	}
}

// Allow checks if a request is allowed for the given key
func (l *RedisLimiter) Allow(ctx context.Context, key string) error {
	now := time.Now()
	windowStart := now.Add(-time.Second)
	member := fmt.Sprintf("%d:%s", now.UnixNano(), key)

	pipe := l.client.Pipeline()
	pipe.ZAdd(ctx, l.redisKey(key), redis.Z{
		Score:  float64(now.UnixNano()),
		Member: member,
	})
	pipe.ZRemRangeByScore(ctx, l.redisKey(key), "-inf", fmt.Sprintf("%d", windowStart.UnixNano()))
	countCmd := pipe.ZCard(ctx, l.redisKey(key))
	pipe.Expire(ctx, l.redisKey(key), 2*time.Second)

	if _, err := pipe.Exec(ctx); err != nil {
		l.logger.Warn("redis rate limit error, falling back to in-memory",
			"error", err,
			"key", key,
		)
		return l.fallback.Allow(ctx, key)
	}

	count := countCmd.Val()
	if count > int64(l.limit) && count > int64(l.burst) {
		return errors.NewError(errors.ErrorTypeRateLimit, "rate limit exceeded").
			WithDetail("key", key).
			WithDetail("count", count).
			WithDetail("limit", l.limit)
	}

	return nil
}

// Stop releases the fallback limiter's resources. The Redis client is
// owned by the caller.
func (l *RedisLimiter) Stop() {
	l.fallback.Stop()
}

func (l *RedisLimiter) redisKey(key string) string {
	return "gateway:ratelimit:" + key
}
