package ratelimit

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Limiter answers whether a request identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Remaining(ctx context.Context, key string, limit int, window time.Duration) (int, error)
}

// FixedWindowLimiter counts requests per key in fixed time windows backed
// by Redis, so the limit holds across every node sharing the store. With
// failOpen set, a Redis outage admits requests instead of refusing them;
// a read-only inspection surface prefers availability over strictness.
type FixedWindowLimiter struct {
	redisClient *redis.Client
	logger      *zap.Logger
	failOpen    bool
}

func NewFixedWindowLimiter(redisClient *redis.Client, logger *zap.Logger, failOpen bool) *FixedWindowLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FixedWindowLimiter{
		redisClient: redisClient,
		logger:      logger,
		failOpen:    failOpen,
	}
}

// Allow consumes one slot from the key's current window.
func (l *FixedWindowLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	windowKey := bucketKey(key, time.Now(), window)

	pipe := l.redisClient.Pipeline()
	incrCmd := pipe.Incr(ctx, windowKey)
	pipe.Expire(ctx, windowKey, window+time.Second)

	if _, err := pipe.Exec(ctx); err != nil {
		if l.failOpen {
			l.logger.Warn("rate limit check failed, allowing request",
				zap.String("key", key),
				zap.Error(err))
			return true, nil
		}
		return false, fmt.Errorf("rate limit check failed: %w", err)
	}

	count := incrCmd.Val()
	allowed := count <= int64(limit)
	if !allowed {
		l.logger.Warn("rate limit exceeded",
			zap.String("key", key),
			zap.Int64("count", count),
			zap.Int("limit", limit))
	}
	return allowed, nil
}

// Remaining reports how many requests are left in the key's current window.
func (l *FixedWindowLimiter) Remaining(ctx context.Context, key string, limit int, window time.Duration) (int, error) {
	windowKey := bucketKey(key, time.Now(), window)

	count, err := l.redisClient.Get(ctx, windowKey).Int64()
	if err != nil {
		if err == redis.Nil {
			return limit, nil
		}
		return 0, fmt.Errorf("failed to read rate limit window: %w", err)
	}

	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

func bucketKey(key string, now time.Time, window time.Duration) string {
	bucket := now.UnixNano() / int64(window)
	return fmt.Sprintf("ratelimit:%s:%d", key, bucket)
}
