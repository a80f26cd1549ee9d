package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/prperemyshlev/eduportal-auth/pkg/database"
	"github.com/redis/go-redis/v9"
)

// ErrRateLimitExceeded is returned by Allow when the window is full
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// slidingWindowScript trims the window, counts it and records the request in
// one step so concurrent requests cannot both take the last slot.
// Returns {allowed, count, oldest_score_ms}.
var slidingWindowScript = redis.NewScript(`
	local key = KEYS[1]
	local limit = tonumber(ARGV[3])

	redis.call('ZREMRANGEBYSCORE', key, '-inf', ARGV[2])
	local count = redis.call('ZCARD', key)
	if count >= limit then
		local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
		local score = 0
		if oldest[2] then
			score = tonumber(oldest[2])
		end
		return {0, count, score}
	end

	redis.call('ZADD', key, ARGV[1], ARGV[4])
	redis.call('PEXPIRE', key, ARGV[5])
	return {1, count + 1, 0}
`)

// RateLimiter handles rate limiting using Redis
type RateLimiter struct {
	redis *database.Redis
	now   func() time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(redis *database.Redis) *RateLimiter {
	return &RateLimiter{redis: redis, now: time.Now}
}

// Allow records a request under key. When the limit is reached it returns
// false with an error wrapping ErrRateLimitExceeded and the wait time.
func (r *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	now := r.now()
	member := strconv.FormatInt(now.UnixNano(), 10)

	res, err := slidingWindowScript.Run(ctx, r.redis.Client,
		[]string{rateLimitKey(key)},
		now.UnixMilli(), now.Add(-window).UnixMilli(), limit, member, (window + time.Minute).Milliseconds(),
	).Int64Slice()
	if err != nil {
		return false, fmt.Errorf("failed to evaluate rate limit: %w", err)
	}

	if res[0] == 1 {
		return true, nil
	}

	if res[2] > 0 {
		retryIn := window - now.Sub(time.UnixMilli(res[2]))
		return false, fmt.Errorf("%w, try again in %v", ErrRateLimitExceeded, retryIn.Round(time.Second))
	}
	return false, ErrRateLimitExceeded
}

// GetRemainingRequests returns the number of remaining requests allowed
func (r *RateLimiter) GetRemainingRequests(ctx context.Context, key string, limit int, window time.Duration) (int, error) {
	redisKey := rateLimitKey(key)
	windowStart := r.now().Add(-window)

	err := r.redis.Client.ZRemRangeByScore(ctx, redisKey, "-inf", strconv.FormatInt(windowStart.UnixMilli(), 10)).Err()
	if err != nil {
		return 0, fmt.Errorf("failed to clean old entries: %w", err)
	}

	count, err := r.redis.Client.ZCard(ctx, redisKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count entries: %w", err)
	}

	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	return remaining, nil
}

func rateLimitKey(key string) string {
	return "ratelimit:" + key
}
