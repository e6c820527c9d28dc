package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/glowdesk/concierge/pkg/logging"
)

// Limiter throttles inbound events per user with a counted window in Redis.
// Window state is best-effort: losing it on restart or Redis outage only
// relaxes the throttle, it never blocks legitimate traffic (fail open).
type Limiter struct {
	redis  *redis.Client
	logger *logging.Logger
	config Config
}

// Config contains limiter settings.
type Config struct {
	// Max events accepted per user within Window.
	MaxEvents int
	Window    time.Duration

	// How long to suppress repeat "slow down" notices for a flooding user.
	NoticeCooldown time.Duration
}

// DefaultConfig returns the default inbound limits.
func DefaultConfig() Config {
	return Config{
		MaxEvents:      10,
		Window:         time.Minute,
		NoticeCooldown: 5 * time.Minute,
	}
}

// NewLimiter creates a limiter on the given Redis client.
func NewLimiter(redisClient *redis.Client, config Config, logger *logging.Logger) *Limiter {
	if logger == nil {
		logger = logging.Default()
	}
	if config.MaxEvents <= 0 {
		config.MaxEvents = DefaultConfig().MaxEvents
	}
	if config.Window <= 0 {
		config.Window = DefaultConfig().Window
	}
	if config.NoticeCooldown <= 0 {
		config.NoticeCooldown = DefaultConfig().NoticeCooldown
	}
	return &Limiter{redis: redisClient, logger: logger, config: config}
}

// Allow records one inbound event for the key and reports whether it is
// within the window limit. The key is the user's channel handle so the
// check can run before identity resolution.
func (l *Limiter) Allow(ctx context.Context, key string) bool {
	redisKey := fmt.Sprintf("ratelimit:inbound:%s", key)

	count, err := l.redis.Incr(ctx, redisKey).Result()
	if err != nil {
		l.logger.Error("rate limit check failed", "error", err, "key", key)
		return true
	}
	if count == 1 {
		l.redis.Expire(ctx, redisKey, l.config.Window)
	}

	if count > int64(l.config.MaxEvents) {
		l.logger.Warn("inbound rate limit exceeded",
			"key", key,
			"count", count,
			"max", l.config.MaxEvents,
		)
		return false
	}
	return true
}

// ShouldNotify reports whether a throttled user should still receive the
// one-off "please slow down" notice. It returns true at most once per
// cooldown period so the notice itself cannot amplify a flood.
func (l *Limiter) ShouldNotify(ctx context.Context, key string) bool {
	redisKey := fmt.Sprintf("ratelimit:notice:%s", key)

	ok, err := l.redis.SetNX(ctx, redisKey, 1, l.config.NoticeCooldown).Result()
	if err != nil {
		l.logger.Error("rate limit notice check failed", "error", err, "key", key)
		return false
	}
	return ok
}

// Reset clears the window for a key (admin/testing use).
func (l *Limiter) Reset(ctx context.Context, key string) error {
	return l.redis.Del(ctx,
		fmt.Sprintf("ratelimit:inbound:%s", key),
		fmt.Sprintf("ratelimit:notice:%s", key),
	).Err()
}
