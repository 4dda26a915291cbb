package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds throttle tuning parameters.
type Config struct {
	EnableIPThrottle      bool
	EnableRefreshThrottle bool
	MaxLoginPerIP         int
	LoginWindow           time.Duration
	MaxRefreshPerFamily   int
	RefreshWindow         time.Duration
}

// Limiter enforces coarse request throttles with Redis fixed-window
// counters: login attempts per client IP and rotations per token family.
// Per-account lockout lives on the account row, not here.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a throttle [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}
}

// CheckLogin reports whether the client IP is within its login budget.
// Returns ErrThrottled when the window is exhausted.
func (l *Limiter) CheckLogin(ctx context.Context, ip string) error {
	if !l.config.EnableIPThrottle || ip == "" {
		return nil
	}

	count, err := l.redis.Get(ctx, loginKey(ip)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if count > int64(l.config.MaxLoginPerIP) {
		return ErrThrottled
	}
	return nil
}

// RecordLogin counts a login attempt against the client IP.
func (l *Limiter) RecordLogin(ctx context.Context, ip string) error {
	if !l.config.EnableIPThrottle || ip == "" {
		return nil
	}

	count, err := l.incrementWithTTL(ctx, loginKey(ip), l.config.LoginWindow)
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxLoginPerIP) {
		return ErrThrottled
	}
	return nil
}

// CheckRefresh counts a rotation attempt against the token family and
// enforces the per-family budget in the same step.
func (l *Limiter) CheckRefresh(ctx context.Context, familyID string) error {
	if !l.config.EnableRefreshThrottle || familyID == "" {
		return nil
	}

	count, err := l.incrementWithTTL(ctx, refreshKey(familyID), l.config.RefreshWindow)
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxRefreshPerFamily) {
		return ErrThrottled
	}
	return nil
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
	}

	return count, nil
}

func loginKey(ip string) string { return "thr:li:" + ip }

func refreshKey(family string) string { return "thr:rf:" + family }
