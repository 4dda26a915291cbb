package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var errLimiterBackend = errors.New("attempt limiter backend unavailable")

// attemptLimiter is a fixed-window consecutive-failure counter. One
// instance covers one attempt type (TOTP, backup code, reset confirm);
// instances are fully independent of each other and of the account-row
// login lockout.
//
// The INCR/EXPIRE pair gives atomic increments under concurrency: two
// simultaneous failures each observe their own post-increment count, so
// the threshold cannot be evaded by racing submissions.
type attemptLimiter struct {
	redis  redis.UniversalClient
	prefix string
	max    int
	window time.Duration
}

func newAttemptLimiter(redisClient redis.UniversalClient, prefix string, max int, window time.Duration) *attemptLimiter {
	return &attemptLimiter{redis: redisClient, prefix: prefix, max: max, window: window}
}

func (l *attemptLimiter) key(id string) string { return l.prefix + id }

// Check reports whether id is locked out. Locked-out callers must not
// proceed to verification at all.
func (l *attemptLimiter) Check(ctx context.Context, id string) (lockedOut bool, err error) {
	count, err := l.redis.Get(ctx, l.key(id)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", errLimiterBackend, err)
	}
	return count >= int64(l.max), nil
}

// RecordFailure counts one failed attempt and reports whether the failure
// crossed the lockout threshold.
func (l *attemptLimiter) RecordFailure(ctx context.Context, id string) (lockedOut bool, err error) {
	count, err := l.redis.Incr(ctx, l.key(id)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", errLimiterBackend, err)
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, l.key(id), l.window).Err(); err != nil {
			return false, fmt.Errorf("%w: %v", errLimiterBackend, err)
		}
	}
	return count >= int64(l.max), nil
}

// Reset clears the counter after a successful verification.
func (l *attemptLimiter) Reset(ctx context.Context, id string) error {
	if err := l.redis.Del(ctx, l.key(id)).Err(); err != nil {
		return fmt.Errorf("%w: %v", errLimiterBackend, err)
	}
	return nil
}

// A TOTP code is valid for a whole window; accepting it twice within that
// window is a replay. The guard stores the highest counter accepted per
// account and rejects anything at or below it, atomically.
var replayGuardScript = redis.NewScript(`
local prev = redis.call("GET", KEYS[1])
if prev and tonumber(prev) >= tonumber(ARGV[1]) then
	return 0
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
return 1
`)

type totpReplayGuard struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func newTOTPReplayGuard(redisClient redis.UniversalClient, prefix string, ttl time.Duration) *totpReplayGuard {
	return &totpReplayGuard{redis: redisClient, prefix: prefix, ttl: ttl}
}

// Accept records counter for the account. False means the window was
// already used and the code must be rejected.
func (g *totpReplayGuard) Accept(ctx context.Context, accountID string, counter int64) (bool, error) {
	res, err := replayGuardScript.Run(ctx, g.redis, []string{g.prefix + accountID}, counter, g.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("%w: %v", errLimiterBackend, err)
	}
	return res == 1, nil
}

// Clear forgets the last accepted counter, used when TOTP is re-enrolled.
func (g *totpReplayGuard) Clear(ctx context.Context, accountID string) error {
	if err := g.redis.Del(ctx, g.prefix+accountID).Err(); err != nil {
		return fmt.Errorf("%w: %v", errLimiterBackend, err)
	}
	return nil
}
