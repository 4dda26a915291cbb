package identity

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var errTokenBackend = errors.New("token store backend unavailable")

// oneTimeTokenStore backs password-reset and email-verification tokens:
// opaque single-use credentials stored by hash with their own expiry. One
// instance per token kind, distinguished by key prefix.
type oneTimeTokenStore struct {
	redis  redis.UniversalClient
	prefix string
	clock  Clock
}

func newOneTimeTokenStore(redisClient redis.UniversalClient, prefix string, clock Clock) *oneTimeTokenStore {
	return &oneTimeTokenStore{redis: redisClient, prefix: prefix, clock: clock}
}

func (s *oneTimeTokenStore) key(tokenHash [32]byte) string {
	return s.prefix + hex.EncodeToString(tokenHash[:])
}

// Save persists the token hash for the account. Any previous token of the
// same kind for this account stays valid until it expires; issuing does
// not invalidate it, consumption is what burns a token.
func (s *oneTimeTokenStore) Save(ctx context.Context, tokenHash [32]byte, accountID string, ttl time.Duration) error {
	key := s.key(tokenHash)
	pipe := s.redis.TxPipeline()
	pipe.HSet(ctx, key, "acct", accountID, "exp", s.clock.Now().Add(ttl).Unix())
	pipe.PExpire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", errTokenBackend, err)
	}
	return nil
}

// Peek resolves the token to its account without consuming it. Returns
// empty when unknown or expired.
func (s *oneTimeTokenStore) Peek(ctx context.Context, tokenHash [32]byte) (accountID string, err error) {
	fields, err := s.redis.HGetAll(ctx, s.key(tokenHash)).Result()
	if err != nil {
		return "", fmt.Errorf("%w: %v", errTokenBackend, err)
	}
	if len(fields) == 0 {
		return "", nil
	}
	exp, err := strconv.ParseInt(fields["exp"], 10, 64)
	if err != nil || s.clock.Now().Unix() >= exp {
		return "", nil
	}
	return fields["acct"], nil
}

// Consume deletes the token, reporting whether this call removed it.
// Single-use follows from the delete count, exactly like MFA challenges.
func (s *oneTimeTokenStore) Consume(ctx context.Context, tokenHash [32]byte) (bool, error) {
	n, err := s.redis.Del(ctx, s.key(tokenHash)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", errTokenBackend, err)
	}
	return n > 0, nil
}
