package identity

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var errDeviceBackend = errors.New("trusted device store backend unavailable")

// trustedDeviceStore binds opaque device tokens to an account plus a
// fingerprint of the client (IP and user agent). A presented token only
// bypasses MFA while the fingerprint still matches; a moved token is
// rejected and dropped.
type trustedDeviceStore struct {
	redis redis.UniversalClient
	ns    string
	clock Clock
}

func newTrustedDeviceStore(redisClient redis.UniversalClient, ns string, clock Clock) *trustedDeviceStore {
	return &trustedDeviceStore{redis: redisClient, ns: ns, clock: clock}
}

func (s *trustedDeviceStore) key(tokenHash [32]byte) string {
	return s.ns + "td:" + hex.EncodeToString(tokenHash[:])
}

func (s *trustedDeviceStore) accountKey(accountID string) string {
	return s.ns + "tda:" + accountID
}

// Save persists a new trusted-device binding under the token's hash.
func (s *trustedDeviceStore) Save(
	ctx context.Context,
	tokenHash [32]byte,
	accountID string,
	fingerprint [32]byte,
	ttl time.Duration,
) error {
	key := s.key(tokenHash)
	pipe := s.redis.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"acct": accountID,
		"fp":   hex.EncodeToString(fingerprint[:]),
		"exp":  s.clock.Now().Add(ttl).Unix(),
	})
	pipe.PExpire(ctx, key, ttl)
	pipe.SAdd(ctx, s.accountKey(accountID), hex.EncodeToString(tokenHash[:]))
	pipe.PExpire(ctx, s.accountKey(accountID), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", errDeviceBackend, err)
	}
	return nil
}

// Verify reports whether the token belongs to the account and the
// fingerprint matches. A fingerprint mismatch deletes the binding: a
// token presented from the wrong device is treated as leaked.
func (s *trustedDeviceStore) Verify(
	ctx context.Context,
	tokenHash [32]byte,
	accountID string,
	fingerprint [32]byte,
) (bool, error) {
	fields, err := s.redis.HGetAll(ctx, s.key(tokenHash)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", errDeviceBackend, err)
	}
	if len(fields) == 0 {
		return false, nil
	}
	if fields["acct"] != accountID {
		return false, nil
	}

	exp, err := strconv.ParseInt(fields["exp"], 10, 64)
	if err != nil || s.clock.Now().Unix() >= exp {
		return false, nil
	}

	want, err := hex.DecodeString(fields["fp"])
	if err != nil || len(want) != 32 {
		return false, nil
	}
	if subtle.ConstantTimeCompare(want, fingerprint[:]) != 1 {
		_ = s.redis.Del(ctx, s.key(tokenHash)).Err()
		return false, nil
	}
	return true, nil
}

// RevokeAllForAccount drops every trusted device the account has, used
// when MFA is disabled or credentials change.
func (s *trustedDeviceStore) RevokeAllForAccount(ctx context.Context, accountID string) error {
	members, err := s.redis.SMembers(ctx, s.accountKey(accountID)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", errDeviceBackend, err)
	}

	pipe := s.redis.TxPipeline()
	for _, member := range members {
		pipe.Del(ctx, s.ns+"td:"+member)
	}
	pipe.Del(ctx, s.accountKey(accountID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", errDeviceBackend, err)
	}
	return nil
}
