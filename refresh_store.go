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

var errRefreshBackend = errors.New("refresh store backend unavailable")

// rotateStatus is the outcome of the atomic rotation script.
type rotateStatus int

const (
	rotateStatusNotFound rotateStatus = iota
	rotateStatusReuse
	rotateStatusExpired
	rotateStatusRotated
)

// refreshToken is the stored record for one issued token. Only the token's
// SHA-256 ever reaches Redis; the plaintext lives with the client.
type refreshToken struct {
	AccountID string
	FamilyID  string
	IssuedAt  int64
	ExpiresAt int64
	Revoked   bool
	RevokedAt int64
}

// Active reports whether the token is usable at the given instant.
func (t *refreshToken) Active(now int64) bool {
	return !t.Revoked && now < t.ExpiresAt
}

// refreshStore keeps token records as Redis hashes with two indexes: a set
// per family (for reuse-triggered family revocation) and a sorted set of
// active tokens per account scored by issue time (for session capping).
//
// Records outlive their revocation: the key TTL is the retention window,
// not the token expiry, so presenting a revoked token is still recognized
// as reuse until the whole family would have aged out anyway.
type refreshStore struct {
	redis redis.UniversalClient
	ns    string
	clock Clock
}

// "Revoke old, issue new" must be one atomic step; the script re-validates
// the old record under the server-side lock so no interleaving can leave
// both tokens valid. Statuses: 0 not found, 1 revoked (reuse), 2 expired,
// 3 rotated.
var rotateScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return 0
end
if redis.call("HGET", KEYS[1], "rev") == "1" then
	return 1
end
local exp = tonumber(redis.call("HGET", KEYS[1], "exp"))
local now = tonumber(ARGV[1])
if now >= exp then
	return 2
end
redis.call("HSET", KEYS[1], "rev", "1", "rva", ARGV[1])
redis.call("ZREM", KEYS[4], ARGV[6])
redis.call("HSET", KEYS[2], "acct", ARGV[4], "fam", ARGV[5], "iat", ARGV[1], "exp", ARGV[2], "rev", "0", "rva", "0")
redis.call("PEXPIRE", KEYS[2], ARGV[3])
redis.call("SADD", KEYS[3], ARGV[7])
redis.call("PEXPIRE", KEYS[3], ARGV[3])
redis.call("ZADD", KEYS[4], ARGV[1], ARGV[7])
redis.call("PEXPIRE", KEYS[4], ARGV[3])
return 3
`)

// Family revocation walks the family index and flips every member that is
// still unrevoked, in one atomic script.
var revokeFamilyScript = redis.NewScript(`
local members = redis.call("SMEMBERS", KEYS[1])
local n = 0
for _, h in ipairs(members) do
	local k = ARGV[2] .. h
	if redis.call("EXISTS", k) == 1 and redis.call("HGET", k, "rev") ~= "1" then
		redis.call("HSET", k, "rev", "1", "rva", ARGV[1])
		n = n + 1
	end
	redis.call("ZREM", KEYS[2], h)
end
return n
`)

func newRefreshStore(redisClient redis.UniversalClient, ns string, clock Clock) *refreshStore {
	return &refreshStore{redis: redisClient, ns: ns, clock: clock}
}

func (s *refreshStore) tokenKey(hash [32]byte) string {
	return s.tokenKeyPrefix() + hex.EncodeToString(hash[:])
}

func (s *refreshStore) tokenKeyPrefix() string { return s.ns + "rt:" }

func (s *refreshStore) familyKey(familyID string) string {
	return s.ns + "rtf:" + familyID
}

func (s *refreshStore) accountKey(accountID string) string {
	return s.ns + "rta:" + accountID
}

// Issue persists a brand-new token record. retention bounds how long the
// record (and its indexes) stay around for reuse detection.
func (s *refreshStore) Issue(ctx context.Context, hash [32]byte, record refreshToken, retention time.Duration) error {
	member := hex.EncodeToString(hash[:])

	pipe := s.redis.TxPipeline()
	pipe.HSet(ctx, s.tokenKey(hash), map[string]interface{}{
		"acct": record.AccountID,
		"fam":  record.FamilyID,
		"iat":  record.IssuedAt,
		"exp":  record.ExpiresAt,
		"rev":  "0",
		"rva":  "0",
	})
	pipe.PExpire(ctx, s.tokenKey(hash), retention)
	pipe.SAdd(ctx, s.familyKey(record.FamilyID), member)
	pipe.PExpire(ctx, s.familyKey(record.FamilyID), retention)
	pipe.ZAdd(ctx, s.accountKey(record.AccountID), redis.Z{Score: float64(record.IssuedAt), Member: member})
	pipe.PExpire(ctx, s.accountKey(record.AccountID), retention)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", errRefreshBackend, err)
	}
	return nil
}

// Get returns the record for the hash, or nil when it does not exist.
func (s *refreshStore) Get(ctx context.Context, hash [32]byte) (*refreshToken, error) {
	fields, err := s.redis.HGetAll(ctx, s.tokenKey(hash)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errRefreshBackend, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return decodeRefreshFields(fields)
}

// Rotate atomically revokes the old token and issues newHash in the same
// family. old must be the record previously read for oldHash; its account
// and family locate the index keys.
func (s *refreshStore) Rotate(
	ctx context.Context,
	oldHash, newHash [32]byte,
	old *refreshToken,
	newExpiresAt int64,
	retention time.Duration,
) (rotateStatus, error) {
	keys := []string{
		s.tokenKey(oldHash),
		s.tokenKey(newHash),
		s.familyKey(old.FamilyID),
		s.accountKey(old.AccountID),
	}
	argv := []interface{}{
		s.clock.Now().Unix(),
		newExpiresAt,
		retention.Milliseconds(),
		old.AccountID,
		old.FamilyID,
		hex.EncodeToString(oldHash[:]),
		hex.EncodeToString(newHash[:]),
	}

	res, err := rotateScript.Run(ctx, s.redis, keys, argv...).Int()
	if err != nil {
		return rotateStatusNotFound, fmt.Errorf("%w: %v", errRefreshBackend, err)
	}
	return rotateStatus(res), nil
}

// RevokeFamily marks every token in the family revoked. Returns how many
// were newly revoked.
func (s *refreshStore) RevokeFamily(ctx context.Context, accountID, familyID string) (int, error) {
	keys := []string{s.familyKey(familyID), s.accountKey(accountID)}
	n, err := revokeFamilyScript.Run(ctx, s.redis, keys, s.clock.Now().Unix(), s.tokenKeyPrefix()).Int()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errRefreshBackend, err)
	}
	return n, nil
}

// Revoke marks a single token revoked (logout). Reports whether the token
// existed and was active.
func (s *refreshStore) Revoke(ctx context.Context, hash [32]byte) (bool, error) {
	record, err := s.Get(ctx, hash)
	if err != nil {
		return false, err
	}
	if record == nil || record.Revoked {
		return false, nil
	}

	member := hex.EncodeToString(hash[:])
	pipe := s.redis.TxPipeline()
	pipe.HSet(ctx, s.tokenKey(hash), "rev", "1", "rva", s.clock.Now().Unix())
	pipe.ZRem(ctx, s.accountKey(record.AccountID), member)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("%w: %v", errRefreshBackend, err)
	}
	return true, nil
}

// RevokeAllForAccount revokes every active token the account holds, across
// all families. Returns the number revoked.
func (s *refreshStore) RevokeAllForAccount(ctx context.Context, accountID string) (int, error) {
	members, err := s.redis.ZRange(ctx, s.accountKey(accountID), 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errRefreshBackend, err)
	}
	if len(members) == 0 {
		return 0, nil
	}

	now := s.clock.Now().Unix()
	pipe := s.redis.TxPipeline()
	for _, member := range members {
		pipe.HSet(ctx, s.tokenKeyPrefix()+member, "rev", "1", "rva", now)
	}
	pipe.Del(ctx, s.accountKey(accountID))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("%w: %v", errRefreshBackend, err)
	}
	return len(members), nil
}

// ActiveSessions counts the account's usable tokens and identifies the
// oldest one, pruning index entries that turned stale (revoked out of
// band or expired past their index entry).
func (s *refreshStore) ActiveSessions(ctx context.Context, accountID string) (count int, oldestHash [32]byte, oldest *refreshToken, err error) {
	members, err := s.redis.ZRange(ctx, s.accountKey(accountID), 0, -1).Result()
	if err != nil {
		return 0, oldestHash, nil, fmt.Errorf("%w: %v", errRefreshBackend, err)
	}

	now := s.clock.Now().Unix()
	var stale []interface{}
	for _, member := range members {
		raw, derr := hex.DecodeString(member)
		if derr != nil || len(raw) != 32 {
			stale = append(stale, member)
			continue
		}
		var hash [32]byte
		copy(hash[:], raw)

		record, gerr := s.Get(ctx, hash)
		if gerr != nil {
			return 0, oldestHash, nil, gerr
		}
		if record == nil || !record.Active(now) {
			stale = append(stale, member)
			continue
		}

		count++
		if oldest == nil {
			oldestHash, oldest = hash, record
		}
	}

	if len(stale) > 0 {
		if zerr := s.redis.ZRem(ctx, s.accountKey(accountID), stale...).Err(); zerr != nil {
			return 0, oldestHash, nil, fmt.Errorf("%w: %v", errRefreshBackend, zerr)
		}
	}

	return count, oldestHash, oldest, nil
}

func decodeRefreshFields(fields map[string]string) (*refreshToken, error) {
	iat, err := strconv.ParseInt(fields["iat"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed record", errRefreshBackend)
	}
	exp, err := strconv.ParseInt(fields["exp"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed record", errRefreshBackend)
	}
	rva, _ := strconv.ParseInt(fields["rva"], 10, 64)

	return &refreshToken{
		AccountID: fields["acct"],
		FamilyID:  fields["fam"],
		IssuedAt:  iat,
		ExpiresAt: exp,
		Revoked:   fields["rev"] == "1",
		RevokedAt: rva,
	}, nil
}
