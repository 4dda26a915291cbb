package identity

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const challengeRecordVersion1 = 1

var (
	errChallengeNotFound = errors.New("mfa challenge not found")
	errChallengeExpired  = errors.New("mfa challenge expired")
	errChallengeBackend  = errors.New("mfa challenge backend unavailable")
)

// mfaChallenge correlates a verified password to a pending second factor.
// The record is keyed by its own random token, never by the account, so a
// failed challenge lookup reveals nothing about account existence.
type mfaChallenge struct {
	AccountID  string
	RememberMe bool
	Attempts   uint16
	ExpiresAt  int64
}

// mfaChallengeStore keeps challenges in Redis under a compact versioned
// binary encoding. Expiry is enforced twice: by the key TTL and by the
// ExpiresAt field, so a challenge outliving its window is invalid even if
// Redis TTL handling lags.
type mfaChallengeStore struct {
	redis redis.UniversalClient
	ns    string
	clock Clock
}

func newMFAChallengeStore(redisClient redis.UniversalClient, ns string, clock Clock) *mfaChallengeStore {
	return &mfaChallengeStore{redis: redisClient, ns: ns, clock: clock}
}

func (s *mfaChallengeStore) key(token string) string {
	return s.ns + "mfc:" + token
}

func (s *mfaChallengeStore) Save(ctx context.Context, token string, record *mfaChallenge, ttl time.Duration) error {
	encoded, err := encodeMFAChallenge(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(token), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", errChallengeBackend, err)
	}
	return nil
}

func (s *mfaChallengeStore) Get(ctx context.Context, token string) (*mfaChallenge, error) {
	data, err := s.redis.Get(ctx, s.key(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, errChallengeNotFound
		}
		return nil, fmt.Errorf("%w: %v", errChallengeBackend, err)
	}

	record, err := decodeMFAChallenge(data)
	if err != nil {
		return nil, err
	}
	if s.clock.Now().Unix() > record.ExpiresAt {
		_, _ = s.redis.Del(ctx, s.key(token)).Result()
		return nil, errChallengeExpired
	}
	return record, nil
}

// Consume deletes the challenge and reports whether this call removed it.
// A false return with no error means someone consumed it first: replay.
func (s *mfaChallengeStore) Consume(ctx context.Context, token string) (bool, error) {
	n, err := s.redis.Del(ctx, s.key(token)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", errChallengeBackend, err)
	}
	return n > 0, nil
}

// RecordFailure bumps the attempt counter under WATCH so two concurrent
// wrong codes cannot both observe the pre-increment count. Returns true
// when the challenge hit maxAttempts and was deleted.
func (s *mfaChallengeStore) RecordFailure(ctx context.Context, token string, maxAttempts int) (bool, error) {
	const maxRetries = 4
	key := s.key(token)

	for i := 0; i < maxRetries; i++ {
		var exceeded bool
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeMFAChallenge(data)
			if err != nil {
				return err
			}

			now := s.clock.Now()
			ttl := time.Unix(record.ExpiresAt, 0).Sub(now)
			if ttl <= 0 {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				return errChallengeExpired
			}

			record.Attempts++
			if int(record.Attempts) >= maxAttempts {
				exceeded = true
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				return err
			}

			updated, err := encodeMFAChallenge(record)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, ttl)
				return nil
			})
			return err
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return false, errChallengeNotFound
			}
			if errors.Is(err, errChallengeExpired) {
				return false, err
			}
			return false, fmt.Errorf("%w: %v", errChallengeBackend, err)
		}
		return exceeded, nil
	}

	return false, errChallengeNotFound
}

func encodeMFAChallenge(record *mfaChallenge) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(challengeRecordVersion1)

	var flags uint8
	if record.RememberMe {
		flags |= 1
	}
	buf.WriteByte(flags)

	if err := binary.Write(&buf, binary.BigEndian, record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}

	if len(record.AccountID) > 65535 {
		return nil, errors.New("mfa challenge account id too long")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.AccountID))); err != nil {
		return nil, err
	}
	buf.WriteString(record.AccountID)

	return buf.Bytes(), nil
}

func decodeMFAChallenge(data []byte) (*mfaChallenge, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != challengeRecordVersion1 {
		return nil, errors.New("invalid mfa challenge version")
	}

	flags, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}

	record := &mfaChallenge{RememberMe: flags&1 != 0}
	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}

	var idLen uint16
	if err := binary.Read(reader, binary.BigEndian, &idLen); err != nil {
		return nil, err
	}
	id := make([]byte, idLen)
	if _, err := io.ReadFull(reader, id); err != nil {
		return nil, err
	}
	record.AccountID = string(id)

	return record, nil
}
