package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	algorithmID = "argon2id"

	minMemoryKB    uint32 = 8 * 1024
	minIterations  uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
	minPassBytes          = 10
)

// ErrTooShort rejects passwords below the minimum byte length before any
// hashing work happens.
var ErrTooShort = fmt.Errorf("password must be at least %d bytes", minPassBytes)

// Config holds Argon2id cost parameters. Raising costs later is safe:
// existing hashes keep verifying and NeedsRehash flags them for upgrade.
type Config struct {
	MemoryKB    uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultConfig returns interactive-login cost parameters (64 MiB, 3
// passes) suitable for server-side verification.
func DefaultConfig() Config {
	return Config{
		MemoryKB:    64 * 1024,
		Iterations:  3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Hasher produces and verifies Argon2id hashes in PHC string format
// ($argon2id$v=19$m=...,t=...,p=...$salt$hash). Safe for concurrent use.
type Hasher struct {
	config Config
}

// NewHasher validates cost parameters and returns a ready Hasher.
func NewHasher(cfg Config) (*Hasher, error) {
	switch {
	case cfg.MemoryKB < minMemoryKB:
		return nil, errors.New("password: memory must be >= 8192 KB")
	case cfg.Iterations < minIterations:
		return nil, errors.New("password: iterations must be >= 1")
	case cfg.Parallelism < minParallelism:
		return nil, errors.New("password: parallelism must be >= 1")
	case cfg.SaltLength < minSaltLength:
		return nil, errors.New("password: salt length must be >= 16")
	case cfg.KeyLength < minKeyLength:
		return nil, errors.New("password: key length must be >= 16")
	}
	return &Hasher{config: cfg}, nil
}

// Hash derives a PHC-encoded hash with a fresh random salt. Raw password
// bytes are used exactly as provided, with no Unicode normalization.
func (h *Hasher) Hash(password string) (string, error) {
	if len(password) < minPassBytes {
		return "", ErrTooShort
	}

	salt := make([]byte, h.config.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	key := argon2.IDKey(
		[]byte(password),
		salt,
		h.config.Iterations,
		h.config.MemoryKB,
		h.config.Parallelism,
		h.config.KeyLength,
	)

	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID,
		argon2.Version,
		h.config.MemoryKB,
		h.config.Iterations,
		h.config.Parallelism,
		base64.StdEncoding.EncodeToString(salt),
		base64.StdEncoding.EncodeToString(key),
	), nil
}

// Verify recomputes the hash with the parameters embedded in encoded and
// compares in constant time. A malformed encoded string is an error, not a
// mismatch.
func (h *Hasher) Verify(password, encoded string) (bool, error) {
	p, err := parse(encoded)
	if err != nil {
		return false, err
	}

	key := argon2.IDKey(
		[]byte(password),
		p.salt,
		p.iterations,
		p.memoryKB,
		p.parallelism,
		uint32(len(p.key)),
	)

	return subtle.ConstantTimeCompare(key, p.key) == 1, nil
}

// NeedsRehash reports whether encoded was produced with weaker parameters
// than the current configuration. Callers rehash opportunistically after a
// successful verification.
func (h *Hasher) NeedsRehash(encoded string) (bool, error) {
	p, err := parse(encoded)
	if err != nil {
		return false, err
	}

	upgraded := h.config.MemoryKB > p.memoryKB ||
		h.config.Iterations > p.iterations ||
		h.config.Parallelism > p.parallelism ||
		h.config.KeyLength != uint32(len(p.key))
	return upgraded, nil
}

type parsed struct {
	memoryKB    uint32
	iterations  uint32
	parallelism uint8
	salt        []byte
	key         []byte
}

func parse(encoded string) (*parsed, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" {
		return nil, errors.New("password: malformed PHC string")
	}
	if parts[1] != algorithmID {
		return nil, errors.New("password: unsupported algorithm")
	}

	version, err := strconv.Atoi(strings.TrimPrefix(parts[2], "v="))
	if !strings.HasPrefix(parts[2], "v=") || err != nil || version != argon2.Version {
		return nil, errors.New("password: unsupported argon2 version")
	}

	var p parsed
	var haveM, haveT, haveP bool
	for _, pair := range strings.Split(parts[3], ",") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, errors.New("password: malformed parameter")
		}
		switch k {
		case "m":
			n, err := strconv.ParseUint(v, 10, 32)
			if err != nil || n < uint64(minMemoryKB) {
				return nil, errors.New("password: invalid memory parameter")
			}
			p.memoryKB, haveM = uint32(n), true
		case "t":
			n, err := strconv.ParseUint(v, 10, 32)
			if err != nil || n < uint64(minIterations) {
				return nil, errors.New("password: invalid iterations parameter")
			}
			p.iterations, haveT = uint32(n), true
		case "p":
			n, err := strconv.ParseUint(v, 10, 8)
			if err != nil || n < uint64(minParallelism) {
				return nil, errors.New("password: invalid parallelism parameter")
			}
			p.parallelism, haveP = uint8(n), true
		default:
			return nil, errors.New("password: unsupported parameter")
		}
	}
	if !haveM || !haveT || !haveP {
		return nil, errors.New("password: missing parameters")
	}

	if p.salt, err = base64.StdEncoding.DecodeString(parts[4]); err != nil {
		return nil, errors.New("password: invalid salt encoding")
	}
	if len(p.salt) < int(minSaltLength) {
		return nil, errors.New("password: salt too short")
	}
	if p.key, err = base64.StdEncoding.DecodeString(parts[5]); err != nil {
		return nil, errors.New("password: invalid hash encoding")
	}
	if len(p.key) == 0 {
		return nil, errors.New("password: empty hash")
	}

	return &p, nil
}
