package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"
)

const (
	idSize          = 16
	opaqueTokenSize = 32
)

// Backup codes avoid 0/O/1/I/L to survive manual transcription.
const backupCodeAlphabet = "ABCDEFGHJKMNPQRSTVWXYZ23456789"

// NewID returns a 128-bit random identifier in unpadded base64url form.
// Used for MFA challenge tokens and reset/verification token IDs.
func NewID() (string, error) {
	var raw [idSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// NewOpaqueToken returns a 256-bit random bearer token and the SHA-256 digest
// under which it is persisted. The plaintext never touches storage.
func NewOpaqueToken() (string, [32]byte, error) {
	var raw [opaqueTokenSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", [32]byte{}, err
	}
	token := base64.RawURLEncoding.EncodeToString(raw[:])
	return token, HashToken(token), nil
}

// HashToken digests a presented bearer token for storage lookup.
func HashToken(token string) [32]byte {
	return sha256.Sum256([]byte(token))
}

// Fingerprint derives a stable device fingerprint from the client IP and
// user agent. The NUL separator keeps ("ab","c") and ("a","bc") distinct.
func Fingerprint(ip, userAgent string) [32]byte {
	h := sha256.New()
	h.Write([]byte(ip))
	h.Write([]byte{0})
	h.Write([]byte(userAgent))
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// NewBackupCode generates one recovery code of length letters, rendered in
// hyphenated groups of four (e.g. "H7PQ-2MKX"). length must be even and at
// least 8.
func NewBackupCode(length int) (string, error) {
	if length < 8 || length%2 != 0 {
		return "", errors.New("invalid backup code length")
	}

	raw := make([]byte, length)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}

	var b strings.Builder
	b.Grow(length + length/4)
	for i, r := range raw {
		if i > 0 && i%4 == 0 {
			b.WriteByte('-')
		}
		b.WriteByte(backupCodeAlphabet[int(r)%len(backupCodeAlphabet)])
	}
	return b.String(), nil
}

// CanonicalBackupCode normalizes user input before hashing: uppercase with
// separators and whitespace removed.
func CanonicalBackupCode(code string) string {
	var b strings.Builder
	b.Grow(len(code))
	for _, r := range strings.ToUpper(code) {
		if r == '-' || r == ' ' || r == '\t' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
