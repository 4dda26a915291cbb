package identity

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// xchachaProtector implements SecretProtector with XChaCha20-Poly1305.
// Output layout: 24-byte random nonce followed by the sealed box, so each
// protected blob is self-contained and key rotation only needs re-protect.
type xchachaProtector struct {
	aead cipher.AEAD
}

// NewSecretProtector builds the default TOTP-secret protector from a
// 32-byte key.
func NewSecretProtector(key []byte) (SecretProtector, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, errors.New("secret protector requires a 32-byte key")
	}
	return &xchachaProtector{aead: aead}, nil
}

func (p *xchachaProtector) Protect(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, p.aead.NonceSize(), p.aead.NonceSize()+len(plaintext)+p.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return p.aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (p *xchachaProtector) Unprotect(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < p.aead.NonceSize()+p.aead.Overhead() {
		return nil, errors.New("protected secret truncated")
	}
	nonce, sealed := ciphertext[:p.aead.NonceSize()], ciphertext[p.aead.NonceSize():]
	plaintext, err := p.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, errors.New("protected secret failed authentication")
	}
	return plaintext, nil
}
