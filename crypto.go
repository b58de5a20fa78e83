package persist

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// Sealed file layout: [24-byte nonce][ciphertext][16-byte Poly1305 tag].
const (
	sealedNonceSize = chacha20poly1305.NonceSizeX
	sealedOverhead  = chacha20poly1305.Overhead
)

// hkdfInfo domain-separates the derived key from other uses of the
// same secret.
var hkdfInfo = []byte("go-persist/secure/v1")

// SecretBox performs authenticated encryption with a key derived from a
// caller-supplied secret via HKDF-SHA256. It is cheap to construct and
// intended to be request-scoped; it holds derived key material only.
type SecretBox struct {
	secret []byte
}

// NewSecretBox wraps a secret. The secret may be any length; it is
// stretched to a 256-bit XChaCha20-Poly1305 key.
func NewSecretBox(secret []byte) (*SecretBox, error) {
	if len(secret) == 0 {
		return nil, ErrMissingSecret
	}
	return &SecretBox{secret: secret}, nil
}

func (b *SecretBox) aead() (cipher.AEAD, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, b.secret, nil, hkdfInfo), key); err != nil {
		return nil, fmt.Errorf("persist: key derivation failed: %w", err)
	}
	return chacha20poly1305.NewX(key)
}

// Seal encrypts and authenticates plaintext. A fresh random nonce is
// generated per call and prepended to the output.
func (b *SecretBox) Seal(plaintext []byte) ([]byte, error) {
	aead, err := b.aead()
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, sealedNonceSize, sealedNonceSize+len(plaintext)+sealedOverhead)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("persist: nonce generation failed: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts sealed data. Any authentication failure, including
// truncation, corruption, or a wrong key, returns ErrTampered.
func (b *SecretBox) Open(sealed []byte) ([]byte, error) {
	aead, err := b.aead()
	if err != nil {
		return nil, err
	}
	if len(sealed) < sealedNonceSize+sealedOverhead {
		return nil, ErrTampered
	}
	plaintext, err := aead.Open(nil, sealed[:sealedNonceSize], sealed[sealedNonceSize:], nil)
	if err != nil {
		return nil, ErrTampered
	}
	return plaintext, nil
}
