// Package secrets provides authenticated encryption for short opaque
// strings such as bearer and refresh tokens stored at rest.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const (
	// KeySize is the required symmetric key length in bytes (AES-256).
	KeySize = 32
	// nonceSize is the GCM nonce length in bytes (96 bits).
	nonceSize = 12
	// tagSize is the GCM authentication tag length in bytes (128 bits).
	tagSize = 16
)

var (
	// ErrInvalidKey is returned when the symmetric key has the wrong length.
	ErrInvalidKey = errors.New("encryption key must be exactly 32 bytes")

	// ErrDecryption is returned when an encoded value is malformed or its
	// authentication tag does not verify. Decryption always fails closed.
	ErrDecryption = errors.New("decryption failed")
)

// Codec encrypts and decrypts opaque strings with AES-256-GCM using a
// single process-wide key. The key is read-only after construction and
// the Codec is safe for concurrent use.
type Codec struct {
	aead cipher.AEAD
}

// NewCodec creates a Codec from a 32-byte symmetric key.
func NewCodec(key []byte) (*Codec, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w, got %d", ErrInvalidKey, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize GCM: %w", err)
	}

	return &Codec{aead: aead}, nil
}

// Encrypt encrypts plaintext with a fresh random nonce and returns a
// self-describing encoding "nonceHex:tagHex:ciphertextHex".
func (c *Codec) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	// Seal appends ciphertext||tag; split them so the encoding is
	// explicit about each field.
	sealed := c.aead.Seal(nil, nonce, []byte(plaintext), nil)
	ciphertext := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	return strings.Join([]string{
		hex.EncodeToString(nonce),
		hex.EncodeToString(tag),
		hex.EncodeToString(ciphertext),
	}, ":"), nil
}

// Decrypt decrypts a string produced by Encrypt. Any malformed encoding
// or authentication failure returns ErrDecryption; partial plaintext is
// never returned.
func (c *Codec) Decrypt(encoded string) (string, error) {
	parts := strings.Split(encoded, ":")
	if len(parts) != 3 {
		return "", fmt.Errorf("%w: expected nonce:tag:ciphertext", ErrDecryption)
	}

	nonce, err := hex.DecodeString(parts[0])
	if err != nil || len(nonce) != nonceSize {
		return "", fmt.Errorf("%w: invalid nonce", ErrDecryption)
	}

	tag, err := hex.DecodeString(parts[1])
	if err != nil || len(tag) != tagSize {
		return "", fmt.Errorf("%w: invalid tag", ErrDecryption)
	}

	ciphertext, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", fmt.Errorf("%w: invalid ciphertext", ErrDecryption)
	}

	plaintext, err := c.aead.Open(nil, nonce, append(ciphertext, tag...), nil)
	if err != nil {
		return "", fmt.Errorf("%w: authentication failed", ErrDecryption)
	}

	return string(plaintext), nil
}
