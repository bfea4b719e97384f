// Package encryption provides authenticated symmetric encryption for OAuth
// tokens at rest. Ciphertexts are base64-encoded nonce||sealed bytes.
package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrKeyMissing indicates no encryption key was configured.
	ErrKeyMissing = errors.New("encryption: key not configured")
	// ErrKeyInvalid indicates the configured key is not a valid base64-encoded
	// 32-byte AES key.
	ErrKeyInvalid = errors.New("encryption: invalid key")
	// ErrEmptyPlaintext indicates an attempt to encrypt an empty token.
	ErrEmptyPlaintext = errors.New("encryption: token cannot be empty")
	// ErrDecrypt indicates the ciphertext is malformed or has been tampered with.
	ErrDecrypt = errors.New("encryption: decryption failed")
)

const keySize = 32 // AES-256

// Cipher encrypts and decrypts token strings with AES-256-GCM.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher creates a Cipher from a base64-encoded 32-byte key.
func NewCipher(encodedKey string) (*Cipher, error) {
	if encodedKey == "" {
		return nil, ErrKeyMissing
	}

	key, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyInvalid, err)
	}
	if len(key) != keySize {
		return nil, fmt.Errorf("%w: need %d bytes, got %d", ErrKeyInvalid, keySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyInvalid, err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyInvalid, err)
	}

	return &Cipher{aead: aead}, nil
}

// Encrypt seals a plaintext token. The result is safe to persist.
func (c *Cipher) Encrypt(token string) (string, error) {
	if token == "" {
		return "", ErrEmptyPlaintext
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(token), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a ciphertext produced by Encrypt. Tampered or malformed
// input fails with ErrDecrypt.
func (c *Cipher) Decrypt(encrypted string) (string, error) {
	if encrypted == "" {
		return "", fmt.Errorf("%w: empty ciphertext", ErrDecrypt)
	}

	raw, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}

	nonceSize := c.aead.NonceSize()
	if len(raw) < nonceSize {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecrypt)
	}

	nonce, sealed := raw[:nonceSize], raw[nonceSize:]
	plain, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}

	return string(plain), nil
}

// Validate reports whether a stored ciphertext can still be decrypted.
func (c *Cipher) Validate(encrypted string) bool {
	_, err := c.Decrypt(encrypted)
	return err == nil
}
