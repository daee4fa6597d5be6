package backup

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
)

const sealedPrefix = "aes-gcm:"

// ErrKeyRequired is returned when reading a sealed backup without a key.
var ErrKeyRequired = errors.New("backup is encrypted: a key is required")

// Seal encrypts plaintext with AES-256-GCM.
// Returns "aes-gcm:" + base64(nonce + ciphertext + tag).
// An empty key returns plaintext unchanged.
func Seal(plaintext []byte, key string) ([]byte, error) {
	if key == "" {
		return plaintext, nil
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)
	return []byte(sealedPrefix + base64.StdEncoding.EncodeToString(ciphertext)), nil
}

// Open reverses Seal. Data without the "aes-gcm:" prefix is returned as-is,
// so plain JSON backups stay readable.
func Open(data []byte, key string) ([]byte, error) {
	trimmed := bytes.TrimSpace(data)
	if !IsSealed(trimmed) {
		return data, nil
	}
	if key == "" {
		return nil, ErrKeyRequired
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(string(trimmed), sealedPrefix))
	if err != nil {
		return nil, errors.New("decrypt failed: corrupted data")
	}
	nonceSize := gcm.NonceSize()
	if len(raw) < nonceSize {
		return nil, errors.New("decrypt failed: corrupted data")
	}

	plaintext, err := gcm.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return nil, errors.New("decrypt failed: invalid key or corrupted data")
	}
	return plaintext, nil
}

// IsSealed reports whether data carries the encryption prefix.
func IsSealed(data []byte) bool {
	return bytes.HasPrefix(data, []byte(sealedPrefix))
}

func newGCM(key string) (cipher.AEAD, error) {
	keyBytes, err := DeriveKey(key)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(keyBytes)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// DeriveKey converts the input string to a 32-byte AES key.
// Accepts: hex-encoded (64 chars), base64-encoded (44 chars), or raw 32 bytes.
func DeriveKey(input string) ([]byte, error) {
	if len(input) == 64 {
		if b, err := hex.DecodeString(input); err == nil {
			return b, nil
		}
	}
	if len(input) == 44 && strings.HasSuffix(input, "=") {
		if b, err := base64.StdEncoding.DecodeString(input); err == nil && len(b) == 32 {
			return b, nil
		}
	}
	if len(input) == 32 {
		return []byte(input), nil
	}
	return nil, errors.New("backup key must be 32 bytes (hex-encoded 64 chars, base64 44 chars, or raw 32 bytes)")
}
