package storage

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// ErrCiphertextTooShort is returned when the input cannot hold a nonce.
var ErrCiphertextTooShort = errors.New("ciphertext too short")

// ValidKeyLength reports whether key selects AES-128, AES-192 or AES-256.
func ValidKeyLength(key []byte) bool {
	switch len(key) {
	case 16, 24, 32:
		return true
	}
	return false
}

// Encrypt seals plaintext with AES-GCM. The random nonce is prepended to
// the returned ciphertext.
func Encrypt(plaintext, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens data produced by Encrypt.
func Decrypt(data, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	n := gcm.NonceSize()
	if len(data) < n {
		return nil, ErrCiphertextTooShort
	}
	plaintext, err := gcm.Open(nil, data[:n], data[n:], nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if !ValidKeyLength(key) {
		return nil, fmt.Errorf("encryption key must be 16, 24, or 32 bytes long, got %d bytes", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// TextEncryptor encrypts individual secret fields into printable text.
type TextEncryptor struct {
	key []byte
}

// NewTextEncryptor returns an encryptor for key.
func NewTextEncryptor(key []byte) (*TextEncryptor, error) {
	if !ValidKeyLength(key) {
		return nil, fmt.Errorf("encryption key must be 16, 24, or 32 bytes long, got %d bytes", len(key))
	}
	return &TextEncryptor{key: key}, nil
}

// Encrypt returns base64(nonce|ciphertext). Empty input stays empty.
func (e *TextEncryptor) Encrypt(plain string) (string, error) {
	if plain == "" {
		return "", nil
	}
	sealed, err := Encrypt([]byte(plain), e.key)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt.
func (e *TextEncryptor) Decrypt(text string) (string, error) {
	if text == "" {
		return "", nil
	}
	sealed, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return "", fmt.Errorf("failed to decode encrypted text: %w", err)
	}
	plain, err := Decrypt(sealed, e.key)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}
