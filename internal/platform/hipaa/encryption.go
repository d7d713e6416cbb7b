package hipaa

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// ErrDecrypt is returned when a sealed value cannot be opened: wrong key,
// tampered ciphertext, or a value moved to a different scope.
var ErrDecrypt = errors.New("phi decrypt failed")

// PHIEncryptor seals individual values with AES-256-GCM. Each value is bound
// to a scope (for example "subject/field") passed as additional data, so a
// ciphertext copied into another row or column does not open.
type PHIEncryptor struct {
	aead cipher.AEAD
}

// NewPHIEncryptor creates a new PHIEncryptor with the given 32-byte AES-256 key.
func NewPHIEncryptor(key []byte) (*PHIEncryptor, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("phi encryptor: key must be 32 bytes, got %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("phi encryptor: create cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("phi encryptor: create GCM: %w", err)
	}

	return &PHIEncryptor{aead: aead}, nil
}

// Seal encrypts plaintext for scope and returns base64(nonce || ciphertext).
func (e *PHIEncryptor) Seal(plaintext, scope string) (string, error) {
	sealed, err := e.SealBytes([]byte(plaintext), []byte(scope))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal. The scope must equal the one used to seal.
func (e *PHIEncryptor) Open(encoded, scope string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: base64 decode: %w", ErrDecrypt, err)
	}
	plaintext, err := e.OpenBytes(data, []byte(scope))
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// SealBytes returns the nonce prepended to the ciphertext.
func (e *PHIEncryptor) SealBytes(data, additional []byte) ([]byte, error) {
	nonce := make([]byte, e.aead.NonceSize(), e.aead.NonceSize()+len(data)+e.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("phi encrypt: generate nonce: %w", err)
	}
	return e.aead.Seal(nonce, nonce, data, additional), nil
}

// OpenBytes splits the nonce from the front of data and opens the remainder.
func (e *PHIEncryptor) OpenBytes(data, additional []byte) ([]byte, error) {
	nonceSize := e.aead.NonceSize()
	if len(data) < nonceSize+e.aead.Overhead() {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrDecrypt)
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := e.aead.Open(nil, nonce, ciphertext, additional)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecrypt, err)
	}
	return plaintext, nil
}
