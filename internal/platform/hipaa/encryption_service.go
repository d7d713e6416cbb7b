package hipaa

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// ErrKeyRequired is returned when an encrypted value is read while
// encryption is disabled.
var ErrKeyRequired = errors.New("encrypted value found but HIPAA_ENCRYPTION_KEY is not set")

// EncryptionConfig holds the key material for an EncryptionService.
type EncryptionConfig struct {
	// Key is the current 64-character hex key. Empty disables encryption.
	Key string
	// KeyVersion labels Key in stored ciphertexts. Defaults to 1.
	KeyVersion int
	// PreviousKeys lists retired keys as "version:hexkey,...".
	PreviousKeys string
}

// EncryptionService provides field-level PHI encryption for profile storage.
// With no key configured it runs in a disabled mode for development, where
// values pass through unchanged.
type EncryptionService struct {
	keyring *Keyring
}

// NewEncryptionService creates a new encryption service. An invalid key is an
// error so the application refuses to start with a misconfigured key.
func NewEncryptionService(cfg EncryptionConfig, logger zerolog.Logger) (*EncryptionService, error) {
	if cfg.Key == "" {
		logger.Warn().Msg("PHI encryption disabled: HIPAA_ENCRYPTION_KEY is not set")
		return &EncryptionService{}, nil
	}

	key, err := decodeHexKey(cfg.Key)
	if err != nil {
		return nil, fmt.Errorf("HIPAA_ENCRYPTION_KEY: %w", err)
	}
	version := cfg.KeyVersion
	if version == 0 {
		version = 1
	}
	ring, err := NewKeyring(key, version)
	if err != nil {
		return nil, err
	}

	previous, err := ParsePreviousKeys(cfg.PreviousKeys)
	if err != nil {
		return nil, fmt.Errorf("HIPAA_PREVIOUS_KEYS: %w", err)
	}
	for v, k := range previous {
		if err := ring.AddPreviousKey(k, v); err != nil {
			return nil, err
		}
	}

	logger.Info().
		Int("key_version", version).
		Int("previous_keys", len(previous)).
		Msg("PHI field-level encryption enabled")
	return &EncryptionService{keyring: ring}, nil
}

// Encryptor returns the underlying FieldEncryptor, or nil if encryption is
// disabled.
func (s *EncryptionService) Encryptor() FieldEncryptor {
	if s.keyring == nil {
		return nil
	}
	return s.keyring
}

// EncryptField seals value for scope. Empty values stay empty so absent
// profile fields remain distinguishable.
func (s *EncryptionService) EncryptField(value, scope string) (string, error) {
	if s.keyring == nil || value == "" {
		return value, nil
	}
	return s.keyring.Encrypt(value, scope)
}

// DecryptField opens value for scope.
func (s *EncryptionService) DecryptField(value, scope string) (string, error) {
	if value == "" {
		return "", nil
	}
	if s.keyring == nil {
		if IsEncrypted(value) {
			return "", ErrKeyRequired
		}
		return value, nil
	}
	return s.keyring.Decrypt(value, scope)
}

// IsEnabled returns true if encryption is active.
func (s *EncryptionService) IsEnabled() bool {
	return s.keyring != nil
}
