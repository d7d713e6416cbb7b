package hipaa

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Ciphertexts carry their key version: "v{version}:{base64}".
const (
	keyVersionPrefix    = "v"
	keyVersionSeparator = ":"
)

// FieldEncryptor seals and opens single field values for a scope.
type FieldEncryptor interface {
	Encrypt(plaintext, scope string) (string, error)
	Decrypt(ciphertext, scope string) (string, error)
}

// Keyring encrypts with its current key and decrypts with any key it holds,
// so stored profiles stay readable across a key rotation.
type Keyring struct {
	mu         sync.RWMutex
	current    *PHIEncryptor
	currentVer int
	previous   map[int]*PHIEncryptor
}

var _ FieldEncryptor = (*Keyring)(nil)

// NewKeyring creates a keyring whose current key has the given version.
func NewKeyring(currentKey []byte, currentVersion int) (*Keyring, error) {
	if currentVersion < 1 {
		return nil, fmt.Errorf("keyring: key version must be positive, got %d", currentVersion)
	}
	enc, err := NewPHIEncryptor(currentKey)
	if err != nil {
		return nil, fmt.Errorf("keyring: current key: %w", err)
	}
	return &Keyring{
		current:    enc,
		currentVer: currentVersion,
		previous:   make(map[int]*PHIEncryptor),
	}, nil
}

// AddPreviousKey registers a retired key for decryption only.
func (r *Keyring) AddPreviousKey(key []byte, version int) error {
	if version == r.currentVer {
		return fmt.Errorf("keyring: version %d is the current key", version)
	}
	enc, err := NewPHIEncryptor(key)
	if err != nil {
		return fmt.Errorf("keyring: previous key v%d: %w", version, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.previous[version] = enc
	return nil
}

// Encrypt seals with the current key and prefixes its version.
func (r *Keyring) Encrypt(plaintext, scope string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sealed, err := r.current.Seal(plaintext, scope)
	if err != nil {
		return "", err
	}
	return keyVersionPrefix + strconv.Itoa(r.currentVer) + keyVersionSeparator + sealed, nil
}

// Decrypt selects the key named by the version prefix.
func (r *Keyring) Decrypt(ciphertext, scope string) (string, error) {
	version, data, err := parseVersionedCiphertext(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrDecrypt, err)
	}

	r.mu.RLock()
	enc := r.current
	if version != r.currentVer {
		enc = r.previous[version]
	}
	r.mu.RUnlock()

	if enc == nil {
		return "", fmt.Errorf("%w: no key available for version %d", ErrDecrypt, version)
	}
	return enc.Open(data, scope)
}

// NeedsReEncryption reports whether ciphertext was sealed with a retired key.
func (r *Keyring) NeedsReEncryption(ciphertext string) bool {
	version, _, err := parseVersionedCiphertext(ciphertext)
	if err != nil {
		return true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return version != r.currentVer
}

// ReEncrypt opens ciphertext and seals it again with the current key.
func (r *Keyring) ReEncrypt(ciphertext, scope string) (string, error) {
	plaintext, err := r.Decrypt(ciphertext, scope)
	if err != nil {
		return "", fmt.Errorf("re-encrypt: %w", err)
	}
	return r.Encrypt(plaintext, scope)
}

// CurrentVersion returns the current key version.
func (r *Keyring) CurrentVersion() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.currentVer
}

// Versions lists every key version held, ascending.
func (r *Keyring) Versions() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []int{r.currentVer}
	for v := range r.previous {
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}

// IsEncrypted reports whether s has the versioned ciphertext shape.
func IsEncrypted(s string) bool {
	_, _, err := parseVersionedCiphertext(s)
	return err == nil
}

func parseVersionedCiphertext(s string) (int, string, error) {
	if !strings.HasPrefix(s, keyVersionPrefix) {
		return 0, "", fmt.Errorf("no version prefix")
	}
	idx := strings.Index(s, keyVersionSeparator)
	if idx < 0 {
		return 0, "", fmt.Errorf("no version separator")
	}
	version, err := strconv.Atoi(s[len(keyVersionPrefix):idx])
	if err != nil || version < 1 {
		return 0, "", fmt.Errorf("invalid key version %q", s[len(keyVersionPrefix):idx])
	}
	return version, s[idx+1:], nil
}

// ParsePreviousKeys parses "version:hexkey" pairs separated by commas,
// e.g. "1:00ff..,2:a1b2..".
func ParsePreviousKeys(s string) (map[int][]byte, error) {
	out := make(map[int][]byte)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		verStr, hexKey, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("previous key %q: want version:hexkey", part)
		}
		version, err := strconv.Atoi(strings.TrimSpace(verStr))
		if err != nil || version < 1 {
			return nil, fmt.Errorf("previous key %q: invalid version", part)
		}
		key, err := decodeHexKey(strings.TrimSpace(hexKey))
		if err != nil {
			return nil, fmt.Errorf("previous key v%d: %w", version, err)
		}
		out[version] = key
	}
	return out, nil
}

func decodeHexKey(s string) ([]byte, error) {
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("key is not valid hex: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("key must be 32 bytes (64 hex chars), got %d bytes", len(key))
	}
	return key, nil
}
