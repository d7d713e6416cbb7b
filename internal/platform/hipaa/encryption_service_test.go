package hipaa

import (
	"encoding/hex"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func validHexKey(t *testing.T) string {
	t.Helper()
	return hex.EncodeToString(generateTestKey(t))
}

func TestNewEncryptionService_ValidKey(t *testing.T) {
	svc, err := NewEncryptionService(EncryptionConfig{Key: validHexKey(t)}, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !svc.IsEnabled() {
		t.Fatal("expected encryption to be enabled with a valid key")
	}
	if svc.Encryptor() == nil {
		t.Fatal("expected non-nil encryptor when enabled")
	}
}

func TestNewEncryptionService_EmptyKey(t *testing.T) {
	svc, err := NewEncryptionService(EncryptionConfig{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if svc.IsEnabled() {
		t.Fatal("expected encryption to be disabled with empty key")
	}
	if svc.Encryptor() != nil {
		t.Fatal("expected nil encryptor when disabled")
	}
}

func TestNewEncryptionService_InvalidConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     EncryptionConfig
		wantMsg string
	}{
		{"invalid hex", EncryptionConfig{Key: "not-valid-hex!"}, "not valid hex"},
		{"wrong length", EncryptionConfig{Key: hex.EncodeToString(make([]byte, 16))}, "32 bytes"},
		{"bad previous keys", EncryptionConfig{Key: validHexKey(t), PreviousKeys: "1"}, "HIPAA_PREVIOUS_KEYS"},
		{"previous reuses current", EncryptionConfig{Key: validHexKey(t), KeyVersion: 2, PreviousKeys: "2:" + validHexKey(t)}, "current key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEncryptionService(tt.cfg, zerolog.Nop())
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error should mention %q, got: %v", tt.wantMsg, err)
			}
		})
	}
}

func TestEncryptionService_FieldRoundTrip(t *testing.T) {
	svc, err := NewEncryptionService(EncryptionConfig{Key: validHexKey(t), KeyVersion: 3}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEncryptionService: %v", err)
	}

	ct, err := svc.EncryptField("jane@roe.org", "user-1/email")
	if err != nil {
		t.Fatalf("EncryptField: %v", err)
	}
	if !strings.HasPrefix(ct, "v3:") {
		t.Errorf("expected v3 ciphertext, got %q", ct)
	}
	pt, err := svc.DecryptField(ct, "user-1/email")
	if err != nil || pt != "jane@roe.org" {
		t.Fatalf("DecryptField: %q, %v", pt, err)
	}

	empty, err := svc.EncryptField("", "user-1/phone")
	if err != nil || empty != "" {
		t.Errorf("empty values stay empty: %q, %v", empty, err)
	}
}

func TestEncryptionService_RotationFromConfig(t *testing.T) {
	oldKey := validHexKey(t)
	oldSvc, err := NewEncryptionService(EncryptionConfig{Key: oldKey}, zerolog.Nop())
	if err != nil {
		t.Fatalf("old service: %v", err)
	}
	stored, err := oldSvc.EncryptField("Jane Roe", "user-1/name")
	if err != nil {
		t.Fatalf("EncryptField: %v", err)
	}

	svc, err := NewEncryptionService(EncryptionConfig{
		Key:          validHexKey(t),
		KeyVersion:   2,
		PreviousKeys: "1:" + oldKey,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	pt, err := svc.DecryptField(stored, "user-1/name")
	if err != nil || pt != "Jane Roe" {
		t.Fatalf("decrypt after rotation: %q, %v", pt, err)
	}
}

func TestEncryptionService_Disabled(t *testing.T) {
	svc, err := NewEncryptionService(EncryptionConfig{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEncryptionService: %v", err)
	}

	ct, err := svc.EncryptField("Jane Roe", "user-1/name")
	if err != nil || ct != "Jane Roe" {
		t.Errorf("disabled EncryptField should pass through: %q, %v", ct, err)
	}
	pt, err := svc.DecryptField("Jane Roe", "user-1/name")
	if err != nil || pt != "Jane Roe" {
		t.Errorf("disabled DecryptField should pass through: %q, %v", pt, err)
	}

	enabled, err := NewEncryptionService(EncryptionConfig{Key: validHexKey(t)}, zerolog.Nop())
	if err != nil {
		t.Fatalf("enabled service: %v", err)
	}
	sealed, err := enabled.EncryptField("Jane Roe", "user-1/name")
	if err != nil {
		t.Fatalf("EncryptField: %v", err)
	}
	if _, err := svc.DecryptField(sealed, "user-1/name"); !errors.Is(err, ErrKeyRequired) {
		t.Errorf("expected ErrKeyRequired, got %v", err)
	}
}
