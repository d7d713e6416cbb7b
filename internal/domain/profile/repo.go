package profile

import (
	"context"
	"errors"
	"fmt"

	"github.com/phigate/phigate/internal/platform/hipaa"
	"github.com/phigate/phigate/internal/platform/verify"
)

var ErrNotFound = errors.New("profile not found")

type Repository interface {
	GetBySubject(ctx context.Context, subject string) (*Profile, error)
	// Upsert creates or replaces the subject's profile and fills in ID and
	// timestamps.
	Upsert(ctx context.Context, p *Profile) error
	Delete(ctx context.Context, subject string) error
}

// fieldScope binds a ciphertext to one subject and field.
func fieldScope(subject string, f verify.Field) string {
	return subject + "/" + string(f)
}

// sealed returns a copy of p with every field encrypted for storage.
func sealed(enc *hipaa.EncryptionService, p *Profile) (*Profile, error) {
	out := *p
	for f, v := range out.fields() {
		ct, err := enc.EncryptField(*v, fieldScope(p.Subject, f))
		if err != nil {
			return nil, fmt.Errorf("encrypt %s: %w", f, err)
		}
		*v = ct
	}
	return &out, nil
}

// unseal decrypts p's fields in place.
func unseal(enc *hipaa.EncryptionService, p *Profile) error {
	for f, v := range p.fields() {
		pt, err := enc.DecryptField(*v, fieldScope(p.Subject, f))
		if err != nil {
			return fmt.Errorf("decrypt %s: %w", f, err)
		}
		*v = pt
	}
	return nil
}
