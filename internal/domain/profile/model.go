// Package profile stores the identifying fields each caller registers, which
// the release flow verifies uploaded documents against.
package profile

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/phigate/phigate/internal/platform/verify"
)

// ErrValidation marks a profile rejected by Validate.
var ErrValidation = errors.New("invalid profile")

const maxFieldLength = 256

type Profile struct {
	ID           uuid.UUID `json:"id"`
	Subject      string    `json:"subject"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Phone        string    `json:"phone"`
	DateOfBirth  string    `json:"date_of_birth"`
	GovernmentID string    `json:"government_id"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Identity returns the fields the verifier compares.
func (p *Profile) Identity() verify.Profile {
	return verify.Profile{
		Name:         p.Name,
		Email:        p.Email,
		Phone:        p.Phone,
		DateOfBirth:  p.DateOfBirth,
		GovernmentID: p.GovernmentID,
	}
}

// fields returns pointers to every identifying field keyed by its verify
// field name.
func (p *Profile) fields() map[verify.Field]*string {
	return map[verify.Field]*string{
		verify.FieldName:         &p.Name,
		verify.FieldEmail:        &p.Email,
		verify.FieldPhone:        &p.Phone,
		verify.FieldDateOfBirth:  &p.DateOfBirth,
		verify.FieldGovernmentID: &p.GovernmentID,
	}
}

// Normalize trims surrounding whitespace from every field.
func (p *Profile) Normalize() {
	for _, v := range p.fields() {
		*v = strings.TrimSpace(*v)
	}
}

// Validate requires at least one identifying field. A profile with none could
// never authorize a release.
func (p *Profile) Validate() error {
	populated := 0
	for _, f := range verify.Fields {
		v := *p.fields()[f]
		if v == "" {
			continue
		}
		populated++
		if utf8.RuneCountInString(v) > maxFieldLength {
			return fmt.Errorf("%w: %s exceeds %d characters", ErrValidation, f, maxFieldLength)
		}
	}
	if populated == 0 {
		return fmt.Errorf("%w: at least one of name, email, phone, date_of_birth, government_id is required", ErrValidation)
	}
	if p.Email != "" {
		if _, err := mail.ParseAddress(p.Email); err != nil || strings.ContainsAny(p.Email, " <>") {
			return fmt.Errorf("%w: email %q is not a bare address", ErrValidation, p.Email)
		}
	}
	return nil
}
