// Package verify decides whether a de-identified document plausibly belongs
// to a registered identity by cross-referencing the PHI inventory against the
// caller's profile.
package verify

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"

	"github.com/phigate/phigate/internal/platform/deid"
)

// Profile holds the identifying fields a caller registered.
type Profile struct {
	Name         string `json:"name"`
	Email        string `json:"email"`
	Phone        string `json:"phone"`
	DateOfBirth  string `json:"date_of_birth"`
	GovernmentID string `json:"government_id"`
}

// Field names a profile field.
type Field string

const (
	FieldName         Field = "name"
	FieldEmail        Field = "email"
	FieldPhone        Field = "phone"
	FieldDateOfBirth  Field = "date_of_birth"
	FieldGovernmentID Field = "government_id"
)

// Fields lists every field in evaluation order.
var Fields = []Field{FieldName, FieldEmail, FieldPhone, FieldDateOfBirth, FieldGovernmentID}

// ParseField converts a field name, rejecting unknown names.
func ParseField(s string) (Field, error) {
	f := Field(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Fields {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown profile field %q", s)
}

func (p Profile) value(f Field) string {
	switch f {
	case FieldName:
		return p.Name
	case FieldEmail:
		return p.Email
	case FieldPhone:
		return p.Phone
	case FieldDateOfBirth:
		return p.DateOfBirth
	case FieldGovernmentID:
		return p.GovernmentID
	}
	return ""
}

// Policy decides how per-field verdicts combine.
type Policy string

const (
	// PolicyAny authorizes when at least one field matches.
	PolicyAny Policy = "any"
	// PolicyAll authorizes only when every required field matches.
	PolicyAll Policy = "all"
)

// ParsePolicy accepts "any" (or "") and "all".
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyAny:
		return PolicyAny, nil
	case PolicyAll:
		return PolicyAll, nil
	}
	return "", fmt.Errorf("unknown verification policy %q (want any or all)", s)
}

// Result holds per-field verdicts and the overall decision.
type Result struct {
	NameMatch         bool   `json:"name_match"`
	EmailMatch        bool   `json:"email_match"`
	PhoneMatch        bool   `json:"phone_match"`
	DateOfBirthMatch  bool   `json:"date_of_birth_match"`
	GovernmentIDMatch bool   `json:"government_id_match"`
	Overall           bool   `json:"overall"`
	Policy            Policy `json:"policy"`
}

// Matched reports the verdict for f.
func (r Result) Matched(f Field) bool {
	switch f {
	case FieldName:
		return r.NameMatch
	case FieldEmail:
		return r.EmailMatch
	case FieldPhone:
		return r.PhoneMatch
	case FieldDateOfBirth:
		return r.DateOfBirthMatch
	case FieldGovernmentID:
		return r.GovernmentIDMatch
	}
	return false
}

func (r *Result) set(f Field, ok bool) {
	switch f {
	case FieldName:
		r.NameMatch = ok
	case FieldEmail:
		r.EmailMatch = ok
	case FieldPhone:
		r.PhoneMatch = ok
	case FieldDateOfBirth:
		r.DateOfBirthMatch = ok
	case FieldGovernmentID:
		r.GovernmentIDMatch = ok
	}
}

// Config configures a Verifier.
type Config struct {
	Policy Policy
	// Required is the field set PolicyAll insists on. When empty, every
	// field the profile has populated is required.
	Required []Field
	// MinNameLength is the shortest name, in runes, that may match. Shorter
	// names on either side never match.
	MinNameLength int
}

// Verifier compares inventories with profiles. It is stateless and safe for
// concurrent use.
type Verifier struct {
	policy   Policy
	required []Field
	minName  int
}

// New returns a verifier for cfg.
func New(cfg Config) (*Verifier, error) {
	policy := cfg.Policy
	if policy == "" {
		policy = PolicyAny
	}
	if policy != PolicyAny && policy != PolicyAll {
		return nil, fmt.Errorf("unknown verification policy %q", policy)
	}
	minName := cfg.MinNameLength
	if minName < 1 {
		minName = 1
	}
	return &Verifier{
		policy:   policy,
		required: append([]Field(nil), cfg.Required...),
		minName:  minName,
	}, nil
}

// Policy returns the configured policy.
func (v *Verifier) Policy() Policy { return v.policy }

// Verify compares inv with profile. Empty profile values and empty inventory
// values never match.
func (v *Verifier) Verify(inv *deid.Inventory, profile Profile) Result {
	res := Result{Policy: v.policy}
	for _, f := range Fields {
		res.set(f, v.matchField(f, inv, profile.value(f)))
	}
	res.Overall = v.decide(res, profile)
	return res
}

func (v *Verifier) decide(res Result, profile Profile) bool {
	if v.policy == PolicyAny {
		for _, f := range Fields {
			if res.Matched(f) {
				return true
			}
		}
		return false
	}

	required := v.required
	if len(required) == 0 {
		for _, f := range Fields {
			if profile.value(f) != "" {
				required = append(required, f)
			}
		}
	}
	if len(required) == 0 {
		return false
	}
	for _, f := range required {
		if !res.Matched(f) {
			return false
		}
	}
	return true
}

func (v *Verifier) matchField(f Field, inv *deid.Inventory, want string) bool {
	if want == "" {
		return false
	}
	switch f {
	case FieldName:
		return v.anyValue(inv, deid.BucketNames, func(got string) bool { return v.nameMatches(got, want) })
	case FieldEmail:
		return v.anyValue(inv, deid.BucketEmails, func(got string) bool { return strings.EqualFold(got, want) })
	case FieldPhone:
		return inv.Contains(deid.BucketPhones, want)
	case FieldDateOfBirth:
		return inv.Contains(deid.BucketDates, want)
	case FieldGovernmentID:
		return inv.Contains(deid.BucketSSNs, want)
	}
	return false
}

func (v *Verifier) anyValue(inv *deid.Inventory, b deid.Bucket, match func(string) bool) bool {
	for _, got := range inv.Values(b) {
		if got != "" && match(got) {
			return true
		}
	}
	return false
}

// nameMatches reports case-insensitive containment in either direction.
// A Caser is stateful, so each call folds with its own.
func (v *Verifier) nameMatches(found, registered string) bool {
	fold := cases.Fold()
	a := strings.TrimSpace(fold.String(found))
	b := strings.TrimSpace(fold.String(registered))
	if utf8.RuneCountInString(a) < v.minName || utf8.RuneCountInString(b) < v.minName {
		return false
	}
	return strings.Contains(b, a) || strings.Contains(a, b)
}
