// Package deid detects and redacts protected health information in extracted
// document text. Detection combines an injected entity recognizer with a fixed
// registry of pattern rules; redaction replaces every detected span with a
// {{CATEGORY}} placeholder and records the literal values in an Inventory.
//
// The package performs no I/O of its own. Recognizers are supplied by callers.
package deid

import "fmt"

// Category is the closed set of PHI labels a span can carry.
type Category string

const (
	// Produced by an entity recognizer.
	CategoryPerson   Category = "PERSON"
	CategoryLocation Category = "LOCATION"

	// DATE is produced both by recognizers and by the DATE pattern rule.
	CategoryDate Category = "DATE"

	// Produced by pattern rules.
	CategoryPhone      Category = "PHONE"
	CategoryEmail      Category = "EMAIL"
	CategorySSN        Category = "SSN"
	CategoryMRN        Category = "MRN"
	CategoryDOB        Category = "DOB"
	CategoryAge        Category = "AGE"
	CategoryRegNo      Category = "REG_NO"
	CategoryNamePrefix Category = "NAME_PREFIX"
)

// Bucket names an inventory collection. BucketNone means the category is
// redacted but never recorded.
type Bucket string

const (
	BucketNone      Bucket = ""
	BucketNames     Bucket = "names"
	BucketPhones    Bucket = "phones"
	BucketEmails    Bucket = "emails"
	BucketSSNs      Bucket = "ssns"
	BucketMRNs      Bucket = "mrns"
	BucketDates     Bucket = "dates"
	BucketAddresses Bucket = "addresses"
)

// Buckets lists every recorded bucket in report order.
var Buckets = []Bucket{
	BucketNames, BucketPhones, BucketEmails, BucketSSNs,
	BucketMRNs, BucketDates, BucketAddresses,
}

var categoryBuckets = map[Category]Bucket{
	CategoryPerson:     BucketNames,
	CategoryLocation:   BucketAddresses,
	CategoryDate:       BucketDates,
	CategoryPhone:      BucketPhones,
	CategoryEmail:      BucketEmails,
	CategorySSN:        BucketSSNs,
	CategoryMRN:        BucketMRNs,
	CategoryDOB:        BucketDates,
	CategoryAge:        BucketNone,
	CategoryRegNo:      BucketNone,
	CategoryNamePrefix: BucketNone,
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	_, ok := categoryBuckets[c]
	return ok
}

// Bucket returns the inventory bucket values of this category are recorded in.
func (c Category) Bucket() Bucket {
	return categoryBuckets[c]
}

// Placeholder returns the replacement token for c, e.g. "{{PHONE}}".
func (c Category) Placeholder() string {
	return "{{" + string(c) + "}}"
}

// Recognizable reports whether an entity recognizer may emit c.
func (c Category) Recognizable() bool {
	switch c {
	case CategoryPerson, CategoryLocation, CategoryDate:
		return true
	}
	return false
}

// ParseCategory converts a label into a Category, rejecting unknown labels.
func ParseCategory(s string) (Category, error) {
	c := Category(s)
	if !c.Valid() {
		return "", fmt.Errorf("unknown PHI category %q", s)
	}
	return c, nil
}
