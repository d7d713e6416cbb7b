package deid

import (
	"errors"
	"fmt"
	"sort"
	"unicode/utf8"
)

var (
	// ErrInvalidSpan is returned when a span falls outside its text, splits a
	// UTF-8 sequence, carries an unknown category, or overlaps a sibling span
	// from the same recognizer response.
	ErrInvalidSpan = errors.New("invalid span")

	// ErrRecognizer wraps every failure reported by an entity recognizer.
	ErrRecognizer = errors.New("entity recognizer failed")
)

// Span is a half-open byte range [Start, End) of a text unit tagged with the
// category that claimed it.
type Span struct {
	Start    int      `json:"start"`
	End      int      `json:"end"`
	Category Category `json:"category"`
}

// Len returns the number of bytes covered by the span.
func (s Span) Len() int { return s.End - s.Start }

// Overlaps reports whether s and o share at least one byte.
func (s Span) Overlaps(o Span) bool {
	return s.Start < o.End && o.Start < s.End
}

// Text returns the literal text covered by s.
func (s Span) Text(text string) string { return text[s.Start:s.End] }

func (s Span) String() string {
	return fmt.Sprintf("%s[%d:%d]", s.Category, s.Start, s.End)
}

// Validate checks that s is a non-empty range inside text whose offsets fall
// on rune boundaries.
func (s Span) Validate(text string) error {
	if s.Start < 0 || s.End > len(text) || s.Start >= s.End {
		return fmt.Errorf("%w: %s out of range for text of %d bytes", ErrInvalidSpan, s, len(text))
	}
	if !s.Category.Valid() {
		return fmt.Errorf("%w: unknown category %q", ErrInvalidSpan, s.Category)
	}
	if !onRuneBoundary(text, s.Start) || !onRuneBoundary(text, s.End) {
		return fmt.Errorf("%w: %s splits a UTF-8 sequence", ErrInvalidSpan, s)
	}
	return nil
}

// ValidateRecognized checks a recognizer response: every span must be valid,
// recognizable, and no two spans may overlap.
func ValidateRecognized(text string, spans []Span) error {
	for _, s := range spans {
		if err := s.Validate(text); err != nil {
			return err
		}
		if !s.Category.Recognizable() {
			return fmt.Errorf("%w: recognizer emitted non-recognizer category %q", ErrInvalidSpan, s.Category)
		}
	}
	if len(spans) < 2 {
		return nil
	}
	sorted := append([]Span(nil), spans...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })
	for i := 1; i < len(sorted); i++ {
		if sorted[i-1].Overlaps(sorted[i]) {
			return fmt.Errorf("%w: recognizer spans %s and %s overlap", ErrInvalidSpan, sorted[i-1], sorted[i])
		}
	}
	return nil
}

func onRuneBoundary(text string, i int) bool {
	if i == 0 || i == len(text) {
		return true
	}
	return utf8.RuneStart(text[i])
}
