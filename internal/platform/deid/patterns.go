package deid

import (
	"fmt"
	"regexp"
)

// Rule is one labeled pattern in the matcher registry. When Pattern has a
// capture group, the first group is the span and the rest of the match is
// context that is not redacted.
type Rule struct {
	Category Category
	Pattern  *regexp.Regexp
}

// RE2's \s, \w, \d and \b are ASCII-only. Extracted text routinely carries
// no-break spaces and accented names, so the rules spell out Unicode classes.
const (
	spaceClass = `\t\n\v\f\r \x{1c}-\x{1f}\x{85}\p{Z}`
	wordClass  = `\p{L}\p{N}\p{Mn}_`
	digitClass = `\p{Nd}`
)

// DefaultRules is the fixed pattern registry. Order matters: it is the
// emission order of pattern spans and therefore the tie-break order when two
// spans start at the same offset.
var DefaultRules = []Rule{
	{CategoryPhone, regexp.MustCompile(`\(?` + digitClass + `{3}\)?[-.` + spaceClass + `]?` + digitClass + `{3}[-.` + spaceClass + `]?` + digitClass + `{4}`)},
	{CategoryEmail, regexp.MustCompile(`[` + wordClass + `.-]+@[` + wordClass + `.-]+`)},
	{CategorySSN, regexp.MustCompile(digitClass + `{3}-` + digitClass + `{2}-` + digitClass + `{4}`)},
	// MRN needs a word boundary on both sides: the leading one is matched as
	// context outside the group, the trailing one by ending on a word rune.
	{CategoryMRN, regexp.MustCompile(`(?:^|[^` + wordClass + `])((?:MRN|Medical Record Number)[:` + spaceClass + `]*[` + wordClass + `-]*[` + wordClass + `])`)},
	{CategoryDOB, regexp.MustCompile(`(?:DOB|Date of Birth)[:` + spaceClass + `]*` + digitClass + `{1,2}[/-]` + digitClass + `{1,2}[/-]` + digitClass + `{2,4}`)},
	{CategoryAge, regexp.MustCompile(digitClass + `+[` + spaceClass + `]*(?:YRS|years|yrs)`)},
	{CategoryRegNo, regexp.MustCompile(`Reg\.[` + spaceClass + `]*no\.[` + spaceClass + `]*:[` + spaceClass + `]*` + digitClass + `+`)},
	{CategoryDate, regexp.MustCompile(digitClass + `{1,2}/` + digitClass + `{1,2}/` + digitClass + `{4}`)},
	{CategoryNamePrefix, regexp.MustCompile(`(?:Mr\.|Mrs\.|Ms\.|Dr\.)[` + spaceClass + `]+[A-Za-z` + spaceClass + `]+`)},
}

// Matcher scans text against an ordered rule registry.
type Matcher struct {
	rules []Rule
}

// NewMatcher builds a matcher over rules. A rule that can match the empty
// string or carries an unknown category is rejected.
func NewMatcher(rules []Rule) (*Matcher, error) {
	for i, r := range rules {
		if r.Pattern == nil {
			return nil, fmt.Errorf("rule %d (%s): nil pattern", i, r.Category)
		}
		if !r.Category.Valid() {
			return nil, fmt.Errorf("rule %d: unknown category %q", i, r.Category)
		}
		if r.Pattern.MatchString("") {
			return nil, fmt.Errorf("rule %d (%s): pattern matches the empty string", i, r.Category)
		}
	}
	return &Matcher{rules: append([]Rule(nil), rules...)}, nil
}

// DefaultMatcher returns a matcher over DefaultRules.
func DefaultMatcher() *Matcher {
	m, err := NewMatcher(DefaultRules)
	if err != nil {
		panic(err)
	}
	return m
}

// Rules returns a copy of the registry in evaluation order.
func (m *Matcher) Rules() []Rule {
	return append([]Rule(nil), m.rules...)
}

// Match returns every non-empty, non-overlapping-per-rule match of every rule.
// Spans are grouped by rule in registry order, and by position within a rule.
func (m *Matcher) Match(text string) []Span {
	if text == "" {
		return nil
	}
	var spans []Span
	for _, r := range m.rules {
		for _, loc := range r.Pattern.FindAllStringSubmatchIndex(text, -1) {
			start, end := loc[0], loc[1]
			if len(loc) >= 4 && loc[2] >= 0 {
				start, end = loc[2], loc[3]
			}
			if end <= start {
				continue
			}
			spans = append(spans, Span{Start: start, End: end, Category: r.Category})
		}
	}
	return spans
}
