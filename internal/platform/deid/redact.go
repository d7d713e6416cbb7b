package deid

import "strings"

// Redact rewrites text, replacing every span in set with its category
// placeholder.
//
// The output is built in one right-to-left pass. For spans that do not overlap
// it equals replacing each span in processing order with
// text[:start] + token + text[end:]. When spans overlap, each span still
// yields its own token and no byte covered by any span is copied, so nested
// detections come out as adjacent tokens.
func Redact(text string, set SpanSet) (string, error) {
	spans := set.spans
	if len(spans) == 0 {
		return text, nil
	}
	for _, s := range spans {
		if err := s.Validate(text); err != nil {
			return "", err
		}
	}

	// reach[i] is the furthest End among spans processed at or after i. Bytes
	// below the cursor but under reach are covered by a later span.
	reach := make([]int, len(spans))
	maxEnd := 0
	for i := len(spans) - 1; i >= 0; i-- {
		if spans[i].End > maxEnd {
			maxEnd = spans[i].End
		}
		reach[i] = maxEnd
	}

	// Pieces are collected back to front and joined reversed.
	pieces := make([]string, 0, 2*len(spans)+1)
	cursor := len(text)
	for i, s := range spans {
		if reach[i] < cursor {
			pieces = append(pieces, text[reach[i]:cursor])
		}
		pieces = append(pieces, s.Category.Placeholder())
		if s.Start < cursor {
			cursor = s.Start
		}
	}
	pieces = append(pieces, text[:cursor])

	var b strings.Builder
	n := 0
	for _, p := range pieces {
		n += len(p)
	}
	b.Grow(n)
	for i := len(pieces) - 1; i >= 0; i-- {
		b.WriteString(pieces[i])
	}
	return b.String(), nil
}
