package deid

import (
	"fmt"
	"sort"
	"strings"
)

// OverlapPolicy decides what happens when spans claim overlapping bytes.
type OverlapPolicy int

const (
	// OverlapNested keeps every span. Overlapping regions produce adjacent
	// placeholders in processing order.
	OverlapNested OverlapPolicy = iota

	// OverlapMerge coalesces each cluster of overlapping spans into a single
	// span labeled with the category of its longest member.
	OverlapMerge
)

func (p OverlapPolicy) String() string {
	switch p {
	case OverlapMerge:
		return "merge"
	default:
		return "nested"
	}
}

// ParseOverlapPolicy accepts "nested" (or "") and "merge".
func ParseOverlapPolicy(s string) (OverlapPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "nested":
		return OverlapNested, nil
	case "merge":
		return OverlapMerge, nil
	}
	return OverlapNested, fmt.Errorf("unknown overlap policy %q (want nested or merge)", s)
}

// SpanSet is the reconciled span list for one text unit, in processing order:
// Start descending, ties in emission order.
type SpanSet struct {
	spans []Span
}

// Spans returns a copy of the spans in processing order.
func (s SpanSet) Spans() []Span {
	return append([]Span(nil), s.spans...)
}

// Len returns the number of spans.
func (s SpanSet) Len() int { return len(s.spans) }

// Reconcile orders recognizer and pattern spans for one unit. Recognizer spans
// are emitted before pattern spans, so on equal Start they are processed first.
func Reconcile(recognized, matched []Span, policy OverlapPolicy) SpanSet {
	all := make([]Span, 0, len(recognized)+len(matched))
	all = append(all, recognized...)
	all = append(all, matched...)
	sort.SliceStable(all, func(i, j int) bool { return all[i].Start > all[j].Start })
	if policy == OverlapMerge {
		all = mergeOverlaps(all)
	}
	return SpanSet{spans: all}
}

// mergeOverlaps takes spans in processing order and returns one span per
// overlap cluster, still in processing order.
func mergeOverlaps(ordered []Span) []Span {
	if len(ordered) < 2 {
		return ordered
	}
	idx := make([]int, len(ordered))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return ordered[idx[a]].Start < ordered[idx[b]].Start
	})

	var clusters []Span
	var cur Span
	best := -1
	for _, i := range idx {
		s := ordered[i]
		if best >= 0 && s.Start < cur.End {
			if s.End > cur.End {
				cur.End = s.End
			}
			b := ordered[best]
			if s.Len() > b.Len() || (s.Len() == b.Len() && i < best) {
				best = i
			}
			cur.Category = ordered[best].Category
			continue
		}
		if best >= 0 {
			clusters = append(clusters, cur)
		}
		cur = s
		best = i
	}
	clusters = append(clusters, cur)

	for l, r := 0, len(clusters)-1; l < r; l, r = l+1, r-1 {
		clusters[l], clusters[r] = clusters[r], clusters[l]
	}
	return clusters
}

// collectInventory records the literal value of every span, recognizer spans
// first and then pattern spans in rule order. Person names are cleaned before
// being recorded.
func collectInventory(text string, recognized, matched []Span) *Inventory {
	inv := NewInventory()
	for _, group := range [][]Span{recognized, matched} {
		for _, s := range group {
			value := s.Text(text)
			if s.Category == CategoryPerson {
				value = cleanPersonName(value)
			}
			inv.Add(s.Category.Bucket(), value)
		}
	}
	return inv
}
