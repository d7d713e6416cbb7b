package deid

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Inventory holds, per bucket, the distinct literal PHI values found in a
// document in first-seen order. Deduplication is case-sensitive and exact.
//
// The zero value is ready to use. An Inventory is not safe for concurrent
// mutation; the walker merges per-unit inventories on a single goroutine.
type Inventory struct {
	values map[Bucket][]string
	seen   map[Bucket]map[string]struct{}
}

// NewInventory returns an empty inventory.
func NewInventory() *Inventory {
	return &Inventory{}
}

// Add records value under bucket. Empty values and BucketNone are ignored.
// It reports whether the value was new.
func (inv *Inventory) Add(bucket Bucket, value string) bool {
	if bucket == BucketNone || value == "" {
		return false
	}
	if inv.values == nil {
		inv.values = make(map[Bucket][]string)
		inv.seen = make(map[Bucket]map[string]struct{})
	}
	set := inv.seen[bucket]
	if set == nil {
		set = make(map[string]struct{})
		inv.seen[bucket] = set
	}
	if _, ok := set[value]; ok {
		return false
	}
	set[value] = struct{}{}
	inv.values[bucket] = append(inv.values[bucket], value)
	return true
}

// Merge folds other into inv, preserving other's order for new values.
func (inv *Inventory) Merge(other *Inventory) {
	if other == nil {
		return
	}
	for _, b := range Buckets {
		for _, v := range other.values[b] {
			inv.Add(b, v)
		}
	}
}

// Values returns a copy of the values recorded under bucket.
func (inv *Inventory) Values(bucket Bucket) []string {
	if inv == nil {
		return nil
	}
	return append([]string(nil), inv.values[bucket]...)
}

// Contains reports whether value was recorded under bucket.
func (inv *Inventory) Contains(bucket Bucket, value string) bool {
	if inv == nil || inv.seen == nil {
		return false
	}
	_, ok := inv.seen[bucket][value]
	return ok
}

// Len returns the number of distinct values under bucket.
func (inv *Inventory) Len(bucket Bucket) int {
	if inv == nil {
		return 0
	}
	return len(inv.values[bucket])
}

// Empty reports whether nothing has been recorded.
func (inv *Inventory) Empty() bool {
	if inv == nil {
		return true
	}
	for _, b := range Buckets {
		if len(inv.values[b]) > 0 {
			return false
		}
	}
	return true
}

// Counts returns the number of distinct values per bucket. It is safe to log
// or return to clients because it carries no PHI.
func (inv *Inventory) Counts() map[string]int {
	out := make(map[string]int, len(Buckets))
	for _, b := range Buckets {
		out[string(b)] = inv.Len(b)
	}
	return out
}

// Map returns a copy of the inventory keyed by bucket name. Every bucket is
// present, with an empty slice when nothing was recorded.
func (inv *Inventory) Map() map[string][]string {
	out := make(map[string][]string, len(Buckets))
	for _, b := range Buckets {
		vals := inv.Values(b)
		if vals == nil {
			vals = []string{}
		}
		out[string(b)] = vals
	}
	return out
}

func (inv *Inventory) MarshalJSON() ([]byte, error) {
	return json.Marshal(inv.Map())
}

func (inv *Inventory) UnmarshalJSON(data []byte) error {
	var raw map[string][]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*inv = Inventory{}
	for _, b := range Buckets {
		for _, v := range raw[string(b)] {
			inv.Add(b, v)
		}
	}
	return nil
}

// MarshalYAML renders the inventory as a mapping with the buckets in report
// order. A plain map would come out sorted by key.
func (inv *Inventory) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, b := range Buckets {
		seq := &yaml.Node{Kind: yaml.SequenceNode}
		for _, v := range inv.Values(b) {
			seq.Content = append(seq.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v})
		}
		if len(seq.Content) == 0 {
			seq.Style = yaml.FlowStyle
		}
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: string(b)}, seq)
	}
	return node, nil
}

// cleanPersonName truncates a recognized person name at the first structural
// break: a line boundary or a trailing secondary label.
func cleanPersonName(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	for _, label := range personNameBreaks {
		if i := strings.Index(s, label); i >= 0 {
			s = s[:i]
		}
	}
	return s
}

var personNameBreaks = []string{" Sample", " Age"}

func (inv *Inventory) String() string {
	parts := make([]string, 0, len(Buckets))
	for _, b := range Buckets {
		parts = append(parts, fmt.Sprintf("%s=%d", b, inv.Len(b)))
	}
	return strings.Join(parts, " ")
}
