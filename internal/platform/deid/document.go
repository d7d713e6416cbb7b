package deid

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ErrNotObject is returned when a document's JSON root is not an object.
var ErrNotObject = errors.New("document root must be a JSON object")

// Document is an extracted document: an optional top-level "text", ordered
// "pages" (each with optional "text" and "tables"), and optional root
// "tables". A table's "data" is a grid of cells; string cells are text units,
// every other cell is opaque.
//
// The tree is kept as decoded JSON so unknown keys, numeric precision and
// malformed optional fields survive a round trip untouched.
type Document struct {
	root map[string]any
}

// ParseDocument decodes a JSON document.
func ParseDocument(data []byte) (*Document, error) {
	d := &Document{}
	if err := d.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return d, nil
}

// ReadDocument decodes a JSON document from r.
func ReadDocument(r io.Reader) (*Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	return ParseDocument(data)
}

// NewTextDocument returns a document holding only a top-level text field.
func NewTextDocument(text string) *Document {
	return &Document{root: map[string]any{"text": text}}
}

func (d *Document) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	root, ok := v.(map[string]any)
	if !ok {
		return ErrNotObject
	}
	d.root = root
	return nil
}

func (d *Document) MarshalJSON() ([]byte, error) {
	if d == nil || d.root == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(d.root)
}

// Text returns the top-level text, or "" when absent or not a string.
func (d *Document) Text() string {
	s, _ := d.root["text"].(string)
	return s
}

// Clone returns a deep copy of d.
func (d *Document) Clone() *Document {
	if d == nil || d.root == nil {
		return &Document{root: map[string]any{}}
	}
	return &Document{root: cloneValue(d.root).(map[string]any)}
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = cloneValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// textUnit is one string field of the tree, addressed by location.
type textUnit struct {
	loc  string
	text string
	set  func(string)
}

// units enumerates every text unit of d in document order: top-level text,
// then each page's text followed by its table cells, then root table cells.
// Anything with an unexpected shape is skipped.
func (d *Document) units() []textUnit {
	var out []textUnit
	if s, ok := d.root["text"].(string); ok {
		out = append(out, textUnit{loc: "text", text: s, set: func(v string) { d.root["text"] = v }})
	}
	if pages, ok := d.root["pages"].([]any); ok {
		for i, p := range pages {
			page, ok := p.(map[string]any)
			if !ok {
				continue
			}
			prefix := fmt.Sprintf("pages[%d]", i)
			if s, ok := page["text"].(string); ok {
				out = append(out, textUnit{loc: prefix + ".text", text: s, set: func(v string) { page["text"] = v }})
			}
			out = appendTableUnits(out, prefix+".", page["tables"])
		}
	}
	return appendTableUnits(out, "", d.root["tables"])
}

func appendTableUnits(out []textUnit, prefix string, v any) []textUnit {
	tables, ok := v.([]any)
	if !ok {
		return out
	}
	for j, t := range tables {
		table, ok := t.(map[string]any)
		if !ok {
			continue
		}
		rows, ok := table["data"].([]any)
		if !ok {
			continue
		}
		for r, rv := range rows {
			row, ok := rv.([]any)
			if !ok {
				continue
			}
			for c, cv := range row {
				s, ok := cv.(string)
				if !ok {
					continue
				}
				out = append(out, textUnit{
					loc:  fmt.Sprintf("%stables[%d].data[%d][%d]", prefix, j, r, c),
					text: s,
					set:  func(v string) { row[c] = v },
				})
			}
		}
	}
	return out
}
