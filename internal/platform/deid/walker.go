package deid

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// WalkResult is a redacted document and its document-wide inventory.
type WalkResult struct {
	Document  *Document
	Inventory *Inventory

	// Units is the number of text units visited.
	Units int
	// Detections counts spans per category across all units.
	Detections map[Category]int
}

// Walker applies a Pipeline to every text unit of a Document.
type Walker struct {
	pipeline    *Pipeline
	concurrency int
}

// WalkerOption configures a Walker.
type WalkerOption func(*Walker)

// WithConcurrency processes up to n units at once. n <= 1 walks sequentially.
// Output is identical either way.
func WithConcurrency(n int) WalkerOption {
	return func(w *Walker) { w.concurrency = n }
}

// NewWalker returns a walker over p.
func NewWalker(p *Pipeline, opts ...WalkerOption) *Walker {
	w := &Walker{pipeline: p, concurrency: 1}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Policy returns the pipeline's overlap policy.
func (w *Walker) Policy() OverlapPolicy { return w.pipeline.Policy() }

// Walk redacts every text unit of doc and returns a new document. doc itself
// is not modified. Any unit failure fails the whole walk, and the error names
// the unit's location.
func (w *Walker) Walk(ctx context.Context, doc *Document) (*WalkResult, error) {
	out := doc.Clone()
	units := out.units()
	results := make([]*TextResult, len(units))

	if w.concurrency <= 1 {
		for i, u := range units {
			res, err := w.pipeline.DeidentifyText(ctx, u.text)
			if err != nil {
				return nil, fmt.Errorf("deidentify %s: %w", u.loc, err)
			}
			results[i] = res
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(w.concurrency)
		for i, u := range units {
			g.Go(func() error {
				res, err := w.pipeline.DeidentifyText(gctx, u.text)
				if err != nil {
					return fmt.Errorf("deidentify %s: %w", u.loc, err)
				}
				results[i] = res
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	inv := NewInventory()
	detections := make(map[Category]int)
	for i, u := range units {
		res := results[i]
		u.set(res.Text)
		inv.Merge(res.Inventory)
		for _, s := range res.Spans.spans {
			detections[s.Category]++
		}
	}
	return &WalkResult{
		Document:   out,
		Inventory:  inv,
		Units:      len(units),
		Detections: detections,
	}, nil
}
