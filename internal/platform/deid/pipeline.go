package deid

import (
	"context"
	"errors"
	"fmt"
)

// Recognizer finds context-dependent entities (person names, locations, dates)
// in a text unit. Spans must use byte offsets of the text passed in, must not
// overlap each other, and must carry a recognizable category.
type Recognizer interface {
	Recognize(ctx context.Context, text string) ([]Span, error)
}

// Lifecycle is implemented by recognizers that own resources such as a model
// handle or a connection to a sidecar.
type Lifecycle interface {
	Load(ctx context.Context) error
	Close() error
}

// RecognizerFunc adapts a function to the Recognizer interface.
type RecognizerFunc func(ctx context.Context, text string) ([]Span, error)

func (f RecognizerFunc) Recognize(ctx context.Context, text string) ([]Span, error) {
	return f(ctx, text)
}

// TextResult is the outcome of de-identifying one text unit.
type TextResult struct {
	Text      string
	Spans     SpanSet
	Inventory *Inventory
}

// Pipeline runs recognition, pattern matching, reconciliation and redaction
// over a single text unit. It holds no per-call state and may be shared.
type Pipeline struct {
	recognizer Recognizer
	matcher    *Matcher
	policy     OverlapPolicy
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithMatcher replaces the default pattern registry.
func WithMatcher(m *Matcher) Option {
	return func(p *Pipeline) { p.matcher = m }
}

// WithOverlapPolicy sets how overlapping spans are redacted.
func WithOverlapPolicy(policy OverlapPolicy) Option {
	return func(p *Pipeline) { p.policy = policy }
}

// NewPipeline creates a pipeline around r.
func NewPipeline(r Recognizer, opts ...Option) (*Pipeline, error) {
	if r == nil {
		return nil, errors.New("deid: recognizer is required")
	}
	p := &Pipeline{recognizer: r, policy: OverlapNested}
	for _, opt := range opts {
		opt(p)
	}
	if p.matcher == nil {
		p.matcher = DefaultMatcher()
	}
	return p, nil
}

// Policy returns the configured overlap policy.
func (p *Pipeline) Policy() OverlapPolicy { return p.policy }

// DeidentifyText redacts one text unit. An empty unit short-circuits without
// calling the recognizer. A recognizer error or an invalid recognizer span
// fails the unit; no partially redacted text is returned.
func (p *Pipeline) DeidentifyText(ctx context.Context, text string) (*TextResult, error) {
	if text == "" {
		return &TextResult{Inventory: NewInventory()}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	recognized, err := p.recognizer.Recognize(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRecognizer, err)
	}
	if err := ValidateRecognized(text, recognized); err != nil {
		return nil, err
	}
	matched := p.matcher.Match(text)

	set := Reconcile(recognized, matched, p.policy)
	redacted, err := Redact(text, set)
	if err != nil {
		return nil, err
	}
	return &TextResult{
		Text:      redacted,
		Spans:     set,
		Inventory: collectInventory(text, recognized, matched),
	}, nil
}
