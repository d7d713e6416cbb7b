// Package recognizer provides entity recognizer adapters for the deid
// pipeline: an HTTP client for an NER sidecar, a result cache, and a no-op
// recognizer for development.
package recognizer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/phigate/phigate/internal/platform/deid"
)

// OffsetUnit says how the sidecar counts offsets.
type OffsetUnit string

const (
	// OffsetRunes is the default: offsets count Unicode code points, as spaCy
	// reports them.
	OffsetRunes OffsetUnit = "rune"
	OffsetBytes OffsetUnit = "byte"
)

// ParseOffsetUnit accepts "rune" (or "") and "byte".
func ParseOffsetUnit(s string) (OffsetUnit, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "rune", "runes", "char":
		return OffsetRunes, nil
	case "byte", "bytes":
		return OffsetBytes, nil
	}
	return "", fmt.Errorf("unknown recognizer offset unit %q", s)
}

// labelCategories maps sidecar labels onto PHI categories. Labels not listed
// (ORG, NORP, MONEY, ...) are not PHI and are dropped.
var labelCategories = map[string]deid.Category{
	"PERSON": deid.CategoryPerson,
	"PER":    deid.CategoryPerson,
	"GPE":    deid.CategoryLocation,
	"LOC":    deid.CategoryLocation,
	"DATE":   deid.CategoryDate,
}

// SidecarConfig configures a Sidecar.
type SidecarConfig struct {
	BaseURL    string
	Timeout    time.Duration
	OffsetUnit OffsetUnit
	HTTPClient *http.Client
}

// Sidecar calls an NER sidecar's /recognize endpoint. It is safe for
// concurrent use.
type Sidecar struct {
	url     string
	health  string
	unit    OffsetUnit
	http    *http.Client
	timeout time.Duration
	logger  zerolog.Logger
}

// NewSidecar creates a client for the sidecar at cfg.BaseURL
// (e.g. "http://ner:8001").
func NewSidecar(cfg SidecarConfig, logger zerolog.Logger) *Sidecar {
	base := strings.TrimRight(cfg.BaseURL, "/")
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	unit := cfg.OffsetUnit
	if unit == "" {
		unit = OffsetRunes
	}
	return &Sidecar{
		url:     base + "/recognize",
		health:  base + "/health",
		unit:    unit,
		http:    client,
		timeout: timeout,
		logger:  logger.With().Str("component", "ner-sidecar").Logger(),
	}
}

type recognizeRequest struct {
	Text string `json:"text"`
}

type recognizeResponse struct {
	Entities []sidecarEntity `json:"entities"`
}

type sidecarEntity struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Label string `json:"label"`
	Text  string `json:"text,omitempty"`
}

// Load checks that the sidecar is up and its model is ready.
func (s *Sidecar) Load(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.health, nil)
	if err != nil {
		return fmt.Errorf("ner: health request: %w", err)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("ner: sidecar unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ner: sidecar not ready: status %d", resp.StatusCode)
	}
	s.logger.Info().Str("url", s.url).Str("offset_unit", string(s.unit)).Msg("NER sidecar ready")
	return nil
}

// Close releases idle connections.
func (s *Sidecar) Close() error {
	s.http.CloseIdleConnections()
	return nil
}

// Recognize sends text to the sidecar and returns PHI spans in byte offsets.
// Transport failures, non-200 responses and undecodable bodies are errors.
func (s *Sidecar) Recognize(ctx context.Context, text string) ([]deid.Span, error) {
	body, err := json.Marshal(recognizeRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("ner: marshal: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ner: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ner: sidecar unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("ner: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var result recognizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("ner: decode: %w", err)
	}
	return s.toSpans(text, result.Entities)
}

func (s *Sidecar) toSpans(text string, entities []sidecarEntity) ([]deid.Span, error) {
	var offsets []int
	if s.unit == OffsetRunes {
		offsets = runeOffsets(text)
	}

	spans := make([]deid.Span, 0, len(entities))
	dropped := 0
	for _, e := range entities {
		cat, ok := labelCategories[strings.ToUpper(e.Label)]
		if !ok {
			dropped++
			continue
		}
		start, end := e.Start, e.End
		if offsets != nil {
			if start < 0 || end < start || end >= len(offsets) {
				return nil, fmt.Errorf("ner: %w: %s[%d:%d] outside text of %d runes",
					deid.ErrInvalidSpan, e.Label, e.Start, e.End, len(offsets)-1)
			}
			start, end = offsets[start], offsets[end]
		}
		spans = append(spans, deid.Span{Start: start, End: end, Category: cat})
	}
	if dropped > 0 {
		s.logger.Debug().Int("dropped", dropped).Int("kept", len(spans)).Msg("non-PHI entities dropped")
	}
	return spans, nil
}

// runeOffsets maps a rune index to its byte offset; the final element is
// len(text) so an exclusive end index converts too.
func runeOffsets(text string) []int {
	out := make([]int, 0, utf8.RuneCountInString(text)+1)
	for i := range text {
		out = append(out, i)
	}
	return append(out, len(text))
}
