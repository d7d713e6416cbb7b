// Package summarizer is the client for the external summarization service
// that turns a released, redacted document into a patient-readable summary.
// Only redacted text is ever sent.
package summarizer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ErrSummarizer wraps every failure reported by the summarization service.
var ErrSummarizer = errors.New("summarizer failed")

// Summarizer produces a summary of redacted text.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

// Config configures a Client.
type Config struct {
	BaseURL string
	Timeout time.Duration
	// Attempts is how many times a transient failure (transport error or 5xx)
	// is tried before giving up. Defaults to 3.
	Attempts   int
	HTTPClient *http.Client
}

// Client calls POST {BaseURL}/summarize. It is safe for concurrent use.
type Client struct {
	url      string
	http     *http.Client
	timeout  time.Duration
	attempts int
	backoff  time.Duration
	logger   zerolog.Logger
}

// New creates a client for the service at cfg.BaseURL.
func New(cfg Config, logger zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	attempts := cfg.Attempts
	if attempts < 1 {
		attempts = 3
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &Client{
		url:      strings.TrimRight(cfg.BaseURL, "/") + "/summarize",
		http:     client,
		timeout:  timeout,
		attempts: attempts,
		backoff:  250 * time.Millisecond,
		logger:   logger.With().Str("component", "summarizer").Logger(),
	}
}

type summarizeRequest struct {
	Text string `json:"text"`
}

type summarizeResponse struct {
	Summary string `json:"summary"`
}

// permanentError marks a failure that retrying cannot fix.
type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Summarize returns the service's summary of text. Empty text yields an empty
// summary without a call.
func (c *Client) Summarize(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}
	body, err := json.Marshal(summarizeRequest{Text: text})
	if err != nil {
		return "", fmt.Errorf("%w: marshal: %w", ErrSummarizer, err)
	}

	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		summary, err := c.call(ctx, body)
		if err == nil {
			return summary, nil
		}
		lastErr = err
		var perm permanentError
		if errors.As(err, &perm) || ctx.Err() != nil {
			break
		}
		if attempt < c.attempts {
			c.logger.Warn().Err(err).Int("attempt", attempt).Msg("summarizer call failed, retrying")
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("%w: %w", ErrSummarizer, ctx.Err())
			case <-time.After(c.backoff * time.Duration(attempt)):
			}
		}
	}
	return "", fmt.Errorf("%w: %w", ErrSummarizer, lastErr)
}

func (c *Client) call(ctx context.Context, body []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", permanentError{fmt.Errorf("request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		err := fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
		if resp.StatusCode < 500 {
			return "", permanentError{err}
		}
		return "", err
	}

	var out summarizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", permanentError{fmt.Errorf("decode: %w", err)}
	}
	return out.Summary, nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}
