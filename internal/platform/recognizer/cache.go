package recognizer

import (
	"container/list"
	"context"
	"crypto/sha256"
	"sync"

	"github.com/phigate/phigate/internal/platform/deid"
)

// Cached memoizes another recognizer's results keyed by a hash of the text.
// Table headers and boilerplate repeat across pages, so repeated units skip
// the sidecar round trip. Errors are never cached.
type Cached struct {
	next deid.Recognizer
	size int

	mu      sync.Mutex
	order   *list.List
	entries map[[sha256.Size]byte]*list.Element
	hits    uint64
	misses  uint64
}

type cacheEntry struct {
	key   [sha256.Size]byte
	spans []deid.Span
}

// NewCached wraps next with a cache of at most size entries. A size of zero
// or less returns next unchanged.
func NewCached(next deid.Recognizer, size int) deid.Recognizer {
	if size <= 0 {
		return next
	}
	return &Cached{
		next:    next,
		size:    size,
		order:   list.New(),
		entries: make(map[[sha256.Size]byte]*list.Element, size),
	}
}

func (c *Cached) Recognize(ctx context.Context, text string) ([]deid.Span, error) {
	key := sha256.Sum256([]byte(text))

	c.mu.Lock()
	if el, ok := c.entries[key]; ok {
		c.order.MoveToFront(el)
		c.hits++
		spans := append([]deid.Span(nil), el.Value.(*cacheEntry).spans...)
		c.mu.Unlock()
		return spans, nil
	}
	c.misses++
	c.mu.Unlock()

	spans, err := c.next.Recognize(ctx, text)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; !ok {
		c.entries[key] = c.order.PushFront(&cacheEntry{key: key, spans: append([]deid.Span(nil), spans...)})
		for c.order.Len() > c.size {
			oldest := c.order.Back()
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.(*cacheEntry).key)
		}
	}
	return spans, nil
}

// Stats returns cache hit and miss counts.
func (c *Cached) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// Load forwards to the wrapped recognizer when it has a lifecycle.
func (c *Cached) Load(ctx context.Context) error {
	if lc, ok := c.next.(deid.Lifecycle); ok {
		return lc.Load(ctx)
	}
	return nil
}

// Close forwards to the wrapped recognizer when it has a lifecycle.
func (c *Cached) Close() error {
	if lc, ok := c.next.(deid.Lifecycle); ok {
		return lc.Close()
	}
	return nil
}
