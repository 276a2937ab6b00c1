package embedding

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"io"
	"sync"
)

// CachedEmbedder memoizes vectors keyed by sha1(model|text). Embedding
// providers are deterministic for a given model and input, so a cached vector
// is always valid. When the cache is full the oldest entry is evicted.
type CachedEmbedder struct {
	inner Embedder
	limit int

	mu    sync.RWMutex
	cache map[string][]float32
	order []string // insertion order, oldest first
}

// NewCachedEmbedder wraps inner with a cache of at most limit entries.
func NewCachedEmbedder(inner Embedder, limit int) *CachedEmbedder {
	return &CachedEmbedder{
		inner: inner,
		limit: limit,
		cache: make(map[string][]float32),
	}
}

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.cacheKey(text)

	c.mu.RLock()
	vec, ok := c.cache[key]
	c.mu.RUnlock()
	if ok {
		return cloneVector(vec), nil
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	c.store(key, vec)
	return vec, nil
}

// Len returns the number of cached vectors.
func (c *CachedEmbedder) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}

func (c *CachedEmbedder) store(key string, vec []float32) {
	if c.limit <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.cache[key]; ok {
		return
	}
	for len(c.order) >= c.limit {
		delete(c.cache, c.order[0])
		c.order = c.order[1:]
	}
	c.cache[key] = cloneVector(vec)
	c.order = append(c.order, key)
}

func (c *CachedEmbedder) Dimension() int { return c.inner.Dimension() }
func (c *CachedEmbedder) Model() string  { return c.inner.Model() }

func (c *CachedEmbedder) cacheKey(text string) string {
	h := sha1.New()
	_, _ = io.WriteString(h, c.inner.Model())
	_, _ = io.WriteString(h, "|")
	_, _ = io.WriteString(h, text)
	return hex.EncodeToString(h.Sum(nil))
}

func cloneVector(v []float32) []float32 {
	if v == nil {
		return nil
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
