// Package embedding converts signal text to float32 vectors via any
// OpenAI-compatible /v1/embeddings server.
//
// Usage:
//
//	emb, err := embedding.NewHTTPEmbedder(embedding.Config{
//	    Endpoint: "http://localhost:8003",
//	    Model:    "all-MiniLM-L6-v2",
//	})
//	gen := embedding.NewGenerator(embedding.NewCachedEmbedder(emb), 512)
//	vec, err := gen.Generate(ctx, "Customers ask for dark mode")
package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/steveyegge/sigtrend/internal/logging"
)

// Embedder converts text to vectors.
type Embedder interface {
	// Embed returns the embedding vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the vector dimension, or 0 if not yet detected.
	Dimension() int

	// Model returns the model name.
	Model() string
}

// Config configures the HTTP embedding client.
type Config struct {
	// Endpoint is the base URL of the embedding server (e.g. "http://localhost:8003").
	Endpoint string `yaml:"endpoint"`

	// Model is the model name sent in the request.
	Model string `yaml:"model"`

	// Dimension is the expected vector dimension. 0 means auto-detect on first call.
	Dimension int `yaml:"dimension"`

	// APIKey is sent as a bearer token when set.
	APIKey string `yaml:"api_key"`

	// Timeout per HTTP request. Default: 30s.
	Timeout time.Duration `yaml:"timeout"`

	// MaxChars is the truncation length applied before embedding, a proxy for
	// the model's token limit. Default: 512.
	MaxChars int `yaml:"max_chars"`

	// RateLimit caps requests per second to the embedding server. 0 means
	// unlimited.
	RateLimit float64 `yaml:"rate_limit"`

	// CacheSize bounds the in-memory cache. 0 disables caching.
	CacheSize int `yaml:"cache_size"`

	Logger *logging.Logger `yaml:"-"`
}

// DefaultMaxChars is the truncation length applied to signal text.
const DefaultMaxChars = 512

// DefaultConfig returns the default embedding configuration.
func DefaultConfig() Config {
	return Config{
		Endpoint:  "http://localhost:8003",
		Model:     "all-MiniLM-L6-v2",
		Timeout:   30 * time.Second,
		MaxChars:  DefaultMaxChars,
		CacheSize: 10000,
	}
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required")
	}
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.Dimension < 0 {
		return fmt.Errorf("dimension must be non-negative (got %d)", c.Dimension)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive (got %v)", c.Timeout)
	}
	if c.MaxChars <= 0 {
		return fmt.Errorf("max_chars must be positive (got %d)", c.MaxChars)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate_limit must be non-negative (got %v)", c.RateLimit)
	}
	if c.CacheSize < 0 {
		return fmt.Errorf("cache_size must be non-negative (got %d)", c.CacheSize)
	}
	return nil
}

// StatusError is returned when the embedding server answers with a non-200
// status.
type StatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

// IsFatal reports whether err means no further embedding call can succeed
// (bad credentials, wrong endpoint or model). Everything else is a per-item
// failure.
func IsFatal(err error) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	switch se.StatusCode {
	case 401, 403, 404:
		return true
	}
	return false
}
