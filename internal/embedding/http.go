package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/steveyegge/sigtrend/internal/logging"
)

// HTTPEmbedder implements Embedder using the OpenAI /v1/embeddings API
// format (vLLM, Ollama, text-embeddings-inference, OpenAI itself).
type HTTPEmbedder struct {
	endpoint string
	model    string
	apiKey   string
	client   *http.Client
	limiter  *rate.Limiter // nil when unlimited
	logger   *logging.Logger

	mu  sync.Mutex // protects dim on first call
	dim int
}

// NewHTTPEmbedder validates cfg and builds a client.
func NewHTTPEmbedder(cfg Config) (*HTTPEmbedder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid embedding config: %w", err)
	}
	e := &HTTPEmbedder{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		model:    cfg.Model,
		apiKey:   cfg.APIKey,
		dim:      cfg.Dimension,
		client:   &http.Client{Timeout: cfg.Timeout},
		logger:   logging.OrNop(cfg.Logger),
	}
	if cfg.RateLimit > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return e, nil
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
}

// Embed returns the vector for a single text.
func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	body, err := json.Marshal(embedRequest{Model: e.model, Input: []string{text}})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := e.endpoint + "/v1/embeddings"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP POST %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{StatusCode: resp.StatusCode, URL: url, Body: string(respBody)}
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(result.Data) == 0 {
		return nil, fmt.Errorf("no embeddings returned from %s", url)
	}
	vec := result.Data[0].Embedding

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dim == 0 && len(vec) > 0 {
		e.dim = len(vec)
		e.logger.Info("auto-detected embedding dimension", "dimension", e.dim, "model", result.Model)
	}
	if len(vec) != e.dim {
		return nil, fmt.Errorf("%w: got %d dimensions, want %d", ErrInvalidVector, len(vec), e.dim)
	}
	return vec, nil
}

func (e *HTTPEmbedder) Dimension() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dim
}

func (e *HTTPEmbedder) Model() string { return e.model }
