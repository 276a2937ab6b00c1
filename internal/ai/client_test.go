package ai

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedSender returns queued responses/errors in order, repeating the
// last one when the script runs out.
type scriptedSender struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	requests  []MessageRequest
}

func (s *scriptedSender) Send(_ context.Context, req MessageRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := len(s.requests)
	s.requests = append(s.requests, req)

	var err error
	if len(s.errs) > 0 {
		err = s.errs[min(i, len(s.errs)-1)]
	}
	if err != nil {
		return "", err
	}
	if len(s.responses) == 0 {
		return "", nil
	}
	return s.responses[min(i, len(s.responses)-1)], nil
}

func (s *scriptedSender) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func newTestClient(t *testing.T, sender MessageSender) *Client {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Retry.BaseBackoff = time.Millisecond
	cfg.Retry.MaxBackoff = 5 * time.Millisecond
	cfg.Retry.MaxJitter = 0
	c, err := NewClient(cfg, sender)
	require.NoError(t, err)
	return c
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	_, err := NewClient(DefaultConfig(), nil)
	assert.Error(t, err)

	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	c, err := NewClient(DefaultConfig(), nil)
	require.NoError(t, err)
	assert.IsType(t, &AnthropicSender{}, c.sender)
}

func TestCompleteRetriesRateLimit(t *testing.T) {
	sender := &scriptedSender{
		errs:      []error{newAPIError(http.StatusTooManyRequests, map[string]string{"Retry-After": "0"}), nil},
		responses: []string{"", "ok"},
	}
	c := newTestClient(t, sender)

	text, err := c.Complete(context.Background(), "test", "", "hello")
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.Equal(t, 2, sender.calls())
	assert.Equal(t, ModelSonnet, sender.requests[0].Model)
	assert.Equal(t, defaultMaxTokens, sender.requests[0].MaxTokens)
}
