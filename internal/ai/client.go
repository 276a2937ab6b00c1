// Package ai is the generative-model client used to verify candidate
// neighbours and to title groups of signals. Every call path shares one
// Retrier.
package ai

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/steveyegge/sigtrend/internal/logging"
)

const (
	// ModelSonnet is the default model for verification and summaries
	ModelSonnet = "claude-sonnet-4-5-20250929"

	// ModelHaiku is the cost-efficient alternative
	ModelHaiku = "claude-3-5-haiku-20241022"

	defaultMaxTokens = 1024
)

// MessageRequest is a single-turn prompt.
type MessageRequest struct {
	Model     string
	System    string
	Prompt    string
	MaxTokens int
}

// MessageSender sends one prompt and returns the concatenated text of the
// response. Implementations must not retry; the Client does.
type MessageSender interface {
	Send(ctx context.Context, req MessageRequest) (string, error)
}

// AnthropicSender sends prompts through the Anthropic Messages API.
type AnthropicSender struct {
	client anthropic.Client
}

// NewAnthropicSender builds a sender. SDK-level retries are disabled so
// retry policy lives in one place.
func NewAnthropicSender(apiKey string, opts ...option.RequestOption) *AnthropicSender {
	opts = append([]option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}, opts...)
	return &AnthropicSender{client: anthropic.NewClient(opts...)}
}

func (s *AnthropicSender) Send(ctx context.Context, req MessageRequest) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(req.MaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	resp, err := s.client.Messages.New(ctx, params)
	if err != nil {
		return "", err
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return text, nil
}

// Config holds client configuration
type Config struct {
	APIKey    string      `yaml:"-"`          // Anthropic API key (if empty, reads ANTHROPIC_API_KEY)
	Model     string      `yaml:"model"`      // Default: ModelSonnet
	MaxTokens int         `yaml:"max_tokens"` // Default: 1024
	Retry     RetryConfig `yaml:"retry"`

	Logger *logging.Logger `yaml:"-"`
}

// DefaultConfig returns the default client configuration
func DefaultConfig() Config {
	return Config{
		Model:     ModelSonnet,
		MaxTokens: defaultMaxTokens,
		Retry:     DefaultRetryConfig(),
	}
}

// Client wraps a MessageSender with retries and the prompt/parse logic for
// verification and summaries.
type Client struct {
	sender    MessageSender
	model     string
	maxTokens int
	retrier   *Retrier
	logger    *logging.Logger
}

// NewClient creates a client. When sender is nil an AnthropicSender is built
// from cfg.APIKey or ANTHROPIC_API_KEY.
func NewClient(cfg Config, sender MessageSender) (*Client, error) {
	logger := logging.OrNop(cfg.Logger)

	if sender == nil {
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
			if apiKey == "" {
				return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
			}
		}
		sender = NewAnthropicSender(apiKey)
	}

	model := cfg.Model
	if model == "" {
		model = ModelSonnet
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	retry := cfg.Retry
	if retry.MaxAttempts == 0 {
		retry = DefaultRetryConfig()
	}
	retrier, err := NewRetrier(retry, logger)
	if err != nil {
		return nil, err
	}

	return &Client{
		sender:    sender,
		model:     model,
		maxTokens: maxTokens,
		retrier:   retrier,
		logger:    logger,
	}, nil
}

// Complete sends prompt with retries and returns the response text.
func (c *Client) Complete(ctx context.Context, operation, system, prompt string) (string, error) {
	start := time.Now()
	var text string
	err := c.retrier.Do(ctx, operation, func(attemptCtx context.Context) error {
		resp, sendErr := c.sender.Send(attemptCtx, MessageRequest{
			Model:     c.model,
			System:    system,
			Prompt:    prompt,
			MaxTokens: c.maxTokens,
		})
		if sendErr != nil {
			return sendErr
		}
		text = resp
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("model call failed: %w", err)
	}

	c.logger.Debug("model call complete",
		"operation", operation, "duration", time.Since(start), "response_chars", len(text))
	return text, nil
}
