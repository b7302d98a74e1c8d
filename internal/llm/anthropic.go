package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicConfig configures an AnthropicClient.
type AnthropicConfig struct {
	// APIKey is the Anthropic API authentication key (required).
	APIKey string

	// BaseURL overrides the default Anthropic API base URL.
	BaseURL string

	// DefaultModel is used when a Request doesn't specify one.
	// Default: "claude-sonnet-4-20250514"
	DefaultModel string

	// MaxRetries sets the maximum retry attempts for transient failures.
	// Default: 3
	MaxRetries int

	// RetryDelay sets the base delay between retry attempts.
	// Default: 1 second
	RetryDelay time.Duration

	// Timeout bounds a single request's wall-clock time.
	// Default: 60 seconds
	Timeout time.Duration
}

// AnthropicClient is a Client backed by the Anthropic Messages API.
type AnthropicClient struct {
	BaseProvider

	client       anthropic.Client
	defaultModel string
	timeout      time.Duration
}

// NewAnthropicClient creates an AnthropicClient from config, applying
// defaults for optional fields and validating the API key is present.
func NewAnthropicClient(config AnthropicConfig) (*AnthropicClient, error) {
	if strings.TrimSpace(config.APIKey) == "" {
		return nil, errors.New("llm: anthropic API key is required")
	}
	if config.DefaultModel == "" {
		config.DefaultModel = "claude-sonnet-4-20250514"
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}

	opts := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if strings.TrimSpace(config.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	return &AnthropicClient{
		BaseProvider: NewBaseProvider("anthropic", config.MaxRetries, config.RetryDelay),
		client:       anthropic.NewClient(opts...),
		defaultModel: config.DefaultModel,
		timeout:      config.Timeout,
	}, nil
}

// Name identifies this backend for logging/metrics.
func (c *AnthropicClient) Name() string { return "anthropic" }

// Complete sends a single non-streaming message and returns the
// concatenated text content of the response.
func (c *AnthropicClient) Complete(ctx context.Context, req Request) (string, error) {
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var text string
	err := c.Retry(ctx, isRetryableAnthropicError, func() error {
		params := anthropic.MessageNewParams{
			Model:     anthropic.Model(model),
			MaxTokens: int64(maxTokens),
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
			},
		}
		if req.System != "" {
			params.System = []anthropic.TextBlockParam{{Text: req.System}}
		}
		if req.Temperature > 0 {
			params.Temperature = anthropic.Float(req.Temperature)
		}

		msg, err := c.client.Messages.New(ctx, params)
		if err != nil {
			return err
		}

		var b strings.Builder
		for _, block := range msg.Content {
			if block.Type == "text" {
				b.WriteString(block.Text)
			}
		}
		text = b.String()
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("anthropic completion: %w", err)
	}
	return text, nil
}

func isRetryableAnthropicError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusTooManyRequests, http.StatusRequestTimeout:
			return true
		}
		return apiErr.StatusCode >= 500
	}
	return false
}
