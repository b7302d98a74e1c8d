package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

// OpenAIConfig configures an OpenAIClient.
type OpenAIConfig struct {
	// APIKey is the OpenAI API authentication key (required).
	APIKey string

	// BaseURL overrides the default OpenAI API base URL, for
	// OpenAI-compatible endpoints.
	BaseURL string

	// DefaultModel is used when a Request doesn't specify one.
	DefaultModel string

	// MaxRetries sets the maximum retry attempts for transient failures.
	MaxRetries int

	// RetryDelay sets the base delay between retry attempts.
	RetryDelay time.Duration

	// Timeout bounds a single request's wall-clock time.
	Timeout time.Duration
}

// OpenAIClient is a Client backed by the OpenAI Chat Completions API.
// It serves as the alternate backend for the "LLM endpoint URL" config
// knob, selectable in place of AnthropicClient without changing the
// Planner/Critic code that consumes the Client interface.
type OpenAIClient struct {
	BaseProvider

	client       *openai.Client
	defaultModel string
	timeout      time.Duration
}

// NewOpenAIClient creates an OpenAIClient from config.
func NewOpenAIClient(config OpenAIConfig) (*OpenAIClient, error) {
	if strings.TrimSpace(config.APIKey) == "" {
		return nil, errors.New("llm: openai API key is required")
	}
	if config.DefaultModel == "" {
		config.DefaultModel = "gpt-4o"
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}

	cfg := openai.DefaultConfig(config.APIKey)
	if strings.TrimSpace(config.BaseURL) != "" {
		cfg.BaseURL = config.BaseURL
	}

	return &OpenAIClient{
		BaseProvider: NewBaseProvider("openai", config.MaxRetries, config.RetryDelay),
		client:       openai.NewClientWithConfig(cfg),
		defaultModel: config.DefaultModel,
		timeout:      config.Timeout,
	}, nil
}

// Name identifies this backend for logging/metrics.
func (c *OpenAIClient) Name() string { return "openai" }

// Complete sends a single chat completion request and returns the first
// choice's message content.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (string, error) {
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

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	var text string
	err := c.Retry(ctx, isRetryableOpenAIError, func() error {
		resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       model,
			Messages:    messages,
			MaxTokens:   maxTokens,
			Temperature: float32(req.Temperature),
		})
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return errors.New("openai: empty response")
		}
		text = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("openai completion: %w", err)
	}
	return text, nil
}

func isRetryableOpenAIError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode == 408 {
			return true
		}
		return apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	return errors.As(err, &reqErr)
}
