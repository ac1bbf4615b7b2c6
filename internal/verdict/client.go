package verdict

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
)

// Completer is the generative judgment service boundary. The production
// implementation talks to an OpenAI-compatible chat endpoint; tests
// substitute a canned one.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// ClientConfig configures the judgment service client.
type ClientConfig struct {
	// BaseURL is the OpenAI-compatible API root.
	BaseURL string `koanf:"base_url"`

	// Model is the chat model used for judgments.
	Model string `koanf:"model"`

	// APIKey authenticates against the service.
	APIKey string `koanf:"api_key"`

	// Temperature is the sampling temperature for rulings.
	Temperature float64 `koanf:"temperature"`
}

// ClientConfigFromEnv creates a ClientConfig from environment variables.
//
// Environment variables:
//   - JUDGMENT_BASE_URL: API root (default: https://api.openai.com/v1)
//   - JUDGMENT_MODEL: model name (default: gpt-4o-mini)
//   - OPENAI_API_KEY: API key
func ClientConfigFromEnv() ClientConfig {
	baseURL := os.Getenv("JUDGMENT_BASE_URL")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	model := os.Getenv("JUDGMENT_MODEL")
	if model == "" {
		model = "gpt-4o-mini"
	}

	return ClientConfig{
		BaseURL:     baseURL,
		Model:       model,
		APIKey:      os.Getenv("OPENAI_API_KEY"),
		Temperature: 0.7,
	}
}

// Client is the langchaingo-backed Completer.
type Client struct {
	llm         *openai.LLM
	temperature float64
}

// NewClient creates a judgment service client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Model == "" {
		return nil, errors.New("judgment model is required")
	}

	opts := []openai.Option{
		openai.WithModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	if cfg.APIKey != "" {
		opts = append(opts, openai.WithToken(cfg.APIKey))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create judgment client: %w", err)
	}

	return &Client{llm: llm, temperature: cfg.Temperature}, nil
}

// Complete sends one system+user exchange and returns the raw response
// text. Transport failures come back as ErrServiceUnavailable.
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	resp, err := c.llm.GenerateContent(ctx,
		[]llms.MessageContent{
			llms.TextParts(schema.ChatMessageTypeSystem, system),
			llms.TextParts(schema.ChatMessageTypeHuman, user),
		},
		llms.WithTemperature(c.temperature),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty response", ErrServiceUnavailable)
	}
	return resp.Choices[0].Content, nil
}
