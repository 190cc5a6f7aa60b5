// ABOUTME: Recommendation text completion behind a narrow Completer interface
// ABOUTME: Production client talks to any OpenAI-compatible chat completion endpoint

package recommend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

// ErrEmptyCompletion is returned when the service answers with no text.
var ErrEmptyCompletion = errors.New("recommender returned no text")

// Completer turns a prompt into text. Implementations must not retry.
type Completer interface {
	Complete(ctx context.Context, prompt string, maxTokens int) (string, error)
}

const systemPersona = "You are a friendly, well-read librarian. Answer with a short numbered list."

// Config holds the endpoint settings for OpenAIClient.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	// Timeout bounds one completion call. Zero means no extra bound.
	Timeout time.Duration
}

// OpenAIClient implements Completer with go-openai.
type OpenAIClient struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	logger  *slog.Logger
}

// NewOpenAIClient creates a client for the configured endpoint.
func NewOpenAIClient(cfg Config, logger *slog.Logger) (*OpenAIClient, error) {
	if cfg.Model == "" {
		return nil, errors.New("recommender model is required")
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	logger.Info("initializing recommendation client", "model", cfg.Model, "base_url", oc.BaseURL)
	return &OpenAIClient{
		client:  openai.NewClientWithConfig(oc),
		model:   cfg.Model,
		timeout: cfg.Timeout,
		logger:  logger,
	}, nil
}

// Complete implements Completer.
func (c *OpenAIClient) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPersona},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}
	if maxTokens > 0 {
		req.MaxTokens = maxTokens
	}

	c.logger.Debug("requesting recommendations", "model", c.model, "max_tokens", maxTokens)
	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyCompletion
	}

	c.logger.Debug("received recommendations", "finish_reason", resp.Choices[0].FinishReason)
	return text, nil
}

// Func adapts an ordinary function to Completer.
type Func func(ctx context.Context, prompt string, maxTokens int) (string, error)

// Complete implements Completer.
func (f Func) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	return f(ctx, prompt, maxTokens)
}
