package providers

import (
	"context"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/bulwarkhq/bulwark/pkg/errors"
)

// DefaultOpenAIModel is used when neither the request nor the adapter
// names a model.
const DefaultOpenAIModel = "gpt-4o-mini"

// OpenAIProvider adapts the OpenAI chat completion API to the Provider
// capability.
type OpenAIProvider struct {
	id     string
	client *openai.Client
	model  string
}

// OpenAIConfig contains configuration for the OpenAI provider
type OpenAIConfig struct {
	ID      string // Provider id, defaults to "openai"
	APIKey  string // Required
	Model   string // Optional default model
	BaseURL string // Optional API base override
}

// NewOpenAIProvider creates a new OpenAI provider adapter
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.NewConfigurationError("openai API key is required")
	}
	if cfg.ID == "" {
		cfg.ID = "openai"
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return &OpenAIProvider{
		id:     cfg.ID,
		client: openai.NewClientWithConfig(clientConfig),
		model:  cfg.Model,
	}, nil
}

// ID returns the provider id
func (p *OpenAIProvider) ID() string {
	return p.id
}

// Execute satisfies one text request via the chat completions API
func (p *OpenAIProvider) Execute(ctx context.Context, req Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	start := time.Now()
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
	})
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errors.NewTimeoutError("openai completion").WithCause(err)
		}
		return nil, errors.NewExternalError("openai", "completion request failed").WithCause(err)
	}

	if len(resp.Choices) == 0 {
		return nil, errors.NewExternalError("openai", "completion returned no choices")
	}

	return &Response{
		Text:  resp.Choices[0].Message.Content,
		Model: resp.Model,
		Usage: Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
		Latency: time.Since(start),
	}, nil
}

// Probe lists models as a cheap authenticated connectivity check
func (p *OpenAIProvider) Probe(ctx context.Context) error {
	if _, err := p.client.ListModels(ctx); err != nil {
		return errors.NewExternalError("openai", "model list probe failed").WithCause(err)
	}
	return nil
}
