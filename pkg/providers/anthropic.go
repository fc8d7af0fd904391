package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bulwarkhq/bulwark/pkg/errors"
)

const (
	// anthropicBaseURL is the default Anthropic API endpoint
	anthropicBaseURL = "https://api.anthropic.com"

	// anthropicAPIVersion is the Anthropic API version header value
	anthropicAPIVersion = "2023-06-01"

	// DefaultAnthropicModel is used when no model is named
	DefaultAnthropicModel = "claude-sonnet-4-20250514"

	defaultAnthropicMaxTokens = 4096
)

// HTTPClient is an interface for HTTP client operations (enables testing)
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// AnthropicProvider adapts the Anthropic messages API to the Provider
// capability.
type AnthropicProvider struct {
	id      string
	apiKey  string
	baseURL string
	model   string
	client  HTTPClient
}

// AnthropicConfig contains configuration for the Anthropic provider
type AnthropicConfig struct {
	ID      string        // Provider id, defaults to "anthropic"
	APIKey  string        // Required
	Model   string        // Optional default model
	BaseURL string        // Optional API base override
	Timeout time.Duration // Optional HTTP timeout (default 120s)
	Client  HTTPClient    // Optional client override, for tests
}

// NewAnthropicProvider creates a new Anthropic provider adapter
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.NewConfigurationError("anthropic API key is required")
	}
	if cfg.ID == "" {
		cfg.ID = "anthropic"
	}
	if cfg.Model == "" {
		cfg.Model = DefaultAnthropicModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = anthropicBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: cfg.Timeout}
	}

	return &AnthropicProvider{
		id:      cfg.ID,
		apiKey:  cfg.APIKey,
		baseURL: cfg.BaseURL,
		model:   cfg.Model,
		client:  cfg.Client,
	}, nil
}

// ID returns the provider id
func (p *AnthropicProvider) ID() string {
	return p.id
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	Temperature *float64           `json:"temperature,omitempty"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Model string `json:"model"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Execute satisfies one text request via the messages API
func (p *AnthropicProvider) Execute(ctx context.Context, req Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	body := anthropicRequest{
		Model:     model,
		MaxTokens: maxTokens,
		System:    req.SystemPrompt,
		Messages: []anthropicMessage{
			{Role: "user", Content: req.Prompt},
		},
	}
	if req.Temperature > 0 {
		body.Temperature = &req.Temperature
	}

	start := time.Now()
	parsed, err := p.post(ctx, body)
	if err != nil {
		return nil, err
	}

	text := ""
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	return &Response{
		Text:  text,
		Model: parsed.Model,
		Usage: Usage{
			InputTokens:  parsed.Usage.InputTokens,
			OutputTokens: parsed.Usage.OutputTokens,
			TotalTokens:  parsed.Usage.InputTokens + parsed.Usage.OutputTokens,
		},
		Latency: time.Since(start),
	}, nil
}

// Probe issues a minimal one-token message as a representative call
func (p *AnthropicProvider) Probe(ctx context.Context) error {
	_, err := p.post(ctx, anthropicRequest{
		Model:     p.model,
		MaxTokens: 1,
		Messages: []anthropicMessage{
			{Role: "user", Content: "ping"},
		},
	})
	return err
}

func (p *AnthropicProvider) post(ctx context.Context, body anthropicRequest) (*anthropicResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errors.NewInternalError("failed to encode anthropic request").WithCause(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, errors.NewInternalError("failed to build anthropic request").WithCause(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errors.NewTimeoutError("anthropic request").WithCause(err)
		}
		return nil, errors.NewExternalError("anthropic", "request failed").WithCause(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.NewExternalError("anthropic", "failed to read response").WithCause(err)
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, errors.NewExternalError("anthropic", fmt.Sprintf("unexpected response (status %d)", resp.StatusCode)).WithCause(err)
	}

	if resp.StatusCode != http.StatusOK {
		message := fmt.Sprintf("API returned status %d", resp.StatusCode)
		if parsed.Error != nil {
			message = fmt.Sprintf("%s: %s", parsed.Error.Type, parsed.Error.Message)
		}
		return nil, errors.NewExternalError("anthropic", message)
	}

	return &parsed, nil
}
