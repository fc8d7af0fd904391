// Package providers defines the upstream model-provider capability and
// the concrete adapters the failover layer routes between. Providers are
// interchangeable: anything that can satisfy a text request behind an
// endpoint key.
package providers

import (
	"context"
	"time"
)

// Request is a text request for an upstream model provider.
type Request struct {
	Prompt       string            `json:"prompt"`
	SystemPrompt string            `json:"system_prompt,omitempty"`
	Model        string            `json:"model,omitempty"`
	MaxTokens    int               `json:"max_tokens,omitempty"`
	Temperature  float64           `json:"temperature,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Usage contains token usage statistics reported by the provider.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Response is the provider's answer plus usage metadata.
type Response struct {
	Text    string        `json:"text"`
	Model   string        `json:"model"`
	Usage   Usage         `json:"usage"`
	Latency time.Duration `json:"latency"`
}

// Provider is an interchangeable upstream capability. Implementations
// must be safe for concurrent use.
type Provider interface {
	// ID returns the unique identifier used for routing and health
	// records, e.g. "openai-primary".
	ID() string

	// Execute satisfies one request. The context carries the timeout.
	Execute(ctx context.Context, req Request) (*Response, error)

	// Probe is a cheap representative call used to assess usability.
	Probe(ctx context.Context) error
}
