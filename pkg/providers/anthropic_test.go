package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bulwarkhq/bulwark/pkg/errors"
)

// scriptedClient replays canned HTTP responses and records the requests.
type scriptedClient struct {
	status   int
	body     string
	err      error
	requests []*http.Request
	payloads []anthropicRequest
}

func (c *scriptedClient) Do(req *http.Request) (*http.Response, error) {
	c.requests = append(c.requests, req)
	if req.Body != nil {
		raw, _ := io.ReadAll(req.Body)
		var parsed anthropicRequest
		_ = json.Unmarshal(raw, &parsed)
		c.payloads = append(c.payloads, parsed)
	}
	if c.err != nil {
		return nil, c.err
	}
	return &http.Response{
		StatusCode: c.status,
		Body:       io.NopCloser(bytes.NewBufferString(c.body)),
	}, nil
}

func newAnthropicWithClient(t *testing.T, client HTTPClient) *AnthropicProvider {
	t.Helper()
	p, err := NewAnthropicProvider(AnthropicConfig{
		APIKey: "test-key",
		Client: client,
	})
	require.NoError(t, err)
	return p
}

func TestNewAnthropicProviderRequiresAPIKey(t *testing.T) {
	_, err := NewAnthropicProvider(AnthropicConfig{})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfiguration))
}

func TestNewAnthropicProviderDefaults(t *testing.T) {
	p, err := NewAnthropicProvider(AnthropicConfig{APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "anthropic", p.ID())
	assert.Equal(t, DefaultAnthropicModel, p.model)
	assert.Equal(t, anthropicBaseURL, p.baseURL)
}

func TestAnthropicExecuteSuccess(t *testing.T) {
	client := &scriptedClient{
		status: http.StatusOK,
		body: `{
			"content": [
				{"type": "text", "text": "Hello"},
				{"type": "text", "text": " world"}
			],
			"model": "claude-sonnet-4-20250514",
			"usage": {"input_tokens": 12, "output_tokens": 4}
		}`,
	}
	p := newAnthropicWithClient(t, client)

	resp, err := p.Execute(context.Background(), Request{
		Prompt:       "say hello",
		SystemPrompt: "be brief",
		Temperature:  0.5,
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello world", resp.Text)
	assert.Equal(t, 12, resp.Usage.InputTokens)
	assert.Equal(t, 4, resp.Usage.OutputTokens)
	assert.Equal(t, 16, resp.Usage.TotalTokens)

	require.Len(t, client.requests, 1)
	req := client.requests[0]
	assert.Equal(t, "test-key", req.Header.Get("x-api-key"))
	assert.Equal(t, anthropicAPIVersion, req.Header.Get("anthropic-version"))
	assert.Equal(t, "/v1/messages", req.URL.Path)

	payload := client.payloads[0]
	assert.Equal(t, "be brief", payload.System)
	require.Len(t, payload.Messages, 1)
	assert.Equal(t, "user", payload.Messages[0].Role)
	assert.Equal(t, "say hello", payload.Messages[0].Content)
	require.NotNil(t, payload.Temperature)
	assert.Equal(t, 0.5, *payload.Temperature)
}

func TestAnthropicExecuteAPIError(t *testing.T) {
	client := &scriptedClient{
		status: 529,
		body:   `{"error": {"type": "overloaded_error", "message": "Overloaded"}}`,
	}
	p := newAnthropicWithClient(t, client)

	_, err := p.Execute(context.Background(), Request{Prompt: "hi"})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeExternal))
	assert.Contains(t, err.Error(), "overloaded_error")
}

func TestAnthropicExecuteTransportError(t *testing.T) {
	client := &scriptedClient{err: io.ErrUnexpectedEOF}
	p := newAnthropicWithClient(t, client)

	_, err := p.Execute(context.Background(), Request{Prompt: "hi"})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeExternal))
}

func TestAnthropicProbeSendsMinimalMessage(t *testing.T) {
	client := &scriptedClient{
		status: http.StatusOK,
		body:   `{"content": [{"type": "text", "text": "pong"}], "model": "m", "usage": {"input_tokens": 1, "output_tokens": 1}}`,
	}
	p := newAnthropicWithClient(t, client)

	require.NoError(t, p.Probe(context.Background()))
	require.Len(t, client.payloads, 1)
	assert.Equal(t, 1, client.payloads[0].MaxTokens)
	assert.Equal(t, "ping", client.payloads[0].Messages[0].Content)
}

func TestStaticProviderScripting(t *testing.T) {
	p := NewStaticProvider("static", "canned")

	resp, err := p.Execute(context.Background(), Request{Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, "canned", resp.Text)

	scripted := errors.NewProviderError("static", "down")
	p.Fail(scripted)
	_, err = p.Execute(context.Background(), Request{Prompt: "x"})
	assert.Equal(t, scripted, err)
	assert.Error(t, p.Probe(context.Background()))

	p.Fail(nil)
	assert.NoError(t, p.Probe(context.Background()))
	assert.Equal(t, 2, p.Calls())
	assert.Equal(t, 2, p.Probes())
}
