package providers

import (
	"context"
	"sync"
	"time"

	"github.com/bulwarkhq/bulwark/pkg/errors"
)

// StaticProvider is a scripted in-memory provider for local development
// and wiring tests. It answers every request with a fixed response and
// can be told to fail on demand.
type StaticProvider struct {
	id   string
	text string

	mu       sync.Mutex
	failWith error
	calls    int
	probes   int
	latency  time.Duration
}

// NewStaticProvider creates a provider that always answers with text.
func NewStaticProvider(id, text string) *StaticProvider {
	return &StaticProvider{id: id, text: text}
}

// ID returns the provider id
func (p *StaticProvider) ID() string {
	return p.id
}

// Fail makes subsequent calls and probes fail with the given error.
// Passing nil restores normal operation.
func (p *StaticProvider) Fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failWith = err
}

// SetLatency adds an artificial delay to every call.
func (p *StaticProvider) SetLatency(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.latency = d
}

// Calls returns how many Execute calls were made.
func (p *StaticProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// Probes returns how many Probe calls were made.
func (p *StaticProvider) Probes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.probes
}

// Execute answers with the scripted text
func (p *StaticProvider) Execute(ctx context.Context, req Request) (*Response, error) {
	p.mu.Lock()
	p.calls++
	failWith := p.failWith
	latency := p.latency
	p.mu.Unlock()

	if latency > 0 {
		select {
		case <-ctx.Done():
			return nil, errors.NewTimeoutError("static provider call").WithCause(ctx.Err())
		case <-time.After(latency):
		}
	}

	if failWith != nil {
		return nil, failWith
	}

	return &Response{
		Text:  p.text,
		Model: "static",
		Usage: Usage{TotalTokens: len(p.text)},
	}, nil
}

// Probe succeeds unless the provider was told to fail
func (p *StaticProvider) Probe(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.probes++
	return p.failWith
}
