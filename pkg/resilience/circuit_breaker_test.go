package resilience

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func failOnce(ctx context.Context) (interface{}, error) {
	return nil, fmt.Errorf("boom")
}

func succeed(ctx context.Context) (interface{}, error) {
	return "ok", nil
}

func TestBreakerStartsClosed(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{Name: "test"})
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerOpensOnFailures(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{
		Name: "test",
		ReadyToTrip: func(counts Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})

	for i := 0; i < 3; i++ {
		_, err := cb.Execute(context.Background(), failOnce)
		require.Error(t, err)
	}

	assert.Equal(t, StateOpen, cb.State())

	_, err := cb.Execute(context.Background(), succeed)
	require.Error(t, err)
	assert.True(t, IsOpenError(err))
	assert.Contains(t, err.Error(), "circuit breaker 'test' is OPEN")
}

func TestBreakerHalfOpenAfterTimeout(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{
		Name:    "test",
		Timeout: 20 * time.Millisecond,
		ReadyToTrip: func(counts Counts) bool {
			return counts.ConsecutiveFailures >= 1
		},
	})

	_, err := cb.Execute(context.Background(), failOnce)
	require.Error(t, err)
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())

	result, err := cb.Execute(context.Background(), succeed)
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerReopensOnHalfOpenFailure(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{
		Name:    "test",
		Timeout: 20 * time.Millisecond,
		ReadyToTrip: func(counts Counts) bool {
			return counts.ConsecutiveFailures >= 1
		},
	})

	_, _ = cb.Execute(context.Background(), failOnce)
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(30 * time.Millisecond)
	require.Equal(t, StateHalfOpen, cb.State())

	_, err := cb.Execute(context.Background(), failOnce)
	require.Error(t, err)
	assert.Equal(t, StateOpen, cb.State())
}

func TestBreakerHalfOpenLimitsRequests(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{
		Name:        "test",
		MaxRequests: 1,
		Timeout:     20 * time.Millisecond,
		ReadyToTrip: func(counts Counts) bool {
			return counts.ConsecutiveFailures >= 1
		},
	})

	_, _ = cb.Execute(context.Background(), failOnce)
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, StateHalfOpen, cb.State())

	// Hold one probe slot open, then try a second concurrent request.
	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_, _ = cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
			close(started)
			<-release
			return "ok", nil
		})
	}()
	<-started

	_, err := cb.Execute(context.Background(), succeed)
	assert.True(t, IsOpenError(err))
	close(release)
}

func TestBreakerStateChangeCallback(t *testing.T) {
	var transitions []string
	cb := NewCircuitBreaker(BreakerConfig{
		Name: "test",
		OnStateChange: func(name string, from, to CircuitState) {
			transitions = append(transitions, fmt.Sprintf("%s->%s", from, to))
		},
		ReadyToTrip: func(counts Counts) bool {
			return counts.ConsecutiveFailures >= 1
		},
	})

	_, _ = cb.Execute(context.Background(), failOnce)
	assert.Equal(t, []string{"CLOSED->OPEN"}, transitions)
}

func TestDefaultReadyToTrip(t *testing.T) {
	assert.False(t, defaultReadyToTrip(Counts{Requests: 4, TotalFailures: 4}))
	assert.False(t, defaultReadyToTrip(Counts{Requests: 10, TotalFailures: 5}))
	assert.True(t, defaultReadyToTrip(Counts{Requests: 10, TotalFailures: 6}))
	assert.True(t, defaultReadyToTrip(Counts{Requests: 5, TotalFailures: 5}))
}
