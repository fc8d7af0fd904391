package resilience

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/bulwarkhq/bulwark/pkg/errors"
	"github.com/bulwarkhq/bulwark/pkg/logging"
)

// Strategy selects how inter-attempt delays grow.
type Strategy string

const (
	StrategyFixed       Strategy = "fixed"
	StrategyLinear      Strategy = "linear"
	StrategyExponential Strategy = "exponential"
)

// Policy holds configuration for retry logic. Attempts are zero-indexed:
// attempt 0 is the initial call, attempts 1..MaxRetries are retries.
type Policy struct {
	// Enabled gates all retrying; a disabled policy never retries.
	Enabled bool
	// MaxRetries is the number of retries after the initial attempt,
	// so total attempts = MaxRetries + 1.
	MaxRetries int
	// Strategy picks the backoff curve.
	Strategy Strategy
	// InitialDelay seeds the backoff curve.
	InitialDelay time.Duration
	// MaxDelay caps the computed delay.
	MaxDelay time.Duration
	// BackoffMultiplier is the base for exponential backoff.
	BackoffMultiplier float64
	// Jitter perturbs each delay by up to ±10% to avoid thundering herd.
	Jitter bool
	// RetryableMatchers are case-insensitive substrings matched against
	// the error by errors.Classify.
	RetryableMatchers []string
	// OnRetry is called before each retry attempt.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultPolicy returns a default retry policy
func DefaultPolicy() Policy {
	return Policy{
		Enabled:           true,
		MaxRetries:        3,
		Strategy:          StrategyExponential,
		InitialDelay:      100 * time.Millisecond,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
		RetryableMatchers: []string{"timeout", "connection", "unavailable", "rate limit", "overloaded", "502", "503", "529"},
	}
}

// Delay computes the sleep before the given attempt. Attempt 0 is the
// initial call and always gets zero delay.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	var delay float64
	switch p.Strategy {
	case StrategyFixed:
		delay = float64(p.InitialDelay)
	case StrategyLinear:
		delay = float64(p.InitialDelay) * float64(attempt)
	case StrategyExponential:
		delay = float64(p.InitialDelay) * math.Pow(p.BackoffMultiplier, float64(attempt-1))
	default:
		delay = float64(p.InitialDelay)
	}

	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}

	if p.Jitter {
		delay += (rand.Float64()*2 - 1) * 0.1 * delay
	}
	if delay < 0 {
		delay = 0
	}

	return time.Duration(delay)
}

// ShouldRetry reports whether another attempt is allowed after the given
// zero-indexed attempt failed with err.
func (p Policy) ShouldRetry(err error, attempt int) bool {
	if !p.Enabled || attempt >= p.MaxRetries {
		return false
	}
	return errors.Classify(err, p.RetryableMatchers) == errors.Retryable
}

// Retrier executes operations under a retry policy
type Retrier struct {
	policy Policy
	logger *logging.Logger
}

// NewRetrier creates a new retrier with the given policy, filling in
// defaults for unset backoff parameters.
func NewRetrier(policy Policy) *Retrier {
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	if policy.InitialDelay <= 0 {
		policy.InitialDelay = 100 * time.Millisecond
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = 30 * time.Second
	}
	if policy.BackoffMultiplier <= 0 {
		policy.BackoffMultiplier = 2.0
	}
	if policy.Strategy == "" {
		policy.Strategy = StrategyExponential
	}

	return &Retrier{
		policy: policy,
		logger: logging.GetLogger(),
	}
}

// Policy returns a copy of the retrier's policy.
func (r *Retrier) Policy() Policy {
	return r.policy
}

// Do executes the operation, retrying per the policy. The caller sees
// either a final nil or the most recent error; intermediate failures are
// absorbed.
func (r *Retrier) Do(ctx context.Context, operation func(context.Context) error) error {
	var lastErr error

	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := operation(ctx)
		if err == nil {
			if attempt > 0 {
				r.logger.Info("Operation succeeded after retry",
					"attempt", attempt,
					"max_retries", r.policy.MaxRetries,
				)
			}
			return nil
		}

		lastErr = err

		if !r.policy.ShouldRetry(err, attempt) {
			if attempt >= r.policy.MaxRetries && r.policy.Enabled {
				r.logger.Error("Operation failed after all retry attempts",
					"error", lastErr.Error(),
					"attempts", attempt+1,
				)
				return fmt.Errorf("operation failed after %d attempts: %w", attempt+1, lastErr)
			}
			r.logger.Debug("Error is not retryable, stopping",
				"error", err.Error(),
				"attempt", attempt,
			)
			return lastErr
		}

		delay := r.policy.Delay(attempt + 1)

		r.logger.Debug("Operation failed, retrying",
			"error", err.Error(),
			"attempt", attempt,
			"max_retries", r.policy.MaxRetries,
			"delay", delay.String(),
		)

		if r.policy.OnRetry != nil {
			r.policy.OnRetry(attempt, err, delay)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// DoWithResult executes the operation with retry logic and returns its result
func (r *Retrier) DoWithResult(ctx context.Context, operation func(context.Context) (interface{}, error)) (interface{}, error) {
	var result interface{}
	err := r.Do(ctx, func(ctx context.Context) error {
		var err error
		result, err = operation(ctx)
		return err
	})
	return result, err
}

// Retry is a convenience function using the default policy
func Retry(ctx context.Context, operation func(context.Context) error) error {
	return NewRetrier(DefaultPolicy()).Do(ctx, operation)
}
