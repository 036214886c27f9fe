package oracle

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy defines retry behavior for oracle calls.
type RetryPolicy struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
}

// DefaultRetryPolicy covers transient provider failures without stalling a
// phase window.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     20 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// retryingClient wraps a Client with classification-aware retries.
type retryingClient struct {
	inner  Client
	policy RetryPolicy
}

// WithRetry returns a Client that retries transient failures per policy.
func WithRetry(client Client, policy RetryPolicy) Client {
	return &retryingClient{inner: client, policy: policy}
}

func (r *retryingClient) Model() string { return r.inner.Model() }

func (r *retryingClient) Generate(ctx context.Context, prompt string) (string, error) {
	attempt := 0
	for {
		resp, err := r.inner.Generate(ctx, prompt)
		if err == nil {
			return resp, nil
		}

		class := Classify(err)
		if class == RetryClassNonRetryable {
			return "", err
		}
		if attempt >= r.policy.MaxRetries {
			return "", fmt.Errorf("oracle retries exhausted after %d attempts: %w", attempt+1, err)
		}
		// "maybe" class gets at most two attempts.
		if class == RetryClassMaybe && attempt >= 2 {
			return "", fmt.Errorf("oracle guarded retries exhausted after %d attempts: %w", attempt+1, err)
		}

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("context cancelled during oracle retry: %w", ctx.Err())
		case <-time.After(calculateDelay(r.policy, attempt, err)):
		}
		attempt++
	}
}

func calculateDelay(policy RetryPolicy, attempt int, err error) time.Duration {
	if retryAfter := ExtractRetryAfter(err); retryAfter > 0 {
		if retryAfter > policy.MaxDelay {
			return policy.MaxDelay
		}
		return retryAfter
	}

	delay := float64(policy.InitialDelay) * math.Pow(policy.Multiplier, float64(attempt))
	if delay > float64(policy.MaxDelay) {
		delay = float64(policy.MaxDelay)
	}
	if policy.Jitter {
		delay += rand.Float64() * 0.2 * delay
	}
	return time.Duration(delay)
}
