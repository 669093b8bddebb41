package oracle

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy bounds exponential backoff for transient oracle failures.
type RetryPolicy struct {
	Attempts     int
	InitialDelay time.Duration
	Multiplier   float64
}

// DefaultRetryPolicy returns 3 attempts starting at 2s and doubling.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, InitialDelay: 2 * time.Second, Multiplier: 2}
}

func (p RetryPolicy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialDelay
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = 0
	b.MaxInterval = time.Minute
	if b.MaxInterval < p.InitialDelay {
		b.MaxInterval = p.InitialDelay
	}
	return b
}

// Do runs op, retrying only transient failures. Non-transient errors are
// returned after the first attempt.
func Do[T any](ctx context.Context, policy RetryPolicy, op func() (T, error)) (T, error) {
	attempts := policy.Attempts
	if attempts < 1 {
		attempts = 1
	}
	attempt := 0
	return backoff.Retry(ctx, func() (T, error) {
		attempt++
		v, err := op()
		if err == nil {
			return v, nil
		}
		if !IsTransient(err) {
			return v, backoff.Permanent(err)
		}
		slog.Warn("Oracle transient failure",
			"attempt", attempt,
			"max_attempts", attempts,
			"error", err.Error(),
		)
		return v, err
	}, backoff.WithBackOff(policy.backOff()), backoff.WithMaxTries(uint(attempts)))
}

// retrySession is the only place narrator sends are retried.
type retrySession struct {
	inner  Session
	policy RetryPolicy
}

// WithRetry wraps a session so every Send is retried per policy.
func WithRetry(s Session, policy RetryPolicy) Session {
	return &retrySession{inner: s, policy: policy}
}

func (r *retrySession) Send(ctx context.Context, in Input) (*Response, error) {
	return Do(ctx, r.policy, func() (*Response, error) {
		return r.inner.Send(ctx, in)
	})
}
