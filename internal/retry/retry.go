// Package retry runs an operation up to a fixed number of attempts with
// exponential backoff between them.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds a retried operation.
type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration // 0 retries immediately
	MaxInterval     time.Duration
}

// DefaultPolicy allows 5 attempts, backing off from 1s up to 30s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     5,
		InitialInterval: time.Second,
		MaxInterval:     30 * time.Second,
	}
}

// Permanent marks err as not worth retrying. Do returns the unwrapped err.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Notify is called after a failed attempt that will be retried.
type Notify func(attempt int, err error, wait time.Duration)

// Do calls op until it succeeds, returns a Permanent error, the context is
// done, or MaxAttempts is reached. The last error is returned on exhaustion.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context, attempt int) (T, error), notify Notify) (T, error) {
	var (
		result  T
		attempt int
	)

	err := backoff.RetryNotify(func() error {
		attempt++
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		v, err := op(ctx, attempt)
		if err != nil {
			return err
		}
		result = v
		return nil
	}, p.backOff(ctx), func(err error, wait time.Duration) {
		if notify != nil {
			notify(attempt, err, wait)
		}
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var b backoff.BackOff = &backoff.ZeroBackOff{}
	if p.InitialInterval > 0 {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = p.InitialInterval
		exp.MaxInterval = max(p.MaxInterval, p.InitialInterval)
		exp.MaxElapsedTime = 0 // bounded by attempts instead
		b = exp
	}

	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}
