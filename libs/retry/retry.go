// Package retry runs idempotent operations with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     time.Second,
	}
}

// Permanent marks err as not worth retrying. Do returns the original err.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// Do calls op until it succeeds, returns a Permanent error, the attempts run out,
// or ctx is done.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}

	res, err := backoff.Retry(ctx, func() (T, error) {
		return op(ctx)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(p.MaxAttempts)))
	if err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return res, perm.Err
		}
		return res, err
	}
	return res, nil
}
