// Package pkg provides small generic utilities used across jstool.
package pkg

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy configures Retry.
type RetryPolicy struct {
	// MaxAttempts is the total number of calls, including the first one.
	MaxAttempts int
	// Delay is the fixed wait between attempts.
	Delay time.Duration
	// FailFast reports errors that must not be retried.
	FailFast func(err error) bool
}

// FailFastOn builds a FailFast predicate matching any of targets via errors.Is.
func FailFastOn(targets ...error) func(error) bool {
	return func(err error) bool {
		for _, target := range targets {
			if errors.Is(err, target) {
				return true
			}
		}

		return false
	}
}

// Retry calls op until it succeeds, returns a fail-fast error, or the
// policy runs out of attempts. The last error is returned unchanged.
func Retry[T any](ctx context.Context, policy RetryPolicy, op func() (T, error)) (T, error) {
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	attempt := 0
	operation := func() (T, error) {
		attempt++

		value, err := op()
		if err == nil {
			return value, nil
		}

		if policy.FailFast != nil && policy.FailFast(err) {
			return value, backoff.Permanent(err)
		}

		slog.Debug("retrying after failure", "attempt", attempt, "maxAttempts", attempts, "error", err)

		return value, err
	}

	value, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(policy.Delay)),
		backoff.WithMaxTries(uint(attempts)),
	)

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Unwrap()
	}

	return value, err
}
