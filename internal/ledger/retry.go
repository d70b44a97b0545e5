package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// retry runs op until it succeeds, returns a non-retryable error, or
// maxTries attempts are spent. Integrity failures are never retried.
func retry[T any](ctx context.Context, maxTries uint, initial time.Duration, op func() (T, error)) (T, error) {
	if maxTries <= 1 {
		return op()
	}
	b := backoff.NewExponentialBackOff()
	if initial > 0 {
		b.InitialInterval = initial
	}

	var last T
	v, err := backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		last = v
		if err != nil && !IsRetryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(maxTries))

	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Err
	}
	if err != nil {
		// op may return a value alongside an error (CheckpointStale).
		return last, err
	}
	return v, nil
}
