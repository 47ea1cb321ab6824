package store

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/cleared-dev/ledger/internal/ledgererr"
)

// RetryPolicy bounds the optimistic-concurrency retry loop.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// DefaultRetryPolicy is used when a service is built without one.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, Backoff: 20 * time.Millisecond}

// RunInTx runs fn in a transaction, retrying the whole transaction when it
// fails with ledgererr.ErrConflict. When every attempt conflicts the caller
// gets ledgererr.ErrTransient. Other errors are returned as-is.
func RunInTx(ctx context.Context, s Store, p RetryPolicy, fn func(ctx context.Context, tx Tx) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := s.WithTx(ctx, fn)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ledgererr.ErrConflict) {
			return err
		}
		lastErr = err

		if attempt == attempts {
			break
		}
		if p.Backoff > 0 {
			wait := p.Backoff*time.Duration(attempt) + time.Duration(rand.Int64N(int64(p.Backoff)))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
	}
	return fmt.Errorf("%w after %d attempts: %v", ledgererr.ErrTransient, attempts, lastErr)
}
