// Package retry re-runs operations that fail transiently against
// remote services.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Do runs op up to attempts times, sleeping base before the second
// attempt and doubling the sleep after every further failure. It
// returns nil on the first success and the last error once the
// attempts are spent or ctx is cancelled.
func Do(ctx context.Context, attempts int, base time.Duration, op func() error) error {
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	delay := base
	for i := 0; i < attempts; i++ {
		if lastErr = op(); lastErr == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("gave up after %d attempts: %w", i+1, ctx.Err())
		case <-time.After(delay):
			delay *= 2
		}
	}
	return fmt.Errorf("gave up after %d attempts: %w", attempts, lastErr)
}
