package chat

import (
	"context"
	"time"
)

// Retry runs fn up to maxAttempts times, waiting backoff(attempt)
// between failures. attempt is 1-based when passed to backoff. Returns
// the last error, or ctx.Err() if the context ends while waiting.
func Retry(ctx context.Context, maxAttempts int, backoff func(attempt int) time.Duration, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt == maxAttempts {
			break
		}
		delay := backoff(attempt)
		if delay <= 0 {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}

// LinearBackoff waits step × attempt.
func LinearBackoff(step time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		return step * time.Duration(attempt)
	}
}

// FixedBackoff waits the same delay every time.
func FixedBackoff(d time.Duration) func(int) time.Duration {
	return func(int) time.Duration { return d }
}
