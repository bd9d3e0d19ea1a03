package trader

import (
	"context"
	"fmt"
	"time"
)

// RetryPolicy runs an operation up to MaxAttempts times with a fixed
// delay between attempts. Shared by the sell and force-liquidate paths.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

// Do returns nil on the first successful attempt, the last error once
// attempts are exhausted, or the context error if cancelled mid-wait.
func (p RetryPolicy) Do(ctx context.Context, op func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if lastErr = op(); lastErr == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.Delay):
		}
	}
	return fmt.Errorf("all %d attempts failed: %w", attempts, lastErr)
}
