package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/LinguaCrew/lingua-notify/errors"
	"github.com/LinguaCrew/lingua-notify/logger"
)

// ExhaustedError wraps the last failure after all attempts are spent.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry exhausted after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// Policy runs an operation with bounded exponential backoff. Retries stop
// on the first non-retryable error, when MaxAttempts is spent, or when
// Overall elapses.
type Policy struct {
	Backoff     Backoff
	MaxAttempts int
	// Overall bounds the whole retry sequence, including waits. Zero means
	// no overall bound.
	Overall time.Duration
	Monitor NetworkMonitor
}

// DefaultPolicy matches the engine-wide retry defaults.
func DefaultPolicy() Policy {
	return Policy{
		Backoff:     DefaultBackoff(),
		MaxAttempts: 5,
		Overall:     5 * time.Minute,
		Monitor:     AlwaysOnline{},
	}
}

// Do runs op until it succeeds or the policy gives up. While the monitor
// reports offline, attempts are suspended rather than consumed.
func (p Policy) Do(ctx context.Context, name string, op func(ctx context.Context) error) error {
	log := logger.GetLogger().Named("retry")

	if p.Overall > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Overall)
		defer cancel()
	}

	monitor := p.Monitor
	if monitor == nil {
		monitor = AlwaysOnline{}
	}

	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if err := monitor.WaitOnline(ctx); err != nil {
			if lastErr != nil {
				return &ExhaustedError{Attempts: attempt, Last: lastErr}
			}
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		if !errors.IsRetryable(err) {
			return err
		}
		lastErr = err

		delay := p.Backoff.Delay(attempt)
		log.Debugw("Operation failed, backing off",
			"operation", name,
			"attempt", attempt+1,
			"delay", delay,
			"error", err)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return &ExhaustedError{Attempts: attempt + 1, Last: lastErr}
		}
	}

	return &ExhaustedError{Attempts: p.MaxAttempts, Last: lastErr}
}
