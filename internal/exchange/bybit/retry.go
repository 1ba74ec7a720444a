package bybit

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Policy describes how a gateway operation is retried. It is a plain value
// so callers can test and swap retry behavior independently of the
// transport.
type Policy struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	// Retryable decides whether a failed attempt is worth repeating.
	Retryable func(error) bool
}

// DefaultPolicy retries transient faults up to 3 attempts with exponential
// backoff starting at 800ms, capped at 6s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:   3,
		InitialDelay:  800 * time.Millisecond,
		MaxDelay:      6 * time.Second,
		BackoffFactor: 2.0,
		Retryable:     IsRetryable,
	}
}

// OrderPolicy is the policy for mutating calls. An order submission must not
// be repeated on an ambiguous outcome (e.g. a timeout after the request may
// have been accepted), so only failures known to precede submission are
// retried.
func OrderPolicy() Policy {
	p := DefaultPolicy()
	p.Retryable = IsPreSubmission
	return p
}

// NoRetry runs the operation exactly once.
func NoRetry() Policy {
	return Policy{MaxAttempts: 1}
}

// Do runs fn under the policy. The last error is surfaced when attempts are
// exhausted; the caller decides whether that is fatal.
func (p Policy) Do(ctx context.Context, op string, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if attempt == attempts-1 {
			break
		}
		if p.Retryable == nil || !p.Retryable(lastErr) {
			return fmt.Errorf("%s: %w", op, lastErr)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.delay(attempt)):
		}
	}

	return fmt.Errorf("%s: retries exhausted: %w", op, lastErr)
}

// delay computes the backoff before the attempt following attempt n.
func (p Policy) delay(attempt int) time.Duration {
	d := p.InitialDelay
	if attempt > 0 {
		d = time.Duration(float64(p.InitialDelay) * math.Pow(p.BackoffFactor, float64(attempt)))
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}
