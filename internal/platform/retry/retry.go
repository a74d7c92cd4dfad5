// Package retry provides a small generic retry helper with exponential
// backoff, used by the watcher to re-establish lost watches.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
)

// Action tells Do how to treat an error from the operation.
type Action int

const (
	Stop  Action = iota // permanent error, abort immediately
	Retry               // transient error, back off and try again
)

// Policy controls attempt count and backoff growth. Backoff doubles after
// every failed attempt, starting at InitialBackoff.
type Policy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	Clock          clockwork.Clock // defaults to the real clock
	OnRetry        func(attempt int, err error, backoff time.Duration)
}

// Classify maps an error to the action to take.
type Classify func(err error) Action

// Operation is a retryable unit of work.
type Operation[T any] func() (T, error)

// VoidOperation is an Operation with no result.
type VoidOperation func() error

// Do runs op until it succeeds, classify returns Stop, the attempt budget is
// exhausted, or ctx is cancelled.
func Do[T any](ctx context.Context, p Policy, classify Classify, op Operation[T]) (T, error) {
	clock := p.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	backoff := p.InitialBackoff

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		val, err := op()
		if err == nil {
			return val, nil
		}

		if classify(err) == Stop {
			var zero T
			return zero, &PermanentError{Err: err}
		}

		if attempt == p.MaxAttempts {
			var zero T
			return zero, fmt.Errorf("failed after %d attempts: %w", p.MaxAttempts, err)
		}

		if p.OnRetry != nil {
			p.OnRetry(attempt, err, backoff)
		}

		timer := clock.NewTimer(backoff)
		select {
		case <-timer.Chan():
			backoff *= 2
		case <-ctx.Done():
			timer.Stop()
			var zero T
			return zero, fmt.Errorf("context cancelled during retry: %w", ctx.Err())
		}
	}

	panic("unreachable: MaxAttempts must be >= 1")
}

// DoVoid is Do for operations without a result.
func DoVoid(ctx context.Context, p Policy, classify Classify, op VoidOperation) error {
	_, err := Do(ctx, p, classify, func() (struct{}, error) { return struct{}{}, op() })
	return err
}

// PermanentError wraps an error that classify marked as Stop.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }
