package webhooks

import (
	"context"
	"time"
)

// DefaultMaxAttempts bounds how many times a handler runs per delivery.
const DefaultMaxAttempts = 3

// DefaultBaseDelay is the backoff unit between handler attempts. The
// delay grows linearly with the attempt number.
const DefaultBaseDelay = time.Minute

// RetryEngine runs a handler until it succeeds or the attempt budget
// is spent. Wait is injectable so tests and callers that persist
// delivery state elsewhere can skip real sleeps.
type RetryEngine struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Wait        func(ctx context.Context, delay time.Duration) error
}

// RetryResult reports the outcome of an Execute run. Attempts counts
// every invocation including the successful one, and Exhausted is set
// when the budget was spent without a success.
type RetryResult struct {
	Result    map[string]any
	Attempts  int
	Exhausted bool
	LastError error
}

func NewRetryEngine() *RetryEngine {
	return &RetryEngine{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
	}
}

// Execute runs handler against event, retrying failed attempts with a
// linearly growing delay. A context cancellation during the wait stops
// the run with the attempt's error preserved.
func (e *RetryEngine) Execute(ctx context.Context, handler Handler, event Event) RetryResult {
	maxAttempts := DefaultMaxAttempts
	baseDelay := DefaultBaseDelay
	wait := sleepUntil

	if e != nil {
		if e.MaxAttempts > 0 {
			maxAttempts = e.MaxAttempts
		}
		if e.BaseDelay > 0 {
			baseDelay = e.BaseDelay
		}
		if e.Wait != nil {
			wait = e.Wait
		}
	}

	outcome := RetryResult{}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		outcome.Attempts = attempt

		result, err := handler.Handle(ctx, event)
		if err == nil {
			outcome.Result = result
			outcome.LastError = nil
			return outcome
		}

		outcome.LastError = err

		if attempt == maxAttempts {
			break
		}

		if err := wait(ctx, baseDelay*time.Duration(attempt)); err != nil {
			outcome.Exhausted = true
			return outcome
		}
	}

	outcome.Exhausted = true

	return outcome
}

func sleepUntil(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
