package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrExhausted is returned when every attempt ran without satisfying the predicate.
var ErrExhausted = errors.New("retry attempts exhausted")

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// ContextSleep is the production Sleeper backed by a timer.
func ContextSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Policy bounds a retry loop.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
	// AttemptTimeout caps each call to fn. Zero leaves attempts bounded only by ctx.
	AttemptTimeout time.Duration
	Sleep          Sleeper
}

// Budget is the hard wall-clock cap for a full run of the policy.
func (p Policy) Budget() time.Duration {
	attempts := p.attempts()
	return time.Duration(attempts)*p.Delay + time.Duration(attempts)*p.AttemptTimeout
}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Result reports the outcome of Until.
type Result[T any] struct {
	Value     T
	Attempts  int
	Satisfied bool
	LastErr   error
}

// Until calls fn up to MaxAttempts times, waiting Delay between attempts, and
// stops at the first value accepted by done. Errors from fn count as misses.
// When AttemptTimeout is set the whole run is capped at Budget().
func Until[T any](ctx context.Context, p Policy, fn func(context.Context) (T, error), done func(T) bool) (Result[T], error) {
	sleep := p.Sleep
	if sleep == nil {
		sleep = ContextSleep
	}
	if p.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Budget())
		defer cancel()
	}

	var res Result[T]
	attempts := p.attempts()
	for i := 1; i <= attempts; i++ {
		res.Attempts = i
		value, err := call(ctx, p.AttemptTimeout, fn)
		res.LastErr = err
		if err == nil {
			res.Value = value
			if done(value) {
				res.Satisfied = true
				return res, nil
			}
		}
		if i == attempts {
			break
		}
		if err := sleep(ctx, p.Delay); err != nil {
			return res, fmt.Errorf("retry interrupted after %d attempts: %w", i, err)
		}
	}
	if res.LastErr != nil {
		return res, fmt.Errorf("%w: %v", ErrExhausted, res.LastErr)
	}
	return res, ErrExhausted
}

func call[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(attemptCtx)
}
