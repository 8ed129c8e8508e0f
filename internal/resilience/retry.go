package resilience

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// DefaultRetryable lists the kinds retried when a policy does not say otherwise.
var DefaultRetryable = []Kind{KindTimeout, KindRateLimited, KindTransient}

// Policy controls retry behavior with exponential backoff.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt.
	// Total attempts are MaxRetries+1.
	MaxRetries int

	// InitialDelay is the sleep before the first retry. Default: 2s.
	InitialDelay time.Duration

	// BackoffFactor scales the delay after each retry. Default: 2.0.
	BackoffFactor float64

	// MaxDelay caps a single delay. Zero means uncapped.
	MaxDelay time.Duration

	// Retryable lists the kinds that consume retry budget. KindPermanent is
	// never retried even when listed. Nil means DefaultRetryable.
	Retryable []Kind

	// Sleep waits between attempts. Nil uses a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error

	// OnRetry is called before each retry sleep.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultPolicy returns the adapter retry policy: 3 retries, 2s initial delay,
// doubling.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:    3,
		InitialDelay:  2 * time.Second,
		BackoffFactor: 2.0,
		Retryable:     DefaultRetryable,
	}
}

// Check reports settings under which retry delays would not strictly
// increase: a backoff factor of 1 or less, a non-positive initial delay, or
// a MaxDelay cap that the retry budget would reach.
func (p Policy) Check() error {
	if p.MaxRetries < 0 {
		return eris.Errorf("max_retries must be >= 0, got %d", p.MaxRetries)
	}
	if p.InitialDelay <= 0 {
		return eris.Errorf("initial_delay must be > 0, got %s", p.InitialDelay)
	}
	if p.BackoffFactor <= 1 {
		return eris.Errorf("backoff_factor must be > 1, got %g", p.BackoffFactor)
	}
	if p.MaxDelay > 0 && p.MaxRetries > 1 {
		uncapped := p
		uncapped.MaxDelay = 0
		if last := uncapped.Delay(p.MaxRetries - 1); p.MaxDelay < last {
			return eris.Errorf("max_delay %s is below the last retry delay %s", p.MaxDelay, last)
		}
	}
	return nil
}

// ExhaustedError reports that every attempt failed with a retryable error.
// Unwrap returns the last error unchanged.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry: exhausted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// IsExhausted reports whether err (or any error in its chain) is an ExhaustedError.
func IsExhausted(err error) bool {
	var ee *ExhaustedError
	return errors.As(err, &ee)
}

// ShouldRetry reports whether err consumes retry budget under p.
func (p Policy) ShouldRetry(err error) bool {
	kind := Classify(err)
	if kind == "" || kind == KindPermanent {
		return false
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = DefaultRetryable
	}
	return slices.Contains(retryable, kind)
}

// Delay returns the sleep before retry number attempt+1 (attempt counts from 0).
func (p Policy) Delay(attempt int) time.Duration {
	p = applyDefaults(p)
	delay := float64(p.InitialDelay) * math.Pow(p.BackoffFactor, float64(attempt))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	return time.Duration(delay)
}

// Execute runs op under p. Non-retryable errors are returned immediately and
// unwrapped. When every attempt fails with a retryable error the result is an
// *ExhaustedError after exactly MaxRetries+1 attempts.
func Execute(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	_, err := ExecuteVal(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// ExecuteVal is Execute for operations that return a value.
func ExecuteVal[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	p = applyDefaults(p)

	var zero T
	var lastErr error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		val, err := op(ctx)
		if err == nil {
			return val, nil
		}
		lastErr = err

		if !p.ShouldRetry(err) {
			return zero, err
		}

		// Cancellation ends the loop; the caller treats it like any other failure.
		if ctx.Err() != nil {
			return zero, err
		}

		if attempt == p.MaxRetries {
			break
		}

		delay := p.Delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, delay, err)
		}
		if sleepErr := p.Sleep(ctx, delay); sleepErr != nil {
			return zero, err
		}
	}

	return zero, &ExhaustedError{Attempts: p.MaxRetries + 1, Err: lastErr}
}

func applyDefaults(p Policy) Policy {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.InitialDelay < 0 {
		p.InitialDelay = 0
	}
	if p.BackoffFactor <= 0 {
		p.BackoffFactor = 2.0
	}
	if p.Sleep == nil {
		p.Sleep = sleepContext
	}
	return p
}

func sleepContext(ctx context.Context, d time.Duration) error {
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

// RetryLogger returns an OnRetry callback that logs each retry of a source fetch.
func RetryLogger(source string) func(int, time.Duration, error) {
	return func(attempt int, delay time.Duration, err error) {
		zap.L().Warn("retrying fetch",
			zap.String("source", source),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.String("kind", string(Classify(err))),
			zap.Error(err),
		)
	}
}
