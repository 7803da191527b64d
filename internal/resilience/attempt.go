package resilience

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrExhausted is the error carried by an Outcome whose attempts all failed.
var ErrExhausted = eris.New("resilience: attempts exhausted")

// abandonGrace is how long a timed-out attempt is given to return after its
// context is cancelled before it is abandoned.
var abandonGrace = time.Second

// AttemptConfig bounds a flaky call with a fixed number of attempts, a
// timeout per attempt and a fixed pause between attempts. Unlike RetryConfig
// every error is retried.
type AttemptConfig struct {
	MaxAttempts int
	Timeout     time.Duration
	Delay       time.Duration

	// OnRetry runs before each pause.
	OnRetry func(attempt int, err error)
}

// DefaultAttemptConfig is 3 attempts of 60s each, 5s apart.
func DefaultAttemptConfig() AttemptConfig {
	return AttemptConfig{
		MaxAttempts: 3,
		Timeout:     60 * time.Second,
		Delay:       5 * time.Second,
	}
}

// Outcome is the result of Attempt: either a value, or Exhausted. A zero
// value returned by a successful call is still a success.
type Outcome[T any] struct {
	value    T
	ok       bool
	Attempts int
	Err      error
}

// Success builds a successful outcome.
func Success[T any](v T, attempts int) Outcome[T] {
	return Outcome[T]{value: v, ok: true, Attempts: attempts}
}

// Exhausted builds a failed outcome carrying the last error.
func Exhausted[T any](attempts int, last error) Outcome[T] {
	return Outcome[T]{Attempts: attempts, Err: eris.Wrapf(ErrExhausted, "after %d attempts: %v", attempts, last)}
}

// Value returns the value and whether the outcome succeeded.
func (o Outcome[T]) Value() (T, bool) {
	return o.value, o.ok
}

// Exhausted reports whether every attempt failed.
func (o Outcome[T]) Exhausted() bool {
	return !o.ok
}

// OrElse returns the value, or fallback when exhausted.
func (o Outcome[T]) OrElse(fallback T) T {
	if o.ok {
		return o.value
	}
	return fallback
}

// Attempt runs fn up to cfg.MaxAttempts times. Each call gets its own
// context bounded by cfg.Timeout. Errors are never returned: failure is the
// Exhausted outcome. Cancelling ctx ends the loop early.
//
// fn must return once its context is done. A call still running
// abandonGrace after its timeout is left behind and the next attempt starts.
func Attempt[T any](ctx context.Context, cfg AttemptConfig, fn func(ctx context.Context) (T, error)) Outcome[T] {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultAttemptConfig().MaxAttempts
	}

	var last error
	for i := 1; i <= cfg.MaxAttempts; i++ {
		val, err := attemptOnce(ctx, cfg.Timeout, fn)
		if err == nil {
			return Success(val, i)
		}
		last = err
		zap.L().Debug("resilience: attempt failed",
			zap.Int("attempt", i),
			zap.Int("max_attempts", cfg.MaxAttempts),
			zap.Error(err),
		)
		if ctx.Err() != nil {
			return Exhausted[T](i, last)
		}
		if i == cfg.MaxAttempts {
			break
		}
		if cfg.OnRetry != nil {
			cfg.OnRetry(i, err)
		}
		if !sleep(ctx, cfg.Delay) {
			return Exhausted[T](i, last)
		}
	}
	return Exhausted[T](cfg.MaxAttempts, last)
}

func attemptOnce[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(actx)
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		return r.val, r.err
	case <-actx.Done():
	}

	err := eris.Wrap(actx.Err(), "resilience: attempt timed out")
	grace := time.NewTimer(abandonGrace)
	defer grace.Stop()
	select {
	case <-done:
	case <-grace.C:
		zap.L().Warn("resilience: attempt ignored cancellation, abandoning", zap.Duration("grace", abandonGrace))
	}
	var zero T
	return zero, err
}
