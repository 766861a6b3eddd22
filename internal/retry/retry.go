// Package retry implements the exponential-backoff retry scheduler used by
// FetchCoordinator and MutationCache. The backoff shape and attempt-count
// reset-on-success rule are grounded on the consul agent cache's
// backOffWait/fetch retry loop (see _examples/other_examples for the
// reference); the per-attempt rate limiting is new, layered on top with
// golang.org/x/time/rate the way the same consul cache rate-limits fetches
// per entry.
package retry

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/peervault-labs/fluquery/internal/cancel"
)

// ShouldRetryFunc decides whether attempt (0-indexed) should be retried
// after err. The default never retries a *cancel.CancelledError.
type ShouldRetryFunc func(err error, attempt int) bool

// DelayFunc computes the backoff delay before the given attempt (0-indexed,
// the attempt about to be made, i.e. delay before attempt N is DelayFunc(N)).
type DelayFunc func(attempt int) time.Duration

// DefaultDelay implements min(1000*2^attempt, 30_000) ms, per spec §4.3.
func DefaultDelay(attempt int) time.Duration {
	const base = time.Second
	const max = 30 * time.Second
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// Options configures a single Run call.
type Options struct {
	// MaxRetries is the number of retries allowed after the first attempt
	// (so MaxRetries=3 means up to 4 total calls to Action). A negative
	// value means unlimited retries (bounded only by cancellation).
	MaxRetries int
	Delay      DelayFunc
	ShouldRetry ShouldRetryFunc
	// Limiter optionally rate-limits how often Action may be invoked,
	// grounded on the consul cache's per-entry rate.Limiter. Nil disables
	// limiting.
	Limiter *rate.Limiter
}

// DefaultShouldRetry retries any error that is not a CancelledError, up to
// MaxRetries attempts.
func DefaultShouldRetry(maxRetries int) ShouldRetryFunc {
	return func(err error, attempt int) bool {
		var cancelled *cancel.CancelledError
		if asCancelled(err, &cancelled) {
			return false
		}
		if maxRetries < 0 {
			return true
		}
		return attempt < maxRetries
	}
}

func asCancelled(err error, target **cancel.CancelledError) bool {
	for err != nil {
		if c, ok := err.(*cancel.CancelledError); ok {
			*target = c
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Action is the operation being retried. It must honor signal cancellation
// at its own suspension points (spec §5).
type Action[T any] func(signal *cancel.Signal, attempt int) (T, error)

// Run executes action under RetryEngine semantics: on error, it asks
// ShouldRetry whether to try again, sleeps Delay(attempt) (cancellably),
// and retries. It returns the first successful value, the final
// non-cancellation error, or a *cancel.CancelledError if the signal was
// cancelled during the action or during a backoff sleep.
func Run[T any](signal *cancel.Signal, opts Options, action Action[T]) (T, error) {
	if opts.Delay == nil {
		opts.Delay = DefaultDelay
	}
	if opts.ShouldRetry == nil {
		opts.ShouldRetry = DefaultShouldRetry(opts.MaxRetries)
	}

	var zero T
	for attempt := 0; ; attempt++ {
		if err := signal.ThrowIfCancelled(); err != nil {
			return zero, err
		}
		if opts.Limiter != nil {
			if err := opts.Limiter.Wait(signal.Context()); err != nil {
				return zero, &cancel.CancelledError{Reason: "rate limiter: " + err.Error()}
			}
		}

		result, err := action(signal, attempt)
		if err == nil {
			return result, nil
		}
		if cancelErr := signal.ThrowIfCancelled(); cancelErr != nil {
			return zero, cancelErr
		}
		var cancelled *cancel.CancelledError
		if asCancelled(err, &cancelled) {
			return zero, err
		}

		if !opts.ShouldRetry(err, attempt) {
			return zero, err
		}

		delay := opts.Delay(attempt)
		if delay <= 0 {
			continue
		}
		if sleepErr := cancellableSleep(signal, delay); sleepErr != nil {
			return zero, sleepErr
		}
	}
}

// cancellableSleep waits for d or returns a *cancel.CancelledError as soon
// as signal is cancelled, whichever happens first.
func cancellableSleep(signal *cancel.Signal, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-signal.Context().Done():
		if err := signal.ThrowIfCancelled(); err != nil {
			return err
		}
		return &cancel.CancelledError{Reason: signal.Context().Err().Error()}
	}
}
