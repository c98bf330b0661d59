// Package retry implements bounded, rate-limit aware polling.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Defaults applied to a zero Policy
const (
	DefaultNotFoundDelay = 500 * time.Millisecond
	DefaultRetryAfter    = 30 * time.Second
)

var (
	// ErrTimeout is matched by every *TimeoutError
	ErrTimeout = errors.New("retry: bound exhausted")

	// ErrUnbounded is returned when a Policy sets neither MaxWait nor MaxAttempts
	ErrUnbounded = errors.New("retry: policy needs MaxWait or MaxAttempts")
)

// HTTPError is implemented by transport errors that carry an HTTP status
type HTTPError interface {
	error
	HTTPStatus() int
	RetryAfterHint() time.Duration
}

// Policy bounds a polling loop
type Policy struct {
	// Name labels log records, e.g. "session status".
	Name string

	Interval    time.Duration
	MaxWait     time.Duration
	MaxAttempts int

	NotFoundDelay     time.Duration
	DefaultRetryAfter time.Duration

	Logger *slog.Logger
}

// TimeoutError is returned when a bound is exhausted
type TimeoutError struct {
	Name     string
	Attempts int
	Elapsed  time.Duration
	// LastErr is the last absorbed 429/404 error, if any.
	LastErr error
}

func (e *TimeoutError) Error() string {
	name := e.Name
	if name == "" {
		name = "poll"
	}
	return fmt.Sprintf("%s: gave up after %d attempts in %s", name, e.Attempts, e.Elapsed)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

func (e *TimeoutError) Unwrap() error {
	return e.LastErr
}

// AttemptFunc performs one attempt. done reports that polling can stop.
type AttemptFunc[T any] func(ctx context.Context, attempt int) (value T, done bool, err error)

// Poll runs fn until it is done, returns an unclassified error, or the policy
// is exhausted. On exhaustion the last successfully returned value is
// returned together with a *TimeoutError.
func Poll[T any](ctx context.Context, clock Clock, p Policy, fn AttemptFunc[T]) (T, error) {
	var last T
	if p.MaxWait <= 0 && p.MaxAttempts <= 0 {
		return last, ErrUnbounded
	}
	if clock == nil {
		clock = SystemClock{}
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	notFound := p.NotFoundDelay
	if notFound <= 0 {
		notFound = DefaultNotFoundDelay
	}
	notFound = max(notFound, p.Interval)

	start := clock.Now()
	var lastErr error

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return last, err
		}

		value, done, err := fn(ctx, attempt)

		var delay time.Duration
		if err == nil {
			last = value
			if done {
				return value, nil
			}
			delay = p.Interval
		} else {
			var herr HTTPError
			if !errors.As(err, &herr) {
				return last, err
			}
			switch herr.HTTPStatus() {
			case http.StatusTooManyRequests:
				delay = herr.RetryAfterHint()
				if delay <= 0 {
					delay = p.DefaultRetryAfter
				}
				if delay <= 0 {
					delay = DefaultRetryAfter
				}
			case http.StatusNotFound:
				delay = notFound
			default:
				return last, err
			}
			lastErr = err
			logger.Debug("poll attempt deferred",
				"name", p.Name,
				"attempt", attempt,
				"status", herr.HTTPStatus(),
				"delay", delay)
		}

		elapsed := clock.Now().Sub(start)
		if (p.MaxAttempts > 0 && attempt >= p.MaxAttempts) || (p.MaxWait > 0 && elapsed >= p.MaxWait) {
			return last, &TimeoutError{Name: p.Name, Attempts: attempt, Elapsed: elapsed, LastErr: lastErr}
		}

		if err := clock.Sleep(ctx, delay); err != nil {
			return last, err
		}
	}
}
