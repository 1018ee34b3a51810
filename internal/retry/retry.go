package retry

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
)

var ErrTooManyAttempts = errors.New("too many retry attempts")

// Callable returns a result or an error, only errors marked with Error
// are retried.
type Callable func(attempt int) (interface{}, error)

type retryError struct {
	error
	attempt int
}

func (r *retryError) Unwrap() error {
	return r.error
}

// Error marks err as recoverable so that the next attempt is scheduled
func Error(err error, attempt int) error {
	if err == nil {
		return nil
	}
	return &retryError{error: err, attempt: attempt}
}

type Attempts interface {
	Next() (time.Duration, bool)
	Current() int
}

func Start(ctx context.Context, a Attempts, cb Callable) (interface{}, error) {
	for {
		result, err := cb(a.Current())
		if err == nil {
			return result, nil
		}

		// callable encountered an unrecoverable error
		var re *retryError
		if !errors.As(err, &re) {
			return nil, errors.Wrapf(err, "retry %d failed", a.Current())
		}

		next, stop := a.Next()
		if stop {
			return nil, errors.Wrapf(ErrTooManyAttempts, "last error: %s", re.error.Error())
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(next):
			continue
		}
	}
}

func Incremental(ctx context.Context, step time.Duration, maxRetries int, cb Callable) (interface{}, error) {
	return Start(ctx, IncrementalAttempts(step, maxRetries), cb)
}

type incrementalAttempts struct {
	sync.RWMutex
	prev time.Duration
	step time.Duration
	max  int
	curr int
}

func (a *incrementalAttempts) Next() (time.Duration, bool) {
	a.Lock()
	defer a.Unlock()

	a.curr++
	if a.curr > a.max {
		return 0, true
	}

	next := a.prev + a.step
	a.prev = next

	return next, false
}

func (a *incrementalAttempts) Current() int {
	a.RLock()
	defer a.RUnlock()
	return a.curr
}

func IncrementalAttempts(step time.Duration, max int) Attempts {
	return &incrementalAttempts{
		prev: 0,
		step: step,
		max:  max,
		curr: 1,
	}
}
