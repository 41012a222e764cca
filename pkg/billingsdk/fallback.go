package billingsdk

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Attempt is one endpoint in a fallback chain.
type Attempt[T any] struct {
	Name string
	Do   func(ctx context.Context) (T, error)
}

// Fallback runs attempts in order and returns the first success. StopOn
// decides whether a failure makes the remaining attempts pointless; nil
// uses DefaultStopOn.
type Fallback[T any] struct {
	Attempts []Attempt[T]
	StopOn   func(error) bool

	// OnFailure is called after each failed attempt, typically to log.
	OnFailure func(name string, err error)
}

// Run executes the chain. When every attempt fails the joined errors are
// returned, each prefixed with its attempt name.
func (f Fallback[T]) Run(ctx context.Context) (T, string, error) {
	var zero T
	stop := f.StopOn
	if stop == nil {
		stop = DefaultStopOn
	}

	var errs []error
	for _, a := range f.Attempts {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		v, err := a.Do(ctx)
		if err == nil {
			return v, a.Name, nil
		}

		errs = append(errs, fmt.Errorf("%s: %w", a.Name, err))
		if f.OnFailure != nil {
			f.OnFailure(a.Name, err)
		}
		if stop(err) {
			break
		}
	}

	if len(errs) == 0 {
		return zero, "", errors.New("billingsdk: no attempts configured")
	}
	return zero, "", errors.Join(errs...)
}

// DefaultStopOn stops on cancellation and on authentication failures, where
// another endpoint would fail the same way.
func DefaultStopOn(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, ErrSessionExpired) || errors.Is(err, ErrUnauthorized) {
		return true
	}
	switch StatusCode(err) {
	case http.StatusUnauthorized, http.StatusForbidden:
		return true
	}
	return false
}
