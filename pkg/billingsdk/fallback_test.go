package billingsdk

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFallbackRun(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	fail := func(err error) func(context.Context) (int, error) {
		return func(context.Context) (int, error) { return 0, err }
	}
	ok := func(v int) func(context.Context) (int, error) {
		return func(context.Context) (int, error) { return v, nil }
	}

	t.Run("first success wins", func(t *testing.T) {
		var failed []string
		chain := Fallback[int]{
			Attempts: []Attempt[int]{
				{Name: "a", Do: fail(&APIError{StatusCode: http.StatusNotFound})},
				{Name: "b", Do: ok(2)},
				{Name: "c", Do: ok(3)},
			},
			OnFailure: func(name string, _ error) { failed = append(failed, name) },
		}

		v, used, err := chain.Run(ctx)
		require.NoError(t, err)
		require.Equal(t, 2, v)
		require.Equal(t, "b", used)
		require.Equal(t, []string{"a"}, failed)
	})

	t.Run("joins every failure", func(t *testing.T) {
		chain := Fallback[int]{Attempts: []Attempt[int]{
			{Name: "a", Do: fail(&APIError{StatusCode: http.StatusNotFound, Message: "gone"})},
			{Name: "b", Do: fail(&APIError{StatusCode: http.StatusInternalServerError, Message: "boom"})},
		}}

		_, _, err := chain.Run(ctx)
		require.ErrorContains(t, err, "a: HTTP 404: gone")
		require.ErrorContains(t, err, "b: HTTP 500: boom")
	})

	t.Run("stops on auth failures", func(t *testing.T) {
		calls := 0
		chain := Fallback[int]{Attempts: []Attempt[int]{
			{Name: "a", Do: fail(sessionExpired(nil))},
			{Name: "b", Do: func(context.Context) (int, error) { calls++; return 1, nil }},
		}}

		_, _, err := chain.Run(ctx)
		require.ErrorIs(t, err, ErrSessionExpired)
		require.Zero(t, calls)
	})

	t.Run("stops when the context ends", func(t *testing.T) {
		ctx, cancel := context.WithCancel(ctx)
		chain := Fallback[int]{Attempts: []Attempt[int]{
			{Name: "a", Do: func(context.Context) (int, error) {
				cancel()
				return 0, errors.New("flaky")
			}},
			{Name: "b", Do: ok(2)},
		}}

		_, _, err := chain.Run(ctx)
		require.ErrorIs(t, err, context.Canceled)
	})

	t.Run("custom stop rule", func(t *testing.T) {
		chain := Fallback[int]{
			Attempts: []Attempt[int]{
				{Name: "a", Do: fail(&APIError{StatusCode: http.StatusUnauthorized})},
				{Name: "b", Do: ok(2)},
			},
			StopOn: func(error) bool { return false },
		}

		v, _, err := chain.Run(ctx)
		require.NoError(t, err)
		require.Equal(t, 2, v)
	})

	t.Run("empty chain", func(t *testing.T) {
		_, _, err := Fallback[int]{}.Run(ctx)
		require.Error(t, err)
	})
}

func TestBroadcaster(t *testing.T) {
	t.Parallel()

	var b Broadcaster
	var order []string
	unsubA := b.Subscribe(func(v bool) { order = append(order, "a") })
	b.Subscribe(func(v bool) { order = append(order, "b") })

	b.Publish(true)
	require.Equal(t, []string{"a", "b"}, order)
	require.True(t, b.Last())

	unsubA()
	unsubA()
	b.Publish(false)
	require.Equal(t, []string{"a", "b", "b"}, order)
	require.False(t, b.Last())
}
