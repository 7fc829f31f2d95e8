package chain

import (
	"context"
	"errors"
)

// RetryOnce runs fn and, if it failed with ErrUnavailable and ctx is still
// live, runs it exactly once more.
func RetryOnce[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	v, err := fn(ctx)
	if err == nil || !errors.Is(err, ErrUnavailable) || ctx.Err() != nil {
		return v, err
	}
	return fn(ctx)
}
