package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/kazz187/reviewguild/internal/invoker"
	"github.com/kazz187/reviewguild/pkg/panicerr"
)

const maxRetryBackoff = 5 * time.Minute

// withRetries retries fn on transient model errors up to opts.ModelRetries
// times, doubling the wait each time.
func withRetries[T any](ctx context.Context, opts Options, fn func(context.Context) (T, error)) (T, error) {
	backoff := opts.RetryBackoff
	for try := 0; ; try++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		me, ok := invoker.AsModelError(err)
		if !ok || !me.Transient() || try >= opts.ModelRetries {
			return v, err
		}
		slog.WarnContext(ctx, "transient model error, retrying",
			"kind", me.Kind, "retry", try+1, "max_retries", opts.ModelRetries, "backoff", backoff, "error", err)
		select {
		case <-ctx.Done():
			return v, ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxRetryBackoff)
	}
}

// safely turns a panic inside fn into an error.
func safely(ctx context.Context, fn func(context.Context) error) error {
	return panicerr.SafeContext(fn)(ctx)
}
