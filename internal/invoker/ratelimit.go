package invoker

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// RateLimited wraps a backend with a token bucket shared by every caller.
type RateLimited struct {
	Backend
	limiter *rate.Limiter
}

// NewRateLimited allows perMinute calls per minute with a burst of one.
// A non positive perMinute disables limiting.
func NewRateLimited(b Backend, perMinute int) *RateLimited {
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(perMinute))
	}
	return &RateLimited{Backend: b, limiter: rate.NewLimiter(limit, 1)}
}

func (r *RateLimited) Complete(ctx context.Context, req *Request) (*Response, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, NewModelError(KindRateLimit, r.Name(), err)
	}
	return r.Backend.Complete(ctx, req)
}
