package clog

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

type chiConfig struct {
	skip func(r *http.Request) bool
}

type ChiOption func(*chiConfig)

// WithChiSkip suppresses the access log line for requests matching skip.
func WithChiSkip(skip func(r *http.Request) bool) ChiOption {
	return func(cfg *chiConfig) {
		cfg.skip = skip
	}
}

// SlogChiMiddleware opens a log scope per request and writes one access
// line when the handler returns.
func SlogChiMiddleware(opts ...ChiOption) func(http.Handler) http.Handler {
	cfg := chiConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			ctx := With(r.Context(), map[string]any{
				"method":    r.Method,
				"procedure": r.URL.Path,
			})
			next.ServeHTTP(ww, r.WithContext(ctx))
			if cfg.skip != nil && cfg.skip(r) {
				return
			}
			AddAttributes(ctx, map[string]any{
				"status":        ww.Status(),
				"bytes_written": ww.BytesWritten(),
				"duration":      time.Since(start),
			})
			LogStatus(ctx, ww.Status(), "")
		})
	}
}
