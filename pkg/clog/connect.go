package clog

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"connectrpc.com/connect"
)

// NewSlogConnectInterceptor logs one line per finished unary call and one
// pair of lines (connected / finished) per server stream.
func NewSlogConnectInterceptor() connect.Interceptor {
	return &slogConnectInterceptor{}
}

type slogConnectInterceptor struct{}

func (i *slogConnectInterceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		start := time.Now()
		ctx = With(ctx, map[string]any{
			"method":      req.HTTPMethod(),
			"procedure":   req.Spec().Procedure,
			"stream_type": req.Spec().StreamType.String(),
		})
		resp, err := next(ctx, req)
		finish(ctx, start, err)
		return resp, err
	}
}

func (i *slogConnectInterceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return next
}

func (i *slogConnectInterceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return func(ctx context.Context, conn connect.StreamingHandlerConn) error {
		start := time.Now()
		ctx = With(ctx, map[string]any{
			"procedure":   conn.Spec().Procedure,
			"stream_type": conn.Spec().StreamType.String(),
		})
		slog.InfoContext(ctx, "Connected")
		err := next(ctx, conn)
		finish(ctx, start, err)
		return err
	}
}

func finish(ctx context.Context, start time.Time, err error) {
	code := "ok"
	var cErr *connect.Error
	if err != nil {
		if !errors.As(err, &cErr) {
			cErr = connect.NewError(connect.CodeUnknown, err)
		}
		code = cErr.Code().String()
	}
	AddAttributes(ctx, map[string]any{
		"code":     code,
		"duration": time.Since(start),
	})
	if cErr == nil {
		slog.InfoContext(ctx, "Finished")
		return
	}
	slog.Log(ctx, ConnectCodeToLevel(cErr.Code()), cErr.Message())
}
