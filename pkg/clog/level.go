package clog

import (
	"context"
	"log/slog"
	"net/http"

	"connectrpc.com/connect"
)

func HTTPStatusToLevel(status int) slog.Level {
	switch {
	case status == 499:
		return slog.LevelInfo
	case status >= 100 && status < 400:
		return slog.LevelInfo
	case status >= 400 && status < 500:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

// ConnectCodeToLevel reports client-caused codes at info and server-side
// failures at error.
func ConnectCodeToLevel(code connect.Code) slog.Level {
	switch code {
	case connect.CodeCanceled,
		connect.CodeInvalidArgument,
		connect.CodeDeadlineExceeded,
		connect.CodeNotFound,
		connect.CodeAlreadyExists,
		connect.CodePermissionDenied,
		connect.CodeFailedPrecondition,
		connect.CodeAborted,
		connect.CodeOutOfRange,
		connect.CodeUnauthenticated:
		return slog.LevelInfo
	default:
		return slog.LevelError
	}
}

// LogStatus logs msg at the level implied by an HTTP status code.
func LogStatus(ctx context.Context, status int, msg string) {
	if msg == "" {
		msg = http.StatusText(status)
	}
	slog.Log(ctx, HTTPStatusToLevel(status), msg)
}
