package invoker

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"
)

var (
	rateLimitMarkers   = []string{"429", "resource_exhausted", "rate limit", "rate_limit", "too many requests", "overloaded"}
	unavailableMarkers = []string{"503", "502", "unavailable", "bad gateway", "connection reset", "connection refused", "broken pipe", "eof"}
)

// classifyError turns a raw backend error into a *ModelError. Errors already
// classified are returned unchanged; context errors are left alone so the
// caller can tell cancellation from failure.
func classifyError(backend string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := AsModelError(err); ok {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return NewModelError(KindTimeout, backend, err)
		}
		return NewModelError(KindTransport, backend, err)
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return NewModelError(KindTransport, backend, err)
	}
	msg := strings.ToLower(err.Error())
	if containsAny(msg, rateLimitMarkers) {
		return NewModelError(KindRateLimit, backend, err)
	}
	if containsAny(msg, unavailableMarkers) {
		return NewModelError(KindTransport, backend, err)
	}
	return NewModelError(KindBackend, backend, err)
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
