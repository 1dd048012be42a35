package cerr

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/kazz187/reviewguild/pkg/clog"
)

type responseKey struct{}

type response struct {
	status int
	body   any
	err    error
}

// SetJSONResponse records the body written by JSONMiddleware once the
// handler returns.
func SetJSONResponse(ctx context.Context, body any) {
	SetJSONResponseWithStatus(ctx, http.StatusOK, body)
}

func SetJSONResponseWithStatus(ctx context.Context, status int, body any) {
	if r, ok := ctx.Value(responseKey{}).(*response); ok {
		r.status = status
		r.body = body
	}
}

func SetJSONError(ctx context.Context, err error) {
	if r, ok := ctx.Value(responseKey{}).(*response); ok {
		r.err = err
	}
}

func SetNewJSONError(ctx context.Context, code Code, msg string, err error) {
	SetJSONError(ctx, NewError(code, msg, err))
}

type httpError struct {
	Code       string   `json:"code"`
	Message    string   `json:"message"`
	Violations []string `json:"violations,omitempty"`
}

// JSONMiddleware lets handlers report results through SetJSONResponse and
// SetJSONError instead of writing to the ResponseWriter themselves.
func JSONMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			resp := &response{status: http.StatusOK}
			ctx := context.WithValue(r.Context(), responseKey{}, resp)
			next.ServeHTTP(w, r.WithContext(ctx))
			if resp.err != nil {
				e := Normalize(ctx, resp.err)
				writeJSON(ctx, w, e.Code.HTTPCode(), httpError{
					Code:       e.Code.String(),
					Message:    e.Msg,
					Violations: e.Violations(),
				})
				return
			}
			if resp.body != nil {
				writeJSON(ctx, w, resp.status, resp.body)
			}
		})
	}
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, body any) {
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(body); err != nil {
		clog.AddError(ctx, err)
		status = http.StatusInternalServerError
		buf = bytes.NewBufferString(`{"code":"internal","message":"server error"}`)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		clog.AddError(ctx, err)
	}
}
