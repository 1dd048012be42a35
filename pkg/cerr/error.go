package cerr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"

	"buf.build/gen/go/bufbuild/protovalidate/protocolbuffers/go/buf/validate"
	"connectrpc.com/connect"
	"google.golang.org/protobuf/proto"

	"github.com/kazz187/reviewguild/pkg/clog"
)

// Error is the error type crossing package boundaries. Msg is what callers
// of the API see; Err is kept for logs only.
type Error struct {
	Code    Code
	Msg     string
	Err     error
	Stack   string
	Details []proto.Message
}

func NewError(code Code, msg string, underlying error) *Error {
	e := &Error{Code: code, Msg: msg, Err: underlying}
	if clog.ConnectCodeToLevel(code.ConnectCode()) >= slog.LevelError {
		buf := make([]byte, 2048)
		n := runtime.Stack(buf, false)
		e.Stack = string(buf[:n])
	}
	return e
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("[%s] %s", e.Code, e.Msg)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Msg, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// AddViolation attaches a field level validation message that is returned
// to the caller alongside the code.
func (e *Error) AddViolation(field, msg string) *Error {
	v := &validate.Violation{Message: proto.String(msg)}
	if field != "" {
		v.RuleId = proto.String(field)
	}
	e.Details = append(e.Details, v)
	return e
}

func (e *Error) Violations() []string {
	var out []string
	for _, d := range e.Details {
		v, ok := d.(*validate.Violation)
		if !ok {
			continue
		}
		if v.GetRuleId() != "" {
			out = append(out, v.GetRuleId()+": "+v.GetMessage())
		} else {
			out = append(out, v.GetMessage())
		}
	}
	return out
}

func (e *Error) ConnectError() *connect.Error {
	ce := connect.NewError(e.Code.ConnectCode(), errors.New(e.Msg))
	for _, d := range e.Details {
		detail, err := connect.NewErrorDetail(d)
		if err != nil {
			continue
		}
		ce.AddDetail(detail)
	}
	return ce
}

func IsCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// Normalize turns any error into an *Error, recording the original on the
// log scope of ctx.
func Normalize(ctx context.Context, err error) *Error {
	if errors.Is(err, context.Canceled) {
		return NewError(Canceled, "connection closed", err)
	}
	clog.AddError(ctx, err)
	var e *Error
	if errors.As(err, &e) {
		if e.Stack != "" {
			clog.AddStack(ctx, e.Stack)
		}
		return e
	}
	return NewError(Unknown, "unknown error", err)
}
