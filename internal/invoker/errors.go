package invoker

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindTransport ErrorKind = "transport"
	KindRateLimit ErrorKind = "rate_limit"
	KindTimeout   ErrorKind = "timeout"
	KindMalformed ErrorKind = "malformed"
	KindBackend   ErrorKind = "backend"
)

// ModelError is a failed call to the language model backend.
type ModelError struct {
	Kind    ErrorKind
	Backend string
	Err     error
}

func (e *ModelError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("model error (%s, %s)", e.Backend, e.Kind)
	}
	return fmt.Sprintf("model error (%s, %s): %s", e.Backend, e.Kind, e.Err)
}

func (e *ModelError) Unwrap() error {
	return e.Err
}

// Transient reports whether retrying the same call later may succeed.
func (e *ModelError) Transient() bool {
	switch e.Kind {
	case KindTransport, KindRateLimit, KindTimeout:
		return true
	}
	return false
}

func NewModelError(kind ErrorKind, backend string, err error) *ModelError {
	return &ModelError{Kind: kind, Backend: backend, Err: err}
}

func AsModelError(err error) (*ModelError, bool) {
	var me *ModelError
	if errors.As(err, &me) {
		return me, true
	}
	return nil, false
}

// ToolViolationError means the agent asked for a tool outside its permitted
// set. The request was denied before it reached the tool.
type ToolViolationError struct {
	AgentID string
	Tool    string
	Detail  string
}

func (e *ToolViolationError) Error() string {
	msg := fmt.Sprintf("agent %s attempted tool %q outside its permitted set", e.AgentID, e.Tool)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func AsToolViolation(err error) (*ToolViolationError, bool) {
	var tv *ToolViolationError
	if errors.As(err, &tv) {
		return tv, true
	}
	return nil, false
}
