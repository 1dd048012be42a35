// Package invoker runs single agent calls against a model backend, enforcing
// the agent's tool permissions and classifying backend failures.
package invoker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kazz187/reviewguild/internal/agent"
	"github.com/kazz187/reviewguild/internal/projectcontext"
	"github.com/kazz187/reviewguild/internal/task"
	"github.com/kazz187/reviewguild/pkg/cerr"
	"github.com/kazz187/reviewguild/pkg/clog"
	"github.com/kazz187/reviewguild/pkg/worktree"
)

const (
	DefaultTimeout      = 10 * time.Minute
	DefaultRetryBackoff = 2 * time.Second
)

// Call is everything one agent invocation sees.
type Call struct {
	RunID   string
	Agent   *agent.Definition
	Task    *task.Task
	Context *projectcontext.ProjectContext
	// Attempt numbers producer outputs from 1. Reviewers use the attempt of
	// the subject.
	Attempt int

	// Producer revisions.
	Previous     *task.AgentOutput
	Feedback     string
	Dependencies []*task.AgentOutput

	// Reviewer calls.
	Subject       *task.AgentOutput
	PriorVerdicts []task.ReviewVerdict
}

type Invoker struct {
	backend      Backend
	timeout      time.Duration
	retryBackoff time.Duration
	isolate      bool
	now          func() time.Time
}

type Option func(*Invoker)

func WithTimeout(d time.Duration) Option {
	return func(i *Invoker) { i.timeout = d }
}

func WithRetryBackoff(d time.Duration) Option {
	return func(i *Invoker) { i.retryBackoff = d }
}

// WithIsolatedWorkspaces asks the backend to run each producer task in its
// own workspace named after the run and task.
func WithIsolatedWorkspaces(enabled bool) Option {
	return func(i *Invoker) { i.isolate = enabled }
}

func WithClock(now func() time.Time) Option {
	return func(i *Invoker) { i.now = now }
}

func New(backend Backend, opts ...Option) *Invoker {
	i := &Invoker{
		backend:      backend,
		timeout:      DefaultTimeout,
		retryBackoff: DefaultRetryBackoff,
		now:          time.Now,
	}
	for _, o := range opts {
		o(i)
	}
	return i
}

func (i *Invoker) BackendName() string {
	return i.backend.Name()
}

// Invoke runs the agent once. A transport failure is retried a single time;
// every other failure is returned as is. Tool violations come back as
// *ToolViolationError, backend failures as *ModelError, and cancellation of
// ctx as ctx.Err().
func (i *Invoker) Invoke(ctx context.Context, call Call) (*task.AgentOutput, error) {
	if call.Agent == nil || call.Task == nil {
		return nil, cerr.NewError(cerr.InvalidArgument, "call requires an agent and a task", nil)
	}
	ctx = clog.With(ctx, map[string]any{
		clog.AgentIDKey: call.Agent.ID,
		clog.TaskIDKey:  call.Task.ID,
		clog.AttemptKey: call.Attempt,
	})

	system, err := renderSystemPrompt(call.Agent, call.Task)
	if err != nil {
		return nil, err
	}
	guard := NewToolGuard(call.Agent)
	req := &Request{
		AgentID:      call.Agent.ID,
		SystemPrompt: system,
		Prompt:       renderUserPrompt(&call),
		Tier:         call.Agent.ModelTier,
		Guard:        guard,
	}
	if i.isolate && call.Agent.IsProducer() && call.RunID != "" {
		req.Workspace = worktree.Name(call.RunID, call.Task.ID)
	}

	var resp *Response
	for try := 0; ; try++ {
		resp, err = i.once(ctx, req)
		if err == nil {
			break
		}
		me, ok := AsModelError(err)
		if !ok || me.Kind != KindTransport || try > 0 {
			return nil, err
		}
		slog.WarnContext(ctx, "transport error, retrying once", "backend", i.backend.Name(), "error", err, "backoff", i.retryBackoff)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(i.retryBackoff):
		}
	}

	out := task.AgentOutput{
		AgentID:   call.Agent.ID,
		TaskID:    call.Task.ID,
		Attempt:   call.Attempt,
		Content:   resp.Content,
		ToolCalls: guard.Trace(),
		Usage:     resp.Usage,
		SessionID: resp.SessionID,
		CreatedAt: i.now(),
	}
	slog.DebugContext(ctx, "agent invocation finished",
		"backend", i.backend.Name(), "tool_calls", len(out.ToolCalls), "total_tokens", out.Usage.TotalTokens)
	if call.Agent.IsReviewer() {
		return &out, nil
	}
	return out.WithPrevious(call.Previous), nil
}

func (i *Invoker) once(ctx context.Context, req *Request) (*Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	resp, err := i.backend.Complete(callCtx, req)
	if v := req.Guard.Violation(); v != nil {
		return nil, v
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, NewModelError(KindTimeout, i.backend.Name(), fmt.Errorf("no reply within %s: %w", i.timeout, err))
		}
		if _, ok := AsModelError(err); ok {
			return nil, err
		}
		return nil, NewModelError(KindBackend, i.backend.Name(), err)
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return nil, NewModelError(KindMalformed, i.backend.Name(), errors.New("empty reply"))
	}
	return resp, nil
}
