package invoker

import (
	"context"

	"github.com/kazz187/reviewguild/internal/agent"
	"github.com/kazz187/reviewguild/internal/task"
)

// Backend performs one completion against a language model. Implementations
// must pass every tool request through Request.Guard before executing it.
type Backend interface {
	Name() string
	Complete(ctx context.Context, req *Request) (*Response, error)
}

type Request struct {
	AgentID      string
	SystemPrompt string
	Prompt       string
	Tier         agent.ModelTier
	Guard        *ToolGuard
	// Workspace names an isolated working copy for the call. Empty means
	// the backend's default working directory.
	Workspace string
}

type Response struct {
	Content   string
	SessionID string
	Usage     task.Usage
}
