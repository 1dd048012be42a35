package invoker

import (
	"context"
	"errors"
	"log/slog"

	claudeagent "github.com/kazz187/claude-agent-sdk-go"

	"github.com/kazz187/reviewguild/internal/agent"
	"github.com/kazz187/reviewguild/pkg/worktree"
)

const claudeBackendName = "claude"

// claudeTurns bounds the agentic loop per tier.
var claudeTurns = map[agent.ModelTier]int{
	agent.TierFast:     4,
	agent.TierBalanced: 12,
	agent.TierDeep:     30,
}

// ClaudeBackend runs agents through the Claude Code CLI. Every tool use is
// routed through CanUseTool and judged by the request's guard.
type ClaudeBackend struct {
	workDir   string
	worktrees *worktree.Manager
}

type ClaudeOption func(*ClaudeBackend)

// WithWorktrees runs requests that name a workspace inside a dedicated git
// worktree.
func WithWorktrees(m *worktree.Manager) ClaudeOption {
	return func(b *ClaudeBackend) { b.worktrees = m }
}

func NewClaudeBackend(workDir string, opts ...ClaudeOption) *ClaudeBackend {
	b := &ClaudeBackend{workDir: workDir}
	for _, o := range opts {
		o(b)
	}
	return b
}

func (b *ClaudeBackend) Name() string { return claudeBackendName }

func (b *ClaudeBackend) Complete(ctx context.Context, req *Request) (*Response, error) {
	cwd := b.workDir
	if b.worktrees != nil && req.Workspace != "" {
		path, err := b.worktrees.Ensure(ctx, req.Workspace)
		if err != nil {
			return nil, NewModelError(KindBackend, claudeBackendName, err)
		}
		cwd = path
	}

	maxTurns, ok := claudeTurns[req.Tier]
	if !ok {
		maxTurns = claudeTurns[agent.TierBalanced]
	}
	guard := req.Guard
	opts := &claudeagent.ClaudeAgentOptions{
		SystemPrompt:   req.SystemPrompt,
		Cwd:            cwd,
		PermissionMode: claudeagent.PermissionModeDefault,
		MaxTurns:       &maxTurns,
		CanUseTool: func(toolName string, input map[string]any, _ claudeagent.ToolPermissionContext) (claudeagent.PermissionResult, error) {
			if err := guard.Check(toolName, input); err != nil {
				slog.WarnContext(ctx, "tool request denied", "tool", toolName, "error", err)
				return claudeagent.PermissionResultDeny{Message: err.Error()}, nil
			}
			return claudeagent.PermissionResultAllow{}, nil
		},
		StderrCallback: func(line string) {
			slog.DebugContext(ctx, "claude stderr", "line", line)
		},
	}

	result, err := claudeagent.RunQuerySync(ctx, req.Prompt, opts)
	if err != nil {
		return nil, classifyError(claudeBackendName, err)
	}
	if result.Result == nil {
		return nil, NewModelError(KindMalformed, claudeBackendName, errors.New("no result message"))
	}
	if result.Result.IsError {
		msg := result.Result.Result
		if msg == "" {
			msg = "claude returned an error"
		}
		return nil, classifyError(claudeBackendName, errors.New(msg))
	}
	resp := &Response{
		Content:   result.Result.Result,
		SessionID: result.Result.SessionID,
	}
	resp.Usage.Backend = claudeBackendName
	resp.Usage.Model = string(req.Tier)
	return resp, nil
}
