package task

import (
	"strconv"
	"time"

	"github.com/pmezard/go-difflib/difflib"
)

type ToolCall struct {
	Name    string         `yaml:"name" json:"name"`
	Input   map[string]any `yaml:"input,omitempty" json:"input,omitempty"`
	Allowed bool           `yaml:"allowed" json:"allowed"`
}

type Usage struct {
	Backend      string `yaml:"backend,omitempty" json:"backend,omitempty"`
	Model        string `yaml:"model,omitempty" json:"model,omitempty"`
	InputTokens  int    `yaml:"input_tokens,omitempty" json:"input_tokens,omitempty"`
	OutputTokens int    `yaml:"output_tokens,omitempty" json:"output_tokens,omitempty"`
	TotalTokens  int    `yaml:"total_tokens,omitempty" json:"total_tokens,omitempty"`
}

// AgentOutput is the immutable result of one producer invocation. A
// revision produces a new AgentOutput.
type AgentOutput struct {
	AgentID   string     `yaml:"agent_id" json:"agent_id"`
	TaskID    string     `yaml:"task_id" json:"task_id"`
	Attempt   int        `yaml:"attempt" json:"attempt"`
	Content   string     `yaml:"content" json:"content"`
	ToolCalls []ToolCall `yaml:"tool_calls,omitempty" json:"tool_calls,omitempty"`
	Usage     Usage      `yaml:"usage" json:"usage"`
	SessionID string     `yaml:"session_id,omitempty" json:"session_id,omitempty"`
	// Diff is a unified diff against the previous attempt's content.
	Diff      string    `yaml:"diff,omitempty" json:"diff,omitempty"`
	CreatedAt time.Time `yaml:"created_at" json:"created_at"`
}

// WithPrevious returns a copy of o whose Diff describes the change from
// prev. A nil prev leaves Diff empty.
func (o AgentOutput) WithPrevious(prev *AgentOutput) *AgentOutput {
	out := o
	if prev == nil {
		return &out
	}
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(prev.Content),
		B:        difflib.SplitLines(o.Content),
		FromFile: attemptLabel(prev.Attempt),
		ToFile:   attemptLabel(o.Attempt),
		Context:  3,
	})
	if err == nil {
		out.Diff = diff
	}
	return &out
}

func attemptLabel(n int) string {
	return "attempt-" + strconv.Itoa(n)
}
