package invoker

import (
	"fmt"
	"maps"
	"strings"
	"sync"

	"github.com/kazz187/reviewguild/internal/agent"
	"github.com/kazz187/reviewguild/internal/task"
	"github.com/kazz187/reviewguild/pkg/shellcmd"
)

const bashTool = "Bash"

// patternFields are the input keys matched against "Tool(pattern)" rules
// for tools other than Bash.
var patternFields = []string{"file_path", "path", "pattern", "url", "query"}

type toolRule struct {
	tool    string
	pattern string
}

// parseToolRule splits "Bash(go test *)" into ("Bash", "go test *").
func parseToolRule(s string) toolRule {
	s = strings.TrimSpace(s)
	open := strings.Index(s, "(")
	if open < 0 || !strings.HasSuffix(s, ")") {
		return toolRule{tool: s}
	}
	return toolRule{tool: s[:open], pattern: s[open+1 : len(s)-1]}
}

// ToolGuard enforces one agent's permitted tool set for the duration of a
// single invocation and keeps the trace of every tool request it judged.
// Backends must call Check before dispatching any tool.
type ToolGuard struct {
	agentID string
	// open holds tools permitted without restriction.
	open map[string]struct{}
	// patterns holds the allowed patterns of restricted tools.
	patterns map[string][]string

	mu        sync.Mutex
	trace     []task.ToolCall
	violation *ToolViolationError
}

func NewToolGuard(def *agent.Definition) *ToolGuard {
	g := &ToolGuard{
		agentID:  def.ID,
		open:     make(map[string]struct{}),
		patterns: make(map[string][]string),
	}
	for _, entry := range def.Tools {
		r := parseToolRule(entry)
		if r.tool == "" {
			continue
		}
		if r.pattern == "" {
			g.open[r.tool] = struct{}{}
			continue
		}
		g.patterns[r.tool] = append(g.patterns[r.tool], r.pattern)
	}
	return g
}

// Permitted lists the tool names the agent may request at all.
func (g *ToolGuard) Permitted() []string {
	var out []string
	for name := range g.open {
		out = append(out, name)
	}
	for name := range g.patterns {
		if _, dup := g.open[name]; !dup {
			out = append(out, name)
		}
	}
	return out
}

// Check judges one tool request. A denied request is recorded as the
// guard's violation and returned as a *ToolViolationError.
func (g *ToolGuard) Check(tool string, input map[string]any) error {
	detail, ok := g.allowed(tool, input)
	g.mu.Lock()
	defer g.mu.Unlock()
	g.trace = append(g.trace, task.ToolCall{Name: tool, Input: maps.Clone(input), Allowed: ok})
	if ok {
		return nil
	}
	v := &ToolViolationError{AgentID: g.agentID, Tool: tool, Detail: detail}
	if g.violation == nil {
		g.violation = v
	}
	return v
}

func (g *ToolGuard) allowed(tool string, input map[string]any) (string, bool) {
	if _, ok := g.open[tool]; ok {
		return "", true
	}
	patterns, ok := g.patterns[tool]
	if !ok {
		return "", false
	}
	if tool == bashTool {
		command, _ := input["command"].(string)
		cmds, err := shellcmd.SimpleCommands(command)
		if err != nil {
			return err.Error(), false
		}
		if len(cmds) == 0 {
			return "empty command", false
		}
		for _, c := range cmds {
			if !matchAny(patterns, c) {
				return fmt.Sprintf("command %q is not allowed", c), false
			}
		}
		return "", true
	}
	for _, key := range patternFields {
		if v, ok := input[key].(string); ok && matchAny(patterns, v) {
			return "", true
		}
	}
	return "input does not match any allowed pattern", false
}

func matchAny(patterns []string, v string) bool {
	for _, p := range patterns {
		if shellcmd.MatchGlob(p, v) {
			return true
		}
	}
	return false
}

func (g *ToolGuard) Trace() []task.ToolCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]task.ToolCall(nil), g.trace...)
}

// Violation returns the first denied request, or nil.
func (g *ToolGuard) Violation() *ToolViolationError {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.violation
}
