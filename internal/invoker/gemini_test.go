package invoker

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/kazz187/reviewguild/internal/agent"
)

func TestCollectParts(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	guard := NewToolGuard(&agent.Definition{ID: "tech-writer", Tools: []string{"Read"}})
	got := collectParts(context.Background(), guard, []*genai.Part{
		{Text: "first "},
		{FunctionCall: &genai.FunctionCall{Name: "Read", Args: map[string]any{"file_path": "README.md"}}},
		{FunctionCall: &genai.FunctionCall{Name: "Bash", Args: map[string]any{"command": "rm -rf /"}}},
		{Text: "second"},
	})

	assert.Equal(t, "first second", got)
	require.NotNil(t, guard.Violation())
	assert.Equal(t, "Bash", guard.Violation().Tool)
	assert.Contains(t, buf.String(), "tool request denied")
	assert.Contains(t, buf.String(), "tool=Bash")
	assert.Len(t, guard.Trace(), 2)
}
