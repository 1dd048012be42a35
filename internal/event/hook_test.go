package event

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHookExecutor_Execute(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.txt")
	other := filepath.Join(dir, "other.txt")

	exec := NewHookExecutor([]Hook{
		{
			Name:    "record",
			Event:   TaskFailed,
			Command: `printf '%s %s %s' "$REVIEWGUILD_EVENT_TYPE" "$REVIEWGUILD_EVENT_RUN_ID" "$REVIEWGUILD_EVENT_TASK_ID" > ` + out,
			Timeout: 5,
		},
		{
			Name:    "ignored",
			Event:   TaskAccepted,
			Command: "touch " + other,
		},
	})
	e, err := New(TaskFailed, "run1", "api", TaskFailedData{Reason: "timeout"})
	require.NoError(t, err)

	require.NoError(t, exec.Execute(context.Background(), e))
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "task.failed run1 api", string(data))
	assert.NoFileExists(t, other)
}

func TestHookExecutor_EventData(t *testing.T) {
	out := filepath.Join(t.TempDir(), "data.json")
	exec := NewHookExecutor([]Hook{{Name: "data", Event: TaskFailed, Command: `printf '%s' "$REVIEWGUILD_EVENT_DATA" > ` + out}})
	e, err := New(TaskFailed, "run1", "api", TaskFailedData{Reason: "aborted"})
	require.NoError(t, err)
	require.NoError(t, exec.Execute(context.Background(), e))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.JSONEq(t, `{"reason":"aborted"}`, string(data))
}

func TestHookExecutor_Failure(t *testing.T) {
	exec := NewHookExecutor([]Hook{
		{Name: "fails", Event: RunFinished, Command: "echo nope; exit 3"},
		{Name: "ok", Event: RunFinished, Command: "true"},
	})
	e, err := New(RunFinished, "run1", "", nil)
	require.NoError(t, err)

	err = exec.Execute(context.Background(), e)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hook fails")
	assert.Contains(t, err.Error(), "nope")
}

func TestHookExecutor_Timeout(t *testing.T) {
	exec := NewHookExecutor([]Hook{{Name: "slow", Event: RunStarted, Command: "sleep 5", Timeout: 1}})
	e, err := New(RunStarted, "run1", "", nil)
	require.NoError(t, err)
	assert.Error(t, exec.Execute(context.Background(), e))
}

func TestLoadHooks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hooks.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`hooks:
  - name: notify
    event: run.finished
    command: echo done
    timeout: 10
`), 0o644))
	hooks, err := LoadHooks(path)
	require.NoError(t, err)
	require.Len(t, hooks, 1)
	assert.Equal(t, Hook{Name: "notify", Event: RunFinished, Command: "echo done", Timeout: 10}, hooks[0])

	require.NoError(t, os.WriteFile(path, []byte("hooks:\n  - name: broken\n    event: run.finished\n"), 0o644))
	_, err = LoadHooks(path)
	assert.Error(t, err)
}
