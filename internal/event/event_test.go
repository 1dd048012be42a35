package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazz187/reviewguild/internal/task"
)

func TestNewAndDecode(t *testing.T) {
	e, err := New(TaskFailed, "run1", "api", TaskFailedData{Reason: task.ReasonRevisionBudgetExhausted, Error: "x"})
	require.NoError(t, err)
	assert.Equal(t, TaskFailed, e.Type)
	assert.JSONEq(t, `{"reason":"revision_budget_exhausted","error":"x"}`, string(e.Data))

	data, err := Decode[TaskFailedData](e)
	require.NoError(t, err)
	assert.Equal(t, task.ReasonRevisionBudgetExhausted, data.Reason)

	empty, err := New(RunStarted, "run1", "", nil)
	require.NoError(t, err)
	assert.Empty(t, empty.Data)
	_, err = Decode[RunStartedData](empty)
	assert.NoError(t, err)

	_, err = New(TaskOutput, "run1", "api", make(chan int))
	assert.Error(t, err)
}

func TestNew_UniqueIDs(t *testing.T) {
	seen := make(map[string]struct{})
	for range 100 {
		e, err := New(TaskDispatched, "r", "t", nil)
		require.NoError(t, err)
		_, dup := seen[e.ID]
		require.False(t, dup)
		seen[e.ID] = struct{}{}
	}
}
