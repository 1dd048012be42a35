package repositoryimpl

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazz187/reviewguild/internal/pipeline"
	"github.com/kazz187/reviewguild/internal/task"
	"github.com/kazz187/reviewguild/pkg/cerr"
	"github.com/kazz187/reviewguild/pkg/storage"
)

func newRepo(t *testing.T) *YAMLRepository {
	t.Helper()
	s, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	return NewYAMLRepository(s)
}

func sampleRun(id string) *pipeline.Run {
	started := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	finished := started.Add(time.Minute)
	return &pipeline.Run{
		ID:     id,
		Status: pipeline.RunCompleted,
		Tasks: []*pipeline.TaskState{{
			Task: &task.Task{ID: "api", AgentID: "backend-engineer", Status: task.StatusAccepted},
			Attempts: []pipeline.Attempt{{
				Number: 1,
				Output: &task.AgentOutput{AgentID: "backend-engineer", TaskID: "api", Attempt: 1, Content: "done"},
				Verdicts: []task.ReviewVerdict{
					{Verdict: task.VerdictAccept, ReviewerID: "qa-reviewer", ReviewerRole: "QA"},
					{Verdict: task.VerdictAccept, ReviewerID: "scope-guardian", ReviewerRole: "Guardian"},
				},
				StartedAt: started,
			}},
		}},
		Options:    pipeline.DefaultOptions(),
		StartedAt:  started,
		FinishedAt: &finished,
	}
}

func TestYAMLRepository_SaveGet(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	run := sampleRun("01JA0000000000000000000001")

	require.NoError(t, repo.Save(ctx, run))
	got, err := repo.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.Status, got.Status)
	assert.Equal(t, run.Options, got.Options)
	require.Len(t, got.Tasks, 1)
	assert.Equal(t, "done", got.Tasks[0].FinalOutput().Content)
	assert.Len(t, got.Tasks[0].Attempts[0].Verdicts, 2)
	assert.True(t, run.FinishedAt.Equal(*got.FinishedAt))

	run.Status = pipeline.RunFailed
	require.NoError(t, repo.Save(ctx, run))
	got, err = repo.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, pipeline.RunFailed, got.Status)
}

func TestYAMLRepository_GetMissing(t *testing.T) {
	_, err := newRepo(t).Get(context.Background(), "nope")
	assert.True(t, cerr.IsCode(err, cerr.NotFound))

	_, err = newRepo(t).Get(context.Background(), "../etc/passwd")
	assert.True(t, cerr.IsCode(err, cerr.InvalidArgument))
}

func TestYAMLRepository_List(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	empty, err := repo.List(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, empty)

	for _, id := range []string{"01JA0000000000000000000001", "01JA0000000000000000000003", "01JA0000000000000000000002"} {
		require.NoError(t, repo.Save(ctx, sampleRun(id)))
	}
	runs, err := repo.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "01JA0000000000000000000003", runs[0].ID)
	assert.Equal(t, "01JA0000000000000000000001", runs[2].ID)

	limited, err := repo.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}
