package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazz187/reviewguild/internal/agent"
	"github.com/kazz187/reviewguild/internal/event"
	"github.com/kazz187/reviewguild/internal/invoker"
	"github.com/kazz187/reviewguild/internal/pipeline"
	"github.com/kazz187/reviewguild/internal/pipeline/repositoryimpl"
	"github.com/kazz187/reviewguild/internal/projectcontext"
	"github.com/kazz187/reviewguild/internal/review"
	"github.com/kazz187/reviewguild/internal/server"
	"github.com/kazz187/reviewguild/internal/task"
	"github.com/kazz187/reviewguild/pkg/storage"
)

type gatedInvoker struct {
	gate chan struct{}
}

func (g *gatedInvoker) Invoke(ctx context.Context, call invoker.Call) (*task.AgentOutput, error) {
	if call.Agent.IsProducer() {
		select {
		case <-g.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	content := "done"
	if call.Agent.IsReviewer() {
		content = "VERDICT: accept"
	}
	return &task.AgentOutput{AgentID: call.Agent.ID, TaskID: call.Task.ID, Attempt: call.Attempt, Content: content}, nil
}

func newTestServer(t *testing.T, apiKey string, gate chan struct{}) (*httptest.Server, *event.Bus, string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "docs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "docs", "TASKS.md"), []byte("# Tasks\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "docs", "SPEC.md"), []byte("# Spec\n"), 0o644))

	reg, err := agent.NewRegistry(agent.DefaultCatalog())
	require.NoError(t, err)
	loader, err := projectcontext.NewLoader(2)
	require.NoError(t, err)
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	repo := repositoryimpl.NewYAMLRepository(store)
	bus := event.NewBus()
	inv := &gatedInvoker{gate: gate}
	coord := pipeline.NewCoordinator(reg, inv, review.NewChain(reg, inv),
		pipeline.WithRepository(repo), pipeline.WithPublisher(bus))

	runs := server.NewRunService(ctx, coord, loader, reg, repo, bus, pipeline.DefaultOptions())
	srv := httptest.NewServer(server.NewServer(server.Config{APIKey: apiKey}, runs).Handler())
	t.Cleanup(srv.Close)
	return srv, bus, root
}

func TestRunClient_StartWatchGet(t *testing.T) {
	gate := make(chan struct{})
	srv, bus, root := newTestServer(t, "k", gate)
	c := NewRunClient(srv.URL+"/", WithAPIKey("k"), WithHTTPClient(srv.Client()))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	run, err := c.StartRun(ctx, StartRunRequest{
		ProjectRoot: root,
		Tasks:       []*task.Task{{ID: "api", AgentID: "backend-engineer"}},
	})
	require.NoError(t, err)

	go func() {
		for bus.Subscribers() == 0 {
			time.Sleep(time.Millisecond)
		}
		close(gate)
	}()
	var last event.Type
	err = c.Watch(ctx, run.ID, func(e *event.Event) error {
		last = e.Type
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, event.RunFinished, last)

	require.Eventually(t, func() bool {
		got, err := c.GetRun(ctx, run.ID)
		return err == nil && got.Status == pipeline.RunCompleted
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRunClient_Errors(t *testing.T) {
	srv, _, root := newTestServer(t, "k", make(chan struct{}))
	ctx := context.Background()

	_, err := NewRunClient(srv.URL, WithHTTPClient(srv.Client())).GetRun(ctx, "x")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)

	c := NewRunClient(srv.URL, WithAPIKey("k"), WithHTTPClient(srv.Client()))
	_, err = c.StartRun(ctx, StartRunRequest{ProjectRoot: root})
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "invalid_argument", apiErr.Code)
	assert.Contains(t, apiErr.Error(), "tasks")

	run, err := c.StartRun(ctx, StartRunRequest{ProjectRoot: root, Tasks: []*task.Task{{ID: "api", AgentID: "backend-engineer"}}})
	require.NoError(t, err)
	cancelled, err := c.CancelRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, task.ReasonCancelled, cancelled.Task("api").Task.FailureReason)
}
