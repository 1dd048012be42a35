package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kazz187/reviewguild/internal/agent"
	"github.com/kazz187/reviewguild/internal/invoker"
	"github.com/kazz187/reviewguild/internal/projectcontext"
	"github.com/kazz187/reviewguild/internal/review"
	"github.com/kazz187/reviewguild/internal/task"
)

type callRecord struct {
	agentID  string
	role     string
	taskID   string
	attempt  int
	feedback string
	previous *task.AgentOutput
	deps     []*task.AgentOutput
}

func (c callRecord) producer() bool {
	return c.role != agent.RoleQA && c.role != agent.RoleGuardian
}

// fakeInvoker plays every agent. decide picks the reply; nil means producers
// return a fixed text and reviewers accept.
type fakeInvoker struct {
	mu        sync.Mutex
	calls     []callRecord
	active    int
	maxActive int

	decide func(ctx context.Context, call invoker.Call) (string, error)
	delay  func() time.Duration
}

func (f *fakeInvoker) Invoke(ctx context.Context, call invoker.Call) (*task.AgentOutput, error) {
	rec := callRecord{
		agentID:  call.Agent.ID,
		role:     call.Agent.Role,
		taskID:   call.Task.ID,
		attempt:  call.Attempt,
		feedback: call.Feedback,
		previous: call.Previous,
		deps:     call.Dependencies,
	}
	f.mu.Lock()
	f.calls = append(f.calls, rec)
	if rec.producer() {
		f.active++
		f.maxActive = max(f.maxActive, f.active)
	}
	var d time.Duration
	if f.delay != nil {
		d = f.delay()
	}
	f.mu.Unlock()
	defer func() {
		if rec.producer() {
			f.mu.Lock()
			f.active--
			f.mu.Unlock()
		}
	}()

	if d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	content := fmt.Sprintf("output of %s attempt %d", call.Task.ID, call.Attempt)
	if !rec.producer() {
		content = "VERDICT: accept"
	}
	if f.decide != nil {
		c, err := f.decide(ctx, call)
		if err != nil {
			return nil, err
		}
		if c != "" {
			content = c
		}
	}
	return &task.AgentOutput{AgentID: call.Agent.ID, TaskID: call.Task.ID, Attempt: call.Attempt, Content: content}, nil
}

func (f *fakeInvoker) snapshot() []callRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]callRecord(nil), f.calls...)
}

func (f *fakeInvoker) peak() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxActive
}

func (f *fakeInvoker) forTask(id string) []callRecord {
	var out []callRecord
	for _, c := range f.snapshot() {
		if c.taskID == id {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeInvoker) producerCalls(id string) int {
	n := 0
	for _, c := range f.forTask(id) {
		if c.producer() {
			n++
		}
	}
	return n
}

type memoryRepo struct {
	mu   sync.Mutex
	runs map[string]*Run
	// saves counts Save calls.
	saves int
}

func (m *memoryRepo) Save(_ context.Context, r *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runs == nil {
		m.runs = make(map[string]*Run)
	}
	m.runs[r.ID] = r.clone()
	m.saves++
	return nil
}

func (m *memoryRepo) Get(_ context.Context, id string) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, fmt.Errorf("run %s not found", id)
	}
	return r.clone(), nil
}

func (m *memoryRepo) List(context.Context, int) ([]*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Run
	for _, r := range m.runs {
		out = append(out, r.clone())
	}
	return out, nil
}

func newTestCoordinator(t *testing.T, f *fakeInvoker, opts ...CoordinatorOption) *Coordinator {
	t.Helper()
	reg, err := agent.NewRegistry(agent.DefaultCatalog())
	require.NoError(t, err)
	return NewCoordinator(reg, f, review.NewChain(reg, f), opts...)
}

func testContext() *projectcontext.ProjectContext {
	return &projectcontext.ProjectContext{
		Root: "/project",
		Documents: []projectcontext.Document{
			{Name: "TASKS", Path: "docs/TASKS.md", Required: true, Content: "tasks"},
			{Name: "SPEC", Path: "docs/SPEC.md", Required: true, Content: "spec"},
		},
		Checksum: "abc",
	}
}

func testOptions() Options {
	return Options{
		MaxConcurrentProducers: 2,
		RevisionBudgetPerTask:  2,
		TolerateFailures:       true,
		RunTimeout:             10 * time.Second,
		ModelRetries:           2,
		RetryBackoff:           time.Millisecond,
		CancelGrace:            time.Second,
	}
}

func newTask(id, agentID string, deps ...string) *task.Task {
	t := &task.Task{ID: id, AgentID: agentID, Description: "do " + id}
	for _, d := range deps {
		t.Inputs = append(t.Inputs, task.Artifact{Kind: task.ArtifactTask, Ref: d})
	}
	return t
}
