package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazz187/reviewguild/internal/agent"
	"github.com/kazz187/reviewguild/internal/event"
	"github.com/kazz187/reviewguild/internal/invoker"
	"github.com/kazz187/reviewguild/internal/projectcontext"
	"github.com/kazz187/reviewguild/internal/task"
	"github.com/kazz187/reviewguild/pkg/cerr"
)

func rejectReply(text string) string {
	return "VERDICT: reject\nFEEDBACK: " + text + "\nREQUIRED_CHANGES:\n- " + text
}

func TestRunPipeline_AllAcceptedFirstAttempt(t *testing.T) {
	f := &fakeInvoker{delay: func() time.Duration { return 5 * time.Millisecond }}
	c := newTestCoordinator(t, f)

	tasks := []*task.Task{
		newTask("api", "backend-engineer"),
		newTask("ui", "frontend-engineer"),
		newTask("docs", "tech-writer"),
	}
	run, err := c.RunPipeline(context.Background(), tasks, testContext(), testOptions())
	require.NoError(t, err)

	assert.Equal(t, RunCompleted, run.Status)
	assert.Empty(t, run.FailureReason)
	assert.NotNil(t, run.FinishedAt)
	assert.Equal(t, 3, run.Count(task.StatusAccepted))
	for _, s := range run.Tasks {
		assert.Equal(t, 0, s.Task.Revisions, s.Task.ID)
		require.Len(t, s.Attempts, 1)
		assert.Equal(t, fmt.Sprintf("output of %s attempt 1", s.Task.ID), s.FinalOutput().Content)
		assert.Len(t, f.forTask(s.Task.ID), 3)
	}
	assert.LessOrEqual(t, f.peak(), 2)

	// The caller's tasks are not mutated.
	assert.Empty(t, tasks[0].Status)
}

func TestRunPipeline_QARejectsFirstAttempt(t *testing.T) {
	f := &fakeInvoker{decide: func(_ context.Context, call invoker.Call) (string, error) {
		if call.Agent.Role == agent.RoleQA && call.Subject.Attempt == 1 {
			return rejectReply("missing error handling"), nil
		}
		return "", nil
	}}
	c := newTestCoordinator(t, f)

	run, err := c.RunPipeline(context.Background(), []*task.Task{newTask("api", "backend-engineer")}, testContext(), testOptions())
	require.NoError(t, err)

	s := run.Task("api")
	require.NotNil(t, s)
	assert.Equal(t, task.StatusAccepted, s.Task.Status)
	assert.Equal(t, 1, s.Task.Revisions)
	require.Len(t, s.Attempts, 2)
	assert.Equal(t, task.VerdictReject, s.Attempts[0].Verdicts[0].Verdict)
	assert.Equal(t, "output of api attempt 2", s.FinalOutput().Content)
	assert.Equal(t, 2, f.producerCalls("api"))

	var second callRecord
	for _, rec := range f.forTask("api") {
		if rec.producer() && rec.attempt == 2 {
			second = rec
		}
	}
	assert.Contains(t, second.feedback, "missing error handling")
	require.NotNil(t, second.previous)
	assert.Equal(t, "output of api attempt 1", second.previous.Content)
}

func TestRunPipeline_GuardianAlwaysRejects(t *testing.T) {
	f := &fakeInvoker{decide: func(_ context.Context, call invoker.Call) (string, error) {
		if call.Agent.Role == agent.RoleGuardian {
			return rejectReply("out of scope"), nil
		}
		return "", nil
	}}
	c := newTestCoordinator(t, f)

	run, err := c.RunPipeline(context.Background(), []*task.Task{newTask("api", "backend-engineer")}, testContext(), testOptions())
	require.NoError(t, err)

	s := run.Task("api")
	assert.Equal(t, task.StatusFailed, s.Task.Status)
	assert.Equal(t, task.ReasonRevisionBudgetExhausted, s.Task.FailureReason)
	assert.Equal(t, 2, s.Task.Revisions)
	assert.Len(t, s.Attempts, 3)
	assert.Equal(t, 3, f.producerCalls("api"))
	assert.Len(t, f.forTask("api"), 9)
	assert.Contains(t, s.Task.LastFeedback, "out of scope")
	// Failures are tolerated by default, so the run itself completes.
	assert.Equal(t, RunCompleted, run.Status)
}

func TestRunPipeline_ZeroBudgetFailsOnFirstRejection(t *testing.T) {
	f := &fakeInvoker{decide: func(_ context.Context, call invoker.Call) (string, error) {
		if call.Agent.Role == agent.RoleQA {
			return rejectReply("no"), nil
		}
		return "", nil
	}}
	opts := testOptions()
	opts.RevisionBudgetPerTask = 0

	run, err := newTestCoordinator(t, f).RunPipeline(context.Background(), []*task.Task{newTask("api", "backend-engineer")}, testContext(), opts)
	require.NoError(t, err)
	assert.Equal(t, task.ReasonRevisionBudgetExhausted, run.Task("api").Task.FailureReason)
	assert.Equal(t, 1, f.producerCalls("api"))
}

func TestRunPipeline_ReviewOrderRandomized(t *testing.T) {
	producers := []string{"architect", "backend-engineer", "frontend-engineer", "tech-writer"}
	for i := range 120 {
		rng := rand.New(rand.NewPCG(uint64(i), 7))
		var mu sync.Mutex
		roll := func() float64 {
			mu.Lock()
			defer mu.Unlock()
			return rng.Float64()
		}
		f := &fakeInvoker{
			delay: func() time.Duration { return time.Duration(roll()*2000) * time.Microsecond },
			decide: func(_ context.Context, call invoker.Call) (string, error) {
				if call.Agent.IsReviewer() && roll() < 0.3 {
					return rejectReply("try again"), nil
				}
				return "", nil
			},
		}
		var tasks []*task.Task
		n := 1 + rng.IntN(5)
		for j := range n {
			id := fmt.Sprintf("t%d", j)
			var deps []string
			if j > 0 && rng.IntN(3) == 0 {
				deps = append(deps, fmt.Sprintf("t%d", rng.IntN(j)))
			}
			tasks = append(tasks, newTask(id, producers[rng.IntN(len(producers))], deps...))
		}
		opts := testOptions()
		opts.MaxConcurrentProducers = 1 + rng.IntN(3)
		opts.RevisionBudgetPerTask = rng.IntN(3)

		run, err := newTestCoordinator(t, f).RunPipeline(context.Background(), tasks, testContext(), opts)
		require.NoError(t, err)
		require.True(t, run.IsTerminal())
		assert.LessOrEqual(t, f.peak(), opts.MaxConcurrentProducers, "iteration %d", i)

		for _, s := range run.Tasks {
			require.True(t, s.Task.Status.IsTerminal(), "iteration %d task %s", i, s.Task.ID)
			assert.LessOrEqual(t, len(s.Attempts), opts.RevisionBudgetPerTask+1)

			calls := f.forTask(s.Task.ID)
			for k, rec := range calls {
				switch k % 3 {
				case 0:
					assert.True(t, rec.producer(), "iteration %d task %s call %d", i, s.Task.ID, k)
				case 1:
					assert.Equal(t, agent.RoleQA, rec.role, "iteration %d task %s call %d", i, s.Task.ID, k)
				case 2:
					assert.Equal(t, agent.RoleGuardian, rec.role, "iteration %d task %s call %d", i, s.Task.ID, k)
				}
			}
			for _, a := range s.Attempts {
				if a.Verdicts == nil {
					continue
				}
				require.Len(t, a.Verdicts, 2)
				assert.Equal(t, agent.RoleQA, a.Verdicts[0].ReviewerRole)
				assert.Equal(t, agent.RoleGuardian, a.Verdicts[1].ReviewerRole)
			}
			if s.Task.Status == task.StatusAccepted {
				last := s.Attempts[len(s.Attempts)-1]
				assert.True(t, last.Verdicts[0].Accepted())
				assert.True(t, last.Verdicts[1].Accepted())
			}
			for _, dep := range s.Task.DependsOn() {
				if run.Task(dep).Task.Status != task.StatusAccepted {
					assert.Equal(t, task.ReasonDependencyFailed, s.Task.FailureReason)
					assert.Empty(t, calls)
				}
			}
		}
	}
}

func TestRunPipeline_Cancel(t *testing.T) {
	f := &fakeInvoker{delay: func() time.Duration { return time.Hour }}
	c := newTestCoordinator(t, f)

	h, err := c.Start(context.Background(), []*task.Task{
		newTask("a", "backend-engineer"),
		newTask("b", "frontend-engineer"),
		newTask("c", "tech-writer"),
	}, testContext(), testOptions())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return h.Snapshot().Count(task.StatusInProgress) == 2
	}, time.Second, time.Millisecond)
	assert.Equal(t, 1, h.Snapshot().Count(task.StatusPending))

	h.Cancel()
	run := h.Wait()
	assert.Equal(t, RunFailed, run.Status)
	assert.Equal(t, string(task.ReasonCancelled), run.FailureReason)
	for _, s := range run.Tasks {
		assert.Equal(t, task.StatusFailed, s.Task.Status, s.Task.ID)
		assert.Equal(t, task.ReasonCancelled, s.Task.FailureReason, s.Task.ID)
	}
	assert.Zero(t, run.Count(task.StatusPending))
}

func TestRunPipeline_ParentContextCancelled(t *testing.T) {
	f := &fakeInvoker{delay: func() time.Duration { return time.Hour }}
	ctx, cancel := context.WithCancel(context.Background())
	h, err := newTestCoordinator(t, f).Start(ctx, []*task.Task{newTask("a", "backend-engineer")}, testContext(), testOptions())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return h.Snapshot().Count(task.StatusInProgress) == 1
	}, time.Second, time.Millisecond)
	cancel()
	run := h.Wait()
	assert.Equal(t, task.ReasonCancelled, run.Task("a").Task.FailureReason)
}

func TestRunPipeline_Timeout(t *testing.T) {
	f := &fakeInvoker{delay: func() time.Duration { return time.Hour }}
	opts := testOptions()
	opts.RunTimeout = 30 * time.Millisecond

	run, err := newTestCoordinator(t, f).RunPipeline(context.Background(), []*task.Task{
		newTask("a", "backend-engineer"),
		newTask("b", "frontend-engineer", "a"),
	}, testContext(), opts)
	require.NoError(t, err)

	assert.Equal(t, RunFailed, run.Status)
	assert.Equal(t, string(task.ReasonTimeout), run.FailureReason)
	for _, s := range run.Tasks {
		assert.Equal(t, task.ReasonTimeout, s.Task.FailureReason, s.Task.ID)
	}
}

func TestRunPipeline_CancelGraceAbandonsStuckCalls(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	f := &fakeInvoker{decide: func(_ context.Context, call invoker.Call) (string, error) {
		// Ignores cancellation entirely.
		<-release
		return "", nil
	}}
	opts := testOptions()
	opts.CancelGrace = 20 * time.Millisecond

	h, err := newTestCoordinator(t, f).Start(context.Background(), []*task.Task{newTask("a", "backend-engineer")}, testContext(), opts)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(f.snapshot()) == 1 }, time.Second, time.Millisecond)

	h.Cancel()
	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("run did not finish after the cancel grace period")
	}
	assert.Equal(t, task.ReasonCancelled, h.Snapshot().Task("a").Task.FailureReason)
}

func TestRunPipeline_DependencyOrder(t *testing.T) {
	f := &fakeInvoker{}
	run, err := newTestCoordinator(t, f).RunPipeline(context.Background(), []*task.Task{
		newTask("design", "architect"),
		newTask("api", "backend-engineer", "design"),
	}, testContext(), testOptions())
	require.NoError(t, err)
	require.Equal(t, 2, run.Count(task.StatusAccepted))

	calls := f.snapshot()
	guardianDone := slices.IndexFunc(calls, func(c callRecord) bool {
		return c.taskID == "design" && c.role == agent.RoleGuardian
	})
	apiStart := slices.IndexFunc(calls, func(c callRecord) bool {
		return c.taskID == "api" && c.producer()
	})
	require.GreaterOrEqual(t, guardianDone, 0)
	assert.Greater(t, apiStart, guardianDone)

	api := calls[apiStart]
	require.Len(t, api.deps, 1)
	assert.Equal(t, "output of design attempt 1", api.deps[0].Content)
}

func TestRunPipeline_DependencyFailed(t *testing.T) {
	f := &fakeInvoker{decide: func(_ context.Context, call invoker.Call) (string, error) {
		if call.Task.ID == "design" && call.Agent.IsProducer() {
			return "", invoker.NewModelError(invoker.KindBackend, "fake", errors.New("boom"))
		}
		return "", nil
	}}
	run, err := newTestCoordinator(t, f).RunPipeline(context.Background(), []*task.Task{
		newTask("design", "architect"),
		newTask("api", "backend-engineer", "design"),
		newTask("ui", "frontend-engineer", "api"),
		newTask("docs", "tech-writer"),
	}, testContext(), testOptions())
	require.NoError(t, err)

	assert.Equal(t, RunCompleted, run.Status)
	assert.Equal(t, task.ReasonModelError, run.Task("design").Task.FailureReason)
	assert.Contains(t, run.Task("design").Task.LastError, "boom")
	assert.Equal(t, task.ReasonDependencyFailed, run.Task("api").Task.FailureReason)
	assert.Equal(t, task.ReasonDependencyFailed, run.Task("ui").Task.FailureReason)
	assert.Equal(t, task.StatusAccepted, run.Task("docs").Task.Status)
	assert.Empty(t, f.forTask("api"))
	assert.Empty(t, f.forTask("ui"))
	// Non-transient errors are not retried.
	assert.Equal(t, 1, f.producerCalls("design"))
}

func TestRunPipeline_FailureAbortsWhenNotTolerated(t *testing.T) {
	f := &fakeInvoker{decide: func(_ context.Context, call invoker.Call) (string, error) {
		if call.Task.ID == "design" {
			return "", invoker.NewModelError(invoker.KindMalformed, "fake", errors.New("garbled"))
		}
		return "", nil
	}}
	opts := testOptions()
	opts.TolerateFailures = false
	opts.MaxConcurrentProducers = 1

	run, err := newTestCoordinator(t, f).RunPipeline(context.Background(), []*task.Task{
		newTask("design", "architect"),
		newTask("api", "backend-engineer"),
	}, testContext(), opts)
	require.NoError(t, err)

	assert.Equal(t, RunFailed, run.Status)
	assert.Equal(t, "task design failed: model_error", run.FailureReason)
	assert.Equal(t, task.ReasonModelError, run.Task("design").Task.FailureReason)
	assert.Equal(t, task.ReasonAborted, run.Task("api").Task.FailureReason)
	assert.Empty(t, f.forTask("api"))
}

func TestRunPipeline_ToolViolationCountsAsRejection(t *testing.T) {
	f := &fakeInvoker{decide: func(_ context.Context, call invoker.Call) (string, error) {
		if call.Agent.IsProducer() && call.Attempt == 1 {
			return "", &invoker.ToolViolationError{AgentID: call.Agent.ID, Tool: "Bash", Detail: "rm -rf /"}
		}
		return "", nil
	}}
	run, err := newTestCoordinator(t, f).RunPipeline(context.Background(), []*task.Task{newTask("api", "backend-engineer")}, testContext(), testOptions())
	require.NoError(t, err)

	s := run.Task("api")
	assert.Equal(t, task.StatusAccepted, s.Task.Status)
	assert.Equal(t, 1, s.Task.Revisions)
	require.Len(t, s.Attempts, 2)
	assert.NotEmpty(t, s.Attempts[0].Violation)
	assert.Nil(t, s.Attempts[0].Verdicts)

	calls := f.forTask("api")
	// The violating attempt is never reviewed.
	require.Len(t, calls, 4)
	assert.True(t, calls[1].producer())
	assert.Contains(t, calls[1].feedback, "Tool violation")
}

func TestRunPipeline_TransientErrorsRetried(t *testing.T) {
	var mu sync.Mutex
	failures := map[string]int{}
	f := &fakeInvoker{decide: func(_ context.Context, call invoker.Call) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		key := call.Agent.ID
		if failures[key] < 1 {
			failures[key]++
			return "", invoker.NewModelError(invoker.KindRateLimit, "fake", errors.New("429"))
		}
		return "", nil
	}}
	run, err := newTestCoordinator(t, f).RunPipeline(context.Background(), []*task.Task{newTask("api", "backend-engineer")}, testContext(), testOptions())
	require.NoError(t, err)

	s := run.Task("api")
	assert.Equal(t, task.StatusAccepted, s.Task.Status)
	assert.Equal(t, 0, s.Task.Revisions)
	assert.Len(t, s.Attempts, 1)
	// A failed Guardian call retries the whole chain, so QA runs again.
	assert.Equal(t, 2, f.producerCalls("api"))
	var qa, guardian int
	for _, rec := range f.forTask("api") {
		switch rec.role {
		case agent.RoleQA:
			qa++
		case agent.RoleGuardian:
			guardian++
		}
	}
	assert.Equal(t, 3, qa)
	assert.Equal(t, 2, guardian)
}

func TestRunPipeline_TransientRetriesExhausted(t *testing.T) {
	f := &fakeInvoker{decide: func(_ context.Context, call invoker.Call) (string, error) {
		return "", invoker.NewModelError(invoker.KindTransport, "fake", errors.New("connection reset"))
	}}
	opts := testOptions()
	opts.ModelRetries = 2

	run, err := newTestCoordinator(t, f).RunPipeline(context.Background(), []*task.Task{newTask("api", "backend-engineer")}, testContext(), opts)
	require.NoError(t, err)
	assert.Equal(t, task.ReasonModelError, run.Task("api").Task.FailureReason)
	assert.Equal(t, 3, f.producerCalls("api"))
}

func TestRunPipeline_MalformedReviewFailsTask(t *testing.T) {
	f := &fakeInvoker{decide: func(_ context.Context, call invoker.Call) (string, error) {
		if call.Agent.Role == agent.RoleQA {
			return "looks fine to me", nil
		}
		return "", nil
	}}
	run, err := newTestCoordinator(t, f).RunPipeline(context.Background(), []*task.Task{newTask("api", "backend-engineer")}, testContext(), testOptions())
	require.NoError(t, err)

	s := run.Task("api")
	assert.Equal(t, task.ReasonModelError, s.Task.FailureReason)
	assert.Equal(t, 1, f.producerCalls("api"))
	assert.NotEmpty(t, s.Attempts[0].Error)
}

func TestRunPipeline_RoundRobinAcrossProducers(t *testing.T) {
	f := &fakeInvoker{}
	opts := testOptions()
	opts.MaxConcurrentProducers = 1

	_, err := newTestCoordinator(t, f).RunPipeline(context.Background(), []*task.Task{
		newTask("b1", "backend-engineer"),
		newTask("b2", "backend-engineer"),
		newTask("f1", "frontend-engineer"),
	}, testContext(), opts)
	require.NoError(t, err)

	var order []string
	for _, rec := range f.snapshot() {
		if rec.producer() {
			order = append(order, rec.taskID)
		}
	}
	assert.Equal(t, []string{"b1", "f1", "b2"}, order)
}

func TestRunPipeline_PersistsAndPublishes(t *testing.T) {
	repo := &memoryRepo{}
	bus := event.NewBus()
	_, ch := bus.Subscribe(1024)

	f := &fakeInvoker{}
	run, err := newTestCoordinator(t, f, WithRepository(repo), WithPublisher(bus)).
		RunPipeline(context.Background(), []*task.Task{newTask("api", "backend-engineer")}, testContext(), testOptions())
	require.NoError(t, err)

	stored, err := repo.Get(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, stored.Status)
	assert.Equal(t, "abc", stored.ContextChecksum)
	assert.Greater(t, repo.saves, 2)

	var types []event.Type
	timeout := time.After(time.Second)
	for len(types) == 0 || types[len(types)-1] != event.RunFinished {
		select {
		case e := <-ch:
			assert.Equal(t, run.ID, e.RunID)
			types = append(types, e.Type)
		case <-timeout:
			t.Fatalf("missing run.finished, got %v", types)
		}
	}
	assert.Equal(t, []event.Type{
		event.RunStarted,
		event.TaskDispatched,
		event.TaskOutput,
		event.TaskReviewed,
		event.TaskAccepted,
		event.RunFinished,
	}, types)
}

func TestStart_RejectsInvalidRuns(t *testing.T) {
	tests := []struct {
		name  string
		tasks []*task.Task
		noCtx bool
		opts  func(*Options)
		check func(t *testing.T, err error)
	}{
		{
			name:  "unknown agent",
			tasks: []*task.Task{newTask("a", "ghost")},
			check: func(t *testing.T, err error) {
				assert.True(t, cerr.IsCode(err, cerr.NotFound))
				assert.ErrorIs(t, err, agent.ErrUnknownAgent)
			},
		},
		{
			name:  "reviewer as producer",
			tasks: []*task.Task{newTask("a", "qa-reviewer")},
			check: func(t *testing.T, err error) {
				assert.True(t, cerr.IsCode(err, cerr.InvalidArgument))
			},
		},
		{
			name:  "dependency cycle",
			tasks: []*task.Task{newTask("a", "architect", "b"), newTask("b", "architect", "a")},
			check: func(t *testing.T, err error) {
				assert.True(t, cerr.IsCode(err, cerr.InvalidArgument))
				assert.ErrorIs(t, err, task.ErrDependencyCycle)
			},
		},
		{
			name:  "empty task list",
			tasks: nil,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, task.ErrEmptyTaskList)
			},
		},
		{
			name:  "no project context",
			tasks: []*task.Task{newTask("a", "architect")},
			noCtx: true,
			check: func(t *testing.T, err error) {
				assert.True(t, cerr.IsCode(err, cerr.FailedPrecondition))
				assert.ErrorIs(t, err, projectcontext.ErrContextUnavailable)
			},
		},
		{
			name: "missing context document",
			tasks: []*task.Task{{ID: "a", AgentID: "architect", Inputs: []task.Artifact{
				{Kind: task.ArtifactContext, Ref: "ARCHITECTURE"},
			}}},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, projectcontext.ErrContextUnavailable)
			},
		},
		{
			name:  "zero concurrency",
			tasks: []*task.Task{newTask("a", "architect")},
			opts:  func(o *Options) { o.MaxConcurrentProducers = 0 },
			check: func(t *testing.T, err error) {
				assert.True(t, cerr.IsCode(err, cerr.InvalidArgument))
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeInvoker{}
			pctx := testContext()
			if tt.noCtx {
				pctx = nil
			}
			opts := testOptions()
			if tt.opts != nil {
				tt.opts(&opts)
			}
			h, err := newTestCoordinator(t, f).Start(context.Background(), tt.tasks, pctx, opts)
			require.Error(t, err)
			assert.Nil(t, h)
			tt.check(t, err)
			assert.Empty(t, f.snapshot())
		})
	}
}

func TestRunPipeline_SnapshotIsolation(t *testing.T) {
	f := &fakeInvoker{}
	h, err := newTestCoordinator(t, f).Start(context.Background(), []*task.Task{newTask("a", "architect")}, testContext(), testOptions())
	require.NoError(t, err)
	run := h.Wait()
	run.Tasks[0].Task.Status = task.StatusPending
	assert.Equal(t, task.StatusAccepted, h.Snapshot().Tasks[0].Task.Status)
	assert.Equal(t, h.ID(), run.ID)
}
