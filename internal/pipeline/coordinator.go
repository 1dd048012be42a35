// Package pipeline coordinates producer agents and the review chain over a
// set of tasks until every task is accepted or has failed.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sourcegraph/conc"
	"golang.org/x/sync/semaphore"

	"github.com/kazz187/reviewguild/internal/agent"
	"github.com/kazz187/reviewguild/internal/event"
	"github.com/kazz187/reviewguild/internal/invoker"
	"github.com/kazz187/reviewguild/internal/projectcontext"
	"github.com/kazz187/reviewguild/internal/review"
	"github.com/kazz187/reviewguild/internal/task"
	"github.com/kazz187/reviewguild/pkg/cerr"
	"github.com/kazz187/reviewguild/pkg/clog"
)

// Invoker runs one agent call.
type Invoker interface {
	Invoke(ctx context.Context, call invoker.Call) (*task.AgentOutput, error)
}

// Reviewer runs the QA and Guardian chain over one producer output.
type Reviewer interface {
	Review(ctx context.Context, in review.ReviewInput) ([]task.ReviewVerdict, error)
}

// Publisher receives run lifecycle events.
type Publisher interface {
	PublishNew(ctx context.Context, typ event.Type, runID, taskID string, data any)
}

var (
	errRunCancelled = errors.New("run cancelled")
	errRunTimeout   = errors.New("run timed out")
	errRunAborted   = errors.New("run aborted after a task failure")
)

// Coordinator drives tasks through producers and the review chain.
type Coordinator struct {
	registry  *agent.Registry
	invoker   Invoker
	reviewer  Reviewer
	repo      Repository
	publisher Publisher
	now       func() time.Time
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithRepository persists the run after every state change.
func WithRepository(r Repository) CoordinatorOption {
	return func(c *Coordinator) { c.repo = r }
}

func WithPublisher(p Publisher) CoordinatorOption {
	return func(c *Coordinator) { c.publisher = p }
}

func WithClock(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) { c.now = now }
}

func NewCoordinator(reg *agent.Registry, inv Invoker, rev Reviewer, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		registry: reg,
		invoker:  inv,
		reviewer: rev,
		now:      time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// RunPipeline runs tasks to completion and returns the final run. Only
// configuration problems are returned as errors; task failures are
// reported in the run.
func (c *Coordinator) RunPipeline(ctx context.Context, tasks []*task.Task, pctx *projectcontext.ProjectContext, opts Options) (*Run, error) {
	h, err := c.Start(ctx, tasks, pctx, opts)
	if err != nil {
		return nil, err
	}
	return h.Wait(), nil
}

// Start validates the run and executes it in the background. Cancelling
// ctx cancels the run.
func (c *Coordinator) Start(ctx context.Context, tasks []*task.Task, pctx *projectcontext.ProjectContext, opts Options) (*Handle, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if pctx == nil {
		return nil, cerr.NewError(cerr.FailedPrecondition, "project context is required", projectcontext.ErrContextUnavailable)
	}
	states, graph, err := c.prepare(tasks, pctx)
	if err != nil {
		return nil, err
	}

	run := &Run{
		ID:              ulid.Make().String(),
		Status:          RunRunning,
		Tasks:           states,
		Options:         opts,
		ContextRoot:     pctx.Root,
		ContextChecksum: pctx.Checksum,
		StartedAt:       c.now(),
	}

	runCtx, cancel := context.WithCancelCause(clog.With(ctx, map[string]any{clog.RunIDKey: run.ID}))
	stopTimer := func() {}
	if opts.RunTimeout > 0 {
		runCtx, stopTimer = context.WithTimeoutCause(runCtx, opts.RunTimeout, errRunTimeout)
	}

	var producers []string
	for _, d := range c.registry.GetProducerAgents() {
		producers = append(producers, d.ID)
	}
	h := &Handle{id: run.ID, cancel: cancel, done: make(chan struct{})}
	r := &runner{
		c:            c,
		run:          run,
		states:       make(map[string]*TaskState, len(states)),
		graph:        graph,
		pctx:         pctx,
		opts:         opts,
		producers:    producers,
		lastProducer: -1,
		sem:          semaphore.NewWeighted(int64(opts.MaxConcurrentProducers)),
		results:      make(chan result),
		stop:         make(chan struct{}),
		ctx:          runCtx,
		cancel:       cancel,
		stopTimer:    stopTimer,
		handle:       h,
	}
	for _, s := range states {
		r.states[s.Task.ID] = s
	}
	h.snapshot.Store(run.clone())

	go r.loop()
	return h, nil
}

// prepare copies the caller's tasks into fresh pending state and rejects
// anything that would fail the run before it starts.
func (c *Coordinator) prepare(tasks []*task.Task, pctx *projectcontext.ProjectContext) ([]*TaskState, *task.Graph, error) {
	states := make([]*TaskState, 0, len(tasks))
	copies := make([]*task.Task, 0, len(tasks))
	for _, t := range tasks {
		if t == nil {
			return nil, nil, cerr.NewError(cerr.InvalidArgument, "task list contains a nil task", nil)
		}
		def, err := c.registry.GetAgentByID(t.AgentID)
		if err != nil {
			return nil, nil, err
		}
		if def.IsReviewer() {
			return nil, nil, cerr.NewError(cerr.InvalidArgument, fmt.Sprintf("task %s targets reviewer %s", t.ID, def.ID), nil)
		}
		for _, in := range t.Inputs {
			if in.Kind != task.ArtifactContext {
				continue
			}
			if _, ok := pctx.Document(in.Ref); !ok {
				return nil, nil, cerr.NewError(cerr.FailedPrecondition,
					fmt.Sprintf("task %s needs context document %s", t.ID, in.Ref), projectcontext.ErrContextUnavailable)
			}
		}
		cp := t.Clone()
		cp.Status = task.StatusPending
		cp.Revisions = 0
		cp.FailureReason = task.ReasonNone
		cp.LastFeedback = ""
		cp.LastError = ""
		copies = append(copies, cp)
		states = append(states, &TaskState{Task: cp})
	}
	graph, err := task.NewGraph(copies)
	if err != nil {
		return nil, nil, cerr.NewError(cerr.InvalidArgument, "invalid task graph", err)
	}
	return states, graph, nil
}

// Handle observes and controls a run started with Start.
type Handle struct {
	id       string
	snapshot atomic.Pointer[Run]
	cancel   context.CancelCauseFunc
	done     chan struct{}
}

func (h *Handle) ID() string { return h.id }

// Snapshot returns a copy of the latest published run state.
func (h *Handle) Snapshot() *Run {
	return h.snapshot.Load().clone()
}

// Cancel fails every task that is not yet terminal with reason cancelled.
func (h *Handle) Cancel() {
	h.cancel(errRunCancelled)
}

func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the run is terminal and returns its final state.
func (h *Handle) Wait() *Run {
	<-h.done
	return h.Snapshot()
}

type resultKind int

const (
	produced resultKind = iota
	reviewed
)

type result struct {
	kind     resultKind
	taskID   string
	output   *task.AgentOutput
	verdicts []task.ReviewVerdict
	err      error
}

// runner owns the mutable run. Only the loop goroutine touches it; workers
// get copies and report back over results.
type runner struct {
	c      *Coordinator
	run    *Run
	states map[string]*TaskState
	graph  *task.Graph
	pctx   *projectcontext.ProjectContext
	opts   Options

	producers    []string
	lastProducer int
	queue        []string

	sem     *semaphore.Weighted
	results chan result
	stop    chan struct{}
	workers conc.WaitGroup
	aborted bool

	ctx       context.Context
	cancel    context.CancelCauseFunc
	stopTimer context.CancelFunc
	handle    *Handle
}

func (r *runner) loop() {
	defer close(r.handle.done)

	slog.InfoContext(r.ctx, "pipeline run started", "tasks", len(r.run.Tasks))
	r.publish(event.RunStarted, "", event.RunStartedData{
		Tasks:                  len(r.run.Tasks),
		MaxConcurrentProducers: r.opts.MaxConcurrentProducers,
		RevisionBudgetPerTask:  r.opts.RevisionBudgetPerTask,
		TolerateFailures:       r.opts.TolerateFailures,
	})
	for _, id := range r.graph.Order() {
		if r.graph.Ready(id, r.status) {
			r.enqueue(id)
		}
	}
	r.dispatch()
	r.commit()

	for !r.allTerminal() {
		select {
		case <-r.ctx.Done():
			r.stopAll(reasonFor(context.Cause(r.ctx)))
		case res := <-r.results:
			// A result racing a cancellation is dropped; the task fails
			// with the cancellation reason instead.
			if r.ctx.Err() == nil {
				r.handleResult(res)
			}
		}
		r.dispatch()
		r.commit()
	}
	r.finish()
}

func reasonFor(cause error) task.FailureReason {
	switch {
	case errors.Is(cause, errRunTimeout), errors.Is(cause, context.DeadlineExceeded):
		return task.ReasonTimeout
	case errors.Is(cause, errRunAborted):
		return task.ReasonAborted
	}
	return task.ReasonCancelled
}

func (r *runner) status(id string) task.Status {
	return r.states[id].Task.Status
}

func (r *runner) allTerminal() bool {
	for _, s := range r.run.Tasks {
		if !s.Task.Status.IsTerminal() {
			return false
		}
	}
	return true
}

func (r *runner) enqueue(id string) {
	for _, q := range r.queue {
		if q == id {
			return
		}
	}
	r.queue = append(r.queue, id)
}

func (r *runner) dequeue(id string) {
	for i, q := range r.queue {
		if q == id {
			r.queue = append(r.queue[:i], r.queue[i+1:]...)
			return
		}
	}
}

// dispatch starts queued tasks while producer slots are free, rotating
// across producer agents so one agent's backlog cannot starve another's.
func (r *runner) dispatch() {
	for len(r.queue) > 0 && r.ctx.Err() == nil {
		if !r.sem.TryAcquire(1) {
			return
		}
		idx := r.nextQueued()
		if idx < 0 {
			r.sem.Release(1)
			return
		}
		id := r.queue[idx]
		r.queue = append(r.queue[:idx], r.queue[idx+1:]...)
		r.startProducer(r.states[id])
	}
}

func (r *runner) nextQueued() int {
	n := len(r.producers)
	for k := 1; k <= n; k++ {
		p := (r.lastProducer + k) % n
		for i, id := range r.queue {
			if r.states[id].Task.AgentID == r.producers[p] {
				r.lastProducer = p
				return i
			}
		}
	}
	return -1
}

func (r *runner) startProducer(s *TaskState) {
	def, err := r.c.registry.GetAgentByID(s.Task.AgentID)
	if err != nil {
		r.sem.Release(1)
		r.failTask(s, task.ReasonModelError, err)
		return
	}
	previous := s.FinalOutput()
	attempt := len(s.Attempts) + 1
	s.Task.Status = task.StatusInProgress
	s.Attempts = append(s.Attempts, Attempt{Number: attempt, StartedAt: r.c.now()})

	call := invoker.Call{
		RunID:        r.run.ID,
		Agent:        def,
		Task:         s.Task.Clone(),
		Context:      r.pctx,
		Attempt:      attempt,
		Previous:     previous,
		Dependencies: r.dependencyOutputs(s.Task.ID),
	}
	if attempt > 1 {
		call.Feedback = s.Task.LastFeedback
	}
	r.publish(event.TaskDispatched, s.Task.ID, event.TaskDispatchedData{AgentID: def.ID, Attempt: attempt})

	ctx := clog.With(r.ctx, map[string]any{clog.TaskIDKey: s.Task.ID, clog.AttemptKey: attempt})
	r.workers.Go(func() {
		var out *task.AgentOutput
		err := safely(ctx, func(ctx context.Context) error {
			var err error
			out, err = withRetries(ctx, r.opts, func(ctx context.Context) (*task.AgentOutput, error) {
				return r.c.invoker.Invoke(ctx, call)
			})
			return err
		})
		r.sem.Release(1)
		r.send(result{kind: produced, taskID: call.Task.ID, output: out, err: err})
	})
}

func (r *runner) startReview(s *TaskState, out *task.AgentOutput) {
	in := review.ReviewInput{
		RunID:   r.run.ID,
		Task:    s.Task.Clone(),
		Output:  out,
		Context: r.pctx,
	}
	ctx := clog.With(r.ctx, map[string]any{clog.TaskIDKey: s.Task.ID, clog.AttemptKey: out.Attempt})
	r.workers.Go(func() {
		var verdicts []task.ReviewVerdict
		err := safely(ctx, func(ctx context.Context) error {
			var err error
			verdicts, err = withRetries(ctx, r.opts, func(ctx context.Context) ([]task.ReviewVerdict, error) {
				return r.c.reviewer.Review(ctx, in)
			})
			return err
		})
		r.send(result{kind: reviewed, taskID: in.Task.ID, verdicts: verdicts, err: err})
	})
}

func (r *runner) send(res result) {
	select {
	case r.results <- res:
	case <-r.stop:
	}
}

func (r *runner) dependencyOutputs(id string) []*task.AgentOutput {
	var outs []*task.AgentOutput
	for _, dep := range r.graph.Dependencies(id) {
		if out := r.states[dep].FinalOutput(); out != nil {
			outs = append(outs, out)
		}
	}
	return outs
}

func (r *runner) handleResult(res result) {
	s := r.states[res.taskID]
	if s.Task.Status.IsTerminal() {
		return
	}
	a := s.lastAttempt()
	switch res.kind {
	case produced:
		if tv, ok := invoker.AsToolViolation(res.err); ok {
			a.Violation = tv.Error()
			r.reject(s, fmt.Sprintf("[Tool violation] %s. Use only the tools you are permitted to use.", tv.Error()))
			return
		}
		if res.err != nil {
			a.Error = res.err.Error()
			r.failTask(s, task.ReasonModelError, res.err)
			return
		}
		a.Output = res.output
		s.Task.Status = task.StatusAwaitingReview
		r.publish(event.TaskOutput, s.Task.ID, event.TaskOutputData{
			AgentID:     res.output.AgentID,
			Attempt:     a.Number,
			ToolCalls:   len(res.output.ToolCalls),
			TotalTokens: res.output.Usage.TotalTokens,
		})
		r.startReview(s, res.output)

	case reviewed:
		if res.err != nil {
			a.Error = res.err.Error()
			r.failTask(s, task.ReasonModelError, res.err)
			return
		}
		a.Verdicts = res.verdicts
		r.publish(event.TaskReviewed, s.Task.ID, event.TaskReviewedData{Attempt: a.Number, Verdicts: res.verdicts})
		if review.Outcome(res.verdicts) == task.VerdictAccept {
			r.accept(s)
			return
		}
		r.reject(s, review.CombinedFeedback(res.verdicts))
	}
}

func (r *runner) accept(s *TaskState) {
	s.Task.Status = task.StatusAccepted
	r.publish(event.TaskAccepted, s.Task.ID, nil)
	slog.InfoContext(r.ctx, "task accepted", clog.TaskIDKey, s.Task.ID, "revisions", s.Task.Revisions)
	for _, dep := range r.graph.Dependents(s.Task.ID) {
		if r.status(dep) == task.StatusPending && r.graph.Ready(dep, r.status) {
			r.enqueue(dep)
		}
	}
}

func (r *runner) reject(s *TaskState, feedback string) {
	s.Task.Status = task.StatusRejected
	s.Task.LastFeedback = feedback
	remaining := r.opts.RevisionBudgetPerTask - s.Task.Revisions
	r.publish(event.TaskRejected, s.Task.ID, event.TaskRejectedData{
		Attempt:   len(s.Attempts),
		Feedback:  feedback,
		Remaining: max(remaining-1, 0),
	})
	if remaining <= 0 {
		r.failTask(s, task.ReasonRevisionBudgetExhausted, nil)
		return
	}
	s.Task.Revisions++
	r.enqueue(s.Task.ID)
}

// failTask fails s and propagates: dependents fail with dependency_failed,
// or, when failures are not tolerated, the whole run is aborted.
func (r *runner) failTask(s *TaskState, reason task.FailureReason, err error) {
	if s.Task.Status.IsTerminal() {
		return
	}
	r.markFailed(s, reason, err)
	if !r.opts.TolerateFailures && !r.aborted {
		r.abort(s, reason)
		return
	}
	for _, id := range r.graph.AllDependents(s.Task.ID) {
		d := r.states[id]
		if !d.Task.Status.IsTerminal() {
			r.markFailed(d, task.ReasonDependencyFailed, fmt.Errorf("dependency %s failed: %s", s.Task.ID, reason))
		}
	}
}

func (r *runner) markFailed(s *TaskState, reason task.FailureReason, err error) {
	if s.Task.Status.IsTerminal() {
		return
	}
	r.dequeue(s.Task.ID)
	s.Task.Status = task.StatusFailed
	s.Task.FailureReason = reason
	data := event.TaskFailedData{Reason: reason}
	if err != nil {
		s.Task.LastError = err.Error()
		data.Error = err.Error()
	}
	r.publish(event.TaskFailed, s.Task.ID, data)
	slog.WarnContext(r.ctx, "task failed", clog.TaskIDKey, s.Task.ID, "reason", reason, "error", err)
}

func (r *runner) abort(failed *TaskState, reason task.FailureReason) {
	r.aborted = true
	r.run.FailureReason = fmt.Sprintf("task %s failed: %s", failed.Task.ID, reason)
	for _, s := range r.run.Tasks {
		r.markFailed(s, task.ReasonAborted, errRunAborted)
	}
	r.cancel(errRunAborted)
}

// stopAll ends the run early after cancellation or timeout.
func (r *runner) stopAll(reason task.FailureReason) {
	if r.run.FailureReason == "" {
		r.run.FailureReason = string(reason)
	}
	for _, s := range r.run.Tasks {
		r.markFailed(s, reason, context.Cause(r.ctx))
	}
}

func (r *runner) finish() {
	finished := r.c.now()
	r.run.FinishedAt = &finished
	failed := r.run.Count(task.StatusFailed)
	switch {
	case r.run.FailureReason != "":
		r.run.Status = RunFailed
	case failed > 0 && !r.opts.TolerateFailures:
		r.run.Status = RunFailed
	default:
		r.run.Status = RunCompleted
	}
	r.publish(event.RunFinished, "", event.RunFinishedData{
		Status:   string(r.run.Status),
		Reason:   r.run.FailureReason,
		Accepted: r.run.Count(task.StatusAccepted),
		Failed:   failed,
	})
	r.commit()
	slog.InfoContext(r.ctx, "pipeline run finished", "status", r.run.Status, "reason", r.run.FailureReason)

	close(r.stop)
	r.cancel(nil)
	r.stopTimer()
	drained := make(chan struct{})
	go func() {
		r.workers.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(r.opts.CancelGrace):
		slog.WarnContext(r.ctx, "abandoning in-flight agent calls", "grace", r.opts.CancelGrace)
	}
}

// commit publishes a snapshot and persists it.
func (r *runner) commit() {
	snap := r.run.clone()
	r.handle.snapshot.Store(snap)
	if r.c.repo == nil {
		return
	}
	// Saved even after the run context is cancelled.
	if err := r.c.repo.Save(context.WithoutCancel(r.ctx), snap); err != nil {
		slog.ErrorContext(r.ctx, "failed to persist run", "error", err)
	}
}

func (r *runner) publish(typ event.Type, taskID string, data any) {
	if r.c.publisher == nil {
		return
	}
	r.c.publisher.PublishNew(r.ctx, typ, r.run.ID, taskID, data)
}
