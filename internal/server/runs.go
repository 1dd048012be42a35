package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/kazz187/reviewguild/internal/agent"
	"github.com/kazz187/reviewguild/internal/event"
	"github.com/kazz187/reviewguild/internal/pipeline"
	"github.com/kazz187/reviewguild/internal/projectcontext"
	"github.com/kazz187/reviewguild/internal/task"
	"github.com/kazz187/reviewguild/pkg/cerr"
	"github.com/kazz187/reviewguild/pkg/clog"
)

type Starter interface {
	Start(ctx context.Context, tasks []*task.Task, pctx *projectcontext.ProjectContext, opts pipeline.Options) (*pipeline.Handle, error)
}

type ContextLoader interface {
	Load(ctx context.Context, root string) (*projectcontext.ProjectContext, error)
	Reload(ctx context.Context, root string) (*projectcontext.ProjectContext, error)
}

// RunService starts and tracks pipeline runs. Runs outlive the request that
// started them; they are bound to the service's base context instead.
type RunService struct {
	baseCtx  context.Context
	starter  Starter
	loader   ContextLoader
	registry *agent.Registry
	repo     pipeline.Repository
	bus      *event.Bus
	defaults pipeline.Options

	mu   sync.Mutex
	live map[string]*pipeline.Handle
}

func NewRunService(
	baseCtx context.Context,
	starter Starter,
	loader ContextLoader,
	registry *agent.Registry,
	repo pipeline.Repository,
	bus *event.Bus,
	defaults pipeline.Options,
) *RunService {
	return &RunService{
		baseCtx:  baseCtx,
		starter:  starter,
		loader:   loader,
		registry: registry,
		repo:     repo,
		bus:      bus,
		defaults: defaults,
		live:     make(map[string]*pipeline.Handle),
	}
}

type startRunRequest struct {
	ProjectRoot string          `json:"project_root"`
	Tasks       []*task.Task    `json:"tasks"`
	Options     json.RawMessage `json:"options,omitempty"`
}

func (s *RunService) startRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req startRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid request body", err)
		return
	}
	if req.ProjectRoot == "" || len(req.Tasks) == 0 {
		e := cerr.NewError(cerr.InvalidArgument, "invalid run request", nil)
		if req.ProjectRoot == "" {
			e.AddViolation("project_root", "is required")
		}
		if len(req.Tasks) == 0 {
			e.AddViolation("tasks", "at least one task is required")
		}
		cerr.SetJSONError(ctx, e)
		return
	}
	opts := s.defaults
	if len(req.Options) > 0 {
		if err := json.Unmarshal(req.Options, &opts); err != nil {
			cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid run options", err)
			return
		}
	}

	pctx, err := s.loader.Load(ctx, req.ProjectRoot)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	h, err := s.starter.Start(s.baseCtx, req.Tasks, pctx, opts)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	s.track(h)
	clog.AddAttribute(ctx, clog.RunIDKey, h.ID())
	cerr.SetJSONResponseWithStatus(ctx, http.StatusAccepted, h.Snapshot())
}

// track keeps h reachable for cancel and live snapshots until it finishes.
func (s *RunService) track(h *pipeline.Handle) {
	s.mu.Lock()
	s.live[h.ID()] = h
	s.mu.Unlock()
	go func() {
		<-h.Done()
		s.mu.Lock()
		delete(s.live, h.ID())
		s.mu.Unlock()
	}()
}

func (s *RunService) handle(id string) (*pipeline.Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.live[id]
	return h, ok
}

// Wait blocks until every run started through s has finished or ctx is done.
func (s *RunService) Wait(ctx context.Context) {
	s.mu.Lock()
	handles := make([]*pipeline.Handle, 0, len(s.live))
	for _, h := range s.live {
		handles = append(handles, h)
	}
	s.mu.Unlock()
	for _, h := range handles {
		select {
		case <-h.Done():
		case <-ctx.Done():
			slog.WarnContext(ctx, "runs still active at shutdown", "remaining", len(handles))
			return
		}
	}
}

func (s *RunService) lookup(ctx context.Context, id string) (*pipeline.Run, error) {
	if h, ok := s.handle(id); ok {
		return h.Snapshot(), nil
	}
	return s.repo.Get(ctx, id)
}

type listRunsResponse struct {
	Runs []*pipeline.Run `json:"runs"`
}

func (s *RunService) listRuns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			cerr.SetJSONError(ctx, cerr.NewError(cerr.InvalidArgument, "invalid limit", err).
				AddViolation("limit", "must be a non-negative integer"))
			return
		}
		limit = n
	}
	runs, err := s.repo.List(ctx, limit)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	for i, run := range runs {
		if h, ok := s.handle(run.ID); ok {
			runs[i] = h.Snapshot()
		}
	}
	cerr.SetJSONResponse(ctx, listRunsResponse{Runs: runs})
}

func (s *RunService) getRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	run, err := s.lookup(ctx, chi.URLParam(r, "id"))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, run)
}

func (s *RunService) cancelRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	h, ok := s.handle(id)
	if !ok {
		if _, err := s.repo.Get(ctx, id); err != nil {
			cerr.SetJSONError(ctx, err)
			return
		}
		cerr.SetNewJSONError(ctx, cerr.FailedPrecondition, "run already finished", nil)
		return
	}
	h.Cancel()
	select {
	case <-h.Done():
	case <-ctx.Done():
	}
	cerr.SetJSONResponse(ctx, h.Snapshot())
}

type listAgentsResponse struct {
	Agents []*agent.Definition `json:"agents"`
}

func (s *RunService) listAgents(w http.ResponseWriter, r *http.Request) {
	cerr.SetJSONResponse(r.Context(), listAgentsResponse{Agents: s.registry.All()})
}

type reloadContextRequest struct {
	ProjectRoot string `json:"project_root"`
}

func (s *RunService) reloadContext(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req reloadContextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid request body", err)
		return
	}
	pctx, err := s.loader.Reload(ctx, req.ProjectRoot)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, pctx)
}
