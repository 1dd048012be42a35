// Package daemon wires configuration into a ready pipeline: storage,
// agent registry, context loader, model backend, event sinks and the
// coordinator. The CLI and the HTTP server share it.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/kazz187/reviewguild/internal/agent"
	"github.com/kazz187/reviewguild/internal/config"
	"github.com/kazz187/reviewguild/internal/event"
	"github.com/kazz187/reviewguild/internal/invoker"
	"github.com/kazz187/reviewguild/internal/pipeline"
	"github.com/kazz187/reviewguild/internal/pipeline/repositoryimpl"
	"github.com/kazz187/reviewguild/internal/projectcontext"
	"github.com/kazz187/reviewguild/internal/review"
	"github.com/kazz187/reviewguild/pkg/clog"
	"github.com/kazz187/reviewguild/pkg/storage"
	"github.com/kazz187/reviewguild/pkg/worktree"
)

const contextCacheSize = 16

// SetupLogger installs the process wide slog handler: colored text for
// local development, JSON elsewhere.
func SetupLogger(env *config.Env) {
	level := env.SlogLevel()
	var handler slog.Handler
	if env.IsLocal() {
		handler = clog.NewTextHandler(os.Stderr, clog.WithLevel(level))
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(clog.NewAttributesHandler(handler)))
}

type App struct {
	Env         *config.Env
	Registry    *agent.Registry
	Loader      *projectcontext.Loader
	Bus         *event.Bus
	Repo        pipeline.Repository
	Invoker     *invoker.Invoker
	Coordinator *pipeline.Coordinator
}

func NewApp(ctx context.Context, env *config.Env) (*App, error) {
	store, err := NewStorage(ctx, env)
	if err != nil {
		return nil, err
	}
	reg, err := agent.LoadRegistry(env.AgentsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load agents: %w", err)
	}
	loader, err := projectcontext.NewLoader(contextCacheSize)
	if err != nil {
		return nil, err
	}
	backend, err := NewBackend(ctx, env)
	if err != nil {
		return nil, err
	}

	inv := invoker.New(backend,
		invoker.WithTimeout(env.InvokeTimeout),
		invoker.WithIsolatedWorkspaces(env.UseWorktree),
	)
	bus := event.NewBus()
	repo := repositoryimpl.NewYAMLRepository(store)
	coord := pipeline.NewCoordinator(reg, inv, review.NewChain(reg, inv),
		pipeline.WithRepository(repo),
		pipeline.WithPublisher(bus),
	)
	return &App{
		Env:         env,
		Registry:    reg,
		Loader:      loader,
		Bus:         bus,
		Repo:        repo,
		Invoker:     inv,
		Coordinator: coord,
	}, nil
}

// Options returns the run options configured through the environment.
func (a *App) Options() pipeline.Options {
	opts := pipeline.DefaultOptions()
	opts.MaxConcurrentProducers = a.Env.MaxConcurrentProducers
	opts.RevisionBudgetPerTask = a.Env.RevisionBudget
	opts.TolerateFailures = a.Env.TolerateFailures
	opts.RunTimeout = a.Env.RunTimeout
	opts.ModelRetries = a.Env.ModelRetries
	opts.RetryBackoff = a.Env.RetryBackoff
	opts.CancelGrace = a.Env.CancelGrace
	return opts
}

// AttachSinks starts the NDJSON event log and, when configured, the hook
// executor. Both stop with ctx.
func (a *App) AttachSinks(ctx context.Context) error {
	logger, err := event.NewLogger(a.Env.EventLogDir)
	if err != nil {
		return err
	}
	logger.Attach(ctx, a.Bus)
	if a.Env.HooksFile == "" {
		return nil
	}
	hooks, err := event.LoadHooks(a.Env.HooksFile)
	if err != nil {
		return err
	}
	event.NewHookExecutor(hooks).Attach(ctx, a.Bus)
	slog.InfoContext(ctx, "hooks loaded", "count", len(hooks))
	return nil
}

// WatchContext publishes context.changed whenever documentation under
// root changes. The cached context is left alone; clients reload it
// explicitly.
func (a *App) WatchContext(ctx context.Context, root string) error {
	changes, err := a.Loader.Watch(ctx, root)
	if err != nil {
		return err
	}
	go func() {
		for c := range changes {
			slog.InfoContext(ctx, "project documentation changed", "root", c.Root, "paths", c.Paths)
			a.Bus.PublishNew(ctx, event.ContextChanged, "", "", event.ContextChangedData{Root: c.Root, Paths: c.Paths})
		}
	}()
	return nil
}

func NewStorage(ctx context.Context, env *config.Env) (storage.Storage, error) {
	switch env.StorageEnv.Type {
	case "s3":
		s, err := storage.NewS3Storage(ctx, env.S3Bucket, env.S3Prefix, env.S3Region)
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 storage: %w", err)
		}
		return s, nil
	case "minio":
		s, err := storage.NewMinIOStorage(storage.MinIOConfig{
			Endpoint:  env.MinIOEndpoint,
			AccessKey: env.MinIOAccessKey,
			SecretKey: env.MinIOSecretKey,
			Bucket:    env.MinIOBucket,
			Prefix:    env.S3Prefix,
			Region:    env.S3Region,
			UseSSL:    env.MinIOUseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create MinIO storage: %w", err)
		}
		return s, nil
	default:
		s, err := storage.NewLocalStorage(env.BaseDir)
		if err != nil {
			return nil, fmt.Errorf("failed to create local storage: %w", err)
		}
		return s, nil
	}
}

// NewBackend builds the configured model backend behind the shared rate
// limiter.
func NewBackend(ctx context.Context, env *config.Env) (invoker.Backend, error) {
	var backend invoker.Backend
	switch env.Backend {
	case "gemini":
		g, err := invoker.NewGeminiBackend(ctx, env.GeminiAPIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create gemini backend: %w", err)
		}
		backend = g
	default:
		var opts []invoker.ClaudeOption
		if env.UseWorktree {
			m, err := worktree.NewManager(env.WorkDir)
			if err != nil {
				return nil, fmt.Errorf("failed to set up worktrees: %w", err)
			}
			opts = append(opts, invoker.WithWorktrees(m))
		}
		backend = invoker.NewClaudeBackend(env.WorkDir, opts...)
	}
	return invoker.NewRateLimited(backend, env.RatePerMinute), nil
}
