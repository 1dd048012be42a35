package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/kazz187/reviewguild/internal/config"
	"github.com/kazz187/reviewguild/internal/server"
)

const shutdownTimeout = 30 * time.Second

// Serve runs the HTTP API until ctx is cancelled, then stops accepting
// requests and waits for active runs to wind down.
func Serve(ctx context.Context, env *config.Env) error {
	app, err := NewApp(ctx, env)
	if err != nil {
		return err
	}
	if err := app.AttachSinks(ctx); err != nil {
		return fmt.Errorf("failed to attach event sinks: %w", err)
	}
	if err := app.WatchContext(ctx, env.WorkDir); err != nil {
		// The API still works without change notifications.
		slog.WarnContext(ctx, "not watching project documentation", "root", env.WorkDir, "error", err)
	}

	runs := server.NewRunService(ctx, app.Coordinator, app.Loader, app.Registry, app.Repo, app.Bus, app.Options())
	srv := server.NewServer(server.Config{
		Host:   env.HTTPHost,
		Port:   env.HTTPPort,
		APIKey: env.APIKey,
	}, runs)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe(ctx)
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
	// Runs share ctx, so they are already being cancelled.
	runs.Wait(shutdownCtx)
	return nil
}
