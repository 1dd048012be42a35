package main

import (
	"context"
	"fmt"
	"net"
	"os"

	"github.com/kazz187/reviewguild/internal/client"
	"github.com/kazz187/reviewguild/internal/config"
	"github.com/kazz187/reviewguild/internal/event"
	"github.com/kazz187/reviewguild/internal/pipeline"
)

func newClient(env *config.Env, server, apiKey string) *client.RunClient {
	if server == "" {
		host := env.HTTPHost
		if host == "" || host == "0.0.0.0" {
			host = "localhost"
		}
		server = "http://" + net.JoinHostPort(host, env.HTTPPort)
	}
	if apiKey == "" {
		apiKey = env.APIKey
	}
	return client.NewRunClient(server, client.WithAPIKey(apiKey))
}

func handleWatch(ctx context.Context, c *client.RunClient, runID string) error {
	show := printProgress(os.Stderr)
	err := c.Watch(ctx, runID, func(e *event.Event) error {
		return show(ctx, e)
	})
	if err != nil {
		return err
	}
	run, err := c.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	printRun(os.Stdout, run)
	if run.Status == pipeline.RunFailed {
		return fmt.Errorf("run %s failed: %s", run.ID, run.FailureReason)
	}
	return nil
}

func handleCancel(ctx context.Context, c *client.RunClient, runID string) error {
	run, err := c.CancelRun(ctx, runID)
	if err != nil {
		return err
	}
	printRun(os.Stdout, run)
	return nil
}
