package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"

	"github.com/kazz187/reviewguild/internal/config"
	"github.com/kazz187/reviewguild/internal/daemon"
	"github.com/kazz187/reviewguild/internal/event"
	"github.com/kazz187/reviewguild/internal/pipeline"
	"github.com/kazz187/reviewguild/internal/task"
)

var (
	app = kingpin.New("reviewguild", "Run producer agents through a QA and Guardian review chain")

	runCmd            = app.Command("run", "Run a task list against a project and print the result")
	runRoot           = runCmd.Flag("root", "Project root containing docs/").Default(".").String()
	runTasks          = runCmd.Flag("tasks", "Task list YAML file").Required().ExistingFile()
	runMaxConcurrent  = runCmd.Flag("max-concurrent", "Maximum producer calls in flight").IsSetByUser(&maxConcurrentSet).Int()
	runRevisionBudget = runCmd.Flag("revision-budget", "Revisions allowed per task").IsSetByUser(&revisionBudgetSet).Int()
	runTolerate       = runCmd.Flag("tolerate", "Keep going after a task fails").IsSetByUser(&tolerateSet).Bool()
	runTimeout        = runCmd.Flag("timeout", "Wall clock limit for the run").IsSetByUser(&timeoutSet).Duration()

	agentsCmd = app.Command("agents", "List the agent catalog")

	serveCmd = app.Command("serve", "Start the HTTP API")

	showCmd   = app.Command("show", "Show a persisted run")
	showRunID = showCmd.Arg("run-id", "Run ID").Required().String()

	eventsCmd   = app.Command("events", "Print logged events for a day")
	eventsDate  = eventsCmd.Flag("date", "Day to read (YYYY-MM-DD)").Default(time.Now().Format(time.DateOnly)).String()
	eventsRunID = eventsCmd.Flag("run", "Only events of this run").String()

	watchCmd    = app.Command("watch", "Follow a run on a running server")
	watchRunID  = watchCmd.Arg("run-id", "Run ID").Required().String()
	watchServer = watchCmd.Flag("server", "Server base URL (defaults to the configured host and port)").String()
	watchAPIKey = watchCmd.Flag("api-key", "API key for the server").Envar("API_KEY").String()

	cancelCmd    = app.Command("cancel", "Cancel a run on a running server")
	cancelRunID  = cancelCmd.Arg("run-id", "Run ID").Required().String()
	cancelServer = cancelCmd.Flag("server", "Server base URL (defaults to the configured host and port)").String()
	cancelAPIKey = cancelCmd.Flag("api-key", "API key for the server").Envar("API_KEY").String()

	// Flags left unset fall back to the environment.
	maxConcurrentSet, revisionBudgetSet, tolerateSet, timeoutSet bool
)

func main() {
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	// A missing .env is fine; the environment may be set directly.
	_ = godotenv.Load()
	env, err := config.LoadEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	daemon.SetupLogger(env)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	switch command {
	case runCmd.FullCommand():
		err = handleRun(ctx, env)
	case agentsCmd.FullCommand():
		err = handleAgents(ctx, env)
	case serveCmd.FullCommand():
		err = daemon.Serve(ctx, env)
	case showCmd.FullCommand():
		err = handleShow(ctx, env, *showRunID)
	case eventsCmd.FullCommand():
		err = handleEvents(env, *eventsDate, *eventsRunID)
	case watchCmd.FullCommand():
		err = handleWatch(ctx, newClient(env, *watchServer, *watchAPIKey), *watchRunID)
	case cancelCmd.FullCommand():
		err = handleCancel(ctx, newClient(env, *cancelServer, *cancelAPIKey), *cancelRunID)
	}
	if err != nil {
		slog.Error("command failed", "command", command, "error", err)
		os.Exit(1)
	}
}

func handleRun(ctx context.Context, env *config.Env) error {
	a, err := daemon.NewApp(ctx, env)
	if err != nil {
		return err
	}
	if err := a.AttachSinks(ctx); err != nil {
		return err
	}
	a.Bus.Handle(ctx, "progress", printProgress(os.Stderr))
	tasks, err := task.LoadTasks(*runTasks)
	if err != nil {
		return err
	}
	pctx, err := a.Loader.Load(ctx, *runRoot)
	if err != nil {
		return err
	}

	opts := a.Options()
	if maxConcurrentSet {
		opts.MaxConcurrentProducers = *runMaxConcurrent
	}
	if revisionBudgetSet {
		opts.RevisionBudgetPerTask = *runRevisionBudget
	}
	if tolerateSet {
		opts.TolerateFailures = *runTolerate
	}
	if timeoutSet {
		opts.RunTimeout = *runTimeout
	}

	run, err := a.Coordinator.RunPipeline(ctx, tasks, pctx, opts)
	if err != nil {
		return err
	}
	printRun(os.Stdout, run)
	if run.Status == pipeline.RunFailed {
		return fmt.Errorf("run %s failed: %s", run.ID, run.FailureReason)
	}
	return nil
}

func handleAgents(_ context.Context, env *config.Env) error {
	a, err := agentRegistry(env)
	if err != nil {
		return err
	}
	printAgents(os.Stdout, a)
	return nil
}

func handleShow(ctx context.Context, env *config.Env, runID string) error {
	store, err := daemon.NewStorage(ctx, env)
	if err != nil {
		return err
	}
	run, err := runRepository(store).Get(ctx, runID)
	if err != nil {
		return err
	}
	printRun(os.Stdout, run)
	return nil
}

func handleEvents(env *config.Env, date, runID string) error {
	day, err := time.ParseInLocation(time.DateOnly, date, time.Local)
	if err != nil {
		return fmt.Errorf("invalid date %q: %w", date, err)
	}
	r := event.NewReader(env.EventLogDir)
	var events []*event.Event
	if runID != "" {
		events, err = r.ReadRun(day, runID)
	} else {
		events, err = r.ReadDay(day)
	}
	if err != nil {
		return err
	}
	printEvents(os.Stdout, events)
	return nil
}
