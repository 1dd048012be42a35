package event

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/sourcegraph/conc/pool"
	"gopkg.in/yaml.v3"
)

const defaultHookTimeout = 30 * time.Second

// Hook runs a shell command whenever an event of the given type is
// published. The event is passed through REVIEWGUILD_EVENT_* variables.
type Hook struct {
	Name    string `yaml:"name"`
	Event   Type   `yaml:"event"`
	Command string `yaml:"command"`
	// Timeout in seconds.
	Timeout int `yaml:"timeout,omitempty"`
}

type hooksFile struct {
	Hooks []Hook `yaml:"hooks"`
}

func LoadHooks(path string) ([]Hook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read hooks file: %w", err)
	}
	var f hooksFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse hooks file: %w", err)
	}
	for i, h := range f.Hooks {
		if h.Command == "" {
			return nil, fmt.Errorf("hook %d (%s) has no command", i, h.Name)
		}
	}
	return f.Hooks, nil
}

type HookExecutor struct {
	hooks []Hook
}

func NewHookExecutor(hooks []Hook) *HookExecutor {
	return &HookExecutor{hooks: hooks}
}

// Execute runs every hook matching the event concurrently and waits for all
// of them. The returned error joins the failures.
func (he *HookExecutor) Execute(ctx context.Context, e *Event) error {
	p := pool.New().WithErrors().WithContext(ctx)
	for _, h := range he.hooks {
		if h.Event != e.Type {
			continue
		}
		p.Go(func(ctx context.Context) error {
			if err := runHook(ctx, h, e); err != nil {
				return fmt.Errorf("hook %s: %w", h.Name, err)
			}
			return nil
		})
	}
	return p.Wait()
}

// Attach runs hooks for every event published on bus until ctx is done.
func (he *HookExecutor) Attach(ctx context.Context, bus *Bus) {
	if len(he.hooks) == 0 {
		return
	}
	bus.Handle(ctx, "hooks", he.Execute)
}

func runHook(ctx context.Context, h Hook, e *Event) error {
	timeout := defaultHookTimeout
	if h.Timeout > 0 {
		timeout = time.Duration(h.Timeout) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", h.Command)
	cmd.Env = append(os.Environ(),
		"REVIEWGUILD_EVENT_ID="+e.ID,
		"REVIEWGUILD_EVENT_TYPE="+string(e.Type),
		"REVIEWGUILD_EVENT_RUN_ID="+e.RunID,
		"REVIEWGUILD_EVENT_TASK_ID="+e.TaskID,
		"REVIEWGUILD_EVENT_TIMESTAMP="+e.Timestamp.Format(time.RFC3339),
		"REVIEWGUILD_EVENT_DATA="+string(e.Data),
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("command failed: %w, output: %s", err, out)
	}
	slog.DebugContext(ctx, "hook finished", "hook", h.Name, "event_id", e.ID)
	return nil
}
