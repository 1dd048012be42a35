package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/kazz187/reviewguild/internal/agent"
	"github.com/kazz187/reviewguild/internal/config"
	"github.com/kazz187/reviewguild/internal/event"
	"github.com/kazz187/reviewguild/internal/pipeline"
	"github.com/kazz187/reviewguild/internal/pipeline/repositoryimpl"
	"github.com/kazz187/reviewguild/internal/task"
	agentcolor "github.com/kazz187/reviewguild/pkg/color"
	"github.com/kazz187/reviewguild/pkg/storage"
)

const previewWidth = 60

func agentRegistry(env *config.Env) (*agent.Registry, error) {
	return agent.LoadRegistry(env.AgentsFile)
}

func runRepository(s storage.Storage) pipeline.Repository {
	return repositoryimpl.NewYAMLRepository(s)
}

func statusColor(s task.Status) string {
	switch s {
	case task.StatusAccepted:
		return color.GreenString(string(s))
	case task.StatusFailed:
		return color.RedString(string(s))
	default:
		return color.YellowString(string(s))
	}
}

// preview returns the first line of s, cut to previewWidth runes.
func preview(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	r := []rune(line)
	if len(r) > previewWidth {
		return string(r[:previewWidth-1]) + "…"
	}
	return line
}

func printRun(w io.Writer, run *pipeline.Run) {
	fmt.Fprintf(w, "run %s: %s", run.ID, run.Status)
	if run.FailureReason != "" {
		fmt.Fprintf(w, " (%s)", run.FailureReason)
	}
	fmt.Fprintln(w)

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Task", "Agent", "Status", "Revisions", "Reason", "Output"})
	for _, s := range run.Tasks {
		out := ""
		if final := s.FinalOutput(); final != nil {
			out = preview(final.Content)
		}
		tw.AppendRow(table.Row{s.Task.ID, agentcolor.For(s.Task.AgentID).Sprint(s.Task.AgentID), statusColor(s.Task.Status), s.Task.Revisions, s.Task.FailureReason, out})
	}
	tw.AppendFooter(table.Row{"", "", fmt.Sprintf("%d/%d accepted", run.Count(task.StatusAccepted), len(run.Tasks)), "", "", ""})
	tw.Render()

	for _, s := range run.Tasks {
		if s.Task.Status == task.StatusFailed && s.Task.LastFeedback != "" {
			fmt.Fprintf(w, "\n%s last feedback:\n%s\n", s.Task.ID, s.Task.LastFeedback)
		}
	}
}

func printAgents(w io.Writer, reg *agent.Registry) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"ID", "Name", "Role", "Tier", "Tools"})
	for _, d := range reg.All() {
		tw.AppendRow(table.Row{agentcolor.For(d.ID).Sprint(d.ID), d.Name, d.Role, d.ModelTier, strings.Join(d.Tools, ", ")})
	}
	tw.Render()
}

func printEvents(w io.Writer, events []*event.Event) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Time", "Type", "Run", "Task", "Data"})
	for _, e := range events {
		tw.AppendRow(table.Row{e.Timestamp.Format("15:04:05.000"), e.Type, e.RunID, e.TaskID, preview(string(e.Data))})
	}
	tw.Render()
}
