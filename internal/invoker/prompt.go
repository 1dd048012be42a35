package invoker

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/kazz187/reviewguild/internal/agent"
	"github.com/kazz187/reviewguild/internal/task"
	"github.com/kazz187/reviewguild/pkg/cerr"
)

type promptData struct {
	Agent *agent.Definition
	Task  *task.Task
}

func renderSystemPrompt(def *agent.Definition, t *task.Task) (string, error) {
	tmpl, err := template.New(def.ID).Option("missingkey=error").Parse(def.PromptTemplate)
	if err != nil {
		return "", cerr.NewError(cerr.InvalidArgument, fmt.Sprintf("invalid prompt template for agent %s", def.ID), err)
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, promptData{Agent: def, Task: t}); err != nil {
		return "", cerr.NewError(cerr.InvalidArgument, fmt.Sprintf("failed to render prompt template for agent %s", def.ID), err)
	}
	return sb.String(), nil
}

func renderUserPrompt(call *Call) string {
	var sb strings.Builder
	if call.Agent.IsReviewer() {
		writeReviewPrompt(&sb, call)
	} else {
		writeProducerPrompt(&sb, call)
	}
	return sb.String()
}

func writeTask(sb *strings.Builder, t *task.Task) {
	fmt.Fprintf(sb, "## Task %s\n\n%s\n\n", t.ID, strings.TrimSpace(t.Description))
	var files []string
	for _, in := range t.Inputs {
		if in.Kind == task.ArtifactFile {
			files = append(files, in.Ref)
		}
	}
	if len(files) > 0 {
		sb.WriteString("Relevant files:\n")
		for _, f := range files {
			fmt.Fprintf(sb, "- %s\n", f)
		}
		sb.WriteString("\n")
	}
}

// writeContext includes the context documents the task names, or every
// document when it names none.
func writeContext(sb *strings.Builder, call *Call) {
	if call.Context == nil {
		return
	}
	var names []string
	for _, in := range call.Task.Inputs {
		if in.Kind == task.ArtifactContext {
			names = append(names, in.Ref)
		}
	}
	rendered := call.Context.Render(names...)
	if rendered == "" {
		return
	}
	sb.WriteString("## Project context\n\n")
	sb.WriteString(rendered)
}

func writeProducerPrompt(sb *strings.Builder, call *Call) {
	writeTask(sb, call.Task)
	writeContext(sb, call)
	for _, dep := range call.Dependencies {
		fmt.Fprintf(sb, "## Accepted output of task %s (%s)\n\n%s\n\n", dep.TaskID, dep.AgentID, strings.TrimSpace(dep.Content))
	}
	if call.Previous != nil {
		fmt.Fprintf(sb, "## Your previous attempt (attempt %d)\n\n%s\n\n", call.Previous.Attempt, strings.TrimSpace(call.Previous.Content))
	}
	if call.Feedback != "" {
		sb.WriteString("## Review feedback to address\n\n")
		sb.WriteString(strings.TrimSpace(call.Feedback))
		sb.WriteString("\n\nRevise your work so that every required change is resolved.\n")
	}
}

func writeReviewPrompt(sb *strings.Builder, call *Call) {
	writeTask(sb, call.Task)
	writeContext(sb, call)
	if s := call.Subject; s != nil {
		fmt.Fprintf(sb, "## Output under review (agent %s, attempt %d)\n\n%s\n\n", s.AgentID, s.Attempt, strings.TrimSpace(s.Content))
		if s.Diff != "" {
			fmt.Fprintf(sb, "## Changes since the previous attempt\n\n```diff\n%s```\n\n", s.Diff)
		}
	}
	for _, v := range call.PriorVerdicts {
		fmt.Fprintf(sb, "## %s verdict from %s: %s\n\n", v.ReviewerRole, v.ReviewerID, v.Verdict)
		if v.Feedback.Text != "" {
			sb.WriteString(strings.TrimSpace(v.Feedback.Text))
			sb.WriteString("\n")
		}
		for _, c := range v.Feedback.RequiredChanges {
			fmt.Fprintf(sb, "- %s\n", c)
		}
		sb.WriteString("\n")
	}
}
