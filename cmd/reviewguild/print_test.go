package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"

	"github.com/kazz187/reviewguild/internal/event"
	"github.com/kazz187/reviewguild/internal/pipeline"
	"github.com/kazz187/reviewguild/internal/task"
)

func TestPreview(t *testing.T) {
	assert.Equal(t, "first line", preview("\n first line\nsecond"))
	long := strings.Repeat("x", previewWidth+10)
	got := []rune(preview(long))
	assert.Len(t, got, previewWidth)
	assert.Equal(t, '…', got[len(got)-1])
}

func TestPrintRun(t *testing.T) {
	color.NoColor = true
	run := &pipeline.Run{
		ID:            "01JA0000000000000000000001",
		Status:        pipeline.RunFailed,
		FailureReason: "cancelled",
		Tasks: []*pipeline.TaskState{
			{
				Task: &task.Task{ID: "api", AgentID: "backend-engineer", Status: task.StatusAccepted, Revisions: 1},
				Attempts: []pipeline.Attempt{
					{Number: 1, Output: &task.AgentOutput{Content: "first"}},
					{Number: 2, Output: &task.AgentOutput{Content: "second try\nmore"}},
				},
			},
			{
				Task: &task.Task{ID: "ui", AgentID: "frontend-engineer", Status: task.StatusFailed,
					FailureReason: task.ReasonRevisionBudgetExhausted, LastFeedback: "[Guardian reject] out of scope"},
			},
		},
	}
	var buf bytes.Buffer
	printRun(&buf, run)
	out := buf.String()
	assert.Contains(t, out, "run 01JA0000000000000000000001: failed (cancelled)")
	assert.Contains(t, out, "second try")
	assert.NotContains(t, out, "more")
	assert.Contains(t, out, "revision_budget_exhausted")
	assert.Contains(t, strings.ToLower(out), "1/2 accepted")
	assert.Contains(t, out, "[Guardian reject] out of scope")
}

func TestProgressLine(t *testing.T) {
	color.NoColor = true

	e, err := event.New(event.TaskDispatched, "run", "api", event.TaskDispatchedData{AgentID: "backend-engineer", Attempt: 2})
	assert.NoError(t, err)
	line, err := progressLine(e)
	assert.NoError(t, err)
	assert.Equal(t, "[api] backend-engineer working (attempt 2)", line)

	e, _ = event.New(event.TaskReviewed, "run", "api", event.TaskReviewedData{Attempt: 1, Verdicts: []task.ReviewVerdict{
		{ReviewerRole: "QA", Verdict: task.VerdictAccept},
		{ReviewerRole: "Guardian", Verdict: task.VerdictReject},
	}})
	line, _ = progressLine(e)
	assert.Equal(t, "[api] reviewed: QA accept, Guardian reject", line)

	e, _ = event.New(event.RunStarted, "run", "", nil)
	line, _ = progressLine(e)
	assert.Empty(t, line)
}
