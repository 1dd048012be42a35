package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/kazz187/reviewguild/internal/task"
)

type Type string

const (
	RunStarted  Type = "run.started"
	RunFinished Type = "run.finished"

	TaskDispatched Type = "task.dispatched"
	TaskOutput     Type = "task.output"
	TaskReviewed   Type = "task.reviewed"
	TaskAccepted   Type = "task.accepted"
	TaskRejected   Type = "task.rejected"
	TaskFailed     Type = "task.failed"

	ContextChanged Type = "context.changed"
)

// AllTypes lists every event type in publication order of a run.
var AllTypes = []Type{
	RunStarted, TaskDispatched, TaskOutput, TaskReviewed,
	TaskAccepted, TaskRejected, TaskFailed, RunFinished, ContextChanged,
}

// Event is the serialized form shared by the bus, the log and hooks.
type Event struct {
	ID        string          `json:"id"`
	Type      Type            `json:"type"`
	RunID     string          `json:"run_id,omitempty"`
	TaskID    string          `json:"task_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

func New(typ Type, runID, taskID string, data any) (*Event, error) {
	e := &Event{
		ID:        ulid.Make().String(),
		Type:      typ,
		RunID:     runID,
		TaskID:    taskID,
		Timestamp: time.Now(),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s event data: %w", typ, err)
		}
		e.Data = raw
	}
	return e, nil
}

// Decode unmarshals the event payload into T.
func Decode[T any](e *Event) (T, error) {
	var data T
	if len(e.Data) == 0 {
		return data, nil
	}
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return data, fmt.Errorf("failed to decode %s event data: %w", e.Type, err)
	}
	return data, nil
}

type RunStartedData struct {
	Tasks                  int  `json:"tasks"`
	MaxConcurrentProducers int  `json:"max_concurrent_producers"`
	RevisionBudgetPerTask  int  `json:"revision_budget_per_task"`
	TolerateFailures       bool `json:"tolerate_failures"`
}

type RunFinishedData struct {
	Status   string `json:"status"`
	Reason   string `json:"reason,omitempty"`
	Accepted int    `json:"accepted"`
	Failed   int    `json:"failed"`
}

type TaskDispatchedData struct {
	AgentID string `json:"agent_id"`
	Attempt int    `json:"attempt"`
}

type TaskOutputData struct {
	AgentID     string `json:"agent_id"`
	Attempt     int    `json:"attempt"`
	ToolCalls   int    `json:"tool_calls"`
	TotalTokens int    `json:"total_tokens,omitempty"`
}

type TaskReviewedData struct {
	Attempt  int                  `json:"attempt"`
	Verdicts []task.ReviewVerdict `json:"verdicts"`
}

type TaskRejectedData struct {
	Attempt  int    `json:"attempt"`
	Feedback string `json:"feedback"`
	// Revisions left after this rejection.
	Remaining int `json:"remaining"`
}

type TaskFailedData struct {
	Reason task.FailureReason `json:"reason"`
	Error  string             `json:"error,omitempty"`
}

type ContextChangedData struct {
	Root  string   `json:"root"`
	Paths []string `json:"paths"`
}
