package task

import (
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

type Status string

const (
	StatusPending        Status = "pending"
	StatusInProgress     Status = "in_progress"
	StatusAwaitingReview Status = "awaiting_review"
	StatusAccepted       Status = "accepted"
	StatusRejected       Status = "rejected"
	StatusFailed         Status = "failed"
)

func (s Status) IsTerminal() bool {
	return s == StatusAccepted || s == StatusFailed
}

// FailureReason explains why a task ended in StatusFailed.
type FailureReason string

const (
	ReasonNone                    FailureReason = ""
	ReasonRevisionBudgetExhausted FailureReason = "revision_budget_exhausted"
	ReasonModelError              FailureReason = "model_error"
	ReasonCancelled               FailureReason = "cancelled"
	ReasonTimeout                 FailureReason = "timeout"
	ReasonDependencyFailed        FailureReason = "dependency_failed"
	ReasonAborted                 FailureReason = "aborted"
)

type ArtifactKind string

const (
	// ArtifactTask references the accepted output of another task in the
	// same run. It is the only kind that creates a scheduling dependency.
	ArtifactTask ArtifactKind = "task"
	// ArtifactContext references a named project context document.
	ArtifactContext ArtifactKind = "context"
	// ArtifactFile references a deliverable file by path.
	ArtifactFile ArtifactKind = "file"
)

type Artifact struct {
	Kind ArtifactKind `yaml:"kind" json:"kind"`
	Ref  string       `yaml:"ref" json:"ref"`
}

// Task is one unit of work for one producer agent.
type Task struct {
	ID          string     `yaml:"id" json:"id"`
	AgentID     string     `yaml:"agent_id" json:"agent_id"`
	Description string     `yaml:"description" json:"description"`
	Inputs      []Artifact `yaml:"inputs,omitempty" json:"inputs,omitempty"`

	Status        Status        `yaml:"status,omitempty" json:"status,omitempty"`
	Revisions     int           `yaml:"revisions,omitempty" json:"revisions,omitempty"`
	FailureReason FailureReason `yaml:"failure_reason,omitempty" json:"failure_reason,omitempty"`
	LastFeedback  string        `yaml:"last_feedback,omitempty" json:"last_feedback,omitempty"`
	LastError     string        `yaml:"last_error,omitempty" json:"last_error,omitempty"`
}

// DependsOn returns the ids of tasks whose accepted output this task consumes.
func (t *Task) DependsOn() []string {
	var deps []string
	for _, in := range t.Inputs {
		if in.Kind == ArtifactTask && !slices.Contains(deps, in.Ref) {
			deps = append(deps, in.Ref)
		}
	}
	return deps
}

func (t *Task) Clone() *Task {
	c := *t
	c.Inputs = slices.Clone(t.Inputs)
	return &c
}

type tasksFile struct {
	Tasks []*Task `yaml:"tasks"`
}

// LoadTasks reads a task list from a YAML file of the form
//
//	tasks:
//	  - id: schema
//	    agent_id: backend-engineer
//	    description: Design the database schema
//	    inputs:
//	      - {kind: context, ref: SPEC}
func LoadTasks(path string) ([]*Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tasks file: %w", err)
	}
	return ParseTasks(data)
}

func ParseTasks(data []byte) ([]*Task, error) {
	var f tasksFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse tasks file: %w", err)
	}
	for _, t := range f.Tasks {
		if t.Status == "" {
			t.Status = StatusPending
		}
	}
	return f.Tasks, nil
}
