package pipeline

import (
	"slices"
	"time"

	"github.com/kazz187/reviewguild/internal/task"
)

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Attempt is one producer invocation of a task and the review it received.
type Attempt struct {
	Number   int                  `yaml:"number" json:"number"`
	Output   *task.AgentOutput    `yaml:"output,omitempty" json:"output,omitempty"`
	Verdicts []task.ReviewVerdict `yaml:"verdicts,omitempty" json:"verdicts,omitempty"`
	// Violation names the denied tool request when the attempt was cut
	// short by one.
	Violation string    `yaml:"violation,omitempty" json:"violation,omitempty"`
	Error     string    `yaml:"error,omitempty" json:"error,omitempty"`
	StartedAt time.Time `yaml:"started_at" json:"started_at"`
}

type TaskState struct {
	Task     *task.Task `yaml:"task" json:"task"`
	Attempts []Attempt  `yaml:"attempts,omitempty" json:"attempts,omitempty"`
}

// FinalOutput is the output of the latest attempt that produced one.
func (s *TaskState) FinalOutput() *task.AgentOutput {
	for i := len(s.Attempts) - 1; i >= 0; i-- {
		if s.Attempts[i].Output != nil {
			return s.Attempts[i].Output
		}
	}
	return nil
}

func (s *TaskState) lastAttempt() *Attempt {
	if len(s.Attempts) == 0 {
		return nil
	}
	return &s.Attempts[len(s.Attempts)-1]
}

func (s *TaskState) clone() *TaskState {
	c := &TaskState{Task: s.Task.Clone(), Attempts: make([]Attempt, len(s.Attempts))}
	for i, a := range s.Attempts {
		a.Verdicts = slices.Clone(a.Verdicts)
		c.Attempts[i] = a
	}
	return c
}

// Run is the state of one pipeline run. Values handed out by the
// coordinator are snapshots and never change after they are returned.
type Run struct {
	ID              string       `yaml:"id" json:"id"`
	Status          RunStatus    `yaml:"status" json:"status"`
	FailureReason   string       `yaml:"failure_reason,omitempty" json:"failure_reason,omitempty"`
	Tasks           []*TaskState `yaml:"tasks" json:"tasks"`
	Options         Options      `yaml:"options" json:"options"`
	ContextRoot     string       `yaml:"context_root,omitempty" json:"context_root,omitempty"`
	ContextChecksum string       `yaml:"context_checksum,omitempty" json:"context_checksum,omitempty"`
	StartedAt       time.Time    `yaml:"started_at" json:"started_at"`
	FinishedAt      *time.Time   `yaml:"finished_at,omitempty" json:"finished_at,omitempty"`
}

// Task returns the state of task id, or nil when the run has no such task.
func (r *Run) Task(id string) *TaskState {
	for _, s := range r.Tasks {
		if s.Task.ID == id {
			return s
		}
	}
	return nil
}

// Count returns how many tasks are in status.
func (r *Run) Count(status task.Status) int {
	n := 0
	for _, s := range r.Tasks {
		if s.Task.Status == status {
			n++
		}
	}
	return n
}

func (r *Run) IsTerminal() bool {
	return r.Status != RunRunning
}

func (r *Run) clone() *Run {
	c := *r
	c.Tasks = make([]*TaskState, len(r.Tasks))
	for i, s := range r.Tasks {
		c.Tasks[i] = s.clone()
	}
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}
