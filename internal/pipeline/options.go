package pipeline

import (
	"time"

	"github.com/kazz187/reviewguild/pkg/cerr"
)

type Options struct {
	MaxConcurrentProducers int `yaml:"max_concurrent_producers" json:"max_concurrent_producers"`
	// RevisionBudgetPerTask is the number of revisions allowed after the
	// first attempt; a task gets at most RevisionBudgetPerTask+1 producer
	// invocations.
	RevisionBudgetPerTask int  `yaml:"revision_budget_per_task" json:"revision_budget_per_task"`
	TolerateFailures      bool `yaml:"tolerate_failures" json:"tolerate_failures"`
	// RunTimeout of zero means no run level deadline.
	RunTimeout time.Duration `yaml:"run_timeout" json:"run_timeout"`

	// ModelRetries bounds retries of transient model errors per call.
	ModelRetries int           `yaml:"model_retries" json:"model_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff" json:"retry_backoff"`
	// CancelGrace is how long in-flight calls may take to return after the
	// run is cancelled before they are abandoned.
	CancelGrace time.Duration `yaml:"cancel_grace" json:"cancel_grace"`
}

func DefaultOptions() Options {
	return Options{
		MaxConcurrentProducers: 2,
		RevisionBudgetPerTask:  2,
		TolerateFailures:       true,
		RunTimeout:             2 * time.Hour,
		ModelRetries:           2,
		RetryBackoff:           5 * time.Second,
		CancelGrace:            30 * time.Second,
	}
}

func (o Options) validate() error {
	e := cerr.NewError(cerr.InvalidArgument, "invalid pipeline options", nil)
	if o.MaxConcurrentProducers < 1 {
		e.AddViolation("max_concurrent_producers", "must be at least 1")
	}
	if o.RevisionBudgetPerTask < 0 {
		e.AddViolation("revision_budget_per_task", "must not be negative")
	}
	if o.RunTimeout < 0 {
		e.AddViolation("run_timeout", "must not be negative")
	}
	if o.ModelRetries < 0 {
		e.AddViolation("model_retries", "must not be negative")
	}
	if o.RetryBackoff < 0 {
		e.AddViolation("retry_backoff", "must not be negative")
	}
	if o.CancelGrace < 0 {
		e.AddViolation("cancel_grace", "must not be negative")
	}
	if len(e.Details) > 0 {
		return e
	}
	return nil
}
