package task

import "time"

type Verdict string

const (
	VerdictAccept Verdict = "accept"
	VerdictReject Verdict = "reject"
)

func (v Verdict) Valid() bool {
	return v == VerdictAccept || v == VerdictReject
}

type Feedback struct {
	Text            string   `yaml:"text,omitempty" json:"text,omitempty"`
	RequiredChanges []string `yaml:"required_changes,omitempty" json:"required_changes,omitempty"`
}

func (f Feedback) IsEmpty() bool {
	return f.Text == "" && len(f.RequiredChanges) == 0
}

// ReviewVerdict is the judgement of one reviewing agent on one AgentOutput.
type ReviewVerdict struct {
	Verdict      Verdict   `yaml:"verdict" json:"verdict"`
	ReviewerID   string    `yaml:"reviewer_id" json:"reviewer_id"`
	ReviewerRole string    `yaml:"reviewer_role" json:"reviewer_role"`
	Feedback     Feedback  `yaml:"feedback" json:"feedback"`
	Timestamp    time.Time `yaml:"timestamp" json:"timestamp"`
}

func (v ReviewVerdict) Accepted() bool {
	return v.Verdict == VerdictAccept
}
