// Package review runs the two stage review of a producer output: QA first,
// then the Guardian, which always has the final word.
package review

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kazz187/reviewguild/internal/agent"
	"github.com/kazz187/reviewguild/internal/invoker"
	"github.com/kazz187/reviewguild/internal/projectcontext"
	"github.com/kazz187/reviewguild/internal/task"
)

// Invoker is the part of invoker.Invoker the chain needs.
type Invoker interface {
	Invoke(ctx context.Context, call invoker.Call) (*task.AgentOutput, error)
}

type ReviewInput struct {
	RunID   string
	Task    *task.Task
	Output  *task.AgentOutput
	Context *projectcontext.ProjectContext
}

type Chain struct {
	qa       *agent.Definition
	guardian *agent.Definition
	invoker  Invoker
	now      func() time.Time
}

func NewChain(reg *agent.Registry, inv Invoker) *Chain {
	return &Chain{
		qa:       reg.GetReviewerAgent(),
		guardian: reg.GetGuardianAgent(),
		invoker:  inv,
		now:      time.Now,
	}
}

// Review returns exactly two verdicts, QA then Guardian. The Guardian is
// consulted even when QA rejects, and sees the QA verdict. Any failure of
// either reviewer fails the whole review; no partial result is returned.
func (c *Chain) Review(ctx context.Context, in ReviewInput) ([]task.ReviewVerdict, error) {
	qaVerdict, err := c.ask(ctx, c.qa, in, nil)
	if err != nil {
		return nil, fmt.Errorf("qa review: %w", err)
	}
	guardianVerdict, err := c.ask(ctx, c.guardian, in, []task.ReviewVerdict{qaVerdict})
	if err != nil {
		return nil, fmt.Errorf("guardian review: %w", err)
	}
	slog.DebugContext(ctx, "review finished",
		"qa_verdict", qaVerdict.Verdict, "guardian_verdict", guardianVerdict.Verdict)
	return []task.ReviewVerdict{qaVerdict, guardianVerdict}, nil
}

func (c *Chain) ask(ctx context.Context, reviewer *agent.Definition, in ReviewInput, prior []task.ReviewVerdict) (task.ReviewVerdict, error) {
	out, err := c.invoker.Invoke(ctx, invoker.Call{
		RunID:         in.RunID,
		Agent:         reviewer,
		Task:          in.Task,
		Context:       in.Context,
		Attempt:       in.Output.Attempt,
		Subject:       in.Output,
		PriorVerdicts: prior,
	})
	if err != nil {
		return task.ReviewVerdict{}, err
	}
	verdict, fb, err := parseReply(out.Content)
	if err != nil {
		return task.ReviewVerdict{}, invoker.NewModelError(invoker.KindMalformed, reviewer.ID, err)
	}
	return task.ReviewVerdict{
		Verdict:      verdict,
		ReviewerID:   reviewer.ID,
		ReviewerRole: reviewer.Role,
		Feedback:     fb,
		Timestamp:    c.now(),
	}, nil
}
