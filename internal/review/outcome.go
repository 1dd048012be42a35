package review

import (
	"fmt"
	"strings"

	"github.com/kazz187/reviewguild/internal/agent"
	"github.com/kazz187/reviewguild/internal/task"
)

// Outcome is accept only when a Guardian verdict is present and every
// verdict accepts.
func Outcome(verdicts []task.ReviewVerdict) task.Verdict {
	guardian := false
	for _, v := range verdicts {
		if !v.Accepted() {
			return task.VerdictReject
		}
		if v.ReviewerRole == agent.RoleGuardian {
			guardian = true
		}
	}
	if !guardian {
		return task.VerdictReject
	}
	return task.VerdictAccept
}

// CombinedFeedback merges reviewer feedback for the next revision. Guardian
// feedback comes first; a required change QA repeats is kept once in the
// Guardian's wording.
func CombinedFeedback(verdicts []task.ReviewVerdict) string {
	ordered := make([]task.ReviewVerdict, 0, len(verdicts))
	for _, v := range verdicts {
		if v.ReviewerRole == agent.RoleGuardian {
			ordered = append(ordered, v)
		}
	}
	for _, v := range verdicts {
		if v.ReviewerRole != agent.RoleGuardian {
			ordered = append(ordered, v)
		}
	}

	var (
		sb      strings.Builder
		changes []string
		seen    = make(map[string]struct{})
	)
	for _, v := range ordered {
		label := fmt.Sprintf("[%s %s]", v.ReviewerRole, v.Verdict)
		if text := strings.TrimSpace(v.Feedback.Text); text != "" {
			fmt.Fprintf(&sb, "%s %s\n", label, text)
		}
		for _, c := range v.Feedback.RequiredChanges {
			key := strings.ToLower(strings.Join(strings.Fields(c), " "))
			if key == "" {
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			changes = append(changes, fmt.Sprintf("- [%s] %s", v.ReviewerRole, strings.TrimSpace(c)))
		}
	}
	if len(changes) > 0 {
		sb.WriteString("Required changes:\n")
		sb.WriteString(strings.Join(changes, "\n"))
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}
