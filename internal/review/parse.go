package review

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/kazz187/reviewguild/internal/task"
)

var errNoVerdict = errors.New("reply has no verdict")

type jsonReply struct {
	Verdict         string   `json:"verdict"`
	Feedback        string   `json:"feedback"`
	RequiredChanges []string `json:"required_changes"`
}

// parseReply extracts the verdict and feedback from a reviewer's reply. A
// JSON object anywhere in the reply wins over line directives.
func parseReply(content string) (task.Verdict, task.Feedback, error) {
	if v, fb, ok := parseJSONReply(content); ok {
		return v, fb, nil
	}
	return parseDirectives(content)
}

func parseJSONReply(content string) (task.Verdict, task.Feedback, bool) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return "", task.Feedback{}, false
	}
	var r jsonReply
	if err := json.Unmarshal([]byte(content[start:end+1]), &r); err != nil {
		return "", task.Feedback{}, false
	}
	v, ok := normalizeVerdict(r.Verdict)
	if !ok {
		return "", task.Feedback{}, false
	}
	fb := task.Feedback{Text: strings.TrimSpace(r.Feedback)}
	for _, c := range r.RequiredChanges {
		if c = strings.TrimSpace(c); c != "" {
			fb.RequiredChanges = append(fb.RequiredChanges, c)
		}
	}
	return v, fb, true
}

type directive int

const (
	dirNone directive = iota
	dirFeedback
	dirChanges
)

func parseDirectives(content string) (task.Verdict, task.Feedback, error) {
	var (
		verdict  task.Verdict
		feedback []string
		fb       task.Feedback
		current  = dirNone
	)
	for _, raw := range strings.Split(content, "\n") {
		line := strings.TrimSpace(strings.Trim(strings.TrimSpace(raw), "*_`"))
		if key, value, ok := splitDirective(line); ok {
			switch key {
			case "VERDICT":
				if v, ok := normalizeVerdict(value); ok && verdict == "" {
					verdict = v
				}
				current = dirNone
				continue
			case "FEEDBACK":
				if value != "" {
					feedback = append(feedback, value)
				}
				current = dirFeedback
				continue
			case "REQUIRED_CHANGES", "REQUIRED CHANGES":
				if item := listItem(value); item != "" {
					fb.RequiredChanges = append(fb.RequiredChanges, item)
				}
				current = dirChanges
				continue
			}
		}
		switch current {
		case dirFeedback:
			if line != "" {
				feedback = append(feedback, line)
			}
		case dirChanges:
			if item := listItem(line); item != "" {
				fb.RequiredChanges = append(fb.RequiredChanges, item)
			}
		}
	}
	if verdict == "" {
		return "", task.Feedback{}, errNoVerdict
	}
	fb.Text = strings.Join(feedback, "\n")
	return verdict, fb, nil
}

func splitDirective(line string) (string, string, bool) {
	key, value, ok := strings.Cut(line, ":")
	if !ok {
		return "", "", false
	}
	key = strings.ToUpper(strings.TrimSpace(strings.Trim(key, "*_`# ")))
	value = strings.TrimSpace(strings.Trim(strings.TrimSpace(value), "*_`"))
	return key, value, true
}

func listItem(line string) string {
	line = strings.TrimSpace(line)
	switch {
	case strings.HasPrefix(line, "- "), strings.HasPrefix(line, "* "):
		line = line[2:]
	default:
		// "1. change" and "1) change"
		i := 0
		for i < len(line) && line[i] >= '0' && line[i] <= '9' {
			i++
		}
		if i > 0 && i < len(line) && (line[i] == '.' || line[i] == ')') {
			line = line[i+1:]
		}
	}
	line = strings.TrimSpace(line)
	if strings.EqualFold(line, "none") || line == "-" {
		return ""
	}
	return line
}

func normalizeVerdict(s string) (task.Verdict, bool) {
	switch strings.ToLower(strings.Trim(strings.TrimSpace(s), ".!*_`\"")) {
	case "accept", "accepted", "approve", "approved":
		return task.VerdictAccept, true
	case "reject", "rejected":
		return task.VerdictReject, true
	}
	return "", false
}
