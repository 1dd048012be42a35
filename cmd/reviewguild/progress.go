package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/kazz187/reviewguild/internal/event"
	"github.com/kazz187/reviewguild/pkg/color"
)

// progressLine renders one human readable line per event, or "" for events
// not worth showing.
func progressLine(e *event.Event) (string, error) {
	prefix := color.Prefix(e.TaskID)
	switch e.Type {
	case event.TaskDispatched:
		d, err := event.Decode[event.TaskDispatchedData](e)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s %s working (attempt %d)", prefix, d.AgentID, d.Attempt), nil
	case event.TaskReviewed:
		d, err := event.Decode[event.TaskReviewedData](e)
		if err != nil {
			return "", err
		}
		parts := make([]string, 0, len(d.Verdicts))
		for _, v := range d.Verdicts {
			parts = append(parts, fmt.Sprintf("%s %s", v.ReviewerRole, v.Verdict))
		}
		return fmt.Sprintf("%s reviewed: %s", prefix, strings.Join(parts, ", ")), nil
	case event.TaskRejected:
		d, err := event.Decode[event.TaskRejectedData](e)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s rejected, %d revision(s) left", prefix, d.Remaining), nil
	case event.TaskAccepted:
		return prefix + " accepted", nil
	case event.TaskFailed:
		d, err := event.Decode[event.TaskFailedData](e)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s failed: %s", prefix, d.Reason), nil
	}
	return "", nil
}

func printProgress(w io.Writer) func(context.Context, *event.Event) error {
	return func(_ context.Context, e *event.Event) error {
		line, err := progressLine(e)
		if err != nil || line == "" {
			return err
		}
		_, err = fmt.Fprintln(w, line)
		return err
	}
}
