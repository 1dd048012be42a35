package server

import (
	"context"

	"connectrpc.com/connect"

	"github.com/kazz187/reviewguild/internal/event"
	"github.com/kazz187/reviewguild/pkg/cerr"
)

const (
	RunServiceName    = "reviewguild.v1.RunService"
	WatchRunProcedure = "/" + RunServiceName + "/WatchRun"
)

const watchBufferSize = 64

type WatchRunRequest struct {
	RunID string `json:"run_id"`
}

// WatchRun streams the events of one run and returns after run.finished.
// A run that already finished yields an empty stream.
func (s *RunService) WatchRun(ctx context.Context, req *connect.Request[WatchRunRequest], stream *connect.ServerStream[event.Event]) error {
	runID := req.Msg.RunID
	if runID == "" {
		return cerr.NewError(cerr.InvalidArgument, "run_id is required", nil).AddViolation("run_id", "is required")
	}

	// Subscribe before the liveness check so run.finished cannot slip
	// between the two.
	subID, ch := s.bus.Subscribe(watchBufferSize)
	defer s.bus.Unsubscribe(subID)

	h, ok := s.handle(runID)
	if !ok {
		if _, err := s.repo.Get(ctx, runID); err != nil {
			return err
		}
		return nil
	}
	// Flush headers so the client handshake completes before the first event.
	if err := stream.Send(nil); err != nil {
		return err
	}

	send := func(e *event.Event) (bool, error) {
		if e.RunID != runID {
			return false, nil
		}
		if err := stream.Send(e); err != nil {
			return false, err
		}
		return e.Type == event.RunFinished, nil
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			if done, err := send(e); done || err != nil {
				return err
			}
		case <-h.Done():
			// Drain what is already buffered; run.finished may have been
			// dropped if this subscriber fell behind.
			for {
				select {
				case e := <-ch:
					if done, err := send(e); done || err != nil {
						return err
					}
				default:
					return nil
				}
			}
		}
	}
}
