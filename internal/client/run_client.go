// Package client talks to a running reviewguild server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"connectrpc.com/connect"

	"github.com/kazz187/reviewguild/internal/event"
	"github.com/kazz187/reviewguild/internal/pipeline"
	"github.com/kazz187/reviewguild/internal/server"
	"github.com/kazz187/reviewguild/internal/task"
)

type RunClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	watch   *connect.Client[server.WatchRunRequest, event.Event]
}

type Option func(*RunClient)

func WithAPIKey(key string) Option {
	return func(c *RunClient) { c.apiKey = key }
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *RunClient) { c.http = h }
}

func NewRunClient(baseURL string, opts ...Option) *RunClient {
	c := &RunClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    http.DefaultClient,
	}
	for _, o := range opts {
		o(c)
	}
	c.watch = connect.NewClient[server.WatchRunRequest, event.Event](
		c.http,
		c.baseURL+server.WatchRunProcedure,
		connect.WithCodec(server.JSONCodec{}),
	)
	return c
}

// APIError is a non-2xx answer from the JSON API.
type APIError struct {
	Status     int      `json:"-"`
	Code       string   `json:"code"`
	Message    string   `json:"message"`
	Violations []string `json:"violations,omitempty"`
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
	if len(e.Violations) > 0 {
		msg += " (" + strings.Join(e.Violations, "; ") + ")"
	}
	return msg
}

type StartRunRequest struct {
	ProjectRoot string            `json:"project_root"`
	Tasks       []*task.Task      `json:"tasks"`
	Options     *pipeline.Options `json:"options,omitempty"`
}

func (c *RunClient) StartRun(ctx context.Context, req StartRunRequest) (*pipeline.Run, error) {
	var run pipeline.Run
	if err := c.do(ctx, http.MethodPost, "/api/runs", req, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

func (c *RunClient) GetRun(ctx context.Context, id string) (*pipeline.Run, error) {
	var run pipeline.Run
	if err := c.do(ctx, http.MethodGet, "/api/runs/"+id, nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

func (c *RunClient) CancelRun(ctx context.Context, id string) (*pipeline.Run, error) {
	var run pipeline.Run
	if err := c.do(ctx, http.MethodPost, "/api/runs/"+id+"/cancel", nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// Watch calls fn for every event of the run until run.finished, fn fails,
// or ctx is done.
func (c *RunClient) Watch(ctx context.Context, runID string, fn func(*event.Event) error) error {
	req := connect.NewRequest(&server.WatchRunRequest{RunID: runID})
	c.authorize(req.Header())
	stream, err := c.watch.CallServerStream(ctx, req)
	if err != nil {
		return err
	}
	defer stream.Close()
	for stream.Receive() {
		if err := fn(stream.Msg()); err != nil {
			return err
		}
	}
	return stream.Err()
}

func (c *RunClient) do(ctx context.Context, method, path string, body, out any) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req.Header)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{Status: resp.StatusCode}
		data, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(data, apiErr) != nil || apiErr.Code == "" {
			apiErr.Code = http.StatusText(resp.StatusCode)
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *RunClient) authorize(h http.Header) {
	if c.apiKey != "" {
		h.Set("X-API-Key", c.apiKey)
	}
}
