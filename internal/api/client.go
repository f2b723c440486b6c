package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrDaemonUnavailable is returned when the daemon API cannot be reached.
var ErrDaemonUnavailable = errors.New("daemon unavailable")

// HTTPDoer describes the HTTP client used to reach the daemon.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ResponseError is a non-2xx answer from the daemon API.
type ResponseError struct {
	StatusCode int
	Message    string
}

func (e *ResponseError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("daemon returned %d", e.StatusCode)
	}
	return fmt.Sprintf("daemon returned %d: %s", e.StatusCode, e.Message)
}

// Client issues commands against the daemon's HTTP API.
type Client struct {
	baseURL string
	token   string
	http    HTTPDoer
}

// NewClient builds a client for the API bound at bind (host:port or URL).
func NewClient(bind, token string, doer HTTPDoer) *Client {
	if doer == nil {
		doer = &http.Client{Timeout: 10 * time.Second}
	}
	base := strings.TrimRight(strings.TrimSpace(bind), "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &Client{baseURL: base, token: strings.TrimSpace(token), http: doer}
}

// BaseURL returns the API root the client targets.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Health checks daemon liveness.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.call(ctx, http.MethodGet, "/api/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status retrieves the aggregate status snapshot.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var resp Status
	if err := c.call(ctx, http.MethodGet, "/api/status", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueueURL queues a URL for analysis and returns the task id.
func (c *Client) QueueURL(ctx context.Context, req QueueTaskRequest) (*QueueTaskResponse, error) {
	var resp QueueTaskResponse
	if err := c.call(ctx, http.MethodPost, "/api/tasks", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueueBatch queues a group of URLs.
func (c *Client) QueueBatch(ctx context.Context, req QueueBatchRequest) (*BatchResponse, error) {
	var resp BatchResponse
	if err := c.call(ctx, http.MethodPost, "/api/batches", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Tasks lists active tasks, or every tracked task when all is set.
func (c *Client) Tasks(ctx context.Context, all bool) (*TaskListResponse, error) {
	path := "/api/tasks"
	if all {
		path += "?all=1"
	}
	var resp TaskListResponse
	if err := c.call(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Task returns a single task.
func (c *Client) Task(ctx context.Context, id string) (*TaskResponse, error) {
	var resp TaskResponse
	if err := c.call(ctx, http.MethodGet, "/api/tasks/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CancelTask cancels a task.
func (c *Client) CancelTask(ctx context.Context, id string) (*ActionResponse, error) {
	return c.action(ctx, "/api/tasks/"+url.PathEscape(id)+"/cancel")
}

// RetryTask retries a task in the error state.
func (c *Client) RetryTask(ctx context.Context, id string) (*ActionResponse, error) {
	return c.action(ctx, "/api/tasks/"+url.PathEscape(id)+"/retry")
}

// Batch returns the derived status of a batch.
func (c *Client) Batch(ctx context.Context, id string) (*BatchResponse, error) {
	var resp BatchResponse
	if err := c.call(ctx, http.MethodGet, "/api/batches/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CaptureTab captures an open tab.
func (c *Client) CaptureTab(ctx context.Context, tabID int) (*CaptureResult, error) {
	var resp CaptureResult
	if err := c.call(ctx, http.MethodPost, "/api/captures/tab/"+strconv.Itoa(tabID), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CaptureActive captures the active tab.
func (c *Client) CaptureActive(ctx context.Context) (*CaptureResult, error) {
	var resp CaptureResult
	if err := c.call(ctx, http.MethodPost, "/api/captures/active", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CaptureURL captures a page that is not open in a tab.
func (c *Client) CaptureURL(ctx context.Context, req CaptureURLRequest) (*CaptureResult, error) {
	var resp CaptureResult
	if err := c.call(ctx, http.MethodPost, "/api/captures", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// History lists recent captures, newest first. A non-positive limit returns all.
func (c *Client) History(ctx context.Context, limit int) (*HistoryResponse, error) {
	path := "/api/captures/history"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp HistoryResponse
	if err := c.call(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Offline lists the offline queue.
func (c *Client) Offline(ctx context.Context) (*OfflineResponse, error) {
	var resp OfflineResponse
	if err := c.call(ctx, http.MethodGet, "/api/offline", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Replay triggers an offline queue replay pass.
func (c *Client) Replay(ctx context.Context) (*ReplayResponse, error) {
	var resp ReplayResponse
	if err := c.call(ctx, http.MethodPost, "/api/offline/replay", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) action(ctx context.Context, path string) (*ActionResponse, error) {
	var resp ActionResponse
	if err := c.call(ctx, http.MethodPost, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) call(ctx context.Context, method, path string, body, dst any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDaemonUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr ErrorResponse
		_ = json.Unmarshal(data, &apiErr)
		msg := apiErr.Error
		if msg == "" {
			msg = strings.TrimSpace(string(data))
		}
		return &ResponseError{StatusCode: resp.StatusCode, Message: msg}
	}
	if dst == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
