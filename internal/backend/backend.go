// Package backend maps scheduler and capture calls onto the remote analysis API.
package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"sightline/internal/capture"
	"sightline/internal/remote"
	"sightline/internal/scheduler"
)

// Sender is the subset of remote.Client used by the adapter.
type Sender interface {
	Send(ctx context.Context, method, endpoint string, body any, opts *remote.Options) (remote.Result, error)
}

// Paths holds backend endpoint paths relative to the client's base URL.
type Paths struct {
	Analysis string
	Capture  string
}

// Client adapts a Sender to scheduler.Backend and capture.Submitter.
type Client struct {
	sender Sender
	paths  Paths
}

// New returns a Client. Empty paths default to /api/analysis and /api/captures.
func New(sender Sender, paths Paths) *Client {
	if strings.TrimSpace(paths.Analysis) == "" {
		paths.Analysis = "/api/analysis"
	}
	if strings.TrimSpace(paths.Capture) == "" {
		paths.Capture = "/api/captures"
	}
	paths.Analysis = strings.TrimRight(paths.Analysis, "/")
	paths.Capture = strings.TrimRight(paths.Capture, "/")
	return &Client{sender: sender, paths: paths}
}

type analysisRequest struct {
	TaskID string            `json:"task_id"`
	URL    string            `json:"url"`
	Params map[string]string `json:"params,omitempty"`
}

type jobResponse struct {
	JobID string `json:"job_id"`
	ID    string `json:"id"`
}

// SubmitAnalysis creates an analysis job and returns the backend job id.
// Offline handling is disabled: the scheduler owns retry for analysis work.
func (c *Client) SubmitAnalysis(ctx context.Context, taskID, pageURL string, params map[string]string) (string, error) {
	result, err := c.sender.Send(ctx, http.MethodPost, c.paths.Analysis, analysisRequest{
		TaskID: taskID,
		URL:    pageURL,
		Params: params,
	}, &remote.Options{DisableOffline: true})
	if err != nil {
		return "", err
	}
	var resp jobResponse
	if err := result.Decode(&resp); err != nil {
		return "", remote.Wrap(remote.ErrBackendUnavailable, "submit analysis", "decode response", err)
	}
	if resp.JobID != "" {
		return resp.JobID, nil
	}
	return resp.ID, nil
}

type jobStatusResponse struct {
	Status string          `json:"status"`
	Error  string          `json:"error"`
	Result json.RawMessage `json:"result"`
}

// JobStatus reports the backend's view of jobID.
func (c *Client) JobStatus(ctx context.Context, jobID string) (scheduler.JobState, error) {
	endpoint := fmt.Sprintf("%s/%s", c.paths.Analysis, url.PathEscape(jobID))
	result, err := c.sender.Send(ctx, http.MethodGet, endpoint, nil, &remote.Options{DisableOffline: true})
	if err != nil {
		return scheduler.JobState{}, err
	}
	var resp jobStatusResponse
	if err := result.Decode(&resp); err != nil {
		return scheduler.JobState{}, remote.Wrap(remote.ErrBackendUnavailable, "job status", "decode response", err)
	}
	return scheduler.JobState{Status: resp.Status, Error: resp.Error, Result: resp.Result}, nil
}

type captureRequest struct {
	URL        string            `json:"url"`
	Title      string            `json:"title,omitempty"`
	Content    string            `json:"content,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Source     capture.Source    `json:"source_context"`
	TabID      *int              `json:"tab_id,omitempty"`
	WindowID   *int              `json:"window_id,omitempty"`
	BookmarkID string            `json:"bookmark_id,omitempty"`
}

type captureResponse struct {
	ID        string `json:"id"`
	CaptureID string `json:"capture_id"`
}

// SubmitCapture stores a captured page. Offline, the request is queued and
// the receipt reports Queued with no capture id.
func (c *Client) SubmitCapture(ctx context.Context, req capture.Request) (capture.Receipt, error) {
	result, err := c.sender.Send(ctx, http.MethodPost, c.paths.Capture, captureRequest{
		URL:        req.URL,
		Title:      req.Title,
		Content:    req.Content,
		Metadata:   req.Metadata,
		Source:     req.Source,
		TabID:      req.TabID,
		WindowID:   req.WindowID,
		BookmarkID: req.BookmarkID,
	}, nil)
	if err != nil {
		return capture.Receipt{}, err
	}
	if result.Queued {
		return capture.Receipt{Queued: true}, nil
	}
	var resp captureResponse
	if len(result.Body) > 0 {
		if err := result.Decode(&resp); err != nil {
			return capture.Receipt{}, remote.Wrap(remote.ErrBackendUnavailable, "submit capture", "decode response", err)
		}
	}
	id := resp.CaptureID
	if id == "" {
		id = resp.ID
	}
	return capture.Receipt{CaptureID: id}, nil
}
