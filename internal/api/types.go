package api

import "encoding/json"

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Task describes an analysis task in a transport-friendly format.
type Task struct {
	ID          string            `json:"id"`
	URL         string            `json:"url"`
	Status      string            `json:"status"`
	Attempts    int               `json:"attempts"`
	BatchID     string            `json:"batchId,omitempty"`
	JobID       string            `json:"jobId,omitempty"`
	Params      map[string]string `json:"params,omitempty"`
	CreatedAt   string            `json:"createdAt,omitempty"`
	UpdatedAt   string            `json:"updatedAt,omitempty"`
	CompletedAt string            `json:"completedAt,omitempty"`
	LastError   string            `json:"lastError,omitempty"`
	ErrorKind   string            `json:"errorKind,omitempty"`
	Cancelled   bool              `json:"cancelled"`
	Exhausted   bool              `json:"exhausted"`
	Result      json.RawMessage   `json:"result,omitempty"`
}

// Counts holds task totals per status.
type Counts struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Analyzing  int `json:"analyzing"`
	Complete   int `json:"complete"`
	Error      int `json:"error"`
}

// Batch describes a batch and the derived status of its members.
type Batch struct {
	ID        string   `json:"id"`
	Status    string   `json:"status"`
	TaskIDs   []string `json:"taskIds"`
	CreatedAt string   `json:"createdAt,omitempty"`
	Counts    Counts   `json:"counts"`
	Tasks     []Task   `json:"tasks,omitempty"`
}

// Status is the aggregate badge/dashboard payload.
type Status struct {
	Counts       Counts `json:"counts"`
	Active       int    `json:"active"`
	Online       bool   `json:"online"`
	OfflineDepth int    `json:"offlineDepth"`
	GeneratedAt  string `json:"generatedAt,omitempty"`
}

// CaptureResult reports one capture attempt.
type CaptureResult struct {
	Outcome   string `json:"outcome"`
	TabID     *int   `json:"tabId,omitempty"`
	URL       string `json:"url,omitempty"`
	CaptureID string `json:"captureId,omitempty"`
	TaskID    string `json:"taskId,omitempty"`
	Error     string `json:"error,omitempty"`
}

// HistoryEntry is one finished capture submission.
type HistoryEntry struct {
	URL       string `json:"url"`
	Title     string `json:"title,omitempty"`
	Source    string `json:"source"`
	TabID     *int   `json:"tabId,omitempty"`
	Outcome   string `json:"outcome"`
	CaptureID string `json:"captureId,omitempty"`
	TaskID    string `json:"taskId,omitempty"`
	Error     string `json:"error,omitempty"`
	At        string `json:"at"`
}

// QueuedRequest is an undelivered outbound request.
type QueuedRequest struct {
	Method     string `json:"method"`
	Endpoint   string `json:"endpoint"`
	EnqueuedAt string `json:"enqueuedAt"`
	Error      string `json:"error,omitempty"`
	FailedAt   string `json:"failedAt,omitempty"`
}

// Tab is the extension's view of a browser tab.
type Tab struct {
	ID       int    `json:"id"`
	WindowID int    `json:"windowId"`
	URL      string `json:"url"`
	Title    string `json:"title,omitempty"`
	Active   bool   `json:"active"`
}

// TaskResponse wraps a single task.
type TaskResponse struct {
	Task Task `json:"task"`
}

// TaskListResponse wraps a collection of tasks.
type TaskListResponse struct {
	Tasks  []Task `json:"tasks"`
	Counts Counts `json:"counts"`
}

// QueueTaskResponse reports the id of a queued (or existing) task.
type QueueTaskResponse struct {
	TaskID string `json:"taskId"`
}

// BatchResponse wraps a batch.
type BatchResponse struct {
	Batch Batch `json:"batch"`
}

// ActionResponse reports the result of cancel and retry.
type ActionResponse struct {
	OK bool `json:"ok"`
}

// HistoryResponse wraps capture history, newest first.
type HistoryResponse struct {
	Entries []HistoryEntry `json:"entries"`
}

// OfflineResponse lists the offline queue and its dead letters.
type OfflineResponse struct {
	Depth       int             `json:"depth"`
	Online      bool            `json:"online"`
	Replaying   bool            `json:"replaying"`
	Requests    []QueuedRequest `json:"requests"`
	DeadLetters []QueuedRequest `json:"deadLetters"`
}

// ReplayResponse summarizes a replay pass.
type ReplayResponse struct {
	Skipped      bool   `json:"skipped"`
	Attempted    int    `json:"attempted"`
	Delivered    int    `json:"delivered"`
	Retained     int    `json:"retained"`
	DeadLettered int    `json:"deadLettered"`
	Error        string `json:"error,omitempty"`
}

// HealthResponse is returned by the liveness endpoint.
type HealthResponse struct {
	OK    bool   `json:"ok"`
	RunID string `json:"runId,omitempty"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}
