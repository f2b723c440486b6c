package scheduler

import (
	"encoding/json"
	"time"

	"sightline/internal/remote"
)

// Status represents the lifecycle of an analysis task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusAnalyzing  Status = "analyzing"
	StatusComplete   Status = "complete"
	StatusError      Status = "error"
)

// KindJobFailed marks a job the backend reported as failed.
const KindJobFailed remote.Kind = "job_failed"

// Task is one backend analysis job tracked by the scheduler.
type Task struct {
	ID            string            `json:"id"`
	URL           string            `json:"url"`
	Params        map[string]string `json:"params,omitempty"`
	BatchID       string            `json:"batch_id,omitempty"`
	JobID         string            `json:"job_id,omitempty"`
	Status        Status            `json:"status"`
	Attempts      int               `json:"attempts"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
	CompletedAt   *time.Time        `json:"completed_at,omitempty"`
	LastError     string            `json:"last_error,omitempty"`
	ErrorKind     remote.Kind       `json:"error_kind,omitempty"`
	Cancelled     bool              `json:"cancelled,omitempty"`
	Exhausted     bool              `json:"exhausted,omitempty"`
	Result        json.RawMessage   `json:"result,omitempty"`
	LastQueriedAt time.Time         `json:"last_queried_at,omitempty"`

	// version increments on every mutation so results of network calls made
	// against an older version can be discarded.
	version uint64
}

// Active reports whether the task is in pending, processing, or analyzing.
func (t Task) Active() bool {
	switch t.Status {
	case StatusPending, StatusProcessing, StatusAnalyzing:
		return true
	default:
		return false
	}
}

// InFlight reports whether the task holds a concurrency slot.
func (t Task) InFlight() bool {
	return t.Status == StatusProcessing || t.Status == StatusAnalyzing
}

// Terminal reports whether the scheduler will no longer advance the task on its own.
func (t Task) Terminal() bool {
	return t.Status == StatusComplete || t.Status == StatusError
}

func (t *Task) clone() Task {
	out := *t
	if t.Params != nil {
		out.Params = make(map[string]string, len(t.Params))
		for k, v := range t.Params {
			out.Params[k] = v
		}
	}
	if t.CompletedAt != nil {
		ts := *t.CompletedAt
		out.CompletedAt = &ts
	}
	if t.Result != nil {
		out.Result = append(json.RawMessage(nil), t.Result...)
	}
	return out
}

// Batch is a group of tasks submitted together. It has no state of its own.
type Batch struct {
	ID            string    `json:"id"`
	TaskIDs       []string  `json:"task_ids"`
	CreatedAt     time.Time `json:"created_at"`
	LastQueriedAt time.Time `json:"last_queried_at,omitempty"`
}

// BatchStatus is the derived state of a batch and its members.
type BatchStatus struct {
	Batch  Batch  `json:"batch"`
	Status Status `json:"status"`
	Counts Counts `json:"counts"`
	Tasks  []Task `json:"tasks"`
}

// Counts holds task totals per status.
type Counts struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Analyzing  int `json:"analyzing"`
	Complete   int `json:"complete"`
	Error      int `json:"error"`
}

func (c *Counts) add(status Status) {
	switch status {
	case StatusPending:
		c.Pending++
	case StatusProcessing:
		c.Processing++
	case StatusAnalyzing:
		c.Analyzing++
	case StatusComplete:
		c.Complete++
	case StatusError:
		c.Error++
	}
}

// Active returns the number of non-terminal tasks.
func (c Counts) Active() int {
	return c.Pending + c.Processing + c.Analyzing
}

// Total returns the number of tasks counted.
func (c Counts) Total() int {
	return c.Active() + c.Complete + c.Error
}

// deriveBatchStatus aggregates member statuses: error if any member failed
// terminally, complete if all completed, processing once any member has
// started, pending otherwise.
func deriveBatchStatus(counts Counts) Status {
	switch {
	case counts.Error > 0:
		return StatusError
	case counts.Total() > 0 && counts.Complete == counts.Total():
		return StatusComplete
	case counts.Processing > 0 || counts.Analyzing > 0 || counts.Complete > 0:
		return StatusProcessing
	default:
		return StatusPending
	}
}

// QueueOptions tune QueueURL and QueueBatch.
type QueueOptions struct {
	Params map[string]string `json:"params,omitempty"`
	// AllowDuplicate creates a new task even if the URL already has an active one.
	AllowDuplicate bool `json:"allow_duplicate,omitempty"`
}

// JobState is the backend's view of an analysis job.
type JobState struct {
	Status string          `json:"status"`
	Error  string          `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}
