package api

import (
	"time"

	"sightline/internal/capture"
	"sightline/internal/remote"
	"sightline/internal/scheduler"
	"sightline/internal/status"
)

// FromTask converts a scheduler task into its API representation.
func FromTask(t scheduler.Task) Task {
	dto := Task{
		ID:        t.ID,
		URL:       t.URL,
		Status:    string(t.Status),
		Attempts:  t.Attempts,
		BatchID:   t.BatchID,
		JobID:     t.JobID,
		LastError: t.LastError,
		ErrorKind: string(t.ErrorKind),
		Cancelled: t.Cancelled,
		Exhausted: t.Exhausted,
		CreatedAt: formatTime(t.CreatedAt),
		UpdatedAt: formatTime(t.UpdatedAt),
	}
	if len(t.Params) > 0 {
		dto.Params = make(map[string]string, len(t.Params))
		for k, v := range t.Params {
			dto.Params[k] = v
		}
	}
	if t.CompletedAt != nil {
		dto.CompletedAt = formatTime(*t.CompletedAt)
	}
	if len(t.Result) > 0 {
		dto.Result = append([]byte(nil), t.Result...)
	}
	return dto
}

// FromTasks converts a slice of tasks.
func FromTasks(tasks []scheduler.Task) []Task {
	out := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, FromTask(t))
	}
	return out
}

// FromCounts converts scheduler counts.
func FromCounts(c scheduler.Counts) Counts {
	return Counts{
		Pending:    c.Pending,
		Processing: c.Processing,
		Analyzing:  c.Analyzing,
		Complete:   c.Complete,
		Error:      c.Error,
	}
}

// FromBatchStatus converts a derived batch status; member tasks are included.
func FromBatchStatus(bs scheduler.BatchStatus) Batch {
	ids := append([]string{}, bs.Batch.TaskIDs...)
	return Batch{
		ID:        bs.Batch.ID,
		Status:    string(bs.Status),
		TaskIDs:   ids,
		CreatedAt: formatTime(bs.Batch.CreatedAt),
		Counts:    FromCounts(bs.Counts),
		Tasks:     FromTasks(bs.Tasks),
	}
}

// FromBatch converts a freshly created batch whose members are all pending.
func FromBatch(b scheduler.Batch) Batch {
	return Batch{
		ID:        b.ID,
		Status:    string(scheduler.StatusPending),
		TaskIDs:   append([]string{}, b.TaskIDs...),
		CreatedAt: formatTime(b.CreatedAt),
		Counts:    Counts{Pending: len(b.TaskIDs)},
	}
}

// FromSnapshot converts a published status snapshot.
func FromSnapshot(s status.Snapshot) Status {
	return Status{
		Counts:       FromCounts(s.Counts),
		Active:       s.Active,
		Online:       s.Online,
		OfflineDepth: s.OfflineDepth,
		GeneratedAt:  formatTime(s.GeneratedAt),
	}
}

// FromCaptureResult converts a capture outcome.
func FromCaptureResult(r capture.Result) CaptureResult {
	return CaptureResult{
		Outcome:   string(r.Outcome),
		TabID:     r.TabID,
		URL:       r.URL,
		CaptureID: r.CaptureID,
		TaskID:    r.TaskID,
		Error:     r.Error,
	}
}

// FromHistory converts capture history entries, preserving order.
func FromHistory(entries []capture.HistoryEntry) []HistoryEntry {
	out := make([]HistoryEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, HistoryEntry{
			URL:       e.URL,
			Title:     e.Title,
			Source:    string(e.Source),
			TabID:     e.TabID,
			Outcome:   string(e.Outcome),
			CaptureID: e.CaptureID,
			TaskID:    e.TaskID,
			Error:     e.Error,
			At:        formatTime(e.At),
		})
	}
	return out
}

// FromQueuedRequests converts the offline queue contents. Bodies are omitted.
func FromQueuedRequests(reqs []remote.Request) []QueuedRequest {
	out := make([]QueuedRequest, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, QueuedRequest{
			Method:     r.Method,
			Endpoint:   r.Endpoint,
			EnqueuedAt: formatTime(r.EnqueuedAt),
		})
	}
	return out
}

// FromDeadLetters converts rejected replay requests.
func FromDeadLetters(letters []remote.DeadLetter) []QueuedRequest {
	out := make([]QueuedRequest, 0, len(letters))
	for _, d := range letters {
		out = append(out, QueuedRequest{
			Method:     d.Request.Method,
			Endpoint:   d.Request.Endpoint,
			EnqueuedAt: formatTime(d.Request.EnqueuedAt),
			Error:      d.Error,
			FailedAt:   formatTime(d.FailedAt),
		})
	}
	return out
}

// FromReplayResult converts a replay summary.
func FromReplayResult(r remote.ReplayResult, err error) ReplayResponse {
	resp := ReplayResponse{
		Skipped:      r.Skipped,
		Attempted:    r.Attempted,
		Delivered:    r.Delivered,
		Retained:     r.Retained,
		DeadLettered: r.DeadLettered,
	}
	if err != nil {
		resp.Error = err.Error()
	}
	return resp
}

// FromTab converts a registry tab.
func FromTab(t capture.Tab) Tab {
	return Tab{ID: t.ID, WindowID: t.WindowID, URL: t.URL, Title: t.Title, Active: t.Active}
}

func formatTime(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return ts.UTC().Format(dateTimeFormat)
}
