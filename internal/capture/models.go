package capture

import (
	"context"
	"time"

	"sightline/internal/scheduler"
)

// Source describes where a capture request originated.
type Source string

const (
	SourceActiveTab  Source = "active_tab"
	SourceOpenTab    Source = "open_tab"
	SourceBookmark   Source = "bookmark"
	SourceHistory    Source = "history"
	SourceBackground Source = "background"
	SourceRecovered  Source = "recovered"
)

// ParseSource converts a string into a known Source.
func ParseSource(value string) (Source, bool) {
	switch s := Source(value); s {
	case SourceActiveTab, SourceOpenTab, SourceBookmark, SourceHistory, SourceBackground, SourceRecovered:
		return s, true
	default:
		return "", false
	}
}

// Request is an immutable capture payload.
type Request struct {
	URL        string            `json:"url"`
	Title      string            `json:"title,omitempty"`
	Content    string            `json:"content,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Source     Source            `json:"source_context"`
	TabID      *int              `json:"tab_id,omitempty"`
	WindowID   *int              `json:"window_id,omitempty"`
	BookmarkID string            `json:"bookmark_id,omitempty"`
}

// Receipt is the backend's acknowledgement of a capture.
type Receipt struct {
	Queued    bool
	CaptureID string
}

// Content is what the extraction collaborator returns for a tab.
type Content struct {
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Extractor pulls page content and metadata for a tab.
type Extractor interface {
	Extract(ctx context.Context, tabID int) (Content, error)
}

// Submitter delivers capture payloads to the backend.
type Submitter interface {
	SubmitCapture(ctx context.Context, req Request) (Receipt, error)
}

// Analyzer queues a captured URL for analysis.
type Analyzer interface {
	QueueURL(ctx context.Context, url string, opts scheduler.QueueOptions) (string, error)
}

// Outcome is the result category of a capture attempt.
type Outcome string

const (
	OutcomeSubmitted         Outcome = "submitted"
	OutcomeQueued            Outcome = "queued"
	OutcomeAlreadyInProgress Outcome = "already_in_progress"
	OutcomeExcluded          Outcome = "excluded"
	OutcomeNotFound          Outcome = "not_found"
	OutcomeFailed            Outcome = "failed"
)

// Result reports one capture attempt. Capture operations never return errors;
// failures are reported through Outcome and Error.
type Result struct {
	Outcome   Outcome `json:"outcome"`
	TabID     *int    `json:"tab_id,omitempty"`
	URL       string  `json:"url,omitempty"`
	CaptureID string  `json:"capture_id,omitempty"`
	TaskID    string  `json:"task_id,omitempty"`
	Error     string  `json:"error,omitempty"`
}

// HistoryEntry is one finished submission, success or failure.
type HistoryEntry struct {
	URL       string    `json:"url"`
	Title     string    `json:"title,omitempty"`
	Source    Source    `json:"source_context"`
	TabID     *int      `json:"tab_id,omitempty"`
	Outcome   Outcome   `json:"outcome"`
	CaptureID string    `json:"capture_id,omitempty"`
	TaskID    string    `json:"task_id,omitempty"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}
