package scheduler

import "errors"

var (
	// ErrTaskNotFound is returned for operations on an unknown task id.
	ErrTaskNotFound = errors.New("task not found")
	// ErrBatchNotFound is returned for operations on an unknown batch id.
	ErrBatchNotFound = errors.New("batch not found")
	// ErrBatchTooLarge is returned when a batch exceeds the configured size.
	ErrBatchTooLarge = errors.New("batch too large")
	// ErrEmptyBatch is returned when a batch contains no usable URLs.
	ErrEmptyBatch = errors.New("batch contains no urls")
	// ErrInvalidURL is returned for URLs that are not absolute http(s) URLs.
	ErrInvalidURL = errors.New("invalid url")
	// ErrJobFailed marks a job the backend reported as failed.
	ErrJobFailed = errors.New("analysis job failed")
	// ErrAlreadyRunning is returned by Start when the loop is already active.
	ErrAlreadyRunning = errors.New("scheduler already running")
)
