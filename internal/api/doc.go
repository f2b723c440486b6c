// Package api defines wire-format types and converters for the daemon's HTTP
// command surface, plus the HTTP client the CLI uses to reach it.
//
// # Key Types
//
// Task / Batch: transport representation of scheduler tasks and derived batch status.
//
// Status: aggregate counts, connectivity, and offline queue depth.
//
// CaptureResult / HistoryEntry: capture outcomes and the display history.
//
// # Converters
//
// FromTask, FromBatchStatus, FromSnapshot, FromCaptureResult, FromHistory and
// FromQueuedRequest translate internal models so consumers never couple to them.
//
// # Design Notes
//
// DTOs use camelCase JSON tags for the browser extension. Timestamps use
// RFC3339 with milliseconds. Request bodies are validated with
// go-playground/validator struct tags before they reach the core.
package api
