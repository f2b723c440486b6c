// Package remote talks to the analysis backend.
//
// Client attaches bearer credentials, performs a single credential refresh on
// 401, and hands requests to the offline Queue whenever connectivity is
// believed lost or the caller defers delivery. Queue is a durable FIFO that is
// persisted after every mutation and replayed in order once connectivity
// returns. Failures are reported through the sentinel errors in errors.go so
// callers can decide between retrying and surfacing a terminal status.
package remote
