// Package store provides the durable key-value persistence used by the offline
// request queue, capture history, and scheduler state.
//
// The SQLite implementation survives process restarts and serializes writers
// through busy-retry backoff; the in-memory implementation backs tests and
// ephemeral runs. Values are opaque bytes; GetJSON and SetJSON cover the
// common encoded case.
package store
