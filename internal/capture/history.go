package capture

import (
	"context"
	"fmt"
	"sync"

	"sightline/internal/store"
)

const (
	historyKey        = "capture.history"
	maxHistoryEntries = 100
)

// History is the bounded, most-recent-first log of finished submissions.
type History struct {
	mu      sync.Mutex
	store   store.Store
	limit   int
	entries []HistoryEntry
}

// NewHistory loads persisted history from st. limit is clamped to 1..100; a
// non-positive limit uses 100.
func NewHistory(ctx context.Context, st store.Store, limit int) (*History, error) {
	if st == nil {
		st = store.NewMemory()
	}
	if limit <= 0 || limit > maxHistoryEntries {
		limit = maxHistoryEntries
	}
	h := &History{store: st, limit: limit}
	if _, err := store.GetJSON(ctx, st, historyKey, &h.entries); err != nil {
		return nil, fmt.Errorf("restore capture history: %w", err)
	}
	if len(h.entries) > limit {
		h.entries = h.entries[:limit]
	}
	return h, nil
}

// Record prepends entry, trims to the limit, and persists.
func (h *History) Record(ctx context.Context, entry HistoryEntry) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	entries := make([]HistoryEntry, 0, min(len(h.entries)+1, h.limit))
	entries = append(entries, entry)
	for _, existing := range h.entries {
		if len(entries) == h.limit {
			break
		}
		entries = append(entries, existing)
	}
	h.entries = entries
	return store.SetJSON(ctx, h.store, historyKey, h.entries)
}

// List returns up to limit entries, newest first. A non-positive limit returns all.
func (h *History) List(limit int) []HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := len(h.entries)
	if limit > 0 && limit < n {
		n = limit
	}
	return append([]HistoryEntry(nil), h.entries[:n]...)
}
