package store_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"sightline/internal/store"
)

func openSQLite(t *testing.T) *store.SQLite {
	t.Helper()
	s, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "state", "sightline.db"))
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func exerciseStore(t *testing.T, s store.Store) {
	t.Helper()
	ctx := context.Background()

	if _, ok, err := s.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected missing key, got ok=%v err=%v", ok, err)
	}
	if err := s.Set(ctx, "offline.queue", []byte(`[1,2]`)); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}
	if err := s.Set(ctx, "offline.queue", []byte(`[3]`)); err != nil {
		t.Fatalf("overwrite returned error: %v", err)
	}
	value, ok, err := s.Get(ctx, "offline.queue")
	if err != nil || !ok {
		t.Fatalf("Get returned ok=%v err=%v", ok, err)
	}
	if string(value) != `[3]` {
		t.Fatalf("expected overwritten value, got %q", value)
	}
	if err := s.Remove(ctx, "offline.queue"); err != nil {
		t.Fatalf("Remove returned error: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "offline.queue"); ok {
		t.Fatal("expected key removed")
	}
	if err := s.Remove(ctx, "offline.queue"); err != nil {
		t.Fatalf("removing absent key should succeed, got %v", err)
	}
	if err := s.Set(ctx, "", []byte("x")); !errors.Is(err, store.ErrEmptyKey) {
		t.Fatalf("expected ErrEmptyKey, got %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, store.NewMemory())
}

func TestSQLiteStore(t *testing.T) {
	exerciseStore(t, openSQLite(t))
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sightline.db")

	first, err := store.Open(ctx, path)
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	type payload struct {
		URLs []string `json:"urls"`
	}
	if err := store.SetJSON(ctx, first, "scheduler.state", payload{URLs: []string{"https://example.com"}}); err != nil {
		t.Fatalf("SetJSON returned error: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	second, err := store.Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen returned error: %v", err)
	}
	defer second.Close()

	var got payload
	ok, err := store.GetJSON(ctx, second, "scheduler.state", &got)
	if err != nil || !ok {
		t.Fatalf("GetJSON returned ok=%v err=%v", ok, err)
	}
	if len(got.URLs) != 1 || got.URLs[0] != "https://example.com" {
		t.Fatalf("unexpected payload after reopen: %+v", got)
	}
	keys, err := second.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys returned error: %v", err)
	}
	if len(keys) != 1 || keys[0] != "scheduler.state" {
		t.Fatalf("unexpected keys %v", keys)
	}
}

func TestMemoryCopiesValues(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	value := []byte("abc")
	if err := m.Set(ctx, "k", value); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}
	value[0] = 'z'
	got, _, _ := m.Get(ctx, "k")
	if string(got) != "abc" {
		t.Fatalf("expected stored copy, got %q", got)
	}
	if m.Writes() != 1 {
		t.Fatalf("expected 1 write, got %d", m.Writes())
	}
}
