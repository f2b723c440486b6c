package testsupport

import (
	"context"
	"testing"

	"sightline/internal/config"
	"sightline/internal/store"
)

// MustOpenStore opens the SQLite state store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.SQLite {
	t.Helper()

	st, err := store.Open(context.Background(), cfg.StorePath())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = st.Close()
	})
	return st
}
