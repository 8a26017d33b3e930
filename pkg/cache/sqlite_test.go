package cache

import (
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("OpenSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLitePersistenceRoundtrip(t *testing.T) {
	store := openTestStore(t)

	c := New(1)
	if err := c.Attach(store); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	_ = c.Set("result", 42)
	_ = c.Set("result", 43) // revision 2

	// A second cache attaching to the same store sees the entries.
	restored := New(1)
	if err := restored.Attach(store); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	var result int
	ok, err := restored.Get("result", &result)
	if err != nil || !ok || result != 43 {
		t.Fatalf("restored: %d ok=%v err=%v", result, ok, err)
	}
	if restored.Revision("result") != 2 {
		t.Errorf("restored revision: %d", restored.Revision("result"))
	}
}

func TestSQLiteVersionMismatchIgnoresRows(t *testing.T) {
	store := openTestStore(t)

	c := New(1)
	if err := c.Attach(store); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	_ = c.Set("result", 42)

	bumped := New(2)
	if err := bumped.Attach(store); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if bumped.Len() != 0 {
		t.Errorf("version bump must start empty, got %d entries", bumped.Len())
	}

	// Loading under the new version purges the stale rows.
	values, _, err := store.Load(1)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(values) != 0 {
		t.Errorf("stale rows must be purged, got %d", len(values))
	}
}

func TestSQLiteDeleteWritesThrough(t *testing.T) {
	store := openTestStore(t)

	c := New(1)
	if err := c.Attach(store); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	_ = c.Set("a", 1)
	_ = c.Set("b", 2)
	c.Delete("a")

	values, _, err := store.Load(1)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := values["a"]; ok {
		t.Error("deleted key must not survive in the store")
	}
	if _, ok := values["b"]; !ok {
		t.Error("remaining key must survive in the store")
	}
}
