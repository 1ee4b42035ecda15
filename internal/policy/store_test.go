package policy

import (
	"errors"
	"testing"

	"github.com/trafegodns/trafegodns/internal/provider"
	"github.com/trafegodns/trafegodns/internal/types"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store
}

func TestStore_PreservedPatternMatching(t *testing.T) {
	store := setupTestStore(t)

	if err := store.AddPreservedHostname("*.a.b"); err != nil {
		t.Fatalf("AddPreservedHostname: %v", err)
	}
	if err := store.AddPreservedHostname("exact.example.com"); err != nil {
		t.Fatalf("AddPreservedHostname: %v", err)
	}

	tests := []struct {
		hostname string
		want     bool
	}{
		{"x.a.b", true},
		{"y.x.a.b", true},
		{"a.b", false},
		{"z.b", false},
		{"exact.example.com", true},
		{"EXACT.Example.Com", true},
		{"other.example.com", false},
	}

	for _, tt := range tests {
		if got := store.ShouldPreserve(tt.hostname); got != tt.want {
			t.Errorf("ShouldPreserve(%q) = %v, want %v", tt.hostname, got, tt.want)
		}
	}
}

func TestStore_PatternValidation(t *testing.T) {
	store := setupTestStore(t)

	for _, bad := range []string{"", "*", "*.", "foo.*.bar", "host*.example.com"} {
		if err := store.AddPreservedHostname(bad); err == nil {
			t.Errorf("AddPreservedHostname(%q) accepted invalid pattern", bad)
		}
	}
}

func TestStore_DuplicatePreservedRejected(t *testing.T) {
	store := setupTestStore(t)

	if err := store.AddPreservedHostname("app.example.com"); err != nil {
		t.Fatalf("first add: %v", err)
	}
	err := store.AddPreservedHostname("APP.example.com")
	if !errors.Is(err, provider.ErrConflict) {
		t.Errorf("duplicate add: err = %v, want ErrConflict", err)
	}
}

func TestStore_ManagedHostnames(t *testing.T) {
	store := setupTestStore(t)

	record := types.DesiredRecord{Record: types.Record{
		Type: types.TypeA, Name: "pinned.example.com", Content: "203.0.113.5", TTL: 300,
	}}
	if err := store.AddManagedHostname(record); err != nil {
		t.Fatalf("AddManagedHostname: %v", err)
	}

	managed := store.ManagedHostnames()
	if len(managed) != 1 {
		t.Fatalf("got %d managed records, want 1", len(managed))
	}
	if managed[0].Source != types.SourceManaged {
		t.Errorf("source = %q, want managed", managed[0].Source)
	}

	// Duplicate identity rejected.
	if err := store.AddManagedHostname(record); !errors.Is(err, provider.ErrConflict) {
		t.Errorf("duplicate managed: err = %v, want ErrConflict", err)
	}

	if err := store.RemoveManagedHostname("pinned.example.com"); err != nil {
		t.Fatalf("RemoveManagedHostname: %v", err)
	}
	if len(store.ManagedHostnames()) != 0 {
		t.Error("managed record still present after removal")
	}
	if err := store.RemoveManagedHostname("pinned.example.com"); !errors.Is(err, provider.ErrNotFound) {
		t.Errorf("second remove: err = %v, want ErrNotFound", err)
	}
}

func TestStore_PersistsAcrossReload(t *testing.T) {
	dir := t.TempDir()

	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if err := store.AddPreservedHostname("*.example.com"); err != nil {
		t.Fatalf("AddPreservedHostname: %v", err)
	}
	if err := store.AddManagedHostname(types.DesiredRecord{Record: types.Record{
		Type: types.TypeCNAME, Name: "www.example.com", Content: "app.example.com",
	}}); err != nil {
		t.Fatalf("AddManagedHostname: %v", err)
	}

	reloaded, err := NewStore(dir)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !reloaded.ShouldPreserve("x.example.com") {
		t.Error("preserved pattern lost across reload")
	}
	if len(reloaded.ManagedHostnames()) != 1 {
		t.Error("managed record lost across reload")
	}
}
