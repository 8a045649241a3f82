package store_test

import (
	"errors"
	"testing"
	"time"

	"github.com/jamesainslie/snaptrack/pkg/daemon/store"
	"github.com/jamesainslie/snaptrack/pkg/snaptrack/types"
)

func TestOpenStampsSchema(t *testing.T) {
	s, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	schema := s.GetSchema()
	if schema == nil {
		t.Fatal("Expected schema to be set on open")
	}
	if schema.Version != store.CurrentSchemaVersion {
		t.Errorf("Expected version %d, got %d", store.CurrentSchemaVersion, schema.Version)
	}
}

func TestNewerSchemaRefused(t *testing.T) {
	dir := t.TempDir()

	s, err := store.Open(dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := s.SetSchema(&store.Schema{Version: store.CurrentSchemaVersion + 1, UpdatedAt: time.Now()}); err != nil {
		t.Fatalf("SetSchema failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	_, err = store.Open(dir)
	if !errors.Is(err, store.ErrNewerSchema) {
		t.Errorf("Expected ErrNewerSchema, got %v", err)
	}
}

func TestOlderSchemaResets(t *testing.T) {
	dir := t.TempDir()

	s, err := store.Open(dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := s.Replace([]types.FileEntry{{Path: "a.mp4", Size: 1}}); err != nil {
		t.Fatal(err)
	}
	if err := s.SetSchema(&store.Schema{Version: 0, UpdatedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s, err = store.Open(dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	if s.Primed() {
		t.Error("Expected reset store to be unprimed")
	}
	if n, _ := s.Count(); n != 0 {
		t.Errorf("Expected empty store after reset, got %d entries", n)
	}
}
