package schema

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoaderLoadAll(t *testing.T) {
	dir := t.TempDir()

	if err := os.WriteFile(filepath.Join(dir, "sandwich.yaml"), []byte(sandwichSchema), 0644); err != nil {
		t.Fatalf("write yaml: %v", err)
	}
	flight := `{"properties":{"destination":{"type":"string","$entities":["city"]}}}`
	if err := os.WriteFile(filepath.Join(dir, "flight.json"), []byte(flight), 0644); err != nil {
		t.Fatalf("write json: %v", err)
	}
	os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0644)

	loader := NewLoader(dir)
	schemas, err := loader.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(schemas) != 2 {
		t.Fatalf("loaded %d schemas, want 2", len(schemas))
	}

	s, ok := loader.Get("flight")
	if !ok {
		t.Fatal("schema 'flight' not found")
	}
	if _, ok := s.PathToSchema("destination"); !ok {
		t.Error("flight schema missing destination")
	}
}

func TestLoaderInvalidKeepsPrevious(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "sandwich.yaml"), []byte(sandwichSchema), 0644)

	loader := NewLoader(dir)
	if _, err := loader.LoadAll(); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}

	os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("properties:\n  a: {}"), 0644)
	if _, err := loader.LoadAll(); err == nil {
		t.Fatal("expected error for invalid schema")
	}
	if _, ok := loader.Get("sandwich"); !ok {
		t.Error("previous schemas should survive a failed reload")
	}
}

func TestLoaderMissingDir(t *testing.T) {
	loader := NewLoader(filepath.Join(t.TempDir(), "missing"))
	if _, err := loader.LoadAll(); err == nil {
		t.Error("expected error for missing directory")
	}
}
