package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"loom/internal/parser"
)

func writeTestFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
	return path
}

func testRegistry() *parser.Registry {
	reg := parser.NewRegistry()
	reg.Register(parser.NewPythonParser())
	return reg
}

func TestIngestPathsBuildsGraph(t *testing.T) {
	s := newTestStore(t)
	dir := t.TempDir()

	writeTestFile(t, dir, "helper.py", `def helper(name):
    return name.upper()
`)
	writeTestFile(t, dir, "greeter.py", `from .helper import helper


def format_message(name):
    return helper(name)


class Greeter:
    def greet(self, name):
        return format_message(name)
`)

	stats, err := s.IngestPaths(context.Background(), testRegistry(), []string{dir}, IngestOptions{})
	if err != nil {
		t.Fatalf("IngestPaths failed: %v", err)
	}
	if stats.FilesIngested != 2 {
		t.Errorf("expected 2 files ingested, got %d", stats.FilesIngested)
	}
	if stats.EntitiesAdded == 0 {
		t.Error("expected entities to be added")
	}

	entities, err := s.FindEntities("format_message", "")
	if err != nil {
		t.Fatalf("FindEntities failed: %v", err)
	}
	if len(entities) != 1 {
		t.Fatalf("expected format_message entity, got %+v", entities)
	}

	callers, err := s.GetCallers(entities[0].ID)
	if err != nil {
		t.Fatalf("GetCallers failed: %v", err)
	}
	var foundGreet bool
	for _, c := range callers {
		if c.Name == "Greeter.greet" {
			foundGreet = true
		}
	}
	if !foundGreet {
		t.Errorf("expected Greeter.greet to call format_message, got callers %+v", callers)
	}
}

func TestIngestPathsSkipsExcludedDirectories(t *testing.T) {
	s := newTestStore(t)
	dir := t.TempDir()

	if err := os.MkdirAll(filepath.Join(dir, "__pycache__"), 0755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	writeTestFile(t, filepath.Join(dir, "__pycache__"), "cached.py", "def stale(): pass\n")
	writeTestFile(t, dir, "main.py", "def live(): pass\n")

	stats, err := s.IngestPaths(context.Background(), testRegistry(), []string{dir}, IngestOptions{})
	if err != nil {
		t.Fatalf("IngestPaths failed: %v", err)
	}
	if stats.FilesIngested != 1 {
		t.Errorf("expected 1 file ingested (excluding __pycache__), got %d", stats.FilesIngested)
	}

	if _, err := s.FindEntities("stale", ""); err != nil {
		t.Fatalf("FindEntities failed: %v", err)
	}
	found, err := s.FindEntities("stale", "")
	if err != nil {
		t.Fatalf("FindEntities failed: %v", err)
	}
	if len(found) != 0 {
		t.Errorf("expected excluded file's entity to be absent, got %+v", found)
	}
}
