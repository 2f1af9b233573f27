package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newCoordinatorStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), KindCoordinator, "coordinator")
	if err != nil {
		t.Fatalf("Failed to open coordinator store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newAgentStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), KindAgent, "agent-1")
	if err != nil {
		t.Fatalf("Failed to open agent store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newLockStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), KindLock, "src/api/handler.go")
	if err != nil {
		t.Fatalf("Failed to open lock store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenCreatesInstanceFile(t *testing.T) {
	dataDir := t.TempDir()

	s, err := Open(dataDir, KindCoordinator, "coordinator")
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(filepath.Join(dataDir, "coordinator.db")); os.IsNotExist(err) {
		t.Error("Coordinator database file was not created")
	}
}

func TestInstancePathEscapesKeys(t *testing.T) {
	dataDir := "/data"

	p := InstancePath(dataDir, KindLock, "src/api/handler.go")
	if strings.Count(filepath.Base(p), string(filepath.Separator)) != 0 {
		t.Errorf("Escaped key should be a single path segment, got %s", p)
	}
	if filepath.Dir(p) != filepath.Join(dataDir, "locks") {
		t.Errorf("Expected lock db under locks/, got %s", p)
	}

	// Distinct resource paths must map to distinct files.
	q := InstancePath(dataDir, KindLock, "src/api/handler_test.go")
	if p == q {
		t.Error("Distinct keys mapped to the same database file")
	}

	// An agent named "coordinator" must not collide with the singleton.
	a := InstancePath(dataDir, KindAgent, "coordinator")
	c := InstancePath(dataDir, KindCoordinator, "coordinator")
	if a == c {
		t.Error("Agent 'coordinator' collides with the coordinator singleton db")
	}
}
