package actor

import (
	"sync"
	"testing"
	"time"

	"github.com/hiveplane/hiveplane/internal/store"
	"go.uber.org/zap"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry(t.TempDir(), zap.NewNop())
	t.Cleanup(func() { r.Close() })
	return r
}

func TestGetIsIdempotent(t *testing.T) {
	r := newTestRegistry(t)

	a, err := r.Get(store.KindAgent, "agent-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	b, err := r.Get(store.KindAgent, "agent-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if a != b {
		t.Error("Same key should resolve to the same instance")
	}

	if _, err := r.Get(store.KindAgent, ""); err == nil {
		t.Error("Empty key should be rejected")
	}
}

func TestKindsDoNotCollide(t *testing.T) {
	r := newTestRegistry(t)

	coord, err := r.Coordinator()
	if err != nil {
		t.Fatalf("Coordinator failed: %v", err)
	}
	// An agent that happens to be named "coordinator" is a different actor.
	agent, err := r.Get(store.KindAgent, CoordinatorKey)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if coord == agent {
		t.Error("Coordinator singleton must not collide with an agent of the same name")
	}
}

func TestDoSerializesOneKey(t *testing.T) {
	r := newTestRegistry(t)

	inst, err := r.Get(store.KindAgent, "agent-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	var active, maxActive int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			inst.Do(func(s *store.Store) error {
				mu.Lock()
				active++
				if active > maxActive {
					maxActive = active
				}
				mu.Unlock()

				time.Sleep(2 * time.Millisecond)

				mu.Lock()
				active--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()

	if maxActive != 1 {
		t.Errorf("Expected at most one operation in flight per key, saw %d", maxActive)
	}
}

func TestDifferentKeysRunInParallel(t *testing.T) {
	r := newTestRegistry(t)

	a, _ := r.Get(store.KindLock, "path/a")
	b, _ := r.Get(store.KindLock, "path/b")

	release := make(chan struct{})
	entered := make(chan struct{})
	go a.Do(func(s *store.Store) error {
		close(entered)
		<-release
		return nil
	})
	<-entered

	// With a held, b must still make progress.
	done := make(chan struct{})
	go func() {
		b.Do(func(s *store.Store) error { return nil })
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("Operation on an independent key blocked behind another actor")
	}
	close(release)
}
