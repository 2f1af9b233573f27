package reslock

import (
	"testing"
	"time"

	"github.com/hiveplane/hiveplane/internal/actor"
	"github.com/hiveplane/hiveplane/internal/config"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	registry := actor.NewRegistry(t.TempDir(), zap.NewNop())
	t.Cleanup(func() { registry.Close() })

	svc := NewService(registry, config.Default(), zap.NewNop())
	t.Cleanup(svc.Stop)
	return svc
}

func TestAcquireAndCheck(t *testing.T) {
	svc := newTestService(t)

	granted, existing, err := svc.Acquire("src/api/handler.go", "agent-a", "file", "refactor", time.Minute)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if existing != nil {
		t.Errorf("Expected no existing lock, got %+v", existing)
	}
	if granted.LockedBy != "agent-a" || granted.ResourcePath != "src/api/handler.go" {
		t.Errorf("Grant wrong: %+v", granted)
	}

	lock, err := svc.Check("src/api/handler.go")
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if lock == nil || lock.LockedBy != "agent-a" {
		t.Errorf("Expected live lock by agent-a, got %+v", lock)
	}

	// Different resource path is a different actor: no conflict.
	if _, _, err := svc.Acquire("src/api/other.go", "agent-b", "file", "", time.Minute); err != nil {
		t.Errorf("Independent path acquire failed: %v", err)
	}
}

func TestAcquireConflict(t *testing.T) {
	svc := newTestService(t)

	if _, _, err := svc.Acquire("go.mod", "agent-a", "file", "", time.Minute); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	_, existing, err := svc.Acquire("go.mod", "agent-b", "file", "", time.Minute)
	if err != ErrLockHeld {
		t.Fatalf("Expected ErrLockHeld, got %v", err)
	}
	if existing == nil || existing.LockedBy != "agent-a" {
		t.Errorf("Expected existing lock by agent-a, got %+v", existing)
	}
}

func TestRenewalKeepsGrantTime(t *testing.T) {
	svc := newTestService(t)

	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	svc.clock = func() time.Time { return now }

	first, _, err := svc.Acquire("go.mod", "agent-a", "file", "", time.Minute)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	now = now.Add(30 * time.Second)
	renewed, _, err := svc.Acquire("go.mod", "agent-a", "file", "", time.Minute)
	if err != nil {
		t.Fatalf("Renewal failed: %v", err)
	}
	if !renewed.LockedAt.Equal(first.LockedAt) {
		t.Errorf("Renewal should keep original grant time: %v vs %v", renewed.LockedAt, first.LockedAt)
	}
	if !renewed.ExpiresAt.After(first.ExpiresAt) {
		t.Errorf("Renewal should extend expiry: %v vs %v", renewed.ExpiresAt, first.ExpiresAt)
	}
}

func TestLazyExpiry(t *testing.T) {
	svc := newTestService(t)

	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	svc.clock = func() time.Time { return now }

	if _, _, err := svc.Acquire("go.mod", "agent-a", "file", "", time.Minute); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	// Past the TTL, a read observes the lock as expired and releases it,
	// without waiting for any timer.
	now = now.Add(2 * time.Minute)

	lock, err := svc.Check("go.mod")
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if lock != nil {
		t.Errorf("Expected expired lock released on read, got %+v", lock)
	}

	events, err := svc.History("go.mod")
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(events) != 1 || events[0].Reason != ReleaseExpired {
		t.Errorf("Expected one expired release event, got %v", events)
	}

	// Resource is immediately lockable by someone else.
	if _, _, err := svc.Acquire("go.mod", "agent-b", "file", "", time.Minute); err != nil {
		t.Errorf("Acquire after expiry failed: %v", err)
	}
}

func TestReleaseOwnership(t *testing.T) {
	svc := newTestService(t)

	if _, _, err := svc.Acquire("go.mod", "agent-a", "file", "", time.Minute); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	if err := svc.Release("go.mod", "agent-b", false); err != ErrNotOwner {
		t.Errorf("Expected ErrNotOwner for foreign release, got %v", err)
	}

	if err := svc.Release("go.mod", "agent-a", false); err != nil {
		t.Fatalf("Owner release failed: %v", err)
	}

	events, _ := svc.History("go.mod")
	if len(events) != 1 || events[0].Reason != ReleaseManual {
		t.Errorf("Expected manual release logged, got %v", events)
	}

	// Releasing an unlocked resource is a no-op.
	if err := svc.Release("go.mod", "agent-a", false); err != nil {
		t.Errorf("Release on unlocked resource should be a no-op, got %v", err)
	}
}

func TestForcedReleaseLogsStolen(t *testing.T) {
	svc := newTestService(t)

	if _, _, err := svc.Acquire("go.mod", "agent-a", "file", "", time.Minute); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	if err := svc.Release("go.mod", "agent-b", true); err != nil {
		t.Fatalf("Forced release failed: %v", err)
	}

	events, _ := svc.History("go.mod")
	if len(events) != 1 || events[0].Reason != ReleaseStolen {
		t.Errorf("Expected stolen release event, got %v", events)
	}
	if events[0].Owner != "agent-a" {
		t.Errorf("History should record the dispossessed owner, got %s", events[0].Owner)
	}
}
