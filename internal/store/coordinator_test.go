package store

import (
	"testing"
	"time"

	"github.com/hiveplane/hiveplane/internal/models"
)

func TestUpsertAgentMergesFields(t *testing.T) {
	s := newCoordinatorStore(t)

	_, err := s.UpsertAgent(models.Agent{
		ID:           "agent-a",
		Status:       models.AgentStatusActive,
		WorkingOn:    "auth module",
		Capabilities: []string{"go", "sql"},
	})
	if err != nil {
		t.Fatalf("UpsertAgent failed: %v", err)
	}

	// A heartbeat that only carries status must keep the other fields.
	got, err := s.UpsertAgent(models.Agent{ID: "agent-a", Status: models.AgentStatusWaiting})
	if err != nil {
		t.Fatalf("UpsertAgent update failed: %v", err)
	}
	if got.Status != models.AgentStatusWaiting {
		t.Errorf("Expected status waiting, got %s", got.Status)
	}
	if got.WorkingOn != "auth module" {
		t.Errorf("Expected working_on preserved, got %q", got.WorkingOn)
	}
	if len(got.Capabilities) != 2 {
		t.Errorf("Expected capabilities preserved, got %v", got.Capabilities)
	}

	stored, err := s.GetAgent("agent-a")
	if err != nil {
		t.Fatalf("GetAgent failed: %v", err)
	}
	if stored.WorkingOn != "auth module" {
		t.Errorf("Stored agent lost working_on: %q", stored.WorkingOn)
	}
}

func TestUpsertAgentDefaultsToActive(t *testing.T) {
	s := newCoordinatorStore(t)

	got, err := s.UpsertAgent(models.Agent{ID: "agent-b"})
	if err != nil {
		t.Fatalf("UpsertAgent failed: %v", err)
	}
	if got.Status != models.AgentStatusActive {
		t.Errorf("Expected new agent to default to active, got %s", got.Status)
	}
}

func TestListAgentsActiveOnly(t *testing.T) {
	s := newCoordinatorStore(t)

	s.UpsertAgent(models.Agent{ID: "on", Status: models.AgentStatusActive})
	s.UpsertAgent(models.Agent{ID: "off", Status: models.AgentStatusActive})
	if err := s.SetAgentStatus("off", models.AgentStatusOffline); err != nil {
		t.Fatalf("SetAgentStatus failed: %v", err)
	}

	agents, err := s.ListAgents(true)
	if err != nil {
		t.Fatalf("ListAgents failed: %v", err)
	}
	if len(agents) != 1 || agents[0].ID != "on" {
		t.Errorf("Expected only the active agent, got %v", agents)
	}
}

func TestChatWindowTrims(t *testing.T) {
	s := newCoordinatorStore(t)

	// Deterministic, strictly increasing timestamps.
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	step := 0
	s.now = func() time.Time {
		step++
		return base.Add(time.Duration(step) * time.Second)
	}

	for i := 0; i < 7; i++ {
		if _, err := s.AppendChat("agent-a", models.AuthorAgent, "msg", 5); err != nil {
			t.Fatalf("AppendChat failed: %v", err)
		}
	}

	msgs, err := s.ListChat(100)
	if err != nil {
		t.Fatalf("ListChat failed: %v", err)
	}
	if len(msgs) != 5 {
		t.Errorf("Expected chat trimmed to 5, got %d", len(msgs))
	}
	// Chronological order.
	for i := 1; i < len(msgs); i++ {
		if msgs[i].Timestamp.Before(msgs[i-1].Timestamp) {
			t.Error("Chat messages not in chronological order")
		}
	}
}

func TestAddReaction(t *testing.T) {
	s := newCoordinatorStore(t)

	msg, err := s.AppendChat("agent-a", models.AuthorAgent, "ship it", 10)
	if err != nil {
		t.Fatalf("AppendChat failed: %v", err)
	}

	got, err := s.AddReaction(msg.ID, "🚀")
	if err != nil {
		t.Fatalf("AddReaction failed: %v", err)
	}
	if got.Reactions["🚀"] != 1 {
		t.Errorf("Expected 1 reaction, got %d", got.Reactions["🚀"])
	}

	got, err = s.AddReaction(msg.ID, "🚀")
	if err != nil {
		t.Fatalf("Second AddReaction failed: %v", err)
	}
	if got.Reactions["🚀"] != 2 {
		t.Errorf("Expected reaction count 2, got %d", got.Reactions["🚀"])
	}

	if _, err := s.AddReaction("nope", "👍"); err != ErrNotFound {
		t.Errorf("Expected ErrNotFound for unknown message, got %v", err)
	}
}

func TestTaskUpdateMergesPatch(t *testing.T) {
	s := newCoordinatorStore(t)

	task, err := s.CreateTask(models.Task{Title: "Wire up auth", CreatedBy: "agent-a"})
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	if task.Status != models.TaskStatusTodo {
		t.Errorf("Expected new task todo, got %s", task.Status)
	}

	got, err := s.UpdateTask(task.ID, models.Task{Status: models.TaskStatusInProgress, Assignee: "agent-b"})
	if err != nil {
		t.Fatalf("UpdateTask failed: %v", err)
	}
	if got.Title != "Wire up auth" {
		t.Errorf("Patch clobbered title: %q", got.Title)
	}
	if got.Status != models.TaskStatusInProgress || got.Assignee != "agent-b" {
		t.Errorf("Patch not applied: %+v", got)
	}

	if _, err := s.UpdateTask("missing", models.Task{}); err != ErrNotFound {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestListTasksFilters(t *testing.T) {
	s := newCoordinatorStore(t)

	s.CreateTask(models.Task{Title: "a", Status: models.TaskStatusTodo})
	s.CreateTask(models.Task{Title: "b", Status: models.TaskStatusInProgress, Assignee: "agent-a"})
	s.CreateTask(models.Task{Title: "c", Status: models.TaskStatusInProgress, Assignee: "agent-b"})

	tasks, err := s.ListTasks(string(models.TaskStatusInProgress), "agent-a")
	if err != nil {
		t.Fatalf("ListTasks failed: %v", err)
	}
	if len(tasks) != 1 || tasks[0].Title != "b" {
		t.Errorf("Expected agent-a's in-progress task, got %v", tasks)
	}
}

func TestZonePrefixCheck(t *testing.T) {
	s := newCoordinatorStore(t)

	if _, err := s.UpsertZone("zone-1", "src/api/", "agent-a", "api work"); err != nil {
		t.Fatalf("UpsertZone failed: %v", err)
	}

	zone, err := s.CheckZone("src/api/handlers/users.go")
	if err != nil {
		t.Fatalf("CheckZone failed: %v", err)
	}
	if zone == nil || zone.Owner != "agent-a" {
		t.Errorf("Expected zone match for contained path, got %v", zone)
	}

	zone, err = s.CheckZone("src/web/index.ts")
	if err != nil {
		t.Fatalf("CheckZone failed: %v", err)
	}
	if zone != nil {
		t.Errorf("Expected no zone for outside path, got %v", zone)
	}
}

func TestZoneClaimUpserts(t *testing.T) {
	s := newCoordinatorStore(t)

	if _, err := s.UpsertZone("zone-1", "src/api/", "agent-a", "api work"); err != nil {
		t.Fatalf("UpsertZone failed: %v", err)
	}

	// Re-claiming the same zone id replaces the owner unconditionally.
	zone, err := s.UpsertZone("zone-1", "src/api/", "agent-b", "taking over")
	if err != nil {
		t.Fatalf("UpsertZone re-claim failed: %v", err)
	}
	if zone.Owner != "agent-b" {
		t.Errorf("Expected owner replaced, got %v", zone)
	}

	zones, err := s.ListZones()
	if err != nil {
		t.Fatalf("ListZones failed: %v", err)
	}
	if len(zones) != 1 || zones[0].Owner != "agent-b" {
		t.Errorf("Expected a single zone owned by agent-b, got %v", zones)
	}
}

func TestReleaseZoneOwnerMatch(t *testing.T) {
	s := newCoordinatorStore(t)

	s.UpsertZone("zone-1", "src/", "agent-a", "")

	if err := s.ReleaseZone("zone-1", "agent-b"); err != ErrNotOwner {
		t.Errorf("Expected ErrNotOwner for foreign release, got %v", err)
	}
	if err := s.ReleaseZone("zone-1", "agent-a"); err != nil {
		t.Errorf("Owner release failed: %v", err)
	}

	zones, _ := s.ListZones()
	if len(zones) != 0 {
		t.Errorf("Expected zone gone, got %v", zones)
	}
}

func TestClaimConflictReturnsExisting(t *testing.T) {
	s := newCoordinatorStore(t)
	staleAfter := 30 * time.Minute

	if _, _, err := s.UpsertClaim("db-migration", "agent-a", "running migration", staleAfter); err != nil {
		t.Fatalf("UpsertClaim failed: %v", err)
	}

	// Same owner re-claims freely.
	if _, _, err := s.UpsertClaim("db-migration", "agent-a", "still running", staleAfter); err != nil {
		t.Fatalf("Re-claim by owner failed: %v", err)
	}

	// Foreign claim conflicts and surfaces the holder.
	_, existing, err := s.UpsertClaim("db-migration", "agent-b", "", staleAfter)
	if err != ErrClaimHeld {
		t.Fatalf("Expected ErrClaimHeld, got %v", err)
	}
	if existing == nil || existing.By != "agent-a" {
		t.Errorf("Expected existing claim by agent-a, got %v", existing)
	}
}

func TestStaleClaimReclaimed(t *testing.T) {
	s := newCoordinatorStore(t)
	staleAfter := 30 * time.Minute

	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	if _, _, err := s.UpsertClaim("db-migration", "agent-a", "", staleAfter); err != nil {
		t.Fatalf("UpsertClaim failed: %v", err)
	}

	// 31 minutes later the claim is stale: a different agent takes it over
	// without error.
	now = now.Add(31 * time.Minute)

	c, err := s.GetClaim("db-migration", staleAfter)
	if err != nil {
		t.Fatalf("GetClaim failed: %v", err)
	}
	if !c.Stale {
		t.Error("Expected claim to read as stale after threshold")
	}

	claim, existing, err := s.UpsertClaim("db-migration", "agent-b", "", staleAfter)
	if err != nil {
		t.Fatalf("Expected stale claim silently reclaimed, got %v (existing %v)", err, existing)
	}
	if claim.By != "agent-b" {
		t.Errorf("Expected claim reassigned to agent-b, got %s", claim.By)
	}
}

func TestReleaseClaimOwnerMatch(t *testing.T) {
	s := newCoordinatorStore(t)

	s.UpsertClaim("cache-rebuild", "agent-a", "", time.Hour)

	if err := s.ReleaseClaim("cache-rebuild", "agent-b"); err != ErrNotOwner {
		t.Errorf("Expected ErrNotOwner, got %v", err)
	}
	if err := s.ReleaseClaim("cache-rebuild", "agent-a"); err != nil {
		t.Errorf("Owner release failed: %v", err)
	}
	if err := s.ReleaseClaim("cache-rebuild", "agent-a"); err != ErrNotFound {
		t.Errorf("Expected ErrNotFound after release, got %v", err)
	}
}

func TestHandoffLifecycle(t *testing.T) {
	s := newCoordinatorStore(t)

	h, err := s.CreateHandoff(models.Handoff{
		FromAgent: "agent-a",
		Title:     "finish parser",
		NextSteps: []string{"handle escapes", "add tests"},
	})
	if err != nil {
		t.Fatalf("CreateHandoff failed: %v", err)
	}
	if h.Status != models.HandoffPending {
		t.Errorf("Expected pending, got %s", h.Status)
	}

	// Completing before claiming is rejected.
	if _, err := s.CompleteHandoff(h.ID, "agent-b"); err != ErrHandoffUnavailable {
		t.Errorf("Expected ErrHandoffUnavailable, got %v", err)
	}

	claimed, err := s.ClaimHandoff(h.ID, "agent-b")
	if err != nil {
		t.Fatalf("ClaimHandoff failed: %v", err)
	}
	if claimed.Status != models.HandoffClaimed || claimed.ClaimedBy != "agent-b" {
		t.Errorf("Claim not recorded: %+v", claimed)
	}
	if claimed.ClaimedAt == nil {
		t.Error("Expected claimed_at set")
	}

	// Double-claim is rejected.
	if _, err := s.ClaimHandoff(h.ID, "agent-c"); err != ErrHandoffUnavailable {
		t.Errorf("Expected ErrHandoffUnavailable on double claim, got %v", err)
	}

	// Only the claimer completes.
	if _, err := s.CompleteHandoff(h.ID, "agent-c"); err != ErrNotOwner {
		t.Errorf("Expected ErrNotOwner, got %v", err)
	}
	done, err := s.CompleteHandoff(h.ID, "agent-b")
	if err != nil {
		t.Fatalf("CompleteHandoff failed: %v", err)
	}
	if done.Status != models.HandoffCompleted || done.CompletedAt == nil {
		t.Errorf("Completion not recorded: %+v", done)
	}
}

func TestHandoffPinnedToAgent(t *testing.T) {
	s := newCoordinatorStore(t)

	h, _ := s.CreateHandoff(models.Handoff{FromAgent: "agent-a", ToAgent: "agent-b", Title: "review"})

	if _, err := s.ClaimHandoff(h.ID, "agent-c"); err != ErrHandoffUnavailable {
		t.Errorf("Expected pinned handoff to reject agent-c, got %v", err)
	}
	if _, err := s.ClaimHandoff(h.ID, "agent-b"); err != nil {
		t.Errorf("Pinned agent claim failed: %v", err)
	}
}
