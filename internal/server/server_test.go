package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/hiveplane/hiveplane/internal/actor"
	"github.com/hiveplane/hiveplane/internal/agentstate"
	"github.com/hiveplane/hiveplane/internal/config"
	"github.com/hiveplane/hiveplane/internal/coordinator"
	"github.com/hiveplane/hiveplane/internal/lifecycle"
	"github.com/hiveplane/hiveplane/internal/models"
	"github.com/hiveplane/hiveplane/internal/reslock"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	logger := zap.NewNop()
	registry := actor.NewRegistry(t.TempDir(), logger)
	t.Cleanup(func() { registry.Close() })

	coordInst, err := registry.Coordinator()
	if err != nil {
		t.Fatalf("Failed to resolve coordinator: %v", err)
	}

	cfg := config.Default()
	locks := reslock.NewService(registry, cfg, logger)
	t.Cleanup(locks.Stop)

	srv := NewServer(
		coordinator.NewService(coordInst, cfg, logger),
		agentstate.NewService(registry, cfg, logger),
		locks,
		lifecycle.NewService(coordInst, cfg, logger),
		logger,
		"",
	)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

// call issues a JSON request and decodes the response into out (when non-nil).
func call(t *testing.T, ts *httptest.Server, method, path string, body, out interface{}) int {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal request: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, ts.URL+path, reader)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("Request %s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
			t.Fatalf("Failed to decode response from %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	var status map[string]string
	if code := call(t, ts, http.MethodGet, "/health", nil, &status); code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if status["status"] != "ok" {
		t.Errorf("Unexpected health body: %v", status)
	}
}

func TestHeartbeatAndList(t *testing.T) {
	ts := newTestServer(t)

	var agent models.Agent
	code := call(t, ts, http.MethodPost, "/api/coordinator/agents",
		models.Agent{ID: "agent-a", CurrentTask: "reviewing"}, &agent)
	if code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if agent.Status != models.AgentStatusActive {
		t.Errorf("Heartbeat should default to active, got %s", agent.Status)
	}

	// Missing id is rejected.
	if code := call(t, ts, http.MethodPost, "/api/coordinator/agents", models.Agent{}, nil); code != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing id, got %d", code)
	}

	var agents []models.Agent
	if code := call(t, ts, http.MethodGet, "/api/coordinator/agents?active=true", nil, &agents); code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if len(agents) != 1 || agents[0].ID != "agent-a" {
		t.Errorf("Expected one active agent, got %v", agents)
	}
}

func TestChatPostAndReact(t *testing.T) {
	ts := newTestServer(t)

	var msg models.ChatMessage
	code := call(t, ts, http.MethodPost, "/api/coordinator/chat",
		map[string]string{"author": "agent-a", "text": "shipping the parser"}, &msg)
	if code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d", code)
	}
	if msg.AuthorType != models.AuthorAgent {
		t.Errorf("Expected default author type agent, got %s", msg.AuthorType)
	}

	var reacted models.ChatMessage
	code = call(t, ts, http.MethodPost, "/api/coordinator/chat/"+msg.ID+"/react",
		map[string]string{"emoji": "🚀"}, &reacted)
	if code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if reacted.Reactions["🚀"] != 1 {
		t.Errorf("Expected reaction recorded, got %v", reacted.Reactions)
	}

	// Reacting to an unknown message is a 404.
	code = call(t, ts, http.MethodPost, "/api/coordinator/chat/nope/react",
		map[string]string{"emoji": "🚀"}, nil)
	if code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", code)
	}
}

func TestTaskFlow(t *testing.T) {
	ts := newTestServer(t)

	var task models.Task
	code := call(t, ts, http.MethodPost, "/api/coordinator/tasks",
		models.Task{Title: "wire the cache", CreatedBy: "agent-a"}, &task)
	if code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d", code)
	}
	if task.Status != models.TaskStatusTodo {
		t.Errorf("Expected new task todo, got %s", task.Status)
	}

	var updated models.Task
	code = call(t, ts, http.MethodPatch, "/api/coordinator/tasks/"+task.ID,
		models.Task{Status: models.TaskStatusInProgress, Assignee: "agent-b"}, &updated)
	if code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if updated.Status != models.TaskStatusInProgress || updated.Assignee != "agent-b" {
		t.Errorf("Patch not applied: %+v", updated)
	}
	if updated.Title != "wire the cache" {
		t.Errorf("Patch should not clear title, got %q", updated.Title)
	}

	if code := call(t, ts, http.MethodGet, "/api/coordinator/tasks/nope", nil, nil); code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown task, got %d", code)
	}
}

func TestClaimConflictCarriesExisting(t *testing.T) {
	ts := newTestServer(t)

	code := call(t, ts, http.MethodPost, "/api/coordinator/claims",
		map[string]string{"what": "auth-refactor", "by": "agent-a"}, nil)
	if code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d", code)
	}

	var conflict claimConflict
	code = call(t, ts, http.MethodPost, "/api/coordinator/claims",
		map[string]string{"what": "auth-refactor", "by": "agent-b"}, &conflict)
	if code != http.StatusConflict {
		t.Fatalf("Expected 409, got %d", code)
	}
	if conflict.Existing == nil || conflict.Existing.By != "agent-a" {
		t.Errorf("Conflict should carry the live claim, got %+v", conflict.Existing)
	}

	// Releasing by a non-owner is forbidden.
	code = call(t, ts, http.MethodPost, "/api/coordinator/claims",
		map[string]string{"action": "release", "what": "auth-refactor", "by": "agent-b"}, nil)
	if code != http.StatusForbidden {
		t.Errorf("Expected 403, got %d", code)
	}
	code = call(t, ts, http.MethodPost, "/api/coordinator/claims",
		map[string]string{"action": "release", "what": "auth-refactor", "by": "agent-a"}, nil)
	if code != http.StatusOK {
		t.Errorf("Expected 200 for owner release, got %d", code)
	}
}

func TestZoneCheck(t *testing.T) {
	ts := newTestServer(t)

	code := call(t, ts, http.MethodPost, "/api/coordinator/zones",
		map[string]string{"zone_id": "api", "path": "src/api", "owner": "agent-a"}, nil)
	if code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d", code)
	}

	var check struct {
		Claimed bool         `json:"claimed"`
		Zone    *models.Zone `json:"zone"`
	}
	code = call(t, ts, http.MethodGet, "/api/coordinator/zones/check?path="+url.QueryEscape("src/api/handler.go"), nil, &check)
	if code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if !check.Claimed || check.Zone == nil || check.Zone.Owner != "agent-a" {
		t.Errorf("Expected path inside zone claimed by agent-a, got %+v", check)
	}

	code = call(t, ts, http.MethodGet, "/api/coordinator/zones/check?path=docs/readme.md", nil, &check)
	if code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if check.Claimed {
		t.Errorf("Path outside any zone should be unclaimed, got %+v", check)
	}
}

func TestHandoffFlow(t *testing.T) {
	ts := newTestServer(t)

	var h models.Handoff
	code := call(t, ts, http.MethodPost, "/api/coordinator/handoffs",
		models.Handoff{FromAgent: "agent-a", Title: "finish the migration"}, &h)
	if code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d", code)
	}

	// Completing before claiming is a conflict.
	code = call(t, ts, http.MethodPost, "/api/coordinator/handoffs/"+h.ID+"/complete",
		map[string]string{"agent_id": "agent-b"}, nil)
	if code != http.StatusConflict {
		t.Errorf("Expected 409 completing unclaimed handoff, got %d", code)
	}

	var claimed models.Handoff
	code = call(t, ts, http.MethodPost, "/api/coordinator/handoffs/"+h.ID+"/claim",
		map[string]string{"agent_id": "agent-b"}, &claimed)
	if code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if claimed.Status != models.HandoffClaimed || claimed.ClaimedBy != "agent-b" {
		t.Errorf("Claim not recorded: %+v", claimed)
	}

	// Only the claimer may complete.
	code = call(t, ts, http.MethodPost, "/api/coordinator/handoffs/"+h.ID+"/complete",
		map[string]string{"agent_id": "agent-c"}, nil)
	if code != http.StatusForbidden {
		t.Errorf("Expected 403 for foreign completer, got %d", code)
	}

	var done models.Handoff
	code = call(t, ts, http.MethodPost, "/api/coordinator/handoffs/"+h.ID+"/complete",
		map[string]string{"agent_id": "agent-b"}, &done)
	if code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if done.Status != models.HandoffCompleted {
		t.Errorf("Expected completed, got %s", done.Status)
	}
}

func TestWorkBundle(t *testing.T) {
	ts := newTestServer(t)

	call(t, ts, http.MethodPost, "/api/coordinator/agents", models.Agent{ID: "agent-a"}, nil)
	call(t, ts, http.MethodPost, "/api/coordinator/tasks",
		models.Task{Title: "open item"}, nil)
	var mine models.Task
	call(t, ts, http.MethodPost, "/api/coordinator/tasks",
		models.Task{Title: "assigned item", Assignee: "agent-b", Status: models.TaskStatusInProgress}, &mine)
	call(t, ts, http.MethodPost, "/api/coordinator/chat",
		map[string]string{"author": "agent-a", "text": "hello"}, nil)

	var bundle models.WorkBundle
	code := call(t, ts, http.MethodGet, "/api/coordinator/work?agentId=agent-b", nil, &bundle)
	if code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if len(bundle.ActiveAgents) != 1 || len(bundle.RecentChat) != 1 {
		t.Errorf("Bundle missing registry or chat: %+v", bundle)
	}
	if len(bundle.TodoTasks) != 1 || bundle.TodoTasks[0].Title != "open item" {
		t.Errorf("Expected one todo task, got %v", bundle.TodoTasks)
	}
	if len(bundle.MyTasks) != 1 || bundle.MyTasks[0].ID != mine.ID {
		t.Errorf("Expected the assigned task, got %v", bundle.MyTasks)
	}
}

func TestLockEndpoints(t *testing.T) {
	ts := newTestServer(t)

	resource := url.PathEscape("src/api/handler.go")

	var granted models.Lock
	code := call(t, ts, http.MethodPost, "/api/lock/"+resource+"/lock",
		map[string]interface{}{"agent_id": "agent-a", "resource_type": "file", "ttl_ms": 60000}, &granted)
	if code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d", code)
	}
	if granted.LockedBy != "agent-a" || granted.ResourcePath != "src/api/handler.go" {
		t.Errorf("Grant wrong: %+v", granted)
	}

	var conflict lockConflict
	code = call(t, ts, http.MethodPost, "/api/lock/"+resource+"/lock",
		map[string]interface{}{"agent_id": "agent-b"}, &conflict)
	if code != http.StatusConflict {
		t.Fatalf("Expected 409, got %d", code)
	}
	if conflict.Existing == nil || conflict.Existing.LockedBy != "agent-a" {
		t.Errorf("Conflict should carry the live lock, got %+v", conflict.Existing)
	}

	var check struct {
		Locked bool         `json:"locked"`
		Lock   *models.Lock `json:"lock"`
	}
	if code := call(t, ts, http.MethodGet, "/api/lock/"+resource+"/check", nil, &check); code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if !check.Locked {
		t.Errorf("Expected locked, got %+v", check)
	}

	// Non-owner unlock without force is forbidden; with force it steals.
	code = call(t, ts, http.MethodPost, "/api/lock/"+resource+"/unlock",
		map[string]interface{}{"agent_id": "agent-b"}, nil)
	if code != http.StatusForbidden {
		t.Errorf("Expected 403, got %d", code)
	}
	code = call(t, ts, http.MethodPost, "/api/lock/"+resource+"/unlock",
		map[string]interface{}{"agent_id": "agent-b", "force": true}, nil)
	if code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}

	var events []models.LockEvent
	if code := call(t, ts, http.MethodGet, "/api/lock/"+resource+"/history", nil, &events); code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if len(events) != 1 || events[0].Reason != "stolen" || events[0].Owner != "agent-a" {
		t.Errorf("Expected one stolen event for agent-a, got %v", events)
	}
}

func TestAgentStateEndpoints(t *testing.T) {
	ts := newTestServer(t)

	// Checkpoint requires a summary.
	code := call(t, ts, http.MethodPost, "/api/agent/agent-a/checkpoint",
		models.Checkpoint{}, nil)
	if code != http.StatusBadRequest {
		t.Errorf("Expected 400 without summary, got %d", code)
	}
	code = call(t, ts, http.MethodPost, "/api/agent/agent-a/checkpoint",
		models.Checkpoint{ConversationSummary: "built the lock layer"}, nil)
	if code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}

	var msg models.InboxMessage
	code = call(t, ts, http.MethodPost, "/api/agent/agent-a/messages",
		map[string]string{"from": "agent-b", "text": "lock released"}, &msg)
	if code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d", code)
	}

	var state models.AgentState
	if code := call(t, ts, http.MethodGet, "/api/agent/agent-a/state", nil, &state); code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if state.Checkpoint == nil || state.UnreadCount != 1 {
		t.Errorf("State incomplete: %+v", state)
	}

	var marked map[string]int
	code = call(t, ts, http.MethodPatch, "/api/agent/agent-a/messages",
		map[string][]string{"ids": {msg.ID}}, &marked)
	if code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if marked["marked"] != 1 {
		t.Errorf("Expected one message marked, got %v", marked)
	}

	call(t, ts, http.MethodPost, "/api/agent/agent-a/memory",
		map[string]interface{}{"category": "gotcha", "content": "sqlite needs one writer", "tags": []string{"db"}}, nil)
	var items []models.MemoryItem
	if code := call(t, ts, http.MethodGet, "/api/agent/agent-a/memory?q=writer", nil, &items); code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if len(items) != 1 {
		t.Errorf("Expected one memory hit, got %v", items)
	}
}

func TestSoulTransferOverHTTP(t *testing.T) {
	ts := newTestServer(t)

	var soul models.Soul
	code := call(t, ts, http.MethodPost, "/api/souls",
		map[string]string{"name": "atlas", "identity": "backend specialist"}, &soul)
	if code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d", code)
	}

	var body models.Body
	if code := call(t, ts, http.MethodPost, "/api/bodies", nil, &body); code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d", code)
	}

	code = call(t, ts, http.MethodPost, "/api/souls/"+soul.SoulID+"/bind",
		map[string]string{"body_id": body.BodyID}, &soul)
	if code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}

	// Negative token counts are rejected at the edge.
	code = call(t, ts, http.MethodPost, "/api/bodies/"+body.BodyID+"/tokens",
		map[string]int{"tokens": -1}, nil)
	if code != http.StatusBadRequest {
		t.Errorf("Expected 400 for negative tokens, got %d", code)
	}
	code = call(t, ts, http.MethodPost, "/api/bodies/"+body.BodyID+"/tokens",
		map[string]int{"tokens": 190_000}, &body)
	if code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if body.TokenStatus != models.TokenDanger {
		t.Errorf("Expected danger at 190k tokens, got %s", body.TokenStatus)
	}

	var transfer models.Transfer
	code = call(t, ts, http.MethodPost, "/api/souls/"+soul.SoulID+"/transfer",
		map[string]string{"reason": "token_limit"}, &transfer)
	if code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d", code)
	}

	// A second initiation conflicts.
	code = call(t, ts, http.MethodPost, "/api/souls/"+soul.SoulID+"/transfer",
		map[string]string{"reason": "again"}, nil)
	if code != http.StatusConflict {
		t.Errorf("Expected 409 for concurrent transfer, got %d", code)
	}

	for i := 0; i < 3; i++ {
		code = call(t, ts, http.MethodPost, "/api/transfers/"+transfer.TransferID+"/advance", nil, &transfer)
		if code != http.StatusOK {
			t.Fatalf("Advance %d: expected 200, got %d", i, code)
		}
	}
	if transfer.Status != models.TransferInjecting {
		t.Errorf("Expected injecting after three advances, got %s", transfer.Status)
	}

	code = call(t, ts, http.MethodPost, "/api/transfers/"+transfer.TransferID+"/complete", nil, &transfer)
	if code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if transfer.Status != models.TransferCompleted {
		t.Errorf("Expected completed, got %s", transfer.Status)
	}
	// Completing twice conflicts.
	code = call(t, ts, http.MethodPost, "/api/transfers/"+transfer.TransferID+"/complete", nil, nil)
	if code != http.StatusConflict {
		t.Errorf("Expected 409 re-completing, got %d", code)
	}

	call(t, ts, http.MethodGet, "/api/souls/"+soul.SoulID, nil, &soul)
	if soul.CurrentBodyID != transfer.ToBodyID {
		t.Errorf("Soul should follow the transfer to %s, got %s", transfer.ToBodyID, soul.CurrentBodyID)
	}
	if len(soul.BodyHistory) != 1 {
		t.Errorf("Expected one body history record, got %d", len(soul.BodyHistory))
	}

	var dash models.Dashboard
	if code := call(t, ts, http.MethodGet, "/api/dashboard", nil, &dash); code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if len(dash.Souls) != 1 || dash.TerminatedCount != 1 {
		t.Errorf("Dashboard wrong: %+v", dash)
	}
}

func TestBundleEndpoint(t *testing.T) {
	ts := newTestServer(t)

	var soul models.Soul
	call(t, ts, http.MethodPost, "/api/souls", map[string]string{"name": "atlas"}, &soul)
	call(t, ts, http.MethodPost, fmt.Sprintf("/api/souls/%s/checkpoint", soul.SoulID),
		lifecycle.CheckpointRequest{
			CurrentTask: "schema migration",
			Patterns:    []string{"small commits"},
			Memories:    []models.SoulMemory{{Content: "flaky arm runner", Importance: "high"}},
		}, nil)

	var bundle models.SoulBundle
	code := call(t, ts, http.MethodGet, "/api/souls/"+soul.SoulID+"/bundle", nil, &bundle)
	if code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if bundle.CurrentTask != "schema migration" || len(bundle.Patterns) != 1 || len(bundle.Memories) != 1 {
		t.Errorf("Bundle incomplete: %+v", bundle)
	}
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t)

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/api/coordinator/agents", nil)
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("Preflight failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("Expected 204, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Error("Expected CORS header on preflight")
	}
}
