package store

import (
	"testing"

	"github.com/hiveplane/hiveplane/internal/models"
)

func TestCheckpointReplaces(t *testing.T) {
	s := newAgentStore(t)

	cp, err := s.GetCheckpoint()
	if err != nil {
		t.Fatalf("GetCheckpoint failed: %v", err)
	}
	if cp != nil {
		t.Errorf("Expected nil checkpoint before first save, got %+v", cp)
	}

	if _, err := s.SaveCheckpoint(models.Checkpoint{ConversationSummary: "first pass"}); err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}
	if _, err := s.SaveCheckpoint(models.Checkpoint{
		ConversationSummary: "second pass",
		FilesEdited:         []string{"a.go", "b.go"},
	}); err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}

	cp, err = s.GetCheckpoint()
	if err != nil {
		t.Fatalf("GetCheckpoint failed: %v", err)
	}
	if cp.ConversationSummary != "second pass" {
		t.Errorf("Expected latest checkpoint, got %q", cp.ConversationSummary)
	}
	if len(cp.FilesEdited) != 2 {
		t.Errorf("Expected files_edited round-tripped, got %v", cp.FilesEdited)
	}
}

func TestInboxUnreadAndMarkRead(t *testing.T) {
	s := newAgentStore(t)

	m1, err := s.AddInboxMessage("agent-b", models.AuthorAgent, "need the schema")
	if err != nil {
		t.Fatalf("AddInboxMessage failed: %v", err)
	}
	s.AddInboxMessage("operator", models.AuthorHuman, "status?")

	n, err := s.UnreadCount()
	if err != nil {
		t.Fatalf("UnreadCount failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 unread, got %d", n)
	}

	marked, err := s.MarkRead([]string{m1.ID, "bogus-id"})
	if err != nil {
		t.Fatalf("MarkRead failed: %v", err)
	}
	if marked != 1 {
		t.Errorf("Expected 1 marked (unknown ids ignored), got %d", marked)
	}

	unread, err := s.ListInbox(10, true)
	if err != nil {
		t.Fatalf("ListInbox failed: %v", err)
	}
	if len(unread) != 1 || unread[0].From != "operator" {
		t.Errorf("Expected only the operator message unread, got %v", unread)
	}
}

func TestInboxListCap(t *testing.T) {
	s := newAgentStore(t)

	for i := 0; i < 5; i++ {
		if _, err := s.AddInboxMessage("agent-b", models.AuthorAgent, "ping"); err != nil {
			t.Fatalf("AddInboxMessage failed: %v", err)
		}
	}

	msgs, err := s.ListInbox(3, false)
	if err != nil {
		t.Fatalf("ListInbox failed: %v", err)
	}
	if len(msgs) != 3 {
		t.Errorf("Expected read cap of 3, got %d", len(msgs))
	}
}

func TestMemoryQuery(t *testing.T) {
	s := newAgentStore(t)

	s.AddAgentMemory("decisions", "use sqlite for per-actor storage", []string{"storage"})
	s.AddAgentMemory("decisions", "claims are advisory", []string{"coordination"})
	s.AddAgentMemory("gotchas", "sqlite needs single writer", []string{"storage"})

	items, err := s.QueryAgentMemory("decisions", "", 10)
	if err != nil {
		t.Fatalf("QueryAgentMemory failed: %v", err)
	}
	if len(items) != 2 {
		t.Errorf("Expected 2 decision memories, got %d", len(items))
	}

	items, err = s.QueryAgentMemory("", "sqlite", 10)
	if err != nil {
		t.Fatalf("QueryAgentMemory failed: %v", err)
	}
	if len(items) != 2 {
		t.Errorf("Expected 2 sqlite memories across categories, got %d", len(items))
	}

	// Tag match counts too.
	items, err = s.QueryAgentMemory("", "coordination", 10)
	if err != nil {
		t.Fatalf("QueryAgentMemory failed: %v", err)
	}
	if len(items) != 1 {
		t.Errorf("Expected 1 tag match, got %d", len(items))
	}

	n, err := s.CountAgentMemory()
	if err != nil {
		t.Fatalf("CountAgentMemory failed: %v", err)
	}
	if n != 3 {
		t.Errorf("Expected 3 memories, got %d", n)
	}
}
