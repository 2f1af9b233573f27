package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/hiveplane/hiveplane/internal/models"
)

// handleAgentByID dispatches /api/agent/{id}/{resource}. The escaped path
// keeps ids with encoded characters intact as one segment.
func (s *Server) handleAgentByID(w http.ResponseWriter, r *http.Request) {
	agentID, resource := pathSegment(r.URL.EscapedPath(), "/api/agent")
	if agentID == "" {
		writeError(w, http.StatusBadRequest, "agent id required")
		return
	}

	switch {
	case resource == "checkpoint" && r.Method == http.MethodGet:
		s.getCheckpoint(w, agentID)
	case resource == "checkpoint" && r.Method == http.MethodPost:
		s.saveCheckpoint(w, r, agentID)
	case resource == "messages" && r.Method == http.MethodGet:
		s.listMessages(w, r, agentID)
	case resource == "messages" && r.Method == http.MethodPost:
		s.sendMessage(w, r, agentID)
	case resource == "messages" && r.Method == http.MethodPatch:
		s.markRead(w, r, agentID)
	case resource == "memory" && r.Method == http.MethodGet:
		s.queryMemory(w, r, agentID)
	case resource == "memory" && r.Method == http.MethodPost:
		s.addMemory(w, r, agentID)
	case resource == "state" && r.Method == http.MethodGet:
		s.getState(w, agentID)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) getCheckpoint(w http.ResponseWriter, agentID string) {
	cp, err := s.agents.GetCheckpoint(agentID)
	if err != nil {
		serviceError(w, err)
		return
	}
	if cp == nil {
		writeError(w, http.StatusNotFound, "no checkpoint")
		return
	}
	writeJSON(w, http.StatusOK, cp)
}

func (s *Server) saveCheckpoint(w http.ResponseWriter, r *http.Request, agentID string) {
	var cp models.Checkpoint
	if err := json.NewDecoder(r.Body).Decode(&cp); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if cp.ConversationSummary == "" {
		writeError(w, http.StatusBadRequest, "conversation_summary required")
		return
	}
	saved, err := s.agents.SaveCheckpoint(agentID, cp)
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request, agentID string) {
	unreadOnly, _ := strconv.ParseBool(r.URL.Query().Get("unread"))
	msgs, err := s.agents.ListMessages(agentID, unreadOnly)
	if err != nil {
		serviceError(w, err)
		return
	}
	if msgs == nil {
		msgs = []models.InboxMessage{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

type sendMessageRequest struct {
	From string            `json:"from"`
	Type models.AuthorType `json:"type"`
	Text string            `json:"text"`
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request, agentID string) {
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.From == "" || req.Text == "" {
		writeError(w, http.StatusBadRequest, "from and text required")
		return
	}
	if req.Type == "" {
		req.Type = models.AuthorAgent
	}
	msg, err := s.agents.SendMessage(agentID, req.From, req.Type, req.Text)
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

type markReadRequest struct {
	IDs []string `json:"ids"`
}

func (s *Server) markRead(w http.ResponseWriter, r *http.Request, agentID string) {
	var req markReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if len(req.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "ids required")
		return
	}
	n, err := s.agents.MarkRead(agentID, req.IDs)
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"marked": n})
}

type addMemoryRequest struct {
	Category string   `json:"category"`
	Content  string   `json:"content"`
	Tags     []string `json:"tags"`
}

func (s *Server) addMemory(w http.ResponseWriter, r *http.Request, agentID string) {
	var req addMemoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content required")
		return
	}
	item, err := s.agents.AddMemory(agentID, req.Category, req.Content, req.Tags)
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (s *Server) queryMemory(w http.ResponseWriter, r *http.Request, agentID string) {
	items, err := s.agents.QueryMemory(agentID, r.URL.Query().Get("category"), r.URL.Query().Get("q"))
	if err != nil {
		serviceError(w, err)
		return
	}
	if items == nil {
		items = []models.MemoryItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) getState(w http.ResponseWriter, agentID string) {
	state, err := s.agents.State(agentID)
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}
