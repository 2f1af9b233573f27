package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/hiveplane/hiveplane/internal/models"
)

// handleLockByPath dispatches /api/lock/{path}/{verb}. The resource path
// travels as one URL-encoded segment ahead of the verb, so dispatch runs on
// the escaped path; r.URL.Path has %2F already decoded and would split the
// resource at every slash.
func (s *Server) handleLockByPath(w http.ResponseWriter, r *http.Request) {
	resourcePath, verb := pathSegment(r.URL.EscapedPath(), "/api/lock")
	if resourcePath == "" {
		writeError(w, http.StatusBadRequest, "resource path required")
		return
	}

	switch {
	case verb == "check" && r.Method == http.MethodGet:
		s.checkLock(w, resourcePath)
	case verb == "lock" && r.Method == http.MethodPost:
		s.acquireLock(w, r, resourcePath)
	case verb == "unlock" && r.Method == http.MethodPost:
		s.releaseLock(w, r, resourcePath)
	case verb == "history" && r.Method == http.MethodGet:
		s.lockHistory(w, resourcePath)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) checkLock(w http.ResponseWriter, resourcePath string) {
	lock, err := s.locks.Check(resourcePath)
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"locked": lock != nil,
		"lock":   lock,
	})
}

type lockRequest struct {
	AgentID      string `json:"agent_id"`
	ResourceType string `json:"resource_type"`
	Reason       string `json:"reason"`
	TTLMs        int    `json:"ttl_ms"`
}

// lockConflict is the 409 body carrying the live lock.
type lockConflict struct {
	Error    string       `json:"error"`
	Existing *models.Lock `json:"existing"`
}

func (s *Server) acquireLock(w http.ResponseWriter, r *http.Request, resourcePath string) {
	var req lockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.AgentID == "" {
		writeError(w, http.StatusBadRequest, "agent_id required")
		return
	}

	granted, existing, err := s.locks.Acquire(resourcePath, req.AgentID, req.ResourceType, req.Reason,
		time.Duration(req.TTLMs)*time.Millisecond)
	if err != nil {
		if existing != nil {
			writeJSON(w, http.StatusConflict, lockConflict{Error: err.Error(), Existing: existing})
			return
		}
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, granted)
}

type unlockRequest struct {
	AgentID string `json:"agent_id"`
	Force   bool   `json:"force"`
}

func (s *Server) releaseLock(w http.ResponseWriter, r *http.Request, resourcePath string) {
	var req unlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.AgentID == "" {
		writeError(w, http.StatusBadRequest, "agent_id required")
		return
	}
	if err := s.locks.Release(resourcePath, req.AgentID, req.Force); err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "released"})
}

func (s *Server) lockHistory(w http.ResponseWriter, resourcePath string) {
	events, err := s.locks.History(resourcePath)
	if err != nil {
		serviceError(w, err)
		return
	}
	if events == nil {
		events = []models.LockEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}
