package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/hiveplane/hiveplane/internal/models"
)

// --- Agent Registry Handlers ---

// handleAgents handles GET /api/coordinator/agents and POST (heartbeat).
func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		activeOnly, _ := strconv.ParseBool(r.URL.Query().Get("active"))
		agents, err := s.coord.ListAgents(activeOnly)
		if err != nil {
			serviceError(w, err)
			return
		}
		if agents == nil {
			agents = []models.Agent{}
		}
		writeJSON(w, http.StatusOK, agents)
	case http.MethodPost:
		var upd models.Agent
		if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}
		if upd.ID == "" {
			writeError(w, http.StatusBadRequest, "agent id required")
			return
		}
		agent, err := s.coord.Heartbeat(upd)
		if err != nil {
			serviceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, agent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// --- Chat Handlers ---

type postChatRequest struct {
	Author     string            `json:"author"`
	AuthorType models.AuthorType `json:"author_type"`
	Text       string            `json:"text"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		msgs, err := s.coord.ListChat(limit)
		if err != nil {
			serviceError(w, err)
			return
		}
		if msgs == nil {
			msgs = []models.ChatMessage{}
		}
		writeJSON(w, http.StatusOK, msgs)
	case http.MethodPost:
		var req postChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}
		if req.Author == "" || req.Text == "" {
			writeError(w, http.StatusBadRequest, "author and text required")
			return
		}
		if req.AuthorType == "" {
			req.AuthorType = models.AuthorAgent
		}
		msg, err := s.coord.PostChat(req.Author, req.AuthorType, req.Text)
		if err != nil {
			serviceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, msg)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

type reactRequest struct {
	Emoji string `json:"emoji"`
}

// handleChatByID handles POST /api/coordinator/chat/{id}/react.
func (s *Server) handleChatByID(w http.ResponseWriter, r *http.Request) {
	id, action := pathSegment(r.URL.Path, "/api/coordinator/chat")
	if id == "" {
		writeError(w, http.StatusBadRequest, "message id required")
		return
	}
	if action != "react" || r.Method != http.MethodPost {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	var req reactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Emoji == "" {
		writeError(w, http.StatusBadRequest, "emoji required")
		return
	}
	msg, err := s.coord.React(id, req.Emoji)
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

// --- Task Handlers ---

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		tasks, err := s.coord.ListTasks(r.URL.Query().Get("status"), r.URL.Query().Get("assignee"))
		if err != nil {
			serviceError(w, err)
			return
		}
		if tasks == nil {
			tasks = []models.Task{}
		}
		writeJSON(w, http.StatusOK, tasks)
	case http.MethodPost:
		var t models.Task
		if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}
		if t.Title == "" {
			writeError(w, http.StatusBadRequest, "title required")
			return
		}
		task, err := s.coord.CreateTask(t)
		if err != nil {
			serviceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, task)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleTaskByID handles GET and PATCH /api/coordinator/tasks/{id}.
func (s *Server) handleTaskByID(w http.ResponseWriter, r *http.Request) {
	id, _ := pathSegment(r.URL.Path, "/api/coordinator/tasks")
	if id == "" {
		writeError(w, http.StatusBadRequest, "task id required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		task, err := s.coord.GetTask(id)
		if err != nil {
			serviceError(w, err)
			return
		}
		if task == nil {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		writeJSON(w, http.StatusOK, task)
	case http.MethodPatch:
		var patch models.Task
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}
		task, err := s.coord.UpdateTask(id, patch)
		if err != nil {
			serviceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, task)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// --- Zone Handlers ---

type zoneRequest struct {
	Action      string `json:"action"` // claim, release
	ZoneID      string `json:"zone_id"`
	Path        string `json:"path"`
	Owner       string `json:"owner"`
	Description string `json:"description"`
}

func (s *Server) handleZones(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		zones, err := s.coord.ListZones()
		if err != nil {
			serviceError(w, err)
			return
		}
		if zones == nil {
			zones = []models.Zone{}
		}
		writeJSON(w, http.StatusOK, zones)
	case http.MethodPost:
		var req zoneRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}
		if req.ZoneID == "" || req.Owner == "" {
			writeError(w, http.StatusBadRequest, "zone_id and owner required")
			return
		}
		switch req.Action {
		case "", "claim":
			if req.Path == "" {
				writeError(w, http.StatusBadRequest, "path required")
				return
			}
			zone, err := s.coord.ClaimZone(req.ZoneID, req.Path, req.Owner, req.Description)
			if err != nil {
				serviceError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, zone)
		case "release":
			if err := s.coord.ReleaseZone(req.ZoneID, req.Owner); err != nil {
				serviceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"status": "released"})
		default:
			writeError(w, http.StatusBadRequest, "unknown action "+req.Action)
		}
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleZoneCheck handles GET /api/coordinator/zones/check?path=.
func (s *Server) handleZoneCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, http.StatusBadRequest, "path required")
		return
	}
	zone, err := s.coord.CheckZone(path)
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"claimed": zone != nil,
		"zone":    zone,
	})
}

// --- Claim Handlers ---

type claimRequest struct {
	Action      string `json:"action"` // claim, release
	What        string `json:"what"`
	By          string `json:"by"`
	Description string `json:"description"`
}

// claimConflict is the 409 body carrying the live claim so the caller can
// decide to back off or escalate.
type claimConflict struct {
	Error    string        `json:"error"`
	Existing *models.Claim `json:"existing"`
}

func (s *Server) handleClaims(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		claims, err := s.coord.ListClaims()
		if err != nil {
			serviceError(w, err)
			return
		}
		if claims == nil {
			claims = []models.Claim{}
		}
		writeJSON(w, http.StatusOK, claims)
	case http.MethodPost:
		var req claimRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}
		if req.What == "" || req.By == "" {
			writeError(w, http.StatusBadRequest, "what and by required")
			return
		}
		switch req.Action {
		case "", "claim":
			claim, existing, err := s.coord.Claim(req.What, req.By, req.Description)
			if err != nil {
				if existing != nil {
					writeJSON(w, http.StatusConflict, claimConflict{Error: err.Error(), Existing: existing})
					return
				}
				serviceError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, claim)
		case "release":
			if err := s.coord.ReleaseClaim(req.What, req.By); err != nil {
				serviceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"status": "released"})
		default:
			writeError(w, http.StatusBadRequest, "unknown action "+req.Action)
		}
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// --- Handoff Handlers ---

func (s *Server) handleHandoffs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		handoffs, err := s.coord.ListHandoffs(r.URL.Query().Get("status"))
		if err != nil {
			serviceError(w, err)
			return
		}
		if handoffs == nil {
			handoffs = []models.Handoff{}
		}
		writeJSON(w, http.StatusOK, handoffs)
	case http.MethodPost:
		var h models.Handoff
		if err := json.NewDecoder(r.Body).Decode(&h); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}
		if h.FromAgent == "" || h.Title == "" {
			writeError(w, http.StatusBadRequest, "from_agent and title required")
			return
		}
		handoff, err := s.coord.CreateHandoff(h)
		if err != nil {
			serviceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, handoff)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

type handoffActionRequest struct {
	AgentID string `json:"agent_id"`
}

// handleHandoffByID handles POST /api/coordinator/handoffs/{id}/claim and
// /complete.
func (s *Server) handleHandoffByID(w http.ResponseWriter, r *http.Request) {
	id, action := pathSegment(r.URL.Path, "/api/coordinator/handoffs")
	if id == "" {
		writeError(w, http.StatusBadRequest, "handoff id required")
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req handoffActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.AgentID == "" {
		writeError(w, http.StatusBadRequest, "agent_id required")
		return
	}

	var handoff *models.Handoff
	var err error
	switch action {
	case "claim":
		handoff, err = s.coord.ClaimHandoff(id, req.AgentID)
	case "complete":
		handoff, err = s.coord.CompleteHandoff(id, req.AgentID)
	default:
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, handoff)
}

// --- Aggregate Handlers ---

// handleWork handles GET /api/coordinator/work?agentId=.
func (s *Server) handleWork(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	agentID := strings.TrimSpace(r.URL.Query().Get("agentId"))
	bundle, err := s.coord.WorkBundle(agentID)
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bundle)
}
