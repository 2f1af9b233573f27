package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/hiveplane/hiveplane/internal/lifecycle"
	"github.com/hiveplane/hiveplane/internal/models"
)

// --- Soul Handlers ---

type createSoulRequest struct {
	Name     string   `json:"name"`
	Identity string   `json:"identity"`
	Goals    []string `json:"goals"`
}

func (s *Server) handleSouls(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		souls, err := s.souls.ListSouls()
		if err != nil {
			serviceError(w, err)
			return
		}
		if souls == nil {
			souls = []models.Soul{}
		}
		writeJSON(w, http.StatusOK, souls)
	case http.MethodPost:
		var req createSoulRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}
		if req.Name == "" {
			writeError(w, http.StatusBadRequest, "name required")
			return
		}
		soul, err := s.souls.CreateSoul(req.Name, req.Identity, req.Goals)
		if err != nil {
			serviceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, soul)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

type bindRequest struct {
	BodyID string `json:"body_id"`
}

type initiateTransferRequest struct {
	Reason       string `json:"reason"`
	TargetBodyID string `json:"target_body_id"`
}

// handleSoulByID dispatches /api/souls/{id}/{action}.
func (s *Server) handleSoulByID(w http.ResponseWriter, r *http.Request) {
	id, action := pathSegment(r.URL.Path, "/api/souls")
	if id == "" {
		writeError(w, http.StatusBadRequest, "soul id required")
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		soul, err := s.souls.GetSoul(id)
		if err != nil {
			serviceError(w, err)
			return
		}
		if soul == nil {
			writeError(w, http.StatusNotFound, "soul not found")
			return
		}
		writeJSON(w, http.StatusOK, soul)

	case action == "checkpoint" && r.Method == http.MethodPost:
		var req lifecycle.CheckpointRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}
		soul, err := s.souls.CheckpointSoul(id, req)
		if err != nil {
			serviceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, soul)

	case action == "bundle" && r.Method == http.MethodGet:
		bundle, err := s.souls.Bundle(id)
		if err != nil {
			serviceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, bundle)

	case action == "bind" && r.Method == http.MethodPost:
		var req bindRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}
		if req.BodyID == "" {
			writeError(w, http.StatusBadRequest, "body_id required")
			return
		}
		soul, err := s.souls.Bind(id, req.BodyID)
		if err != nil {
			serviceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, soul)

	case action == "transfer" && r.Method == http.MethodPost:
		var req initiateTransferRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}
		transfer, err := s.souls.InitiateTransfer(id, req.Reason, req.TargetBodyID)
		if err != nil {
			serviceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, transfer)

	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

// --- Body Handlers ---

func (s *Server) handleBodies(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		bodies, err := s.souls.ListBodies(r.URL.Query().Get("soulId"))
		if err != nil {
			serviceError(w, err)
			return
		}
		if bodies == nil {
			bodies = []models.Body{}
		}
		writeJSON(w, http.StatusOK, bodies)
	case http.MethodPost:
		body, err := s.souls.SpawnBody()
		if err != nil {
			serviceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, body)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

type tokensRequest struct {
	Tokens int64 `json:"tokens"`
}

type bodyStatusRequest struct {
	Status models.BodyStatus `json:"status"`
}

// handleBodyByID dispatches /api/bodies/{id}/{action}.
func (s *Server) handleBodyByID(w http.ResponseWriter, r *http.Request) {
	id, action := pathSegment(r.URL.Path, "/api/bodies")
	if id == "" {
		writeError(w, http.StatusBadRequest, "body id required")
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		body, err := s.souls.GetBody(id)
		if err != nil {
			serviceError(w, err)
			return
		}
		if body == nil {
			writeError(w, http.StatusNotFound, "body not found")
			return
		}
		writeJSON(w, http.StatusOK, body)

	case action == "tokens" && r.Method == http.MethodPost:
		var req tokensRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}
		if req.Tokens < 0 {
			writeError(w, http.StatusBadRequest, "tokens must be non-negative")
			return
		}
		body, err := s.souls.UpdateTokens(id, req.Tokens)
		if err != nil {
			serviceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, body)

	case action == "status" && r.Method == http.MethodPost:
		var req bodyStatusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}
		body, err := s.souls.SetBodyStatus(id, req.Status)
		if err != nil {
			serviceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, body)

	case action == "error" && r.Method == http.MethodPost:
		body, err := s.souls.RecordBodyError(id)
		if err != nil {
			serviceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, body)

	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

// --- Transfer Handlers ---

func (s *Server) handleTransfers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	activeOnly, _ := strconv.ParseBool(r.URL.Query().Get("active"))
	transfers, err := s.souls.ListTransfers(activeOnly)
	if err != nil {
		serviceError(w, err)
		return
	}
	if transfers == nil {
		transfers = []models.Transfer{}
	}
	writeJSON(w, http.StatusOK, transfers)
}

type failTransferRequest struct {
	Error    string `json:"error"`
	Rollback bool   `json:"rollback"`
}

// handleTransferByID dispatches /api/transfers/{id}/{action}.
func (s *Server) handleTransferByID(w http.ResponseWriter, r *http.Request) {
	id, action := pathSegment(r.URL.Path, "/api/transfers")
	if id == "" {
		writeError(w, http.StatusBadRequest, "transfer id required")
		return
	}
	if r.Method != http.MethodPost && !(action == "" && r.Method == http.MethodGet) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var transfer *models.Transfer
	var err error
	switch action {
	case "":
		transfer, err = s.souls.GetTransfer(id)
		if err == nil && transfer == nil {
			writeError(w, http.StatusNotFound, "transfer not found")
			return
		}
	case "advance":
		transfer, err = s.souls.AdvanceTransfer(id)
	case "complete":
		transfer, err = s.souls.CompleteTransfer(id)
	case "fail":
		var req failTransferRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}
		transfer, err = s.souls.FailTransfer(id, req.Error, req.Rollback)
	default:
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, transfer)
}

// handleDashboard handles GET /api/dashboard.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	dash, err := s.souls.Dashboard()
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dash)
}
