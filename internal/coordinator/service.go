// Package coordinator implements the global coordinator actor: the shared
// registry of agents, group chat, tasks, zones, claims and handoffs.
package coordinator

import (
	"github.com/hiveplane/hiveplane/internal/actor"
	"github.com/hiveplane/hiveplane/internal/config"
	"github.com/hiveplane/hiveplane/internal/hub"
	"github.com/hiveplane/hiveplane/internal/models"
	"github.com/hiveplane/hiveplane/internal/store"
	"go.uber.org/zap"
)

// Service provides the coordinator actor's operations. All calls execute
// serially on the single coordinator instance.
type Service struct {
	inst   *actor.Instance
	cfg    config.Config
	logger *zap.Logger
}

// NewService wraps the coordinator instance.
func NewService(inst *actor.Instance, cfg config.Config, logger *zap.Logger) *Service {
	return &Service{inst: inst, cfg: cfg, logger: logger}
}

// Hub returns the coordinator's push channel.
func (s *Service) Hub() *hub.Hub {
	return s.inst.Hub()
}

// --- Agents ---

// Heartbeat upserts an agent registration. Only provided fields are merged;
// last_seen always advances. Subscribers are notified.
func (s *Service) Heartbeat(upd models.Agent) (*models.Agent, error) {
	var agent *models.Agent
	err := s.inst.Do(func(st *store.Store) error {
		var err error
		agent, err = st.UpsertAgent(upd)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.inst.Hub().Broadcast(hub.Event{Type: hub.EventAgentUpdate, Payload: agent})
	return agent, nil
}

// Disconnect flips an agent to offline, typically when its push connection
// drops.
func (s *Service) Disconnect(agentID string) error {
	err := s.inst.Do(func(st *store.Store) error {
		return st.SetAgentStatus(agentID, models.AgentStatusOffline)
	})
	if err != nil {
		return err
	}
	s.inst.Hub().Broadcast(hub.Event{Type: hub.EventAgentUpdate, Payload: map[string]interface{}{
		"id":     agentID,
		"status": models.AgentStatusOffline,
	}})
	return nil
}

// ListAgents returns agents most recently seen first.
func (s *Service) ListAgents(activeOnly bool) ([]models.Agent, error) {
	var agents []models.Agent
	err := s.inst.Do(func(st *store.Store) error {
		var err error
		agents, err = st.ListAgents(activeOnly)
		return err
	})
	return agents, err
}

// --- Chat ---

// PostChat appends a group chat message and fans it out to all subscribers
// except the sender.
func (s *Service) PostChat(author string, authorType models.AuthorType, text string) (*models.ChatMessage, error) {
	var msg *models.ChatMessage
	err := s.inst.Do(func(st *store.Store) error {
		var err error
		msg, err = st.AppendChat(author, authorType, text, s.cfg.ChatWindow)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.inst.Hub().BroadcastExcept(author, hub.Event{Type: hub.EventChat, Payload: msg})
	return msg, nil
}

// ListChat returns the most recent messages in chronological order.
func (s *Service) ListChat(limit int) ([]models.ChatMessage, error) {
	if limit <= 0 || limit > s.cfg.ChatWindow {
		limit = s.cfg.ChatWindow
	}
	var msgs []models.ChatMessage
	err := s.inst.Do(func(st *store.Store) error {
		var err error
		msgs, err = st.ListChat(limit)
		return err
	})
	return msgs, err
}

// React adds an emoji reaction to a chat message.
func (s *Service) React(messageID, emoji string) (*models.ChatMessage, error) {
	var msg *models.ChatMessage
	err := s.inst.Do(func(st *store.Store) error {
		var err error
		msg, err = st.AddReaction(messageID, emoji)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.inst.Hub().Broadcast(hub.Event{Type: hub.EventChat, Payload: msg})
	return msg, nil
}

// --- Tasks ---

// CreateTask creates a shared task and notifies subscribers.
func (s *Service) CreateTask(t models.Task) (*models.Task, error) {
	var task *models.Task
	err := s.inst.Do(func(st *store.Store) error {
		var err error
		task, err = st.CreateTask(t)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.inst.Hub().Broadcast(hub.Event{Type: hub.EventTaskUpdate, Payload: task})
	return task, nil
}

// GetTask retrieves a task, or nil when unknown.
func (s *Service) GetTask(id string) (*models.Task, error) {
	var task *models.Task
	err := s.inst.Do(func(st *store.Store) error {
		var err error
		task, err = st.GetTask(id)
		return err
	})
	return task, err
}

// ListTasks returns tasks filtered by status and assignee.
func (s *Service) ListTasks(status, assignee string) ([]models.Task, error) {
	var tasks []models.Task
	err := s.inst.Do(func(st *store.Store) error {
		var err error
		tasks, err = st.ListTasks(status, assignee)
		return err
	})
	return tasks, err
}

// UpdateTask merges a patch into a task and notifies subscribers. There is no
// enforced status machine; callers set status explicitly.
func (s *Service) UpdateTask(id string, patch models.Task) (*models.Task, error) {
	var task *models.Task
	err := s.inst.Do(func(st *store.Store) error {
		var err error
		task, err = st.UpdateTask(id, patch)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.inst.Hub().Broadcast(hub.Event{Type: hub.EventTaskUpdate, Payload: task})
	return task, nil
}

// --- Zones ---

// ClaimZone upserts a zone reservation keyed by zone id.
func (s *Service) ClaimZone(zoneID, path, owner, description string) (*models.Zone, error) {
	var zone *models.Zone
	err := s.inst.Do(func(st *store.Store) error {
		var err error
		zone, err = st.UpsertZone(zoneID, path, owner, description)
		return err
	})
	return zone, err
}

// ReleaseZone deletes a zone when zone id and owner match.
func (s *Service) ReleaseZone(zoneID, owner string) error {
	return s.inst.Do(func(st *store.Store) error {
		return st.ReleaseZone(zoneID, owner)
	})
}

// ListZones returns all zone reservations.
func (s *Service) ListZones() ([]models.Zone, error) {
	var zones []models.Zone
	err := s.inst.Do(func(st *store.Store) error {
		var err error
		zones, err = st.ListZones()
		return err
	})
	return zones, err
}

// CheckZone returns the zone containing the queried path, or nil.
func (s *Service) CheckZone(path string) (*models.Zone, error) {
	var zone *models.Zone
	err := s.inst.Do(func(st *store.Store) error {
		var err error
		zone, err = st.CheckZone(path)
		return err
	})
	return zone, err
}

// --- Claims ---

// Claim reserves a logical resource. On conflict the existing claim is
// returned alongside store.ErrClaimHeld so the caller can decide to back off
// or escalate; conflicts are never retried here.
func (s *Service) Claim(what, by, description string) (*models.Claim, *models.Claim, error) {
	var claim, existing *models.Claim
	err := s.inst.Do(func(st *store.Store) error {
		var err error
		claim, existing, err = st.UpsertClaim(what, by, description, s.cfg.ClaimStaleAfter)
		return err
	})
	return claim, existing, err
}

// ReleaseClaim deletes a claim on owner match.
func (s *Service) ReleaseClaim(what, by string) error {
	return s.inst.Do(func(st *store.Store) error {
		return st.ReleaseClaim(what, by)
	})
}

// ListClaims returns all claims with read-time stale flags.
func (s *Service) ListClaims() ([]models.Claim, error) {
	var claims []models.Claim
	err := s.inst.Do(func(st *store.Store) error {
		var err error
		claims, err = st.ListClaims(s.cfg.ClaimStaleAfter)
		return err
	})
	return claims, err
}

// --- Handoffs ---

// CreateHandoff records a new handoff; it always starts pending.
func (s *Service) CreateHandoff(h models.Handoff) (*models.Handoff, error) {
	var handoff *models.Handoff
	err := s.inst.Do(func(st *store.Store) error {
		var err error
		handoff, err = st.CreateHandoff(h)
		return err
	})
	return handoff, err
}

// ClaimHandoff accepts a pending handoff.
func (s *Service) ClaimHandoff(id, agentID string) (*models.Handoff, error) {
	var handoff *models.Handoff
	err := s.inst.Do(func(st *store.Store) error {
		var err error
		handoff, err = st.ClaimHandoff(id, agentID)
		return err
	})
	return handoff, err
}

// CompleteHandoff finishes a claimed handoff; only the claimer may complete.
func (s *Service) CompleteHandoff(id, agentID string) (*models.Handoff, error) {
	var handoff *models.Handoff
	err := s.inst.Do(func(st *store.Store) error {
		var err error
		handoff, err = st.CompleteHandoff(id, agentID)
		return err
	})
	return handoff, err
}

// ListHandoffs returns handoffs, optionally filtered by status.
func (s *Service) ListHandoffs(status string) ([]models.Handoff, error) {
	var handoffs []models.Handoff
	err := s.inst.Do(func(st *store.Store) error {
		var err error
		handoffs, err = st.ListHandoffs(status)
		return err
	})
	return handoffs, err
}

// --- Aggregates ---

// WorkBundle assembles the hot-start aggregate for a connecting agent.
func (s *Service) WorkBundle(agentID string) (*models.WorkBundle, error) {
	bundle := &models.WorkBundle{}
	err := s.inst.Do(func(st *store.Store) error {
		var err error
		if bundle.ActiveAgents, err = st.ListAgents(true); err != nil {
			return err
		}
		if bundle.TodoTasks, err = st.ListTasks(string(models.TaskStatusTodo), ""); err != nil {
			return err
		}
		if agentID != "" {
			if bundle.MyTasks, err = st.ListTasks(string(models.TaskStatusInProgress), agentID); err != nil {
				return err
			}
		}
		bundle.RecentChat, err = st.ListChat(20)
		return err
	})
	if err != nil {
		return nil, err
	}
	if bundle.ActiveAgents == nil {
		bundle.ActiveAgents = []models.Agent{}
	}
	if bundle.TodoTasks == nil {
		bundle.TodoTasks = []models.Task{}
	}
	if bundle.MyTasks == nil {
		bundle.MyTasks = []models.Task{}
	}
	if bundle.RecentChat == nil {
		bundle.RecentChat = []models.ChatMessage{}
	}
	return bundle, nil
}

// Snapshot is the full-state payload sent to a subscriber on (re)connect.
type Snapshot struct {
	Agents []models.Agent       `json:"agents"`
	Tasks  []models.Task        `json:"tasks"`
	Chat   []models.ChatMessage `json:"chat"`
	Claims []models.Claim       `json:"claims"`
	Zones  []models.Zone        `json:"zones"`
}

// Snapshot assembles the reconnect-resync payload.
func (s *Service) Snapshot() (*Snapshot, error) {
	snap := &Snapshot{}
	err := s.inst.Do(func(st *store.Store) error {
		var err error
		if snap.Agents, err = st.ListAgents(false); err != nil {
			return err
		}
		if snap.Tasks, err = st.ListTasks("", ""); err != nil {
			return err
		}
		if snap.Chat, err = st.ListChat(50); err != nil {
			return err
		}
		if snap.Claims, err = st.ListClaims(s.cfg.ClaimStaleAfter); err != nil {
			return err
		}
		snap.Zones, err = st.ListZones()
		return err
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}
