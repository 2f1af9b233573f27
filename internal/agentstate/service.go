// Package agentstate implements the per-agent state actor: checkpoint, inbox
// and private memory. An agent state actor only ever touches its own key's
// storage; there is no cross-agent visibility.
package agentstate

import (
	"github.com/hiveplane/hiveplane/internal/actor"
	"github.com/hiveplane/hiveplane/internal/config"
	"github.com/hiveplane/hiveplane/internal/hub"
	"github.com/hiveplane/hiveplane/internal/models"
	"github.com/hiveplane/hiveplane/internal/store"
	"go.uber.org/zap"
)

// Service provides agent state operations, resolving the target actor
// instance per call.
type Service struct {
	registry *actor.Registry
	cfg      config.Config
	logger   *zap.Logger
}

// NewService creates the agent state service.
func NewService(registry *actor.Registry, cfg config.Config, logger *zap.Logger) *Service {
	return &Service{registry: registry, cfg: cfg, logger: logger}
}

func (s *Service) instance(agentID string) (*actor.Instance, error) {
	return s.registry.Get(store.KindAgent, agentID)
}

// Hub returns the push channel for one agent's instance.
func (s *Service) Hub(agentID string) (*hub.Hub, error) {
	inst, err := s.instance(agentID)
	if err != nil {
		return nil, err
	}
	return inst.Hub(), nil
}

// SaveCheckpoint upserts the agent's single checkpoint row and notifies the
// agent's own subscribers.
func (s *Service) SaveCheckpoint(agentID string, cp models.Checkpoint) (*models.Checkpoint, error) {
	inst, err := s.instance(agentID)
	if err != nil {
		return nil, err
	}
	var saved *models.Checkpoint
	err = inst.Do(func(st *store.Store) error {
		var err error
		saved, err = st.SaveCheckpoint(cp)
		return err
	})
	if err != nil {
		return nil, err
	}
	inst.Hub().Broadcast(hub.Event{Type: hub.EventCheckpointSaved, Payload: saved})
	return saved, nil
}

// GetCheckpoint returns the agent's checkpoint, or nil when none exists.
func (s *Service) GetCheckpoint(agentID string) (*models.Checkpoint, error) {
	inst, err := s.instance(agentID)
	if err != nil {
		return nil, err
	}
	var cp *models.Checkpoint
	err = inst.Do(func(st *store.Store) error {
		var err error
		cp, err = st.GetCheckpoint()
		return err
	})
	return cp, err
}

// SendMessage appends a direct message to the agent's inbox and pushes it on
// the agent's realtime channel when connected.
func (s *Service) SendMessage(agentID, from string, msgType models.AuthorType, text string) (*models.InboxMessage, error) {
	inst, err := s.instance(agentID)
	if err != nil {
		return nil, err
	}
	var msg *models.InboxMessage
	err = inst.Do(func(st *store.Store) error {
		var err error
		msg, err = st.AddInboxMessage(from, msgType, text)
		return err
	})
	if err != nil {
		return nil, err
	}
	if inst.Hub().Connected(agentID) {
		inst.Hub().SendTo(agentID, hub.Event{Type: hub.EventMessage, Payload: msg})
	}
	return msg, nil
}

// ListMessages returns the inbox most recent first, capped at the read limit.
func (s *Service) ListMessages(agentID string, unreadOnly bool) ([]models.InboxMessage, error) {
	inst, err := s.instance(agentID)
	if err != nil {
		return nil, err
	}
	var msgs []models.InboxMessage
	err = inst.Do(func(st *store.Store) error {
		var err error
		msgs, err = st.ListInbox(s.cfg.InboxReadCap, unreadOnly)
		return err
	})
	return msgs, err
}

// MarkRead flips the read flag on the given message ids.
func (s *Service) MarkRead(agentID string, ids []string) (int, error) {
	inst, err := s.instance(agentID)
	if err != nil {
		return 0, err
	}
	var n int
	err = inst.Do(func(st *store.Store) error {
		var err error
		n, err = st.MarkRead(ids)
		return err
	})
	return n, err
}

// AddMemory appends a private memory snippet.
func (s *Service) AddMemory(agentID, category, content string, tags []string) (*models.MemoryItem, error) {
	inst, err := s.instance(agentID)
	if err != nil {
		return nil, err
	}
	var item *models.MemoryItem
	err = inst.Do(func(st *store.Store) error {
		var err error
		item, err = st.AddAgentMemory(category, content, tags)
		return err
	})
	return item, err
}

// QueryMemory filters memories by category and free-text query.
func (s *Service) QueryMemory(agentID, category, q string) ([]models.MemoryItem, error) {
	inst, err := s.instance(agentID)
	if err != nil {
		return nil, err
	}
	var items []models.MemoryItem
	err = inst.Do(func(st *store.Store) error {
		var err error
		items, err = st.QueryAgentMemory(category, q, s.cfg.MemoryQueryCap)
		return err
	})
	return items, err
}

// State assembles the per-agent aggregate.
func (s *Service) State(agentID string) (*models.AgentState, error) {
	inst, err := s.instance(agentID)
	if err != nil {
		return nil, err
	}
	state := &models.AgentState{AgentID: agentID}
	err = inst.Do(func(st *store.Store) error {
		var err error
		if state.Checkpoint, err = st.GetCheckpoint(); err != nil {
			return err
		}
		if state.UnreadCount, err = st.UnreadCount(); err != nil {
			return err
		}
		state.MemoryCount, err = st.CountAgentMemory()
		return err
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

// Snapshot is the full-state payload sent to an agent subscriber on connect.
type Snapshot struct {
	Checkpoint *models.Checkpoint    `json:"checkpoint,omitempty"`
	Inbox      []models.InboxMessage `json:"inbox"`
}

// Snapshot assembles the reconnect-resync payload for one agent.
func (s *Service) Snapshot(agentID string) (*Snapshot, error) {
	inst, err := s.instance(agentID)
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{}
	err = inst.Do(func(st *store.Store) error {
		var err error
		if snap.Checkpoint, err = st.GetCheckpoint(); err != nil {
			return err
		}
		snap.Inbox, err = st.ListInbox(s.cfg.InboxReadCap, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	if snap.Inbox == nil {
		snap.Inbox = []models.InboxMessage{}
	}
	return snap, nil
}
