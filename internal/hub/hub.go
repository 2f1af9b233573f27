// Package hub implements the per-actor realtime fan-out: a registry of live
// push connections that receive a full snapshot on connect and incremental
// events thereafter.
package hub

import (
	"sync"

	"go.uber.org/zap"
)

// Event is one push-channel message.
type Event struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Event types pushed to subscribers.
const (
	EventSnapshot        = "snapshot"
	EventAgentUpdate     = "agent-update"
	EventChat            = "chat"
	EventTaskUpdate      = "task-update"
	EventCheckpointSaved = "checkpoint-saved"
	EventMessage         = "message"
)

// Sink is where events for one subscriber are written. *websocket.Conn
// satisfies it.
type Sink interface {
	WriteJSON(v interface{}) error
}

// Hub is the connection registry for one actor instance. It is mutated only
// by its owning actor's connect/disconnect/broadcast calls.
type Hub struct {
	logger *zap.Logger

	mu   sync.Mutex
	subs map[Sink]string // sink -> subscriber id
}

// New creates an empty hub.
func New(logger *zap.Logger) *Hub {
	return &Hub{
		logger: logger,
		subs:   make(map[Sink]string),
	}
}

// Subscribe registers a connection under a subscriber id. The id identifies
// the sender so chat fan-out can exclude it.
func (h *Hub) Subscribe(sink Sink, id string) {
	h.mu.Lock()
	h.subs[sink] = id
	h.mu.Unlock()
	h.logger.Debug("subscriber connected", zap.String("id", id))
}

// Unsubscribe removes a connection.
func (h *Hub) Unsubscribe(sink Sink) {
	h.mu.Lock()
	id, ok := h.subs[sink]
	delete(h.subs, sink)
	h.mu.Unlock()
	if ok {
		h.logger.Debug("subscriber disconnected", zap.String("id", id))
	}
}

// Connected reports whether any connection is subscribed under id.
func (h *Hub) Connected(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, subID := range h.subs {
		if subID == id {
			return true
		}
	}
	return false
}

// Count returns the number of live subscribers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Broadcast pushes an event to every subscriber. Failed sinks are dropped.
func (h *Hub) Broadcast(event Event) {
	h.BroadcastExcept("", event)
}

// BroadcastExcept pushes an event to every subscriber not registered under
// exceptID. Failed sinks are dropped from the registry.
func (h *Hub) BroadcastExcept(exceptID string, event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sink, id := range h.subs {
		if exceptID != "" && id == exceptID {
			continue
		}
		if err := sink.WriteJSON(event); err != nil {
			h.logger.Debug("dropping subscriber after write error",
				zap.String("id", id), zap.Error(err))
			delete(h.subs, sink)
		}
	}
}

// SendTo pushes an event to the subscribers registered under id and reports
// whether at least one delivery succeeded.
func (h *Hub) SendTo(id string, event Event) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	delivered := false
	for sink, subID := range h.subs {
		if subID != id {
			continue
		}
		if err := sink.WriteJSON(event); err != nil {
			h.logger.Debug("dropping subscriber after write error",
				zap.String("id", id), zap.Error(err))
			delete(h.subs, sink)
			continue
		}
		delivered = true
	}
	return delivered
}
