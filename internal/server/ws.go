package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hiveplane/hiveplane/internal/hub"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	// pongWait bounds how long a silent peer stays subscribed.
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second
	writeWait  = 10 * time.Second
)

// readLoop drains inbound frames until the peer goes away. Inbound data
// frames are not part of the protocol; the loop exists to observe close and
// to enforce ping/pong liveness. Pings go out via WriteControl, which is safe
// alongside the hub's writes.
func (s *Server) readLoop(conn *websocket.Conn) {
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}
	}
}

// handleCoordinatorWS handles GET /ws/coordinator?agentId=. The subscriber
// receives a full snapshot on connect and incremental events thereafter; on
// disconnect the agent is flipped offline.
func (s *Server) handleCoordinatorWS(w http.ResponseWriter, r *http.Request) {
	agentID := r.URL.Query().Get("agentId")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	snap, err := s.coord.Snapshot()
	if err != nil {
		s.logger.Warn("coordinator snapshot failed", zap.Error(err))
		return
	}
	if err := conn.WriteJSON(hub.Event{Type: hub.EventSnapshot, Payload: snap}); err != nil {
		return
	}

	h := s.coord.Hub()
	h.Subscribe(conn, agentID)
	defer func() {
		h.Unsubscribe(conn)
		if agentID != "" {
			if err := s.coord.Disconnect(agentID); err != nil {
				s.logger.Warn("disconnect update failed",
					zap.String("agent", agentID), zap.Error(err))
			}
		}
	}()

	s.readLoop(conn)
}

// handleAgentWS handles GET /ws/agent/{id}: the agent's private push channel
// for checkpoint and inbox events.
func (s *Server) handleAgentWS(w http.ResponseWriter, r *http.Request) {
	agentID, _ := pathSegment(r.URL.EscapedPath(), "/ws/agent")
	if agentID == "" {
		writeError(w, http.StatusBadRequest, "agent id required")
		return
	}

	agentHub, err := s.agents.Hub(agentID)
	if err != nil {
		serviceError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	snap, err := s.agents.Snapshot(agentID)
	if err != nil {
		s.logger.Warn("agent snapshot failed", zap.String("agent", agentID), zap.Error(err))
		return
	}
	if err := conn.WriteJSON(hub.Event{Type: hub.EventSnapshot, Payload: snap}); err != nil {
		return
	}

	agentHub.Subscribe(conn, agentID)
	defer agentHub.Unsubscribe(conn)

	s.readLoop(conn)
}
