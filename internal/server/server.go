// Package server provides the HTTP and WebSocket API for Hiveplane. Routing
// resolves each request to its owning actor before any state is touched:
// coordinator routes to the singleton, agent routes to the id's instance, and
// lock routes to the URL-decoded resource path's instance.
package server

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hiveplane/hiveplane/internal/agentstate"
	"github.com/hiveplane/hiveplane/internal/coordinator"
	"github.com/hiveplane/hiveplane/internal/lifecycle"
	"github.com/hiveplane/hiveplane/internal/reslock"
	"go.uber.org/zap"
)

// Server provides the HTTP API for Hiveplane.
type Server struct {
	coord  *coordinator.Service
	agents *agentstate.Service
	locks  *reslock.Service
	souls  *lifecycle.Service
	logger *zap.Logger
	addr   string
	server *http.Server
}

// NewServer creates a new HTTP server over the four actor services.
func NewServer(coord *coordinator.Service, agents *agentstate.Service, locks *reslock.Service, souls *lifecycle.Service, logger *zap.Logger, addr string) *Server {
	return &Server{
		coord:  coord,
		agents: agents,
		locks:  locks,
		souls:  souls,
		logger: logger,
		addr:   addr,
	}
}

// Handler builds the route table. Exposed separately so tests can drive the
// mux through httptest without binding a port.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Coordinator endpoints
	mux.HandleFunc("/api/coordinator/agents", s.handleAgents)
	mux.HandleFunc("/api/coordinator/chat", s.handleChat)
	mux.HandleFunc("/api/coordinator/chat/", s.handleChatByID)
	mux.HandleFunc("/api/coordinator/tasks", s.handleTasks)
	mux.HandleFunc("/api/coordinator/tasks/", s.handleTaskByID)
	mux.HandleFunc("/api/coordinator/zones", s.handleZones)
	mux.HandleFunc("/api/coordinator/zones/check", s.handleZoneCheck)
	mux.HandleFunc("/api/coordinator/claims", s.handleClaims)
	mux.HandleFunc("/api/coordinator/handoffs", s.handleHandoffs)
	mux.HandleFunc("/api/coordinator/handoffs/", s.handleHandoffByID)
	mux.HandleFunc("/api/coordinator/work", s.handleWork)

	// Agent state endpoints
	mux.HandleFunc("/api/agent/", s.handleAgentByID)

	// Resource lock endpoints
	mux.HandleFunc("/api/lock/", s.handleLockByPath)

	// Soul/body lifecycle endpoints
	mux.HandleFunc("/api/souls", s.handleSouls)
	mux.HandleFunc("/api/souls/", s.handleSoulByID)
	mux.HandleFunc("/api/bodies", s.handleBodies)
	mux.HandleFunc("/api/bodies/", s.handleBodyByID)
	mux.HandleFunc("/api/transfers", s.handleTransfers)
	mux.HandleFunc("/api/transfers/", s.handleTransferByID)
	mux.HandleFunc("/api/dashboard", s.handleDashboard)

	// Push channels
	mux.HandleFunc("/ws/coordinator", s.handleCoordinatorWS)
	mux.HandleFunc("/ws/agent/", s.handleAgentWS)

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	return s.withMiddleware(mux)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:        s.addr,
		Handler:     s.Handler(),
		ReadTimeout: 10 * time.Second,
		// No WriteTimeout: websocket connections are long-lived.
	}

	s.logger.Info("starting hiveplane daemon", zap.String("addr", s.addr))
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// withMiddleware wraps the mux with panic recovery, CORS and request logging.
func (s *Server) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("handler panic",
					zap.String("path", r.URL.Path),
					zap.Any("panic", rec))
				writeError(w, http.StatusInternalServerError, "internal error")
			}
		}()

		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("took", time.Since(start)))
	})
}

// pathSegment splits the remainder of an URL after prefix into the first
// segment and the rest. The segment is URL-decoded, so lock resource paths
// travel as one escaped segment.
func pathSegment(urlPath, prefix string) (segment, rest string) {
	trimmed := strings.TrimPrefix(urlPath, prefix)
	trimmed = strings.TrimPrefix(trimmed, "/")
	if i := strings.Index(trimmed, "/"); i >= 0 {
		segment, rest = trimmed[:i], trimmed[i+1:]
	} else {
		segment = trimmed
	}
	if decoded, err := url.PathUnescape(segment); err == nil {
		segment = decoded
	}
	return segment, rest
}
