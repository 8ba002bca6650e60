package editor

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"collabtext/internal/auth"
	"collabtext/internal/presence"
	"collabtext/internal/store"
)

// ServiceConfig holds the editor service configuration.
type ServiceConfig struct {
	Authority      AuthorityConfig
	CursorCoalesce time.Duration
}

// Service wires the hub, the document registry and the presence registry
// behind the websocket endpoint.
type Service struct {
	hub      *Hub
	registry *Registry
	presence presence.Registry
	tokens   *auth.TokenService
	upgrader websocket.Upgrader

	cursorCoalesce time.Duration
}

// NewService creates the editor service.
func NewService(cfg ServiceConfig, st store.DocumentStore, pres presence.Registry, tokens *auth.TokenService) *Service {
	if cfg.CursorCoalesce <= 0 {
		cfg.CursorCoalesce = 50 * time.Millisecond
	}

	registry := NewRegistry(st, cfg.Authority)

	s := &Service{
		registry: registry,
		presence: pres,
		tokens:   tokens,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// TODO: Implement proper CORS check in production
				return true
			},
		},
		cursorCoalesce: cfg.CursorCoalesce,
	}
	s.hub = NewHub()
	return s
}

// Start runs the hub loop.
func (s *Service) Start() {
	log.Println("Starting editor service...")
	go s.hub.Run()
}

// Shutdown closes all sessions and flushes dirty documents.
func (s *Service) Shutdown() {
	log.Println("Shutting down editor service...")
	s.hub.Shutdown()
	s.registry.Close()
	log.Println("Editor service shut down complete")
}

// Registry exposes the document registry to the HTTP surface.
func (s *Service) Registry() *Registry {
	return s.registry
}

// Presence exposes the presence registry to the HTTP surface.
func (s *Service) Presence() presence.Registry {
	return s.presence
}

// Stats exposes hub membership to the HTTP surface.
func (s *Service) Stats() Stats {
	return s.hub.Stats()
}

// HandleWebSocket upgrades a connection, verifies the bearer token from
// the token query parameter and starts the session pumps. Verification
// failure closes the connection with a policy-violation reason instead of
// an application ERROR frame.
func (s *Service) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	userID, err := s.tokens.Verify(token)
	if err != nil {
		reason := "auth invalid"
		if token == "" {
			reason = "auth required"
		}
		log.Printf("[SESSION] rejecting connection: %s", reason)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}

	session := newSession(s.hub, s, conn, userID)
	s.hub.register <- session
	activeConnections.Inc()

	go session.writePump()
	go session.readPump()

	log.Printf("[SESSION] %s connected (user %s)", session.id, userID)
}
