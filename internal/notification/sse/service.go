// Package sse provides Server-Sent Events support for dashboard sessions.
package sse

import (
	"encoding/json"
	"net/http"
	"sync"

	"relief_portal_backend/platform/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// EventType represents different types of SSE events
type EventType string

const (
	EventClustersUpdated EventType = "clusters_updated"
	EventCameraFlyTo     EventType = "camera_fly_to"
	EventPopupOpened     EventType = "popup_opened"
	EventPopupTimeout    EventType = "popup_timeout"
	EventNavigate        EventType = "navigate"
	EventSessionClosed   EventType = "session_closed"
)

const clientBuffer = 32

// Event represents an SSE event payload
type Event struct {
	Type      EventType   `json:"type"`
	SessionID uuid.UUID   `json:"sessionId"`
	Message   string      `json:"message,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

// client represents a connected SSE client
type client struct {
	sessionID uuid.UUID
	events    chan Event
}

// Service manages SSE connections and per-session event delivery
type Service struct {
	mu      sync.RWMutex
	clients map[uuid.UUID][]*client // sessionID -> clients
	log     *logger.Logger
}

// New creates a new SSE service
func New(log *logger.Logger) *Service {
	return &Service{
		clients: make(map[uuid.UUID][]*client),
		log:     log,
	}
}

// addClient registers a new client connection
func (s *Service) addClient(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clients[c.sessionID] = append(s.clients[c.sessionID], c)
}

// removeClient unregisters a client connection. It is a no-op for a client
// already dropped by CloseSession or Close.
func (s *Service) removeClient(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()

	clients := s.clients[c.sessionID]
	for i, cl := range clients {
		if cl == c {
			s.clients[c.sessionID] = append(clients[:i], clients[i+1:]...)
			if len(s.clients[c.sessionID]) == 0 {
				delete(s.clients, c.sessionID)
			}
			close(c.events)
			return
		}
	}
}

// Publish sends an event to every stream attached to a session. Slow
// clients lose events rather than block the publisher.
func (s *Service) Publish(sessionID uuid.UUID, event Event) {
	event.SessionID = sessionID

	s.mu.RLock()
	defer s.mu.RUnlock()

	clients := s.clients[sessionID]
	for _, c := range clients {
		select {
		case c.events <- event:
		default:
			s.log.Warn("sse event buffer full", "session_id", sessionID, "type", event.Type)
		}
	}

	s.log.Debug("sse event published", "session_id", sessionID, "type", event.Type, "clients", len(clients))
}

// Clients returns the number of streams attached to a session.
func (s *Service) Clients(sessionID uuid.UUID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients[sessionID])
}

// CloseSession ends every stream attached to a session.
func (s *Service) CloseSession(sessionID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.clients[sessionID] {
		close(c.events)
	}
	delete(s.clients, sessionID)
}

// Handler returns a Gin handler for SSE connections. exists reports whether
// the session named by the request may be streamed.
func (s *Service) Handler(getSessionID func(*gin.Context) (uuid.UUID, bool), exists func(uuid.UUID) bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID, ok := getSessionID(c)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
			return
		}
		if !exists(sessionID) {
			c.JSON(http.StatusGone, gin.H{"error": "session closed"})
			return
		}

		cl := &client{
			sessionID: sessionID,
			events:    make(chan Event, clientBuffer),
		}
		s.addClient(cl)
		defer s.removeClient(cl)

		// A close that landed before addClient never saw this stream.
		if !exists(sessionID) {
			c.JSON(http.StatusGone, gin.H{"error": "session closed"})
			return
		}

		// Set SSE headers
		c.Writer.Header().Set("Content-Type", "text/event-stream")
		c.Writer.Header().Set("Cache-Control", "no-cache")
		c.Writer.Header().Set("Connection", "keep-alive")
		c.Writer.Header().Set("X-Accel-Buffering", "no")

		c.SSEvent("connected", gin.H{"sessionId": sessionID})
		c.Writer.Flush()

		s.log.Info("sse client connected", "session_id", sessionID)

		clientGone := c.Request.Context().Done()
		for {
			select {
			case <-clientGone:
				s.log.Info("sse client disconnected", "session_id", sessionID)
				return
			case event, ok := <-cl.events:
				if !ok {
					return
				}
				data, _ := json.Marshal(event)
				c.SSEvent(string(event.Type), string(data))
				c.Writer.Flush()
			}
		}
	}
}

// Close shuts down the SSE service
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, clients := range s.clients {
		for _, c := range clients {
			close(c.events)
		}
	}
	s.clients = make(map[uuid.UUID][]*client)
}
