// Package sse streams notifications to connected dashboards over
// Server-Sent Events.
package sse

import (
	"encoding/json"
	"sync"

	"crm_suite_backend/platform/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Event is one SSE payload.
type Event struct {
	Type     string      `json:"type"`
	TenantID uuid.UUID   `json:"tenantId"`
	Data     interface{} `json:"data,omitempty"`
}

type client struct {
	tenantID uuid.UUID
	events   chan Event
}

// Service manages SSE connections and per-tenant broadcasting.
type Service struct {
	mu      sync.RWMutex
	clients map[uuid.UUID][]*client
	log     *logger.Logger
}

func New(log *logger.Logger) *Service {
	return &Service{
		clients: make(map[uuid.UUID][]*client),
		log:     log,
	}
}

func (s *Service) addClient(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c.tenantID] = append(s.clients[c.tenantID], c)
}

func (s *Service) removeClient(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()

	clients := s.clients[c.tenantID]
	for i, cl := range clients {
		if cl == c {
			s.clients[c.tenantID] = append(clients[:i], clients[i+1:]...)
			// Only close if this call removed the client; Close() closes
			// whatever is still registered.
			close(c.events)
			break
		}
	}
	if len(s.clients[c.tenantID]) == 0 {
		delete(s.clients, c.tenantID)
	}
}

// PublishToTenant broadcasts an event to every connection of the tenant.
// Slow consumers are skipped, never blocked on.
func (s *Service) PublishToTenant(tenantID uuid.UUID, event Event) {
	// Sends are non-blocking, so holding the read lock through the loop is
	// cheap and prevents a send racing a concurrent close.
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.clients[tenantID] {
		select {
		case c.events <- event:
		default:
			s.log.Warn("sse_buffer_full", "tenant_id", tenantID.String())
		}
	}
}

// Handler returns a Gin handler that holds the connection open and relays
// tenant events.
func (s *Service) Handler(getTenantID func(*gin.Context) (uuid.UUID, bool)) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID, ok := getTenantID(c)
		if !ok {
			c.AbortWithStatus(401)
			return
		}

		c.Writer.Header().Set("Content-Type", "text/event-stream")
		c.Writer.Header().Set("Cache-Control", "no-cache")
		c.Writer.Header().Set("Connection", "keep-alive")
		c.Writer.Header().Set("X-Accel-Buffering", "no")

		cl := &client{
			tenantID: tenantID,
			events:   make(chan Event, 32),
		}
		s.addClient(cl)
		defer s.removeClient(cl)

		c.SSEvent("connected", gin.H{"tenantId": tenantID})
		c.Writer.Flush()

		clientGone := c.Request.Context().Done()
		for {
			select {
			case <-clientGone:
				return
			case event, ok := <-cl.events:
				if !ok {
					return
				}
				data, _ := json.Marshal(event)
				c.SSEvent(event.Type, string(data))
				c.Writer.Flush()
			}
		}
	}
}

// Close drops every connection.
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
