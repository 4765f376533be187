// file: internal/realtime/events.go
// version: 2.1.0
// guid: 9e8d7f6a-5c4b-3a21-0f9e-8d7c6b5a4392

// Package realtime fans server events out to connected Server-Sent Events
// clients: background operation progress, session switches and cache
// invalidations.
package realtime

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jdfalk/exam-results/internal/metrics"
	"github.com/oklog/ulid/v2"
)

// EventType defines the type of real-time event
type EventType string

const (
	EventConnected         EventType = "connection.established"
	EventHeartbeat         EventType = "heartbeat"
	EventOperationProgress EventType = "operation.progress"
	EventOperationStatus   EventType = "operation.status"
	EventSessionSwitched   EventType = "session.switched"
	EventCacheCleared      EventType = "cache.cleared"
)

// DefaultHeartbeat is the idle interval between heartbeat events.
const DefaultHeartbeat = 15 * time.Second

// Event represents a real-time event to send to clients
type Event struct {
	Type      EventType      `json:"type"`
	ID        string         `json:"id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Client represents a connected SSE client
type Client struct {
	ID      string
	Channel chan *Event

	mu         sync.RWMutex
	operations map[string]bool
}

// NewClient creates a new SSE client
func NewClient(id string) *Client {
	return &Client{
		ID:         id,
		Channel:    make(chan *Event, 64),
		operations: make(map[string]bool),
	}
}

// Subscribe restricts the client's operation events to operationID and
// any other subscribed operation.
func (c *Client) Subscribe(operationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.operations[operationID] = true
}

// Unsubscribe unsubscribes the client from an operation
func (c *Client) Unsubscribe(operationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.operations, operationID)
}

// wants reports whether the client should receive event. Events without
// an ID go to everyone; operation events go to clients subscribed to that
// operation or to no operation at all.
func (c *Client) wants(event *Event) bool {
	if event.ID == "" {
		return true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.operations) == 0 || c.operations[event.ID]
}

// EventHub manages SSE connections and event distribution
type EventHub struct {
	mu        sync.RWMutex
	clients   map[string]*Client
	heartbeat time.Duration
}

// NewEventHub creates a hub. heartbeat <= 0 uses DefaultHeartbeat.
func NewEventHub(heartbeat time.Duration) *EventHub {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	return &EventHub{clients: make(map[string]*Client), heartbeat: heartbeat}
}

// RegisterClient registers a new client
func (h *EventHub) RegisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
	metrics.SetEventClients(len(h.clients))
	log.Printf("[DEBUG] event client %s registered, total clients: %d", client.ID, len(h.clients))
}

// UnregisterClient removes a client and closes its channel.
func (h *EventHub) UnregisterClient(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if client, exists := h.clients[clientID]; exists {
		close(client.Channel)
		delete(h.clients, clientID)
		metrics.SetEventClients(len(h.clients))
		log.Printf("[DEBUG] event client %s unregistered, remaining clients: %d", clientID, len(h.clients))
	}
}

// Broadcast sends an event to every interested client. Slow clients with
// a full buffer miss the event.
func (h *EventHub) Broadcast(event *Event) {
	if h == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if !client.wants(event) {
			continue
		}
		select {
		case client.Channel <- event:
		default:
			log.Printf("[WARN] event client %s channel full, dropping %s", client.ID, event.Type)
		}
	}
}

// SendOperationProgress sends an operation progress event
func (h *EventHub) SendOperationProgress(operationID string, current, total int, message string) {
	h.Broadcast(&Event{
		Type: EventOperationProgress,
		ID:   operationID,
		Data: map[string]any{
			"operation_id": operationID,
			"current":      current,
			"total":        total,
			"message":      message,
			"percentage":   calculatePercentage(current, total),
		},
	})
}

// SendOperationStatus sends an operation status change event
func (h *EventHub) SendOperationStatus(operationID, status string, details map[string]any) {
	h.Broadcast(&Event{
		Type: EventOperationStatus,
		ID:   operationID,
		Data: map[string]any{
			"operation_id": operationID,
			"status":       status,
			"details":      details,
		},
	})
}

// SendSessionSwitched announces a new current session.
func (h *EventHub) SendSessionSwitched(session string) {
	h.Broadcast(&Event{Type: EventSessionSwitched, Data: map[string]any{"session": session}})
}

// SendCacheCleared announces that the data of sessions was dropped.
func (h *EventHub) SendCacheCleared(sessions []string) {
	h.Broadcast(&Event{Type: EventCacheCleared, Data: map[string]any{"sessions": sessions}})
}

// Close disconnects every client. Streams end once their channel closes.
func (h *EventHub) Close() {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, client := range h.clients {
		close(client.Channel)
		delete(h.clients, id)
	}
	metrics.SetEventClients(0)
}

// ClientCount returns the number of connected clients
func (h *EventHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleSSE streams events until the client disconnects. The optional
// operation query parameter limits operation events to one operation.
func (h *EventHub) HandleSSE(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache, no-transform")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	client := NewClient(ulid.Make().String())
	if operationID := c.Query("operation"); operationID != "" {
		client.Subscribe(operationID)
	}

	h.RegisterClient(client)
	defer h.UnregisterClient(client.ID)

	if err := writeEvent(c, &Event{
		Type:      EventConnected,
		Timestamp: time.Now(),
		Data:      map[string]any{"client_id": client.ID},
	}); err != nil {
		return
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case event, ok := <-client.Channel:
			if !ok {
				return
			}
			if err := writeEvent(c, event); err != nil {
				log.Printf("[WARN] event client %s: %v", client.ID, err)
				return
			}
		case <-ticker.C:
			if err := writeEvent(c, &Event{Type: EventHeartbeat, Timestamp: time.Now()}); err != nil {
				return
			}
		}
	}
}

// writeEvent writes one event in SSE format: data: {json}\n\n
func writeEvent(c *gin.Context, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	c.Writer.Flush()
	return nil
}

// calculatePercentage calculates percentage with bounds checking
func calculatePercentage(current, total int) int {
	if total <= 0 {
		return 0
	}
	percentage := (current * 100) / total
	if percentage > 100 {
		return 100
	}
	return percentage
}
