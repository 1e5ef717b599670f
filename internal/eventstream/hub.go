// Package eventstream is the narrow, one-way interface the out-of-core
// visualization UI consumes (spec §1 "Out of scope": "The web
// visualization UI (read-only event stream consumer)"). The
// coordination core only ever writes to this hub; nothing reads back
// from it. Adapted from the teacher's internal/server/hub.go
// websocket client-registry loop, retyped onto Marcus's own Event
// envelope.
package eventstream

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// BroadcastBufferSize bounds how many pending broadcasts may queue
// before a slow client is dropped rather than blocking the hub.
const BroadcastBufferSize = 256

// EventType enumerates the coordinator state transitions the hub
// broadcasts.
type EventType string

const (
	EventAgentRegistered   EventType = "agent_registered"
	EventTaskAssigned      EventType = "task_assigned"
	EventProgressUpdated   EventType = "task_progress"
	EventTaskCompleted     EventType = "task_completed"
	EventBlockerReported   EventType = "task_blocked"
	EventHealthIssue       EventType = "health_issue"
	EventAssignmentOrphan  EventType = "assignment_orphaned"
	EventAgentConnected    EventType = "agent_connected"
	EventAgentDisconnected EventType = "agent_disconnected"
)

// Event is the envelope pushed to every connected visualization client.
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// client is a single connected visualization consumer.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub manages websocket clients and fans out broadcast events to them.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	broadcast  chan []byte
}

// NewHub creates a hub. Call Run in its own goroutine to start it.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, BroadcastBufferSize),
	}
}

// Run drives the hub's register/unregister/broadcast loop. Blocks
// until done is closed.
func (h *Hub) Run(done <-chan struct{}) {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					log.Printf("[EVENTSTREAM] client send buffer full, dropping client")
					close(c.send)
					delete(h.clients, c)
				}
			}
			h.mu.RUnlock()

		case <-done:
			return
		}
	}
}

// Publish marshals and broadcasts an event to every connected client.
// Never blocks the caller on a slow consumer — Run's select/default
// handles backpressure.
func (h *Hub) Publish(eventType EventType, payload interface{}) {
	data, err := json.Marshal(Event{Type: eventType, Timestamp: time.Now(), Payload: payload})
	if err != nil {
		log.Printf("[EVENTSTREAM] failed to marshal event %s: %v", eventType, err)
		return
	}
	select {
	case h.broadcast <- data:
	default:
		log.Printf("[EVENTSTREAM] broadcast channel full, dropping event %s", eventType)
	}
}

// HubEventSink adapts a Hub's typed Publish to the string-keyed
// EventSink interface the coordinator package depends on, so that
// package never needs to import eventstream directly.
type HubEventSink struct {
	Hub *Hub
}

// Publish satisfies coordinator.EventSink.
func (s HubEventSink) Publish(eventType string, payload interface{}) {
	s.Hub.Publish(EventType(eventType), payload)
}

// ServeWS upgrades an HTTP request to a websocket connection and
// registers the client with the hub. The visualization UI is the only
// expected caller of this endpoint.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[EVENTSTREAM] upgrade failed: %v", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, BroadcastBufferSize)}
	h.register <- c

	go h.writePump(c)
	go h.readPump(c)
}

// readPump discards inbound messages (the stream is read-only for
// consumers) but is required to detect client disconnects.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
