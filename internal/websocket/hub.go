package websocket

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"cleancity-backend/internal/models"
	"cleancity-backend/internal/notify"
)

// Hub maintains active WebSocket connections and pushes notifications to them
type Hub struct {
	// Registered clients (userID -> Client)
	clients map[string]*Client

	// Outbound messages for a single user
	broadcast chan *Message

	register   chan *Client
	unregister chan *Client

	done chan struct{}

	// throttles collector positions relayed to admins
	locations *LocationFilter

	mu sync.RWMutex
}

var _ notify.Sink = (*Hub)(nil)

// Message represents a message to send to a specific user
type Message struct {
	UserID string
	Data   interface{}
}

// Event is the envelope every server-pushed frame uses
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// NewHub creates a new Hub instance
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		broadcast:  make(chan *Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		locations:  NewLocationFilter(),
	}
}

// Run starts the hub's main loop and returns when ctx is done
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for id, client := range h.clients {
				close(client.send)
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			if old, ok := h.clients[client.UserID]; ok {
				// a new connection replaces the old one
				close(old.send)
			}
			h.clients[client.UserID] = client
			total := len(h.clients)
			h.mu.Unlock()
			log.Printf("✅ [WEBSOCKET] Client connected: %s (%s), %d total", client.UserID, client.UserRole, total)

		case client := <-h.unregister:
			h.mu.Lock()
			if current, ok := h.clients[client.UserID]; ok && current == client {
				delete(h.clients, client.UserID)
				close(client.send)
				h.locations.Forget(client.UserID)
				log.Printf("🔴 [WEBSOCKET] Client disconnected: %s, %d remaining", client.UserID, len(h.clients))
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			data, err := json.Marshal(message.Data)
			if err != nil {
				log.Printf("❌ Failed to marshal message: %v", err)
				continue
			}

			h.mu.Lock()
			if client, ok := h.clients[message.UserID]; ok {
				select {
				case client.send <- data:
				default:
					close(client.send)
					delete(h.clients, client.UserID)
					log.Printf("⚠️  Client buffer full, disconnecting: %s", message.UserID)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Done is closed once Run has returned
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// BroadcastToUser queues a message for a specific user. It never blocks; a
// full queue drops the message.
func (h *Hub) BroadcastToUser(userID string, data interface{}) {
	select {
	case h.broadcast <- &Message{UserID: userID, Data: data}:
	default:
		log.Printf("⚠️  WebSocket queue full, dropping message for %s", userID)
	}
}

// BroadcastToRole sends a message to all users with a specific role
func (h *Hub) BroadcastToRole(role string, data interface{}) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		log.Printf("❌ Failed to marshal broadcast message: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if client.UserRole != role {
			continue
		}
		select {
		case client.send <- dataBytes:
		default:
		}
	}
}

// Deliver pushes a stored notification to the recipient if connected
func (h *Hub) Deliver(ctx context.Context, n *models.Notification) error {
	if !h.IsUserConnected(n.RecipientID) {
		return nil
	}
	h.BroadcastToUser(n.RecipientID, Event{Type: "notification", Data: n})
	return nil
}

// GetClientCount returns the number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// IsUserConnected checks if a user is currently connected
func (h *Hub) IsUserConnected(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[userID]
	return ok
}
