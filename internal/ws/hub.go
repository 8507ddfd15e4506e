package ws

import (
	"encoding/json"
	"log"
	"sync"
)

// Hub tracks which live connections are subscribed to which rooms. Rooms
// come into existence with their first subscriber and vanish with the last;
// they are identifiers, not entities.
type Hub struct {
	mu       sync.RWMutex
	rooms    map[string]map[*Client]bool
	byClient map[*Client]map[string]bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		rooms:    make(map[string]map[*Client]bool),
		byClient: make(map[*Client]map[string]bool),
	}
}

// Join subscribes a client to a room. Rejoining an already-subscribed room
// is a no-op.
func (h *Hub) Join(roomID string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[roomID]; !ok {
		h.rooms[roomID] = make(map[*Client]bool)
	}
	h.rooms[roomID][c] = true
	if _, ok := h.byClient[c]; !ok {
		h.byClient[c] = make(map[string]bool)
	}
	h.byClient[c][roomID] = true
}

// Leave unsubscribes a client from a single room.
func (h *Hub) Leave(roomID string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(roomID, c)
}

// RemoveClient drops every subscription held by the client in one step.
// Called once on disconnect; rooms are not left one by one.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for roomID := range h.byClient[c] {
		h.removeLocked(roomID, c)
	}
	delete(h.byClient, c)
}

// IsSubscribed reports whether the client currently belongs to the room.
func (h *Hub) IsSubscribed(roomID string, c *Client) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.byClient[c][roomID]
}

// Broadcast fans an event out to every connection subscribed to the room,
// the originator's own connections included.
func (h *Hub) Broadcast(roomID string, event ServerEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("marshal %s event: %v", event.Event, err)
		return
	}

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.rooms[roomID]))
	for c := range h.rooms[roomID] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.queue(payload)
	}
}

func (h *Hub) removeLocked(roomID string, c *Client) {
	if conns, ok := h.rooms[roomID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.rooms, roomID)
		}
	}
	if rooms, ok := h.byClient[c]; ok {
		delete(rooms, roomID)
	}
}
