package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"
)

// Message is a real-time notification pushed to connected clients.
type Message struct {
	Type   string         `json:"type"`
	Entity string         `json:"entity"`
	Action string         `json:"action"`
	ID     int64          `json:"id,omitempty"`
	Extra  map[string]any `json:"extra,omitempty"`
}

// NewMessage creates a Message with the Type field derived from entity and action.
func NewMessage(entity, action string, id int64, extra map[string]any) Message {
	return Message{
		Type:   fmt.Sprintf("%s_%s", entity, action),
		Entity: entity,
		Action: action,
		ID:     id,
		Extra:  extra,
	}
}

// Hub tracks connected clients by session and team.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	logger  *slog.Logger
}

// NewHub creates a new Hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		logger:  logger,
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

// Unregister removes a client from the hub and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

func (h *Hub) marshal(msg Message) ([]byte, bool) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal message", "type", msg.Type, "error", err)
		return nil, false
	}
	return data, true
}

// send delivers data to every client matching match. Slow clients miss the
// message rather than block the hub.
func (h *Hub) send(data []byte, match func(*Client) bool) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for c := range h.clients {
		if !match(c) {
			continue
		}
		select {
		case c.send <- data:
			n++
		default:
			h.logger.Debug("client buffer full, dropping message", "session_id", c.sessionID)
		}
	}
	return n
}

// Broadcast sends a message to all connected clients.
func (h *Hub) Broadcast(msg Message) {
	if data, ok := h.marshal(msg); ok {
		h.send(data, func(*Client) bool { return true })
	}
}

// BroadcastTeam sends a message to clients whose user belonged to teamID
// when they connected.
func (h *Hub) BroadcastTeam(teamID int64, msg Message) {
	if data, ok := h.marshal(msg); ok {
		h.send(data, func(c *Client) bool { return slices.Contains(c.teamIDs, teamID) })
	}
}

// CloseSession pushes a session_revoked message to every client of the
// session and disconnects them.
func (h *Hub) CloseSession(sessionID int64) {
	data, ok := h.marshal(NewMessage("session", "revoked", sessionID, nil))
	if !ok {
		return
	}

	h.mu.Lock()
	var revoked []*Client
	for c := range h.clients {
		if c.sessionID == sessionID {
			delete(h.clients, c)
			revoked = append(revoked, c)
		}
	}
	h.mu.Unlock()

	for _, c := range revoked {
		c.revoke(data)
	}
	if len(revoked) > 0 {
		h.logger.Info("closed revoked session connections", "session_id", sessionID, "clients", len(revoked))
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
