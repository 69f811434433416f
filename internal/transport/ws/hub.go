package ws

import (
	"sync"

	"go.uber.org/zap"
)

// Hub tracks live connections and resolves authenticated users to their
// device connection, which is what signaling relay needs.
type Hub struct {
	log *zap.Logger

	mu     sync.RWMutex
	conns  map[*Client]struct{}
	byUser map[string]*Client
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		log:    log,
		conns:  make(map[*Client]struct{}),
		byUser: make(map[string]*Client),
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.conns[c] = struct{}{}
	total := len(h.conns)
	h.mu.Unlock()
	h.log.Debug("connection opened", zap.String("addr", c.addr), zap.Int("total", total))
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	delete(h.conns, c)
	if id := c.UserID(); id != "" && h.byUser[id] == c {
		delete(h.byUser, id)
	}
	total := len(h.conns)
	h.mu.Unlock()
	c.close()
	h.log.Debug("connection closed", zap.String("addr", c.addr), zap.Int("total", total))
}

// bind points the user id at this connection. A newer login replaces an
// older device silently.
func (h *Hub) bind(c *Client, userID string) {
	h.mu.Lock()
	h.byUser[userID] = c
	h.mu.Unlock()
	h.log.Debug("user bound", zap.String("userId", userID), zap.String("addr", c.addr))
}

// ByUser returns the connection a user is currently reachable on, or nil.
func (h *Hub) ByUser(userID string) *Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.byUser[userID]
}

// Devices returns every authenticated device connection.
func (h *Hub) Devices() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Client, 0, len(h.byUser))
	for _, c := range h.byUser {
		out = append(out, c)
	}
	return out
}

func (h *Hub) Online() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser)
}
