package ws

import (
	"encoding/json"
	"sync"
	"time"

	"qafala_backend/internal/logger"

	"github.com/google/uuid"
)

// Hub fans committed stock changes out to connected clients. A client
// that cannot keep up is dropped rather than blocking the purchase path.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	now     func() time.Time
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	logger.Debug("ws client registered", "user_id", c.UserID, "clients", n)
}

func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		c.closeSend()
	}
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// StockChanged publishes the remaining stock of one drop item.
func (h *Hub) StockChanged(dropID, itemID uuid.UUID, stock int64) {
	msg, err := json.Marshal(Message{
		Type: MsgStock,
		Data: StockPayload{DropID: dropID, ItemID: itemID, Stock: stock, At: h.now()},
	})
	if err != nil {
		logger.Error("ws marshal stock update", "error", err)
		return
	}

	var slow []*Client
	h.mu.RLock()
	for c := range h.clients {
		if !c.wants(dropID) {
			continue
		}
		if !c.trySend(msg) {
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		logger.Warn("ws client too slow, dropping", "user_id", c.UserID)
		h.Unregister(c)
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*Client]struct{})
	h.mu.Unlock()
	for c := range clients {
		c.closeSend()
	}
}
